package firmware

import "io"

// loopEnd is one side of an in-process serial link.
type loopEnd struct {
	r *io.PipeReader
	w *io.PipeWriter
}

func (e *loopEnd) Read(p []byte) (int, error)  { return e.r.Read(p) }
func (e *loopEnd) Write(p []byte) (int, error) { return e.w.Write(p) }

func (e *loopEnd) Close() error {
	e.r.Close()
	return e.w.Close()
}

// NewLoopback builds an in-process serial link: the host end satisfies the
// mux's port contract, the device end feeds a Controller. Dev mode and tests
// run the full stack over it with no hardware attached.
func NewLoopback() (host, device io.ReadWriteCloser) {
	hostR, devW := io.Pipe() // device telemetry → host
	devR, hostW := io.Pipe() // host commands → device
	return &loopEnd{r: hostR, w: hostW}, &loopEnd{r: devR, w: devW}
}
