// Command sim-device speaks the instrument line protocol on stdin/stdout,
// backed by a simulated electrochemical cell. Point any host at it (via a
// pty or socat pair) to exercise the full command set without hardware.
package main

import (
	"context"
	"flag"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/potentiostat/internal/firmware"
)

var (
	seed       = flag.Int64("seed", 1, "Random seed for the simulated cell")
	cellOhms   = flag.Float64("cell-ohms", 100_000, "Resistance of the modelled cell")
	noiseCodes = flag.Float64("noise", 3, "Gaussian noise σ in raw codes")
	failEvery  = flag.Int("fail-every", 0, "Inject a transducer fault every Nth sample (0 disables)")
	skipCount  = flag.Int("skip", 50, "Leading cycle-0 samples suppressed as transient")
)

// stdio adapts stdin/stdout into the single stream the controller expects.
type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func main() {
	flag.Parse()

	cell := firmware.NewSimCell(*seed)
	cell.CellOhms = *cellOhms
	cell.NoiseCodes = *noiseCodes
	cell.FailEvery = *failEvery

	controller := firmware.New(stdio{}, cell, cell, firmware.Config{
		InitialSkipCount: *skipCount,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.SetOutput(os.Stderr)
	log.Printf("simulated device ready (cell=%.0fΩ seed=%d)", *cellOhms, *seed)

	if err := controller.Run(ctx); err != nil && err != context.Canceled && err != io.EOF {
		log.Fatalf("device loop terminated: %v", err)
	}
}
