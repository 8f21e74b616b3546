// Package monitoring provides the process-wide diagnostic logger shared by
// the host pipeline and the firmware simulation.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

var verbose bool

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetVerbose toggles debug-level output. Off by default.
func SetVerbose(v bool) {
	verbose = v
}

// Debugf logs through Logf only when verbose mode is on. Used for per-line
// wire traffic and other chatter too noisy for normal runs.
func Debugf(format string, v ...interface{}) {
	if verbose {
		Logf(format, v...)
	}
}

// Scope returns a logf bound to a subsystem prefix, so every line reads
// "<name>: ...". The returned function follows logger replacement via
// SetLogger.
func Scope(name string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf(name+": "+format, v...)
	}
}
