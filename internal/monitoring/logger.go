// Package monitoring holds the process-wide logger and the Prometheus metrics
// for the correlation pipeline and its sinks.
package monitoring

import "log"

// Logf is the diagnostic logger. Lines are prefixed by the caller with the
// package name, e.g. "pipeline: run %s started".
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces Logf. nil discards all output.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		f = func(string, ...interface{}) {}
	}
	Logf = f
}
