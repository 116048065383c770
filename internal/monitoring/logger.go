// Package monitoring holds the diagnostic logger shared by the self-calibration
// packages. Every component logs through Logf with a bracketed tag such as
// "[selfcal]" or "[casa]" so that a whole pipeline run reads as one stream.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// DebugLogger forwards Debugf calls to Logf when Verbose is set. It satisfies
// the command.Logger interface so executors can share the pipeline log.
type DebugLogger struct {
	Verbose bool
	Tag     string
}

// Debugf logs a debug message through Logf if verbose output is enabled.
func (d DebugLogger) Debugf(format string, args ...interface{}) {
	if !d.Verbose {
		return
	}
	if d.Tag != "" {
		format = "[" + d.Tag + "] " + format
	}
	Logf(format, args...)
}
