package monitoring

import "log"

// Logf is the package-level diagnostic logger for the capture pipeline. It
// defaults to log.Printf; tests or embedding applications can redirect or
// mute it with SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// Debug gates verbose per-frame logging. Off by default: the capture path
// runs inside a render callback and should not log at frame rate.
var Debug = false

// Debugf logs only when Debug is enabled.
func Debugf(format string, v ...interface{}) {
	if Debug {
		Logf(format, v...)
	}
}

// SetLogger replaces the package logger. Passing nil installs a no-op
// logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
