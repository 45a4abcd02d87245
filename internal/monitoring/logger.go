// Package monitoring provides the package-level diagnostic logger used
// throughout the core. Codec block loops route verbose output through Debugf
// so production runs stay quiet.
package monitoring

import (
	"log"
	"os"
)

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

var debugEnabled = os.Getenv("POINTSCAPE_DEBUG") != ""

// Debugf logs verbose diagnostics. It is a no-op unless POINTSCAPE_DEBUG is
// set in the environment.
func Debugf(format string, v ...interface{}) {
	if debugEnabled {
		Logf(format, v...)
	}
}
