package monitoring

import (
	"testing"
)

func TestSetLogger(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Logf("test message")
	if !called {
		t.Error("custom logger was not called")
	}

	// nil installs a no-op logger
	called = false
	SetLogger(nil)
	Logf("test")
	if called {
		t.Error("no-op logger should not have triggered callback")
	}
}

func TestDebugfDisabledByDefault(t *testing.T) {
	original := Logf
	defer func() { Logf = original }()

	if debugEnabled {
		t.Skip("POINTSCAPE_DEBUG set in environment")
	}
	called := false
	SetLogger(func(format string, v ...interface{}) { called = true })
	Debugf("block %d of %d", 1, 10)
	if called {
		t.Error("Debugf should be silent when debug is disabled")
	}
}
