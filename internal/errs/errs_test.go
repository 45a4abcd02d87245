package errs

import (
	"errors"
	"fmt"
	"os"
	"testing"
)

func TestKindOf(t *testing.T) {
	err := New(FormatTruncated, "header ends after %d bytes", 12)
	if got := KindOf(err); got != FormatTruncated {
		t.Errorf("KindOf = %q, want %q", got, FormatTruncated)
	}
	if got := KindOf(errors.New("plain")); got != Kind("") {
		t.Errorf("KindOf(plain) = %q, want empty", got)
	}
}

func TestWrapPreservesCause(t *testing.T) {
	cause := os.ErrNotExist
	err := Wrap(IO, cause, "opening scan file")
	if !errors.Is(err, os.ErrNotExist) {
		t.Error("wrapped cause not reachable via errors.Is")
	}
	if !HasKind(err, IO) {
		t.Error("HasKind(IO) = false")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(IO, nil, "noop") != nil {
		t.Error("Wrap(nil) should return nil")
	}
}

func TestHasKindThroughFmtWrapping(t *testing.T) {
	inner := New(Cancelled, "aborted at block 4")
	outer := fmt.Errorf("loading scan: %w", inner)
	if !HasKind(outer, Cancelled) {
		t.Error("kind lost through fmt.Errorf wrapping")
	}
	if HasKind(outer, IO) {
		t.Error("unexpected IO kind")
	}
}
