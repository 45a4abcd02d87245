package binio

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/pointscape/pointscape/internal/errs"
)

func TestCursorTypedReads(t *testing.T) {
	buf := make([]byte, 0, 32)
	buf = append(buf, 0xAB)
	buf = binary.LittleEndian.AppendUint16(buf, 0xBEEF)
	buf = binary.LittleEndian.AppendUint32(buf, 0xDEADBEEF)
	buf = binary.LittleEndian.AppendUint64(buf, 0x0102030405060708)
	buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(1.5))
	buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(-2.25))

	c := NewCursor(buf)

	if v, err := c.Uint8(); err != nil || v != 0xAB {
		t.Fatalf("Uint8 = %x, %v", v, err)
	}
	if v, err := c.Uint16(); err != nil || v != 0xBEEF {
		t.Fatalf("Uint16 = %x, %v", v, err)
	}
	if v, err := c.Uint32(); err != nil || v != 0xDEADBEEF {
		t.Fatalf("Uint32 = %x, %v", v, err)
	}
	if v, err := c.Uint64(); err != nil || v != 0x0102030405060708 {
		t.Fatalf("Uint64 = %x, %v", v, err)
	}
	if v, err := c.Float32(); err != nil || v != 1.5 {
		t.Fatalf("Float32 = %v, %v", v, err)
	}
	if v, err := c.Float64(); err != nil || v != -2.25 {
		t.Fatalf("Float64 = %v, %v", v, err)
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", c.Remaining())
	}
}

func TestCursorSignedReads(t *testing.T) {
	buf := make([]byte, 0, 8)
	buf = append(buf, 0xFF) // -1 as int8
	buf = binary.LittleEndian.AppendUint32(buf, 0xFFFFFF38) // -200 as int32

	c := NewCursor(buf)
	if v, err := c.Int8(); err != nil || v != -1 {
		t.Fatalf("Int8 = %d, %v", v, err)
	}
	if v, err := c.Int32(); err != nil || v != -200 {
		t.Fatalf("Int32 = %d, %v", v, err)
	}
}

func TestCursorUnderflow(t *testing.T) {
	c := NewCursor([]byte{1, 2, 3})
	if _, err := c.Uint32(); !errs.HasKind(err, errs.FormatTruncated) {
		t.Errorf("underflow read: kind = %q, want format_truncated", errs.KindOf(err))
	}
	// failed read must not advance
	if c.Offset() != 0 {
		t.Errorf("offset after failed read = %d, want 0", c.Offset())
	}
	if v, err := c.Uint16(); err != nil || v != 0x0201 {
		t.Errorf("Uint16 after failed read = %x, %v", v, err)
	}
}

func TestCursorSkipAndSeek(t *testing.T) {
	c := NewCursor(make([]byte, 10))
	if err := c.Skip(4); err != nil || c.Offset() != 4 {
		t.Fatalf("Skip(4): %v, offset %d", err, c.Offset())
	}
	if err := c.Skip(7); !errs.HasKind(err, errs.FormatTruncated) {
		t.Errorf("Skip past end: kind = %q", errs.KindOf(err))
	}
	if err := c.Seek(10); err != nil {
		t.Errorf("Seek to end: %v", err)
	}
	if err := c.Seek(11); err == nil {
		t.Error("Seek past end should fail")
	}
	if err := c.Skip(-1); err == nil {
		t.Error("negative Skip should fail")
	}
}
