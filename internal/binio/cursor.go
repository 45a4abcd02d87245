// Package binio provides bounded little-endian reads over an in-memory byte
// region, typically a memory-mapped file.
package binio

import (
	"encoding/binary"
	"math"

	"github.com/pointscape/pointscape/internal/errs"
)

// Cursor walks a byte region with typed little-endian reads. Every read that
// would advance past the end of the region fails with errs.FormatTruncated
// and leaves the cursor position unchanged.
type Cursor struct {
	data []byte
	off  int
}

// NewCursor returns a cursor positioned at the start of data. The cursor
// aliases data; the region must outlive the cursor.
func NewCursor(data []byte) *Cursor {
	return &Cursor{data: data}
}

// Offset returns the current position from the start of the region.
func (c *Cursor) Offset() int { return c.off }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int { return len(c.data) - c.off }

// Seek moves the cursor to an absolute offset.
func (c *Cursor) Seek(off int) error {
	if off < 0 || off > len(c.data) {
		return errs.New(errs.FormatTruncated, "seek to %d outside region of %d bytes", off, len(c.data))
	}
	c.off = off
	return nil
}

// Skip advances the cursor by n bytes.
func (c *Cursor) Skip(n int) error {
	if n < 0 || c.off+n > len(c.data) {
		return errs.New(errs.FormatTruncated, "skip of %d bytes at offset %d past end of %d-byte region", n, c.off, len(c.data))
	}
	c.off += n
	return nil
}

// Bytes returns the next n bytes without copying and advances the cursor.
func (c *Cursor) Bytes(n int) ([]byte, error) {
	if n < 0 || c.off+n > len(c.data) {
		return nil, errs.New(errs.FormatTruncated, "read of %d bytes at offset %d past end of %d-byte region", n, c.off, len(c.data))
	}
	b := c.data[c.off : c.off+n]
	c.off += n
	return b, nil
}

// Uint8 reads one unsigned byte.
func (c *Cursor) Uint8() (uint8, error) {
	b, err := c.Bytes(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

// Uint16 reads a little-endian unsigned 16-bit integer.
func (c *Cursor) Uint16() (uint16, error) {
	b, err := c.Bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

// Uint32 reads a little-endian unsigned 32-bit integer.
func (c *Cursor) Uint32() (uint32, error) {
	b, err := c.Bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

// Uint64 reads a little-endian unsigned 64-bit integer.
func (c *Cursor) Uint64() (uint64, error) {
	b, err := c.Bytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

// Int8 reads one signed byte.
func (c *Cursor) Int8() (int8, error) {
	v, err := c.Uint8()
	return int8(v), err
}

// Int16 reads a little-endian signed 16-bit integer.
func (c *Cursor) Int16() (int16, error) {
	v, err := c.Uint16()
	return int16(v), err
}

// Int32 reads a little-endian signed 32-bit integer.
func (c *Cursor) Int32() (int32, error) {
	v, err := c.Uint32()
	return int32(v), err
}

// Int64 reads a little-endian signed 64-bit integer.
func (c *Cursor) Int64() (int64, error) {
	v, err := c.Uint64()
	return int64(v), err
}

// Float32 reads a little-endian IEEE 754 single-precision float.
func (c *Cursor) Float32() (float32, error) {
	v, err := c.Uint32()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(v), nil
}

// Float64 reads a little-endian IEEE 754 double-precision float.
func (c *Cursor) Float64() (float64, error) {
	v, err := c.Uint64()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(v), nil
}
