package e57

import (
	"encoding/binary"
	"math"

	"github.com/pointscape/pointscape/internal/binio"
	"github.com/pointscape/pointscape/internal/errs"
)

// SourceDestBuffer binds a prototype field name to a typed block of caller
// memory. Exactly one of the slices must be non-nil; its length is the block
// capacity in records.
type SourceDestBuffer struct {
	FieldName string
	Doubles   []float64
	Floats    []float32
	Uint8s    []uint8
}

func (b *SourceDestBuffer) capacity() (int, error) {
	set := 0
	n := 0
	if b.Doubles != nil {
		set++
		n = len(b.Doubles)
	}
	if b.Floats != nil {
		set++
		n = len(b.Floats)
	}
	if b.Uint8s != nil {
		set++
		n = len(b.Uint8s)
	}
	if set != 1 {
		return 0, errs.New(errs.InvalidArgument, "buffer for %q must bind exactly one typed slice", b.FieldName)
	}
	return n, nil
}

func (b *SourceDestBuffer) setValue(i int, v float64) {
	switch {
	case b.Doubles != nil:
		b.Doubles[i] = v
	case b.Floats != nil:
		b.Floats[i] = float32(v)
	case b.Uint8s != nil:
		b.Uint8s[i] = uint8(int64(math.Round(v)))
	}
}

func (b *SourceDestBuffer) getValue(i int) float64 {
	switch {
	case b.Doubles != nil:
		return b.Doubles[i]
	case b.Floats != nil:
		return float64(b.Floats[i])
	default:
		return float64(b.Uint8s[i])
	}
}

// validateBuffers checks buffer/prototype consistency and returns the common
// block capacity. When requireAll is set (write path), every prototype field
// must be bound; on the read path unbound fields are decoded and discarded.
func validateBuffers(fields []protoField, buffers []SourceDestBuffer, requireAll bool) (int, error) {
	byName := make(map[string]bool, len(fields))
	for _, f := range fields {
		byName[f.name] = true
	}

	capacity := -1
	bound := make(map[string]bool, len(buffers))
	for i := range buffers {
		b := &buffers[i]
		if !byName[b.FieldName] {
			return 0, errs.New(errs.InvalidArgument, "buffer binds %q which is not a prototype field", b.FieldName)
		}
		if bound[b.FieldName] {
			return 0, errs.New(errs.InvalidArgument, "duplicate buffer for field %q", b.FieldName)
		}
		bound[b.FieldName] = true
		n, err := b.capacity()
		if err != nil {
			return 0, err
		}
		if capacity == -1 {
			capacity = n
		} else if n != capacity {
			return 0, errs.New(errs.InvalidArgument, "buffer capacities differ: %q has %d, expected %d", b.FieldName, n, capacity)
		}
	}
	if capacity <= 0 {
		return 0, errs.New(errs.InvalidArgument, "no destination buffers supplied")
	}
	if requireAll {
		for _, f := range fields {
			if !bound[f.name] {
				return 0, errs.New(errs.InvalidArgument, "prototype field %q has no source buffer", f.name)
			}
		}
	}
	return capacity, nil
}

// Reader streams records from a CompressedVector's binary section into the
// caller's destination buffers, converting from the on-disk representation
// (per the prototype) into each buffer's declared type.
type Reader struct {
	cv       *CompressedVectorNode
	fields   []protoField
	buffers  []SourceDestBuffer
	byField  map[string]*SourceDestBuffer
	capacity int
	cursor   *binio.Cursor
	read     int64
}

// NewReader binds destination buffers to the vector. The file must be open
// in read mode.
func (cv *CompressedVectorNode) NewReader(buffers []SourceDestBuffer) (*Reader, error) {
	if cv.file == nil || cv.file.mode != modeRead {
		return nil, errs.New(errs.InvalidArgument, "compressed vector is not attached to a readable file")
	}
	fields, err := cv.prototypeFields()
	if err != nil {
		return nil, err
	}
	capacity, err := validateBuffers(fields, buffers, false)
	if err != nil {
		return nil, err
	}

	width := 0
	for _, f := range fields {
		width += f.byteWidth()
	}
	sectionLen := cv.recordCount * int64(width)
	end := cv.fileOffset + sectionLen
	if cv.fileOffset < headerSize || end > int64(len(cv.file.data)) {
		return nil, errs.New(errs.FormatTruncated,
			"binary section [%d,%d) outside file of %d bytes", cv.fileOffset, end, len(cv.file.data))
	}

	r := &Reader{
		cv:       cv,
		fields:   fields,
		buffers:  buffers,
		byField:  make(map[string]*SourceDestBuffer, len(buffers)),
		capacity: capacity,
		cursor:   binio.NewCursor(cv.file.data[cv.fileOffset:end]),
	}
	for i := range buffers {
		r.byField[buffers[i].FieldName] = &buffers[i]
	}
	return r, nil
}

// Read decodes up to one block of records into the bound buffers and returns
// how many were filled. It returns 0 at the end of the vector.
func (r *Reader) Read() (int, error) {
	remaining := r.cv.recordCount - r.read
	if remaining <= 0 {
		return 0, nil
	}
	n := r.capacity
	if int64(n) > remaining {
		n = int(remaining)
	}

	for i := 0; i < n; i++ {
		for _, f := range r.fields {
			value, err := r.decodeField(f)
			if err != nil {
				return 0, err
			}
			if buf, ok := r.byField[f.name]; ok {
				buf.setValue(i, value)
			}
		}
	}
	r.read += int64(n)
	return n, nil
}

// decodeField reads one field of one record and applies the prototype's
// interpretation (precision, scale and offset).
func (r *Reader) decodeField(f protoField) (float64, error) {
	switch node := f.node.(type) {
	case *FloatNode:
		if node.Precision == PrecisionSingle {
			v, err := r.cursor.Float32()
			return float64(v), err
		}
		return r.cursor.Float64()
	case *IntegerNode:
		v, err := r.cursor.Int64()
		return float64(v), err
	case *ScaledIntegerNode:
		raw, err := r.cursor.Int64()
		if err != nil {
			return 0, err
		}
		return float64(raw)*node.Scale + node.Offset, nil
	default:
		return 0, errs.New(errs.FormatInvalid, "prototype field %q has non-leaf type %s", f.name, f.node.NodeType())
	}
}

// Writer streams records from the caller's source buffers into a
// CompressedVector's binary section.
type Writer struct {
	cv       *CompressedVectorNode
	fields   []protoField
	byField  map[string]*SourceDestBuffer
	capacity int
	width    int
	scratch  []byte
	closed   bool
}

// NewWriter binds source buffers covering every prototype field. The file
// must be open in write mode; only one writer may be open on a file at a
// time, and records are appended to the file body as Write is called.
func (cv *CompressedVectorNode) NewWriter(buffers []SourceDestBuffer) (*Writer, error) {
	if cv.file == nil || cv.file.mode != modeWrite {
		return nil, errs.New(errs.InvalidArgument, "compressed vector is not attached to a writable file")
	}
	fields, err := cv.prototypeFields()
	if err != nil {
		return nil, err
	}
	capacity, err := validateBuffers(fields, buffers, true)
	if err != nil {
		return nil, err
	}

	width := 0
	for _, f := range fields {
		width += f.byteWidth()
	}
	cv.fileOffset = cv.file.bodyOffset

	w := &Writer{
		cv:       cv,
		fields:   fields,
		byField:  make(map[string]*SourceDestBuffer, len(buffers)),
		capacity: capacity,
		width:    width,
	}
	for i := range buffers {
		w.byField[buffers[i].FieldName] = &buffers[i]
	}
	return w, nil
}

// Write encodes the first n slots of every source buffer as records and
// appends them to the binary section.
func (w *Writer) Write(n int) error {
	if w.closed {
		return errs.New(errs.InvalidArgument, "write on closed writer")
	}
	if n < 0 || n > w.capacity {
		return errs.New(errs.InvalidArgument, "record count %d outside buffer capacity %d", n, w.capacity)
	}

	need := n * w.width
	if cap(w.scratch) < need {
		w.scratch = make([]byte, 0, need)
	}
	buf := w.scratch[:0]
	for i := 0; i < n; i++ {
		for _, f := range w.fields {
			buf = encodeField(buf, f, w.byField[f.name].getValue(i))
		}
	}

	if _, err := w.cv.file.out.Write(buf); err != nil {
		return errs.Wrap(errs.IO, err, "writing %d records", n)
	}
	w.cv.file.bodyOffset += int64(len(buf))
	w.cv.recordCount += int64(n)
	w.scratch = buf
	return nil
}

// Close detaches the writer. The section stays valid; the XML tree is
// finalized when the file closes.
func (w *Writer) Close() error {
	w.closed = true
	return nil
}

// encodeField appends the on-disk representation of value for field f.
func encodeField(buf []byte, f protoField, value float64) []byte {
	switch node := f.node.(type) {
	case *FloatNode:
		if node.Precision == PrecisionSingle {
			return binary.LittleEndian.AppendUint32(buf, math.Float32bits(float32(value)))
		}
		return binary.LittleEndian.AppendUint64(buf, math.Float64bits(value))
	case *IntegerNode:
		return binary.LittleEndian.AppendUint64(buf, uint64(int64(math.Round(value))))
	case *ScaledIntegerNode:
		raw := int64(math.Round((value - node.Offset) / node.Scale))
		return binary.LittleEndian.AppendUint64(buf, uint64(raw))
	default:
		// prototypeFields already rejected non-leaf types
		return buf
	}
}
