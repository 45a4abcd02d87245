package e57

import (
	"encoding/binary"
	"fmt"
	"os"
	"time"

	"github.com/edsrzf/mmap-go"
	"github.com/google/uuid"

	"github.com/pointscape/pointscape/internal/binio"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/monitoring"
)

// fileSignature opens every E57 file.
const fileSignature = "ASTM-E57"

// headerSize is the fixed physical header at the start of the file:
// signature, version pair, physical length, XML offset and length, page size.
const headerSize = 48

const pageSize = 4096

type fileMode int

const (
	modeRead fileMode = iota
	modeWrite
)

// File is a handle on one E57 file. A handle owns every node of its tree and
// must not be shared across goroutines; concurrent reads of the same path
// require separate handles.
type File struct {
	path string
	mode fileMode
	root *StructureNode

	// write mode
	out        *os.File
	bodyOffset int64
	closed     bool

	// read mode
	in   *os.File
	data mmap.MMap
}

// fileHeader is the decoded physical header.
type fileHeader struct {
	versionMajor uint32
	versionMinor uint32
	physicalLen  uint64
	xmlOffset    uint64
	xmlLength    uint64
	pageSize     uint64
}

func encodeHeader(h fileHeader) []byte {
	buf := make([]byte, headerSize)
	copy(buf[0:8], fileSignature)
	binary.LittleEndian.PutUint32(buf[8:12], h.versionMajor)
	binary.LittleEndian.PutUint32(buf[12:16], h.versionMinor)
	binary.LittleEndian.PutUint64(buf[16:24], h.physicalLen)
	binary.LittleEndian.PutUint64(buf[24:32], h.xmlOffset)
	binary.LittleEndian.PutUint64(buf[32:40], h.xmlLength)
	binary.LittleEndian.PutUint64(buf[40:48], h.pageSize)
	return buf
}

func decodeHeader(c *binio.Cursor) (fileHeader, error) {
	var h fileHeader
	sig, err := c.Bytes(8)
	if err != nil {
		return h, err
	}
	if string(sig) != fileSignature {
		return h, errs.New(errs.FormatInvalidSignature, "invalid E57 signature %q", sig)
	}
	if h.versionMajor, err = c.Uint32(); err != nil {
		return h, err
	}
	if h.versionMinor, err = c.Uint32(); err != nil {
		return h, err
	}
	if h.physicalLen, err = c.Uint64(); err != nil {
		return h, err
	}
	if h.xmlOffset, err = c.Uint64(); err != nil {
		return h, err
	}
	if h.xmlLength, err = c.Uint64(); err != nil {
		return h, err
	}
	if h.pageSize, err = c.Uint64(); err != nil {
		return h, err
	}
	if h.versionMajor != 1 {
		return h, errs.New(errs.FormatUnsupportedVersion, "unsupported E57 version %d.%d", h.versionMajor, h.versionMinor)
	}
	return h, nil
}

// Create opens a new E57 file for writing and initializes the root structure
// per ASTM E2807: formatName, a fresh GUID, version, creation time, empty
// coordinate metadata, and an empty /data3D vector.
func Create(path string) (*File, error) {
	out, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "creating %s", path)
	}
	// placeholder header, patched on Close once the XML offset is known
	if _, err := out.Write(make([]byte, headerSize)); err != nil {
		out.Close()
		return nil, errs.Wrap(errs.IO, err, "writing header placeholder")
	}

	f := &File{path: path, mode: modeWrite, out: out, bodyOffset: headerSize, root: NewStructure()}
	must := func(name string, n Node) {
		// fresh structure, names are distinct by construction
		_ = f.root.Set(name, n)
	}
	must("formatName", &StringNode{Value: "ASTM E57 3D Imaging Data File"})
	must("guid", &StringNode{Value: uuid.New().String()})
	must("versionMajor", &IntegerNode{Value: 1, Min: 0, Max: 255})
	must("versionMinor", &IntegerNode{Value: 0, Min: 0, Max: 255})
	must("creationDateTime", &StringNode{Value: time.Now().UTC().Format(time.RFC3339)})
	must("coordinateMetadata", &StringNode{Value: ""})
	must("data3D", &VectorNode{})
	return f, nil
}

// Open maps an existing E57 file for reading and parses its XML section into
// the node tree.
func Open(path string) (*File, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "opening %s", path)
	}
	info, err := in.Stat()
	if err != nil {
		in.Close()
		return nil, errs.Wrap(errs.IO, err, "stating %s", path)
	}
	if info.Size() < headerSize {
		in.Close()
		return nil, errs.New(errs.FormatTruncated, "file %s shorter than the %d-byte E57 header", path, headerSize)
	}

	data, err := mmap.Map(in, mmap.RDONLY, 0)
	if err != nil {
		in.Close()
		return nil, errs.Wrap(errs.IO, err, "mapping %s", path)
	}

	f := &File{path: path, mode: modeRead, in: in, data: data}
	header, err := decodeHeader(binio.NewCursor(data))
	if err != nil {
		f.Close()
		return nil, err
	}
	end := header.xmlOffset + header.xmlLength
	if end > uint64(len(data)) || header.xmlOffset < headerSize {
		f.Close()
		return nil, errs.New(errs.FormatTruncated,
			"XML section [%d,%d) outside file of %d bytes", header.xmlOffset, end, len(data))
	}

	root, err := parseXML(data[header.xmlOffset:end], f)
	if err != nil {
		f.Close()
		return nil, err
	}
	f.root = root
	monitoring.Debugf("e57: opened %s, %d scans", path, f.ScanCount())
	return f, nil
}

// Root returns the file's root structure.
func (f *File) Root() *StructureNode { return f.root }

// Path returns the path the handle was opened on.
func (f *File) Path() string { return f.path }

// Close finalizes the file. In write mode this serializes the XML section to
// the tail and patches the physical header; failures surface as
// write_finalize_failed. Close is idempotent.
func (f *File) Close() error {
	if f.closed {
		return nil
	}
	f.closed = true

	if f.mode == modeRead {
		var firstErr error
		if f.data != nil {
			if err := f.data.Unmap(); err != nil && firstErr == nil {
				firstErr = errs.Wrap(errs.IO, err, "unmapping %s", f.path)
			}
			f.data = nil
		}
		if f.in != nil {
			if err := f.in.Close(); err != nil && firstErr == nil {
				firstErr = errs.Wrap(errs.IO, err, "closing %s", f.path)
			}
			f.in = nil
		}
		return firstErr
	}

	xmlData, err := serializeXML(f.root)
	if err != nil {
		f.out.Close()
		return errs.Wrap(errs.WriteFinalizeFailed, err, "finalizing %s", f.path)
	}
	if _, err := f.out.WriteAt(xmlData, f.bodyOffset); err != nil {
		f.out.Close()
		return errs.Wrap(errs.WriteFinalizeFailed, err, "writing XML section of %s", f.path)
	}
	header := encodeHeader(fileHeader{
		versionMajor: 1,
		versionMinor: 0,
		physicalLen:  uint64(f.bodyOffset) + uint64(len(xmlData)),
		xmlOffset:    uint64(f.bodyOffset),
		xmlLength:    uint64(len(xmlData)),
		pageSize:     pageSize,
	})
	if _, err := f.out.WriteAt(header, 0); err != nil {
		f.out.Close()
		return errs.Wrap(errs.WriteFinalizeFailed, err, "patching header of %s", f.path)
	}
	if err := f.out.Close(); err != nil {
		return errs.Wrap(errs.WriteFinalizeFailed, err, "closing %s", f.path)
	}
	monitoring.Debugf("e57: finalized %s (%s of XML)", f.path, fmt.Sprintf("%d bytes", len(xmlData)))
	return nil
}

// GUID returns the file-level GUID, empty when absent.
func (f *File) GUID() string {
	if n, ok := f.root.Get("guid"); ok {
		if s, ok := n.(*StringNode); ok {
			return s.Value
		}
	}
	return ""
}

// data3D returns the scan vector, creating nothing.
func (f *File) data3D() (*VectorNode, error) {
	n, ok := f.root.Get("data3D")
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "file has no /data3D vector")
	}
	v, ok := n.(*VectorNode)
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "/data3D is %s, want Vector", n.NodeType())
	}
	return v, nil
}

// ScanCount returns the number of /data3D entries.
func (f *File) ScanCount() int {
	v, err := f.data3D()
	if err != nil {
		return 0
	}
	return v.Len()
}
