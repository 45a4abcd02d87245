// Package las reads ASTM LAS point-cloud files, versions 1.2 through 1.4,
// point data record formats 0-3.
package las

import (
	"bytes"
	"os"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pointscape/pointscape/internal/binio"
	"github.com/pointscape/pointscape/internal/errs"
)

// FileSignature is the four-byte magic at the start of every LAS file.
var FileSignature = [4]byte{'L', 'A', 'S', 'F'}

const (
	supportedVersionMajor = 1
	minVersionMinor       = 2
	maxVersionMinor       = 4
	maxSupportedFormat    = 3

	// baseHeaderSize is the LAS 1.2 public header block size. Later minor
	// versions extend the header, but every field this reader needs lives
	// in the first 227 bytes.
	baseHeaderSize = 227
)

// recordLengths maps each supported PDRF to its canonical record length.
var recordLengths = map[uint8]uint16{
	0: 20,
	1: 28,
	2: 26,
	3: 34,
}

// Header is the fixed LAS public header block.
type Header struct {
	FileSourceID       uint16
	GlobalEncoding     uint16
	VersionMajor       uint8
	VersionMinor       uint8
	SystemIdentifier   string
	GeneratingSoftware string
	CreationDayOfYear  uint16
	CreationYear       uint16
	HeaderSize         uint16
	PointDataOffset    uint32
	VLRCount           uint32
	PointFormat        uint8
	RecordLength       uint16
	PointCount         uint32
	Scale              r3.Vec
	Offset             r3.Vec
	Min                r3.Vec
	Max                r3.Vec
}

// parseHeader decodes the public header block from the start of the region.
func parseHeader(c *binio.Cursor) (*Header, error) {
	sig, err := c.Bytes(4)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(sig, FileSignature[:]) {
		return nil, errs.New(errs.FormatInvalidSignature, "invalid LAS file signature %q, expected \"LASF\"", sig)
	}

	h := &Header{}
	if h.FileSourceID, err = c.Uint16(); err != nil {
		return nil, err
	}
	if h.GlobalEncoding, err = c.Uint16(); err != nil {
		return nil, err
	}
	// project GUID, unused
	if err = c.Skip(16); err != nil {
		return nil, err
	}
	if h.VersionMajor, err = c.Uint8(); err != nil {
		return nil, err
	}
	if h.VersionMinor, err = c.Uint8(); err != nil {
		return nil, err
	}
	sysID, err := c.Bytes(32)
	if err != nil {
		return nil, err
	}
	h.SystemIdentifier = trimPadding(sysID)
	software, err := c.Bytes(32)
	if err != nil {
		return nil, err
	}
	h.GeneratingSoftware = trimPadding(software)
	if h.CreationDayOfYear, err = c.Uint16(); err != nil {
		return nil, err
	}
	if h.CreationYear, err = c.Uint16(); err != nil {
		return nil, err
	}
	if h.HeaderSize, err = c.Uint16(); err != nil {
		return nil, err
	}
	if h.PointDataOffset, err = c.Uint32(); err != nil {
		return nil, err
	}
	if h.VLRCount, err = c.Uint32(); err != nil {
		return nil, err
	}
	if h.PointFormat, err = c.Uint8(); err != nil {
		return nil, err
	}
	if h.RecordLength, err = c.Uint16(); err != nil {
		return nil, err
	}
	if h.PointCount, err = c.Uint32(); err != nil {
		return nil, err
	}
	// number of points by return (5 x uint32), unused
	if err = c.Skip(20); err != nil {
		return nil, err
	}
	if h.Scale.X, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Scale.Y, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Scale.Z, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Offset.X, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Offset.Y, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Offset.Z, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Max.X, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Min.X, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Max.Y, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Min.Y, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Max.Z, err = c.Float64(); err != nil {
		return nil, err
	}
	if h.Min.Z, err = c.Float64(); err != nil {
		return nil, err
	}
	return h, nil
}

func trimPadding(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}

// validate checks the header against the supported LAS subset.
func (h *Header) validate() error {
	if h.VersionMajor != supportedVersionMajor ||
		h.VersionMinor < minVersionMinor || h.VersionMinor > maxVersionMinor {
		return errs.New(errs.FormatUnsupportedVersion,
			"unsupported LAS version %d.%d, supported: 1.2, 1.3, 1.4", h.VersionMajor, h.VersionMinor)
	}
	if h.PointFormat > maxSupportedFormat {
		return errs.New(errs.FormatUnsupportedPDRF,
			"unsupported point data record format %d, supported: 0-3", h.PointFormat)
	}
	want := recordLengths[h.PointFormat]
	if h.RecordLength != want {
		return errs.New(errs.FormatInconsistentRecordLength,
			"PDRF %d record length %d, expected %d", h.PointFormat, h.RecordLength, want)
	}
	if h.Scale.X == 0 || h.Scale.Y == 0 || h.Scale.Z == 0 {
		return errs.New(errs.FormatInvalidScale,
			"zero scale factor (%g, %g, %g)", h.Scale.X, h.Scale.Y, h.Scale.Z)
	}
	if h.PointCount == 0 {
		return errs.New(errs.FormatInvalid, "no point records in file")
	}
	if h.HeaderSize < baseHeaderSize {
		return errs.New(errs.FormatInvalid, "header size %d below minimum %d", h.HeaderSize, baseHeaderSize)
	}
	return nil
}

// IsValidFile reports whether the file at path starts with the LAS signature.
func IsValidFile(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	var sig [4]byte
	if _, err := f.Read(sig[:]); err != nil {
		return false
	}
	return sig == FileSignature
}
