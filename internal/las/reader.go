package las

import (
	"os"

	"github.com/edsrzf/mmap-go"

	"github.com/pointscape/pointscape/internal/binio"
	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/monitoring"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/voxel"
)

// progressStride is how many records pass between progress reports and
// cancellation polls.
const progressStride = 10000

// ReadHeader opens the file, decodes and validates the public header block,
// and closes the file without touching point data.
func ReadHeader(path string) (*Header, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "opening %s", path)
	}
	defer f.Close()

	buf := make([]byte, baseHeaderSize)
	n, err := f.Read(buf)
	if err != nil || n < baseHeaderSize {
		return nil, errs.New(errs.FormatTruncated, "file %s shorter than the %d-byte LAS header", path, baseHeaderSize)
	}
	h, err := parseHeader(binio.NewCursor(buf))
	if err != nil {
		return nil, err
	}
	if err := h.validate(); err != nil {
		return nil, err
	}
	return h, nil
}

// Read parses the LAS file at path according to opts and returns the decoded
// point cloud. LAS reading produces XYZ only; color and intensity channels
// are never populated from this codec.
func Read(path string, opts cloud.LoadOptions, sink progress.Sink) (*cloud.PointCloud, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	sink.Report(1, "Opening file")
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "opening %s", path)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "stating %s", path)
	}
	if info.Size() < baseHeaderSize {
		return nil, errs.New(errs.FormatTruncated, "file %s shorter than the %d-byte LAS header", path, baseHeaderSize)
	}

	data, err := mmap.Map(f, mmap.RDONLY, 0)
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "mapping %s", path)
	}
	defer data.Unmap()

	cursor := binio.NewCursor(data)

	sink.Report(5, "Reading LAS header")
	header, err := parseHeader(cursor)
	if err != nil {
		return nil, err
	}
	sink.Report(10, "Validating header")
	if err := header.validate(); err != nil {
		return nil, err
	}
	monitoring.Debugf("las: %s v%d.%d pdrf=%d points=%d scale=(%g,%g,%g)",
		path, header.VersionMajor, header.VersionMinor, header.PointFormat,
		header.PointCount, header.Scale.X, header.Scale.Y, header.Scale.Z)

	if opts.Method == cloud.HeaderOnly {
		sink.Report(100, "Header loaded")
		return &cloud.PointCloud{}, nil
	}

	pc, err := readPoints(cursor, header, opts, sink)
	if err != nil {
		return nil, err
	}

	if opts.Method == cloud.VoxelGrid {
		sink.Report(90, "Applying voxel grid filter")
		filtered, err := voxel.Filter(pc.XYZ, opts.LeafSize, opts.MinPointsPerVoxel)
		if err != nil {
			return nil, err
		}
		monitoring.Debugf("las: voxel grid reduced %d points to %d", pc.Count(), len(filtered)/3)
		pc = &cloud.PointCloud{XYZ: filtered}
	}

	if opts.SubsamplingRatio < 1 {
		pc.StrideSubsample(opts.SubsamplingRatio)
	}

	sink.Report(100, "Loading complete")
	return pc, nil
}

// readPoints streams the point records, applying the scale/offset transform.
func readPoints(cursor *binio.Cursor, header *Header, opts cloud.LoadOptions, sink progress.Sink) (*cloud.PointCloud, error) {
	if err := cursor.Seek(int(header.PointDataOffset)); err != nil {
		return nil, err
	}

	count := int(header.PointCount)
	if opts.MaxPointsPerScan >= 0 && count > opts.MaxPointsPerScan {
		count = opts.MaxPointsPerScan
	}
	skipPerRecord := int(header.RecordLength) - 12

	pc := &cloud.PointCloud{XYZ: make([]float64, 0, count*3)}
	for i := 0; i < count; i++ {
		if i%progressStride == 0 {
			if sink.Cancelled() {
				return nil, errs.New(errs.Cancelled, "cancelled after %d of %d records", i, count)
			}
			sink.Report(15+int(int64(i)*75/int64(count)), "Reading point records")
		}

		xRaw, err := cursor.Int32()
		if err != nil {
			return nil, errs.Wrap(errs.FormatTruncated, err, "point record %d of %d", i, count)
		}
		yRaw, err := cursor.Int32()
		if err != nil {
			return nil, errs.Wrap(errs.FormatTruncated, err, "point record %d of %d", i, count)
		}
		zRaw, err := cursor.Int32()
		if err != nil {
			return nil, errs.Wrap(errs.FormatTruncated, err, "point record %d of %d", i, count)
		}
		if err := cursor.Skip(skipPerRecord); err != nil {
			return nil, errs.Wrap(errs.FormatTruncated, err, "point record %d of %d", i, count)
		}

		pc.XYZ = append(pc.XYZ,
			float64(xRaw)*header.Scale.X+header.Offset.X,
			float64(yRaw)*header.Scale.Y+header.Offset.Y,
			float64(zRaw)*header.Scale.Z+header.Offset.Z,
		)
	}
	return pc, nil
}
