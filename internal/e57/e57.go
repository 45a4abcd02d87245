// Package e57 reads and writes terrestrial laser scans in an E57-shaped
// container: a fixed binary header, raw compressed-vector point sections,
// and an XML element tree describing the file at the tail.
package e57

import (
	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/progress"
)

// ReadHeader opens path and returns the metadata of every scan without
// decoding point records.
func ReadHeader(path string) ([]*ScanInfo, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	infos := make([]*ScanInfo, 0, f.ScanCount())
	for i := 0; i < f.ScanCount(); i++ {
		info, err := f.ScanInfo(i)
		if err != nil {
			return nil, err
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// Read opens path and concatenates every scan into one point cloud. Color
// and intensity channels are kept only when every scan in the file carries
// them, so the channel slices stay aligned with the coordinate array.
func Read(path string, opts cloud.LoadOptions, sink progress.Sink) (*cloud.PointCloud, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	f, err := Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if f.ScanCount() == 0 {
		return &cloud.PointCloud{}, nil
	}

	keepColor, keepIntensity := true, true
	for i := 0; i < f.ScanCount(); i++ {
		info, err := f.ScanInfo(i)
		if err != nil {
			return nil, err
		}
		keepColor = keepColor && info.HasColor
		keepIntensity = keepIntensity && info.HasIntensity
	}

	scanOpts := opts
	scanOpts.LoadColor = opts.LoadColor && keepColor
	scanOpts.LoadIntensity = opts.LoadIntensity && keepIntensity

	var out *cloud.PointCloud
	for i := 0; i < f.ScanCount(); i++ {
		if sink.Cancelled() {
			return nil, errs.New(errs.Cancelled, "cancelled before scan %d of %d", i, f.ScanCount())
		}
		pc, err := f.ReadScan(i, scanOpts, progress.Nop())
		if err != nil {
			return nil, err
		}
		if out == nil {
			out = pc
		} else {
			out.Merge(pc)
		}
		sink.Report((i+1)*100/f.ScanCount(), "Reading scans")
		if opts.MaxPointsPerScan >= 0 && out.Count() >= opts.MaxPointsPerScan {
			out.Truncate(opts.MaxPointsPerScan)
			break
		}
	}
	return out, nil
}

// Write creates path and writes pc as a single scan named name. Existing
// files are overwritten.
func Write(path, name string, pc *cloud.PointCloud, sink progress.Sink) error {
	return WriteScans(path, []NamedCloud{{Name: name, Points: pc}}, sink)
}

// NamedCloud pairs a scan name with its point buffers for multi-scan writes.
type NamedCloud struct {
	Name   string
	Points *cloud.PointCloud
}

// WriteScans creates path and writes each entry as its own scan, in order.
// Existing files are overwritten; on any error the partial file is left on
// disk unfinalized.
func WriteScans(path string, scans []NamedCloud, sink progress.Sink) error {
	f, err := Create(path)
	if err != nil {
		return err
	}
	for i, s := range scans {
		if sink.Cancelled() {
			f.Close()
			return errs.New(errs.Cancelled, "cancelled before scan %d of %d", i, len(scans))
		}
		if _, err := f.AddScan(s.Name, 0, s.Points, sink); err != nil {
			f.Close()
			return err
		}
	}
	return f.Close()
}
