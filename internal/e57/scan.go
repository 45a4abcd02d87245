package e57

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/monitoring"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/voxel"
)

// pointsPerBlock is the number of records moved per codec call. The value
// keeps per-block working memory at a few megabytes while amortizing call
// overhead; correctness does not depend on it.
const pointsPerBlock = 65536

// ScanInfo is the decoded metadata of one /data3D entry.
type ScanInfo struct {
	Name             string
	GUID             string
	PointCount       int64
	HasColor         bool
	HasIntensity     bool
	AcquisitionStart float64 // GPS-style double seconds, 0 when absent
	Bounds           cloud.Bounds
	HasBounds        bool
}

func (f *File) scanStructure(i int) (*StructureNode, error) {
	d3d, err := f.data3D()
	if err != nil {
		return nil, err
	}
	n, err := d3d.At(i)
	if err != nil {
		return nil, errs.New(errs.ScanNotFound, "scan %d not in file with %d scans", i, d3d.Len())
	}
	s, ok := n.(*StructureNode)
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "/data3D/%d is %s, want Structure", i, n.NodeType())
	}
	return s, nil
}

func (f *File) scanPoints(scan *StructureNode, i int) (*CompressedVectorNode, error) {
	n, ok := scan.Get("points")
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "/data3D/%d has no points child", i)
	}
	cv, ok := n.(*CompressedVectorNode)
	if !ok {
		return nil, errs.New(errs.FormatInvalid, "/data3D/%d/points is %s, want CompressedVector", i, n.NodeType())
	}
	return cv, nil
}

func stringChild(s *StructureNode, name string) (string, bool) {
	if n, ok := s.Get(name); ok {
		if sn, ok := n.(*StringNode); ok {
			return sn.Value, true
		}
	}
	return "", false
}

func floatChild(s *StructureNode, name string) (float64, bool) {
	n, ok := s.Get(name)
	if !ok {
		return 0, false
	}
	switch v := n.(type) {
	case *FloatNode:
		return v.Value, true
	case *IntegerNode:
		return float64(v.Value), true
	case *ScaledIntegerNode:
		return v.Value(), true
	}
	return 0, false
}

// ScanInfo inspects /data3D/<i> without touching point data.
func (f *File) ScanInfo(i int) (*ScanInfo, error) {
	scan, err := f.scanStructure(i)
	if err != nil {
		return nil, err
	}
	cv, err := f.scanPoints(scan, i)
	if err != nil {
		return nil, err
	}

	info := &ScanInfo{PointCount: cv.RecordCount()}
	if name, ok := stringChild(scan, "name"); ok {
		info.Name = name
	} else {
		info.Name = fmt.Sprintf("Scan_%d", i+1)
	}
	info.GUID, _ = stringChild(scan, "guid")

	if cv.Prototype != nil {
		info.HasColor = cv.Prototype.IsDefined("colorRed") &&
			cv.Prototype.IsDefined("colorGreen") &&
			cv.Prototype.IsDefined("colorBlue")
		info.HasIntensity = cv.Prototype.IsDefined("intensity")
	}

	if n, ok := scan.Get("acquisitionStart"); ok {
		if start, ok := n.(*StructureNode); ok {
			info.AcquisitionStart, _ = floatChild(start, "dateTimeValue")
		}
	}

	if n, ok := scan.Get("cartesianBounds"); ok {
		if bounds, ok := n.(*StructureNode); ok {
			get := func(name string) float64 {
				v, _ := floatChild(bounds, name)
				return v
			}
			info.Bounds.Min.X = get("xMinimum")
			info.Bounds.Max.X = get("xMaximum")
			info.Bounds.Min.Y = get("yMinimum")
			info.Bounds.Max.Y = get("yMaximum")
			info.Bounds.Min.Z = get("zMinimum")
			info.Bounds.Max.Z = get("zMaximum")
			info.HasBounds = true
		}
	}
	return info, nil
}

// intensityRange returns the normalization window for raw intensity values:
// the scan's intensityLimits when present, otherwise the prototype's declared
// range.
func intensityRange(scan *StructureNode, proto *StructureNode) (min, max float64) {
	if n, ok := scan.Get("intensityLimits"); ok {
		if limits, ok := n.(*StructureNode); ok {
			lo, okLo := floatChild(limits, "intensityMinimum")
			hi, okHi := floatChild(limits, "intensityMaximum")
			if okLo && okHi {
				return lo, hi
			}
		}
	}
	if n, ok := proto.Get("intensity"); ok {
		switch v := n.(type) {
		case *FloatNode:
			return v.Min, v.Max
		case *IntegerNode:
			return float64(v.Min), float64(v.Max)
		case *ScaledIntegerNode:
			return float64(v.Min)*v.Scale + v.Offset, float64(v.Max)*v.Scale + v.Offset
		}
	}
	return 0, 0
}

// ReadScan materializes /data3D/<i> into a point cloud according to opts.
func (f *File) ReadScan(i int, opts cloud.LoadOptions, sink progress.Sink) (*cloud.PointCloud, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	scan, err := f.scanStructure(i)
	if err != nil {
		return nil, err
	}
	cv, err := f.scanPoints(scan, i)
	if err != nil {
		return nil, err
	}
	if _, err := cv.prototypeFields(); err != nil {
		return nil, err
	}

	proto := cv.Prototype
	missing := ""
	for _, required := range []string{"cartesianX", "cartesianY", "cartesianZ"} {
		if !proto.IsDefined(required) {
			missing += required + " "
		}
	}
	if missing != "" {
		return nil, errs.New(errs.PrototypeMissingXYZ, "scan %d prototype lacks required fields: %s", i, missing)
	}

	hasColor := proto.IsDefined("colorRed") && proto.IsDefined("colorGreen") && proto.IsDefined("colorBlue")
	hasIntensity := proto.IsDefined("intensity")
	wantColor := hasColor && opts.LoadColor
	wantIntensity := hasIntensity && opts.LoadIntensity

	if opts.Method == cloud.HeaderOnly {
		sink.Report(100, "Header loaded")
		return &cloud.PointCloud{HasColor: wantColor, HasIntensity: wantIntensity}, nil
	}

	total := cv.RecordCount()
	count := total
	if opts.MaxPointsPerScan >= 0 && int64(opts.MaxPointsPerScan) < count {
		count = int64(opts.MaxPointsPerScan)
	}

	blockCap := pointsPerBlock
	if total < int64(blockCap) {
		blockCap = int(total)
	}
	if blockCap == 0 {
		blockCap = 1
	}

	xBuf := make([]float64, blockCap)
	yBuf := make([]float64, blockCap)
	zBuf := make([]float64, blockCap)
	buffers := []SourceDestBuffer{
		{FieldName: "cartesianX", Doubles: xBuf},
		{FieldName: "cartesianY", Doubles: yBuf},
		{FieldName: "cartesianZ", Doubles: zBuf},
	}
	var rBuf, gBuf, bBuf []uint8
	if wantColor {
		rBuf = make([]uint8, blockCap)
		gBuf = make([]uint8, blockCap)
		bBuf = make([]uint8, blockCap)
		buffers = append(buffers,
			SourceDestBuffer{FieldName: "colorRed", Uint8s: rBuf},
			SourceDestBuffer{FieldName: "colorGreen", Uint8s: gBuf},
			SourceDestBuffer{FieldName: "colorBlue", Uint8s: bBuf},
		)
	}
	var iBuf []float32
	var iMin, iMax float64
	if wantIntensity {
		iBuf = make([]float32, blockCap)
		buffers = append(buffers, SourceDestBuffer{FieldName: "intensity", Floats: iBuf})
		iMin, iMax = intensityRange(scan, proto)
	}

	reader, err := cv.NewReader(buffers)
	if err != nil {
		return nil, err
	}

	pc := &cloud.PointCloud{
		XYZ:          make([]float64, 0, count*3),
		HasColor:     wantColor,
		HasIntensity: wantIntensity,
	}
	var done int64
	for done < count {
		if sink.Cancelled() {
			return nil, errs.New(errs.Cancelled, "cancelled after %d of %d points", done, count)
		}
		n, err := reader.Read()
		if err != nil {
			return nil, err
		}
		if n == 0 {
			break
		}
		if int64(n) > count-done {
			n = int(count - done)
		}
		for j := 0; j < n; j++ {
			pc.XYZ = append(pc.XYZ, xBuf[j], yBuf[j], zBuf[j])
			if wantColor {
				pc.Colors = append(pc.Colors, rBuf[j], gBuf[j], bBuf[j])
			}
			if wantIntensity {
				pc.Intensity = append(pc.Intensity, normalizeIntensity(iBuf[j], iMin, iMax))
			}
		}
		done += int64(n)
		sink.Report(int(done*100/max64(count, 1)), "Reading point records")
	}

	if total > 0 && done < count {
		return nil, errs.New(errs.FormatTruncated, "scan %d ended after %d of %d records", i, done, count)
	}

	if opts.Method == cloud.VoxelGrid {
		sink.Report(95, "Applying voxel grid filter")
		filtered, err := voxel.Filter(pc.XYZ, opts.LeafSize, opts.MinPointsPerVoxel)
		if err != nil {
			return nil, err
		}
		monitoring.Debugf("e57: voxel grid reduced %d points to %d", pc.Count(), len(filtered)/3)
		pc = &cloud.PointCloud{XYZ: filtered}
	}
	if opts.SubsamplingRatio < 1 {
		pc.StrideSubsample(opts.SubsamplingRatio)
	}

	sink.Report(100, "Scan loaded")
	return pc, nil
}

func normalizeIntensity(raw float32, min, max float64) float32 {
	if max > min {
		return float32((float64(raw) - min) / (max - min))
	}
	return raw
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}

// AddScan appends a scan to a file open for writing: Cartesian bounds, name,
// GUID, optional acquisition start, a prototype matching the cloud's
// channels, and the point records themselves. It returns the scan's GUID.
func (f *File) AddScan(name string, acquisitionStart float64, pc *cloud.PointCloud, sink progress.Sink) (string, error) {
	if f.mode != modeWrite {
		return "", errs.New(errs.InvalidArgument, "file %s is not open for writing", f.path)
	}
	d3d, err := f.data3D()
	if err != nil {
		return "", err
	}

	scan := NewStructure()
	scanGUID := uuid.New().String()

	bounds, nonEmpty := pc.Bounds()
	if !nonEmpty {
		bounds = cloud.Bounds{} // all six bounds zero for an empty scan
	}
	cb := NewStructure()
	for _, entry := range []struct {
		name  string
		value float64
	}{
		{"xMinimum", bounds.Min.X}, {"xMaximum", bounds.Max.X},
		{"yMinimum", bounds.Min.Y}, {"yMaximum", bounds.Max.Y},
		{"zMinimum", bounds.Min.Z}, {"zMaximum", bounds.Max.Z},
	} {
		if err := cb.Set(entry.name, &FloatNode{Value: entry.value, Min: entry.value, Max: entry.value}); err != nil {
			return "", err
		}
	}
	if err := scan.Set("cartesianBounds", cb); err != nil {
		return "", err
	}
	if err := scan.Set("name", &StringNode{Value: name}); err != nil {
		return "", err
	}
	if err := scan.Set("guid", &StringNode{Value: scanGUID}); err != nil {
		return "", err
	}
	if acquisitionStart != 0 {
		start := NewStructure()
		if err := start.Set("dateTimeValue", &FloatNode{Value: acquisitionStart}); err != nil {
			return "", err
		}
		if err := scan.Set("acquisitionStart", start); err != nil {
			return "", err
		}
	}

	proto := NewStructure()
	protoSet := func(fieldName string, n Node) error { return proto.Set(fieldName, n) }
	if err := protoSet("cartesianX", &FloatNode{Precision: PrecisionDouble, Min: bounds.Min.X, Max: bounds.Max.X}); err != nil {
		return "", err
	}
	if err := protoSet("cartesianY", &FloatNode{Precision: PrecisionDouble, Min: bounds.Min.Y, Max: bounds.Max.Y}); err != nil {
		return "", err
	}
	if err := protoSet("cartesianZ", &FloatNode{Precision: PrecisionDouble, Min: bounds.Min.Z, Max: bounds.Max.Z}); err != nil {
		return "", err
	}
	if pc.HasColor {
		for _, channel := range []string{"colorRed", "colorGreen", "colorBlue"} {
			if err := protoSet(channel, &IntegerNode{Min: 0, Max: 255}); err != nil {
				return "", err
			}
		}
		limits := NewStructure()
		for _, channel := range []string{"colorRed", "colorGreen", "colorBlue"} {
			if err := limits.Set(channel+"Minimum", &IntegerNode{Min: 0, Max: 255}); err != nil {
				return "", err
			}
			if err := limits.Set(channel+"Maximum", &IntegerNode{Value: 255, Min: 0, Max: 255}); err != nil {
				return "", err
			}
		}
		if err := scan.Set("colorLimits", limits); err != nil {
			return "", err
		}
	}
	if pc.HasIntensity {
		if err := protoSet("intensity", &FloatNode{Precision: PrecisionSingle, Min: 0, Max: 1}); err != nil {
			return "", err
		}
		limits := NewStructure()
		if err := limits.Set("intensityMinimum", &FloatNode{Precision: PrecisionSingle}); err != nil {
			return "", err
		}
		if err := limits.Set("intensityMaximum", &FloatNode{Precision: PrecisionSingle, Value: 1}); err != nil {
			return "", err
		}
		if err := scan.Set("intensityLimits", limits); err != nil {
			return "", err
		}
	}

	cv := &CompressedVectorNode{
		Prototype: proto,
		Codecs:    &VectorNode{AllowHeterogeneous: true},
		file:      f,
	}
	if err := scan.Set("points", cv); err != nil {
		return "", err
	}

	if err := f.writeRecords(cv, pc, sink); err != nil {
		return "", err
	}

	d3d.Append(scan)
	monitoring.Debugf("e57: wrote scan %q, %d points", name, pc.Count())
	return scanGUID, nil
}

func (f *File) writeRecords(cv *CompressedVectorNode, pc *cloud.PointCloud, sink progress.Sink) error {
	count := pc.Count()
	if count == 0 {
		// nothing to stream; the section is empty and recordCount stays 0
		cv.fileOffset = f.bodyOffset
		return nil
	}
	blockCap := pointsPerBlock
	if count < blockCap {
		blockCap = count
	}

	xBuf := make([]float64, blockCap)
	yBuf := make([]float64, blockCap)
	zBuf := make([]float64, blockCap)
	buffers := []SourceDestBuffer{
		{FieldName: "cartesianX", Doubles: xBuf},
		{FieldName: "cartesianY", Doubles: yBuf},
		{FieldName: "cartesianZ", Doubles: zBuf},
	}
	var rBuf, gBuf, bBuf []uint8
	if pc.HasColor {
		rBuf = make([]uint8, blockCap)
		gBuf = make([]uint8, blockCap)
		bBuf = make([]uint8, blockCap)
		buffers = append(buffers,
			SourceDestBuffer{FieldName: "colorRed", Uint8s: rBuf},
			SourceDestBuffer{FieldName: "colorGreen", Uint8s: gBuf},
			SourceDestBuffer{FieldName: "colorBlue", Uint8s: bBuf},
		)
	}
	var iBuf []float32
	if pc.HasIntensity {
		iBuf = make([]float32, blockCap)
		buffers = append(buffers, SourceDestBuffer{FieldName: "intensity", Floats: iBuf})
	}

	writer, err := cv.NewWriter(buffers)
	if err != nil {
		return err
	}
	defer writer.Close()

	for done := 0; done < count; {
		if sink.Cancelled() {
			return errs.New(errs.Cancelled, "cancelled after %d of %d points", done, count)
		}
		n := blockCap
		if n > count-done {
			n = count - done
		}
		for j := 0; j < n; j++ {
			src := done + j
			xBuf[j] = pc.XYZ[3*src]
			yBuf[j] = pc.XYZ[3*src+1]
			zBuf[j] = pc.XYZ[3*src+2]
			if pc.HasColor {
				rBuf[j] = pc.Colors[3*src]
				gBuf[j] = pc.Colors[3*src+1]
				bBuf[j] = pc.Colors[3*src+2]
			}
			if pc.HasIntensity {
				iBuf[j] = pc.Intensity[src]
			}
		}
		if err := writer.Write(n); err != nil {
			return err
		}
		done += n
		sink.Report(done*100/count, "Writing point records")
	}

	if cv.recordCount != int64(count) {
		return errs.New(errs.FormatInvalid, "wrote %d records for %d points", cv.recordCount, count)
	}
	return nil
}
