package e57

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/progress"
)

func testCloud(n int, color, intensity bool) *cloud.PointCloud {
	pc := &cloud.PointCloud{HasColor: color, HasIntensity: intensity}
	for i := 0; i < n; i++ {
		pc.XYZ = append(pc.XYZ, float64(i)*0.5, float64(i)*-0.25, float64(i))
		if color {
			pc.Colors = append(pc.Colors, uint8(i%256), uint8((i*7)%256), uint8((i*13)%256))
		}
		if intensity {
			pc.Intensity = append(pc.Intensity, float32(i%100)/100)
		}
	}
	return pc
}

func writeTestFile(t *testing.T, path string, scans map[string]*cloud.PointCloud) {
	t.Helper()
	f, err := Create(path)
	require.NoError(t, err)
	for name, pc := range scans {
		_, err := f.AddScan(name, 0, pc, progress.Nop())
		require.NoError(t, err)
	}
	require.NoError(t, f.Close())
}

func TestRoundTripSingleScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scan.e57")
	want := testCloud(1000, true, true)

	f, err := Create(path)
	require.NoError(t, err)
	guid, err := f.AddScan("Bridge East", 1234.5, want, progress.Nop())
	require.NoError(t, err)
	require.NotEmpty(t, guid)
	require.NoError(t, f.Close())

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	require.Equal(t, 1, rf.ScanCount())
	require.NotEmpty(t, rf.GUID())

	info, err := rf.ScanInfo(0)
	require.NoError(t, err)
	assert.Equal(t, "Bridge East", info.Name)
	assert.Equal(t, guid, info.GUID)
	assert.Equal(t, int64(1000), info.PointCount)
	assert.True(t, info.HasColor)
	assert.True(t, info.HasIntensity)
	assert.Equal(t, 1234.5, info.AcquisitionStart)

	wantBounds, _ := want.Bounds()
	require.True(t, info.HasBounds)
	assert.Equal(t, wantBounds, info.Bounds)

	got, err := rf.ReadScan(0, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	require.Equal(t, want.Count(), got.Count())
	assert.Equal(t, want.XYZ, got.XYZ)
	assert.Equal(t, want.Colors, got.Colors)
	for i := range want.Intensity {
		assert.InDelta(t, want.Intensity[i], got.Intensity[i], 1e-6)
	}
}

func TestRoundTripMultiBlock(t *testing.T) {
	// spans two codec blocks
	path := filepath.Join(t.TempDir(), "big.e57")
	want := testCloud(pointsPerBlock+123, false, false)
	writeTestFile(t, path, map[string]*cloud.PointCloud{"big": want})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	got, err := rf.ReadScan(0, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, want.XYZ, got.XYZ)
}

func TestEmptyScanBounds(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"empty": {}})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	info, err := rf.ScanInfo(0)
	require.NoError(t, err)
	require.True(t, info.HasBounds)
	assert.Equal(t, cloud.Bounds{}, info.Bounds)
	assert.Equal(t, int64(0), info.PointCount)

	got, err := rf.ReadScan(0, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count())
}

func TestHeaderOnlyLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "h.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": testCloud(50, true, false)})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	opts := cloud.DefaultLoadOptions()
	opts.Method = cloud.HeaderOnly
	got, err := rf.ReadScan(0, opts, progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, 0, got.Count())
	assert.True(t, got.HasColor)
	assert.False(t, got.HasIntensity)
}

func TestMaxPointsPerScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cap.e57")
	want := testCloud(500, false, false)
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": want})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	opts := cloud.DefaultLoadOptions()
	opts.MaxPointsPerScan = 100
	got, err := rf.ReadScan(0, opts, progress.Nop())
	require.NoError(t, err)
	require.Equal(t, 100, got.Count())
	assert.Equal(t, want.XYZ[:300], got.XYZ)
}

func TestChannelsSkippedOnRequest(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chan.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": testCloud(10, true, true)})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	opts := cloud.DefaultLoadOptions()
	opts.LoadColor = false
	opts.LoadIntensity = false
	got, err := rf.ReadScan(0, opts, progress.Nop())
	require.NoError(t, err)
	assert.False(t, got.HasColor)
	assert.False(t, got.HasIntensity)
	assert.Empty(t, got.Colors)
	assert.Empty(t, got.Intensity)
	assert.Equal(t, 10, got.Count())
}

func TestVoxelGridLoad(t *testing.T) {
	// two tight clusters collapse to two centroids
	pc := &cloud.PointCloud{}
	for i := 0; i < 8; i++ {
		pc.XYZ = append(pc.XYZ, float64(i)*0.001, 0, 0)
	}
	for i := 0; i < 8; i++ {
		pc.XYZ = append(pc.XYZ, 10+float64(i)*0.001, 0, 0)
	}
	path := filepath.Join(t.TempDir(), "vox.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": pc})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	opts := cloud.DefaultLoadOptions()
	opts.Method = cloud.VoxelGrid
	opts.LeafSize = 1.0
	got, err := rf.ReadScan(0, opts, progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, got.Count())
}

func TestScanNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": testCloud(5, false, false)})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.ScanInfo(3)
	assert.True(t, errs.HasKind(err, errs.ScanNotFound), "got %v", err)
	_, err = rf.ReadScan(3, cloud.DefaultLoadOptions(), progress.Nop())
	assert.True(t, errs.HasKind(err, errs.ScanNotFound), "got %v", err)
}

func TestPrototypeMissingXYZ(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noz.e57")
	f, err := Create(path)
	require.NoError(t, err)

	proto := NewStructure()
	require.NoError(t, proto.Set("cartesianX", &FloatNode{Precision: PrecisionDouble}))
	require.NoError(t, proto.Set("cartesianY", &FloatNode{Precision: PrecisionDouble}))
	cv := &CompressedVectorNode{Prototype: proto, Codecs: &VectorNode{AllowHeterogeneous: true}, file: f}
	w, err := cv.NewWriter([]SourceDestBuffer{
		{FieldName: "cartesianX", Doubles: []float64{1, 2}},
		{FieldName: "cartesianY", Doubles: []float64{3, 4}},
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(2))
	require.NoError(t, w.Close())

	scan := NewStructure()
	require.NoError(t, scan.Set("points", cv))
	d3d, err := f.data3D()
	require.NoError(t, err)
	d3d.Append(scan)
	require.NoError(t, f.Close())

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	_, err = rf.ReadScan(0, cloud.DefaultLoadOptions(), progress.Nop())
	assert.True(t, errs.HasKind(err, errs.PrototypeMissingXYZ), "got %v", err)

	// metadata stays readable
	info, err := rf.ScanInfo(0)
	require.NoError(t, err)
	assert.Equal(t, int64(2), info.PointCount)
}

func TestIntensityNormalization(t *testing.T) {
	path := filepath.Join(t.TempDir(), "inorm.e57")
	f, err := Create(path)
	require.NoError(t, err)

	proto := NewStructure()
	require.NoError(t, proto.Set("cartesianX", &FloatNode{Precision: PrecisionDouble}))
	require.NoError(t, proto.Set("cartesianY", &FloatNode{Precision: PrecisionDouble}))
	require.NoError(t, proto.Set("cartesianZ", &FloatNode{Precision: PrecisionDouble}))
	require.NoError(t, proto.Set("intensity", &FloatNode{Precision: PrecisionSingle, Min: 0, Max: 200}))
	cv := &CompressedVectorNode{Prototype: proto, Codecs: &VectorNode{AllowHeterogeneous: true}, file: f}
	w, err := cv.NewWriter([]SourceDestBuffer{
		{FieldName: "cartesianX", Doubles: []float64{0, 0}},
		{FieldName: "cartesianY", Doubles: []float64{0, 0}},
		{FieldName: "cartesianZ", Doubles: []float64{0, 0}},
		{FieldName: "intensity", Floats: []float32{50, 200}},
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(2))
	require.NoError(t, w.Close())

	scan := NewStructure()
	limits := NewStructure()
	require.NoError(t, limits.Set("intensityMinimum", &FloatNode{Value: 0}))
	require.NoError(t, limits.Set("intensityMaximum", &FloatNode{Value: 200}))
	require.NoError(t, scan.Set("intensityLimits", limits))
	require.NoError(t, scan.Set("points", cv))
	d3d, err := f.data3D()
	require.NoError(t, err)
	d3d.Append(scan)
	require.NoError(t, f.Close())

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	got, err := rf.ReadScan(0, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	require.True(t, got.HasIntensity)
	assert.InDelta(t, 0.25, got.Intensity[0], 1e-6)
	assert.InDelta(t, 1.0, got.Intensity[1], 1e-6)
}

func TestReadCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancel.e57")
	writeTestFile(t, path, map[string]*cloud.PointCloud{"s": testCloud(pointsPerBlock+10, false, false)})

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	rec := &progress.Recorder{CancelAfter: 1}
	_, err = rf.ReadScan(0, cloud.DefaultLoadOptions(), rec)
	assert.True(t, errs.HasKind(err, errs.Cancelled), "got %v", err)
}

func TestOpenRejectsGarbage(t *testing.T) {
	dir := t.TempDir()

	short := filepath.Join(dir, "short.e57")
	require.NoError(t, os.WriteFile(short, []byte("tiny"), 0o644))
	_, err := Open(short)
	assert.True(t, errs.HasKind(err, errs.FormatTruncated), "got %v", err)

	badSig := filepath.Join(dir, "badsig.e57")
	require.NoError(t, os.WriteFile(badSig, make([]byte, 256), 0o644))
	_, err = Open(badSig)
	assert.True(t, errs.HasKind(err, errs.FormatInvalidSignature), "got %v", err)

	_, err = Open(filepath.Join(dir, "missing.e57"))
	assert.True(t, errs.HasKind(err, errs.IO), "got %v", err)
}

func TestXMLRoundTrip(t *testing.T) {
	root := NewStructure()
	require.NoError(t, root.Set("name", &StringNode{Value: "station 12 <&>"}))
	require.NoError(t, root.Set("count", &IntegerNode{Value: 42, Min: 0, Max: 100}))
	require.NoError(t, root.Set("scaled", &ScaledIntegerNode{Raw: -7, Min: -100, Max: 100, Scale: 0.001, Offset: 2.5}))
	require.NoError(t, root.Set("temp", &FloatNode{Value: math.Pi, Min: -50, Max: 50}))
	require.NoError(t, root.Set("ratio", &FloatNode{Value: 0.5, Precision: PrecisionSingle}))
	vec := &VectorNode{AllowHeterogeneous: true}
	vec.Append(&IntegerNode{Value: 1})
	vec.Append(&StringNode{Value: "two"})
	require.NoError(t, root.Set("items", vec))
	inner := NewStructure()
	require.NoError(t, inner.Set("blob", &BlobNode{FileOffset: 48, Length: 16}))
	require.NoError(t, root.Set("inner", inner))

	data, err := serializeXML(root)
	require.NoError(t, err)
	got, err := parseXML(data, nil)
	require.NoError(t, err)

	n, err := Lookup(got, "scaled")
	require.NoError(t, err)
	si := n.(*ScaledIntegerNode)
	assert.Equal(t, int64(-7), si.Raw)
	assert.Equal(t, 0.001, si.Scale)
	assert.Equal(t, 2.5, si.Offset)
	assert.InDelta(t, -7*0.001+2.5, si.Value(), 1e-12)

	n, err = Lookup(got, "temp")
	require.NoError(t, err)
	assert.Equal(t, math.Pi, n.(*FloatNode).Value)

	n, err = Lookup(got, "ratio")
	require.NoError(t, err)
	assert.Equal(t, PrecisionSingle, n.(*FloatNode).Precision)

	n, err = Lookup(got, "name")
	require.NoError(t, err)
	assert.Equal(t, "station 12 <&>", n.(*StringNode).Value)

	n, err = Lookup(got, "items/1")
	require.NoError(t, err)
	assert.Equal(t, "two", n.(*StringNode).Value)

	n, err = Lookup(got, "inner/blob")
	require.NoError(t, err)
	assert.Equal(t, int64(48), n.(*BlobNode).FileOffset)
}

func TestStructureRejectsDuplicates(t *testing.T) {
	s := NewStructure()
	require.NoError(t, s.Set("a", &IntegerNode{}))
	err := s.Set("a", &IntegerNode{})
	assert.True(t, errs.HasKind(err, errs.FormatInvalid), "got %v", err)
}

func TestCloseIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "idem.e57")
	f, err := Create(path)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	require.NoError(t, f.Close())

	rf, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, rf.Close())
	require.NoError(t, rf.Close())
}

func TestReadConcatenatesScans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "multi.e57")
	f, err := Create(path)
	require.NoError(t, err)
	_, err = f.AddScan("a", 0, testCloud(10, true, true), progress.Nop())
	require.NoError(t, err)
	_, err = f.AddScan("b", 0, testCloud(20, false, false), progress.Nop())
	require.NoError(t, err)
	require.NoError(t, f.Close())

	got, err := Read(path, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, 30, got.Count())
	// channel availability is the intersection across scans
	assert.False(t, got.HasColor)
	assert.False(t, got.HasIntensity)

	infos, err := ReadHeader(path)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, "a", infos[0].Name)
	assert.Equal(t, "b", infos[1].Name)
}

func TestWriteHelper(t *testing.T) {
	path := filepath.Join(t.TempDir(), "helper.e57")
	want := testCloud(64, true, false)
	require.NoError(t, Write(path, "exported", want, progress.Nop()))

	infos, err := ReadHeader(path)
	require.NoError(t, err)
	require.Len(t, infos, 1)
	assert.Equal(t, "exported", infos[0].Name)
	assert.Equal(t, int64(64), infos[0].PointCount)
	assert.True(t, infos[0].HasColor)
}

func TestWriteScans(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch.e57")
	a := testCloud(10, false, false)
	b := testCloud(25, false, false)
	err := WriteScans(path, []NamedCloud{
		{Name: "station 1", Points: a},
		{Name: "station 2", Points: b},
	}, progress.Nop())
	require.NoError(t, err)

	rf, err := Open(path)
	require.NoError(t, err)
	defer rf.Close()

	require.Equal(t, 2, rf.ScanCount())
	got, err := rf.ReadScan(1, cloud.DefaultLoadOptions(), progress.Nop())
	require.NoError(t, err)
	assert.Equal(t, b.XYZ, got.XYZ)

	infos, err := ReadHeader(path)
	require.NoError(t, err)
	assert.Equal(t, "station 1", infos[0].Name)
	assert.Equal(t, "station 2", infos[1].Name)
}

func TestWriteScansCancellation(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cancelled.e57")
	rec := &progress.Recorder{CancelAfter: 1}
	err := WriteScans(path, []NamedCloud{
		{Name: "first", Points: testCloud(100, false, false)},
		{Name: "second", Points: testCloud(100, false, false)},
	}, rec)
	require.Error(t, err)
	assert.True(t, errs.HasKind(err, errs.Cancelled))
}
