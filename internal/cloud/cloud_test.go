package cloud

import (
	"math/rand"
	"path/filepath"
	"os"
	"testing"

	"github.com/pointscape/pointscape/internal/errs"
	"gonum.org/v1/gonum/spatial/r3"
)

func testCloud(n int) *PointCloud {
	pc := &PointCloud{HasColor: true, HasIntensity: true}
	for i := 0; i < n; i++ {
		f := float64(i)
		pc.XYZ = append(pc.XYZ, f, f*2, f*3)
		pc.Colors = append(pc.Colors, uint8(i), uint8(i+1), uint8(i+2))
		pc.Intensity = append(pc.Intensity, float32(i)/float32(n))
	}
	return pc
}

func TestBounds(t *testing.T) {
	pc := &PointCloud{XYZ: []float64{
		0, 0, 0,
		1, 2, 3,
		-1, -2, -3,
		10.5, 20.5, 30.5,
		-5.5, 15.5, -25.5,
	}}
	b, ok := pc.Bounds()
	if !ok {
		t.Fatal("Bounds on non-empty cloud returned ok=false")
	}
	wantMin := r3.Vec{X: -5.5, Y: -2, Z: -25.5}
	wantMax := r3.Vec{X: 10.5, Y: 20.5, Z: 30.5}
	if b.Min != wantMin || b.Max != wantMax {
		t.Errorf("Bounds = %+v/%+v, want %+v/%+v", b.Min, b.Max, wantMin, wantMax)
	}
}

func TestBoundsEmpty(t *testing.T) {
	pc := &PointCloud{}
	b, ok := pc.Bounds()
	if ok {
		t.Error("Bounds on empty cloud returned ok=true")
	}
	if b.Min != (r3.Vec{}) || b.Max != (r3.Vec{}) {
		t.Errorf("empty bounds not zero: %+v", b)
	}
}

func TestTruncate(t *testing.T) {
	pc := testCloud(10)
	pc.Truncate(4)
	if pc.Count() != 4 {
		t.Fatalf("Count after Truncate = %d, want 4", pc.Count())
	}
	if len(pc.Colors) != 12 || len(pc.Intensity) != 4 {
		t.Errorf("channels not truncated in parallel: colors=%d intensity=%d", len(pc.Colors), len(pc.Intensity))
	}
	pc.Truncate(-1) // unlimited, no-op
	if pc.Count() != 4 {
		t.Errorf("Truncate(-1) changed count to %d", pc.Count())
	}
}

func TestStrideSubsample(t *testing.T) {
	pc := testCloud(100)
	pc.StrideSubsample(0.25)
	if pc.Count() != 25 {
		t.Errorf("Count after 0.25 stride = %d, want 25", pc.Count())
	}
	// first kept point is the original first point
	if pc.XYZ[0] != 0 || pc.XYZ[1] != 0 || pc.XYZ[2] != 0 {
		t.Errorf("first point disturbed: %v", pc.XYZ[:3])
	}

	full := testCloud(100)
	full.StrideSubsample(1.0) // no-op
	if full.Count() != 100 {
		t.Errorf("ratio 1.0 should keep everything, got %d", full.Count())
	}
}

func TestBernoulliSample(t *testing.T) {
	pc := testCloud(10000)
	rng := rand.New(rand.NewSource(42))
	lod := pc.BernoulliSample(0.1, rng)
	if lod.Count() == 0 || lod.Count() >= pc.Count() {
		t.Fatalf("LOD count = %d out of %d", lod.Count(), pc.Count())
	}
	// loose band around the expected 1000
	if lod.Count() < 800 || lod.Count() > 1200 {
		t.Errorf("LOD count = %d, want near 1000", lod.Count())
	}
	if len(lod.Colors) != 3*lod.Count() || len(lod.Intensity) != lod.Count() {
		t.Error("LOD channels not parallel to points")
	}
}

func TestMemoryBytes(t *testing.T) {
	pc := testCloud(100)
	want := int64(100*3*8 + 100*3 + 100*4 + perEntryOverhead)
	if got := pc.MemoryBytes(); got != want {
		t.Errorf("MemoryBytes = %d, want %d", got, want)
	}
}

func TestLoadOptionsValidate(t *testing.T) {
	opts := DefaultLoadOptions()
	if err := opts.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}

	opts.Method = VoxelGrid
	opts.LeafSize = 0
	if err := opts.Validate(); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("leaf_size=0: kind = %q, want invalid_argument", errs.KindOf(err))
	}

	opts = DefaultLoadOptions()
	opts.SubsamplingRatio = 1.5
	if err := opts.Validate(); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("ratio=1.5: kind = %q, want invalid_argument", errs.KindOf(err))
	}
}

func TestLoadOptionsFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "settings.json")
	body := `{"method":"voxel_grid","leaf_size":0.25,"min_points_per_voxel":3}`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	opts, err := LoadOptionsFromFile(path)
	if err != nil {
		t.Fatalf("LoadOptionsFromFile: %v", err)
	}
	if opts.Method != VoxelGrid || opts.LeafSize != 0.25 || opts.MinPointsPerVoxel != 3 {
		t.Errorf("overrides not applied: %+v", opts)
	}
	// untouched fields keep their defaults
	if opts.MaxPointsPerScan != -1 || !opts.LoadColor {
		t.Errorf("defaults lost: %+v", opts)
	}
}
