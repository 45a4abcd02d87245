package voxel

import (
	"math"
	"math/rand"
	"sort"
	"testing"

	"github.com/pointscape/pointscape/internal/errs"
)

// sortTriples orders interleaved XYZ output for comparison, since Filter's
// output order is unspecified.
func sortTriples(points []float64) [][3]float64 {
	triples := make([][3]float64, 0, len(points)/3)
	for i := 0; i+2 < len(points); i += 3 {
		triples = append(triples, [3]float64{points[i], points[i+1], points[i+2]})
	}
	sort.Slice(triples, func(a, b int) bool {
		if triples[a][0] != triples[b][0] {
			return triples[a][0] < triples[b][0]
		}
		if triples[a][1] != triples[b][1] {
			return triples[a][1] < triples[b][1]
		}
		return triples[a][2] < triples[b][2]
	})
	return triples
}

func TestFilterCentroids(t *testing.T) {
	// two points in one voxel, one point far away
	in := []float64{
		0, 0, 0,
		0.01, 0.01, 0.01,
		1, 1, 1,
	}
	out, err := Filter(in, 0.1, 1)
	if err != nil {
		t.Fatal(err)
	}
	got := sortTriples(out)
	if len(got) != 2 {
		t.Fatalf("got %d centroids, want 2", len(got))
	}
	wantNear := [3]float64{0.005, 0.005, 0.005}
	for axis := 0; axis < 3; axis++ {
		if math.Abs(got[0][axis]-wantNear[axis]) > 1e-12 {
			t.Errorf("centroid[0][%d] = %v, want %v", axis, got[0][axis], wantNear[axis])
		}
	}
	if got[1] != [3]float64{1, 1, 1} {
		t.Errorf("centroid[1] = %v, want (1,1,1)", got[1])
	}
}

func TestFilterMinPopulation(t *testing.T) {
	in := []float64{
		0, 0, 0,
		0.01, 0.01, 0.01,
		1, 1, 1,
	}
	out, err := Filter(in, 0.1, 2)
	if err != nil {
		t.Fatal(err)
	}
	got := sortTriples(out)
	if len(got) != 1 {
		t.Fatalf("got %d centroids, want 1", len(got))
	}
	if math.Abs(got[0][0]-0.005) > 1e-12 {
		t.Errorf("surviving centroid = %v, want (0.005,...)", got[0])
	}
}

func TestFilterIdempotentOnCoarseGrid(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	in := make([]float64, 0, 3000)
	for i := 0; i < 1000; i++ {
		in = append(in, rng.Float64()*10, rng.Float64()*10, rng.Float64()*10)
	}
	once, err := Filter(in, 1.0, 1)
	if err != nil {
		t.Fatal(err)
	}
	twice, err := Filter(once, 1.0, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(twice) != len(once) {
		t.Errorf("second pass changed count: %d -> %d", len(once)/3, len(twice)/3)
	}
}

func TestFilterOutputWithinInputBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	in := make([]float64, 0, 900)
	for i := 0; i < 300; i++ {
		in = append(in, rng.Float64()*4-2, rng.Float64()*4-2, rng.Float64()*4-2)
	}
	out, err := Filter(in, 0.5, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) > len(in) {
		t.Errorf("output count %d exceeds input %d", len(out)/3, len(in)/3)
	}
	for i := 0; i+2 < len(out); i += 3 {
		for axis := 0; axis < 3; axis++ {
			if out[i+axis] < -2 || out[i+axis] > 2 {
				t.Fatalf("centroid %v outside input bounds", out[i:i+3])
			}
		}
	}
}

func TestFilterErrors(t *testing.T) {
	if _, err := Filter([]float64{1, 2, 3}, 0, 1); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("leaf 0: kind = %q", errs.KindOf(err))
	}
	if _, err := Filter([]float64{1, 2, 3}, -0.5, 1); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("negative leaf: kind = %q", errs.KindOf(err))
	}
	if _, err := Filter([]float64{1, 2}, 0.1, 1); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("odd length: kind = %q", errs.KindOf(err))
	}
	if _, err := Filter([]float64{1, 2, 3}, 0.1, 0); !errs.HasKind(err, errs.InvalidArgument) {
		t.Errorf("minPoints 0: kind = %q", errs.KindOf(err))
	}
}

func TestFilterEmptyInput(t *testing.T) {
	out, err := Filter(nil, 0.1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 0 {
		t.Errorf("empty input produced %d values", len(out))
	}
}
