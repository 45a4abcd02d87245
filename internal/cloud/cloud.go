// Package cloud defines the in-memory point cloud model shared by the codecs
// and the load manager.
package cloud

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointCloud holds an ordered point sequence as interleaved XYZ doubles, with
// optional per-point 8-bit RGB color and normalized intensity channels. The
// optional channels are either empty or exactly parallel to the points.
type PointCloud struct {
	XYZ       []float64 // len = 3 * Count()
	Colors    []uint8   // len = 3 * Count() when HasColor
	Intensity []float32 // len = Count() when HasIntensity

	HasColor     bool
	HasIntensity bool
}

// perEntryOverhead approximates the bookkeeping cost of holding a cloud in
// the load manager, beyond the raw buffers.
const perEntryOverhead = 1024

// Count returns the number of points.
func (pc *PointCloud) Count() int { return len(pc.XYZ) / 3 }

// Point returns point i as a vector.
func (pc *PointCloud) Point(i int) r3.Vec {
	return r3.Vec{X: pc.XYZ[3*i], Y: pc.XYZ[3*i+1], Z: pc.XYZ[3*i+2]}
}

// MemoryBytes reports the cost of the cloud's buffers for load-manager
// accounting.
func (pc *PointCloud) MemoryBytes() int64 {
	return int64(len(pc.XYZ))*8 + int64(len(pc.Colors)) + int64(len(pc.Intensity))*4 + perEntryOverhead
}

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min r3.Vec
	Max r3.Vec
}

// Contains reports whether p lies inside the box (inclusive).
func (b Bounds) Contains(p r3.Vec) bool {
	return p.X >= b.Min.X && p.X <= b.Max.X &&
		p.Y >= b.Min.Y && p.Y <= b.Max.Y &&
		p.Z >= b.Min.Z && p.Z <= b.Max.Z
}

// Bounds computes the componentwise min/max over the cloud's points. The
// second return is false for an empty cloud, in which case the box is zero.
func (pc *PointCloud) Bounds() (Bounds, bool) {
	if pc.Count() == 0 {
		return Bounds{}, false
	}
	min := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	max := r3.Vec{X: math.Inf(-1), Y: math.Inf(-1), Z: math.Inf(-1)}
	for i := 0; i < pc.Count(); i++ {
		p := pc.Point(i)
		min.X = math.Min(min.X, p.X)
		min.Y = math.Min(min.Y, p.Y)
		min.Z = math.Min(min.Z, p.Z)
		max.X = math.Max(max.X, p.X)
		max.Y = math.Max(max.Y, p.Y)
		max.Z = math.Max(max.Z, p.Z)
	}
	return Bounds{Min: min, Max: max}, true
}

// Truncate drops all points past n. A negative n is a no-op.
func (pc *PointCloud) Truncate(n int) {
	if n < 0 || n >= pc.Count() {
		return
	}
	pc.XYZ = pc.XYZ[:3*n]
	if pc.HasColor {
		pc.Colors = pc.Colors[:3*n]
	}
	if pc.HasIntensity {
		pc.Intensity = pc.Intensity[:n]
	}
}

// StrideSubsample keeps roughly ratio*Count() points by taking every k-th
// point, preserving file order. A ratio outside (0,1) is a no-op.
func (pc *PointCloud) StrideSubsample(ratio float64) {
	if ratio <= 0 || ratio >= 1 || pc.Count() == 0 {
		return
	}
	stride := int(math.Ceil(1 / ratio))
	out := &PointCloud{HasColor: pc.HasColor, HasIntensity: pc.HasIntensity}
	for i := 0; i < pc.Count(); i += stride {
		out.appendFrom(pc, i)
	}
	*pc = *out
}

// BernoulliSample returns an independent cloud keeping each point with
// probability rate, drawn from rng.
func (pc *PointCloud) BernoulliSample(rate float64, rng *rand.Rand) *PointCloud {
	out := &PointCloud{HasColor: pc.HasColor, HasIntensity: pc.HasIntensity}
	for i := 0; i < pc.Count(); i++ {
		if rng.Float64() < rate {
			out.appendFrom(pc, i)
		}
	}
	return out
}

// Merge appends src's points to pc. Optional channels survive only when both
// clouds carry them, keeping the slices parallel to the coordinate array.
func (pc *PointCloud) Merge(src *PointCloud) {
	pc.HasColor = pc.HasColor && src.HasColor
	pc.HasIntensity = pc.HasIntensity && src.HasIntensity
	if !pc.HasColor {
		pc.Colors = nil
	}
	if !pc.HasIntensity {
		pc.Intensity = nil
	}
	pc.XYZ = append(pc.XYZ, src.XYZ...)
	if pc.HasColor {
		pc.Colors = append(pc.Colors, src.Colors...)
	}
	if pc.HasIntensity {
		pc.Intensity = append(pc.Intensity, src.Intensity...)
	}
}

func (pc *PointCloud) appendFrom(src *PointCloud, i int) {
	pc.XYZ = append(pc.XYZ, src.XYZ[3*i], src.XYZ[3*i+1], src.XYZ[3*i+2])
	if src.HasColor {
		pc.Colors = append(pc.Colors, src.Colors[3*i], src.Colors[3*i+1], src.Colors[3*i+2])
	}
	if src.HasIntensity {
		pc.Intensity = append(pc.Intensity, src.Intensity[i])
	}
}
