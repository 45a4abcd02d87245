// Package voxel reduces a point list to one centroid per occupied voxel.
//
// Points are bucketed by integer voxel index relative to the cloud's minimum
// corner; buckets below a population threshold are discarded.
package voxel

import (
	"math"

	"gonum.org/v1/gonum/spatial/r3"

	"github.com/pointscape/pointscape/internal/errs"
)

// Spatial hash primes, one per axis.
const (
	primeX = 73856093
	primeY = 19349663
	primeZ = 83492791
)

type key struct {
	x, y, z int64
}

func (k key) hash() uint64 {
	return uint64(k.x*primeX) ^ uint64(k.y*primeY) ^ uint64(k.z*primeZ)
}

// bucket accumulates the points of one voxel. Buckets whose keys collide on
// the spatial hash are chained.
type bucket struct {
	key   key
	sum   r3.Vec
	count int
	next  *bucket
}

// Filter buckets the interleaved XYZ sequence into cubes of side leafSize and
// returns the centroid of every bucket holding at least minPoints points.
// Output order is unspecified. Empty input yields empty output.
func Filter(points []float64, leafSize float64, minPoints int) ([]float64, error) {
	if leafSize <= 0 {
		return nil, errs.New(errs.InvalidArgument, "leaf size must be > 0, got %g", leafSize)
	}
	if minPoints < 1 {
		return nil, errs.New(errs.InvalidArgument, "min points per voxel must be >= 1, got %d", minPoints)
	}
	if len(points)%3 != 0 {
		return nil, errs.New(errs.InvalidArgument, "point buffer length %d is not a multiple of 3", len(points))
	}
	if len(points) == 0 {
		return nil, nil
	}

	min := r3.Vec{X: math.Inf(1), Y: math.Inf(1), Z: math.Inf(1)}
	n := len(points) / 3
	for i := 0; i < n; i++ {
		min.X = math.Min(min.X, points[3*i])
		min.Y = math.Min(min.Y, points[3*i+1])
		min.Z = math.Min(min.Z, points[3*i+2])
	}

	table := make(map[uint64]*bucket, n/4+1)
	occupied := 0
	for i := 0; i < n; i++ {
		p := r3.Vec{X: points[3*i], Y: points[3*i+1], Z: points[3*i+2]}
		k := key{
			x: int64(math.Floor((p.X - min.X) / leafSize)),
			y: int64(math.Floor((p.Y - min.Y) / leafSize)),
			z: int64(math.Floor((p.Z - min.Z) / leafSize)),
		}
		h := k.hash()
		b := table[h]
		for b != nil && b.key != k {
			b = b.next
		}
		if b == nil {
			b = &bucket{key: k, next: table[h]}
			table[h] = b
			occupied++
		}
		b.sum = r3.Add(b.sum, p)
		b.count++
	}

	out := make([]float64, 0, occupied*3)
	for _, head := range table {
		for b := head; b != nil; b = b.next {
			if b.count < minPoints {
				continue
			}
			c := r3.Scale(1/float64(b.count), b.sum)
			out = append(out, c.X, c.Y, c.Z)
		}
	}
	return out, nil
}
