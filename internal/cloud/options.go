package cloud

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pointscape/pointscape/internal/errs"
)

// LoadMethod selects how much of a scan file is materialized.
type LoadMethod string

const (
	FullLoad   LoadMethod = "full_load"
	HeaderOnly LoadMethod = "header_only"
	VoxelGrid  LoadMethod = "voxel_grid"
)

// LoadOptions are the recognized settings for the load step. The JSON shape
// doubles as the on-disk settings file format.
type LoadOptions struct {
	Method            LoadMethod `json:"method"`
	LeafSize          float64    `json:"leaf_size"`
	MinPointsPerVoxel int        `json:"min_points_per_voxel"`
	LoadIntensity     bool       `json:"load_intensity"`
	LoadColor         bool       `json:"load_color"`
	MaxPointsPerScan  int        `json:"max_points_per_scan"` // -1 = unlimited
	SubsamplingRatio  float64    `json:"subsampling_ratio"`   // (0,1]
	MemoryLimitBytes  int64      `json:"memory_limit_bytes"`  // 0 = manager default
}

// DefaultLoadOptions returns the full-load defaults.
func DefaultLoadOptions() LoadOptions {
	return LoadOptions{
		Method:            FullLoad,
		LeafSize:          0.1,
		MinPointsPerVoxel: 1,
		LoadIntensity:     true,
		LoadColor:         true,
		MaxPointsPerScan:  -1,
		SubsamplingRatio:  1,
	}
}

// Validate checks option ranges before a load begins.
func (o LoadOptions) Validate() error {
	switch o.Method {
	case FullLoad, HeaderOnly, VoxelGrid:
	default:
		return errs.New(errs.InvalidArgument, "unknown load method %q", o.Method)
	}
	if o.Method == VoxelGrid {
		if o.LeafSize <= 0 {
			return errs.New(errs.InvalidArgument, "leaf_size must be > 0, got %g", o.LeafSize)
		}
		if o.MinPointsPerVoxel < 1 {
			return errs.New(errs.InvalidArgument, "min_points_per_voxel must be >= 1, got %d", o.MinPointsPerVoxel)
		}
	}
	if o.SubsamplingRatio <= 0 || o.SubsamplingRatio > 1 {
		return errs.New(errs.InvalidArgument, "subsampling_ratio must be in (0,1], got %g", o.SubsamplingRatio)
	}
	return nil
}

// LoadOptionsFromFile reads a JSON settings file over the defaults, so a
// partial file only overrides what it names.
func LoadOptionsFromFile(path string) (LoadOptions, error) {
	opts := DefaultLoadOptions()
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("reading load settings: %w", err)
	}
	if err := json.Unmarshal(data, &opts); err != nil {
		return opts, fmt.Errorf("parsing load settings %s: %w", path, err)
	}
	if err := opts.Validate(); err != nil {
		return opts, err
	}
	return opts, nil
}
