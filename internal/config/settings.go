// Package config loads application settings from JSON files. Every field is
// optional; the Get* accessors fall back to the built-in defaults so partial
// files are safe.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/units"
)

// Settings is the root application configuration. The schema matches the
// project settings JSON, so the same file drives both the CLI flags' defaults
// and per-project overrides.
type Settings struct {
	// Load params
	Method            *string  `json:"method,omitempty"`
	LeafSize          *float64 `json:"leaf_size,omitempty"`
	MinPointsPerVoxel *int     `json:"min_points_per_voxel,omitempty"`
	LoadIntensity     *bool    `json:"load_intensity,omitempty"`
	LoadColor         *bool    `json:"load_color,omitempty"`
	MaxPointsPerScan  *int     `json:"max_points_per_scan,omitempty"`
	SubsamplingRatio  *float64 `json:"subsampling_ratio,omitempty"`

	// Memory params
	MemoryLimit *string  `json:"memory_limit,omitempty"` // byte quantity like "2GiB"
	LODRate     *float64 `json:"lod_rate,omitempty"`

	// Import params
	ImportMode *string `json:"import_mode,omitempty"`
}

// EmptySettings returns a Settings with every field unset.
func EmptySettings() *Settings {
	return &Settings{}
}

// Load reads a Settings from a JSON file. The path must carry a .json
// extension and the file is capped at 1MB.
func Load(path string) (*Settings, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("settings file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat settings file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("settings file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read settings file: %w", err)
	}

	cfg := EmptySettings()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse settings JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid settings: %w", err)
	}
	return cfg, nil
}

// Validate checks that the set fields hold usable values. Unset fields are
// always valid.
func (c *Settings) Validate() error {
	if c.SubsamplingRatio != nil {
		if *c.SubsamplingRatio <= 0 || *c.SubsamplingRatio > 1 {
			return fmt.Errorf("subsampling_ratio must be in (0,1], got %g", *c.SubsamplingRatio)
		}
	}
	if c.LeafSize != nil && *c.LeafSize <= 0 {
		return fmt.Errorf("leaf_size must be positive, got %g", *c.LeafSize)
	}
	if c.LODRate != nil {
		if *c.LODRate <= 0 || *c.LODRate >= 1 {
			return fmt.Errorf("lod_rate must be in (0,1), got %g", *c.LODRate)
		}
	}
	if c.MemoryLimit != nil && *c.MemoryLimit != "" {
		if _, err := units.ParseBytes(*c.MemoryLimit); err != nil {
			return fmt.Errorf("invalid memory_limit %q: %w", *c.MemoryLimit, err)
		}
	}
	if c.ImportMode != nil {
		switch *c.ImportMode {
		case "copy", "move", "link":
		default:
			return fmt.Errorf("import_mode must be copy, move or link, got %q", *c.ImportMode)
		}
	}
	return nil
}

// LoadOptions builds the load options the settings describe, starting from
// the package defaults.
func (c *Settings) LoadOptions() cloud.LoadOptions {
	opts := cloud.DefaultLoadOptions()
	if c.Method != nil {
		opts.Method = cloud.LoadMethod(*c.Method)
	}
	if c.LeafSize != nil {
		opts.LeafSize = *c.LeafSize
	}
	if c.MinPointsPerVoxel != nil {
		opts.MinPointsPerVoxel = *c.MinPointsPerVoxel
	}
	if c.LoadIntensity != nil {
		opts.LoadIntensity = *c.LoadIntensity
	}
	if c.LoadColor != nil {
		opts.LoadColor = *c.LoadColor
	}
	if c.MaxPointsPerScan != nil {
		opts.MaxPointsPerScan = *c.MaxPointsPerScan
	}
	if c.SubsamplingRatio != nil {
		opts.SubsamplingRatio = *c.SubsamplingRatio
	}
	opts.MemoryLimitBytes = c.GetMemoryLimitBytes()
	return opts
}

// GetMemoryLimitBytes returns the parsed memory_limit, or 0 when unset so the
// load manager applies its own default.
func (c *Settings) GetMemoryLimitBytes() int64 {
	if c.MemoryLimit == nil || *c.MemoryLimit == "" {
		return 0
	}
	n, err := units.ParseBytes(*c.MemoryLimit)
	if err != nil {
		return 0
	}
	return n
}

// GetLODRate returns the lod_rate value or the default.
func (c *Settings) GetLODRate() float64 {
	if c.LODRate == nil {
		return 0.1
	}
	return *c.LODRate
}

// GetImportMode returns the import_mode value or the default.
func (c *Settings) GetImportMode() string {
	if c.ImportMode == nil {
		return "copy"
	}
	return *c.ImportMode
}
