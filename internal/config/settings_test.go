package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/units"
)

func writeSettings(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing settings file: %v", err)
	}
	return path
}

func TestLoadPartialFile(t *testing.T) {
	path := writeSettings(t, "settings.json", `{"method":"voxel_grid","leaf_size":0.05,"memory_limit":"512MiB"}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	opts := cfg.LoadOptions()
	if opts.Method != cloud.VoxelGrid {
		t.Errorf("method = %q, want voxel_grid", opts.Method)
	}
	if opts.LeafSize != 0.05 {
		t.Errorf("leaf_size = %g, want 0.05", opts.LeafSize)
	}
	if opts.MemoryLimitBytes != 512*units.MiB {
		t.Errorf("memory_limit_bytes = %d, want %d", opts.MemoryLimitBytes, 512*units.MiB)
	}

	// unset fields keep package defaults
	if !opts.LoadColor || !opts.LoadIntensity {
		t.Errorf("expected default channel flags, got color=%v intensity=%v", opts.LoadColor, opts.LoadIntensity)
	}
	if opts.MaxPointsPerScan != -1 {
		t.Errorf("max_points_per_scan = %d, want -1", opts.MaxPointsPerScan)
	}
}

func TestLoadRejectsBadFiles(t *testing.T) {
	if _, err := Load(writeSettings(t, "settings.txt", "{}")); err == nil {
		t.Error("expected error for non-json extension")
	}
	if _, err := Load(writeSettings(t, "settings.json", "not json")); err == nil {
		t.Error("expected error for malformed JSON")
	}
	if _, err := Load(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestValidate(t *testing.T) {
	bad := []string{
		`{"subsampling_ratio":0}`,
		`{"subsampling_ratio":1.5}`,
		`{"leaf_size":-1}`,
		`{"lod_rate":1}`,
		`{"memory_limit":"lots"}`,
		`{"import_mode":"symlink"}`,
	}
	for _, body := range bad {
		if _, err := Load(writeSettings(t, "settings.json", body)); err == nil {
			t.Errorf("expected validation error for %s", body)
		}
	}

	if _, err := Load(writeSettings(t, "settings.json", `{"subsampling_ratio":0.5,"lod_rate":0.2,"import_mode":"link"}`)); err != nil {
		t.Errorf("valid settings rejected: %v", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := EmptySettings()
	if got := cfg.GetLODRate(); got != 0.1 {
		t.Errorf("GetLODRate = %g, want 0.1", got)
	}
	if got := cfg.GetImportMode(); got != "copy" {
		t.Errorf("GetImportMode = %q, want copy", got)
	}
	if got := cfg.GetMemoryLimitBytes(); got != 0 {
		t.Errorf("GetMemoryLimitBytes = %d, want 0", got)
	}
}
