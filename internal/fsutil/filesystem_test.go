package fsutil

import (
	"errors"
	"io"
	"io/fs"
	"path/filepath"
	"testing"
)

func TestMemFSWriteReadRoundTrip(t *testing.T) {
	m := NewMemFS()
	if err := m.WriteFile("proj/project_meta.json", []byte(`{"projectName":"x"}`), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	data, err := m.ReadFile("proj/project_meta.json")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != `{"projectName":"x"}` {
		t.Errorf("ReadFile = %q", data)
	}
}

func TestMemFSCreateFlushesOnClose(t *testing.T) {
	m := NewMemFS()
	w, err := m.Create("Scans/a.las")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, err := w.Write([]byte("LASF")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	f, err := m.Open("Scans/a.las")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(data) != "LASF" {
		t.Errorf("contents = %q, want LASF", data)
	}
}

func TestMemFSOpenMissing(t *testing.T) {
	m := NewMemFS()
	if _, err := m.Open("nope.e57"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Open missing = %v, want fs.ErrNotExist", err)
	}
	if _, err := m.ReadFile("nope.e57"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("ReadFile missing = %v, want fs.ErrNotExist", err)
	}
}

func TestMemFSRename(t *testing.T) {
	m := NewMemFS()
	if err := m.WriteFile("src.las", []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Rename("src.las", "Scans/src.las"); err != nil {
		t.Fatalf("Rename: %v", err)
	}
	if m.Exists("src.las") {
		t.Error("source still exists after rename")
	}
	if !m.Exists("Scans/src.las") {
		t.Error("destination missing after rename")
	}
	if err := m.Rename("gone.las", "elsewhere.las"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Rename missing = %v, want fs.ErrNotExist", err)
	}
}

func TestMemFSMkdirAllCreatesParents(t *testing.T) {
	m := NewMemFS()
	if err := m.MkdirAll(filepath.Join("proj", "Scans", "deep"), 0o755); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	for _, dir := range []string{"proj", filepath.Join("proj", "Scans"), filepath.Join("proj", "Scans", "deep")} {
		if !m.Exists(dir) {
			t.Errorf("directory %s missing", dir)
		}
		info, err := m.Stat(dir)
		if err != nil {
			t.Fatalf("Stat(%s): %v", dir, err)
		}
		if !info.IsDir() {
			t.Errorf("Stat(%s).IsDir() = false", dir)
		}
	}
}

func TestMemFSRemove(t *testing.T) {
	m := NewMemFS()
	if err := m.WriteFile("a.las", nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("a.las"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if m.Exists("a.las") {
		t.Error("file exists after remove")
	}
	if err := m.Remove("a.las"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("second Remove = %v, want fs.ErrNotExist", err)
	}
}

func TestMemFSRemoveRefusesNonEmptyDir(t *testing.T) {
	m := NewMemFS()
	if err := m.MkdirAll("Scans", 0o755); err != nil {
		t.Fatal(err)
	}
	if err := m.WriteFile(filepath.Join("Scans", "a.las"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := m.Remove("Scans"); err == nil {
		t.Error("Remove succeeded on a non-empty directory")
	}
}

func TestMemFSStatFile(t *testing.T) {
	m := NewMemFS()
	if err := m.WriteFile("b.e57", []byte("12345"), 0o600); err != nil {
		t.Fatal(err)
	}
	info, err := m.Stat("b.e57")
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	if info.Size() != 5 {
		t.Errorf("Size = %d, want 5", info.Size())
	}
	if info.IsDir() {
		t.Error("IsDir = true for a file")
	}
}

func TestOSFileSystemRoundTrip(t *testing.T) {
	var osfs OSFileSystem
	path := filepath.Join(t.TempDir(), "meta.json")
	if err := osfs.WriteFile(path, []byte("{}"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if !osfs.Exists(path) {
		t.Error("Exists = false after write")
	}
	data, err := osfs.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "{}" {
		t.Errorf("contents = %q", data)
	}
}
