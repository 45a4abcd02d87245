// Package project manages the on-disk layout of a scan project: a metadata
// file, the catalog database, and a Scans/ directory for files the project
// owns. A project handle bundles those with an open catalog connection.
package project

import (
	"encoding/json"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/pointscape/pointscape/internal/catalog"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/fsutil"
	"github.com/pointscape/pointscape/internal/monitoring"
)

const (
	// MetaFileName identifies a directory as a project.
	MetaFileName = "project_meta.json"
	// CatalogFileName is the catalog database inside the project directory.
	CatalogFileName = "project.sqlite"
	// ScansDirName holds scan files the project owns (copied or moved in).
	ScansDirName = "Scans"
	// FormatVersion is written into new projects.
	FormatVersion = "1.0.0"
)

// Meta is the project metadata file.
type Meta struct {
	ProjectID         string `json:"projectID"`
	ProjectName       string `json:"projectName"`
	CreationDate      string `json:"creationDate"`
	FileFormatVersion string `json:"fileFormatVersion"`
}

// Project is an open project directory.
type Project struct {
	dir     string
	meta    Meta
	catalog *catalog.Catalog
	fs      fsutil.FileSystem
}

// Create makes a new project directory under basePath, writes its metadata,
// initializes the catalog and returns the open project.
func Create(name, basePath string) (*Project, error) {
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "project name must not be empty")
	}
	fs := fsutil.OSFileSystem{}
	dir := filepath.Join(basePath, name)
	if fs.Exists(filepath.Join(dir, MetaFileName)) {
		return nil, errs.New(errs.InvalidArgument, "project already exists at %s", dir)
	}
	if err := fs.MkdirAll(filepath.Join(dir, ScansDirName), 0o755); err != nil {
		return nil, errs.Wrap(errs.IO, err, "creating project directory %s", dir)
	}

	meta := Meta{
		ProjectID:         uuid.New().String(),
		ProjectName:       name,
		CreationDate:      time.Now().UTC().Format(time.RFC3339),
		FileFormatVersion: FormatVersion,
	}
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "encoding project metadata")
	}
	if err := fs.WriteFile(filepath.Join(dir, MetaFileName), data, 0o644); err != nil {
		return nil, errs.Wrap(errs.IO, err, "writing %s", MetaFileName)
	}

	cat, err := catalog.Open(filepath.Join(dir, CatalogFileName))
	if err != nil {
		return nil, err
	}
	monitoring.Logf("project: created %q at %s", name, dir)
	return &Project{dir: dir, meta: meta, catalog: cat, fs: fs}, nil
}

// Open opens an existing project directory.
func Open(path string) (*Project, error) {
	fs := fsutil.OSFileSystem{}
	data, err := fs.ReadFile(filepath.Join(path, MetaFileName))
	if err != nil {
		return nil, errs.Wrap(errs.IO, err, "reading %s in %s", MetaFileName, path)
	}
	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, errs.Wrap(errs.FormatInvalid, err, "parsing %s", MetaFileName)
	}
	if meta.ProjectID == "" {
		return nil, errs.New(errs.FormatInvalid, "%s has no project id", MetaFileName)
	}

	cat, err := catalog.Open(filepath.Join(path, CatalogFileName))
	if err != nil {
		return nil, err
	}
	return &Project{dir: path, meta: meta, catalog: cat, fs: fs}, nil
}

// IsProjectDirectory reports whether path holds a project metadata file.
func IsProjectDirectory(path string) bool {
	return fsutil.OSFileSystem{}.Exists(filepath.Join(path, MetaFileName))
}

// Close releases the catalog connection.
func (p *Project) Close() error {
	return p.catalog.Close()
}

// Dir returns the project directory.
func (p *Project) Dir() string { return p.dir }

// Meta returns the project metadata.
func (p *Project) Meta() Meta { return p.meta }

// Catalog returns the project's catalog.
func (p *Project) Catalog() *catalog.Catalog { return p.catalog }

// ScansDir returns the directory for project-owned scan files.
func (p *Project) ScansDir() string { return filepath.Join(p.dir, ScansDirName) }

// ResolveScanPath returns the absolute location of a scan's file.
func (p *Project) ResolveScanPath(s catalog.Scan) string {
	return s.ResolvePath(p.dir)
}
