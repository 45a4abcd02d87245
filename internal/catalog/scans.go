package catalog

import (
	"database/sql"
	"path/filepath"

	"github.com/pointscape/pointscape/internal/errs"
)

// ImportType records how a scan file entered the project.
type ImportType string

const (
	ImportCopied ImportType = "copied"
	ImportMoved  ImportType = "moved"
	ImportLinked ImportType = "linked"
)

// Valid reports whether t is one of the three recognized import types.
func (t ImportType) Valid() bool {
	switch t {
	case ImportCopied, ImportMoved, ImportLinked:
		return true
	}
	return false
}

// Scan is one catalog row. Copied and moved scans store a path relative to
// the project directory; linked scans store an absolute path and leave the
// source file where it was.
type Scan struct {
	ID              string
	ProjectID       string
	Name            string
	RelativePath    string // set for copied/moved
	AbsolutePath    string // set for linked
	ImportType      ImportType
	DateAdded       string // ISO-8601 UTC
	ParentClusterID *string
}

// ResolvePath returns the scan file's absolute location given the project
// directory.
func (s *Scan) ResolvePath(projectDir string) string {
	if s.ImportType == ImportLinked {
		return s.AbsolutePath
	}
	return filepath.Join(projectDir, s.RelativePath)
}

const scanColumns = `scan_id, project_id, name, file_path_project_relative,
	file_path_absolute_linked, import_type, date_added, parent_cluster_id`

func scanRow(row interface{ Scan(...any) error }) (Scan, error) {
	var s Scan
	var rel, abs, parent sql.NullString
	err := row.Scan(&s.ID, &s.ProjectID, &s.Name, &rel, &abs, &s.ImportType, &s.DateAdded, &parent)
	if err != nil {
		return s, err
	}
	s.RelativePath = rel.String
	s.AbsolutePath = abs.String
	s.ParentClusterID = fromNull(parent)
	return s, nil
}

func insertScanStmt(exec interface {
	Exec(string, ...any) (sql.Result, error)
}, s Scan) error {
	var rel, abs sql.NullString
	if s.ImportType == ImportLinked {
		abs = sql.NullString{String: s.AbsolutePath, Valid: true}
	} else {
		rel = sql.NullString{String: s.RelativePath, Valid: true}
	}
	_, err := exec.Exec(
		`INSERT INTO scans (`+scanColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		s.ID, s.ProjectID, s.Name, rel, abs, string(s.ImportType), s.DateAdded, nullable(s.ParentClusterID),
	)
	return err
}

// InsertScan adds one scan record.
func (c *Catalog) InsertScan(s Scan) error {
	if !s.ImportType.Valid() {
		return errs.New(errs.InvalidArgument, "unknown import type %q", s.ImportType)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return errs.Wrap(errs.CatalogError, insertScanStmt(c.db, s), "inserting scan %s", s.ID)
}

// InsertScans adds a batch of scan records in one transaction; either every
// record lands or none do.
func (c *Catalog) InsertScans(scans []Scan) error {
	for _, s := range scans {
		if !s.ImportType.Valid() {
			return errs.New(errs.InvalidArgument, "unknown import type %q", s.ImportType)
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inTx(func(tx *sql.Tx) error {
		for _, s := range scans {
			if err := insertScanStmt(tx, s); err != nil {
				return errs.Wrap(errs.CatalogError, err, "inserting scan %s", s.ID)
			}
		}
		return nil
	})
}

// DeleteScan removes the scan row. The scan file itself is not touched.
func (c *Catalog) DeleteScan(scanID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`DELETE FROM scans WHERE scan_id = ?`, scanID)
	if err != nil {
		return errs.Wrap(errs.CatalogError, err, "deleting scan %s", scanID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(errs.ScanNotFound, "scan %s not in catalog", scanID)
	}
	return nil
}

// UpdateScanCluster re-parents a scan; nil moves it to the project root.
func (c *Catalog) UpdateScanCluster(scanID string, clusterID *string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	res, err := c.db.Exec(`UPDATE scans SET parent_cluster_id = ? WHERE scan_id = ?`,
		nullable(clusterID), scanID)
	if err != nil {
		return errs.Wrap(errs.CatalogError, err, "re-parenting scan %s", scanID)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return errs.New(errs.ScanNotFound, "scan %s not in catalog", scanID)
	}
	return nil
}

// GetScan returns one scan row by id.
func (c *Catalog) GetScan(scanID string) (Scan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row := c.db.QueryRow(`SELECT `+scanColumns+` FROM scans WHERE scan_id = ?`, scanID)
	s, err := scanRow(row)
	if err == sql.ErrNoRows {
		return s, errs.New(errs.ScanNotFound, "scan %s not in catalog", scanID)
	}
	return s, errs.Wrap(errs.CatalogError, err, "reading scan %s", scanID)
}

// GetAllScans returns every scan in the project, ordered by date added.
func (c *Catalog) GetAllScans() ([]Scan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.queryScans(`SELECT ` + scanColumns + ` FROM scans ORDER BY date_added, scan_id`)
}

// GetScansByCluster returns the scans directly under a cluster; nil selects
// scans at the project root.
func (c *Catalog) GetScansByCluster(clusterID *string) ([]Scan, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if clusterID == nil {
		return c.queryScans(`SELECT ` + scanColumns + ` FROM scans WHERE parent_cluster_id IS NULL ORDER BY date_added, scan_id`)
	}
	return c.queryScans(`SELECT `+scanColumns+` FROM scans WHERE parent_cluster_id = ? ORDER BY date_added, scan_id`, *clusterID)
}

// ScanCount returns the number of scan rows.
func (c *Catalog) ScanCount() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var n int
	err := c.db.QueryRow(`SELECT COUNT(*) FROM scans`).Scan(&n)
	return n, errs.Wrap(errs.CatalogError, err, "counting scans")
}

func (c *Catalog) queryScans(query string, args ...any) ([]Scan, error) {
	rows, err := c.db.Query(query, args...)
	if err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "querying scans")
	}
	defer rows.Close()

	var scans []Scan
	for rows.Next() {
		s, err := scanRow(rows)
		if err != nil {
			return nil, errs.Wrap(errs.CatalogError, err, "scanning scan row")
		}
		scans = append(scans, s)
	}
	if err := rows.Err(); err != nil {
		return nil, errs.Wrap(errs.CatalogError, err, "iterating scan rows")
	}
	return scans, nil
}
