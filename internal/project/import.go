package project

import (
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"

	"github.com/pointscape/pointscape/internal/catalog"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/monitoring"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/security"
)

// ImportMode selects how a scan file enters the project.
type ImportMode string

const (
	// ModeCopy duplicates the source file into Scans/.
	ModeCopy ImportMode = "copy"
	// ModeMove renames the source file into Scans/.
	ModeMove ImportMode = "move"
	// ModeLink leaves the source in place and records its absolute path.
	ModeLink ImportMode = "link"
)

func (m ImportMode) importType() (catalog.ImportType, error) {
	switch m {
	case ModeCopy:
		return catalog.ImportCopied, nil
	case ModeMove:
		return catalog.ImportMoved, nil
	case ModeLink:
		return catalog.ImportLinked, nil
	}
	return "", errs.New(errs.InvalidArgument, "unknown import mode %q", m)
}

// ImportFailure pairs a source path with the error that kept it out of the
// project.
type ImportFailure struct {
	Path string
	Err  error
}

// ImportReport is the outcome of a batch import. Partial failure is normal:
// imported scans stay in the project, failures are listed by path.
type ImportReport struct {
	Imported []catalog.Scan
	Failed   []ImportFailure
}

// ImportedIDs returns the scan ids that landed in the catalog.
func (r *ImportReport) ImportedIDs() []string {
	return lo.Map(r.Imported, func(s catalog.Scan, _ int) string { return s.ID })
}

var scanExtensions = map[string]bool{".las": true, ".e57": true}

// ImportScans brings the given files into the project. Each file is handled
// independently; a failed file is reported and the batch continues. On
// cancellation the scans imported so far remain and errs.Cancelled is
// returned alongside the partial report.
func (p *Project) ImportScans(paths []string, mode ImportMode, sink progress.Sink) (*ImportReport, error) {
	if _, err := mode.importType(); err != nil {
		return nil, err
	}
	report := &ImportReport{}
	for i, path := range paths {
		if sink.Cancelled() {
			return report, errs.New(errs.Cancelled, "import cancelled after %d of %d files", i, len(paths))
		}
		sink.Report(i*100/len(paths), fmt.Sprintf("Importing %s", filepath.Base(path)))
		scan, err := p.importOne(path, mode)
		if err != nil {
			monitoring.Logf("project: import of %s failed: %v", path, err)
			report.Failed = append(report.Failed, ImportFailure{Path: path, Err: err})
			continue
		}
		report.Imported = append(report.Imported, scan)
	}
	sink.Report(100, "Import finished")
	return report, nil
}

func (p *Project) importOne(path string, mode ImportMode) (catalog.Scan, error) {
	var scan catalog.Scan

	ext := strings.ToLower(filepath.Ext(path))
	if !scanExtensions[ext] {
		return scan, errs.New(errs.InvalidArgument, "unsupported scan file extension %q", ext)
	}
	info, err := p.fs.Stat(path)
	if err != nil {
		return scan, errs.Wrap(errs.IO, err, "source file %s", path)
	}
	if info.IsDir() {
		return scan, errs.New(errs.InvalidArgument, "%s is a directory", path)
	}

	importType, err := mode.importType()
	if err != nil {
		return scan, err
	}
	base := filepath.Base(path)
	scan = catalog.Scan{
		ID:         uuid.New().String(),
		ProjectID:  p.meta.ProjectID,
		Name:       strings.TrimSuffix(base, filepath.Ext(base)),
		ImportType: importType,
		DateAdded:  time.Now().UTC().Format(time.RFC3339),
	}

	if mode == ModeLink {
		abs, err := filepath.Abs(path)
		if err != nil {
			return scan, errs.Wrap(errs.IO, err, "resolving %s", path)
		}
		scan.AbsolutePath = abs
		if err := p.catalog.InsertScan(scan); err != nil {
			return scan, err
		}
		return scan, nil
	}

	rel := p.freeDestination(base)
	dest := filepath.Join(p.dir, filepath.FromSlash(rel))
	scan.RelativePath = rel

	switch mode {
	case ModeCopy:
		if err := p.copyFile(path, dest); err != nil {
			return scan, err
		}
	case ModeMove:
		if err := p.fs.Rename(path, dest); err != nil {
			return scan, errs.Wrap(errs.IO, err, "moving %s to %s", path, dest)
		}
	}

	if err := p.catalog.InsertScan(scan); err != nil {
		// undo the filesystem action so the project stays consistent
		switch mode {
		case ModeCopy:
			if rmErr := p.fs.Remove(dest); rmErr != nil {
				monitoring.Logf("project: rollback remove of %s failed: %v", dest, rmErr)
			}
		case ModeMove:
			if mvErr := p.fs.Rename(dest, path); mvErr != nil {
				monitoring.Logf("project: rollback move of %s failed: %v", dest, mvErr)
			}
		}
		return scan, err
	}
	return scan, nil
}

// freeDestination picks a collision-free path under Scans/ for base, trying
// name.ext, name_1.ext, name_2.ext and so on. Returns a slash-separated
// project-relative path.
func (p *Project) freeDestination(base string) string {
	ext := filepath.Ext(base)
	stem := security.SanitizeFilename(strings.TrimSuffix(base, ext))
	candidate := stem + ext
	for i := 1; p.fs.Exists(filepath.Join(p.dir, ScansDirName, candidate)); i++ {
		candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
	}
	return ScansDirName + "/" + candidate
}

func (p *Project) copyFile(src, dest string) error {
	in, err := p.fs.Open(src)
	if err != nil {
		return errs.Wrap(errs.IO, err, "opening %s", src)
	}
	defer in.Close()

	out, err := p.fs.Create(dest)
	if err != nil {
		return errs.Wrap(errs.IO, err, "creating %s", dest)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		if rmErr := p.fs.Remove(dest); rmErr != nil {
			monitoring.Logf("project: removing partial copy %s failed: %v", dest, rmErr)
		}
		return errs.Wrap(errs.IO, err, "copying %s", src)
	}
	if err := out.Close(); err != nil {
		return errs.Wrap(errs.IO, err, "closing %s", dest)
	}
	return nil
}
