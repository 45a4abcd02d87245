// Package api serves a project's catalog and load state over HTTP. It is a
// local inspection surface, not a public API.
package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/pointscape/pointscape/internal/catalog"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/httputil"
	"github.com/pointscape/pointscape/internal/loadman"
	"github.com/pointscape/pointscape/internal/monitoring"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/project"
	"github.com/pointscape/pointscape/internal/units"
	"github.com/pointscape/pointscape/internal/version"
)

// ANSI escape codes for request logging
const colorCyan = "\033[36m"
const colorReset = "\033[0m"
const colorYellow = "\033[33m"
const colorBoldGreen = "\033[1;32m"
const colorBoldRed = "\033[1;31m"

type Server struct {
	p   *project.Project
	man *loadman.Manager
}

func NewServer(p *project.Project, man *loadman.Manager) *Server {
	return &Server{p: p, man: man}
}

type loggingResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (lrw *loggingResponseWriter) WriteHeader(code int) {
	lrw.statusCode = code
	lrw.ResponseWriter.WriteHeader(code)
}

func (lrw *loggingResponseWriter) Flush() {
	if flusher, ok := lrw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func statusCodeColor(statusCode int) string {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return colorBoldGreen + strconv.Itoa(statusCode) + colorReset
	case statusCode >= 300 && statusCode < 400:
		return colorYellow + strconv.Itoa(statusCode) + colorReset
	default:
		return colorBoldRed + strconv.Itoa(statusCode) + colorReset
	}
}

// LoggingMiddleware logs method, path, status, and duration.
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		lrw := &loggingResponseWriter{w, http.StatusOK}
		next.ServeHTTP(lrw, r)
		monitoring.Logf(
			"[%s] %s %s%s%s %vms",
			statusCodeColor(lrw.statusCode), r.Method,
			colorCyan, r.RequestURI, colorReset,
			float64(time.Since(start).Nanoseconds())/1e6,
		)
	})
}

// ServeMux routes the project endpoints plus the catalog's debug surface.
func (s *Server) ServeMux() (*http.ServeMux, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/project", s.showProject)
	mux.HandleFunc("/api/scans", s.listScans)
	mux.HandleFunc("/api/clusters", s.listClusters)
	mux.HandleFunc("/api/memory", s.showMemory)
	mux.HandleFunc("/api/scans/load", s.loadScan)
	mux.HandleFunc("/api/scans/unload", s.unloadScan)
	mux.HandleFunc("/api/version", s.showVersion)
	if err := s.p.Catalog().AttachAdminRoutes(mux); err != nil {
		return nil, fmt.Errorf("attaching admin routes: %w", err)
	}
	return mux, nil
}

func (s *Server) showProject(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scanCount, err := s.p.Catalog().ScanCount()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	clusterCount, err := s.p.Catalog().ClusterCount()
	if err != nil {
		httputil.InternalServerError(w, err.Error())
		return
	}
	meta := s.p.Meta()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"project_id":     meta.ProjectID,
		"project_name":   meta.ProjectName,
		"creation_date":  meta.CreationDate,
		"format_version": meta.FileFormatVersion,
		"directory":      s.p.Dir(),
		"scan_count":     scanCount,
		"cluster_count":  clusterCount,
	})
}

// ScanAPI is the wire shape for a catalog scan row plus its load state.
type ScanAPI struct {
	ID              string  `json:"scan_id"`
	Name            string  `json:"name"`
	ImportType      string  `json:"import_type"`
	Path            string  `json:"path"`
	DateAdded       string  `json:"date_added"`
	ParentClusterID *string `json:"parent_cluster_id"`
	State           string  `json:"state"`
}

func (s *Server) listScans(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	scans, err := s.p.Catalog().GetAllScans()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list scans: %v", err))
		return
	}
	out := make([]ScanAPI, len(scans))
	for i, sc := range scans {
		state, _ := s.man.ScanState(sc.ID)
		out[i] = ScanAPI{
			ID:              sc.ID,
			Name:            sc.Name,
			ImportType:      string(sc.ImportType),
			Path:            sc.ResolvePath(s.p.Dir()),
			DateAdded:       sc.DateAdded,
			ParentClusterID: sc.ParentClusterID,
			State:           string(state),
		}
	}
	httputil.WriteJSONOK(w, out)
}

func (s *Server) listClusters(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	clusters, err := s.p.Catalog().GetAllClusters()
	if err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to list clusters: %v", err))
		return
	}
	if clusters == nil {
		clusters = []catalog.Cluster{}
	}
	httputil.WriteJSONOK(w, clusters)
}

func (s *Server) showMemory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	total := s.man.TotalBytes()
	limit := s.man.MemoryLimit()
	httputil.WriteJSONOK(w, map[string]interface{}{
		"total_bytes":  total,
		"limit_bytes":  limit,
		"total_human":  units.HumanBytes(total),
		"limit_human":  units.HumanBytes(limit),
		"loaded_scans": s.man.LoadedScans(),
	})
}

func (s *Server) loadScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.FormValue("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	if err := s.man.Load(id, progress.Nop()); err != nil {
		if errs.HasKind(err, errs.ScanNotFound) {
			httputil.NotFound(w, err.Error())
			return
		}
		httputil.InternalServerError(w, fmt.Sprintf("load failed: %v", err))
		return
	}
	httputil.WriteJSONOK(w, map[string]string{"scan_id": id, "state": string(loadman.StateLoaded)})
}

func (s *Server) unloadScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	id := r.FormValue("id")
	if id == "" {
		httputil.BadRequest(w, "missing 'id' parameter")
		return
	}
	s.man.Unload(id)
	httputil.WriteJSONOK(w, map[string]string{"scan_id": id, "state": string(loadman.StateUnloaded)})
}

func (s *Server) showVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, map[string]string{
		"version":    version.Version,
		"git_sha":    version.GitSHA,
		"build_time": version.BuildTime,
	})
}
