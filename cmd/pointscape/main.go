// Command pointscape manages terrestrial laser scan projects: creating them,
// importing scan files, inspecting the catalog, loading point data, and
// serving the project API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pointscape/pointscape/internal/api"
	"github.com/pointscape/pointscape/internal/catalog"
	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/config"
	"github.com/pointscape/pointscape/internal/e57"
	"github.com/pointscape/pointscape/internal/las"
	"github.com/pointscape/pointscape/internal/loadman"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/project"
	"github.com/pointscape/pointscape/internal/security"
	"github.com/pointscape/pointscape/internal/units"
	"github.com/pointscape/pointscape/internal/version"
)

const usage = `Usage: pointscape <command> [flags]

Commands:
  create    create a new project directory
  import    import scan files into a project
  scans     list a project's scans
  clusters  list a project's cluster tree
  info      print the metadata of a scan file
  load      load scans into memory and report usage
  export    export a scan to an E57 file
  migrate   show or roll back the catalog schema version
  serve     serve the project API over HTTP
  status    query a running project server
  version   print build information
`

func main() {
	log.SetFlags(0)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}

	var err error
	switch os.Args[1] {
	case "create":
		err = runCreate(os.Args[2:])
	case "import":
		err = runImport(os.Args[2:])
	case "scans":
		err = runScans(os.Args[2:])
	case "clusters":
		err = runClusters(os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "load":
		err = runLoad(os.Args[2:])
	case "export":
		err = runExport(os.Args[2:])
	case "migrate":
		err = runMigrate(os.Args[2:])
	case "serve":
		err = runServe(os.Args[2:])
	case "status":
		err = runStatus(os.Args[2:])
	case "version":
		fmt.Printf("pointscape %s (%s, built %s)\n", version.Version, version.GitSHA, version.BuildTime)
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", os.Args[1], usage)
		os.Exit(2)
	}
	if err != nil {
		log.Fatalf("pointscape %s: %v", os.Args[1], err)
	}
}

// consoleSink prints progress stages to stderr as they change.
type consoleSink struct {
	lastStage string
}

func (s *consoleSink) Report(percent int, stage string) {
	if stage != s.lastStage {
		fmt.Fprintf(os.Stderr, "%3d%% %s\n", percent, stage)
		s.lastStage = stage
	}
}

func (s *consoleSink) Cancelled() bool { return false }

func openProject(dir string) (*project.Project, error) {
	if dir == "" {
		return nil, fmt.Errorf("missing -project flag")
	}
	return project.Open(dir)
}

func loadSettings(path string) (*config.Settings, error) {
	if path == "" {
		return config.EmptySettings(), nil
	}
	return config.Load(path)
}

func runCreate(args []string) error {
	fs := flag.NewFlagSet("create", flag.ExitOnError)
	name := fs.String("name", "", "Project name")
	dir := fs.String("dir", ".", "Directory to create the project under")
	fs.Parse(args)

	p, err := project.Create(*name, *dir)
	if err != nil {
		return err
	}
	defer p.Close()
	fmt.Printf("created project %q at %s (id %s)\n", *name, p.Dir(), p.Meta().ProjectID)
	return nil
}

func runImport(args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	mode := fs.String("mode", "", "Import mode: copy, move or link")
	settingsPath := fs.String("settings", "", "Settings JSON file")
	fs.Parse(args)
	if fs.NArg() == 0 {
		return fmt.Errorf("no scan files given")
	}

	cfg, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	if *mode == "" {
		*mode = cfg.GetImportMode()
	}

	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()

	report, err := p.ImportScans(fs.Args(), project.ImportMode(*mode), &consoleSink{})
	if err != nil {
		return err
	}
	for _, s := range report.Imported {
		fmt.Printf("imported %s as %s\n", s.Name, s.ID)
	}
	for _, f := range report.Failed {
		fmt.Fprintf(os.Stderr, "failed %s: %v\n", f.Path, f.Err)
	}
	if len(report.Failed) > 0 {
		return fmt.Errorf("%d of %d files failed", len(report.Failed), fs.NArg())
	}
	return nil
}

func runScans(args []string) error {
	fs := flag.NewFlagSet("scans", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	fs.Parse(args)

	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()

	scans, err := p.Catalog().GetAllScans()
	if err != nil {
		return err
	}
	for _, s := range scans {
		cluster := "-"
		if s.ParentClusterID != nil {
			cluster = *s.ParentClusterID
		}
		fmt.Printf("%s  %-20s %-6s %-10s cluster=%s\n", s.ID, s.Name, s.ImportType, s.DateAdded, cluster)
	}
	fmt.Printf("%d scans\n", len(scans))
	return nil
}

func runClusters(args []string) error {
	fs := flag.NewFlagSet("clusters", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	fs.Parse(args)

	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()
	return printClusterTree(p.Catalog(), nil, 0)
}

func printClusterTree(c *catalog.Catalog, parent *string, depth int) error {
	clusters, err := c.GetChildClusters(parent)
	if err != nil {
		return err
	}
	scans, err := c.GetScansByCluster(parent)
	if err != nil {
		return err
	}
	indent := strings.Repeat("  ", depth)
	for _, s := range scans {
		fmt.Printf("%s- %s (%s)\n", indent, s.Name, s.ID)
	}
	for _, cl := range clusters {
		locked := ""
		if cl.Locked {
			locked = " [locked]"
		}
		fmt.Printf("%s+ %s%s\n", indent, cl.Name, locked)
		if err := printClusterTree(c, &cl.ID, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func runInfo(args []string) error {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	fs.Parse(args)
	if fs.NArg() != 1 {
		return fmt.Errorf("expected exactly one scan file")
	}
	path := fs.Arg(0)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".e57":
		scans, err := e57.ReadHeader(path)
		if err != nil {
			return err
		}
		for i, s := range scans {
			fmt.Printf("scan %d: %q points=%d color=%v intensity=%v\n", i, s.Name, s.PointCount, s.HasColor, s.HasIntensity)
			if s.HasBounds {
				fmt.Printf("  bounds min=(%.3f %.3f %.3f) max=(%.3f %.3f %.3f)\n",
					s.Bounds.Min.X, s.Bounds.Min.Y, s.Bounds.Min.Z,
					s.Bounds.Max.X, s.Bounds.Max.Y, s.Bounds.Max.Z)
			}
		}
	case ".las":
		h, err := las.ReadHeader(path)
		if err != nil {
			return err
		}
		fmt.Printf("LAS %d.%d format %d points=%d\n", h.VersionMajor, h.VersionMinor, h.PointFormat, h.PointCount)
		fmt.Printf("  bounds min=(%.3f %.3f %.3f) max=(%.3f %.3f %.3f)\n",
			h.Min.X, h.Min.Y, h.Min.Z, h.Max.X, h.Max.Y, h.Max.Z)
	default:
		return fmt.Errorf("unsupported scan file %s", path)
	}
	return nil
}

func runLoad(args []string) error {
	fs := flag.NewFlagSet("load", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	settingsPath := fs.String("settings", "", "Settings JSON file")
	lodRate := fs.Float64("lod", 0, "Also build an LOD buffer kept at this rate (0 disables)")
	fs.Parse(args)

	cfg, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()

	man := loadman.New(loadman.Config{
		Catalog:    p.Catalog(),
		ProjectDir: p.Dir(),
		Options:    cfg.LoadOptions(),
	})
	defer man.Close()

	ids := fs.Args()
	if len(ids) == 0 {
		scans, err := p.Catalog().GetAllScans()
		if err != nil {
			return err
		}
		for _, s := range scans {
			ids = append(ids, s.ID)
		}
	}

	for _, id := range ids {
		var err error
		if *lodRate > 0 {
			err = man.LoadWithLOD(id, *lodRate, &consoleSink{})
		} else {
			err = man.Load(id, &consoleSink{})
		}
		if err != nil {
			return fmt.Errorf("loading %s: %w", id, err)
		}
		pc, err := man.GetPoints(id)
		if err != nil {
			return err
		}
		fmt.Printf("%s: %d points (%s)\n", id, pc.Count(), units.HumanBytes(pc.MemoryBytes()))
	}
	fmt.Printf("total resident: %s of %s\n", units.HumanBytes(man.TotalBytes()), units.HumanBytes(man.MemoryLimit()))
	return nil
}

func runExport(args []string) error {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	scanID := fs.String("scan", "", "Scan id to export")
	out := fs.String("out", "", "Output E57 path")
	settingsPath := fs.String("settings", "", "Settings JSON file")
	fs.Parse(args)
	if *scanID == "" || *out == "" {
		return fmt.Errorf("both -scan and -out are required")
	}
	if err := security.ValidateExportPath(*out); err != nil {
		return err
	}

	cfg, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()

	scan, err := p.Catalog().GetScan(*scanID)
	if err != nil {
		return err
	}
	path := p.ResolveScanPath(scan)

	// Export is two sequential passes over the points; the broadcaster lets
	// the stderr printer follow both through a single sink.
	var bc progress.Broadcaster
	updates := bc.Subscribe()
	done := make(chan struct{})
	go func() {
		defer close(done)
		last := ""
		for u := range updates {
			if u.Stage != last {
				fmt.Fprintf(os.Stderr, "%3d%% %s\n", u.Percent, u.Stage)
				last = u.Stage
			}
		}
	}()

	var pc *cloud.PointCloud
	switch strings.ToLower(filepath.Ext(path)) {
	case ".las":
		pc, err = las.Read(path, cfg.LoadOptions(), &bc)
	case ".e57":
		pc, err = e57.Read(path, cfg.LoadOptions(), &bc)
	default:
		bc.Close()
		<-done
		return fmt.Errorf("no codec for scan file %s", path)
	}
	if err != nil {
		bc.Close()
		<-done
		return err
	}

	err = e57.Write(*out, scan.Name, pc, &bc)
	bc.Close()
	<-done
	if err != nil {
		return err
	}
	fmt.Printf("exported %d points to %s\n", pc.Count(), *out)
	return nil
}

func runMigrate(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	down := fs.Bool("down", false, "Roll the schema back one step")
	fs.Parse(args)

	if *dir == "" {
		return fmt.Errorf("missing -project flag")
	}
	c, err := catalog.Open(filepath.Join(*dir, project.CatalogFileName))
	if err != nil {
		return err
	}
	defer c.Close()

	if *down {
		if err := c.MigrateDown(); err != nil {
			return err
		}
	}
	v, dirty, err := c.MigrateVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d (dirty=%v)\n", v, dirty)
	return nil
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	dir := fs.String("project", "", "Project directory")
	listen := fs.String("listen", ":8080", "HTTP listen address")
	settingsPath := fs.String("settings", "", "Settings JSON file")
	fs.Parse(args)

	cfg, err := loadSettings(*settingsPath)
	if err != nil {
		return err
	}
	p, err := openProject(*dir)
	if err != nil {
		return err
	}
	defer p.Close()

	man := loadman.New(loadman.Config{
		Catalog:    p.Catalog(),
		ProjectDir: p.Dir(),
		Options:    cfg.LoadOptions(),
	})
	defer man.Close()

	mux, err := api.NewServer(p, man).ServeMux()
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: *listen, Handler: api.LoggingMiddleware(mux)}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errc := make(chan error, 1)
	go func() {
		log.Printf("serving project %q on %s", p.Meta().ProjectName, *listen)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func runStatus(args []string) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	baseURL := fs.String("url", "http://localhost:8080", "Project server URL")
	fs.Parse(args)

	client := api.NewClient(*baseURL, nil)
	info, err := client.ProjectInfo()
	if err != nil {
		return err
	}
	fmt.Printf("project %v (%v scans, %v clusters)\n", info["project_name"], info["scan_count"], info["cluster_count"])

	mem, err := client.Memory()
	if err != nil {
		return err
	}
	fmt.Printf("memory %v of %v\n", mem["total_human"], mem["limit_human"])

	scans, err := client.Scans()
	if err != nil {
		return err
	}
	for _, s := range scans {
		fmt.Printf("%s  %-20s %s\n", s.ID, s.Name, s.State)
	}
	return nil
}
