// Package loadman keeps per-project point buffers in memory under a byte
// budget. Scans load lazily through the format codecs, are evicted least
// recently used when the budget is exceeded, and can carry an optional
// subsampled LOD buffer alongside the full one.
package loadman

import (
	"hash/fnv"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"

	"github.com/pointscape/pointscape/internal/catalog"
	"github.com/pointscape/pointscape/internal/cloud"
	"github.com/pointscape/pointscape/internal/e57"
	"github.com/pointscape/pointscape/internal/errs"
	"github.com/pointscape/pointscape/internal/las"
	"github.com/pointscape/pointscape/internal/monitoring"
	"github.com/pointscape/pointscape/internal/progress"
	"github.com/pointscape/pointscape/internal/security"
	"github.com/pointscape/pointscape/internal/timeutil"
	"github.com/pointscape/pointscape/internal/units"
)

// DefaultMemoryLimit is the byte budget when the caller sets none.
const DefaultMemoryLimit = 2 * units.GiB

// watchdogInterval is how often the manager re-derives its totals and
// enforces the budget, independent of load traffic.
const watchdogInterval = 30 * time.Second

// State is a load entry's position in its lifecycle.
type State string

const (
	StateUnloaded State = "unloaded"
	StateLoading  State = "loading"
	StateLoaded   State = "loaded"
	StateError    State = "error"
)

// EventKind tags manager events.
type EventKind string

const (
	EventScanLoaded          EventKind = "scan_loaded"
	EventScanUnloaded        EventKind = "scan_unloaded"
	EventMemoryLimitExceeded EventKind = "memory_limit_exceeded"
)

// Event is one manager notification. Memory events carry the byte total and
// limit observed when they fired.
type Event struct {
	Kind         EventKind
	ScanID       string
	CurrentBytes int64
	LimitBytes   int64
}

// Parser turns a scan file into a point cloud. The manager selects one by
// file extension; tests substitute their own.
type Parser func(path string, opts cloud.LoadOptions, sink progress.Sink) (*cloud.PointCloud, error)

type entry struct {
	state     State
	full      *cloud.PointCloud
	lod       *cloud.PointCloud
	lodActive bool
	bytes     int64
	lastUsed  uint64 // monotonic access stamp, drives LRU ordering
	touchedAt time.Time
	err       error
	done      chan struct{} // closed when an in-flight load settles
}

// Config assembles a manager. Catalog and ProjectDir are required; zero
// values elsewhere select defaults.
type Config struct {
	Catalog     *catalog.Catalog
	ProjectDir  string
	Options     cloud.LoadOptions
	MemoryLimit int64
	Clock       timeutil.Clock
	Parsers     map[string]Parser // keyed by lowercase extension
}

// Manager owns the load entries of one project.
type Manager struct {
	mu      sync.Mutex
	cat     *catalog.Catalog
	dir     string
	opts    cloud.LoadOptions
	limit   int64
	clock   timeutil.Clock
	parsers map[string]Parser

	entries map[string]*entry
	total   int64
	seq     uint64

	events chan Event
	stop   chan struct{}
	wg     sync.WaitGroup
}

// New creates a manager and starts its watchdog.
func New(cfg Config) *Manager {
	opts := cfg.Options
	if opts.Method == "" {
		opts = cloud.DefaultLoadOptions()
	}
	limit := cfg.MemoryLimit
	if limit <= 0 {
		limit = DefaultMemoryLimit
	}
	if opts.MemoryLimitBytes > 0 {
		limit = opts.MemoryLimitBytes
	}
	clock := cfg.Clock
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	parsers := cfg.Parsers
	if parsers == nil {
		parsers = map[string]Parser{
			".las": las.Read,
			".e57": e57.Read,
		}
	}

	m := &Manager{
		cat:     cfg.Catalog,
		dir:     cfg.ProjectDir,
		opts:    opts,
		limit:   limit,
		clock:   clock,
		parsers: parsers,
		entries: make(map[string]*entry),
		events:  make(chan Event, 64),
		stop:    make(chan struct{}),
	}
	m.wg.Add(1)
	go m.watchdog()
	return m
}

// Close stops the watchdog and drops every entry.
func (m *Manager) Close() {
	close(m.stop)
	m.wg.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*entry)
	m.total = 0
}

// Events returns the manager's notification channel. Events are dropped, not
// queued, when the channel is full.
func (m *Manager) Events() <-chan Event { return m.events }

func (m *Manager) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
	}
}

// Load brings a scan into memory. A scan already loaded only refreshes its
// access stamp; concurrent loads of the same scan coalesce into one parse.
func (m *Manager) Load(scanID string, sink progress.Sink) error {
	for {
		m.mu.Lock()
		e := m.entries[scanID]
		if e == nil {
			e = &entry{state: StateUnloaded}
			m.entries[scanID] = e
		}
		switch e.state {
		case StateLoaded:
			m.touchLocked(e)
			m.mu.Unlock()
			return nil
		case StateLoading:
			done := e.done
			m.mu.Unlock()
			<-done
			continue // settled; re-examine the entry
		}
		e.state = StateLoading
		e.err = nil
		e.done = make(chan struct{})
		m.mu.Unlock()
		return m.runLoad(scanID, e, sink)
	}
}

// runLoad performs the parse outside the lock and settles the entry.
func (m *Manager) runLoad(scanID string, e *entry, sink progress.Sink) error {
	pc, err := m.parse(scanID, sink)

	m.mu.Lock()
	defer func() {
		close(e.done)
		e.done = nil
		m.mu.Unlock()
	}()

	if err != nil {
		if errs.HasKind(err, errs.Cancelled) {
			// a cancelled load leaves no trace
			e.state = StateUnloaded
		} else {
			e.state = StateError
			e.err = err
		}
		return err
	}

	bytes := pc.MemoryBytes()
	if !m.makeRoomLocked(bytes, scanID) {
		e.state = StateError
		e.err = errs.New(errs.MemoryLimitExceeded,
			"scan %s needs %s but only %s of %s budget is free",
			scanID, units.HumanBytes(bytes), units.HumanBytes(m.limit-m.total), units.HumanBytes(m.limit))
		m.emit(Event{Kind: EventMemoryLimitExceeded, ScanID: scanID, CurrentBytes: m.total, LimitBytes: m.limit})
		return e.err
	}

	e.full = pc
	e.lod = nil
	e.lodActive = false
	e.bytes = bytes
	e.state = StateLoaded
	m.touchLocked(e)
	m.recomputeTotalLocked()
	m.emit(Event{Kind: EventScanLoaded, ScanID: scanID, CurrentBytes: m.total, LimitBytes: m.limit})
	monitoring.Debugf("loadman: loaded %s (%s, total %s)", scanID, units.HumanBytes(bytes), units.HumanBytes(m.total))
	return nil
}

// parse resolves the scan's file and runs the matching codec.
func (m *Manager) parse(scanID string, sink progress.Sink) (*cloud.PointCloud, error) {
	scan, err := m.cat.GetScan(scanID)
	if err != nil {
		return nil, err
	}
	path := scan.ResolvePath(m.dir)
	if scan.AbsolutePath == "" {
		// project-relative rows come from the catalog and must stay inside it
		if err := security.ValidatePathWithinDirectory(path, m.dir); err != nil {
			return nil, errs.Wrap(errs.InvalidArgument, err, "scan %s", scanID)
		}
	}
	parser := m.parsers[strings.ToLower(filepath.Ext(path))]
	if parser == nil {
		return nil, errs.New(errs.InvalidArgument, "no codec for scan file %s", path)
	}
	return parser(path, m.opts, sink)
}

// Unload drops a loaded scan's buffers. Any other state is a no-op.
func (m *Manager) Unload(scanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scanID]
	if e == nil || e.state != StateLoaded {
		return
	}
	m.unloadLocked(scanID, e)
}

func (m *Manager) unloadLocked(scanID string, e *entry) {
	e.full = nil
	e.lod = nil
	e.lodActive = false
	e.bytes = 0
	e.state = StateUnloaded
	m.recomputeTotalLocked()
	m.emit(Event{Kind: EventScanUnloaded, ScanID: scanID, CurrentBytes: m.total, LimitBytes: m.limit})
}

// Access refreshes a loaded scan's LRU stamp. Viewers call this to keep
// on-screen scans resident.
func (m *Manager) Access(scanID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e := m.entries[scanID]; e != nil && e.state == StateLoaded {
		m.touchLocked(e)
	}
}

// GetPoints returns the scan's resident buffer: the LOD buffer when one is
// active, the full buffer otherwise. The view is shared; callers must not
// mutate it.
func (m *Manager) GetPoints(scanID string) (*cloud.PointCloud, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scanID]
	if e == nil || e.state != StateLoaded {
		return nil, errs.New(errs.ScanNotFound, "scan %s is not loaded", scanID)
	}
	m.touchLocked(e)
	if e.lodActive && e.lod != nil {
		return e.lod, nil
	}
	return e.full, nil
}

// ScanState reports the entry state, StateUnloaded when the manager has never
// seen the scan, and the entry's error if it is in StateError.
func (m *Manager) ScanState(scanID string) (State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scanID]
	if e == nil {
		return StateUnloaded, nil
	}
	return e.state, e.err
}

// LoadedScans returns the ids currently in StateLoaded, sorted.
func (m *Manager) LoadedScans() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, e := range m.entries {
		if e.state == StateLoaded {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// TotalBytes re-derives and returns the managed byte total.
func (m *Manager) TotalBytes() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recomputeTotalLocked()
	return m.total
}

// MemoryLimit returns the configured byte budget.
func (m *Manager) MemoryLimit() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.limit
}

// SetMemoryLimit replaces the byte budget and evicts immediately if the
// resident total no longer fits.
func (m *Manager) SetMemoryLimit(bytes int64) error {
	if bytes <= 0 {
		return errs.New(errs.InvalidArgument, "memory limit must be positive, got %d", bytes)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = bytes
	m.enforceLocked()
	return nil
}

// touchLocked stamps an entry as most recently used.
func (m *Manager) touchLocked(e *entry) {
	m.seq++
	e.lastUsed = m.seq
	e.touchedAt = m.clock.Now()
}

// recomputeTotalLocked re-derives the total from entry sizes. Kept as a full
// walk so the total can never drift from the entries.
func (m *Manager) recomputeTotalLocked() {
	var total int64
	for _, e := range m.entries {
		total += e.bytes
	}
	m.total = total
}

// makeRoomLocked evicts least recently used entries until need more bytes fit
// under the limit. Returns false when the budget cannot be met even with
// everything else evicted.
func (m *Manager) makeRoomLocked(need int64, exclude string) bool {
	m.recomputeTotalLocked()
	for m.total+need > m.limit {
		victimID, victim := m.oldestLoadedLocked(exclude)
		if victim == nil {
			return false
		}
		monitoring.Debugf("loadman: evicting %s (%s)", victimID, units.HumanBytes(victim.bytes))
		m.unloadLocked(victimID, victim)
	}
	return true
}

func (m *Manager) oldestLoadedLocked(exclude string) (string, *entry) {
	var victimID string
	var victim *entry
	for id, e := range m.entries {
		if id == exclude || e.state != StateLoaded {
			continue
		}
		if victim == nil || e.lastUsed < victim.lastUsed {
			victimID, victim = id, e
		}
	}
	return victimID, victim
}

// enforceLocked evicts until the resident total fits the limit, emitting a
// memory event if it cannot.
func (m *Manager) enforceLocked() {
	m.recomputeTotalLocked()
	for m.total > m.limit {
		victimID, victim := m.oldestLoadedLocked("")
		if victim == nil {
			m.emit(Event{Kind: EventMemoryLimitExceeded, CurrentBytes: m.total, LimitBytes: m.limit})
			return
		}
		m.unloadLocked(victimID, victim)
	}
}

// watchdog periodically re-checks the budget, independent of load traffic.
func (m *Manager) watchdog() {
	defer m.wg.Done()
	ticker := m.clock.NewTicker(watchdogInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C():
			m.mu.Lock()
			before := m.total
			m.enforceLocked()
			if before > m.limit {
				m.emit(Event{Kind: EventMemoryLimitExceeded, CurrentBytes: before, LimitBytes: m.limit})
			}
			m.mu.Unlock()
		case <-m.stop:
			return
		}
	}
}

// ClusterReport lists the per-scan outcome of a cluster-wide operation.
type ClusterReport struct {
	Succeeded []string
	Failed    map[string]error
}

// LoadCluster loads every scan directly under a cluster; nil selects the
// project root. Failures are collected per scan, not fatal to the batch.
func (m *Manager) LoadCluster(clusterID *string, sink progress.Sink) (*ClusterReport, error) {
	scans, err := m.cat.GetScansByCluster(clusterID)
	if err != nil {
		return nil, err
	}
	ids := lo.Map(scans, func(s catalog.Scan, _ int) string { return s.ID })

	report := &ClusterReport{Failed: make(map[string]error)}
	for i, id := range ids {
		if sink.Cancelled() {
			return report, errs.New(errs.Cancelled, "cluster load cancelled after %d of %d scans", i, len(ids))
		}
		if err := m.Load(id, progress.Nop()); err != nil {
			report.Failed[id] = err
			continue
		}
		report.Succeeded = append(report.Succeeded, id)
		sink.Report((i+1)*100/len(ids), "Loading cluster scans")
	}
	return report, nil
}

// UnloadCluster unloads every scan directly under a cluster.
func (m *Manager) UnloadCluster(clusterID *string) (*ClusterReport, error) {
	scans, err := m.cat.GetScansByCluster(clusterID)
	if err != nil {
		return nil, err
	}
	report := &ClusterReport{Failed: make(map[string]error)}
	for _, s := range scans {
		m.Unload(s.ID)
		report.Succeeded = append(report.Succeeded, s.ID)
	}
	return report, nil
}

// LoadWithLOD loads a scan and attaches an independent Bernoulli subsample
// kept at the given rate. The sampler is seeded from the scan id, so the same
// scan yields the same LOD buffer across runs.
func (m *Manager) LoadWithLOD(scanID string, rate float64, sink progress.Sink) error {
	if rate <= 0 || rate >= 1 {
		return errs.New(errs.InvalidArgument, "LOD rate must be in (0,1), got %g", rate)
	}
	if err := m.Load(scanID, sink); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scanID]
	if e == nil || e.state != StateLoaded {
		return errs.New(errs.ScanNotFound, "scan %s is not loaded", scanID)
	}
	if e.lod != nil {
		return nil
	}

	rng := rand.New(rand.NewSource(seedFor(scanID)))
	lod := e.full.BernoulliSample(rate, rng)
	lodBytes := lod.MemoryBytes()
	if !m.makeRoomLocked(lodBytes, scanID) {
		m.emit(Event{Kind: EventMemoryLimitExceeded, ScanID: scanID, CurrentBytes: m.total, LimitBytes: m.limit})
		return errs.New(errs.MemoryLimitExceeded,
			"LOD buffer for %s needs %s over a %s budget", scanID, units.HumanBytes(lodBytes), units.HumanBytes(m.limit))
	}
	e.lod = lod
	e.bytes += lodBytes
	m.recomputeTotalLocked()
	return nil
}

// SetLODActive selects which buffer GetPoints returns for a loaded scan.
func (m *Manager) SetLODActive(scanID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.entries[scanID]
	if e == nil || e.state != StateLoaded {
		return errs.New(errs.ScanNotFound, "scan %s is not loaded", scanID)
	}
	if active && e.lod == nil {
		return errs.New(errs.InvalidArgument, "scan %s has no LOD buffer", scanID)
	}
	e.lodActive = active
	return nil
}

func seedFor(scanID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(scanID))
	return int64(h.Sum64())
}
