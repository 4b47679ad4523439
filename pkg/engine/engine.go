// Package engine drives the template refresh lifecycle and answers CVE
// resolutions from an atomically published index snapshot.
//
// The engine is the single mutator of the mirror and the only publisher
// of index snapshots. Queries read whatever snapshot is current and
// never wait for a refresh.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gen0sec/wafrules-mcp/pkg/corpus"
	"github.com/gen0sec/wafrules-mcp/pkg/cveindex"
	"github.com/gen0sec/wafrules-mcp/pkg/defaults"
	"github.com/gen0sec/wafrules-mcp/pkg/metrics"
	"github.com/gen0sec/wafrules-mcp/pkg/upstream"
)

// State of the refresh scheduler.
type State string

const (
	StateIdle     State = "idle"
	StateSyncing  State = "syncing"
	StateIndexing State = "indexing"
)

// Config wires an Engine.
type Config struct {
	Store   *corpus.Store
	Fetcher *corpus.Fetcher

	// Upstream is consulted for the latest release when AutoUpdate is
	// set; otherwise the engine converges to TargetVersion.
	Upstream      upstream.Client
	TargetVersion string
	AutoUpdate    bool

	// Interval between background refresh cycles. Zero means the
	// default.
	Interval time.Duration

	// Metrics is optional; nil drops observations.
	Metrics *metrics.Metrics
}

// Engine owns the mirror refresh loop and the published index.
type Engine struct {
	store      *corpus.Store
	fetcher    *corpus.Fetcher
	client     upstream.Client
	target     string
	autoUpdate bool
	interval   time.Duration
	metrics    *metrics.Metrics
	log        *logrus.Entry

	index   atomic.Pointer[cveindex.Index]
	trigger chan struct{}

	// runMu serializes refresh cycles; TryLock turns overlap into a
	// skip instead of a queue.
	runMu sync.Mutex

	mu          sync.Mutex
	state       State
	lastSyncAt  time.Time
	lastOutcome corpus.SyncOutcome
	lastError   string
	warnings    int
	cycles      uint64
}

// New returns an Engine. Run must be called before background refresh
// happens; RunOnce works immediately.
func New(cfg Config) *Engine {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaults.RefreshInterval
	}
	return &Engine{
		store:      cfg.Store,
		fetcher:    cfg.Fetcher,
		client:     cfg.Upstream,
		target:     cfg.TargetVersion,
		autoUpdate: cfg.AutoUpdate,
		interval:   interval,
		metrics:    cfg.Metrics,
		log:        logrus.WithField("component", "engine"),
		trigger:    make(chan struct{}, 1),
		state:      StateIdle,
	}
}

// Run executes the refresh loop until ctx is cancelled: stale staging
// cleanup, a startup cycle, then interval ticks and on-demand triggers.
func (e *Engine) Run(ctx context.Context) error {
	if _, err := e.store.CleanStaging(); err != nil {
		e.log.WithError(err).Warn("staging cleanup failed")
	}

	e.RunOnce(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.RunOnce(ctx)
		case <-e.trigger:
			e.RunOnce(ctx)
		}
	}
}

// TriggerRefresh requests an extra refresh cycle. It returns false when
// a request is already pending; pending requests coalesce into a single
// cycle.
func (e *Engine) TriggerRefresh() bool {
	select {
	case e.trigger <- struct{}{}:
		return true
	default:
		return false
	}
}

// CycleReport describes one refresh cycle.
type CycleReport struct {
	Cycle     string
	Target    string
	Sync      corpus.SyncResult
	Indexed   bool
	IndexCVEs int
	Warnings  int
	Duration  time.Duration

	// Skipped is set when another cycle was already in flight.
	Skipped bool
}

// RunOnce performs one refresh cycle: resolve the target version, sync
// the mirror, and rebuild and publish the index when the content
// changed. An unchanged mirror still gets an index build if no snapshot
// has been published yet, so a restart serves without re-downloading.
func (e *Engine) RunOnce(ctx context.Context) CycleReport {
	if !e.runMu.TryLock() {
		return CycleReport{Skipped: true}
	}
	defer e.runMu.Unlock()

	cycle := uuid.New().String()
	log := e.log.WithField("cycle", cycle)
	start := time.Now()
	report := CycleReport{Cycle: cycle}

	target := e.target
	if e.autoUpdate {
		latest, err := e.client.LatestVersion(ctx)
		if err != nil {
			log.WithError(err).Error("release lookup failed")
			res := corpus.SyncResult{Outcome: corpus.OutcomeFailed, Err: err}
			e.recordSync(res)
			e.metrics.ObserveSync(string(res.Outcome), time.Since(start))
			report.Sync = res
			report.Duration = time.Since(start)
			return report
		}
		target = latest
	}
	report.Target = target

	e.setState(StateSyncing)
	res := e.fetcher.SyncTo(ctx, target)
	e.recordSync(res)
	e.metrics.ObserveSync(string(res.Outcome), time.Since(start))
	report.Sync = res

	switch {
	case res.Outcome == corpus.OutcomeFailed:
		log.WithError(res.Err).WithField("target", target).Error("sync failed")
		e.setState(StateIdle)
		report.Duration = time.Since(start)
		return report
	case res.Outcome == corpus.OutcomeUnchanged && e.index.Load() != nil:
		log.WithField("version", res.Version).Debug("mirror unchanged, index current")
		e.setState(StateIdle)
		report.Duration = time.Since(start)
		return report
	}

	e.setState(StateIndexing)
	buildStart := time.Now()
	ix, warnings, err := cveindex.Build(e.store.MirrorDir(), res.Version)
	if err != nil {
		log.WithError(err).Error("index build failed")
		e.mu.Lock()
		e.lastError = err.Error()
		e.mu.Unlock()
		e.setState(StateIdle)
		report.Duration = time.Since(start)
		return report
	}
	for _, w := range warnings {
		log.WithField("file", w.Path).WithError(w.Err).Debug("template skipped")
	}

	e.index.Store(ix)
	e.mu.Lock()
	e.warnings = len(warnings)
	e.mu.Unlock()
	e.metrics.ObserveIndexBuild(ix.Len(), ix.TemplateCount(), len(warnings), time.Since(buildStart))
	e.setState(StateIdle)

	log.WithFields(logrus.Fields{
		"version":   res.Version,
		"cves":      ix.Len(),
		"templates": ix.TemplateCount(),
		"warnings":  len(warnings),
		"duration":  time.Since(start).Round(time.Millisecond).String(),
	}).Info("index published")

	report.Indexed = true
	report.IndexCVEs = ix.Len()
	report.Warnings = len(warnings)
	report.Duration = time.Since(start)
	return report
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

func (e *Engine) recordSync(res corpus.SyncResult) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cycles++
	e.lastSyncAt = time.Now().UTC()
	e.lastOutcome = res.Outcome
	if res.Err != nil {
		e.lastError = res.Err.Error()
	} else {
		e.lastError = ""
	}
}

// Index returns the current snapshot, or nil before the first publish.
func (e *Engine) Index() *cveindex.Index {
	return e.index.Load()
}

// ResolveStatus classifies a resolution.
type ResolveStatus string

const (
	ResolveFound    ResolveStatus = "found"
	ResolveNotFound ResolveStatus = "not_found"
	ResolveInvalid  ResolveStatus = "invalid_identifier"
)

// Resolution is the answer to a CVE lookup.
type Resolution struct {
	Status  ResolveStatus
	CVEID   string
	Records []cveindex.Record
}

// Resolve maps a CVE identifier to its templates. It reads the current
// snapshot and returns immediately; a refresh in progress is invisible
// here. An index that was never built resolves everything to not_found.
func (e *Engine) Resolve(cveID string) Resolution {
	canonical, err := cveindex.Normalize(cveID)
	if err != nil {
		e.metrics.ObserveResolve(string(ResolveInvalid))
		return Resolution{Status: ResolveInvalid}
	}

	ix := e.index.Load()
	if ix == nil {
		e.metrics.ObserveResolve(string(ResolveNotFound))
		return Resolution{Status: ResolveNotFound, CVEID: canonical}
	}

	recs := ix.Lookup(canonical)
	if len(recs) == 0 {
		e.metrics.ObserveResolve(string(ResolveNotFound))
		return Resolution{Status: ResolveNotFound, CVEID: canonical}
	}
	e.metrics.ObserveResolve(string(ResolveFound))
	return Resolution{Status: ResolveFound, CVEID: canonical, Records: recs}
}

// Status is a point-in-time diagnostic snapshot.
type Status struct {
	State           State     `json:"state"`
	AutoUpdate      bool      `json:"auto_update"`
	TargetVersion   string    `json:"target_version,omitempty"`
	MirrorVersion   string    `json:"mirror_version,omitempty"`
	MirrorAppliedAt time.Time `json:"mirror_applied_at,omitzero"`
	IndexVersion    string    `json:"index_version,omitempty"`
	IndexCVEs       int       `json:"index_cves"`
	IndexTemplates  int       `json:"index_templates"`
	IndexBuiltAt    time.Time `json:"index_built_at,omitzero"`
	IndexWarnings   int       `json:"index_warnings"`
	LastSyncAt      time.Time `json:"last_sync_at,omitzero"`
	LastOutcome     string    `json:"last_outcome,omitempty"`
	LastError       string    `json:"last_error,omitempty"`
	Cycles          uint64    `json:"cycles"`
}

// Status reports the engine's current diagnostics.
func (e *Engine) Status() Status {
	e.mu.Lock()
	st := Status{
		State:         e.state,
		AutoUpdate:    e.autoUpdate,
		TargetVersion: e.target,
		IndexWarnings: e.warnings,
		LastSyncAt:    e.lastSyncAt,
		LastOutcome:   string(e.lastOutcome),
		LastError:     e.lastError,
		Cycles:        e.cycles,
	}
	e.mu.Unlock()

	if rec, ok := e.store.Current(); ok {
		st.MirrorVersion = rec.Version
		st.MirrorAppliedAt = rec.AppliedAt
	}
	if ix := e.index.Load(); ix != nil {
		st.IndexVersion = ix.Version()
		st.IndexCVEs = ix.Len()
		st.IndexTemplates = ix.TemplateCount()
		st.IndexBuiltAt = ix.BuiltAt()
	}
	return st
}
