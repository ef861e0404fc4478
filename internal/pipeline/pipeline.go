// Package pipeline runs one enrichment pass: fetch, normalize, resolve
// addresses, assign districts, merge with the previous snapshot and persist.
package pipeline

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/address"
	"github.com/ctut-gis/atm-cli/internal/district"
	"github.com/ctut-gis/atm-cli/internal/merge"
	"github.com/ctut-gis/atm-cli/internal/metrics"
	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/normalize"
	"github.com/ctut-gis/atm-cli/internal/snapshot"
	"github.com/ctut-gis/atm-cli/pkg/overpass"
)

// Config is the immutable run configuration.
type Config struct {
	Query        overpass.Query
	BoundaryPath string
	Mode         merge.Mode
	// SkipGeocode disables the reverse-geocode phase; addressless points are
	// finalized to the placeholder on output.
	SkipGeocode bool
	// SkipDistricts disables district assignment even when boundaries exist.
	SkipDistricts bool
}

// Ledger records runs. store.Store satisfies it.
type Ledger interface {
	CreateRun(ctx context.Context, mode string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, result *model.RunResult) error
}

// Result summarizes one run.
type Result struct {
	model.RunResult
	RunID   string     `json:"run_id,omitempty"`
	Mode    merge.Mode `json:"mode"`
	Records int        `json:"records"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithResolver enables the reverse-geocode phase.
func WithResolver(r *address.Resolver) Option {
	return func(p *Pipeline) { p.resolver = r }
}

// WithClassifier fixes the boundary collection instead of loading
// Config.BoundaryPath on every run.
func WithClassifier(c *district.Classifier) Option {
	return func(p *Pipeline) { p.classifier = c }
}

// WithLedger records every run.
func WithLedger(l Ledger) Option {
	return func(p *Pipeline) { p.ledger = l }
}

// WithMetrics exports run metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// Pipeline orchestrates an enrichment run. At most one Run executes at a time.
type Pipeline struct {
	cfg        Config
	fetcher    overpass.Client
	snapshots  *snapshot.Store
	resolver   *address.Resolver
	classifier *district.Classifier
	ledger     Ledger
	metrics    *metrics.Metrics

	running atomic.Bool
}

// New creates a Pipeline.
func New(cfg Config, fetcher overpass.Client, snapshots *snapshot.Store, opts ...Option) *Pipeline {
	if cfg.Mode == "" {
		cfg.Mode = merge.ModeDiff
	}
	p := &Pipeline{cfg: cfg, fetcher: fetcher, snapshots: snapshots}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Running reports whether a run is in progress.
func (p *Pipeline) Running() bool {
	return p.running.Load()
}

// Run executes one pass with the configured mode.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	return p.RunMode(ctx, p.cfg.Mode)
}

// RunMode executes one pass with an explicit merge mode. A failed fetch or
// snapshot read/write is returned and the previous snapshot stays as it was;
// geocoder and geometry failures are absorbed per point.
func (p *Pipeline) RunMode(ctx context.Context, mode merge.Mode) (*Result, error) {
	if !p.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	defer p.running.Store(false)

	start := time.Now()
	res := &Result{Mode: mode}
	log := zap.L().With(zap.String("component", "pipeline"), zap.String("mode", string(mode)))

	if p.ledger != nil {
		run, err := p.ledger.CreateRun(ctx, string(mode))
		if err != nil {
			log.Warn("pipeline: failed to record run", zap.Error(err))
		} else {
			res.RunID = run.ID
			log = log.With(zap.String("run_id", run.ID))
		}
	}
	log.Info("pipeline: starting enrichment")

	err := p.run(ctx, mode, res, log)
	res.DurationMs = time.Since(start).Milliseconds()

	status := model.RunStatusComplete
	if err != nil {
		status = model.RunStatusFailed
		res.Error = err.Error()
		log.Error("pipeline: run failed", zap.Int64("duration_ms", res.DurationMs), zap.Error(err))
	} else {
		log.Info("pipeline: run complete",
			zap.Int("fetched", res.Fetched),
			zap.Int("records", res.Records),
			zap.Bool("written", res.Written),
			zap.Int64("duration_ms", res.DurationMs),
		)
	}

	p.finish(ctx, res, status, log)
	p.metrics.ObserveRun(string(mode), string(status), time.Since(start))
	if err != nil {
		return res, err
	}
	return res, nil
}

func (p *Pipeline) run(ctx context.Context, mode merge.Mode, res *Result, log *zap.Logger) error {
	phase := func(name string, fn func() error) error {
		start := time.Now()
		err := fn()
		p.metrics.ObservePhase(name, start)
		if err == nil {
			log.Debug("pipeline: phase complete",
				zap.String("phase", name),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
			)
		}
		return err
	}

	var raw []model.RawFeature
	if err := phase("fetch", func() error {
		var err error
		raw, err = p.fetcher.Fetch(ctx, p.cfg.Query.Build())
		if err != nil {
			return &UpstreamFetchError{Err: err}
		}
		return nil
	}); err != nil {
		return err
	}
	res.Fetched = len(raw)
	if p.metrics != nil {
		p.metrics.PointsFetched.Set(float64(len(raw)))
	}

	var points []model.Point
	_ = phase("normalize", func() error {
		points = normalize.All(raw)
		return nil
	})
	res.Normalized = len(points)

	_ = phase("address_tags", func() error {
		res.AddressFromTags = address.ApplyTags(points)
		return nil
	})

	if p.resolver != nil && !p.cfg.SkipGeocode {
		if err := phase("address_reverse", func() error {
			st, err := p.resolver.Reverse(ctx, points)
			res.GeocodeAttempted = st.Attempted
			res.GeocodeResolved = st.Resolved
			res.GeocodeFallback = st.Fallback
			res.GeocodeCacheHits = st.CacheHits
			res.GeocodeRequests = st.Requests
			res.GeocodeSkipped = st.Skipped
			p.metrics.AddGeocode(st.Resolved, st.Fallback, st.CacheHits, st.Skipped)
			return eris.Wrap(err, "pipeline: reverse geocode")
		}); err != nil {
			return err
		}
	}

	if !p.cfg.SkipDistricts {
		_ = phase("district", func() error {
			res.Districts = p.assignDistricts(points, log)
			return nil
		})
	}

	records := make([]model.Record, len(points))
	for i := range points {
		records[i] = points[i].ToRecord()
	}

	return phase("persist", func() error {
		old, err := p.snapshots.Read()
		if err != nil {
			return err
		}
		if n := p.carryOver(records, old); n > 0 {
			res.CarriedOver = n
			log.Debug("pipeline: kept enrichment from snapshot", zap.Int("records", n))
		}

		out, err := merge.Apply(mode, old, records)
		if err != nil {
			return err
		}
		res.Added = len(out.Diff.Added)
		res.Removed = len(out.Diff.Removed)
		res.Changed = len(out.Diff.Changed)
		res.Appended = len(out.Appended)
		res.Records = len(out.Records)
		p.metrics.AddMerge(res.Added, res.Removed, res.Changed, res.Appended)

		if !out.Write {
			log.Info("pipeline: snapshot unchanged, skipping write", zap.Int("records", len(old)))
			res.Records = len(old)
			p.setSnapshotGauge(len(old))
			return nil
		}
		if err := p.snapshots.Write(out.Records); err != nil {
			return err
		}
		res.Written = true
		if p.metrics != nil {
			p.metrics.SnapshotWrites.Inc()
		}
		p.setSnapshotGauge(len(out.Records))
		return nil
	})
}

// assignDistricts is best-effort: with no boundary dataset every district
// stays nil.
func (p *Pipeline) assignDistricts(points []model.Point, log *zap.Logger) int {
	c := p.classifier
	if c == nil {
		boundaries, err := district.Load(p.cfg.BoundaryPath)
		if err != nil {
			if errors.Is(err, district.ErrNoBoundaries) {
				log.Info("pipeline: no boundary dataset, skipping districts", zap.String("path", p.cfg.BoundaryPath))
			} else {
				log.Warn("pipeline: failed to load boundaries, skipping districts", zap.Error(err))
			}
			return 0
		}
		c = district.NewClassifier(boundaries)
	}

	n := 0
	for i := range points {
		name, ok := c.Classify(points[i].Lat, points[i].Lng)
		if !ok {
			continue
		}
		points[i].District = &name
		n++
	}
	return n
}

// carryOver copies enrichment this run skipped from the persisted record with
// the same id and coordinates: the reverse-geocoded address when geocoding is
// off and the tag phase found nothing, and the district when districts are
// off. Tag addresses are never carried since the tags are re-read each run.
func (p *Pipeline) carryOver(records, old []model.Record) int {
	skipGeocode := p.cfg.SkipGeocode || p.resolver == nil
	if (!skipGeocode && !p.cfg.SkipDistricts) || len(old) == 0 {
		return 0
	}

	prev := make(map[string]model.Record, len(old))
	for _, r := range old {
		prev[r.ID] = r
	}

	n := 0
	for i := range records {
		r := &records[i]
		o, ok := prev[r.ID]
		if !ok || o.Lat != r.Lat || o.Lng != r.Lng {
			continue
		}
		carried := false
		if skipGeocode && r.AddressSource == nil && o.AddressSource != nil &&
			(*o.AddressSource == model.AddressSourceNominatim || *o.AddressSource == model.AddressSourceFallback) {
			r.Address = o.Address
			r.AddressSource = o.AddressSource
			r.Source = o.Source
			carried = true
		}
		if p.cfg.SkipDistricts && r.District == nil && o.District != nil {
			r.District = o.District
			carried = true
		}
		if carried {
			n++
		}
	}
	return n
}

func (p *Pipeline) setSnapshotGauge(n int) {
	if p.metrics != nil {
		p.metrics.SnapshotRecords.Set(float64(n))
	}
}

func (p *Pipeline) finish(ctx context.Context, res *Result, status model.RunStatus, log *zap.Logger) {
	if p.ledger == nil || res.RunID == "" {
		return
	}
	// Record the outcome even when the run was cancelled.
	ctx = context.WithoutCancel(ctx)
	var err error
	if status == model.RunStatusComplete {
		err = p.ledger.CompleteRun(ctx, res.RunID, &res.RunResult)
	} else {
		err = p.ledger.FailRun(ctx, res.RunID, &res.RunResult)
	}
	if err != nil {
		log.Warn("pipeline: failed to update run", zap.Error(err))
	}
}
