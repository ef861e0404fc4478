package main

import (
	"context"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/address"
	"github.com/ctut-gis/atm-cli/internal/config"
	"github.com/ctut-gis/atm-cli/internal/merge"
	"github.com/ctut-gis/atm-cli/internal/metrics"
	"github.com/ctut-gis/atm-cli/internal/pipeline"
	"github.com/ctut-gis/atm-cli/internal/resilience"
	"github.com/ctut-gis/atm-cli/internal/snapshot"
	"github.com/ctut-gis/atm-cli/internal/store"
	"github.com/ctut-gis/atm-cli/pkg/geocode"
	"github.com/ctut-gis/atm-cli/pkg/overpass"
)

// pipelineEnv holds the clients, stores and the pipeline needed by the
// enrich, fetch and serve commands.
type pipelineEnv struct {
	Store     store.Store // nil when store.path is empty
	Snapshots *snapshot.Store
	Metrics   *metrics.Metrics
	Pipeline  *pipeline.Pipeline
}

// Close releases resources held by the environment.
func (pe *pipelineEnv) Close() {
	if pe.Store != nil {
		_ = pe.Store.Close()
	}
}

// envOptions narrows a run for commands that only need part of the pipeline.
// A non-empty snapshotPath overrides pipeline.snapshot_path.
type envOptions struct {
	mode          merge.Mode
	skipGeocode   bool
	skipDistricts bool
	snapshotPath  string
}

// initStore opens and migrates the SQLite side-car. It returns nil, nil when
// the store is disabled.
func initStore(ctx context.Context, c *config.Config) (store.Store, error) {
	if c.Store.Path == "" {
		return nil, nil
	}
	st, err := store.NewSQLite(c.Store.Path)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}
	return st, nil
}

// initPipeline builds the enrichment pipeline from c. Callers should defer
// env.Close().
func initPipeline(ctx context.Context, c *config.Config, opts envOptions) (*pipelineEnv, error) {
	st, err := initStore(ctx, c)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	snapPath := c.Pipeline.SnapshotPath
	if opts.snapshotPath != "" {
		snapPath = opts.snapshotPath
	}
	snaps := snapshot.NewStore(snapPath)
	fetcher := overpass.NewClient(
		overpass.WithEndpoint(c.Overpass.URL),
		overpass.WithUserAgent(c.Overpass.UserAgent),
		overpass.WithHTTPClient(&http.Client{Timeout: time.Duration(c.Overpass.TimeoutSecs+30) * time.Second}),
	)

	pcfg := pipeline.Config{
		Query:         c.Overpass.Query(),
		BoundaryPath:  c.Pipeline.BoundaryPath,
		Mode:          opts.mode,
		SkipGeocode:   opts.skipGeocode || c.Nominatim.Disabled,
		SkipDistricts: opts.skipDistricts || c.Pipeline.SkipDistricts,
	}

	pipeOpts := []pipeline.Option{pipeline.WithMetrics(m)}
	if st != nil {
		pipeOpts = append(pipeOpts, pipeline.WithLedger(st))
	}
	if !pcfg.SkipGeocode {
		gc := geocode.NewClient(
			geocode.WithBaseURL(c.Nominatim.URL),
			geocode.WithUserAgent(c.Nominatim.UserAgent),
			geocode.WithAcceptLanguage(c.Nominatim.AcceptLanguage),
			geocode.WithRateLimit(c.Nominatim.RateLimit),
		)
		bcfg := resilience.NewBreakerConfig(c.Nominatim.BreakerFailures, c.Nominatim.BreakerResetSecs)
		bcfg.OnStateChange = resilience.LogStateChange("nominatim")
		resolverOpts := []address.Option{
			address.WithQuota(c.Nominatim.Quota),
			address.WithDelay(c.Nominatim.Delay()),
			address.WithBreaker(resilience.NewBreaker(bcfg)),
		}
		if st != nil {
			resolverOpts = append(resolverOpts, address.WithCache(st, c.Nominatim.CacheTTL()))
		}
		pipeOpts = append(pipeOpts, pipeline.WithResolver(address.NewResolver(gc, resolverOpts...)))
	}

	zap.L().Debug("pipeline initialized",
		zap.String("mode", string(opts.mode)),
		zap.String("snapshot", snapPath),
		zap.Bool("geocode", !pcfg.SkipGeocode),
		zap.Bool("districts", !pcfg.SkipDistricts),
		zap.Bool("store", st != nil),
	)

	return &pipelineEnv{
		Store:     st,
		Snapshots: snaps,
		Metrics:   m,
		Pipeline:  pipeline.New(pcfg, fetcher, snaps, pipeOpts...),
	}, nil
}
