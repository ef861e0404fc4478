// Package metrics holds the Prometheus instruments for enrichment runs and
// the serving layer.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups every collector the service exports.
type Metrics struct {
	Registry *prometheus.Registry

	RunsTotal       *prometheus.CounterVec
	RunDuration     prometheus.Histogram
	PhaseDuration   *prometheus.HistogramVec
	PointsFetched   prometheus.Gauge
	SnapshotRecords prometheus.Gauge
	SnapshotWrites  prometheus.Counter
	LastSuccess     prometheus.Gauge
	Geocode         *prometheus.CounterVec
	MergeChanges    *prometheus.CounterVec

	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
}

// New registers all collectors on a fresh registry, plus the Go runtime and
// process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		RunsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_enrich_runs_total",
			Help: "Enrichment runs by mode and outcome",
		}, []string{"mode", "status"}),
		RunDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "atm_enrich_run_duration_seconds",
			Help:    "Wall-clock duration of enrichment runs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		}),
		PhaseDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atm_enrich_phase_duration_seconds",
			Help:    "Duration of individual pipeline phases",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 15, 60},
		}, []string{"phase"}),
		PointsFetched: f.NewGauge(prometheus.GaugeOpts{
			Name: "atm_points_fetched",
			Help: "Raw features returned by the last fetch",
		}),
		SnapshotRecords: f.NewGauge(prometheus.GaugeOpts{
			Name: "atm_snapshot_records",
			Help: "Records in the snapshot after the last run",
		}),
		SnapshotWrites: f.NewCounter(prometheus.CounterOpts{
			Name: "atm_snapshot_writes_total",
			Help: "Snapshot file replacements",
		}),
		LastSuccess: f.NewGauge(prometheus.GaugeOpts{
			Name: "atm_enrich_last_success_timestamp_seconds",
			Help: "Unix time of the last successful run",
		}),
		Geocode: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_geocode_lookups_total",
			Help: "Reverse-geocode outcomes",
		}, []string{"outcome"}),
		MergeChanges: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_merge_records_total",
			Help: "Records added, removed, changed or appended by merges",
		}, []string{"kind"}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "atm_http_requests_total",
			Help: "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "atm_http_request_duration_seconds",
			Help:    "HTTP request latency by route",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ObservePhase records the duration of a pipeline phase.
// Call with time.Now() at the start of the phase.
func (m *Metrics) ObservePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.PhaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}

// ObserveRun records a finished run.
func (m *Metrics) ObserveRun(mode, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.RunsTotal.WithLabelValues(mode, status).Inc()
	m.RunDuration.Observe(d.Seconds())
	if status == "complete" {
		m.LastSuccess.SetToCurrentTime()
	}
}

// AddGeocode counts reverse-geocode outcomes.
func (m *Metrics) AddGeocode(resolved, fallback, cacheHits, skipped int) {
	if m == nil {
		return
	}
	m.Geocode.WithLabelValues("resolved").Add(float64(resolved))
	m.Geocode.WithLabelValues("fallback").Add(float64(fallback))
	m.Geocode.WithLabelValues("cache_hit").Add(float64(cacheHits))
	m.Geocode.WithLabelValues("over_quota").Add(float64(skipped))
}

// AddMerge counts merge results.
func (m *Metrics) AddMerge(added, removed, changed, appended int) {
	if m == nil {
		return
	}
	m.MergeChanges.WithLabelValues("added").Add(float64(added))
	m.MergeChanges.WithLabelValues("removed").Add(float64(removed))
	m.MergeChanges.WithLabelValues("changed").Add(float64(changed))
	m.MergeChanges.WithLabelValues("appended").Add(float64(appended))
}

// ObserveHTTP records one served request.
func (m *Metrics) ObserveHTTP(route string, code int, start time.Time) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(route, statusLabel(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
}

func statusLabel(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	default:
		return "2xx"
	}
}
