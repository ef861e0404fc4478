package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/store"
)

// maxLookbackRuns caps how many ledger rows one collection reads.
const maxLookbackRuns = 1000

// MetricsSnapshot holds a point-in-time view of enrichment health.
type MetricsSnapshot struct {
	RunsTotal    int     `json:"runs_total"`
	RunsComplete int     `json:"runs_complete"`
	RunsFailed   int     `json:"runs_failed"`
	RunsRunning  int     `json:"runs_running"`
	FailRate     float64 `json:"fail_rate"`

	SnapshotWrites  int `json:"snapshot_writes"`
	GeocodeFallback int `json:"geocode_fallback"`

	LastComplete time.Time `json:"last_complete,omitempty"`
	LastError    string    `json:"last_error,omitempty"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// RunLister is the part of the store the collector reads.
type RunLister interface {
	ListRuns(ctx context.Context, filter store.RunFilter) ([]model.Run, error)
}

// Collector gathers run metrics from the ledger.
type Collector struct {
	runs RunLister
	now  func() time.Time
}

// NewCollector creates a new metrics collector.
func NewCollector(runs RunLister) *Collector {
	return &Collector{runs: runs, now: func() time.Time { return time.Now().UTC() }}
}

// Collect gathers a snapshot of the runs created within the lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.runs.ListRuns(ctx, store.RunFilter{Limit: maxLookbackRuns})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	// Runs arrive newest first.
	for _, r := range runs {
		if r.CreatedAt.Before(cutoff) {
			break
		}
		snap.RunsTotal++
		switch r.Status {
		case model.RunStatusComplete:
			snap.RunsComplete++
			if r.UpdatedAt.After(snap.LastComplete) {
				snap.LastComplete = r.UpdatedAt
			}
		case model.RunStatusFailed:
			snap.RunsFailed++
			if snap.LastError == "" && r.Result != nil {
				snap.LastError = r.Result.Error
			}
		default:
			snap.RunsRunning++
		}
		if r.Result != nil {
			if r.Result.Written {
				snap.SnapshotWrites++
			}
			snap.GeocodeFallback += r.Result.GeocodeFallback
		}
	}

	if finished := snap.RunsComplete + snap.RunsFailed; finished > 0 {
		snap.FailRate = float64(snap.RunsFailed) / float64(finished)
	}
	return snap, nil
}
