package monitoring

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/store"
)

type mockRuns struct {
	runs []model.Run
	err  error
}

func (m *mockRuns) ListRuns(_ context.Context, _ store.RunFilter) ([]model.Run, error) {
	return m.runs, m.err
}

var fixedNow = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func newTestCollector(runs RunLister) *Collector {
	c := NewCollector(runs)
	c.now = func() time.Time { return fixedNow }
	return c
}

func TestCollector_Collect(t *testing.T) {
	runs := &mockRuns{runs: []model.Run{
		{
			ID: "4", Status: model.RunStatusRunning,
			CreatedAt: fixedNow.Add(-10 * time.Minute),
		},
		{
			ID: "3", Status: model.RunStatusFailed,
			Result:    &model.RunResult{Error: "pipeline: upstream fetch failed: status 504"},
			CreatedAt: fixedNow.Add(-1 * time.Hour),
			UpdatedAt: fixedNow.Add(-1 * time.Hour),
		},
		{
			ID: "2", Status: model.RunStatusComplete,
			Result:    &model.RunResult{Written: true, GeocodeFallback: 3},
			CreatedAt: fixedNow.Add(-2 * time.Hour),
			UpdatedAt: fixedNow.Add(-2*time.Hour + time.Minute),
		},
		{
			ID: "1", Status: model.RunStatusFailed,
			Result:    &model.RunResult{Error: "too old"},
			CreatedAt: fixedNow.Add(-48 * time.Hour),
		},
	}}

	snap, err := newTestCollector(runs).Collect(context.Background(), 24)
	require.NoError(t, err)

	assert.Equal(t, 3, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, 1, snap.RunsRunning)
	assert.InDelta(t, 0.5, snap.FailRate, 0.001)
	assert.Equal(t, 1, snap.SnapshotWrites)
	assert.Equal(t, 3, snap.GeocodeFallback)
	assert.Equal(t, fixedNow.Add(-2*time.Hour+time.Minute), snap.LastComplete)
	assert.Equal(t, "pipeline: upstream fetch failed: status 504", snap.LastError)
	assert.Equal(t, 24, snap.LookbackHours)
	assert.Equal(t, fixedNow, snap.CollectedAt)
}

func TestCollector_Empty(t *testing.T) {
	snap, err := newTestCollector(&mockRuns{}).Collect(context.Background(), 24)
	require.NoError(t, err)
	assert.Zero(t, snap.RunsTotal)
	assert.Zero(t, snap.FailRate)
	assert.True(t, snap.LastComplete.IsZero())
}

func TestCollector_ListError(t *testing.T) {
	_, err := newTestCollector(&mockRuns{err: errors.New("db locked")}).Collect(context.Background(), 24)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "monitoring: list runs")
}

func TestCollector_SQLiteLedger(t *testing.T) {
	ctx := context.Background()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "runs.db"))
	require.NoError(t, err)
	defer st.Close() //nolint:errcheck
	require.NoError(t, st.Migrate(ctx))

	ok, err := st.CreateRun(ctx, "diff")
	require.NoError(t, err)
	require.NoError(t, st.CompleteRun(ctx, ok.ID, &model.RunResult{Written: true}))

	bad, err := st.CreateRun(ctx, "diff")
	require.NoError(t, err)
	require.NoError(t, st.FailRun(ctx, bad.ID, &model.RunResult{Error: "boom"}))

	snap, err := NewCollector(st).Collect(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, snap.RunsTotal)
	assert.Equal(t, 1, snap.RunsComplete)
	assert.Equal(t, 1, snap.RunsFailed)
	assert.Equal(t, "boom", snap.LastError)
}
