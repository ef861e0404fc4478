package monitoring

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/ctut-gis/atm-cli/internal/config"
	"github.com/ctut-gis/atm-cli/internal/model"
)

func TestChecker_Interval(t *testing.T) {
	c := NewChecker(nil, nil, config.MonitoringConfig{})
	assert.Equal(t, time.Hour, c.Interval())

	c = NewChecker(nil, nil, config.MonitoringConfig{CheckIntervalSecs: 90})
	assert.Equal(t, 90*time.Second, c.Interval())
}

func TestChecker_CheckSendsAlerts(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.MonitoringConfig{
		WebhookURL:           srv.URL,
		FailureRateThreshold: 0.5,
		MinFinishedRuns:      1,
		LookbackWindowHours:  24,
	}
	runs := &mockRuns{runs: []model.Run{
		{ID: "2", Status: model.RunStatusFailed, CreatedAt: fixedNow.Add(-time.Hour)},
		{ID: "1", Status: model.RunStatusFailed, CreatedAt: fixedNow.Add(-2 * time.Hour)},
	}}

	c := NewChecker(newTestCollector(runs), NewAlerter(cfg), cfg)
	assert.Equal(t, 2, c.Check(context.Background()))
	assert.Equal(t, int32(2), hits.Load())
}

func TestChecker_CheckHealthy(t *testing.T) {
	cfg := config.MonitoringConfig{WebhookURL: "http://127.0.0.1:1", FailureRateThreshold: 0.5, LookbackWindowHours: 24}
	runs := &mockRuns{runs: []model.Run{
		{ID: "1", Status: model.RunStatusComplete, CreatedAt: fixedNow.Add(-time.Hour)},
	}}
	c := NewChecker(newTestCollector(runs), NewAlerter(cfg), cfg)
	assert.Equal(t, 0, c.Check(context.Background()))
}

func TestChecker_CheckCollectError(t *testing.T) {
	cfg := config.MonitoringConfig{LookbackWindowHours: 24}
	c := NewChecker(newTestCollector(&mockRuns{err: errors.New("closed")}), NewAlerter(cfg), cfg)
	assert.Equal(t, 0, c.Check(context.Background()))
}
