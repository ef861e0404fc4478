// Package store keeps the SQLite side-car next to the snapshot: a ledger of
// enrichment runs and a cache of reverse-geocoded addresses. The snapshot
// itself stays a flat JSON file.
package store

import (
	"context"
	"time"

	"github.com/ctut-gis/atm-cli/internal/model"
)

// RunFilter specifies criteria for listing runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	Mode   string          `json:"mode,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the side-car persistence used by the pipeline.
type Store interface {
	// Runs
	CreateRun(ctx context.Context, mode string) (*model.Run, error)
	CompleteRun(ctx context.Context, runID string, result *model.RunResult) error
	FailRun(ctx context.Context, runID string, result *model.RunResult) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)

	// Reverse-geocode cache
	GetCachedAddress(ctx context.Context, key string) (string, error)
	SetCachedAddress(ctx context.Context, key, addr string, ttl time.Duration) error
	DeleteExpiredAddresses(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
