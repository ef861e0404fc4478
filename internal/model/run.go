package model

import "time"

// RunStatus represents the current state of an enrichment run.
type RunStatus string

// Run statuses.
const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusFailed   RunStatus = "failed"
)

// Run is a ledger entry for one pipeline invocation.
type Run struct {
	ID        string     `json:"id"`
	Mode      string     `json:"mode"`
	Status    RunStatus  `json:"status"`
	Result    *RunResult `json:"result,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// RunResult holds the counters collected during a run.
type RunResult struct {
	Fetched          int    `json:"fetched"`
	Normalized       int    `json:"normalized"`
	AddressFromTags  int    `json:"address_from_tags"`
	GeocodeAttempted int    `json:"geocode_attempted"`
	GeocodeResolved  int    `json:"geocode_resolved"`
	GeocodeFallback  int    `json:"geocode_fallback"`
	GeocodeCacheHits int    `json:"geocode_cache_hits"`
	GeocodeRequests  int    `json:"geocode_requests"`
	GeocodeSkipped   int    `json:"geocode_skipped"`
	Districts        int    `json:"districts"`
	CarriedOver      int    `json:"carried_over"`
	Added            int    `json:"added"`
	Removed          int    `json:"removed"`
	Changed          int    `json:"changed"`
	Appended         int    `json:"appended"`
	Written          bool   `json:"written"`
	DurationMs       int64  `json:"duration_ms"`
	Error            string `json:"error,omitempty"`
}
