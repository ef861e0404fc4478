package geocode

import (
	"context"
	"crypto/sha256"
	"fmt"
	"time"
)

// Cache stores successful reverse lookups between runs.
type Cache interface {
	// GetCachedAddress returns the cached address for key, or "" when absent
	// or expired.
	GetCachedAddress(ctx context.Context, key string) (string, error)
	// SetCachedAddress stores addr under key for ttl.
	SetCachedAddress(ctx context.Context, key, addr string, ttl time.Duration) error
}

// CacheKey returns the SHA-256 hex of the coordinate rounded to six decimal
// places (about 10 cm), so repeated runs over the same point share an entry.
func CacheKey(lat, lng float64) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%.6f|%.6f", lat, lng)))
	return fmt.Sprintf("%x", h)
}
