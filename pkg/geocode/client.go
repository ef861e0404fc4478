// Package geocode resolves coordinates to human-readable addresses via the
// Nominatim reverse-geocoding API.
package geocode

import (
	"context"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultBaseURL is the public Nominatim instance.
	DefaultBaseURL = "https://nominatim.openstreetmap.org"
	// DefaultUserAgent identifies this client; Nominatim's usage policy
	// rejects requests without a descriptive agent.
	DefaultUserAgent = "ctut-atm-mapper/1.0"
)

// Client reverse-geocodes a single coordinate.
type Client interface {
	// Reverse returns the place at (lat, lng). A nil Place with a nil error
	// means the service answered but found nothing.
	Reverse(ctx context.Context, lat, lng float64) (*Place, error)
}

// Place is the subset of a Nominatim reverse response the pipeline uses.
type Place struct {
	DisplayName string            `json:"display_name"`
	OSMType     string            `json:"osm_type"`
	OSMID       int64             `json:"osm_id"`
	Address     map[string]string `json:"address"`
}

// Option configures the geocoder.
type Option func(*nominatim)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(n *nominatim) {
		n.httpClient = hc
	}
}

// WithBaseURL points the client at another Nominatim instance.
func WithBaseURL(u string) Option {
	return func(n *nominatim) {
		if u != "" {
			n.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) Option {
	return func(n *nominatim) {
		if ua != "" {
			n.userAgent = ua
		}
	}
}

// WithAcceptLanguage asks Nominatim for display names in the given language.
func WithAcceptLanguage(lang string) Option {
	return func(n *nominatim) {
		n.acceptLanguage = lang
	}
}

// WithRateLimit sets the requests-per-second ceiling.
func WithRateLimit(rps float64) Option {
	return func(n *nominatim) {
		if rps > 0 {
			n.limiter = rate.NewLimiter(rate.Limit(rps), 1)
		}
	}
}

type nominatim struct {
	httpClient     *http.Client
	baseURL        string
	userAgent      string
	acceptLanguage string
	limiter        *rate.Limiter
}

// NewClient creates a Nominatim reverse-geocoding Client.
func NewClient(opts ...Option) Client {
	n := &nominatim{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		baseURL:    DefaultBaseURL,
		userAgent:  DefaultUserAgent,
		limiter:    rate.NewLimiter(1, 1), // public instance policy: 1 req/s
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}
