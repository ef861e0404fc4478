// Package overpass provides a client for the OpenStreetMap Overpass API.
package overpass

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/resilience"
)

// DefaultEndpoint is the public Overpass interpreter.
const DefaultEndpoint = "https://overpass-api.de/api/interpreter"

// Client defines the Overpass operations.
type Client interface {
	// Fetch runs an Overpass QL query and returns the raw elements.
	Fetch(ctx context.Context, query string) ([]model.RawFeature, error)
}

// Response is the envelope returned by the interpreter with [out:json].
type Response struct {
	Version   float64   `json:"version"`
	Generator string    `json:"generator"`
	Remark    string    `json:"remark"`
	Elements  []Element `json:"elements"`
}

// Element is a single node, way or relation.
type Element struct {
	Type   string            `json:"type"`
	ID     int64             `json:"id"`
	Lat    float64           `json:"lat"`
	Lon    float64           `json:"lon"`
	Center *model.LatLon     `json:"center,omitempty"`
	Tags   map[string]string `json:"tags"`
}

// Option configures the Overpass client.
type Option func(*httpClient)

// WithEndpoint sets a custom interpreter URL (for testing or mirrors).
func WithEndpoint(endpoint string) Option {
	return func(c *httpClient) {
		if endpoint != "" {
			c.endpoint = endpoint
		}
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *httpClient) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

type httpClient struct {
	endpoint  string
	userAgent string
	http      *http.Client
}

// NewClient creates a new Overpass client. Requests are not retried; a failed
// fetch fails the whole run.
func NewClient(opts ...Option) Client {
	c := &httpClient{
		endpoint:  DefaultEndpoint,
		userAgent: "ctut-atm-mapper/1.0",
		http: &http.Client{
			Timeout: 90 * time.Second,
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 2,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Fetch implements Client.
func (c *httpClient) Fetch(ctx context.Context, query string) ([]model.RawFeature, error) {
	form := "data=" + url.QueryEscape(query)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, strings.NewReader(form))
	if err != nil {
		return nil, eris.Wrap(err, "overpass: build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, eris.Wrap(err, "overpass: read body")
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		statusErr := eris.Errorf("overpass: status %d: %s", resp.StatusCode, snippet(body))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}

	var parsed Response
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, eris.Wrap(err, "overpass: parse response")
	}

	// A query that exceeds its server-side budget still returns 200 with a
	// partial element list and a runtime error remark.
	if strings.Contains(parsed.Remark, "runtime error") {
		return nil, eris.Errorf("overpass: %s", parsed.Remark)
	}

	zap.L().Debug("overpass: fetched",
		zap.Int("elements", len(parsed.Elements)),
		zap.Duration("elapsed", time.Since(start)),
	)

	return parsed.Features(), nil
}

// Features converts the response elements to raw features.
func (r *Response) Features() []model.RawFeature {
	out := make([]model.RawFeature, 0, len(r.Elements))
	for _, el := range r.Elements {
		out = append(out, model.RawFeature{
			Type:   el.Type,
			ID:     el.ID,
			Lat:    el.Lat,
			Lon:    el.Lon,
			Center: el.Center,
			Tags:   model.Tags(el.Tags),
		})
	}
	return out
}

func snippet(body []byte) string {
	const max = 200
	s := strings.TrimSpace(string(body))
	if len(s) > max {
		return fmt.Sprintf("%s...", s[:max])
	}
	return s
}
