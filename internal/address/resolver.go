package address

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/ctut-gis/atm-cli/internal/model"
	"github.com/ctut-gis/atm-cli/internal/resilience"
	"github.com/ctut-gis/atm-cli/pkg/geocode"
)

// Defaults for the reverse-geocode phase.
const (
	DefaultQuota    = 40
	DefaultDelay    = 1100 * time.Millisecond
	DefaultCacheTTL = 30 * 24 * time.Hour
)

// Sleeper waits between geocoder requests.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error { return f(ctx, d) }

// TimerSleeper sleeps on a real timer and returns early on cancellation.
var TimerSleeper Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
})

// Stats summarizes one reverse-geocode pass.
type Stats struct {
	Attempted int `json:"attempted"`
	Resolved  int `json:"resolved"`
	Fallback  int `json:"fallback"`
	CacheHits int `json:"cache_hits"`
	Requests  int `json:"requests"`
	Skipped   int `json:"skipped"`
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithQuota caps the number of points handled per pass. Negative means zero.
func WithQuota(q int) Option {
	return func(r *Resolver) {
		if q < 0 {
			q = 0
		}
		r.quota = q
	}
}

// WithDelay sets the minimum spacing between geocoder requests.
func WithDelay(d time.Duration) Option {
	return func(r *Resolver) { r.delay = d }
}

// WithSleeper replaces the timer used for request spacing.
func WithSleeper(s Sleeper) Option {
	return func(r *Resolver) {
		if s != nil {
			r.sleeper = s
		}
	}
}

// WithCache enables the reverse-geocode cache.
func WithCache(c geocode.Cache, ttl time.Duration) Option {
	return func(r *Resolver) {
		r.cache = c
		if ttl > 0 {
			r.cacheTTL = ttl
		}
	}
}

// WithBreaker routes geocoder calls through a circuit breaker.
func WithBreaker(b *resilience.Breaker) Option {
	return func(r *Resolver) { r.breaker = b }
}

// Resolver runs the reverse-geocode phase. Requests are issued one at a time;
// it must not be shared by concurrent passes.
type Resolver struct {
	geocoder geocode.Client
	cache    geocode.Cache
	cacheTTL time.Duration
	breaker  *resilience.Breaker
	quota    int
	delay    time.Duration
	sleeper  Sleeper
	log      *zap.Logger
}

// NewResolver creates a Resolver around a geocoder.
func NewResolver(gc geocode.Client, opts ...Option) *Resolver {
	r := &Resolver{
		geocoder: gc,
		cacheTTL: DefaultCacheTTL,
		quota:    DefaultQuota,
		delay:    DefaultDelay,
		sleeper:  TimerSleeper,
		log:      zap.L().With(zap.String("component", "address")),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		cfg := resilience.DefaultBreakerConfig()
		cfg.OnStateChange = resilience.LogStateChange("nominatim")
		r.breaker = resilience.NewBreaker(cfg)
	}
	return r
}

// Reverse resolves addresses for points that still lack one, in order, up to
// the quota. Each handled point ends with either a geocoded address or the
// placeholder; points past the quota are left untouched. Lookup failures are
// logged and never returned. The only error is context cancellation, which
// stops the pass early with the points handled so far kept.
func (r *Resolver) Reverse(ctx context.Context, points []model.Point) (Stats, error) {
	var st Stats
	requested := false

	for i := range points {
		p := &points[i]
		if p.HasAddress() {
			continue
		}
		if st.Attempted >= r.quota {
			st.Skipped++
			continue
		}
		if err := ctx.Err(); err != nil {
			return st, err
		}
		st.Attempted++

		if addr, ok := r.cached(ctx, p); ok {
			st.CacheHits++
			st.Resolved++
			p.SetAddress(addr, model.AddressSourceNominatim)
			continue
		}

		if requested {
			if err := r.sleeper.Sleep(ctx, r.delay); err != nil {
				st.Attempted--
				return st, err
			}
		}

		addr, sent, err := r.lookup(ctx, p)
		if sent {
			requested = true
			st.Requests++
		}
		if err != nil || addr == "" {
			if err != nil {
				r.log.Warn("reverse geocode failed, using placeholder",
					zap.String("id", p.ID),
					zap.Error(err),
				)
			}
			p.SetAddress(model.PlaceholderAddress, model.AddressSourceFallback)
			st.Fallback++
			continue
		}

		p.SetAddress(addr, model.AddressSourceNominatim)
		st.Resolved++
		r.store(ctx, p, addr)
	}

	r.log.Info("reverse geocode pass complete",
		zap.Int("attempted", st.Attempted),
		zap.Int("resolved", st.Resolved),
		zap.Int("fallback", st.Fallback),
		zap.Int("cache_hits", st.CacheHits),
		zap.Int("skipped", st.Skipped),
		zap.Stringer("circuit", r.breaker.State()),
	)
	return st, nil
}

// lookup calls the geocoder through the breaker. sent reports whether a
// request actually went out.
func (r *Resolver) lookup(ctx context.Context, p *model.Point) (addr string, sent bool, err error) {
	place, err := resilience.ExecuteVal(ctx, r.breaker, func(ctx context.Context) (*geocode.Place, error) {
		sent = true
		return r.geocoder.Reverse(ctx, p.Lat, p.Lng)
	})
	if err != nil {
		if errors.Is(err, resilience.ErrCircuitOpen) {
			r.log.Debug("geocoder circuit open, skipping request", zap.String("id", p.ID))
		}
		return "", sent, err
	}
	if place == nil {
		return "", sent, nil
	}
	return place.DisplayName, sent, nil
}

func (r *Resolver) cached(ctx context.Context, p *model.Point) (string, bool) {
	if r.cache == nil {
		return "", false
	}
	addr, err := r.cache.GetCachedAddress(ctx, geocode.CacheKey(p.Lat, p.Lng))
	if err != nil {
		r.log.Debug("geocode cache read failed", zap.String("id", p.ID), zap.Error(err))
		return "", false
	}
	return addr, addr != ""
}

func (r *Resolver) store(ctx context.Context, p *model.Point, addr string) {
	if r.cache == nil {
		return
	}
	if err := r.cache.SetCachedAddress(ctx, geocode.CacheKey(p.Lat, p.Lng), addr, r.cacheTTL); err != nil {
		r.log.Debug("geocode cache write failed", zap.String("id", p.ID), zap.Error(err))
	}
}
