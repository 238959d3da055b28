package cache

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/atomic"
	"golang.org/x/sync/singleflight"

	"github.com/i474232898/weather-aware-tasks/internal/logger"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// DefaultTTL is how long a fetched snapshot counts as fresh.
const DefaultTTL = 10 * time.Minute

// FetchFunc is the external weather-provider capability.
type FetchFunc func(ctx context.Context, location string) (weather.Snapshot, error)

// Stats is a point-in-time view of cache activity.
type Stats struct {
	Locations int   `json:"locations"`
	Hits      int64 `json:"hits"`
	Refreshes int64 `json:"refreshes"`
	Fallbacks int64 `json:"fallbacks"`
	Failures  int64 `json:"failures"`
}

// WeatherCache holds one snapshot per location and refreshes it through a FetchFunc once it
// is older than the TTL. At most one fetch per location is in flight; concurrent callers for
// that location share its result. Independent locations refresh concurrently.
type WeatherCache struct {
	ttl          time.Duration
	fetchTimeout time.Duration
	now          func() time.Time

	mu        sync.RWMutex
	snapshots map[string]weather.Snapshot

	group singleflight.Group

	hits      atomic.Int64
	refreshes atomic.Int64
	fallbacks atomic.Int64
	failures  atomic.Int64
}

// NewWeatherCache creates a cache. A ttl <= 0 uses DefaultTTL. fetchTimeout bounds each
// refresh; <= 0 leaves the bound to the fetcher.
func NewWeatherCache(ttl, fetchTimeout time.Duration) *WeatherCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &WeatherCache{
		ttl:          ttl,
		fetchTimeout: fetchTimeout,
		now:          func() time.Time { return time.Now().UTC() },
		snapshots:    make(map[string]weather.Snapshot),
	}
}

// TTL returns the freshness window.
func (c *WeatherCache) TTL() time.Duration {
	return c.ttl
}

// Peek returns the cached snapshot for location without refreshing. The copy is marked
// Stale when it is past the freshness window.
func (c *WeatherCache) Peek(location string) (weather.Snapshot, bool) {
	snap, ok := c.lookup(weather.NormalizeKey(location))
	if !ok {
		return weather.Snapshot{}, false
	}
	snap.Stale = !c.fresh(snap)
	return snap, true
}

// GetOrRefresh returns the snapshot for location, fetching a new one when it is absent or
// stale. If the fetch fails and an older snapshot exists, that snapshot is returned with
// Stale set; otherwise the failure is returned as a *weather.ProviderError.
func (c *WeatherCache) GetOrRefresh(ctx context.Context, location string, fetch FetchFunc) (weather.Snapshot, error) {
	key := weather.NormalizeKey(location)

	if snap, ok := c.lookup(key); ok && c.fresh(snap) {
		c.hits.Inc()
		return snap, nil
	}

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		// Another caller may have installed a fresh snapshot between our lookup and Do.
		if snap, ok := c.lookup(key); ok && c.fresh(snap) {
			c.hits.Inc()
			return snap, nil
		}
		return c.refresh(ctx, key, location, fetch)
	})
	if err != nil {
		return weather.Snapshot{}, err
	}
	return v.(weather.Snapshot), nil
}

func (c *WeatherCache) refresh(ctx context.Context, key, location string, fetch FetchFunc) (weather.Snapshot, error) {
	// The fetch serves every waiter, so it must not die with the first caller's context.
	fetchCtx := context.WithoutCancel(ctx)
	if c.fetchTimeout > 0 {
		var cancel context.CancelFunc
		fetchCtx, cancel = context.WithTimeout(fetchCtx, c.fetchTimeout)
		defer cancel()
	}

	snap, err := fetch(fetchCtx, location)
	if err == nil {
		snap.FetchedAt = c.now()
		snap.Stale = false
		if snap.Location == "" {
			snap.Location = location
		}

		c.mu.Lock()
		c.snapshots[key] = snap
		c.mu.Unlock()

		c.refreshes.Inc()
		logger.Debug("weather cache refreshed", "location", key, "forecastDays", len(snap.Forecast))
		return snap, nil
	}

	if prev, ok := c.lookup(key); ok {
		c.fallbacks.Inc()
		logger.Warn("weather refresh failed; serving stale snapshot",
			"location", key, "age", c.now().Sub(prev.FetchedAt), "err", err)
		prev.Stale = true
		return prev, nil
	}

	c.failures.Inc()
	var perr *weather.ProviderError
	if !errors.As(err, &perr) {
		err = &weather.ProviderError{Location: location, Err: err}
	}
	return weather.Snapshot{}, err
}

// Stats returns the current counters.
func (c *WeatherCache) Stats() Stats {
	c.mu.RLock()
	n := len(c.snapshots)
	c.mu.RUnlock()

	return Stats{
		Locations: n,
		Hits:      c.hits.Load(),
		Refreshes: c.refreshes.Load(),
		Fallbacks: c.fallbacks.Load(),
		Failures:  c.failures.Load(),
	}
}

func (c *WeatherCache) lookup(key string) (weather.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snap, ok := c.snapshots[key]
	if !ok {
		return weather.Snapshot{}, false
	}
	// Forecast slices are shared between copies; nothing writes into them after install.
	return snap, true
}

func (c *WeatherCache) fresh(snap weather.Snapshot) bool {
	return c.now().Sub(snap.FetchedAt) < c.ttl
}
