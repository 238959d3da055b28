package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/atomic"

	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestCache(ttl time.Duration) (*WeatherCache, *clock) {
	clk := &clock{t: time.Date(2024, 1, 15, 9, 0, 0, 0, time.UTC)}
	c := NewWeatherCache(ttl, time.Second)
	c.now = clk.now
	return c, clk
}

func countingFetch(calls *atomic.Int64, cond weather.Condition) FetchFunc {
	return func(ctx context.Context, location string) (weather.Snapshot, error) {
		calls.Inc()
		return weather.Snapshot{
			Location: location,
			Current:  weather.Conditions{Condition: cond},
		}, nil
	}
}

func TestGetOrRefresh_FreshHitSkipsFetch(t *testing.T) {
	c, clk := newTestCache(10 * time.Minute)
	var calls atomic.Int64
	fetch := countingFetch(&calls, weather.ConditionRain)

	if _, err := c.GetOrRefresh(context.Background(), "Seattle", fetch); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.advance(5 * time.Minute)
	snap, err := c.GetOrRefresh(context.Background(), " seattle ", fetch)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls.Load() != 1 {
		t.Fatalf("expected 1 fetch, got %d", calls.Load())
	}
	if snap.Current.Condition != weather.ConditionRain {
		t.Fatalf("expected cached snapshot, got %+v", snap)
	}
	if st := c.Stats(); st.Hits != 1 || st.Refreshes != 1 || st.Locations != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
}

func TestGetOrRefresh_RefreshesAfterTTL(t *testing.T) {
	c, clk := newTestCache(10 * time.Minute)
	var calls atomic.Int64

	if _, err := c.GetOrRefresh(context.Background(), "Seattle", countingFetch(&calls, weather.ConditionRain)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.advance(10 * time.Minute)
	snap, err := c.GetOrRefresh(context.Background(), "Seattle", countingFetch(&calls, weather.ConditionClear))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if calls.Load() != 2 {
		t.Fatalf("expected 2 fetches, got %d", calls.Load())
	}
	if snap.Current.Condition != weather.ConditionClear {
		t.Fatalf("expected refreshed snapshot, got %s", snap.Current.Condition)
	}
	if !snap.FetchedAt.Equal(clk.now()) {
		t.Fatalf("expected FetchedAt %v, got %v", clk.now(), snap.FetchedAt)
	}
}

func TestGetOrRefresh_StaleFallbackOnFailure(t *testing.T) {
	c, clk := newTestCache(10 * time.Minute)
	var calls atomic.Int64

	first, err := c.GetOrRefresh(context.Background(), "Seattle", countingFetch(&calls, weather.ConditionRain))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	clk.advance(time.Hour)
	failing := func(ctx context.Context, location string) (weather.Snapshot, error) {
		return weather.Snapshot{}, errors.New("provider down")
	}
	snap, err := c.GetOrRefresh(context.Background(), "Seattle", failing)
	if err != nil {
		t.Fatalf("expected stale fallback, got error %v", err)
	}
	if !snap.Stale {
		t.Fatalf("expected snapshot to be marked stale")
	}
	if !snap.FetchedAt.Equal(first.FetchedAt) {
		t.Fatalf("expected previous FetchedAt to be kept")
	}
	if c.Stats().Fallbacks != 1 {
		t.Fatalf("expected 1 fallback, got %d", c.Stats().Fallbacks)
	}

	// The stored snapshot itself is not marked stale.
	clk.advance(-time.Hour)
	if peek, ok := c.Peek("Seattle"); !ok || peek.Stale {
		t.Fatalf("expected fresh stored snapshot, got ok=%v stale=%v", ok, peek.Stale)
	}
}

func TestGetOrRefresh_NoPriorSnapshotReturnsProviderError(t *testing.T) {
	c, _ := newTestCache(10 * time.Minute)
	failing := func(ctx context.Context, location string) (weather.Snapshot, error) {
		return weather.Snapshot{}, errors.New("provider down")
	}

	_, err := c.GetOrRefresh(context.Background(), "Atlantis", failing)
	if !errors.Is(err, weather.ErrProvider) {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	var pe *weather.ProviderError
	if !errors.As(err, &pe) || pe.Location != "Atlantis" {
		t.Fatalf("expected ProviderError for Atlantis, got %v", err)
	}
	if _, ok := c.Peek("Atlantis"); ok {
		t.Fatalf("failed fetch must not install a snapshot")
	}
	if c.Stats().Failures != 1 {
		t.Fatalf("expected 1 failure, got %d", c.Stats().Failures)
	}
}

func TestGetOrRefresh_ConcurrentCallersShareOneFetch(t *testing.T) {
	c, _ := newTestCache(10 * time.Minute)
	var calls atomic.Int64
	release := make(chan struct{})

	fetch := func(ctx context.Context, location string) (weather.Snapshot, error) {
		calls.Inc()
		<-release
		return weather.Snapshot{Current: weather.Conditions{Condition: weather.ConditionCloudy}}, nil
	}

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			snap, err := c.GetOrRefresh(context.Background(), "Seattle", fetch)
			if err == nil && snap.Current.Condition != weather.ConditionCloudy {
				err = errors.New("unexpected condition " + string(snap.Current.Condition))
			}
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if calls.Load() != 1 {
		t.Fatalf("expected a single fetch, got %d", calls.Load())
	}
}

func TestGetOrRefresh_FetchOutlivesCallerContext(t *testing.T) {
	c, _ := newTestCache(10 * time.Minute)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	fetch := func(fctx context.Context, location string) (weather.Snapshot, error) {
		if err := fctx.Err(); err != nil {
			return weather.Snapshot{}, err
		}
		return weather.Snapshot{}, nil
	}
	if _, err := c.GetOrRefresh(ctx, "Seattle", fetch); err != nil {
		t.Fatalf("expected fetch to run detached from caller cancellation, got %v", err)
	}
}

func TestPeek_MarksExpiredStale(t *testing.T) {
	c, clk := newTestCache(time.Minute)
	var calls atomic.Int64
	if _, err := c.GetOrRefresh(context.Background(), "Seattle", countingFetch(&calls, weather.ConditionClear)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	clk.advance(2 * time.Minute)

	snap, ok := c.Peek("Seattle")
	if !ok || !snap.Stale {
		t.Fatalf("expected expired snapshot to be reported stale")
	}
	if calls.Load() != 1 {
		t.Fatalf("Peek must not fetch")
	}
}
