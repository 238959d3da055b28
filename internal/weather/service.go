package weather

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/weather-aware-tasks/internal/logger"
)

// Service fetches current conditions and forecasts from multiple providers and
// aggregates them into one Snapshot. It implements Fetcher.
type Service struct {
	providers    []Provider
	forecastDays int
}

// NewService creates a new Service requesting forecastDays of forecast from each provider.
func NewService(providers []Provider, forecastDays int) *Service {
	if forecastDays <= 0 {
		forecastDays = 5
	}
	return &Service{
		providers:    providers,
		forecastDays: forecastDays,
	}
}

// Providers returns the names of the configured providers.
func (s *Service) Providers() []string {
	names := make([]string, 0, len(s.providers))
	for _, p := range s.providers {
		names = append(names, p.Name())
	}
	return names
}

// Fetch queries all providers concurrently for location, aggregates whatever succeeded,
// and returns a new Snapshot. Individual provider failures are logged and tolerated;
// a *ProviderError is returned only when nothing could be fetched.
func (s *Service) Fetch(ctx context.Context, location string) (Snapshot, error) {
	loc, err := ParseLocation(location)
	if err != nil {
		return Snapshot{}, &ProviderError{Location: location, Err: err}
	}

	if len(s.providers) == 0 {
		logger.Error("no weather providers configured", "location", location)
		return Snapshot{}, &ProviderError{Location: location, Err: fmt.Errorf("no weather providers configured")}
	}

	logger.Debug("fetching weather", "location", loc.Key(), "providers", len(s.providers))

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		current  []ProviderReading
		forecast []ProviderReading
		lastErr  error
	)

	for _, p := range s.providers {
		wg.Add(1)
		go func(p Provider) {
			defer wg.Done()

			r, err := p.Fetch(ctx, loc)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// Log and continue; we want partial success when possible.
				logger.Warn("provider fetch failed", "provider", p.Name(), "location", loc.Key(), "err", err)
				lastErr = &ProviderError{Location: location, Provider: p.Name(), Err: err}
				return
			}
			current = append(current, r)
		}(p)

		fp, ok := p.(ForecastProvider)
		if !ok {
			continue
		}

		wg.Add(1)
		go func(fp ForecastProvider) {
			defer wg.Done()

			readings, err := fp.FetchForecast(ctx, loc, s.forecastDays)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				logger.Warn("provider forecast failed", "provider", fp.Name(), "location", loc.Key(), "err", err)
				lastErr = &ProviderError{Location: location, Provider: fp.Name(), Err: err}
				return
			}
			forecast = append(forecast, readings...)
		}(fp)
	}

	wg.Wait()

	if len(current) == 0 && len(forecast) == 0 {
		if lastErr == nil {
			lastErr = &ProviderError{Location: location, Err: fmt.Errorf("no weather data returned")}
		}
		return Snapshot{}, lastErr
	}

	snap := Snapshot{
		Location:  location,
		Forecast:  AggregateDaily(forecast, s.forecastDays),
		FetchedAt: time.Now().UTC(),
	}
	if len(current) > 0 {
		snap.Current = AggregateReadings(current)
	} else {
		snap.Current = Conditions{Date: snap.FetchedAt, Condition: ConditionUnknown}
	}

	return snap, nil
}
