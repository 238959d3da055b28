package weather

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrProvider is the sentinel every ProviderError unwraps to.
var ErrProvider = errors.New("weather provider error")

// ProviderError reports that weather data for a location could not be fetched.
type ProviderError struct {
	Location string
	Provider string // empty when the failure is not attributable to one provider
	Err      error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return ""
	}
	msg := "fetch weather for " + e.Location
	if e.Provider != "" {
		msg = fmt.Sprintf("%s from %s", msg, e.Provider)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is lets errors.Is(err, ErrProvider) match.
func (e *ProviderError) Is(target error) bool {
	return target == ErrProvider
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderReading represents a single provider's normalized reading
// that can be aggregated into Conditions.
type ProviderReading struct {
	ProviderName string
	Timestamp    time.Time

	TemperatureC float64
	WindSpeedMph *float64
	VisibilityKm *float64
	Condition    Condition
}

// Provider abstracts a weather data source (e.g. OpenWeatherMap, WeatherAPI, Open-Meteo).
type Provider interface {
	Name() string
	Fetch(ctx context.Context, loc Location) (ProviderReading, error)
}

// ForecastProvider is implemented by providers that can return multi-day forecasts.
// Readings may be daily or sub-daily; the service buckets them per UTC day.
type ForecastProvider interface {
	Provider
	FetchForecast(ctx context.Context, loc Location, days int) ([]ProviderReading, error)
}

// Fetcher is the fetch(location) capability consumed by the cache.
type Fetcher interface {
	Fetch(ctx context.Context, location string) (Snapshot, error)
}
