package providers

import (
	"context"
	"fmt"
	"sync"

	"github.com/kelvins/geocoder"

	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// Geocoder resolves city-based locations to coordinates.
type Geocoder interface {
	Resolve(ctx context.Context, loc weather.Location) (weather.Location, error)
}

// GoogleGeocoder resolves locations through the Google Geocoding API and memoizes results;
// city coordinates do not change between refreshes.
type GoogleGeocoder struct {
	lookup func(geocoder.Address) (geocoder.Location, error)

	mu    sync.Mutex
	cache map[string]weather.Location
}

// NewGoogleGeocoder configures the geocoder package with apiKey.
func NewGoogleGeocoder(apiKey string) *GoogleGeocoder {
	geocoder.ApiKey = apiKey
	return &GoogleGeocoder{
		lookup: geocoder.Geocoding,
		cache:  make(map[string]weather.Location),
	}
}

func (g *GoogleGeocoder) Resolve(ctx context.Context, loc weather.Location) (weather.Location, error) {
	if loc.HasCoordinates() {
		return loc, nil
	}
	if err := ctx.Err(); err != nil {
		return weather.Location{}, err
	}

	key := loc.Key()
	g.mu.Lock()
	cached, ok := g.cache[key]
	g.mu.Unlock()
	if ok {
		return cached, nil
	}

	res, err := g.lookup(geocoder.Address{City: loc.City, Country: loc.Country})
	if err != nil {
		return weather.Location{}, fmt.Errorf("geocode %s: %w", loc.Query(), err)
	}

	lat, lon := res.Latitude, res.Longitude
	resolved := loc
	resolved.Lat = &lat
	resolved.Lon = &lon

	g.mu.Lock()
	g.cache[key] = resolved
	g.mu.Unlock()

	return resolved, nil
}
