package weather

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Condition represents a normalized high-level weather condition.
type Condition string

const (
	ConditionUnknown   Condition = "unknown"
	ConditionClear     Condition = "clear"
	ConditionCloudy    Condition = "cloudy"
	ConditionMist      Condition = "mist"
	ConditionRain      Condition = "rain"
	ConditionHeavyRain Condition = "heavy_rain"
	ConditionSnow      Condition = "snow"
	ConditionHeavySnow Condition = "heavy_snow"
	ConditionStorm     Condition = "storm"
)

// severity orders conditions for tie-breaking during aggregation.
var severity = map[Condition]int{
	ConditionUnknown:   0,
	ConditionClear:     1,
	ConditionCloudy:    2,
	ConditionMist:      3,
	ConditionRain:      4,
	ConditionSnow:      5,
	ConditionHeavyRain: 6,
	ConditionHeavySnow: 7,
	ConditionStorm:     8,
}

// Severity returns the relative severity rank of c. Unrecognized values rank as unknown.
func (c Condition) Severity() int {
	return severity[c]
}

// IsRain reports rain of any intensity.
func (c Condition) IsRain() bool {
	return c == ConditionRain || c == ConditionHeavyRain
}

// IsSnow reports snow of any intensity.
func (c Condition) IsSnow() bool {
	return c == ConditionSnow || c == ConditionHeavySnow
}

// IsSevere reports conditions that stop even weather-tolerant work.
func (c Condition) IsSevere() bool {
	return c == ConditionStorm || c == ConditionHeavySnow
}

// Known reports whether the condition carries information.
func (c Condition) Known() bool {
	return c != "" && c != ConditionUnknown
}

// Location represents a logical place for which we fetch weather.
// Either City (optionally with Country) or Lat/Lon is set.
type Location struct {
	City    string   `json:"city,omitempty"`
	Country string   `json:"country,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lon     *float64 `json:"lon,omitempty"`
}

// ParseLocation accepts "City", "City,Country" or "lat,lon".
func ParseLocation(s string) (Location, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Location{}, fmt.Errorf("location is empty")
	}

	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return Location{}, fmt.Errorf("invalid location %q: expected \"city\", \"city,country\" or \"lat,lon\"", s)
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}

	if len(parts) == 2 {
		lat, latErr := strconv.ParseFloat(parts[0], 64)
		lon, lonErr := strconv.ParseFloat(parts[1], 64)
		if latErr == nil && lonErr == nil {
			if lat < -90 || lat > 90 || lon < -180 || lon > 180 {
				return Location{}, fmt.Errorf("invalid coordinates %q", s)
			}
			return Location{Lat: &lat, Lon: &lon}, nil
		}
		if parts[0] == "" {
			return Location{}, fmt.Errorf("invalid location %q: city is empty", s)
		}
		return Location{City: parts[0], Country: parts[1]}, nil
	}

	return Location{City: parts[0]}, nil
}

// HasCoordinates reports whether Lat/Lon are populated.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// Key returns a canonical string key for indexing this location.
func (l Location) Key() string {
	if l.HasCoordinates() {
		return fmt.Sprintf("%.4f,%.4f", *l.Lat, *l.Lon)
	}
	return strings.ToLower(l.City + ":" + l.Country)
}

// Query renders the location the way most provider APIs accept it in a "q" parameter.
func (l Location) Query() string {
	if l.HasCoordinates() {
		return fmt.Sprintf("%f,%f", *l.Lat, *l.Lon)
	}
	if l.Country != "" {
		return l.City + "," + l.Country
	}
	return l.City
}

// NormalizeKey maps a raw location string onto the key snapshots are cached under.
func NormalizeKey(location string) string {
	return strings.ToLower(strings.TrimSpace(location))
}

// Conditions is the normalized weather for one point in time: current conditions or one
// forecast day. Wind and visibility are optional; nil means the providers did not report them.
type Conditions struct {
	Date         time.Time `json:"date"` // UTC; midnight for forecast days
	TemperatureC float64   `json:"temperatureC"`
	Condition    Condition `json:"condition"`
	WindSpeedMph *float64  `json:"windSpeedMph,omitempty"`
	VisibilityKm *float64  `json:"visibilityKm,omitempty"`

	// Providers contributing to this entry.
	Providers []ProviderContribution `json:"providers,omitempty"`
}

// Snapshot is the best-known weather for one location. Snapshots are never mutated after the
// cache installs them; the cache hands out copies.
type Snapshot struct {
	Location  string       `json:"location"`
	Current   Conditions   `json:"current"`
	Forecast  []Conditions `json:"forecast"` // ordered by Date ascending, one entry per day
	FetchedAt time.Time    `json:"fetchedAt"`

	// Stale is set on copies served past their freshness window because a refresh failed.
	Stale bool `json:"stale,omitempty"`
}

// ProviderContribution describes data coming from a single provider used in aggregation.
type ProviderContribution struct {
	ProviderName string    `json:"provider"`
	Timestamp    time.Time `json:"timestamp"`
}

// Float returns a pointer to v, for populating optional readings.
func Float(v float64) *float64 {
	return &v
}

// DayOf returns midnight UTC of t's calendar day, read in t's own time zone.
func DayOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
