package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// OpenMeteoProvider implements weather.ForecastProvider for Open-Meteo.
// Open-Meteo only accepts coordinates, so city locations go through the geocoder first.
// It reports no visibility.
type OpenMeteoProvider struct {
	name     string
	baseURL  string
	httpCfg  HTTPClientConfig
	circuit  *gobreaker.CircuitBreaker
	geocoder Geocoder
}

func NewOpenMeteoProvider(client *http.Client, geo Geocoder) *OpenMeteoProvider {
	return &OpenMeteoProvider{
		name:     "openmeteo",
		baseURL:  "https://api.open-meteo.com/v1/forecast",
		httpCfg:  defaultHTTPConfig(client),
		circuit:  newCircuitBreaker("openmeteo"),
		geocoder: geo,
	}
}

func (p *OpenMeteoProvider) Name() string {
	return p.name
}

func (p *OpenMeteoProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	values := url.Values{}
	values.Set("current_weather", "true")

	var payload struct {
		CurrentWeather struct {
			Temperature float64 `json:"temperature"`
			WindSpeed   float64 `json:"windspeed"`
			Time        string  `json:"time"`
			WeatherCode int     `json:"weathercode"`
		} `json:"current_weather"`
	}
	if err := p.get(ctx, loc, values, &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	ts, err := time.Parse("2006-01-02T15:04", payload.CurrentWeather.Time)
	if err != nil {
		ts = time.Now().UTC()
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts.UTC(),
		TemperatureC: payload.CurrentWeather.Temperature,
		WindSpeedMph: weather.Float(payload.CurrentWeather.WindSpeed),
		Condition:    mapOpenMeteoCondition(payload.CurrentWeather.WeatherCode),
	}, nil
}

func (p *OpenMeteoProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	values := url.Values{}
	values.Set("daily", "weathercode,windspeed_10m_max,temperature_2m_max,temperature_2m_min")
	values.Set("forecast_days", fmt.Sprintf("%d", days))
	values.Set("timezone", "UTC")

	var payload struct {
		Daily struct {
			Time        []string   `json:"time"`
			WeatherCode []int      `json:"weathercode"`
			WindMax     []*float64 `json:"windspeed_10m_max"`
			TempMax     []float64  `json:"temperature_2m_max"`
			TempMin     []float64  `json:"temperature_2m_min"`
		} `json:"daily"`
	}
	if err := p.get(ctx, loc, values, &payload); err != nil {
		return nil, err
	}

	d := payload.Daily
	readings := make([]weather.ProviderReading, 0, len(d.Time))
	for i, day := range d.Time {
		ts, err := time.Parse("2006-01-02", day)
		if err != nil {
			continue
		}
		r := weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    ts,
			Condition:    weather.ConditionUnknown,
		}
		if i < len(d.WeatherCode) {
			r.Condition = mapOpenMeteoCondition(d.WeatherCode[i])
		}
		if i < len(d.WindMax) {
			r.WindSpeedMph = d.WindMax[i]
		}
		if i < len(d.TempMax) && i < len(d.TempMin) {
			r.TemperatureC = (d.TempMax[i] + d.TempMin[i]) / 2
		}
		readings = append(readings, r)
	}
	return readings, nil
}

func (p *OpenMeteoProvider) get(ctx context.Context, loc weather.Location, values url.Values, out any) error {
	if !loc.HasCoordinates() {
		if p.geocoder == nil {
			return fmt.Errorf("openmeteo requires latitude and longitude")
		}
		resolved, err := p.geocoder.Resolve(ctx, loc)
		if err != nil {
			return err
		}
		loc = resolved
	}

	values.Set("latitude", fmt.Sprintf("%f", *loc.Lat))
	values.Set("longitude", fmt.Sprintf("%f", *loc.Lon))
	values.Set("windspeed_unit", "mph")

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		return getRequest(ctx, fmt.Sprintf("%s?%s", p.baseURL, values.Encode()))
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func mapOpenMeteoCondition(code int) weather.Condition {
	// WMO weather interpretation codes as used by Open-Meteo.
	switch {
	case code == 0:
		return weather.ConditionClear
	case code >= 1 && code <= 3:
		return weather.ConditionCloudy
	case code == 45 || code == 48:
		return weather.ConditionMist
	case code == 65 || code == 67 || code == 82:
		return weather.ConditionHeavyRain
	case (code >= 51 && code <= 67) || (code >= 80 && code <= 81):
		return weather.ConditionRain
	case code == 75 || code == 86:
		return weather.ConditionHeavySnow
	case (code >= 71 && code <= 77) || code == 85:
		return weather.ConditionSnow
	case code >= 95:
		return weather.ConditionStorm
	default:
		return weather.ConditionUnknown
	}
}
