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

// OpenWeatherProvider implements weather.ForecastProvider for OpenWeatherMap.
type OpenWeatherProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewOpenWeatherProvider(client *http.Client, apiKey string) *OpenWeatherProvider {
	return &OpenWeatherProvider{
		name:    "openweathermap",
		apiKey:  apiKey,
		baseURL: "https://api.openweathermap.org/data/2.5",
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuitBreaker("openweather"),
	}
}

func (p *OpenWeatherProvider) Name() string {
	return p.name
}

// owmItem is the shape shared by the current-weather response and forecast list entries.
type owmItem struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Wind *struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Visibility *float64 `json:"visibility"` // meters
	Weather    []struct {
		ID   int    `json:"id"`
		Main string `json:"main"`
	} `json:"weather"`
}

func (p *OpenWeatherProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	var payload owmItem
	if err := p.get(ctx, "/weather", loc, nil, &payload); err != nil {
		return weather.ProviderReading{}, err
	}
	return p.toReading(payload), nil
}

// FetchForecast uses the 5 day / 3 hour endpoint; readings are bucketed per day by the service.
func (p *OpenWeatherProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	if days > 5 {
		days = 5
	}
	extra := url.Values{}
	extra.Set("cnt", fmt.Sprintf("%d", days*8))

	var payload struct {
		List []owmItem `json:"list"`
	}
	if err := p.get(ctx, "/forecast", loc, extra, &payload); err != nil {
		return nil, err
	}

	readings := make([]weather.ProviderReading, 0, len(payload.List))
	for _, item := range payload.List {
		readings = append(readings, p.toReading(item))
	}
	return readings, nil
}

func (p *OpenWeatherProvider) get(ctx context.Context, path string, loc weather.Location, extra url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("openweather api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		for k, v := range extra {
			values[k] = v
		}
		values.Set("appid", p.apiKey)
		values.Set("units", "metric")

		if loc.HasCoordinates() {
			values.Set("lat", fmt.Sprintf("%f", *loc.Lat))
			values.Set("lon", fmt.Sprintf("%f", *loc.Lon))
		} else {
			values.Set("q", loc.Query())
		}

		return getRequest(ctx, fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode()))
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func (p *OpenWeatherProvider) toReading(item owmItem) weather.ProviderReading {
	ts := time.Now().UTC()
	if item.Dt > 0 {
		ts = time.Unix(item.Dt, 0).UTC()
	}

	r := weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		TemperatureC: item.Main.Temp,
		Condition:    weather.ConditionUnknown,
	}
	if item.Wind != nil {
		r.WindSpeedMph = mphFromMetersPerSecond(item.Wind.Speed)
	}
	if item.Visibility != nil {
		r.VisibilityKm = weather.Float(*item.Visibility / 1000)
	}
	if len(item.Weather) > 0 {
		r.Condition = mapOpenWeatherCondition(item.Weather[0].ID, item.Weather[0].Main)
	}
	return r
}

// mapOpenWeatherCondition uses the numeric condition id to tell intensities apart
// and falls back to the group name.
func mapOpenWeatherCondition(id int, main string) weather.Condition {
	switch {
	case id >= 200 && id < 300:
		return weather.ConditionStorm
	case id == 502 || id == 503 || id == 504 || id == 522 || id == 531:
		return weather.ConditionHeavyRain
	case id == 602 || id == 622:
		return weather.ConditionHeavySnow
	}

	switch main {
	case "Clear":
		return weather.ConditionClear
	case "Clouds":
		return weather.ConditionCloudy
	case "Rain", "Drizzle":
		return weather.ConditionRain
	case "Snow":
		return weather.ConditionSnow
	case "Thunderstorm", "Squall", "Tornado":
		return weather.ConditionStorm
	case "Mist", "Fog", "Haze", "Smoke", "Dust", "Sand":
		return weather.ConditionMist
	default:
		return weather.ConditionUnknown
	}
}
