package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/sony/gobreaker"

	"github.com/i474232898/weather-aware-tasks/internal/common"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
)

// WeatherAPIProvider implements weather.ForecastProvider for WeatherAPI.com.
type WeatherAPIProvider struct {
	name    string
	apiKey  string
	baseURL string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
}

func NewWeatherAPIProvider(client *http.Client, apiKey string) *WeatherAPIProvider {
	return &WeatherAPIProvider{
		name:    "weatherapi",
		apiKey:  apiKey,
		baseURL: "https://api.weatherapi.com/v1",
		httpCfg: defaultHTTPConfig(client),
		circuit: newCircuitBreaker("weatherapi"),
	}
}

func (p *WeatherAPIProvider) Name() string {
	return p.name
}

type weatherAPICondition struct {
	Text string `json:"text"`
}

func (p *WeatherAPIProvider) Fetch(ctx context.Context, loc weather.Location) (weather.ProviderReading, error) {
	var payload struct {
		Current struct {
			LastUpdatedEpoch int64               `json:"last_updated_epoch"`
			TempC            float64             `json:"temp_c"`
			WindMph          *float64            `json:"wind_mph"`
			VisKm            *float64            `json:"vis_km"`
			Condition        weatherAPICondition `json:"condition"`
		} `json:"current"`
	}
	if err := p.get(ctx, "/current.json", loc, nil, &payload); err != nil {
		return weather.ProviderReading{}, err
	}

	ts := time.Now().UTC()
	if payload.Current.LastUpdatedEpoch > 0 {
		ts = time.Unix(payload.Current.LastUpdatedEpoch, 0).UTC()
	}

	return weather.ProviderReading{
		ProviderName: p.name,
		Timestamp:    ts,
		TemperatureC: payload.Current.TempC,
		WindSpeedMph: payload.Current.WindMph,
		VisibilityKm: payload.Current.VisKm,
		Condition:    mapWeatherAPICondition(payload.Current.Condition.Text),
	}, nil
}

// FetchForecast returns one reading per forecast day.
func (p *WeatherAPIProvider) FetchForecast(ctx context.Context, loc weather.Location, days int) ([]weather.ProviderReading, error) {
	extra := url.Values{}
	extra.Set("days", fmt.Sprintf("%d", days))

	var payload struct {
		Forecast struct {
			ForecastDay []struct {
				DateEpoch int64 `json:"date_epoch"`
				Day       struct {
					AvgTempC   float64             `json:"avgtemp_c"`
					MaxWindMph *float64            `json:"maxwind_mph"`
					AvgVisKm   *float64            `json:"avgvis_km"`
					Condition  weatherAPICondition `json:"condition"`
				} `json:"day"`
			} `json:"forecastday"`
		} `json:"forecast"`
	}
	if err := p.get(ctx, "/forecast.json", loc, extra, &payload); err != nil {
		return nil, err
	}

	readings := make([]weather.ProviderReading, 0, len(payload.Forecast.ForecastDay))
	for _, fd := range payload.Forecast.ForecastDay {
		readings = append(readings, weather.ProviderReading{
			ProviderName: p.name,
			Timestamp:    time.Unix(fd.DateEpoch, 0).UTC(),
			TemperatureC: fd.Day.AvgTempC,
			WindSpeedMph: fd.Day.MaxWindMph,
			VisibilityKm: fd.Day.AvgVisKm,
			Condition:    mapWeatherAPICondition(fd.Day.Condition.Text),
		})
	}
	return readings, nil
}

func (p *WeatherAPIProvider) get(ctx context.Context, path string, loc weather.Location, extra url.Values, out any) error {
	if p.apiKey == "" {
		return fmt.Errorf("weatherapi api key is not configured")
	}

	buildRequest := func(ctx context.Context) (*http.Request, error) {
		values := url.Values{}
		for k, v := range extra {
			values[k] = v
		}
		values.Set("key", p.apiKey)
		// WeatherAPI uses "q" for location; it accepts "city,country" or "lat,lon".
		values.Set("q", loc.Query())

		return getRequest(ctx, fmt.Sprintf("%s%s?%s", p.baseURL, path, values.Encode()))
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

func mapWeatherAPICondition(text string) weather.Condition {
	switch {
	case text == "":
		return weather.ConditionUnknown
	case common.HasAny(text, "thunder", "storm"):
		return weather.ConditionStorm
	case common.HasAny(text, "heavy snow", "blizzard"):
		return weather.ConditionHeavySnow
	case common.HasAny(text, "heavy rain", "torrential"):
		return weather.ConditionHeavyRain
	case common.HasAny(text, "snow", "sleet", "ice pellets"):
		return weather.ConditionSnow
	case common.HasAny(text, "rain", "shower", "drizzle"):
		return weather.ConditionRain
	case common.HasAny(text, "fog", "mist"):
		return weather.ConditionMist
	case common.HasAny(text, "cloud", "overcast"):
		return weather.ConditionCloudy
	case common.HasAny(text, "sunny", "clear"):
		return weather.ConditionClear
	default:
		return weather.ConditionUnknown
	}
}
