package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/i474232898/weather-aware-tasks/internal/impact"
)

type AppConfig struct {
	OpenWeatherAPIKey string
	WeatherAPIKey     string
	GeocoderAPIKey    string

	// HTTPTimeout bounds each outbound provider request.
	HTTPTimeout time.Duration
	// FetchTimeout bounds one cache refresh across all providers.
	FetchTimeout time.Duration

	CacheTTL     time.Duration
	ForecastDays int

	// RecheckInterval controls the periodic background recheck; 0 disables it.
	RecheckInterval time.Duration

	Thresholds impact.Thresholds

	LogDebug bool
	LogDir   string

	Port string
}

// Load reads configuration from the environment (and .env if present) with sensible defaults.
func Load() (*AppConfig, error) {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg := &AppConfig{}

	cfg.OpenWeatherAPIKey = os.Getenv("OPENWEATHER_API_KEY")
	cfg.WeatherAPIKey = os.Getenv("WEATHERAPI_API_KEY")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.Port = getenvDefault("PORT", "8080")
	cfg.LogDir = os.Getenv("LOG_DIR")

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}
	if cfg.FetchTimeout, err = getenvDuration("FETCH_TIMEOUT", "15s"); err != nil {
		return nil, err
	}
	if cfg.CacheTTL, err = getenvDuration("WEATHER_CACHE_TTL", "10m"); err != nil {
		return nil, err
	}
	if cfg.RecheckInterval, err = getenvDuration("RECHECK_INTERVAL", "15m"); err != nil {
		return nil, err
	}
	if cfg.LogDebug, err = getenvBool("LOG_DEBUG", false); err != nil {
		return nil, err
	}

	cfg.ForecastDays, err = getenvInt("FORECAST_DAYS", 5)
	if err != nil {
		return nil, err
	}
	if cfg.ForecastDays < 1 || cfg.ForecastDays > 14 {
		return nil, fmt.Errorf("invalid FORECAST_DAYS: %d is outside 1..14", cfg.ForecastDays)
	}

	th, err := loadThresholds()
	if err != nil {
		return nil, err
	}
	cfg.Thresholds = th

	return cfg, nil
}

func loadThresholds() (impact.Thresholds, error) {
	th := impact.DefaultThresholds()

	var err error
	if th.OutdoorMaxWindMph, err = getenvFloat("OUTDOOR_MAX_WIND_MPH", th.OutdoorMaxWindMph); err != nil {
		return th, err
	}
	if th.OutdoorHighRiskWindMph, err = getenvFloat("OUTDOOR_HIGH_RISK_WIND_MPH", th.OutdoorHighRiskWindMph); err != nil {
		return th, err
	}
	if th.TravelMinVisibilityKm, err = getenvFloat("TRAVEL_MIN_VISIBILITY_KM", th.TravelMinVisibilityKm); err != nil {
		return th, err
	}
	if th.TravelReducedVisibilityKm, err = getenvFloat("TRAVEL_REDUCED_VISIBILITY_KM", th.TravelReducedVisibilityKm); err != nil {
		return th, err
	}
	if th.CurrentWindow, err = getenvDuration("CURRENT_WINDOW", th.CurrentWindow.String()); err != nil {
		return th, err
	}

	if th.OutdoorMaxWindMph > th.OutdoorHighRiskWindMph {
		return th, fmt.Errorf("OUTDOOR_MAX_WIND_MPH (%g) must not exceed OUTDOOR_HIGH_RISK_WIND_MPH (%g)",
			th.OutdoorMaxWindMph, th.OutdoorHighRiskWindMph)
	}
	if th.TravelMinVisibilityKm > th.TravelReducedVisibilityKm {
		return th, fmt.Errorf("TRAVEL_MIN_VISIBILITY_KM (%g) must not exceed TRAVEL_REDUCED_VISIBILITY_KM (%g)",
			th.TravelMinVisibilityKm, th.TravelReducedVisibilityKm)
	}
	return th, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func getenvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getenvFloat(key string, def float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return f, nil
}

func getenvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}
