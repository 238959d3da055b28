package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/i474232898/weather-aware-tasks/internal/api/http"
	"github.com/i474232898/weather-aware-tasks/internal/cache"
	"github.com/i474232898/weather-aware-tasks/internal/config"
	"github.com/i474232898/weather-aware-tasks/internal/impact"
	"github.com/i474232898/weather-aware-tasks/internal/lifecycle"
	"github.com/i474232898/weather-aware-tasks/internal/logger"
	"github.com/i474232898/weather-aware-tasks/internal/scheduler"
	"github.com/i474232898/weather-aware-tasks/internal/store"
	"github.com/i474232898/weather-aware-tasks/internal/weather"
	"github.com/i474232898/weather-aware-tasks/internal/weather/providers"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		// The logger is not configured yet; initialize a default one to report this.
		_ = logger.Init(logger.Config{})
		logger.Fatal("failed to load config", "err", err)
	}

	if err := logger.Init(logger.Config{Debug: cfg.LogDebug, Dir: cfg.LogDir}); err != nil {
		_ = logger.Init(logger.Config{})
		logger.Fatal("failed to initialize logger", "err", err)
	}

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	// Providers with resilience (backoff + circuit breaker); each is enabled by its key.
	var provs []weather.Provider
	if cfg.OpenWeatherAPIKey != "" {
		provs = append(provs, providers.NewOpenWeatherProvider(httpClient, cfg.OpenWeatherAPIKey))
	}
	if cfg.WeatherAPIKey != "" {
		provs = append(provs, providers.NewWeatherAPIProvider(httpClient, cfg.WeatherAPIKey))
	}
	// Open-Meteo needs no key of its own, but city names must be geocoded.
	if cfg.GeocoderAPIKey != "" {
		provs = append(provs, providers.NewOpenMeteoProvider(httpClient, providers.NewGoogleGeocoder(cfg.GeocoderAPIKey)))
	}

	service := weather.NewService(provs, cfg.ForecastDays)
	if len(provs) == 0 {
		logger.Warn("no weather providers configured; weather checks will fail until an API key is set")
	} else {
		logger.Info("weather providers enabled", "providers", service.Providers())
	}

	weatherCache := cache.NewWeatherCache(cfg.CacheTTL, cfg.FetchTimeout)
	tasks := store.NewMemoryStore()
	machine := lifecycle.NewMachine(tasks)
	evaluator := impact.NewEvaluator(cfg.Thresholds)

	// Scheduler that evaluates tasks and periodically rechecks them.
	sched := scheduler.New(weatherCache, evaluator, machine, tasks, service.Fetch)
	if err := sched.Start(cfg.RecheckInterval); err != nil {
		logger.Fatal("failed to start scheduler", "err", err)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "weather-aware-tasks",
		DisableStartupMessage: true,
		Immutable:             true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          time.Minute,
		ErrorHandler:          httpapi.ErrorHandler,
	})

	// Global middleware
	app.Use(fiberlogger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-aware-tasks",
		})
	})

	httpapi.RegisterRoutes(app, httpapi.Deps{
		Store:     tasks,
		Machine:   machine,
		Scheduler: sched,
		Cache:     weatherCache,
		Fetch:     service.Fetch,
	})

	go func() {
		logger.Info("listening", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			logger.Error("fiber server stopped", "err", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("error during shutdown", "err", err)
	}
}
