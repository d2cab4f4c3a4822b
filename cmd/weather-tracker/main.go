package main

import (
	"context"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	httpapi "github.com/ikozhura/weather-tracker/internal/api/http"
	"github.com/ikozhura/weather-tracker/internal/config"
	"github.com/ikozhura/weather-tracker/internal/geocode"
	"github.com/ikozhura/weather-tracker/internal/scheduler"
	"github.com/ikozhura/weather-tracker/internal/store"
	"github.com/ikozhura/weather-tracker/internal/weather"
	"github.com/ikozhura/weather-tracker/internal/weather/forecast"
)

func main() {
	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// SQLite-backed persistence for users, cities and weather samples.
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		log.Fatalf("failed to open store: %v", err)
	}
	defer st.Close()

	// Shared HTTP client for outbound provider calls; its timeout is the
	// upper bound for a single forecast request.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	client := forecast.NewClient(httpClient, cfg.ForecastBaseURL)

	// Geocoding needs a Google API key; without one, registrations must
	// carry coordinates.
	var geo weather.Geocoder
	if cfg.GeocoderAPIKey != "" {
		geo = geocode.New(cfg.GeocoderAPIKey)
	}

	// Core service orchestrating the refresh pipeline and lookups.
	service := weather.NewService(st, client, geo)

	// Scheduler that periodically refreshes all tracked cities.
	sched := scheduler.New(cfg.RefreshInterval, service)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	// Basic app configuration
	app := fiber.New(fiber.Config{
		AppName:               "weather-tracker",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	// Basic health endpoint
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "weather-tracker",
		})
	})

	// API routes.
	httpapi.RegisterRoutes(app, service)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Printf("fiber server stopped: %v", err)
		}
	}()

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Printf("error during shutdown: %v", err)
	}
}
