package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type AppConfig struct {
	// RefreshInterval controls how often the all-cities refresh runs.
	RefreshInterval time.Duration

	// HTTPTimeout is the upper bound for a single outbound provider call.
	HTTPTimeout time.Duration

	// DBPath is the SQLite database file path.
	DBPath string

	// ForecastBaseURL overrides the Open-Meteo endpoint (mainly for tests).
	ForecastBaseURL string

	// GeocoderAPIKey enables name-based city registration when set.
	GeocoderAPIKey string

	Port string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}
	cfg := &AppConfig{}

	// Refresh interval: default 15 minutes, matching the provider's
	// 15-minute forecast resolution.
	minutes := getenvInt("REFRESH_INTERVAL_MINUTES", 15)
	if minutes <= 0 {
		return nil, fmt.Errorf("invalid REFRESH_INTERVAL_MINUTES: %d", minutes)
	}
	cfg.RefreshInterval = time.Duration(minutes) * time.Minute

	timeoutStr := getenvDefault("HTTP_TIMEOUT", "10s")
	timeout, err := time.ParseDuration(timeoutStr)
	if err != nil {
		return nil, fmt.Errorf("invalid HTTP_TIMEOUT: %w", err)
	}
	cfg.HTTPTimeout = timeout

	cfg.DBPath = getenvDefault("WEATHER_DB_PATH", "weather.db")
	cfg.ForecastBaseURL = os.Getenv("FORECAST_BASE_URL")
	cfg.GeocoderAPIKey = os.Getenv("GEOCODER_API_KEY")
	cfg.Port = getenvDefault("PORT", "8080")

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}
