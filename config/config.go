// Package config loads server settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"

	"github.com/impala/lesson-engine/engine"
	"github.com/impala/lesson-engine/factory"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

type Config struct {
	Environment string
	Port        int
	DBPath      string
	// RateCard is the path of a JSON rate card; it wins over HourlyRate and Currency.
	RateCard   string
	HourlyRate string
	Currency   string
}

// Load reads .env from the working directory, if present, then the environment.
func Load() (*Config, error) {
	return LoadFile(".env")
}

// LoadFile is Load with an explicit dotenv path. A missing file is not an
// error. Variables already set in the environment are not overridden.
func LoadFile(path string) (*Config, error) {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load %s: %w", path, err)
	}

	cfg := &Config{
		Environment: getenv("ENV", EnvDevelopment),
		DBPath:      getenv("DB_PATH", "lessons.db"),
		RateCard:    os.Getenv("RATE_CARD"),
		HourlyRate:  os.Getenv("HOURLY_RATE"),
		Currency:    os.Getenv("CURRENCY"),
	}

	port, err := strconv.Atoi(getenv("PORT", "8080"))
	if err != nil || port <= 0 || port > 65535 {
		return nil, fmt.Errorf("PORT must be a TCP port number, got %q", os.Getenv("PORT"))
	}
	cfg.Port = port

	return cfg, nil
}

func (c *Config) IsProduction() bool { return c.Environment == EnvProduction }

// Pricer builds the lesson pricer from the rate card file or the
// HOURLY_RATE / CURRENCY settings.
func (c *Config) Pricer() (engine.Pricer, error) {
	f := factory.NewRateCardFactory()
	if c.RateCard != "" {
		return f.LoadRateCard(c.RateCard)
	}
	return f.FromJSON(factory.RateCardJSON{Currency: c.Currency, HourlyRate: c.HourlyRate})
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
