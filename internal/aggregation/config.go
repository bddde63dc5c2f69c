package aggregation

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config carries the aggregation settings that have to be
// explicit: the civil timezone buckets align to, the refresh cadence of the
// materialized aggregates (availability for "now" is only as fresh as the
// last refresh), and the bucket-tier exceedance tolerance.
type Config struct {
	Timezone        string        `yaml:"timezone"`
	RefreshInterval time.Duration `yaml:"refresh_interval"`
	BucketTolerance float64       `yaml:"bucket_tolerance"`

	location *time.Location
}

// LoadConfig loads aggregation config from the yaml file named by
// AGG_CONFIG, with env fallbacks for individual values.
func LoadConfig() (Config, error) {
	cfg := Config{
		Timezone:        getenvDefault("AGG_TIMEZONE", "Asia/Kolkata"),
		RefreshInterval: getenvDuration("AGG_REFRESH_INTERVAL", 5*time.Minute),
		BucketTolerance: getenvFloatDefault("AGG_BUCKET_TOLERANCE", DefaultBucketTolerance),
	}

	if path := os.Getenv("AGG_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	}

	if cfg.RefreshInterval <= 0 {
		return cfg, errors.New("aggregation config: refresh_interval must be positive")
	}
	if cfg.BucketTolerance <= 1 {
		return cfg, fmt.Errorf("aggregation config: bucket_tolerance must exceed 1, got %v", cfg.BucketTolerance)
	}

	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return cfg, fmt.Errorf("aggregation config: %w", err)
	}
	cfg.location = loc
	return cfg, nil
}

// Location returns the configured bucket timezone.
func (c Config) Location() *time.Location {
	if c.location != nil {
		return c.location
	}
	return time.UTC
}

// StalenessBound is the worst-case lag between an ingested reading and its
// visibility in the materialized aggregates.
func (c Config) StalenessBound() time.Duration {
	return c.RefreshInterval
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvFloatDefault(key string, fallback float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}
