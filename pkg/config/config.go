// Package config loads the storefront core's environment configuration.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the environment-driven settings for the cache tiers, the
// backend client and the guest cart store. Component-level knobs (TTLs,
// tier selection) stay with the call sites.
type Config struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`

	APIBaseURL string `envconfig:"API_BASE_URL" required:"true"`

	RedisAddr     string `envconfig:"REDIS_ADDR" default:"localhost:6379"`
	RedisPassword string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB       int    `envconfig:"REDIS_DB" default:"0"`

	FirestoreProjectID       string `envconfig:"FIRESTORE_PROJECT_ID"`
	CacheCollectionName      string `envconfig:"CACHE_COLLECTION" default:"response-cache"`
	GuestCartCollectionName  string `envconfig:"GUEST_CART_COLLECTION" default:"guest-carts"`
	GuestCartApplicationName string `envconfig:"GUEST_CART_APP_NAME" default:"storefront"`

	CacheSweepInterval time.Duration `envconfig:"CACHE_SWEEP_INTERVAL" default:"1h"`
}

// Load reads configuration from the environment, after loading a .env
// file when one exists.
func Load() (*Config, error) {
	// Load .env file if it exists (silent fail if not).
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("storefront", &cfg); err != nil {
		return nil, fmt.Errorf("process environment config: %w", err)
	}
	return &cfg, nil
}
