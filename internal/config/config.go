package config

import (
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	DBHost     string `envconfig:"DB_HOST" default:"localhost"`
	DBPort     int    `envconfig:"DB_PORT" default:"5432"`
	DBUser     string `envconfig:"DB_USER" required:"true"`
	DBPassword string `envconfig:"DB_PASSWORD"`
	DBName     string `envconfig:"DB_NAME" required:"true"`
	DBSSLMode  string `envconfig:"DB_SSLMODE" default:"disable"`
	// DBPasswordSecret names a GCP Secret Manager secret holding the DB
	// password. When set it takes precedence over DB_PASSWORD.
	DBPasswordSecret string `envconfig:"DB_PASSWORD_SECRET"`

	// GCP settings, required only when Pub/Sub events or Secret Manager
	// credentials are used.
	GCPProjectID string `envconfig:"GCP_PROJECT_ID"`
	EventTopic   string `envconfig:"QUOTA_EVENT_TOPIC" default:"quota-events"`

	// Usage staleness settings. Zero disables the respective trigger.
	UntilRefresh int64 `envconfig:"QUOTA_UNTIL_REFRESH" default:"0"`
	MaxAgeSec    int   `envconfig:"QUOTA_MAX_AGE_SEC" default:"0"`

	// Sweeper settings
	SweepIntervalSec   int `envconfig:"SWEEP_INTERVAL_SEC" default:"60"`
	RefreshIntervalSec int `envconfig:"REFRESH_INTERVAL_SEC" default:"3600"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
