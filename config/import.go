package config

import (
	"os"
	"strconv"
	"time"
)

// ImportConfig tunes the artist import pipeline. The cooldown window is
// enforced in one place, the importer, regardless of which endpoint triggered
// the run.
type ImportConfig struct {
	Cooldown        time.Duration `env:"IMPORT_COOLDOWN" envDefault:"1h"`
	FetchRetries    int           `env:"IMPORT_FETCH_RETRIES" envDefault:"3"`
	SlugMaxAttempts int           `env:"IMPORT_SLUG_MAX_ATTEMPTS" envDefault:"20"`
	ProgressGrace   time.Duration `env:"IMPORT_PROGRESS_GRACE" envDefault:"5m"`
	EventLookahead  time.Duration `env:"IMPORT_EVENT_LOOKAHEAD" envDefault:"8760h"`
}

var Import = loadImportConfig()

func loadImportConfig() ImportConfig {
	cfg := ImportConfig{
		Cooldown:        time.Hour,
		FetchRetries:    3,
		SlugMaxAttempts: 20,
		ProgressGrace:   5 * time.Minute,
		EventLookahead:  365 * 24 * time.Hour,
	}

	if v := os.Getenv("IMPORT_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cooldown = d
		}
	}

	if v := os.Getenv("IMPORT_FETCH_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.FetchRetries = n
		}
	}

	if v := os.Getenv("IMPORT_SLUG_MAX_ATTEMPTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.SlugMaxAttempts = n
		}
	}

	if v := os.Getenv("IMPORT_PROGRESS_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ProgressGrace = d
		}
	}

	if v := os.Getenv("IMPORT_EVENT_LOOKAHEAD"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.EventLookahead = d
		}
	}

	return cfg
}
