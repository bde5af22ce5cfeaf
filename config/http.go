package config

import (
	"net/http"
	"os"
	"time"

	"github.com/joho/godotenv"
)

func init() {
	_ = godotenv.Load()
}

type HTTPConfig struct {
	DefaultTimeout      time.Duration `env:"HTTP_DEFAULT_TIMEOUT" envDefault:"30s"`
	SpotifyTimeout      time.Duration `env:"HTTP_SPOTIFY_TIMEOUT" envDefault:"15s"`
	TicketmasterTimeout time.Duration `env:"HTTP_TICKETMASTER_TIMEOUT" envDefault:"20s"`
	SetlistfmTimeout    time.Duration `env:"HTTP_SETLISTFM_TIMEOUT" envDefault:"15s"`
	ShutdownTimeout     time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

var HTTP = loadHTTPConfig()

func loadHTTPConfig() HTTPConfig {
	cfg := HTTPConfig{
		DefaultTimeout:      30 * time.Second,
		SpotifyTimeout:      15 * time.Second,
		TicketmasterTimeout: 20 * time.Second,
		SetlistfmTimeout:    15 * time.Second,
		ShutdownTimeout:     10 * time.Second,
	}

	if v := os.Getenv("HTTP_DEFAULT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.DefaultTimeout = d
		}
	}

	if v := os.Getenv("HTTP_SPOTIFY_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SpotifyTimeout = d
		}
	}

	if v := os.Getenv("HTTP_TICKETMASTER_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.TicketmasterTimeout = d
		}
	}

	if v := os.Getenv("HTTP_SETLISTFM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.SetlistfmTimeout = d
		}
	}

	if v := os.Getenv("HTTP_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.ShutdownTimeout = d
		}
	}

	return cfg
}

func SpotifyClient() *http.Client {
	return &http.Client{
		Timeout: HTTP.SpotifyTimeout,
	}
}

func TicketmasterClient() *http.Client {
	return &http.Client{
		Timeout: HTTP.TicketmasterTimeout,
	}
}

func SetlistfmClient() *http.Client {
	return &http.Client{
		Timeout: HTTP.SetlistfmTimeout,
	}
}
