package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"
)

type Config struct {
	ListenAddr string
	BaseURL    string

	// ServerHost is the host half of local cloud ids. Defaults to the host
	// of BaseURL.
	ServerHost string

	DB struct {
		DSN string
	}

	FederationEnabled bool
	SyncPollInterval  time.Duration
	SyncRetryDelay    time.Duration

	PrometheusEnabled bool
}

func Load() (*Config, error) {
	cfg := &Config{}

	cfg.ListenAddr = getenvDefault("FEDCAL_LISTEN_ADDR", ":8080")
	cfg.BaseURL = os.Getenv("FEDCAL_BASE_URL")
	cfg.DB.DSN = os.Getenv("FEDCAL_DB_DSN")
	cfg.FederationEnabled = getenvBool("FEDCAL_FEDERATION_ENABLED", true)
	cfg.PrometheusEnabled = getenvBool("FEDCAL_PROMETHEUS_ENDPOINT_ENABLED", false)

	var err error
	if cfg.SyncPollInterval, err = getenvDuration("FEDCAL_SYNC_POLL_INTERVAL", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.SyncRetryDelay, err = getenvDuration("FEDCAL_SYNC_RETRY_DELAY", 5*time.Minute); err != nil {
		return nil, err
	}

	if cfg.BaseURL == "" {
		return nil, errors.New("FEDCAL_BASE_URL is required")
	}
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil || parsed.Host == "" {
		return nil, fmt.Errorf("FEDCAL_BASE_URL is not a valid URL: %q", cfg.BaseURL)
	}
	cfg.ServerHost = getenvDefault("FEDCAL_SERVER_HOST", parsed.Host)

	if cfg.DB.DSN == "" {
		return nil, errors.New("FEDCAL_DB_DSN is required")
	}

	return cfg, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		switch strings.ToLower(v) {
		case "1", "true", "yes", "on":
			return true
		case "0", "false", "no", "off":
			return false
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid duration: %q", key, v)
	}
	return d, nil
}
