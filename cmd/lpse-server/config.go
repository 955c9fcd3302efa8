package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"lpse-scraper/pkg/configutil"
)

const defaultPort = 3000

type Config struct {
	Port    int    `json:"port"`
	BaseUrl string `json:"base_url"`
	// zero leaves outbound requests bound only by the inbound request
	UpstreamTimeoutSeconds int `json:"upstream_timeout_seconds"`
}

func (c Config) UpstreamTimeout() time.Duration {
	return time.Duration(c.UpstreamTimeoutSeconds) * time.Second
}

// ReadConfig reads config.json5 if it exists, the PORT environment variable takes precedence
// over the port in the file.
func ReadConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	port, err := resolvePort(os.Getenv("PORT"), cfg.Port)
	if err != nil {
		return Config{}, err
	}
	cfg.Port = port
	if cfg.UpstreamTimeoutSeconds < 0 {
		return Config{}, fmt.Errorf("upstream_timeout_seconds must not be negative, got %d", cfg.UpstreamTimeoutSeconds)
	}
	return cfg, nil
}

func resolvePort(env string, configured int) (int, error) {
	if env != "" {
		port, err := strconv.Atoi(env)
		if err != nil || port <= 0 || port > 65535 {
			return 0, fmt.Errorf("invalid PORT %q", env)
		}
		return port, nil
	}
	if configured != 0 {
		if configured < 0 || configured > 65535 {
			return 0, fmt.Errorf("invalid port %d", configured)
		}
		return configured, nil
	}
	return defaultPort, nil
}
