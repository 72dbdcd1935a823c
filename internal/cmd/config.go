package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration. Everything has a default, so a
// missing file is not an error; environment variables override connection
// settings separately.
type Config struct {
	Duel struct {
		RateWindowSeconds int `yaml:"rate_window_seconds"`
	} `yaml:"duel"`

	Gateway struct {
		PingIntervalSeconds int `yaml:"ping_interval_seconds"`
		ReadTimeoutSeconds  int `yaml:"read_timeout_seconds"`
	} `yaml:"gateway"`
}

func defaultConfig() *Config {
	var config Config
	config.Duel.RateWindowSeconds = 60
	config.Gateway.PingIntervalSeconds = 30
	config.Gateway.ReadTimeoutSeconds = 60
	return &config
}

func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return config, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return config, nil
}

// rateWindow is the expiry for leases and rate-limit counters alike. The
// provisioning lease releases explicitly well before expiry; the TTL only
// backstops a crashed holder.
func (c *Config) rateWindow() time.Duration {
	return time.Duration(c.Duel.RateWindowSeconds) * time.Second
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}
