package dbconfig

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds Postgres connection settings.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewConfigFromEnv reads DB_* environment variables (with defaults) for the
// duel store.
func NewConfigFromEnv() Config {
	return fromEnv("DB")
}

// NewQuestionsConfigFromEnv reads QUESTIONS_DB_* environment variables for
// the question content store, falling back to the duel store settings when a
// variable is unset. Single-database deployments need no extra variables.
func NewQuestionsConfigFromEnv() Config {
	base := NewConfigFromEnv()
	cfg := fromEnvWithFallback("QUESTIONS_DB", base)
	return cfg
}

func fromEnv(prefix string) Config {
	return fromEnvWithFallback(prefix, Config{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Database: "teknokul",
		SSLMode:  "disable",
	})
}

func fromEnvWithFallback(prefix string, fallback Config) Config {
	port, err := strconv.Atoi(getEnv(prefix+"_PORT", strconv.Itoa(fallback.Port)))
	if err != nil {
		port = fallback.Port
	}

	return Config{
		Host:     getEnv(prefix+"_HOST", fallback.Host),
		Port:     port,
		User:     getEnv(prefix+"_USER", fallback.User),
		Password: getEnv(prefix+"_PASSWORD", fallback.Password),
		Database: getEnv(prefix+"_NAME", fallback.Database),
		SSLMode:  getEnv(prefix+"_SSLMODE", fallback.SSLMode),
	}
}

// DSN returns the Postgres connection URL.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
