// Package config handles server configuration and publisher config loading.
package config

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

// Config holds the server configuration loaded from the environment.
type Config struct {
	Host          string // listen host (default "localhost")
	Port          int    // listen port (default 4000)
	ServerRoot    string // root directory holding publisher.config.json and projects
	PublisherPath string // working directory for fetched package trees
	LogLevel      string // log level: debug, info, warn, error (default "info")
	NodeEnv       string // "development" enables the front-end dev proxy
	FrontendURL   string // front-end dev server URL (default http://localhost:5173)
	MalloyService string // external Malloy compiler service URL
	OTLPEndpoint  string // OTLP trace exporter endpoint; empty disables telemetry

	// Warnings collects non-fatal warnings generated during loading.
	// They are logged by the caller after the logger is initialised.
	Warnings []string
}

// SlogLevel maps the LogLevel string to an slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// IsDevelopment returns true when the front-end dev proxy should run.
func (c *Config) IsDevelopment() bool {
	return strings.EqualFold(c.NodeEnv, "development")
}

// ListenAddr returns the host:port pair for the HTTP listener.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// LoadFromEnv loads server configuration from environment variables.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Host:          os.Getenv("PUBLISHER_HOST"),
		ServerRoot:    os.Getenv("SERVER_ROOT"),
		PublisherPath: os.Getenv("PUBLISHER_PATH"),
		LogLevel:      os.Getenv("LOG_LEVEL"),
		NodeEnv:       os.Getenv("NODE_ENV"),
		FrontendURL:   os.Getenv("FRONTEND_DEV_URL"),
		MalloyService: os.Getenv("MALLOY_SERVICE_URL"),
		OTLPEndpoint:  os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}

	if v := os.Getenv("PUBLISHER_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("PUBLISHER_PORT must be an integer, got %q", v)
		}
		cfg.Port = port
	}

	// Defaults
	if cfg.Port == 0 {
		cfg.Port = 4000
	}
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.ServerRoot == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, fmt.Errorf("resolve working directory: %w", err)
		}
		cfg.ServerRoot = wd
		cfg.Warnings = append(cfg.Warnings, "SERVER_ROOT not set, using current working directory")
	}
	if cfg.PublisherPath == "" {
		cfg.PublisherPath = ".publisher"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.FrontendURL == "" {
		cfg.FrontendURL = "http://localhost:5173"
	}
	if cfg.MalloyService == "" {
		cfg.MalloyService = "http://localhost:4040"
		cfg.Warnings = append(cfg.Warnings, "MALLOY_SERVICE_URL not set, using http://localhost:4040")
	}

	return cfg, nil
}

// LoadDotEnv reads a .env file and sets any variables not already in the
// environment. Lines must be in KEY=VALUE format. Comments (#) and blank
// lines are skipped.
func LoadDotEnv(path string) error {
	f, err := os.Open(path) //nolint:gosec // path is caller-controlled
	if err != nil {
		if os.IsNotExist(err) {
			return nil // .env not found is not an error
		}
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close() //nolint:errcheck

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = stripQuotes(strings.TrimSpace(value))
		// Env vars take precedence over the .env file.
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("setenv %s: %w", key, err)
			}
		}
	}
	return scanner.Err()
}

// stripQuotes removes surrounding double or single quotes from a value.
func stripQuotes(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}
