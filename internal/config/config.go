// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/tomtom215/geotimeline/internal/eventprocessor"
	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/ingest"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/pipeline"
	"github.com/tomtom215/geotimeline/internal/wal"
)

// Config holds all application configuration.
//
// Loading order (later layers override earlier ones):
//  1. Built-in defaults
//  2. Optional YAML file (CONFIG_PATH or config.yaml)
//  3. Optional .env file
//  4. Environment variables
//
// Config is not modified after Load returns and may be read concurrently.
type Config struct {
	Server         ServerConfig                        `koanf:"server"`
	Database       DatabaseConfig                      `koanf:"database"`
	Ingest         ingest.Config                       `koanf:"ingest"`
	Pipeline       pipeline.Config                     `koanf:"pipeline"`
	Geocoding      geocoding.Config                    `koanf:"geocoding"`
	Redis          RedisConfig                         `koanf:"redis"`
	NATS           eventprocessor.NATSConfig           `koanf:"nats"`
	Router         eventprocessor.RouterConfig         `koanf:"router"`
	CircuitBreaker eventprocessor.CircuitBreakerConfig `koanf:"circuit_breaker"`
	WAL            wal.Config                          `koanf:"wal"`
	Logging        LoggingConfig                       `koanf:"logging"`
	Security       SecurityConfig                      `koanf:"security"`
}

type ServerConfig struct {
	Host         string        `koanf:"host"`
	Port         int           `koanf:"port"`
	ReadTimeout  time.Duration `koanf:"read_timeout"`
	WriteTimeout time.Duration `koanf:"write_timeout"`
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	// Environment is development or production.
	Environment string `koanf:"environment"`
}

// Addr returns host:port for net/http.
func (s ServerConfig) Addr() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// DatabaseConfig configures the DuckDB store.
type DatabaseConfig struct {
	// Path is the database file, or ":memory:".
	Path string `koanf:"path"`
	// MaxMemory is a DuckDB size string such as "1GB".
	MaxMemory string `koanf:"max_memory"`
	// Threads <= 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// RedisConfig configures the optional shared geocode cache. With an empty
// Addr only the in-process LRU is used.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
}

// Enabled reports whether a Redis server is configured.
func (r RedisConfig) Enabled() bool {
	return r.Addr != ""
}

type LoggingConfig struct {
	// Level is trace, debug, info, warn, error, fatal, panic or disabled.
	Level string `koanf:"level"`
	// Format is json or console.
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Logging converts the section to the logging package's configuration.
func (l LoggingConfig) Logging() logging.Config {
	return logging.Config{
		Level:     l.Level,
		Format:    l.Format,
		Caller:    l.Caller,
		Timestamp: true,
		Output:    os.Stderr,
	}
}

// SecurityConfig covers the HTTP surface only. Authentication is left to a
// fronting proxy.
type SecurityConfig struct {
	CORSOrigins       []string      `koanf:"cors_origins"`
	RateLimitReqs     int           `koanf:"rate_limit_reqs"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
	// MaxBodyBytes caps ingest request bodies.
	MaxBodyBytes int64 `koanf:"max_body_bytes"`
}

// IsProduction reports whether ENVIRONMENT is production.
func (c *Config) IsProduction() bool {
	return c.Server.Environment == "production"
}

// Load reads configuration from defaults, file, .env and environment and
// validates it.
func Load() (*Config, error) {
	cfg, err := LoadWithKoanf()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
