// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/tomtom215/geotimeline/internal/eventprocessor"
	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/ingest"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/pipeline"
	"github.com/tomtom215/geotimeline/internal/wal"
)

// DefaultConfigPaths lists the paths where config files are searched in
// order of priority. The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/geotimeline/config.yaml",
	"/etc/geotimeline/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DotEnvPathEnvVar overrides the .env file path.
const DotEnvPathEnvVar = "DOTENV_PATH"

// defaultConfig returns the values every other layer overrides.
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			Environment:     "development",
		},
		Database: DatabaseConfig{
			Path:      "/data/geotimeline.duckdb",
			MaxMemory: "1GB",
			Threads:   0,
		},
		Ingest: ingest.DefaultConfig(),
		Pipeline: pipeline.Config{
			MaxPointsPerRun:    pipeline.DefaultMaxPointsPerRun,
			DefaultSensitivity: models.SensitivityDefault,
		},
		Geocoding:      geocoding.DefaultConfig(),
		Redis:          RedisConfig{},
		NATS:           eventprocessor.DefaultNATSConfig(),
		Router:         eventprocessor.DefaultRouterConfig(),
		CircuitBreaker: eventprocessor.DefaultCircuitBreakerConfig("event-publisher"),
		WAL:            wal.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Security: SecurityConfig{
			CORSOrigins:     []string{"*"},
			RateLimitReqs:   600,
			RateLimitWindow: time.Minute,
			MaxBodyBytes:    5 << 20,
		},
	}
}

// LoadWithKoanf layers defaults, config file and environment and returns
// the validated result.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	defaults := defaultConfig()
	if err := k.Load(structs.Provider(defaults, "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Variables already set in the process win over the .env file.
	if err := loadDotEnv(); err != nil {
		return nil, err
	}

	// HTTP_PORT -> server.port, NATS_URL -> nats.url, ...
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.CircuitBreaker.Name = defaults.CircuitBreaker.Name

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// loadDotEnv reads DOTENV_PATH or ./.env. A missing file is not an error.
func loadDotEnv() error {
	path := os.Getenv(DotEnvPathEnvVar)
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}
	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}
	return ""
}

// sliceConfigPaths are the keys whose env values are comma-separated lists.
var sliceConfigPaths = []string{
	"security.cors_origins",
}

// processSliceFields splits comma-separated strings set from the
// environment. Lists from YAML are left alone.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if err := k.Set(path, trimmed); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
	}
	return nil
}

// envMappings maps lower-cased environment variable names to koanf paths.
// Unlisted variables are ignored.
var envMappings = map[string]string{
	// Server
	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"environment":           "server.environment",

	// Database
	"duckdb_path":       "database.path",
	"duckdb_max_memory": "database.max_memory",
	"duckdb_threads":    "database.threads",

	// Ingest
	"ingest_batch_size":     "ingest.batch_size",
	"ingest_quiet_window":   "ingest.quiet_window",
	"ingest_flush_interval": "ingest.flush_interval",

	// Pipeline
	"pipeline_max_points_per_run":  "pipeline.max_points_per_run",
	"pipeline_default_sensitivity": "pipeline.default_sensitivity",

	// Geocoding
	"geocoding_primary":              "geocoding.primary",
	"geocoding_max_errors":           "geocoding.max_errors",
	"geocoding_user_agent":           "geocoding.user_agent",
	"geocoding_cache_size":           "geocoding.cache_size",
	"geocoding_cache_ttl":            "geocoding.cache_ttl",
	"nominatim_enabled":              "geocoding.nominatim.enabled",
	"nominatim_url":                  "geocoding.nominatim.url",
	"nominatim_rate_per_second":      "geocoding.nominatim.rate_per_second",
	"nominatim_timeout":              "geocoding.nominatim.timeout",
	"photon_enabled":                 "geocoding.photon.enabled",
	"photon_url":                     "geocoding.photon.url",
	"photon_rate_per_second":         "geocoding.photon.rate_per_second",
	"photon_timeout":                 "geocoding.photon.timeout",
	"redis_addr":                     "redis.addr",
	"redis_password":                 "redis.password",
	"redis_db":                       "redis.db",
	"circuit_breaker_max_requests":   "circuit_breaker.max_requests",
	"circuit_breaker_interval":       "circuit_breaker.interval",
	"circuit_breaker_timeout":        "circuit_breaker.timeout",
	"circuit_breaker_fail_threshold": "circuit_breaker.failure_threshold",

	// NATS
	"nats_enabled":          "nats.enabled",
	"nats_url":              "nats.url",
	"nats_embedded":         "nats.embedded",
	"nats_host":             "nats.host",
	"nats_port":             "nats.port",
	"nats_store_dir":        "nats.store_dir",
	"nats_max_memory":       "nats.max_memory",
	"nats_max_store":        "nats.max_store",
	"nats_stream_name":      "nats.stream_name",
	"nats_stream_retention": "nats.stream_retention",
	"nats_subscribers":      "nats.subscribers",
	"nats_durable_name":     "nats.durable_name",
	"nats_queue_group":      "nats.queue_group",
	"nats_ack_wait":         "nats.ack_wait",
	"nats_max_deliver":      "nats.max_deliver",
	"nats_max_reconnects":   "nats.max_reconnects",
	"nats_reconnect_wait":   "nats.reconnect_wait",

	// Router
	"router_close_timeout":          "router.close_timeout",
	"router_retry_max_retries":      "router.retry_max_retries",
	"router_retry_initial_interval": "router.retry_initial_interval",
	"router_retry_max_interval":     "router.retry_max_interval",
	"router_retry_multiplier":       "router.retry_multiplier",
	"router_throttle_per_second":    "router.throttle_per_second",
	"router_poison_topic":           "router.poison_topic",
	"router_dedup_enabled":          "router.dedup_enabled",
	"router_dedup_ttl":              "router.dedup_ttl",
	"router_dedup_size":             "router.dedup_size",

	// WAL
	"wal_enabled":          "wal.enabled",
	"wal_path":             "wal.path",
	"wal_sync_writes":      "wal.sync_writes",
	"wal_retry_interval":   "wal.retry_interval",
	"wal_max_retries":      "wal.max_retries",
	"wal_retry_backoff":    "wal.retry_backoff",
	"wal_compact_interval": "wal.compact_interval",
	"wal_retention":        "wal.retention",
	"wal_entry_ttl":        "wal.entry_ttl",
	"wal_compression":      "wal.compression",
	"wal_gc_ratio":         "wal.gc_ratio",

	// Logging
	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	// Security
	"cors_origins":        "security.cors_origins",
	"rate_limit_requests": "security.rate_limit_reqs",
	"rate_limit_window":   "security.rate_limit_window",
	"disable_rate_limit":  "security.rate_limit_disabled",
	"max_body_bytes":      "security.max_body_bytes",
}

// envTransformFunc maps an environment variable name to its koanf path.
// An empty result tells koanf to skip the variable.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
