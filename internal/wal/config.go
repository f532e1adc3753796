// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package wal provides a durable write-ahead log for ingest batches, backed
// by BadgerDB. A batch is written to the WAL before it is handed to the
// store and confirmed once the store accepted it. Unconfirmed entries are
// replayed on startup and by the retry loop.
package wal

import (
	"fmt"
	"time"
)

// Config holds WAL configuration.
type Config struct {
	// Enabled controls whether ingest batches go through the WAL.
	Enabled bool `koanf:"enabled"`

	// Path is the BadgerDB directory. Ignored when InMemory is set.
	Path string `koanf:"path"`

	// InMemory keeps the WAL in memory. Only useful for tests.
	InMemory bool `koanf:"in_memory"`

	// SyncWrites forces fsync after every write.
	SyncWrites bool `koanf:"sync_writes"`

	RetryInterval time.Duration `koanf:"retry_interval"`
	// MaxRetries is how often an entry is replayed before it is dropped.
	MaxRetries   int           `koanf:"max_retries"`
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	CompactInterval time.Duration `koanf:"compact_interval"`
	// Retention is how long confirmed entries are kept before compaction
	// removes them.
	Retention time.Duration `koanf:"retention"`
	// EntryTTL bounds how long an unconfirmed entry is retried.
	EntryTTL time.Duration `koanf:"entry_ttl"`

	Compression bool    `koanf:"compression"`
	GCRatio     float64 `koanf:"gc_ratio"`
}

// DefaultConfig favours durability over throughput.
func DefaultConfig() Config {
	return Config{
		Enabled:         true,
		Path:            "/data/wal",
		SyncWrites:      true,
		RetryInterval:   30 * time.Second,
		MaxRetries:      100,
		RetryBackoff:    5 * time.Second,
		CompactInterval: time.Hour,
		Retention:       24 * time.Hour,
		EntryTTL:        168 * time.Hour,
		Compression:     true,
		GCRatio:         0.5,
	}
}

// ConfigError names the offending field.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("wal config %s: %s", e.Field, e.Message)
}

// Validate checks the configuration. A disabled WAL is always valid.
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Path == "" && !c.InMemory {
		return &ConfigError{Field: "Path", Message: "required"}
	}
	if c.RetryInterval <= 0 {
		return &ConfigError{Field: "RetryInterval", Message: "must be positive"}
	}
	if c.MaxRetries < 1 {
		return &ConfigError{Field: "MaxRetries", Message: "must be at least 1"}
	}
	if c.RetryBackoff <= 0 {
		return &ConfigError{Field: "RetryBackoff", Message: "must be positive"}
	}
	if c.CompactInterval <= 0 {
		return &ConfigError{Field: "CompactInterval", Message: "must be positive"}
	}
	if c.EntryTTL < c.RetryInterval {
		return &ConfigError{Field: "EntryTTL", Message: "must be at least the retry interval"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1"}
	}
	return nil
}
