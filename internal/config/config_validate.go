// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package config

import (
	"fmt"
	"net/url"
	"time"

	"github.com/tomtom215/geotimeline/internal/geocoding"
	"github.com/tomtom215/geotimeline/internal/models"
)

// Validate checks that every section is usable.
func (c *Config) Validate() error {
	validators := []func() error{
		c.validateServer,
		c.validateDatabase,
		c.validateIngest,
		c.validatePipeline,
		c.validateGeocoding,
		c.validateNATS,
		c.validateWAL,
		c.validateLogging,
		c.validateSecurity,
	}
	for _, validate := range validators {
		if err := validate(); err != nil {
			return err
		}
	}
	return nil
}

func (c *Config) validateServer() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}
	if c.Server.ReadTimeout <= 0 || c.Server.WriteTimeout <= 0 {
		return fmt.Errorf("HTTP_READ_TIMEOUT and HTTP_WRITE_TIMEOUT must be positive")
	}
	switch c.Server.Environment {
	case "development", "production":
		return nil
	default:
		return fmt.Errorf("ENVIRONMENT must be development or production, got %q", c.Server.Environment)
	}
}

func (c *Config) validateDatabase() error {
	if c.Database.Path == "" {
		return fmt.Errorf("DUCKDB_PATH is required")
	}
	if c.Database.Threads < 0 {
		return fmt.Errorf("DUCKDB_THREADS must not be negative")
	}
	return nil
}

// Ingest limits
const (
	minIngestBatchSize = 1
	maxIngestBatchSize = 100000
	minQuietWindow     = 100 * time.Millisecond
	maxQuietWindow     = time.Hour
)

func (c *Config) validateIngest() error {
	if c.Ingest.BatchSize < minIngestBatchSize || c.Ingest.BatchSize > maxIngestBatchSize {
		return fmt.Errorf("INGEST_BATCH_SIZE must be between %d and %d", minIngestBatchSize, maxIngestBatchSize)
	}
	if c.Ingest.QuietWindow < minQuietWindow || c.Ingest.QuietWindow > maxQuietWindow {
		return fmt.Errorf("INGEST_QUIET_WINDOW must be between %v and %v", minQuietWindow, maxQuietWindow)
	}
	if c.Ingest.FlushInterval <= 0 {
		return fmt.Errorf("INGEST_FLUSH_INTERVAL must be positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.MaxPointsPerRun < 1 {
		return fmt.Errorf("PIPELINE_MAX_POINTS_PER_RUN must be at least 1")
	}
	if c.Pipeline.DefaultSensitivity < models.SensitivityMin || c.Pipeline.DefaultSensitivity > models.SensitivityMax {
		return fmt.Errorf("PIPELINE_DEFAULT_SENSITIVITY must be between %d and %d",
			models.SensitivityMin, models.SensitivityMax)
	}
	return nil
}

func (c *Config) validateGeocoding() error {
	g := &c.Geocoding
	if g.Primary != "" && g.Primary != geocoding.NominatimName && g.Primary != geocoding.PhotonName {
		return fmt.Errorf("GEOCODING_PRIMARY must be %s, %s or empty", geocoding.NominatimName, geocoding.PhotonName)
	}
	if g.MaxErrors < 1 {
		return fmt.Errorf("GEOCODING_MAX_ERRORS must be at least 1")
	}
	if g.UserAgent == "" {
		return fmt.Errorf("GEOCODING_USER_AGENT is required")
	}
	if g.CacheSize < 0 {
		return fmt.Errorf("GEOCODING_CACHE_SIZE must not be negative")
	}
	providers := map[string]geocoding.ProviderConfig{
		"NOMINATIM": g.Nominatim,
		"PHOTON":    g.Photon,
	}
	for name, p := range providers {
		if !p.Enabled {
			continue
		}
		if p.URL != "" {
			if err := validateHTTPURL(p.URL, name+"_URL"); err != nil {
				return err
			}
		}
		if p.RatePerSecond <= 0 {
			return fmt.Errorf("%s_RATE_PER_SECOND must be positive", name)
		}
		if p.Timeout <= 0 {
			return fmt.Errorf("%s_TIMEOUT must be positive", name)
		}
	}
	return nil
}

// NATS limits
const (
	natsMinMemory = 64 << 20
	natsMinStore  = 100 << 20
)

func (c *Config) validateNATS() error {
	if err := c.Router.Validate(); err != nil {
		return fmt.Errorf("router: %w", err)
	}
	if !c.NATS.Enabled {
		return nil
	}
	if err := validateNATSURL(c.NATS.URL); err != nil {
		return fmt.Errorf("NATS_URL is invalid: %w", err)
	}
	if c.NATS.EmbeddedServer {
		if c.NATS.MaxMemory < natsMinMemory {
			return fmt.Errorf("NATS_MAX_MEMORY must be at least %d bytes", natsMinMemory)
		}
		if c.NATS.MaxStore < natsMinStore {
			return fmt.Errorf("NATS_MAX_STORE must be at least %d bytes", natsMinStore)
		}
	}
	if c.NATS.SubscribersCount < 1 {
		return fmt.Errorf("NATS_SUBSCRIBERS must be at least 1")
	}
	if c.NATS.StreamName == "" || c.NATS.DurableName == "" {
		return fmt.Errorf("NATS_STREAM_NAME and NATS_DURABLE_NAME are required")
	}
	return nil
}

func (c *Config) validateWAL() error {
	return c.WAL.Validate()
}

var validLogLevels = map[string]bool{
	"trace": true, "debug": true, "info": true, "warn": true,
	"error": true, "fatal": true, "panic": true, "disabled": true,
}

var validLogFormats = map[string]bool{
	"json":    true,
	"console": true,
}

func (c *Config) validateLogging() error {
	if !validLogLevels[c.Logging.Level] {
		return fmt.Errorf("LOG_LEVEL must be one of: trace, debug, info, warn, error, fatal, panic, disabled")
	}
	if c.Logging.Format != "" && !validLogFormats[c.Logging.Format] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, console")
	}
	return nil
}

// Rate limit constants
const (
	minRateLimitRequests = 1
	maxRateLimitRequests = 100000
	minRateLimitWindow   = time.Second
	maxRateLimitWindow   = time.Hour
)

func (c *Config) validateSecurity() error {
	if c.Security.MaxBodyBytes < 1 {
		return fmt.Errorf("MAX_BODY_BYTES must be positive")
	}
	if c.Security.RateLimitDisabled {
		return nil
	}
	if c.Security.RateLimitReqs < minRateLimitRequests || c.Security.RateLimitReqs > maxRateLimitRequests {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be between %d and %d", minRateLimitRequests, maxRateLimitRequests)
	}
	if c.Security.RateLimitWindow < minRateLimitWindow || c.Security.RateLimitWindow > maxRateLimitWindow {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be between %v and %v", minRateLimitWindow, maxRateLimitWindow)
	}
	return nil
}

// validateHTTPURL accepts http and https URLs with a host.
func validateHTTPURL(rawURL, fieldName string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}
	if u.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters", fieldName)
	}
	return nil
}

// validateNATSURL accepts nats, tls, ws and wss URLs with a host.
func validateNATSURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("failed to parse URL: %w", err)
	}
	validSchemes := map[string]bool{"nats": true, "tls": true, "ws": true, "wss": true}
	if !validSchemes[u.Scheme] {
		return fmt.Errorf("scheme must be nats, tls, ws, or wss, got: %s", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}
