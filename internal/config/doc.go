// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

/*
Package config loads and validates Geotimeline configuration.

# Sources

Configuration is layered with koanf, later layers winning:

  - Built-in defaults (defaultConfig)
  - A YAML file from CONFIG_PATH, ./config.yaml or /etc/geotimeline/config.yaml
  - A .env file from DOTENV_PATH or ./.env, applied only to unset variables
  - Environment variables

Only the variables listed in the mapping table are read, so unrelated
environment does not leak into the configuration.

# Environment Variables

Server:
  - HTTP_HOST, HTTP_PORT (default 0.0.0.0:8080)
  - HTTP_READ_TIMEOUT, HTTP_WRITE_TIMEOUT, HTTP_SHUTDOWN_TIMEOUT
  - ENVIRONMENT: development or production

Storage:
  - DUCKDB_PATH, DUCKDB_MAX_MEMORY, DUCKDB_THREADS
  - WAL_ENABLED, WAL_PATH, WAL_RETRY_INTERVAL, WAL_MAX_RETRIES, ...

Timeline:
  - INGEST_BATCH_SIZE, INGEST_QUIET_WINDOW, INGEST_FLUSH_INTERVAL
  - PIPELINE_MAX_POINTS_PER_RUN, PIPELINE_DEFAULT_SENSITIVITY (1-5)

Geocoding:
  - GEOCODING_PRIMARY, GEOCODING_MAX_ERRORS, GEOCODING_USER_AGENT
  - NOMINATIM_URL, PHOTON_URL and their _ENABLED, _RATE_PER_SECOND, _TIMEOUT
  - REDIS_ADDR, REDIS_PASSWORD, REDIS_DB: optional shared result cache

Events:
  - NATS_ENABLED, NATS_URL, NATS_EMBEDDED, NATS_STORE_DIR, ... (build tag nats)
  - ROUTER_RETRY_MAX_RETRIES, ROUTER_DEDUP_ENABLED, ROUTER_POISON_TOPIC, ...

HTTP:
  - CORS_ORIGINS (comma separated), RATE_LIMIT_REQUESTS, RATE_LIMIT_WINDOW,
    DISABLE_RATE_LIMIT, MAX_BODY_BYTES
  - LOG_LEVEL, LOG_FORMAT, LOG_CALLER

# Usage

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("invalid configuration")
	}
	logging.Init(cfg.Logging.Logging())
	db, err := database.New(&cfg.Database)
*/
package config
