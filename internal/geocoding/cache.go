// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package geocoding

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"

	"github.com/tomtom215/geotimeline/internal/cache"
	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
)

// CacheKey rounds to four decimals, roughly 11 m at the equator.
func CacheKey(lat, lon float64) string {
	return fmt.Sprintf("revgeo:%.4f:%.4f", lat, lon)
}

// Cache keeps geocode results in a local LRU and, when a client is given,
// in Redis so that replicas share them.
type Cache struct {
	redis redis.Cmdable
	ttl   time.Duration
	local *cache.LRU[string, models.GeocodeResult]
}

// NewCache returns a cache. rc may be nil.
func NewCache(rc redis.Cmdable, size int, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Cache{redis: rc, ttl: ttl, local: cache.NewLRU[string, models.GeocodeResult](size, ttl)}
}

func (c *Cache) Get(ctx context.Context, lat, lon float64) (*models.GeocodeResult, bool) {
	key := CacheKey(lat, lon)
	if r, ok := c.local.Get(key); ok {
		metrics.RecordGeocodeCache("local", true)
		return &r, true
	}
	metrics.RecordGeocodeCache("local", false)

	if c.redis == nil {
		return nil, false
	}
	raw, err := c.redis.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			logging.Warn().Err(err).Str("key", key).Msg("geocode cache read failed")
		}
		metrics.RecordGeocodeCache("redis", false)
		return nil, false
	}
	var r models.GeocodeResult
	if err := json.Unmarshal(raw, &r); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("discarding corrupt geocode cache entry")
		metrics.RecordGeocodeCache("redis", false)
		return nil, false
	}
	metrics.RecordGeocodeCache("redis", true)
	c.local.Add(key, r)
	return &r, true
}

// Put stores r under the rounded coordinate. Redis failures are logged and
// otherwise ignored.
func (c *Cache) Put(ctx context.Context, lat, lon float64, r *models.GeocodeResult) {
	key := CacheKey(lat, lon)
	c.local.Add(key, *r)
	if c.redis == nil {
		return
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return
	}
	if err := c.redis.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		logging.Warn().Err(err).Str("key", key).Msg("geocode cache write failed")
	}
}
