// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

//go:build integration

package geocoding

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/testinfra"
)

// Two replicas share results through Redis; the second never asks a provider.
func TestCacheSharedThroughRedis_Integration(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	testinfra.SkipIfNoDocker(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	rc, err := testinfra.NewRedisContainer(ctx, testinfra.WithRedisStartTimeout(90*time.Second))
	if err != nil {
		t.Fatalf("Failed to create Redis container: %v", err)
	}
	defer testinfra.CleanupContainer(t, ctx, rc.Container)

	client := rc.Client()
	defer client.Close()

	first := NewCache(client, 10, time.Hour)
	second := NewCache(client, 10, time.Hour)

	if _, ok := second.Get(ctx, 53.8631, 10.6993); ok {
		t.Fatal("empty cache reported a hit")
	}

	first.Put(ctx, 53.8631, 10.6993, &models.GeocodeResult{Provider: NominatimName, Name: "Harbour", City: "Lübeck"})

	got, ok := second.Get(ctx, 53.86312, 10.69932)
	if !ok {
		t.Fatal("second replica missed a result stored by the first")
	}
	if got.Name != "Harbour" || got.City != "Lübeck" || got.Provider != NominatimName {
		t.Errorf("Get() = %+v", got)
	}

	ttl, err := client.TTL(ctx, CacheKey(53.8631, 10.6993)).Result()
	if err != nil {
		t.Fatal(err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want within (0, 1h]", ttl)
	}
}
