// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package wal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/geotimeline/internal/logging"
)

// Compactor periodically purges confirmed entries older than the
// retention and runs value log GC.
type Compactor struct {
	wal    *BadgerWAL
	config Config
	now    func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewCompactor(w *BadgerWAL) *Compactor {
	return &Compactor{wal: w, config: w.GetConfig(), now: time.Now}
}

func (c *Compactor) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.run(loopCtx)
	logging.Info().Dur("interval", c.config.CompactInterval).Msg("WAL compactor started")
	return nil
}

func (c *Compactor) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.cancel()
	c.running = false
	c.mu.Unlock()

	c.wg.Wait()
	logging.Info().Msg("WAL compactor stopped")
}

func (c *Compactor) IsRunning() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

func (c *Compactor) run(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.CompactInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Compact(ctx); err != nil {
				logging.Error().Err(err).Msg("WAL compaction failed")
			}
		}
	}
}

// Compact deletes confirmed entries whose confirmation is older than the
// retention and returns how many were removed.
func (c *Compactor) Compact(ctx context.Context) (int, error) {
	if err := c.wal.checkOpen(); err != nil {
		return 0, err
	}
	cutoff := c.now().Add(-c.config.Retention)

	var stale [][]byte
	err := c.wal.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(prefixConfirmed)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			var entry Entry
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			}); err != nil {
				stale = append(stale, it.Item().KeyCopy(nil))
				continue
			}
			if entry.ConfirmedAt == nil || entry.ConfirmedAt.Before(cutoff) {
				stale = append(stale, it.Item().KeyCopy(nil))
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scan confirmed entries: %w", err)
	}

	wb := c.wal.db.NewWriteBatch()
	defer wb.Cancel()
	for _, k := range stale {
		if err := wb.Delete(k); err != nil {
			return 0, fmt.Errorf("delete confirmed entry: %w", err)
		}
	}
	if err := wb.Flush(); err != nil {
		return 0, fmt.Errorf("flush compaction: %w", err)
	}

	if err := c.wal.RunGC(); err != nil {
		logging.Warn().Err(err).Msg("WAL value log GC failed")
	}

	c.wal.mu.Lock()
	c.wal.lastCompaction = c.now()
	c.wal.mu.Unlock()

	if len(stale) > 0 {
		logging.Info().Int("deleted", len(stale)).Msg("WAL compaction complete")
	}
	return len(stale), nil
}
