// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package wal

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
)

const maxBackoff = 5 * time.Minute

// Replayer re-applies a pending entry. A nil error confirms the entry.
type Replayer interface {
	ReplayEntry(ctx context.Context, entry *Entry) error
}

// ReplayFunc adapts a function to Replayer.
type ReplayFunc func(ctx context.Context, entry *Entry) error

func (f ReplayFunc) ReplayEntry(ctx context.Context, entry *Entry) error { return f(ctx, entry) }

// ReplayResult counts the outcomes of one pass over the pending entries.
type ReplayResult struct {
	Succeeded int
	Failed    int
	Dropped   int
	Skipped   int
}

// RetryLoop periodically replays pending entries with exponential backoff.
type RetryLoop struct {
	wal      *BadgerWAL
	replayer Replayer
	config   Config
	now      func() time.Time

	passMu sync.Mutex

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewRetryLoop creates a retry loop over w.
func NewRetryLoop(w *BadgerWAL, replayer Replayer) *RetryLoop {
	return &RetryLoop{wal: w, replayer: replayer, config: w.GetConfig(), now: time.Now}
}

// Start runs the loop in the background until Stop or ctx is done.
func (r *RetryLoop) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return nil
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.running = true
	go r.run(loopCtx, r.done)

	logging.Info().
		Dur("interval", r.config.RetryInterval).
		Int("max_retries", r.config.MaxRetries).
		Msg("WAL retry loop started")
	return nil
}

// Stop cancels the loop and waits for the current pass to finish.
func (r *RetryLoop) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.cancel()
	done := r.done
	r.running = false
	r.mu.Unlock()

	<-done
	logging.Info().Msg("WAL retry loop stopped")
}

// IsRunning reports whether the loop is active.
func (r *RetryLoop) IsRunning() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

func (r *RetryLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.config.RetryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.RetryPending(ctx)
		}
	}
}

// RetryPending makes one pass over the pending entries. Entries inside
// their backoff are skipped; expired or exhausted entries are dropped.
// It is also used for startup recovery.
func (r *RetryLoop) RetryPending(ctx context.Context) ReplayResult {
	r.passMu.Lock()
	defer r.passMu.Unlock()

	var res ReplayResult
	entries, err := r.wal.GetPending(ctx)
	if err != nil {
		logging.Error().Err(err).Msg("WAL retry: failed to get pending entries")
		return res
	}

	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}
		switch {
		case r.config.EntryTTL > 0 && r.now().Sub(entry.CreatedAt) > r.config.EntryTTL:
			r.drop(ctx, entry, "expired")
			res.Dropped++
		case entry.Attempts >= r.config.MaxRetries:
			r.drop(ctx, entry, "max retries exceeded")
			res.Dropped++
		case !r.ready(entry):
			res.Skipped++
		default:
			if r.attempt(ctx, entry) {
				res.Succeeded++
			} else {
				res.Failed++
			}
		}
	}

	if res.Succeeded > 0 || res.Failed > 0 || res.Dropped > 0 {
		logging.Info().
			Int("succeeded", res.Succeeded).
			Int("failed", res.Failed).
			Int("dropped", res.Dropped).
			Msg("WAL retry complete")
	}
	return res
}

func (r *RetryLoop) attempt(ctx context.Context, entry *Entry) bool {
	err := r.replayer.ReplayEntry(ctx, entry)
	metrics.RecordWALReplay(err == nil)
	if err != nil {
		logging.Warn().Err(err).Str("entry_id", entry.ID).Int("attempt", entry.Attempts+1).Msg("WAL retry: replay failed")
		if uerr := r.wal.UpdateAttempt(ctx, entry.ID, err.Error()); uerr != nil {
			logging.Error().Err(uerr).Str("entry_id", entry.ID).Msg("WAL retry: failed to update attempt")
		}
		return false
	}
	if err := r.wal.Confirm(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to confirm entry")
		return false
	}
	return true
}

func (r *RetryLoop) drop(ctx context.Context, entry *Entry, reason string) {
	logging.Warn().
		Str("entry_id", entry.ID).
		Int("attempts", entry.Attempts).
		Str("reason", reason).
		Msg("WAL retry: dropping entry")
	if err := r.wal.DeleteEntry(ctx, entry.ID); err != nil {
		logging.Error().Err(err).Str("entry_id", entry.ID).Msg("WAL retry: failed to delete entry")
	}
}

func (r *RetryLoop) ready(entry *Entry) bool {
	if entry.LastAttemptAt.IsZero() {
		return true
	}
	return r.now().Sub(entry.LastAttemptAt) >= r.backoff(entry.Attempts)
}

// backoff is RetryBackoff * 2^attempts, capped at five minutes.
func (r *RetryLoop) backoff(attempts int) time.Duration {
	if attempts > 50 {
		return maxBackoff
	}
	d := time.Duration(float64(r.config.RetryBackoff) * math.Pow(2, float64(attempts)))
	if d < 0 || d > maxBackoff {
		return maxBackoff
	}
	return d
}
