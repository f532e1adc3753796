// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package ingest buffers submitted points per user, hands full or aged
// batches to a sink and debounces pipeline triggers.
//
// Every flush (re)arms a per-user timer QuietWindow in the future. Only
// when no further batch arrives for that user before it fires is the
// trigger sent, so a burst of uploads causes a single pipeline run.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
	"github.com/tomtom215/geotimeline/internal/models"
	"github.com/tomtom215/geotimeline/internal/validation"
	"github.com/tomtom215/geotimeline/internal/wal"
)

var (
	ErrBatcherClosed = errors.New("batcher closed")
	ErrInvalidPoint  = errors.New("no valid points")
)

// BatchSink durably accepts a batch of points.
type BatchSink interface {
	StoreBatch(ctx context.Context, userID string, points []models.RawLocationPoint) error
}

// TriggerFunc asks for the user's pipeline to run.
type TriggerFunc func(ctx context.Context, userID string)

// Journal is the write-ahead log a batch passes through before the sink.
// *wal.BadgerWAL satisfies it.
type Journal interface {
	Write(ctx context.Context, event interface{}) (string, error)
	Confirm(ctx context.Context, entryID string) error
}

// Config tunes batching and debouncing.
type Config struct {
	BatchSize     int           `koanf:"batch_size"`
	QuietWindow   time.Duration `koanf:"quiet_window"`
	FlushInterval time.Duration `koanf:"flush_interval"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BatchSize:     100,
		QuietWindow:   5 * time.Second,
		FlushInterval: 10 * time.Second,
	}
}

// Batch is the journalled form of one flush.
type Batch struct {
	UserID string                    `json:"user_id"`
	Points []models.RawLocationPoint `json:"points"`
}

type buffer struct {
	points []models.RawLocationPoint
	since  time.Time
}

type pendingTrigger struct {
	timer  *time.Timer
	fireAt time.Time
}

// Batcher buffers points per user.
type Batcher struct {
	cfg     Config
	sink    BatchSink
	trigger TriggerFunc
	journal Journal
	log     *logging.PipelineLogger
	now     func() time.Time

	mu      sync.Mutex
	buffers map[string]*buffer
	// timers is only touched by schedule, cancel, fire and takeTimers.
	timers map[string]*pendingTrigger
	firing int
	closed bool
}

// NewBatcher creates a Batcher. journal may be nil.
func NewBatcher(cfg Config, sink BatchSink, trigger TriggerFunc, journal Journal) *Batcher {
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.QuietWindow <= 0 {
		cfg.QuietWindow = def.QuietWindow
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = def.FlushInterval
	}
	return &Batcher{
		cfg:     cfg,
		sink:    sink,
		trigger: trigger,
		journal: journal,
		log:     logging.NewPipelineLogger("ingest"),
		now:     time.Now,
		buffers: make(map[string]*buffer),
		timers:  make(map[string]*pendingTrigger),
	}
}

// Submit validates points and buffers the valid ones. Invalid points are
// dropped and counted; only a submission without any valid point fails,
// with ErrInvalidPoint. A buffer that reaches BatchSize is flushed before
// Submit returns.
func (b *Batcher) Submit(ctx context.Context, userID string, points []models.LocationPoint) (int, error) {
	if userID == "" {
		return 0, errors.New("user id is required")
	}

	accepted := make([]models.RawLocationPoint, 0, len(points))
	for i := range points {
		if verr := validation.ValidateStruct(&points[i]); verr != nil {
			metrics.RecordPointRejected(verr.First().Rule)
			b.log.PointRejected(ctx, userID, verr.Error())
			continue
		}
		accepted = append(accepted, points[i].ToRaw(userID))
	}
	if len(points) > 0 && len(accepted) == 0 {
		return 0, ErrInvalidPoint
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return 0, ErrBatcherClosed
	}
	buf, ok := b.buffers[userID]
	if !ok {
		buf = &buffer{since: b.now()}
		b.buffers[userID] = buf
	}
	buf.points = append(buf.points, accepted...)
	full := len(buf.points) >= b.cfg.BatchSize
	if len(buf.points) == 0 {
		delete(b.buffers, userID)
	}
	b.mu.Unlock()

	metrics.RecordPointsIngested(len(accepted))
	if full {
		if err := b.flush(ctx, userID, "size"); err != nil {
			return len(accepted), err
		}
	}
	return len(accepted), nil
}

// Flush hands the user's buffer to the sink.
func (b *Batcher) Flush(ctx context.Context, userID string) error {
	return b.flush(ctx, userID, "manual")
}

// FlushAll flushes every buffer.
func (b *Batcher) FlushAll(ctx context.Context) error {
	return b.flushWhere(ctx, "all", func(*buffer) bool { return true })
}

func (b *Batcher) flushAged(ctx context.Context) error {
	cutoff := b.now().Add(-b.cfg.FlushInterval)
	return b.flushWhere(ctx, "interval", func(buf *buffer) bool { return !buf.since.After(cutoff) })
}

func (b *Batcher) flushWhere(ctx context.Context, reason string, pred func(*buffer) bool) error {
	b.mu.Lock()
	var users []string
	for u, buf := range b.buffers {
		if pred(buf) {
			users = append(users, u)
		}
	}
	b.mu.Unlock()

	var errs []error
	for _, u := range users {
		if err := b.flush(ctx, u, reason); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", u, err))
		}
	}
	return errors.Join(errs...)
}

func (b *Batcher) flush(ctx context.Context, userID, reason string) error {
	b.mu.Lock()
	buf, ok := b.buffers[userID]
	if !ok || len(buf.points) == 0 {
		b.mu.Unlock()
		return nil
	}
	delete(b.buffers, userID)
	b.mu.Unlock()

	if err := b.deliver(ctx, userID, buf.points); err != nil {
		b.requeue(userID, buf)
		return err
	}

	metrics.RecordBatchFlush(reason, len(buf.points))
	b.log.BatchFlushed(ctx, userID, len(buf.points), reason)
	b.schedule(ctx, userID)
	return nil
}

// deliver journals the batch, stores it and confirms the journal entry. A
// batch that was journalled but not stored stays pending in the journal
// and is not requeued.
func (b *Batcher) deliver(ctx context.Context, userID string, points []models.RawLocationPoint) error {
	if b.journal == nil {
		return b.sink.StoreBatch(ctx, userID, points)
	}

	id, err := b.journal.Write(ctx, Batch{UserID: userID, Points: points})
	if err != nil {
		return fmt.Errorf("journal batch: %w", err)
	}
	if err := b.sink.StoreBatch(ctx, userID, points); err != nil {
		b.log.Logger(ctx).Warn().Err(err).Str("entry_id", id).Msg("batch left in WAL for retry")
		return nil
	}
	if err := b.journal.Confirm(ctx, id); err != nil {
		b.log.Logger(ctx).Warn().Err(err).Str("entry_id", id).Msg("WAL confirm failed, batch will be replayed")
	}
	return nil
}

func (b *Batcher) requeue(userID string, buf *buffer) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cur, ok := b.buffers[userID]; ok {
		buf.points = append(buf.points, cur.points...)
	}
	b.buffers[userID] = buf
}

// ReplayEntry stores a batch recovered from the WAL and schedules its
// trigger. It makes the Batcher a wal.Replayer.
func (b *Batcher) ReplayEntry(ctx context.Context, entry *wal.Entry) error {
	var batch Batch
	if err := entry.UnmarshalPayload(&batch); err != nil {
		return fmt.Errorf("decode batch %s: %w", entry.ID, err)
	}
	if err := b.sink.StoreBatch(ctx, batch.UserID, batch.Points); err != nil {
		return err
	}
	b.schedule(ctx, batch.UserID)
	return nil
}

// schedule arms the user's trigger QuietWindow from now, replacing any
// armed one.
func (b *Batcher) schedule(ctx context.Context, userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prev, replaced := b.timers[userID]
	if replaced {
		prev.timer.Stop()
	}
	pt := &pendingTrigger{fireAt: b.now().Add(b.cfg.QuietWindow)}
	pt.timer = time.AfterFunc(b.cfg.QuietWindow, func() { b.fire(userID, pt) })
	b.timers[userID] = pt

	metrics.RecordTrigger("scheduled", len(b.timers))
	b.log.TriggerScheduled(ctx, userID, pt.fireAt, replaced)
}

// cancel disarms the user's trigger and reports whether one was armed.
func (b *Batcher) cancel(userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	pt, ok := b.timers[userID]
	if !ok {
		return false
	}
	pt.timer.Stop()
	delete(b.timers, userID)
	metrics.RecordTrigger("cancelled", len(b.timers))
	return true
}

func (b *Batcher) fire(userID string, pt *pendingTrigger) {
	b.mu.Lock()
	if b.timers[userID] != pt {
		// Superseded by a later schedule or cancel.
		b.mu.Unlock()
		return
	}
	delete(b.timers, userID)
	b.firing++
	metrics.RecordTrigger("fired", len(b.timers))
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		b.firing--
		b.mu.Unlock()
	}()
	b.trigger(context.Background(), userID)
}

// TriggerNow flushes the user's buffer and fires the trigger immediately.
func (b *Batcher) TriggerNow(ctx context.Context, userID string) error {
	if err := b.flush(ctx, userID, "manual"); err != nil {
		return err
	}
	b.cancel(userID)
	b.mu.Lock()
	b.firing++
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.firing--
		b.mu.Unlock()
	}()
	b.trigger(ctx, userID)
	return nil
}

// fireAll disarms every timer and sends their triggers synchronously.
func (b *Batcher) fireAll(ctx context.Context) {
	b.mu.Lock()
	users := make([]string, 0, len(b.timers))
	for u, pt := range b.timers {
		pt.timer.Stop()
		users = append(users, u)
	}
	b.timers = make(map[string]*pendingTrigger)
	b.firing += len(users)
	b.mu.Unlock()

	for _, u := range users {
		b.trigger(ctx, u)
		b.mu.Lock()
		b.firing--
		b.mu.Unlock()
	}
}

// PendingTriggers returns the number of armed timers.
func (b *Batcher) PendingTriggers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.timers)
}

// Idle reports whether nothing is buffered, armed or firing.
func (b *Batcher) Idle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers) == 0 && len(b.timers) == 0 && b.firing == 0
}

// Close stops accepting points. Buffered points stay until flushed.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	b.mu.Unlock()
}

// Serve runs the interval flusher until ctx is done, then flushes every
// buffer and fires every armed trigger so nothing is lost at exit.
func (b *Batcher) Serve(ctx context.Context) error {
	ticker := time.NewTicker(b.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.Close()
			b.drain()
			return ctx.Err()
		case <-ticker.C:
			if err := b.flushAged(ctx); err != nil {
				logging.Warn().Err(err).Msg("interval flush failed")
			}
		}
	}
}

func (b *Batcher) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := b.FlushAll(ctx); err != nil {
		logging.Error().Err(err).Msg("final flush failed")
	}
	b.fireAll(ctx)
}

// String names the service for the supervisor.
func (b *Batcher) String() string { return "ingest-batcher" }
