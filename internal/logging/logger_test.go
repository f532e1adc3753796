// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package logging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	if cfg.Level != "info" {
		t.Errorf("Level = %q, want info", cfg.Level)
	}
	if cfg.Format != "json" {
		t.Errorf("Format = %q, want json", cfg.Format)
	}
	if !cfg.Timestamp {
		t.Error("expected timestamps on by default")
	}
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"trace", zerolog.TraceLevel},
		{"DEBUG", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{" error ", zerolog.ErrorLevel},
		{"off", zerolog.Disabled},
		{"bogus", zerolog.InfoLevel},
	}
	for _, tt := range tests {
		if got := parseLevel(tt.in); got != tt.want {
			t.Errorf("parseLevel(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestValidLevel(t *testing.T) {
	t.Parallel()

	if !ValidLevel("warn") || ValidLevel("loud") {
		t.Error("ValidLevel misclassified input")
	}
}

// Init mutates package state so these tests do not run in parallel.
func TestInitWritesJSON(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Format: "json", Output: &buf})
	defer Init(DefaultConfig())

	Info().Str("user_id", "u1").Msg("hello")

	out := buf.String()
	if !strings.Contains(out, `"message":"hello"`) || !strings.Contains(out, `"user_id":"u1"`) {
		t.Errorf("unexpected output: %s", out)
	}
}

func TestCtxAddsContextFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: "debug", Output: &buf})
	defer Init(DefaultConfig())

	ctx := ContextWithCorrelationID(context.Background(), "abc12345")
	ctx = ContextWithRequestID(ctx, "req-1")
	ctx = ContextWithUserID(ctx, "alice")
	Ctx(ctx).Info().Msg("ctx")

	out := buf.String()
	for _, want := range []string{`"correlation_id":"abc12345"`, `"request_id":"req-1"`, `"user_id":"alice"`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestCtxPrefersStoredLogger(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	ctx := ContextWithLogger(context.Background(), NewTestLogger(&buf))
	Ctx(ctx).Warn().Msg("stored")

	if !strings.Contains(buf.String(), "stored") {
		t.Errorf("stored logger not used: %q", buf.String())
	}
}

func TestNewCorrelationIDLength(t *testing.T) {
	t.Parallel()

	if id := NewCorrelationID(); len(id) != 8 {
		t.Errorf("len(NewCorrelationID()) = %d, want 8", len(id))
	}
}

func TestSlogHandlerWritesIntoZerolog(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	h := &SlogHandler{logger: NewTestLogger(&buf)}
	l := slog.New(h).With("service", "batcher").WithGroup("suture")
	l.Info("service restarted", "attempt", 3)

	out := buf.String()
	for _, want := range []string{`"service restarted"`, `"service":"batcher"`, `"suture.attempt":3`} {
		if !strings.Contains(out, want) {
			t.Errorf("output %s missing %s", out, want)
		}
	}
}

func TestPipelineLoggerVersionConflictLevel(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	p := NewPipelineLoggerWith(NewTestLogger(&buf))
	p.VersionConflict(context.Background(), "place", "p1", false)

	if !strings.Contains(buf.String(), `"level":"warn"`) {
		t.Errorf("final conflict should be a warning: %s", buf.String())
	}
}

func TestPipelineLoggerWritesUserIDOnce(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		ctx  context.Context
	}{
		{"from context", ContextWithUserID(context.Background(), "alice")},
		{"from argument", context.Background()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			var buf bytes.Buffer
			p := NewPipelineLoggerWith(NewTestLogger(&buf))
			p.RunFailed(tt.ctx, "alice", errors.New("boom"))

			out := buf.String()
			if n := strings.Count(out, `"user_id"`); n != 1 {
				t.Errorf("user_id written %d times: %s", n, out)
			}
			if !strings.Contains(out, `"user_id":"alice"`) {
				t.Errorf("output %s missing user_id", out)
			}
		})
	}
}
