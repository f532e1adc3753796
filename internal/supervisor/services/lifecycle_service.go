// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package services

import (
	"context"
	"fmt"
)

// StartStopper is a background loop with an explicit lifecycle, such as
// wal.RetryLoop and wal.Compactor. Stop must block until the loop exits.
type StartStopper interface {
	Start(ctx context.Context) error
	Stop()
}

// StartStopService adapts a StartStopper to suture.
type StartStopService struct {
	name string
	loop StartStopper
}

func NewStartStopService(name string, loop StartStopper) *StartStopService {
	return &StartStopService{name: name, loop: loop}
}

func (s *StartStopService) Serve(ctx context.Context) error {
	if err := s.loop.Start(ctx); err != nil {
		return fmt.Errorf("%s start failed: %w", s.name, err)
	}
	<-ctx.Done()
	s.loop.Stop()
	return ctx.Err()
}

func (s *StartStopService) String() string { return s.name }

// Runner blocks in Run until ctx ends, like eventprocessor.Router.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerService adapts a Runner to suture. A Run that returns nil before
// ctx ends is reported as an error so the supervisor restarts it.
type RunnerService struct {
	name   string
	runner Runner
}

func NewRunnerService(name string, runner Runner) *RunnerService {
	return &RunnerService{name: name, runner: runner}
}

func (s *RunnerService) Serve(ctx context.Context) error {
	err := s.runner.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil {
		return fmt.Errorf("%s stopped unexpectedly", s.name)
	}
	return fmt.Errorf("%s: %w", s.name, err)
}

func (s *RunnerService) String() string { return s.name }
