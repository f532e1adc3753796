// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

// Package models defines the timeline entities shared by the pipeline
// stages, the store implementations and the HTTP API.
package models

// Versioned is implemented by every persisted entity. Writers hand back the
// version they read; the store rejects the write when it has moved on.
type Versioned interface {
	GetVersion() int64
	SetVersion(v int64)
}

// Meta is embedded by entities to satisfy Versioned.
type Meta struct {
	Version int64 `json:"version"`
}

func (m *Meta) GetVersion() int64  { return m.Version }
func (m *Meta) SetVersion(v int64) { m.Version = v }

// CheckVersion returns true when incoming was derived from current.
func CheckVersion[T Versioned](current, incoming T) bool {
	return current.GetVersion() == incoming.GetVersion()
}

// Bump advances v to the next version and returns it.
func Bump[T Versioned](v T) T {
	v.SetVersion(v.GetVersion() + 1)
	return v
}
