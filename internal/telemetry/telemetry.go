/*
Copyright (C) 2026  Carl-Philip Hänsch

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU General Public License as published by
	the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU General Public License for more details.

	You should have received a copy of the GNU General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

// Package telemetry is the engine's ambient logging surface. The teacher
// has no structured logging framework — it calls fmt.Println for notices
// (storage/blob-refcount.go) and the stdlib log package directly in its
// server entrypoints (server-node-golang/scm.go, go-impl/scm.go). We keep
// that shape: a thin Logger interface defaulting to log.Default(), plus a
// goroutine-local trace id so concurrent Processors (spec §5: one write and
// one read can run side by side) don't interleave each other's log lines
// without attribution.
package telemetry

import (
	"fmt"
	"log"

	"github.com/jtolds/gls"
)

// Logger is the minimal surface the rest of the engine logs warnings
// through. Operational notices that must not fail an operation (spec §7:
// partial writes, fallback paths, fadvise failures) always go through here,
// never silently swallowed.
type Logger interface {
	Warnf(format string, args ...interface{})
	Infof(format string, args ...interface{})
}

type stdLogger struct{}

func (stdLogger) Warnf(format string, args ...interface{}) {
	log.Printf("[warn] "+prefix()+format, args...)
}

func (stdLogger) Infof(format string, args ...interface{}) {
	log.Printf("[info] "+prefix()+format, args...)
}

var defaultLogger Logger = stdLogger{}

// Default returns the process-wide Logger. Tests and callers that want a
// different sink can replace it with SetDefault.
func Default() Logger { return defaultLogger }

// SetDefault overrides the process-wide Logger, e.g. to quiet output in
// tests or to point it at a structured sink.
func SetDefault(l Logger) { defaultLogger = l }

var mgr = gls.NewContextManager()

// WithTraceID binds id to the current goroutine (and anything it spawns via
// gls.Go) for the duration of fn, the same goroutine-local-storage role the
// teacher would reach for jtolds/gls for if it needed to correlate log
// lines across a request's goroutine tree.
func WithTraceID(id string, fn func()) {
	mgr.SetValues(gls.Values{"trace_id": id}, fn)
}

// TraceID returns the current goroutine's bound trace id, or "" if none was
// set via WithTraceID.
func TraceID() string {
	if v, ok := mgr.GetValue("trace_id"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func prefix() string {
	if id := TraceID(); id != "" {
		return fmt.Sprintf("[%s] ", id)
	}
	return ""
}
