// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package logging builds the leveled key/value loggers used across
// papergraph.
package logging

import (
	"io"

	"github.com/charmbracelet/log"
)

// New returns a logger writing to w with timestamps. Debug output is
// enabled when debug is true.
func New(w io.Writer, debug bool) *log.Logger {
	level := log.InfoLevel
	if debug {
		level = log.DebugLevel
	}
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		Level:           level,
	})
}

// Discard returns a logger that drops everything. Components fall back to
// it when constructed without a logger.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{Level: log.FatalLevel})
}

// OrDiscard returns l, or a discarding logger when l is nil.
func OrDiscard(l *log.Logger) *log.Logger {
	if l == nil {
		return Discard()
	}
	return l
}
