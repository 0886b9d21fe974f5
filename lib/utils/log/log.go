/*
 * Datastream
 * Copyright (C) 2025  Gravitational, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package log provides helpers for configuring the process-wide slog
// logger and for creating per-package loggers carrying a component
// attribute.
package log

import (
	"io"
	"log/slog"
	"os"

	"github.com/gravitational/datastream"
)

// NewPackageLogger creates a logger carrying the given attributes, meant to
// be assigned to a package level variable.
func NewPackageLogger(args ...any) *slog.Logger {
	return slog.With(args...)
}

// Initialize sets the process-wide default logger writing structured lines
// to stderr at the given level.
func Initialize(level slog.Level) {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})))
}

// InitLoggerForTests configures the default logger for tests. Output is
// discarded unless the debug environment variable is set.
func InitLoggerForTests() {
	w := io.Discard
	level := slog.LevelInfo
	if os.Getenv(datastream.DebugEnvVar) != "" {
		w = os.Stderr
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: level,
	})))
}
