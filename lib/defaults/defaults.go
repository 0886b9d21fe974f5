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

// Package defaults contains default constants set in various parts of the
// datastream codebase.
package defaults

import "time"

const (
	// SecretRequestTimeout is the HTTP timeout for a single secret store
	// request.
	SecretRequestTimeout = 30 * time.Second

	// SecretCacheTTL is the absolute TTL of a cached secret value. The first
	// request after expiry re-fetches from the store.
	SecretCacheTTL = 5 * time.Minute

	// ExtractTimeout is the command timeout applied to cursor style
	// extractions when the dataset does not override it.
	ExtractTimeout = 600 * time.Second

	// StatementTimeout is the command timeout applied to plain statement
	// extractions when the dataset does not override it.
	StatementTimeout = 300 * time.Second

	// ShutdownGracePeriod is how long the service waits for in-flight
	// executions to finish before force-exiting.
	ShutdownGracePeriod = 30 * time.Second

	// DatasetRescanInterval is how often the scheduler rescans the dataset
	// directory when hot reload is enabled.
	DatasetRescanInterval = 30 * time.Second

	// QueryFileCacheTTL bounds how long SQL text loaded from disk is reused
	// before being re-read.
	QueryFileCacheTTL = 5 * time.Minute

	// RowGroupSize is the parquet row group size hint applied when the
	// dataset output section does not provide one.
	RowGroupSize = 128 * 1024

	// ControlFileSuffix is the extension of the control record sidecar.
	ControlFileSuffix = ".ctl"
)

// DatasetFilePattern is the glob matched against files in the dataset
// directory; files not matching it are ignored.
const DatasetFilePattern = "dataset-*.json"
