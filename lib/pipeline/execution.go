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

// Package pipeline implements the five stage ingestion chain executed for
// every dataset trigger: extract, transform, pack, generate control,
// publish.
package pipeline

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/datastream/lib/control"
	"github.com/gravitational/datastream/lib/tabular"
)

// State is the lifecycle state of an execution.
type State string

const (
	// StateExtracting through StatePublishing track the running stage.
	StateExtracting        State = "Extracting"
	StateTransforming      State = "Transforming"
	StatePacking           State = "Packing"
	StateGeneratingControl State = "GeneratingControl"
	StatePublishing        State = "Publishing"

	// StateSucceeded is the terminal state of a clean run.
	StateSucceeded State = "Succeeded"
	// StateFailed is the terminal state of a run with unrecovered errors.
	StateFailed State = "Failed"
	// StateAborted is the terminal state of a run cut short by a critical
	// error in an earlier stage.
	StateAborted State = "Aborted"
)

// Severity classifies a stage error.
type Severity string

const (
	// SeverityWarning is informational; the chain continues.
	SeverityWarning Severity = "Warning"
	// SeverityError fails the execution without poisoning the engine.
	SeverityError Severity = "Error"
	// SeverityCritical aborts every later stage.
	SeverityCritical Severity = "Critical"
)

// StageError records one unrecovered error of a stage.
type StageError struct {
	// Stage is the reporting stage name.
	Stage string
	// Message describes the failure.
	Message string
	// Cause is the underlying error, when one exists.
	Cause error
	// Time is when the error was recorded.
	Time time.Time
	// Severity classifies the failure.
	Severity Severity
}

// Input carries the resolved, typed inputs of one execution. It is
// assembled by the scheduler at fire time: connection template resolved,
// query text loaded, file name rendered.
type Input struct {
	// SourceKind selects the extraction driver.
	SourceKind string
	// ConnectionString is the fully resolved connection string.
	ConnectionString string
	// Query is the procedure name or SQL text to execute.
	Query string
	// Parameters are bound by name during extraction.
	Parameters map[string]any
	// CommandTimeout overrides the driver command timeout when non-zero.
	CommandTimeout time.Duration
	// FileName is the rendered artifact file name.
	FileName string
	// Compression selects the parquet codec.
	Compression string
	// RowGroupSize is the parquet row group hint.
	RowGroupSize int
	// DestinationProvider is the upload provider tag.
	DestinationProvider string
	// DestinationPath is the path or prefix within the provider.
	DestinationPath string
	// DestinationConfig is the provider specific configuration.
	DestinationConfig map[string]any
	// KeepLocalCopy writes both artifacts to LocalCopyPath as well.
	KeepLocalCopy bool
	// LocalCopyPath is the directory receiving local copies.
	LocalCopyPath string
}

// Execution is one concrete run of a dataset's pipeline. It is owned
// exclusively by the worker running it; stages only observe state written
// by strictly earlier stages.
type Execution struct {
	// ID is "{datasetId}.{yyyyMMddHHmmss}-{8-hex}", unique process-wide
	// and sortable within a dataset.
	ID string
	// DatasetID names the dataset that fired.
	DatasetID string
	// StartTime is the UTC fire time.
	StartTime time.Time
	// Input holds the resolved stage inputs.
	Input Input
	// Metadata is the untyped bag carried between stages for step
	// extensions; the built-in stages read from Input instead.
	Metadata map[string]any
	// State is the current lifecycle state.
	State State

	// ExtractedTable is set by the extract stage.
	ExtractedTable *tabular.Table
	// TransformedTable is set by the transform stage.
	TransformedTable *tabular.Table
	// PackedBytes is set by the pack stage.
	PackedBytes []byte
	// ControlRecord and ControlBytes are set by the control stage.
	ControlRecord *control.Record
	ControlBytes  []byte
	// ControlFileName is "{datasetName}.ctl".
	ControlFileName string
	// PublishedURI is set by the publish stage on success.
	PublishedURI string

	// Errors lists unrecovered stage errors in the order recorded.
	Errors []StageError

	// clock stamps error times; the engine sets it from its own clock.
	clock clockwork.Clock
}

// NewExecutionID renders an execution ID for datasetID fired at now. IDs of
// one dataset sort by fire time at second resolution; two executions fired
// within the same second are disambiguated by the random suffix but carry
// no relative order.
func NewExecutionID(datasetID string, now time.Time) string {
	return datasetID + "." + now.UTC().Format(control.CompactTimeFormat) + "-" + uuid.NewString()[:8]
}

// AddError appends a stage error stamped with the current time.
func (e *Execution) AddError(stage string, severity Severity, message string, cause error) {
	now := time.Now().UTC()
	if e.clock != nil {
		now = e.clock.Now().UTC()
	}
	e.Errors = append(e.Errors, StageError{
		Stage:    stage,
		Message:  message,
		Cause:    cause,
		Time:     now,
		Severity: severity,
	})
}

// HasCritical reports whether any recorded error is critical.
func (e *Execution) HasCritical() bool {
	for _, err := range e.Errors {
		if err.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// Terminal reports whether the execution reached a terminal state.
func (e *Execution) Terminal() bool {
	switch e.State {
	case StateSucceeded, StateFailed, StateAborted:
		return true
	}
	return false
}
