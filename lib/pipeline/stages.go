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

package pipeline

import (
	"bytes"
	"context"
	"os"
	"path/filepath"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/control"
	"github.com/gravitational/datastream/lib/extract"
	"github.com/gravitational/datastream/lib/pack"
	"github.com/gravitational/datastream/lib/transform"
	"github.com/gravitational/datastream/lib/upload"
)

// Stage names, stable identifiers appearing in error records and logs.
const (
	StageExtraction        = "Extraction"
	StageTransformation    = "Transformation"
	StagePacking           = "Packing"
	StageControlGeneration = "ControlGeneration"
	StagePublishing        = "Publishing"
)

// StageResult is returned by every stage execution.
type StageResult struct {
	// Success is true when the stage completed its work.
	Success bool
	// Message summarizes the outcome for logs.
	Message string
	// ShouldContinue gates invocation of the next stage.
	ShouldContinue bool
	// Metrics carries stage measurements for structured logging.
	Metrics map[string]any
}

// Stage is one link of the pipeline chain.
type Stage interface {
	// Name returns the stable stage name.
	Name() string
	// Execute runs the stage against the shared execution.
	Execute(ctx context.Context, e *Execution) StageResult
}

// extractStage calls the data source driver and stores the result.
type extractStage struct {
	newDriver func(kind string, cfg extract.Config) (extract.Driver, error)
	driverCfg extract.Config
}

func (s *extractStage) Name() string { return StageExtraction }

func (s *extractStage) Execute(ctx context.Context, e *Execution) StageResult {
	e.State = StateExtracting
	cfg := s.driverCfg
	cfg.Timeout = e.Input.CommandTimeout
	driver, err := s.newDriver(e.Input.SourceKind, cfg)
	if err != nil {
		e.AddError(StageExtraction, SeverityCritical, "creating driver", err)
		return StageResult{Message: err.Error()}
	}
	table, err := driver.Extract(ctx, e.Input.ConnectionString, e.Input.Query, e.Input.Parameters)
	if err != nil {
		e.AddError(StageExtraction, SeverityCritical, "extraction failed", err)
		return StageResult{Message: err.Error()}
	}
	e.ExtractedTable = table
	return StageResult{
		Success:        true,
		ShouldContinue: true,
		Metrics: map[string]any{
			"rows":    table.NumRows(),
			"columns": table.NumColumns(),
		},
	}
}

// transformStage applies the configured step chain.
type transformStage struct {
	engine *transform.Engine
	steps  []transform.Step
}

func (s *transformStage) Name() string { return StageTransformation }

func (s *transformStage) Execute(ctx context.Context, e *Execution) StageResult {
	e.State = StateTransforming
	if e.ExtractedTable == nil || e.ExtractedTable.IsEmpty() {
		log.WarnContext(ctx, "Extraction returned no rows, skipping transformations.",
			"dataset", e.DatasetID, "execution", e.ID)
		if e.ExtractedTable != nil {
			e.TransformedTable = e.ExtractedTable.Clone()
		}
		return StageResult{Success: true, ShouldContinue: true, Message: "empty extraction", Metrics: map[string]any{"rows": 0, "steps": 0}}
	}
	table, err := s.engine.Apply(ctx, e.ExtractedTable, s.steps)
	if err != nil {
		e.AddError(StageTransformation, SeverityCritical, "transformation failed", err)
		return StageResult{Message: err.Error()}
	}
	e.TransformedTable = table
	return StageResult{
		Success:        true,
		ShouldContinue: true,
		Metrics: map[string]any{
			"rows":  table.NumRows(),
			"steps": len(s.steps),
		},
	}
}

// packStage serializes the table to parquet bytes.
type packStage struct{}

func (s *packStage) Name() string { return StagePacking }

func (s *packStage) Execute(ctx context.Context, e *Execution) StageResult {
	e.State = StatePacking
	table := e.TransformedTable
	if table == nil {
		table = e.ExtractedTable
	}
	if table == nil {
		e.AddError(StagePacking, SeverityCritical, "no extracted table to pack", nil)
		return StageResult{Message: "no extracted table to pack"}
	}
	writer, err := pack.NewWriter(pack.Config{
		Compression:  e.Input.Compression,
		RowGroupSize: e.Input.RowGroupSize,
	})
	if err != nil {
		e.AddError(StagePacking, SeverityCritical, "configuring writer", err)
		return StageResult{Message: err.Error()}
	}
	var buf bytes.Buffer
	if err := writer.Write(ctx, table, &buf); err != nil {
		e.AddError(StagePacking, SeverityCritical, "packing failed", err)
		return StageResult{Message: err.Error()}
	}
	e.PackedBytes = buf.Bytes()
	return StageResult{
		Success:        true,
		ShouldContinue: true,
		Metrics: map[string]any{
			"rows":  table.NumRows(),
			"bytes": len(e.PackedBytes),
		},
	}
}

// controlStage computes the checksum and builds the control record.
type controlStage struct{}

func (s *controlStage) Name() string { return StageControlGeneration }

func (s *controlStage) Execute(ctx context.Context, e *Execution) StageResult {
	e.State = StateGeneratingControl
	rows := 0
	if e.TransformedTable != nil {
		rows = e.TransformedTable.NumRows()
	} else if e.ExtractedTable != nil {
		rows = e.ExtractedTable.NumRows()
	}
	record := control.NewRecord(e.DatasetID, e.Input.SourceKind, rows, e.PackedBytes, e.StartTime, e.StartTime)
	data, err := control.Write(record)
	if err != nil {
		e.AddError(StageControlGeneration, SeverityCritical, "writing control record", err)
		return StageResult{Message: err.Error()}
	}
	e.ControlRecord = &record
	e.ControlBytes = data
	e.ControlFileName = record.FileName()
	return StageResult{
		Success:        true,
		ShouldContinue: true,
		Metrics: map[string]any{
			"checksum": record.Checksum,
			"bytes":    len(data),
		},
	}
}

// publishStage delivers both artifacts through one provider instance,
// artifact first, control record second.
type publishStage struct {
	newProvider func(ctx context.Context, tag string, config map[string]any) (upload.Provider, error)
}

func (s *publishStage) Name() string { return StagePublishing }

func (s *publishStage) Execute(ctx context.Context, e *Execution) StageResult {
	e.State = StatePublishing
	provider, err := s.newProvider(ctx, e.Input.DestinationProvider, e.Input.DestinationConfig)
	if err != nil {
		e.AddError(StagePublishing, SeverityError, "creating upload provider", err)
		return StageResult{Message: err.Error()}
	}

	result, err := provider.Upload(ctx, e.Input.DestinationPath, e.Input.FileName, e.PackedBytes)
	if err != nil {
		e.AddError(StagePublishing, SeverityError, "uploading artifact", err)
		return StageResult{Message: err.Error()}
	}
	if _, err := provider.Upload(ctx, e.Input.DestinationPath, e.ControlFileName, e.ControlBytes); err != nil {
		e.AddError(StagePublishing, SeverityError, "uploading control record", err)
		return StageResult{Message: err.Error()}
	}
	e.PublishedURI = result.Path

	if e.Input.KeepLocalCopy {
		// Local copy problems never fail the execution.
		if err := s.writeLocalCopies(e); err != nil {
			log.ErrorContext(ctx, "Failed to write local copies.",
				"dataset", e.DatasetID, "execution", e.ID, "path", e.Input.LocalCopyPath, "error", err)
		}
	}

	return StageResult{
		Success:        true,
		ShouldContinue: true,
		Metrics: map[string]any{
			"uri":   result.Path,
			"bytes": result.BytesWritten + len(e.ControlBytes),
		},
	}
}

func (s *publishStage) writeLocalCopies(e *Execution) error {
	if err := os.MkdirAll(e.Input.LocalCopyPath, 0o755); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.WriteFile(filepath.Join(e.Input.LocalCopyPath, e.Input.FileName), e.PackedBytes, 0o644); err != nil {
		return trace.ConvertSystemError(err)
	}
	if err := os.WriteFile(filepath.Join(e.Input.LocalCopyPath, e.ControlFileName), e.ControlBytes, 0o644); err != nil {
		return trace.ConvertSystemError(err)
	}
	return nil
}
