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
	"context"
	"fmt"
	"log/slog"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/extract"
	"github.com/gravitational/datastream/lib/transform"
	"github.com/gravitational/datastream/lib/upload"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentPipeline)

// Config assembles one pipeline run.
type Config struct {
	// DatasetID names the dataset being executed.
	DatasetID string
	// Input carries the resolved stage inputs.
	Input Input
	// TransformEngine applies the step chain.
	TransformEngine *transform.Engine
	// TransformSteps is the ordered step chain of the dataset.
	TransformSteps []transform.Step
	// Clock drives timestamps, a real clock if unset.
	Clock clockwork.Clock
	// Logger emits log messages.
	Logger *slog.Logger
	// Metrics records execution and stage measurements, optional.
	Metrics *Metrics

	// NewDriver creates extraction drivers, extract.NewDriver if unset.
	// Tests inject fakes here.
	NewDriver func(kind string, cfg extract.Config) (extract.Driver, error)
	// NewProvider creates upload providers, upload.NewProvider if unset.
	NewProvider func(ctx context.Context, tag string, config map[string]any) (upload.Provider, error)
	// DriverConfig carries shared driver settings such as the open hook.
	DriverConfig extract.Config
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DatasetID == "" {
		return trace.BadParameter("missing dataset id")
	}
	if c.TransformEngine == nil {
		return trace.BadParameter("missing transform engine")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = log
	}
	if c.NewDriver == nil {
		c.NewDriver = extract.NewDriver
	}
	if c.NewProvider == nil {
		c.NewProvider = upload.NewProvider
	}
	return nil
}

// Pipeline executes the five stage chain over a fresh execution. Stages
// run sequentially in one worker; a critical error in stage N prevents
// stages N+1..5 from running and leaves their outputs unset.
type Pipeline struct {
	cfg    Config
	stages []Stage
}

// New creates a pipeline for one dataset trigger.
func New(cfg Config) (*Pipeline, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Pipeline{
		cfg: cfg,
		stages: []Stage{
			&extractStage{newDriver: cfg.NewDriver, driverCfg: cfg.DriverConfig},
			&transformStage{engine: cfg.TransformEngine, steps: cfg.TransformSteps},
			&packStage{},
			&controlStage{},
			&publishStage{newProvider: cfg.NewProvider},
		},
	}, nil
}

// Run executes the chain and returns the terminal execution. It never
// panics: uncaught stage failures are recorded as critical errors.
func (p *Pipeline) Run(ctx context.Context) *Execution {
	start := p.cfg.Clock.Now().UTC()
	e := &Execution{
		ID:        NewExecutionID(p.cfg.DatasetID, start),
		DatasetID: p.cfg.DatasetID,
		StartTime: start,
		Input:     p.cfg.Input,
		Metadata:  make(map[string]any),
		clock:     p.cfg.Clock,
	}

	for _, stage := range p.stages {
		if e.HasCritical() {
			e.State = StateAborted
			break
		}
		if err := ctx.Err(); err != nil {
			e.AddError(stage.Name(), SeverityCritical, "execution cancelled", err)
			e.State = StateAborted
			break
		}

		result := p.runStage(ctx, stage, e)
		if p.cfg.Metrics != nil {
			p.cfg.Metrics.observeStage(stage.Name(), result)
		}
		if !result.ShouldContinue {
			break
		}
	}

	p.finalize(ctx, e)
	return e
}

// runStage executes one stage behind a panic boundary.
func (p *Pipeline) runStage(ctx context.Context, stage Stage, e *Execution) (result StageResult) {
	started := p.cfg.Clock.Now()
	defer func() {
		if r := recover(); r != nil {
			err := trace.BadParameter("stage panic: %v", r)
			e.AddError(stage.Name(), SeverityCritical, fmt.Sprintf("uncaught failure in stage %s", stage.Name()), err)
			result = StageResult{Message: err.Error()}
		}
	}()

	result = stage.Execute(ctx, e)
	if result.Metrics == nil {
		result.Metrics = make(map[string]any)
	}
	result.Metrics["elapsed_ms"] = p.cfg.Clock.Since(started).Milliseconds()

	p.cfg.Logger.DebugContext(ctx, "Stage finished.",
		"dataset", e.DatasetID,
		"execution", e.ID,
		"stage", stage.Name(),
		"success", result.Success,
		"metrics", result.Metrics,
	)
	return result
}

// finalize settles the terminal state and emits the single structured
// completion line every execution produces.
func (p *Pipeline) finalize(ctx context.Context, e *Execution) {
	if !e.Terminal() {
		switch {
		case len(e.Errors) == 0:
			e.State = StateSucceeded
		default:
			e.State = StateFailed
		}
	}
	duration := p.cfg.Clock.Now().UTC().Sub(e.StartTime)
	attrs := []any{
		"dataset", e.DatasetID,
		"execution", e.ID,
		"outcome", string(e.State),
		"duration_s", duration.Seconds(),
		"errors", len(e.Errors),
	}
	if e.State == StateSucceeded {
		attrs = append(attrs, "published_uri", e.PublishedURI)
		p.cfg.Logger.InfoContext(ctx, "Execution finished.", attrs...)
	} else {
		p.cfg.Logger.ErrorContext(ctx, "Execution finished.", attrs...)
	}
	if p.cfg.Metrics != nil {
		p.cfg.Metrics.observeExecution(string(e.State), duration)
	}
}
