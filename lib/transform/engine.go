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

package transform

import (
	"context"
	"slices"
	"sort"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/datasets"
	"github.com/gravitational/datastream/lib/tabular"
)

// Engine builds and applies the step chain of a dataset.
type Engine struct {
	registry    *Registry
	environment string
}

// NewEngine creates an engine resolving steps against registry and gating
// them on the given environment tag.
func NewEngine(registry *Registry, environment string) (*Engine, error) {
	if registry == nil {
		return nil, trace.BadParameter("missing transformation registry")
	}
	return &Engine{registry: registry, environment: environment}, nil
}

// Build instantiates the enabled steps of the given specs in execution
// order. An unregistered step type fails the build, before the job runs.
func (e *Engine) Build(specs []datasets.TransformationSpec) ([]Step, error) {
	enabled := make([]datasets.TransformationSpec, 0, len(specs))
	for _, spec := range specs {
		if spec.Enabled {
			enabled = append(enabled, spec)
		}
	}
	// Stable sort keeps declaration order on equal Order values.
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Order < enabled[j].Order
	})

	steps := make([]Step, 0, len(enabled))
	for _, spec := range enabled {
		step, err := e.registry.New(spec.Type, spec.Config, spec.Environments)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

// Apply runs the steps over a deep copy of table, skipping those whose
// environment set excludes the current environment. Cancellation is
// checked between steps.
func (e *Engine) Apply(ctx context.Context, table *tabular.Table, steps []Step) (*tabular.Table, error) {
	current := table.Clone()
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return nil, trace.Wrap(err)
		}
		if envs := step.Environments(); len(envs) > 0 && !slices.Contains(envs, e.environment) {
			log.InfoContext(ctx, "Skipping transformation step, environment not targeted.",
				"step", step.Name(), "environment", e.environment, "targeted", envs)
			continue
		}
		out, err := step.Transform(ctx, current)
		if err != nil {
			return nil, trace.Wrap(err, "transformation step %q", step.Name())
		}
		current = out
	}
	return current, nil
}
