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

// Package transform implements the transformation step registry and the
// engine applying configured steps to an extracted table.
package transform

import (
	"context"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/tabular"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentTransform)

// Step transforms a table. Steps must return a table with the same row
// count unless their documented behavior states otherwise.
type Step interface {
	// Name returns the step display name.
	Name() string
	// Environments returns the environment tags the step is restricted
	// to, empty meaning all.
	Environments() []string
	// Transform applies the step. The input table is owned by the step
	// chain and may be mutated freely.
	Transform(ctx context.Context, table *tabular.Table) (*tabular.Table, error)
}

// Factory instantiates a step from its spec level configuration and
// environment set.
type Factory func(config map[string]any, environments []string) (Step, error)

// Registry maps registered step names to factories. It is seeded once at
// startup and immutable afterwards, so reads take no lock.
type Registry struct {
	factories map[string]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a step type under its registration name: the declared type
// name minus the trailing "Step" token. The first registration of a name
// wins; duplicates are logged and skipped.
func (r *Registry) Register(typeName string, factory Factory) {
	name := strings.TrimSuffix(typeName, "Step")
	if _, ok := r.factories[name]; ok {
		log.Warn("Duplicate transformation step registration, keeping the first.", "name", name)
		return
	}
	r.factories[name] = factory
}

// New instantiates the named step. Unregistered names fail hard so a bad
// dataset spec is rejected before its job runs.
func (r *Registry) New(name string, config map[string]any, environments []string) (Step, error) {
	factory, ok := r.factories[name]
	if !ok {
		return nil, trace.NotFound("transformation step %q is not registered", name)
	}
	step, err := factory(config, environments)
	return step, trace.Wrap(err)
}

// Names returns the registered step names.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	return names
}

// RegisterBuiltins seeds the registry with the step types shipped with the
// service. Third party steps are added by linking modules that call
// Register at startup.
func RegisterBuiltins(r *Registry) {
	r.Register("DataCleansingStep", newDataCleansingStep)
	r.Register("DataValidationStep", newDataValidationStep)
}

// baseStep carries the identity shared by the built-in steps.
type baseStep struct {
	name         string
	environments []string
}

func (s *baseStep) Name() string           { return s.name }
func (s *baseStep) Environments() []string { return s.environments }
