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

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"

	"github.com/gravitational/datastream/lib/tabular"
)

// dataValidationConfig configures the DataValidation step.
type dataValidationConfig struct {
	// RequiredColumns must all be present in the table schema,
	// case-sensitively.
	RequiredColumns []string `mapstructure:"requiredColumns"`
	// ValidateEmail is reserved for a future content check; it is accepted
	// and currently has no effect. It never drops rows.
	ValidateEmail bool `mapstructure:"validateEmail"`
}

// dataValidationStep fails the chain when the schema does not carry the
// required columns. It never modifies the table.
type dataValidationStep struct {
	baseStep
	config dataValidationConfig
}

func newDataValidationStep(config map[string]any, environments []string) (Step, error) {
	var cfg dataValidationConfig
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, trace.BadParameter("invalid DataValidation config: %v", err)
	}
	return &dataValidationStep{
		baseStep: baseStep{name: "DataValidation", environments: environments},
		config:   cfg,
	}, nil
}

// Transform implements Step.
func (s *dataValidationStep) Transform(ctx context.Context, table *tabular.Table) (*tabular.Table, error) {
	for _, required := range s.config.RequiredColumns {
		if table.ColumnIndex(required) < 0 {
			return nil, trace.BadParameter("required column %q is missing from the extracted schema", required)
		}
	}
	return table, nil
}
