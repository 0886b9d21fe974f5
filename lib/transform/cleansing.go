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
	"strings"

	"github.com/gravitational/trace"
	"github.com/mitchellh/mapstructure"

	"github.com/gravitational/datastream/lib/tabular"
)

// dataCleansingConfig configures the DataCleansing step.
type dataCleansingConfig struct {
	// TrimWhitespace strips leading and trailing ASCII whitespace from
	// string cells.
	TrimWhitespace bool `mapstructure:"trimWhitespace"`
	// RemoveEmptyStrings nulls out string cells that are empty after
	// trimming.
	RemoveEmptyStrings bool `mapstructure:"removeEmptyStrings"`
}

// dataCleansingStep normalizes string columns; non-string columns are left
// untouched. Row count is preserved.
type dataCleansingStep struct {
	baseStep
	config dataCleansingConfig
}

func newDataCleansingStep(config map[string]any, environments []string) (Step, error) {
	cfg := dataCleansingConfig{TrimWhitespace: true}
	if err := mapstructure.Decode(config, &cfg); err != nil {
		return nil, trace.BadParameter("invalid DataCleansing config: %v", err)
	}
	return &dataCleansingStep{
		baseStep: baseStep{name: "DataCleansing", environments: environments},
		config:   cfg,
	}, nil
}

// Transform implements Step.
func (s *dataCleansingStep) Transform(ctx context.Context, table *tabular.Table) (*tabular.Table, error) {
	var stringColumns []int
	for i, col := range table.Columns {
		if col.Type == tabular.TypeString {
			stringColumns = append(stringColumns, i)
		}
	}
	if len(stringColumns) == 0 {
		return table, nil
	}

	for _, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return nil, trace.Wrap(err)
		}
		for _, i := range stringColumns {
			cell, ok := row[i].(string)
			if !ok {
				continue
			}
			if s.config.TrimWhitespace {
				cell = strings.Trim(cell, " \t\r\n\v\f")
			}
			if s.config.RemoveEmptyStrings && cell == "" {
				row[i] = nil
				continue
			}
			row[i] = cell
		}
	}
	return table, nil
}
