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

package service

import (
	"context"
	"path/filepath"
	"sort"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/config"
	"github.com/gravitational/datastream/lib/datasets"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/scheduler"
)

// Validate loads the host configuration and every dataset definition
// strictly, unlike the running service which skips broken files. It
// returns an aggregate of every problem found.
func Validate(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return trace.Wrap(err, "host configuration is invalid")
	}

	files, err := filepath.Glob(filepath.Join(cfg.DatasetsDir, defaults.DatasetFilePattern))
	if err != nil {
		return trace.Wrap(err)
	}
	sort.Strings(files)

	var errors []error
	seen := make(map[string]string)
	for _, file := range files {
		spec, err := datasets.LoadFile(file)
		if err != nil {
			errors = append(errors, trace.Wrap(err, "dataset file %v", file))
			continue
		}
		if prev, ok := seen[spec.ID]; ok {
			errors = append(errors, trace.BadParameter("dataset file %v: duplicate id %q, already defined in %v", file, spec.ID, prev))
			continue
		}
		seen[spec.ID] = file

		if _, err := scheduler.ParseSchedule(spec.Cron); err != nil {
			errors = append(errors, trace.Wrap(err, "dataset %q", spec.ID))
		}
		if _, ok := cfg.Connections[spec.Source.ConnectionKey]; !ok {
			errors = append(errors, trace.BadParameter("dataset %q: connection %q is not configured", spec.ID, spec.Source.ConnectionKey))
		}
	}

	for _, err := range errors {
		log.ErrorContext(ctx, "Validation problem.", "error", err)
	}
	log.InfoContext(ctx, "Validation finished.", "files", len(files), "problems", len(errors))
	return trace.NewAggregate(errors...)
}
