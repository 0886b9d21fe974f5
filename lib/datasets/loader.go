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

package datasets

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"

	"github.com/go-playground/validator/v10"
	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/defaults"
)

var validate = validator.New()

// LoadDirectory reads every dataset-*.json file under dir and returns the
// specs that parse and validate, sorted by file name for deterministic
// registration order. A file that fails to parse or validate is logged and
// skipped; the remaining specs still load. A missing directory yields an
// empty result, not an error, so the service can start with an empty
// schedule.
func LoadDirectory(dir string) ([]DatasetSpec, error) {
	pattern := filepath.Join(dir, defaults.DatasetFilePattern)
	files, err := filepath.Glob(pattern)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	sort.Strings(files)

	var specs []DatasetSpec
	seen := make(map[string]string)
	for _, file := range files {
		spec, err := LoadFile(file)
		if err != nil {
			log.Warn("Skipping dataset file.", "file", file, "error", err)
			continue
		}
		if prev, ok := seen[spec.ID]; ok {
			log.Warn("Duplicate dataset id, first definition wins.", "id", spec.ID, "file", file, "first", prev)
			continue
		}
		seen[spec.ID] = file
		specs = append(specs, *spec)
	}
	return specs, nil
}

// LoadFile reads and validates a single dataset specification file.
// Unknown fields are ignored; enum valued fields are case-insensitive;
// parameter scalars are folded to the narrowest native type so the drivers
// see typed values instead of opaque JSON nodes.
func LoadFile(path string) (*DatasetSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}

	var spec DatasetSpec
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&spec); err != nil {
		return nil, trace.BadParameter("parsing %v: %v", path, err)
	}

	if err := validate.Struct(spec); err != nil {
		return nil, trace.BadParameter("validating %v: %v", path, err)
	}
	if err := spec.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}

	spec.Source.Parameters = foldParameters(spec.Source.Parameters)
	for i := range spec.Transformations {
		spec.Transformations[i].Config = foldMap(spec.Transformations[i].Config)
	}
	spec.Destination.Config = foldMap(spec.Destination.Config)
	return &spec, nil
}

// foldParameters converts json.Number values to the narrowest native
// scalar: int64 when integral, float64 otherwise.
func foldParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for name, value := range params {
		out[name] = foldValue(value)
	}
	return out
}

func foldMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = foldValue(v)
	}
	return out
}

func foldValue(value any) any {
	switch v := value.(type) {
	case json.Number:
		if i, err := v.Int64(); err == nil {
			return i
		}
		if f, err := v.Float64(); err == nil {
			return f
		}
		return v.String()
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = foldValue(item)
		}
		return out
	case map[string]any:
		return foldMap(v)
	}
	return value
}
