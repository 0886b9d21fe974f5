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

// Package datasets defines the declarative dataset specification and its
// loader. Each dataset describes one recurring ingestion flow: show up on a
// cron trigger, extract from a relational source, transform, pack to
// parquet, publish with a control record.
package datasets

import (
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentDatasets)

// Source kinds.
const (
	// KindSQLServer extracts through the stored procedure family driver.
	KindSQLServer = "sqlserver"
	// KindOracle extracts through the output cursor family driver.
	KindOracle = "oracle"
)

// Extraction kinds.
const (
	// ExtractionProcedure runs a plain stored procedure.
	ExtractionProcedure = "procedure"
	// ExtractionPackage runs a package qualified procedure.
	ExtractionPackage = "package"
	// ExtractionQuery runs SQL text loaded from a file on disk.
	ExtractionQuery = "query"
)

// DatasetSpec is a declarative recipe for one recurring ingestion flow,
// loaded from a dataset-*.json file and immutable at runtime except on
// reload.
type DatasetSpec struct {
	// ID uniquely identifies the dataset within the service.
	ID string `json:"id" validate:"required"`
	// Enabled gates trigger registration; disabled datasets never run.
	Enabled bool `json:"enabled"`
	// Cron is a 7-field cron expression (seconds resolution, optional
	// trailing year field).
	Cron string `json:"cron" validate:"required"`
	// Source describes where and how to extract.
	Source SourceSpec `json:"source"`
	// Transformations are applied in ascending order between extraction
	// and packing.
	Transformations []TransformationSpec `json:"transformations"`
	// Output controls the packed artifact.
	Output OutputSpec `json:"output"`
	// Destination selects and configures the upload provider.
	Destination DestinationSpec `json:"destination"`
	// KeepLocalCopy additionally writes both artifacts to LocalCopyPath.
	KeepLocalCopy bool `json:"keepLocalCopy"`
	// LocalCopyPath is the directory receiving local copies.
	LocalCopyPath string `json:"localCopyPath"`
}

// SourceSpec describes the relational source of a dataset.
type SourceSpec struct {
	// Kind is the driver family, KindSQLServer or KindOracle.
	Kind string `json:"kind" validate:"required"`
	// ConnectionKey names the connection template in the host config.
	ConnectionKey string `json:"connectionKey" validate:"required"`
	// ExtractionKind is one of procedure, package or query.
	ExtractionKind string `json:"extractionKind" validate:"required"`
	// Procedure is the procedure name for procedure and package kinds.
	Procedure string `json:"procedure"`
	// Package qualifies Procedure for the package kind.
	Package string `json:"package"`
	// SQLFile is the path of the SQL text for the query kind.
	SQLFile string `json:"sqlFile"`
	// Parameters are bound by name; values are native scalars.
	Parameters map[string]any `json:"parameters"`
	// CommandTimeoutSec overrides the driver command timeout.
	CommandTimeoutSec int `json:"commandTimeoutSec"`
}

// TransformationSpec selects and configures one registered transformation
// step.
type TransformationSpec struct {
	// Type resolves to a registered step type.
	Type string `json:"type" validate:"required"`
	// Enabled gates the step without removing it from the spec.
	Enabled bool `json:"enabled"`
	// Order sorts steps ascending; ties keep declaration order.
	Order int `json:"order"`
	// Environments restricts the step to the listed environment tags,
	// empty meaning all.
	Environments []string `json:"environments"`
	// Config is the step specific configuration.
	Config map[string]any `json:"config"`
}

// OutputSpec controls the packed artifact.
type OutputSpec struct {
	// FileNamePattern renders the artifact name, supporting {date},
	// {time}, {date:yyyyMMdd} and {time:HHmmss} substitutions.
	FileNamePattern string `json:"fileNamePattern"`
	// Compression selects the parquet codec, snappy when empty.
	Compression string `json:"compression"`
	// RowGroupSize is a row group size hint for the writer.
	RowGroupSize int `json:"rowGroupSize"`
}

// DestinationSpec selects the upload provider and carries its provider
// specific configuration.
type DestinationSpec struct {
	// Provider is the provider tag, fs or blob.
	Provider string `json:"provider" validate:"required"`
	// Path is the destination path or prefix within the provider.
	Path string `json:"path"`
	// Config is provider specific configuration.
	Config map[string]any `json:"config"`
}

// CheckAndSetDefaults validates the parts of a spec that carry cross-field
// rules the struct tags cannot express, and normalizes enum fields to
// lowercase.
func (s *DatasetSpec) CheckAndSetDefaults() error {
	s.Source.Kind = strings.ToLower(s.Source.Kind)
	s.Source.ExtractionKind = strings.ToLower(s.Source.ExtractionKind)
	s.Output.Compression = strings.ToLower(s.Output.Compression)
	s.Destination.Provider = strings.ToLower(s.Destination.Provider)

	switch s.Source.Kind {
	case KindSQLServer, KindOracle:
	default:
		return trace.BadParameter("dataset %q: unsupported source kind %q", s.ID, s.Source.Kind)
	}

	switch s.Source.ExtractionKind {
	case ExtractionProcedure:
		if s.Source.Procedure == "" {
			return trace.BadParameter("dataset %q: extraction kind %q requires a procedure", s.ID, s.Source.ExtractionKind)
		}
	case ExtractionPackage:
		if s.Source.Package == "" {
			return trace.BadParameter("dataset %q: extraction kind %q requires a package", s.ID, s.Source.ExtractionKind)
		}
		if s.Source.Procedure == "" {
			return trace.BadParameter("dataset %q: extraction kind %q requires a procedure", s.ID, s.Source.ExtractionKind)
		}
	case ExtractionQuery:
		if s.Source.SQLFile == "" {
			return trace.BadParameter("dataset %q: extraction kind %q requires a sqlFile", s.ID, s.Source.ExtractionKind)
		}
	default:
		return trace.BadParameter("dataset %q: unsupported extraction kind %q", s.ID, s.Source.ExtractionKind)
	}

	if s.KeepLocalCopy && s.LocalCopyPath == "" {
		return trace.BadParameter("dataset %q: keepLocalCopy requires localCopyPath", s.ID)
	}
	if s.Output.FileNamePattern == "" {
		return trace.BadParameter("dataset %q: missing output file name pattern", s.ID)
	}
	return nil
}

// QueryText returns the query string for non file based extraction kinds:
// the bare procedure name, or the package qualified form. File based
// queries are loaded from disk at job build time.
func (s *SourceSpec) QueryText() string {
	switch s.ExtractionKind {
	case ExtractionPackage:
		return s.Package + "." + s.Procedure
	default:
		return s.Procedure
	}
}
