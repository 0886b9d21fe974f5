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

// Package datastream contains constants shared across the datastream
// codebase.
package datastream

// Version is the semantic version of the datastream service.
const Version = "1.2.0"

// ComponentKey is the name of the log attribute identifying the component
// emitting a log line.
const ComponentKey = "component"

const (
	// ComponentService is the top level process supervisor.
	ComponentService = "service"

	// ComponentScheduler is the dataset trigger scheduler.
	ComponentScheduler = "scheduler"

	// ComponentPipeline is the ingestion pipeline engine.
	ComponentPipeline = "pipeline"

	// ComponentExtract is the data source driver layer.
	ComponentExtract = "extract"

	// ComponentTransform is the transformation registry and engine.
	ComponentTransform = "transform"

	// ComponentPack is the columnar artifact writer.
	ComponentPack = "pack"

	// ComponentUpload is the upload provider layer.
	ComponentUpload = "upload"

	// ComponentSecrets is the secret store client and template resolver.
	ComponentSecrets = "secrets"

	// ComponentDatasets is the dataset specification loader.
	ComponentDatasets = "datasets"

	// ComponentConfig is the host configuration loader.
	ComponentConfig = "config"
)

// Component generates a component name joining a sequence of parts with a
// colon, so subsystems can be told apart in logs, e.g. "scheduler:reload".
func Component(parts ...string) string {
	out := ""
	for i, part := range parts {
		if i != 0 {
			out += ":"
		}
		out += part
	}
	return out
}

// MetricNamespace defines the namespace of the prometheus collectors
// registered by datastream components.
const MetricNamespace = "datastream"

// DebugEnvVar tells tests to emit verbose debug output.
const DebugEnvVar = "DATASTREAM_DEBUG"
