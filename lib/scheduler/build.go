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

package scheduler

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gravitational/trace"
	gocache "github.com/patrickmn/go-cache"

	"github.com/gravitational/datastream/lib/datasets"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/pipeline"
	"github.com/gravitational/datastream/lib/secrets"
)

// inputBuilder assembles pipeline inputs at fire time. Connection
// templates are resolved against the secret store on every build so that
// rotated secrets take effect without a restart; SQL file contents are
// served from a short lived cache.
type inputBuilder struct {
	connections map[string]string
	resolver    *secrets.Resolver
	queryDir    string
	queryCache  *gocache.Cache
}

func newInputBuilder(connections map[string]string, resolver *secrets.Resolver, queryDir string) *inputBuilder {
	return &inputBuilder{
		connections: connections,
		resolver:    resolver,
		queryDir:    queryDir,
		queryCache:  gocache.New(defaults.QueryFileCacheTTL, 2*defaults.QueryFileCacheTTL),
	}
}

// Build produces the resolved input for one trigger of spec at now.
func (b *inputBuilder) Build(ctx context.Context, spec *datasets.DatasetSpec, now time.Time) (pipeline.Input, error) {
	template, ok := b.connections[spec.Source.ConnectionKey]
	if !ok {
		return pipeline.Input{}, trace.NotFound("connection %q is not configured", spec.Source.ConnectionKey)
	}
	connString := template
	if b.resolver != nil {
		resolved, err := b.resolver.Resolve(ctx, template)
		if err != nil {
			return pipeline.Input{}, trace.Wrap(err, "resolving connection %q", spec.Source.ConnectionKey)
		}
		connString = resolved
	}

	query, err := b.queryText(&spec.Source)
	if err != nil {
		return pipeline.Input{}, trace.Wrap(err)
	}

	fileName, err := RenderFileName(spec.Output.FileNamePattern, now)
	if err != nil {
		return pipeline.Input{}, trace.Wrap(err)
	}

	var timeout time.Duration
	if spec.Source.CommandTimeoutSec > 0 {
		timeout = time.Duration(spec.Source.CommandTimeoutSec) * time.Second
	}

	return pipeline.Input{
		SourceKind:          spec.Source.Kind,
		ConnectionString:    connString,
		Query:               query,
		Parameters:          spec.Source.Parameters,
		CommandTimeout:      timeout,
		FileName:            fileName,
		Compression:         spec.Output.Compression,
		RowGroupSize:        spec.Output.RowGroupSize,
		DestinationProvider: spec.Destination.Provider,
		DestinationPath:     spec.Destination.Path,
		DestinationConfig:   spec.Destination.Config,
		KeepLocalCopy:       spec.KeepLocalCopy,
		LocalCopyPath:       spec.LocalCopyPath,
	}, nil
}

// queryText returns the statement to execute. Query kind datasets read
// their SQL from a file under the query directory, cached briefly so a
// busy schedule does not hammer the filesystem.
func (b *inputBuilder) queryText(source *datasets.SourceSpec) (string, error) {
	if source.ExtractionKind != datasets.ExtractionQuery {
		return source.QueryText(), nil
	}

	name := filepath.Clean(source.SQLFile)
	if strings.Contains(name, "..") || filepath.IsAbs(name) {
		return "", trace.BadParameter("sql file %q must be a relative path inside the query directory", source.SQLFile)
	}
	if text, ok := b.queryCache.Get(name); ok {
		return text.(string), nil
	}
	data, err := os.ReadFile(filepath.Join(b.queryDir, name))
	if err != nil {
		return "", trace.ConvertSystemError(err)
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return "", trace.BadParameter("sql file %q is empty", source.SQLFile)
	}
	b.queryCache.SetDefault(name, text)
	return text, nil
}

// fileNameToken matches "{date}", "{time}" and their explicit format
// forms such as "{date:yyyyMMdd}".
var fileNameToken = regexp.MustCompile(`\{(date|time)(?::([^}]+))?\}`)

// formatReplacer translates the compact date format tokens used in
// dataset definitions to Go reference time layouts.
var formatReplacer = strings.NewReplacer(
	"yyyy", "2006",
	"yy", "06",
	"MM", "01",
	"dd", "02",
	"HH", "15",
	"mm", "04",
	"ss", "05",
)

// RenderFileName expands the date and time tokens of pattern at now in
// UTC. "{date}" defaults to yyyyMMdd and "{time}" to HHmmss.
func RenderFileName(pattern string, now time.Time) (string, error) {
	if pattern == "" {
		return "", trace.BadParameter("missing file name pattern")
	}
	now = now.UTC()
	rendered := fileNameToken.ReplaceAllStringFunc(pattern, func(token string) string {
		groups := fileNameToken.FindStringSubmatch(token)
		format := groups[2]
		if format == "" {
			if groups[1] == "date" {
				format = "yyyyMMdd"
			} else {
				format = "HHmmss"
			}
		}
		return now.Format(formatReplacer.Replace(format))
	})
	return rendered, nil
}
