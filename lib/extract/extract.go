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

// Package extract implements the data source drivers executing a named
// extraction against a relational database and returning a tabular result.
package extract

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/tabular"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentExtract)

// Driver kinds.
const (
	// KindSQLServer is the stored procedure family driver.
	KindSQLServer = "sqlserver"
	// KindOracle is the output cursor family driver.
	KindOracle = "oracle"
)

// Driver executes a named extraction against a database.
type Driver interface {
	// Extract runs query with the given named parameters over the
	// connection string and returns the tabular result.
	Extract(ctx context.Context, connString, query string, params map[string]any) (*tabular.Table, error)
}

// Config carries settings shared by all drivers.
type Config struct {
	// Timeout bounds a single extraction command, driver default if zero.
	Timeout time.Duration
	// OpenFunc opens the database handle, sql.Open if unset. Tests inject
	// a mock here.
	OpenFunc func(driverName, dsn string) (*sql.DB, error)
}

// CheckAndSetDefaults fills in driver defaults. The command timeout
// default differs by family: cursor style drivers get the longer one.
func (c *Config) CheckAndSetDefaults(kind string) error {
	if c.Timeout == 0 {
		switch kind {
		case KindOracle:
			c.Timeout = defaults.ExtractTimeout
		default:
			c.Timeout = defaults.StatementTimeout
		}
	}
	if c.OpenFunc == nil {
		c.OpenFunc = sql.Open
	}
	return nil
}

// NewDriver returns the driver for the given source kind.
func NewDriver(kind string, cfg Config) (Driver, error) {
	kind = strings.ToLower(kind)
	if err := cfg.CheckAndSetDefaults(kind); err != nil {
		return nil, trace.Wrap(err)
	}
	switch kind {
	case KindSQLServer:
		return &sqlServerDriver{cfg: cfg}, nil
	case KindOracle:
		return &oracleDriver{cfg: cfg}, nil
	}
	return nil, trace.BadParameter("unsupported data source kind %q", kind)
}

// rawStatementPrefixes are the leading keywords that mark a query as raw
// SQL text rather than a stored procedure name.
var rawStatementPrefixes = []string{"SELECT", "WITH", "EXEC", "EXECUTE", "INSERT", "UPDATE", "DELETE"}

// isRawStatement reports whether query should be executed as SQL text.
func isRawStatement(query string) bool {
	trimmed := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range rawStatementPrefixes {
		if strings.HasPrefix(trimmed, prefix) {
			// Guard against procedure names that merely start with a
			// keyword, e.g. "selection_pkg.run".
			rest := trimmed[len(prefix):]
			if rest == "" || rest[0] == ' ' || rest[0] == '\t' || rest[0] == '\n' || rest[0] == '\r' || rest[0] == '(' {
				return true
			}
		}
	}
	return false
}

// sortedParameterNames returns the parameter names in a stable order.
// Leading colons are tolerated on input and stripped.
func sortedParameterNames(params map[string]any) []string {
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, strings.TrimPrefix(name, ":"))
	}
	sort.Strings(names)
	return names
}

// parameterValue returns the typed value bound for name, looking the name
// up with and without a leading colon.
func parameterValue(params map[string]any, name string) any {
	if v, ok := params[name]; ok {
		return v
	}
	return params[":"+name]
}
