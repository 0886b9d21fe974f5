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

package extract

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	// Registers the "sqlserver" database/sql driver.
	_ "github.com/microsoft/go-mssqldb"
	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/tabular"
)

// sqlServerDriver extracts from the stored procedure database family. A
// query is treated as a stored procedure name unless it starts with a SQL
// keyword, in which case it runs as raw text.
type sqlServerDriver struct {
	cfg Config
}

// Extract implements Driver.
func (d *sqlServerDriver) Extract(ctx context.Context, connString, query string, params map[string]any) (*tabular.Table, error) {
	db, err := d.cfg.OpenFunc("sqlserver", connString)
	if err != nil {
		return nil, trace.Wrap(err, "opening sqlserver connection")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	statement := query
	if !isRawStatement(query) {
		statement = execStatement(query, params)
	}

	args := make([]any, 0, len(params))
	for _, name := range sortedParameterNames(params) {
		args = append(args, sql.Named(name, parameterValue(params, name)))
	}

	log.DebugContext(ctx, "Executing sqlserver extraction.", "statement", statement, "parameters", len(args))
	rows, err := db.QueryContext(ctx, statement, args...)
	if err != nil {
		return nil, trace.Wrap(err, "executing %q", query)
	}
	defer rows.Close()

	table, err := readRows(rows)
	if err != nil {
		return nil, trace.Wrap(err, "reading rows of %q", query)
	}
	return table, nil
}

// execStatement builds the EXEC form for a stored procedure call with
// named parameter passing.
func execStatement(procedure string, params map[string]any) string {
	names := sortedParameterNames(params)
	if len(names) == 0 {
		return fmt.Sprintf("EXEC %s", procedure)
	}
	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = fmt.Sprintf("@%s=@%s", name, name)
	}
	return fmt.Sprintf("EXEC %s %s", procedure, strings.Join(pairs, ", "))
}
