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
	"database/sql/driver"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gravitational/trace"
	go_ora "github.com/sijms/go-ora/v2"

	"github.com/gravitational/datastream/lib/tabular"
)

// cursorParameterName is the output cursor parameter appended to every
// procedure call; the procedure under extraction must declare it.
const cursorParameterName = "p_cursor"

// oracleDriver extracts from the output cursor database family. Procedures
// (package qualified when the name contains a dot) are invoked through an
// anonymous block with a trailing ref cursor output parameter; raw
// statements stream rows directly with no cursor attached.
type oracleDriver struct {
	cfg Config
}

// Extract implements Driver.
func (d *oracleDriver) Extract(ctx context.Context, connString, query string, params map[string]any) (*tabular.Table, error) {
	db, err := d.cfg.OpenFunc("oracle", connString)
	if err != nil {
		return nil, trace.Wrap(err, "opening oracle connection")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	if isRawStatement(query) {
		args := make([]any, 0, len(params))
		for _, name := range sortedParameterNames(params) {
			args = append(args, sql.Named(name, parameterValue(params, name)))
		}
		rows, err := db.QueryContext(ctx, query, args...)
		if err != nil {
			return nil, trace.Wrap(err, "executing %q", query)
		}
		defer rows.Close()
		table, err := readRows(rows)
		return table, trace.Wrap(err)
	}

	block, args := cursorBlock(query, params)
	var cursor go_ora.RefCursor
	args = append(args, sql.Named(cursorParameterName, go_ora.Out{Dest: &cursor}))

	log.DebugContext(ctx, "Executing oracle extraction.", "block", block, "parameters", len(args)-1)
	if _, err := db.ExecContext(ctx, block, args...); err != nil {
		return nil, trace.Wrap(err, "executing %q", query)
	}
	defer cursor.Close()

	table, err := readCursor(&cursor)
	if err != nil {
		return nil, trace.Wrap(err, "reading cursor of %q", query)
	}
	return table, nil
}

// cursorBlock builds the anonymous block invoking the procedure with every
// input parameter followed by the output cursor.
func cursorBlock(procedure string, params map[string]any) (string, []any) {
	names := sortedParameterNames(params)
	placeholders := make([]string, 0, len(names)+1)
	args := make([]any, 0, len(names))
	for _, name := range names {
		placeholders = append(placeholders, ":"+name)
		args = append(args, sql.Named(name, parameterValue(params, name)))
	}
	placeholders = append(placeholders, ":"+cursorParameterName)
	return fmt.Sprintf("BEGIN %s(%s); END;", procedure, strings.Join(placeholders, ", ")), args
}

// readCursor drains the ref cursor into a table. Column types come from
// the cursor when it reports them and are inferred from the first non-nil
// value of each column otherwise.
func readCursor(cursor *go_ora.RefCursor) (*tabular.Table, error) {
	dataset, err := cursor.Query()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer dataset.Close()

	names := dataset.Columns()
	values := make([]driver.Value, len(names))
	var raw [][]any
	for {
		if err := dataset.Next(values); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, trace.Wrap(err)
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = v
		}
		raw = append(raw, row)
	}

	columns := make([]tabular.Column, len(names))
	typeNamer, hasTypeNames := any(dataset).(driver.RowsColumnTypeDatabaseTypeName)
	for i, name := range names {
		typ := tabular.TypeString
		if hasTypeNames {
			typ = tabular.TypeFromDatabase(typeNamer.ColumnTypeDatabaseTypeName(i), nil)
		} else {
			typ = inferType(raw, i)
		}
		columns[i] = tabular.Column{Name: name, Type: typ, Nullable: true}
	}

	table := tabular.NewTable(columns)
	for _, row := range raw {
		cells := make([]any, len(columns))
		for i, value := range row {
			cells[i] = tabular.CoerceCell(value, columns[i].Type)
		}
		if err := table.AppendRow(cells); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return table, nil
}

// inferType picks a logical type from the first non-nil value observed in
// the column; all-null columns default to string.
func inferType(rows [][]any, col int) tabular.Type {
	for _, row := range rows {
		switch row[col].(type) {
		case nil:
			continue
		case int32:
			return tabular.TypeInt32
		case int, int64:
			return tabular.TypeInt64
		case float32, float64:
			return tabular.TypeFloat64
		case bool:
			return tabular.TypeBool
		case time.Time:
			return tabular.TypeTimestamp
		case []byte:
			return tabular.TypeBinary
		default:
			return tabular.TypeString
		}
	}
	return tabular.TypeString
}
