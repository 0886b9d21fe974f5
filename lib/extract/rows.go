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
	"database/sql"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/tabular"
)

// readRows drains a database/sql result set into a table, mapping driver
// reported column types to logical types and coercing every cell.
func readRows(rows *sql.Rows) (*tabular.Table, error) {
	columnTypes, err := rows.ColumnTypes()
	if err != nil {
		return nil, trace.Wrap(err)
	}

	columns := make([]tabular.Column, len(columnTypes))
	for i, ct := range columnTypes {
		nullable, ok := ct.Nullable()
		if !ok {
			nullable = true
		}
		columns[i] = tabular.Column{
			Name:     ct.Name(),
			Type:     tabular.TypeFromDatabase(ct.DatabaseTypeName(), ct.ScanType()),
			Nullable: nullable,
		}
	}

	table := tabular.NewTable(columns)
	values := make([]any, len(columns))
	pointers := make([]any, len(columns))
	for i := range values {
		pointers[i] = &values[i]
	}
	for rows.Next() {
		if err := rows.Scan(pointers...); err != nil {
			return nil, trace.Wrap(err)
		}
		row := make([]any, len(columns))
		for i, value := range values {
			row[i] = tabular.CoerceCell(value, columns[i].Type)
		}
		if err := table.AppendRow(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return table, nil
}
