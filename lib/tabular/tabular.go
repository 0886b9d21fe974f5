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

// Package tabular defines the in-memory table passed between the extraction,
// transformation and packing layers.
package tabular

import (
	"github.com/gravitational/trace"
)

// Type is the logical type of a column. Driver specific types are coerced
// to one of these on read; anything richer is represented as a string.
type Type string

const (
	// TypeInt32 is a 32 bit signed integer column.
	TypeInt32 Type = "int32"
	// TypeInt64 is a 64 bit signed integer column.
	TypeInt64 Type = "int64"
	// TypeDecimal is an exact decimal column. Cell values carry the decimal
	// representation as a string to avoid precision loss.
	TypeDecimal Type = "decimal"
	// TypeFloat64 is a double precision float column.
	TypeFloat64 Type = "float64"
	// TypeBool is a boolean column.
	TypeBool Type = "bool"
	// TypeString is a UTF-8 string column.
	TypeString Type = "string"
	// TypeTimestamp is a naive UTC timestamp column.
	TypeTimestamp Type = "timestamp"
	// TypeBinary is a raw byte column.
	TypeBinary Type = "binary"
)

// Column describes a single column of a table.
type Column struct {
	// Name is the column name as reported by the driver.
	Name string
	// Type is the logical column type.
	Type Type
	// Nullable indicates whether the column may contain nulls.
	Nullable bool
}

// Table is an ordered set of columns plus rows. Cell values are nil, int32,
// int64, float64, bool, string, time.Time (UTC) or []byte depending on the
// column type.
type Table struct {
	// Columns is the ordered schema of the table.
	Columns []Column
	// Rows holds one slice per row, len(Columns) cells each.
	Rows [][]any
}

// NewTable creates an empty table with the given schema.
func NewTable(columns []Column) *Table {
	return &Table{Columns: columns}
}

// NumRows returns the number of rows.
func (t *Table) NumRows() int { return len(t.Rows) }

// NumColumns returns the number of columns.
func (t *Table) NumColumns() int { return len(t.Columns) }

// IsEmpty reports whether the table has no rows.
func (t *Table) IsEmpty() bool { return len(t.Rows) == 0 }

// ColumnIndex returns the index of the named column, or -1 when absent.
// Column names are matched case-sensitively.
func (t *Table) ColumnIndex(name string) int {
	for i, col := range t.Columns {
		if col.Name == name {
			return i
		}
	}
	return -1
}

// AppendRow adds a row to the table.
func (t *Table) AppendRow(row []any) error {
	if len(row) != len(t.Columns) {
		return trace.BadParameter("row has %v cells, table has %v columns", len(row), len(t.Columns))
	}
	t.Rows = append(t.Rows, row)
	return nil
}

// Clone returns a deep copy of the table. Transformation steps mutate the
// copy freely without affecting the extracted original.
func (t *Table) Clone() *Table {
	out := &Table{
		Columns: make([]Column, len(t.Columns)),
		Rows:    make([][]any, len(t.Rows)),
	}
	copy(out.Columns, t.Columns)
	for i, row := range t.Rows {
		cells := make([]any, len(row))
		for j, cell := range row {
			if b, ok := cell.([]byte); ok {
				cells[j] = append([]byte(nil), b...)
				continue
			}
			cells[j] = cell
		}
		out.Rows[i] = cells
	}
	return out
}
