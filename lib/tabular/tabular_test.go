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

package tabular

import (
	"reflect"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTableAppendRow(t *testing.T) {
	table := NewTable([]Column{
		{Name: "ID", Type: TypeInt64},
		{Name: "NAME", Type: TypeString, Nullable: true},
	})
	require.True(t, table.IsEmpty())

	require.NoError(t, table.AppendRow([]any{int64(1), "one"}))
	require.NoError(t, table.AppendRow([]any{int64(2), nil}))
	require.Error(t, table.AppendRow([]any{int64(3)}))

	require.Equal(t, 2, table.NumRows())
	require.Equal(t, 2, table.NumColumns())
	require.False(t, table.IsEmpty())

	require.Equal(t, 1, table.ColumnIndex("NAME"))
	require.Equal(t, -1, table.ColumnIndex("name"))
}

func TestTableClone(t *testing.T) {
	table := NewTable([]Column{
		{Name: "DATA", Type: TypeBinary},
		{Name: "NAME", Type: TypeString},
	})
	require.NoError(t, table.AppendRow([]any{[]byte{1, 2}, "row"}))

	clone := table.Clone()
	require.Equal(t, table.NumRows(), clone.NumRows())

	// Mutations of the clone never leak back.
	clone.Rows[0][1] = "changed"
	clone.Rows[0][0].([]byte)[0] = 9
	require.Equal(t, "row", table.Rows[0][1])
	require.Equal(t, byte(1), table.Rows[0][0].([]byte)[0])
}

func TestTypeFromDatabase(t *testing.T) {
	tests := []struct {
		dbType   string
		scanType reflect.Type
		want     Type
	}{
		{"INT", nil, TypeInt32},
		{"BIGINT", nil, TypeInt64},
		{"NUMBER", nil, TypeDecimal},
		{"MONEY", nil, TypeDecimal},
		{"FLOAT", nil, TypeFloat64},
		{"BIT", nil, TypeBool},
		{"DATETIMEOFFSET", nil, TypeTimestamp},
		{"VARBINARY", nil, TypeBinary},
		{"NVARCHAR", nil, TypeString},
		// Unknown driver names fall back to the scan type.
		{"CUSTOM", reflect.TypeOf(int64(0)), TypeInt64},
		{"CUSTOM", reflect.TypeOf(false), TypeBool},
		{"CUSTOM", nil, TypeString},
	}
	for _, tt := range tests {
		t.Run(tt.dbType, func(t *testing.T) {
			require.Equal(t, tt.want, TypeFromDatabase(tt.dbType, tt.scanType))
		})
	}
}

func TestCoerceCell(t *testing.T) {
	paris := time.FixedZone("CET", 3600)

	tests := []struct {
		name  string
		value any
		typ   Type
		want  any
	}{
		{"nil stays nil", nil, TypeString, nil},
		{"int64 to int32", int64(7), TypeInt32, int32(7)},
		{"int32 to int64", int32(7), TypeInt64, int64(7)},
		{"float32 widened", float32(1.5), TypeFloat64, float64(1.5)},
		{"decimal bytes", []byte("12.3400"), TypeDecimal, "12.3400"},
		{"decimal int", int64(12), TypeDecimal, "12"},
		{"timestamp to UTC", time.Date(2025, 3, 14, 10, 0, 0, 0, paris), TypeTimestamp, time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC)},
		{"string bytes", []byte("abc"), TypeString, "abc"},
		{"fallback prints", 3.14, TypeBool, "3.14"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, CoerceCell(tt.value, tt.typ))
		})
	}
}
