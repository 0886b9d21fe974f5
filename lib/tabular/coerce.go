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
	"fmt"
	"reflect"
	"strings"
	"time"
)

// TypeFromDatabase maps a driver reported column type to a logical type.
// databaseType is the driver's type name (e.g. "DECIMAL", "NVARCHAR"),
// scanType the Go type the driver scans into; either may be missing.
// Unrecognized types map to TypeString.
func TypeFromDatabase(databaseType string, scanType reflect.Type) Type {
	switch strings.ToUpper(databaseType) {
	case "TINYINT", "SMALLINT", "INT", "INTEGER":
		return TypeInt32
	case "BIGINT":
		return TypeInt64
	case "DECIMAL", "NUMERIC", "NUMBER", "MONEY", "SMALLMONEY":
		return TypeDecimal
	case "FLOAT", "REAL", "DOUBLE", "BINARY_DOUBLE", "BINARY_FLOAT":
		return TypeFloat64
	case "BIT", "BOOLEAN", "BOOL":
		return TypeBool
	case "DATE", "DATETIME", "DATETIME2", "SMALLDATETIME", "DATETIMEOFFSET",
		"TIMESTAMP", "TIMESTAMP WITH TIME ZONE", "TIMESTAMP WITH LOCAL TIME ZONE", "TIMESTAMPTZ":
		return TypeTimestamp
	case "BINARY", "VARBINARY", "IMAGE", "BLOB", "RAW", "LONG RAW":
		return TypeBinary
	}
	if scanType == nil {
		return TypeString
	}
	switch scanType.Kind() {
	case reflect.Int8, reflect.Int16, reflect.Int32:
		return TypeInt32
	case reflect.Int, reflect.Int64:
		return TypeInt64
	case reflect.Float32, reflect.Float64:
		return TypeFloat64
	case reflect.Bool:
		return TypeBool
	}
	if scanType == reflect.TypeOf(time.Time{}) {
		return TypeTimestamp
	}
	return TypeString
}

// CoerceCell normalizes a driver returned value to the canonical cell
// representation of the given logical type. Offset bearing timestamps are
// converted to naive UTC, decimals keep their exact textual form, and
// values of unknown shape are stringified (UUIDs among them).
func CoerceCell(value any, typ Type) any {
	if value == nil {
		return nil
	}
	switch typ {
	case TypeInt32:
		switch v := value.(type) {
		case int32:
			return v
		case int64:
			return int32(v)
		case int:
			return int32(v)
		}
	case TypeInt64:
		switch v := value.(type) {
		case int64:
			return v
		case int32:
			return int64(v)
		case int:
			return int64(v)
		}
	case TypeFloat64:
		switch v := value.(type) {
		case float64:
			return v
		case float32:
			return float64(v)
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v
		}
	case TypeDecimal:
		switch v := value.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		case float64:
			return fmt.Sprintf("%v", v)
		case int64:
			return fmt.Sprintf("%d", v)
		}
	case TypeTimestamp:
		if v, ok := value.(time.Time); ok {
			return v.UTC()
		}
	case TypeBinary:
		if v, ok := value.([]byte); ok {
			return v
		}
	case TypeString:
		switch v := value.(type) {
		case string:
			return v
		case []byte:
			return string(v)
		}
	}
	return fmt.Sprintf("%v", value)
}
