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

// Package pack serializes tables to the parquet columnar format.
package pack

import (
	"context"
	"io"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/tabular"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentPack)

const (
	// decimalScale and decimalPrecision are the writer defaults applied to
	// decimal columns.
	decimalScale     = 4
	decimalPrecision = 18

	// writeBatchSize is how many rows are handed to the parquet writer per
	// call; cancellation is checked between batches.
	writeBatchSize = 1024
)

// Config configures a Writer.
type Config struct {
	// Compression selects the codec: snappy (default), gzip, zstd or none.
	Compression string
	// RowGroupSize flushes a row group every N rows.
	RowGroupSize int
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Compression == "" {
		c.Compression = "snappy"
	}
	if _, err := codecFor(c.Compression); err != nil {
		return trace.Wrap(err)
	}
	if c.RowGroupSize <= 0 {
		c.RowGroupSize = defaults.RowGroupSize
	}
	return nil
}

// Writer serializes tables to parquet bytes. Nulls are encoded through the
// format's definition levels (null masks); string columns are always
// optional.
type Writer struct {
	cfg Config
}

// NewWriter creates a Writer with the given config.
func NewWriter(cfg Config) (*Writer, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Writer{cfg: cfg}, nil
}

// Write serializes table to sink. An empty table yields a valid zero row
// file carrying the full schema.
func (w *Writer) Write(ctx context.Context, table *tabular.Table, sink io.Writer) error {
	schema, err := schemaFor(table)
	if err != nil {
		return trace.Wrap(err)
	}
	codec, err := codecFor(w.cfg.Compression)
	if err != nil {
		return trace.Wrap(err)
	}

	pw := parquet.NewGenericWriter[map[string]any](sink, schema, parquet.Compression(codec))

	batch := make([]map[string]any, 0, writeBatchSize)
	sinceFlush := 0
	flushBatch := func() error {
		if len(batch) == 0 {
			return nil
		}
		if _, err := pw.Write(batch); err != nil {
			return trace.Wrap(err)
		}
		batch = batch[:0]
		return nil
	}

	for _, row := range table.Rows {
		if err := ctx.Err(); err != nil {
			return trace.Wrap(err)
		}
		record, err := recordFor(table.Columns, row)
		if err != nil {
			return trace.Wrap(err)
		}
		batch = append(batch, record)
		sinceFlush++
		if len(batch) == writeBatchSize {
			if err := flushBatch(); err != nil {
				return trace.Wrap(err)
			}
		}
		if sinceFlush >= w.cfg.RowGroupSize {
			if err := flushBatch(); err != nil {
				return trace.Wrap(err)
			}
			if err := pw.Flush(); err != nil {
				return trace.Wrap(err)
			}
			sinceFlush = 0
		}
	}
	if err := flushBatch(); err != nil {
		return trace.Wrap(err)
	}
	if err := pw.Close(); err != nil {
		return trace.Wrap(err)
	}
	log.DebugContext(ctx, "Packed table.", "rows", len(table.Rows), "codec", w.cfg.Compression)
	return nil
}

// schemaFor builds the parquet schema matching the table schema. Every
// column is optional so nulls round-trip through definition levels.
func schemaFor(table *tabular.Table) (*parquet.Schema, error) {
	group := parquet.Group{}
	for _, col := range table.Columns {
		node, err := nodeFor(col.Type)
		if err != nil {
			return nil, trace.Wrap(err, "column %q", col.Name)
		}
		group[col.Name] = parquet.Optional(node)
	}
	return parquet.NewSchema("table", group), nil
}

func nodeFor(typ tabular.Type) (parquet.Node, error) {
	switch typ {
	case tabular.TypeInt32:
		return parquet.Int(32), nil
	case tabular.TypeInt64:
		return parquet.Int(64), nil
	case tabular.TypeDecimal:
		return parquet.Decimal(decimalScale, decimalPrecision, parquet.Int64Type), nil
	case tabular.TypeFloat64:
		return parquet.Leaf(parquet.DoubleType), nil
	case tabular.TypeBool:
		return parquet.Leaf(parquet.BooleanType), nil
	case tabular.TypeString:
		return parquet.String(), nil
	case tabular.TypeTimestamp:
		return parquet.Timestamp(parquet.Millisecond), nil
	case tabular.TypeBinary:
		return parquet.Leaf(parquet.ByteArrayType), nil
	}
	return nil, trace.BadParameter("unsupported logical type %q", typ)
}

// recordFor converts one row to the map shape the generic writer expects.
// Nil cells are omitted and surface as parquet nulls.
func recordFor(columns []tabular.Column, row []any) (map[string]any, error) {
	record := make(map[string]any, len(columns))
	for i, col := range columns {
		cell := row[i]
		if cell == nil {
			continue
		}
		switch col.Type {
		case tabular.TypeDecimal:
			text, ok := cell.(string)
			if !ok {
				return nil, trace.BadParameter("decimal column %q holds %T", col.Name, cell)
			}
			scaled, err := scaleDecimal(text, decimalScale)
			if err != nil {
				return nil, trace.Wrap(err, "column %q", col.Name)
			}
			record[col.Name] = scaled
		case tabular.TypeTimestamp:
			ts, ok := cell.(time.Time)
			if !ok {
				return nil, trace.BadParameter("timestamp column %q holds %T", col.Name, cell)
			}
			record[col.Name] = ts.UTC().UnixMilli()
		default:
			record[col.Name] = cell
		}
	}
	return record, nil
}

func codecFor(name string) (compress.Codec, error) {
	switch strings.ToLower(name) {
	case "", "snappy":
		return &parquet.Snappy, nil
	case "gzip":
		return &parquet.Gzip, nil
	case "zstd":
		return &parquet.Zstd, nil
	case "none", "uncompressed":
		return &parquet.Uncompressed, nil
	}
	return nil, trace.BadParameter("unsupported compression codec %q", name)
}
