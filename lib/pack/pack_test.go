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

package pack

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/datastream/lib/tabular"
)

func writeTable(t *testing.T, cfg Config, table *tabular.Table) []byte {
	t.Helper()
	w, err := NewWriter(cfg)
	require.NoError(t, err)
	var buf bytes.Buffer
	require.NoError(t, w.Write(context.Background(), table, &buf))
	return buf.Bytes()
}

func readRecords(t *testing.T, data []byte) []map[string]any {
	t.Helper()
	f, err := parquet.OpenFile(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	reader := parquet.NewGenericReader[map[string]any](bytes.NewReader(data), f.Schema())
	defer reader.Close()
	var records []map[string]any
	for {
		rows := make([]map[string]any, 16)
		for i := range rows {
			rows[i] = map[string]any{}
		}
		n, err := reader.Read(rows)
		records = append(records, rows[:n]...)
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
	}
	return records
}

func TestWriteRoundTrip(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "ID", Type: tabular.TypeInt64},
		{Name: "NAME", Type: tabular.TypeString, Nullable: true},
		{Name: "ACTIVE", Type: tabular.TypeBool},
		{Name: "SCORE", Type: tabular.TypeFloat64},
	})
	require.NoError(t, table.AppendRow([]any{int64(1), "alpha", true, 1.5}))
	require.NoError(t, table.AppendRow([]any{int64(2), nil, false, -2.25}))

	records := readRecords(t, writeTable(t, Config{}, table))
	require.Len(t, records, 2)

	require.EqualValues(t, 1, records[0]["ID"])
	require.EqualValues(t, "alpha", records[0]["NAME"])
	require.EqualValues(t, true, records[0]["ACTIVE"])
	require.EqualValues(t, 1.5, records[0]["SCORE"])

	// The null cell survives as a missing value, not an empty string.
	require.Nil(t, records[1]["NAME"])
	require.EqualValues(t, 2, records[1]["ID"])
}

func TestWriteTimestampMillis(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 30, 0, 123_000_000, time.UTC)
	table := tabular.NewTable([]tabular.Column{
		{Name: "AT", Type: tabular.TypeTimestamp},
	})
	require.NoError(t, table.AppendRow([]any{ts}))

	records := readRecords(t, writeTable(t, Config{}, table))
	require.Len(t, records, 1)
	require.EqualValues(t, ts.UnixMilli(), records[0]["AT"])
}

func TestWriteDecimalScaled(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "AMOUNT", Type: tabular.TypeDecimal},
	})
	require.NoError(t, table.AppendRow([]any{"-12.34"}))
	require.NoError(t, table.AppendRow([]any{"0.00001"}))

	records := readRecords(t, writeTable(t, Config{}, table))
	require.Len(t, records, 2)
	require.EqualValues(t, -123400, records[0]["AMOUNT"])
	// Digits beyond the scale are truncated.
	require.EqualValues(t, 0, records[1]["AMOUNT"])
}

func TestWriteEmptyTable(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "ID", Type: tabular.TypeInt64},
		{Name: "NAME", Type: tabular.TypeString},
	})

	data := writeTable(t, Config{}, table)
	require.NotEmpty(t, data)

	records := readRecords(t, data)
	require.Empty(t, records)
}

func TestWriteCompressionCodecs(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "N", Type: tabular.TypeInt32},
	})
	for i := range 100 {
		require.NoError(t, table.AppendRow([]any{int32(i)}))
	}

	for _, codec := range []string{"snappy", "gzip", "zstd", "none"} {
		t.Run(codec, func(t *testing.T) {
			records := readRecords(t, writeTable(t, Config{Compression: codec}, table))
			require.Len(t, records, 100)
		})
	}

	_, err := NewWriter(Config{Compression: "lz5"})
	require.Error(t, err)
}

func TestWriteRowGroups(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "N", Type: tabular.TypeInt64},
	})
	for i := range 10 {
		require.NoError(t, table.AppendRow([]any{int64(i)}))
	}

	records := readRecords(t, writeTable(t, Config{RowGroupSize: 3}, table))
	require.Len(t, records, 10)
	for i, record := range records {
		require.EqualValues(t, i, record["N"])
	}
}

func TestWriteCancelled(t *testing.T) {
	table := tabular.NewTable([]tabular.Column{
		{Name: "N", Type: tabular.TypeInt64},
	})
	require.NoError(t, table.AppendRow([]any{int64(1)}))

	w, err := NewWriter(Config{})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.Error(t, w.Write(ctx, table, &bytes.Buffer{}))
}

func TestScaleDecimal(t *testing.T) {
	tests := []struct {
		text string
		want int64
	}{
		{"12.34", 123400},
		{"-12.34", -123400},
		{"+5", 50000},
		{".5", 5000},
		{"0.12345", 1234},
		{"1000000", 10000000000},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			got, err := scaleDecimal(tt.text, 4)
			require.NoError(t, err)
			require.Equal(t, tt.want, got)
		})
	}

	for _, text := range []string{"", "abc", "1.2.3"} {
		_, err := scaleDecimal(text, 4)
		require.Error(t, err, "expected error for %q", text)
	}
}

func TestUnscaleDecimal(t *testing.T) {
	require.Equal(t, "12.3400", unscaleDecimal(123400, 4))
	require.Equal(t, "-0.0001", unscaleDecimal(-1, 4))
	require.Equal(t, "0.0000", unscaleDecimal(0, 4))
}
