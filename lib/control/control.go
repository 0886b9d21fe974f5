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

// Package control emits the CSV control record describing a packed
// artifact: row count, checksum and identity. Consumers use it to verify
// the artifact before loading it downstream.
package control

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/datastream/lib/defaults"
)

// CompactTimeFormat renders a UTC time the way dataset names embed it.
const CompactTimeFormat = "20060102150405"

// header is the literal CSV header row of every control record.
var header = []string{"RecordCount", "RefDate", "Checksum", "Timestamp", "DatasetName", "Source"}

// Record describes one packed artifact.
type Record struct {
	// RecordCount is the number of rows in the artifact.
	RecordCount int
	// RefDate is the reference date of the extraction, UTC.
	RefDate time.Time
	// Checksum is the lowercase hex SHA-256 of the packed bytes.
	Checksum string
	// Timestamp is when the record was generated, UTC.
	Timestamp time.Time
	// DatasetName is "{datasetId}_{yyyyMMddHHmmss}".
	DatasetName string
	// Source is the source kind of the dataset.
	Source string
}

// NewRecord builds the record for packed bytes produced for datasetID from
// the given source kind at time now.
func NewRecord(datasetID, source string, recordCount int, packed []byte, refDate, now time.Time) Record {
	sum := sha256.Sum256(packed)
	return Record{
		RecordCount: recordCount,
		RefDate:     refDate.UTC(),
		Checksum:    hex.EncodeToString(sum[:]),
		Timestamp:   now.UTC(),
		DatasetName: datasetID + "_" + now.UTC().Format(CompactTimeFormat),
		Source:      source,
	}
}

// FileName returns the control file name, "{DatasetName}.ctl".
func (r Record) FileName() string {
	return r.DatasetName + defaults.ControlFileSuffix
}

// Write renders the record as RFC-4180 CSV: the literal header row plus
// one data row. Fields containing separators or quotes are escaped by the
// encoder.
func Write(r Record) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	rows := [][]string{
		header,
		{
			strconv.Itoa(r.RecordCount),
			r.RefDate.UTC().Format(time.RFC3339),
			r.Checksum,
			r.Timestamp.UTC().Format(time.RFC3339),
			r.DatasetName,
			r.Source,
		},
	}
	if err := w.WriteAll(rows); err != nil {
		return nil, trace.Wrap(err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}
