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

package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/datastream/lib/extract"
	"github.com/gravitational/datastream/lib/tabular"
	"github.com/gravitational/datastream/lib/transform"
	"github.com/gravitational/datastream/lib/upload"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	m.Run()
}

type fakeDriver struct {
	table  *tabular.Table
	err    error
	panics bool
}

func (d *fakeDriver) Extract(ctx context.Context, connString, query string, params map[string]any) (*tabular.Table, error) {
	if d.panics {
		panic("boom")
	}
	if d.err != nil {
		return nil, trace.Wrap(d.err)
	}
	return d.table, nil
}

type uploadCall struct {
	path string
	name string
	data []byte
}

type fakeProvider struct {
	calls    []uploadCall
	failOn   string
	baseURI  string
	onUpload func()
}

func (p *fakeProvider) Upload(ctx context.Context, destinationPath, fileName string, data []byte) (*upload.Result, error) {
	if p.onUpload != nil {
		p.onUpload()
	}
	if p.failOn != "" && fileName == p.failOn {
		return nil, trace.ConnectionProblem(nil, "destination unreachable")
	}
	p.calls = append(p.calls, uploadCall{path: destinationPath, name: fileName, data: append([]byte(nil), data...)})
	return &upload.Result{
		Success:      true,
		Path:         p.baseURI + "/" + destinationPath + "/" + fileName,
		BytesWritten: len(data),
	}, nil
}

func (p *fakeProvider) ProviderName() string { return "fake" }

func ordersTable(t *testing.T) *tabular.Table {
	t.Helper()
	table := tabular.NewTable([]tabular.Column{
		{Name: "ID", Type: tabular.TypeInt64},
		{Name: "CUSTOMER", Type: tabular.TypeString, Nullable: true},
	})
	require.NoError(t, table.AppendRow([]any{int64(1), "acme"}))
	require.NoError(t, table.AppendRow([]any{int64(2), nil}))
	return table
}

func testConfig(t *testing.T, driver extract.Driver, provider *fakeProvider) Config {
	t.Helper()
	registry := transform.NewRegistry()
	transform.RegisterBuiltins(registry)
	engine, err := transform.NewEngine(registry, "prod")
	require.NoError(t, err)

	return Config{
		DatasetID:       "orders",
		TransformEngine: engine,
		Clock:           clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)),
		Input: Input{
			SourceKind:          extract.KindSQLServer,
			ConnectionString:    "sqlserver://host",
			Query:               "dbo.GetOrders",
			FileName:            "orders_20250314.parquet",
			Compression:         "snappy",
			DestinationProvider: upload.ProviderFS,
			DestinationPath:     "landing/orders",
		},
		NewDriver: func(kind string, cfg extract.Config) (extract.Driver, error) {
			return driver, nil
		},
		NewProvider: func(ctx context.Context, tag string, config map[string]any) (upload.Provider, error) {
			return provider, nil
		},
	}
}

func TestRunSucceeds(t *testing.T) {
	provider := &fakeProvider{baseURI: "fs:/var/landing"}
	p, err := New(testConfig(t, &fakeDriver{table: ordersTable(t)}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateSucceeded, e.State)
	require.Empty(t, e.Errors)
	require.Regexp(t, `^orders\.\d{14}-[0-9a-f]{8}$`, e.ID)

	// Artifact first, then the control record.
	require.Len(t, provider.calls, 2)
	require.Equal(t, "orders_20250314.parquet", provider.calls[0].name)
	require.Equal(t, e.ControlFileName, provider.calls[1].name)
	require.Equal(t, "landing/orders", provider.calls[0].path)
	require.NotEmpty(t, e.PublishedURI)

	// The control checksum covers exactly the published parquet bytes.
	sum := sha256.Sum256(provider.calls[0].data)
	require.Equal(t, hex.EncodeToString(sum[:]), e.ControlRecord.Checksum)
	require.Equal(t, 2, e.ControlRecord.RecordCount)
}

func TestRunExtractionFailureAborts(t *testing.T) {
	provider := &fakeProvider{}
	p, err := New(testConfig(t, &fakeDriver{err: trace.ConnectionProblem(nil, "login failed")}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateFailed, e.State)
	require.Len(t, e.Errors, 1)
	require.Equal(t, StageExtraction, e.Errors[0].Stage)
	require.Equal(t, SeverityCritical, e.Errors[0].Severity)

	// No later stage ran.
	require.Nil(t, e.ExtractedTable)
	require.Nil(t, e.PackedBytes)
	require.Nil(t, e.ControlRecord)
	require.Empty(t, e.PublishedURI)
	require.Empty(t, provider.calls)
}

func TestRunEmptyExtraction(t *testing.T) {
	provider := &fakeProvider{baseURI: "fs:/var/landing"}
	empty := tabular.NewTable([]tabular.Column{{Name: "ID", Type: tabular.TypeInt64}})
	p, err := New(testConfig(t, &fakeDriver{table: empty}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	// An empty dataset still publishes artifact and control record.
	require.Equal(t, StateSucceeded, e.State)
	require.Len(t, provider.calls, 2)
	require.Equal(t, 0, e.ControlRecord.RecordCount)
}

func TestRunPublishFailure(t *testing.T) {
	provider := &fakeProvider{failOn: "orders_20250314.parquet"}
	p, err := New(testConfig(t, &fakeDriver{table: ordersTable(t)}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateFailed, e.State)
	require.Len(t, e.Errors, 1)
	require.Equal(t, StagePublishing, e.Errors[0].Stage)
	require.Equal(t, SeverityError, e.Errors[0].Severity)

	// Everything up to publishing still completed.
	require.NotNil(t, e.PackedBytes)
	require.NotNil(t, e.ControlRecord)
	require.Empty(t, e.PublishedURI)
}

func TestRunPublishFailureTimeNotBackdated(t *testing.T) {
	provider := &fakeProvider{failOn: "orders_20250314.parquet"}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC))
	cfg := testConfig(t, &fakeDriver{table: ordersTable(t)}, provider)
	cfg.Clock = clock
	provider.onUpload = func() { clock.Advance(3 * time.Minute) }
	p, err := New(cfg)
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateFailed, e.State)
	require.Len(t, e.Errors, 1)
	// The error is stamped when the upload failed, not at execution start.
	require.Equal(t, e.StartTime.Add(3*time.Minute), e.Errors[0].Time)
}

func TestRunWritesLocalCopies(t *testing.T) {
	dir := t.TempDir()
	provider := &fakeProvider{baseURI: "fs:/var/landing"}
	cfg := testConfig(t, &fakeDriver{table: ordersTable(t)}, provider)
	cfg.Input.KeepLocalCopy = true
	cfg.Input.LocalCopyPath = dir
	p, err := New(cfg)
	require.NoError(t, err)

	e := p.Run(context.Background())
	require.Equal(t, StateSucceeded, e.State)

	artifact, err := os.ReadFile(filepath.Join(dir, "orders_20250314.parquet"))
	require.NoError(t, err)
	require.Equal(t, e.PackedBytes, artifact)

	ctl, err := os.ReadFile(filepath.Join(dir, e.ControlFileName))
	require.NoError(t, err)
	require.Equal(t, e.ControlBytes, ctl)
}

func TestRunLocalCopyFailureDoesNotFailExecution(t *testing.T) {
	// A regular file where the copy directory should be makes every local
	// write fail.
	blocked := filepath.Join(t.TempDir(), "blocked")
	require.NoError(t, os.WriteFile(blocked, []byte("x"), 0o644))

	provider := &fakeProvider{baseURI: "fs:/var/landing"}
	cfg := testConfig(t, &fakeDriver{table: ordersTable(t)}, provider)
	cfg.Input.KeepLocalCopy = true
	cfg.Input.LocalCopyPath = filepath.Join(blocked, "copies")
	p, err := New(cfg)
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateSucceeded, e.State)
	require.Empty(t, e.Errors)
	require.Len(t, provider.calls, 2)
	require.NotEmpty(t, e.PublishedURI)
}

func TestRunPanicIsContained(t *testing.T) {
	provider := &fakeProvider{}
	p, err := New(testConfig(t, &fakeDriver{panics: true}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateFailed, e.State)
	require.Len(t, e.Errors, 1)
	require.Equal(t, StageExtraction, e.Errors[0].Stage)
	require.Equal(t, SeverityCritical, e.Errors[0].Severity)
	require.Contains(t, e.Errors[0].Cause.Error(), "boom")
}

func TestRunCancelledContext(t *testing.T) {
	provider := &fakeProvider{}
	p, err := New(testConfig(t, &fakeDriver{table: ordersTable(t)}, provider))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e := p.Run(ctx)

	require.Equal(t, StateAborted, e.State)
	require.NotEmpty(t, e.Errors)
	require.True(t, e.HasCritical())
	require.Empty(t, provider.calls)
}

func TestTransformKeepsOriginalTable(t *testing.T) {
	provider := &fakeProvider{baseURI: "fs:/var/landing"}
	table := ordersTable(t)
	p, err := New(testConfig(t, &fakeDriver{table: table}, provider))
	require.NoError(t, err)

	e := p.Run(context.Background())

	require.Equal(t, StateSucceeded, e.State)
	require.NotSame(t, e.ExtractedTable, e.TransformedTable)
	require.Equal(t, table.NumRows(), e.TransformedTable.NumRows())
}
