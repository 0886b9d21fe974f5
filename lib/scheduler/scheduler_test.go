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

package scheduler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/datastream/lib/extract"
	"github.com/gravitational/datastream/lib/pipeline"
	"github.com/gravitational/datastream/lib/tabular"
	"github.com/gravitational/datastream/lib/transform"
	"github.com/gravitational/datastream/lib/upload"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	m.Run()
}

type countingDriver struct {
	mu      sync.Mutex
	starts  int
	release chan struct{}
}

func (d *countingDriver) Extract(ctx context.Context, connString, query string, params map[string]any) (*tabular.Table, error) {
	d.mu.Lock()
	d.starts++
	d.mu.Unlock()
	if d.release != nil {
		select {
		case <-d.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	table := tabular.NewTable([]tabular.Column{{Name: "N", Type: tabular.TypeInt64}})
	if err := table.AppendRow([]any{int64(42)}); err != nil {
		return nil, err
	}
	return table, nil
}

func (d *countingDriver) startCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts
}

type recordingProvider struct {
	mu    sync.Mutex
	names []string
}

func (p *recordingProvider) Upload(ctx context.Context, destinationPath, fileName string, data []byte) (*upload.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.names = append(p.names, fileName)
	return &upload.Result{Success: true, Path: "fake:/" + destinationPath + "/" + fileName, BytesWritten: len(data)}, nil
}

func (p *recordingProvider) ProviderName() string { return "fake" }

func (p *recordingProvider) uploaded() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.names...)
}

func writeDataset(t *testing.T, dir, id, cronExpr string, enabled bool) {
	t.Helper()
	spec := fmt.Sprintf(`{
  "id": %q,
  "enabled": %v,
  "cron": %q,
  "source": {
    "kind": "sqlserver",
    "connectionKey": "warehouse",
    "extractionKind": "procedure",
    "procedure": "dbo.GetRows"
  },
  "output": {
    "fileNamePattern": "%s_{date}_{time}.parquet",
    "compression": "snappy"
  },
  "destination": {
    "provider": "fs",
    "path": "landing"
  }
}`, id, enabled, cronExpr, id)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "dataset-"+id+".json"), []byte(spec), 0o600))
}

func testScheduler(t *testing.T, dir string, clock clockwork.Clock, driver extract.Driver, provider upload.Provider) *Scheduler {
	t.Helper()
	registry := transform.NewRegistry()
	transform.RegisterBuiltins(registry)

	s, err := New(Config{
		DatasetsDir: dir,
		Connections: map[string]string{"warehouse": "sqlserver://host"},
		Environment: "prod",
		Registry:    registry,
		Clock:       clock,
		NewDriver: func(kind string, cfg extract.Config) (extract.Driver, error) {
			return driver, nil
		},
		NewProvider: func(ctx context.Context, tag string, config map[string]any) (upload.Provider, error) {
			return provider, nil
		},
	})
	require.NoError(t, err)
	return s
}

func TestReloadRegistersEnabledDatasets(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 0 2 * * ?", true)
	writeDataset(t, dir, "invoices", "0 0 3 * * ?", true)
	writeDataset(t, dir, "legacy", "0 0 4 * * ?", false)
	writeDataset(t, dir, "broken", "not a cron", true)

	s := testScheduler(t, dir, clockwork.NewFakeClock(), &countingDriver{}, &recordingProvider{})
	require.NoError(t, s.reload(context.Background()))

	require.Equal(t, 2, s.jobCount())
	_, ok := s.jobs[jobKey{DatasetID: "orders", Kind: jobKindIngestion}]
	require.True(t, ok)
	_, ok = s.jobs[jobKey{DatasetID: "legacy", Kind: jobKindIngestion}]
	require.False(t, ok)
}

func TestRunOnceExecutesPipeline(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 0 2 * * ?", true)

	provider := &recordingProvider{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	s := testScheduler(t, dir, clock, &countingDriver{}, provider)

	e, err := s.RunOnce(context.Background(), "orders")
	require.NoError(t, err)
	require.Equal(t, pipeline.StateSucceeded, e.State)
	require.Equal(t, []string{"orders_20250314_090000.parquet", e.ControlFileName}, provider.uploaded())
}

func TestRunOnceUnknownDataset(t *testing.T) {
	s := testScheduler(t, t.TempDir(), clockwork.NewFakeClock(), &countingDriver{}, &recordingProvider{})
	_, err := s.RunOnce(context.Background(), "missing")
	require.Error(t, err)
}

func TestFireDueDispatchesAndAdvances(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 */15 * * * ?", true)

	driver := &countingDriver{}
	provider := &recordingProvider{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	s := testScheduler(t, dir, clock, driver, provider)
	require.NoError(t, s.reload(context.Background()))

	key := jobKey{DatasetID: "orders", Kind: jobKindIngestion}
	first := s.jobs[key].next
	require.Equal(t, time.Date(2025, 3, 14, 9, 15, 0, 0, time.UTC), first)

	clock.Advance(15 * time.Minute)
	s.fireDue(context.Background(), clock.Now())
	s.wg.Wait()

	require.Equal(t, 1, driver.startCount())
	require.Len(t, provider.uploaded(), 2)
	require.Equal(t, time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC), s.jobs[key].next)
}

func TestDispatchSkipsWhileRunning(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 */15 * * * ?", true)

	driver := &countingDriver{release: make(chan struct{})}
	provider := &recordingProvider{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	s := testScheduler(t, dir, clock, driver, provider)
	require.NoError(t, s.reload(context.Background()))

	clock.Advance(15 * time.Minute)
	s.fireDue(context.Background(), clock.Now())
	require.Eventually(t, func() bool { return driver.startCount() == 1 }, 5*time.Second, 10*time.Millisecond)

	// Second activation while the first is still extracting.
	clock.Advance(15 * time.Minute)
	s.fireDue(context.Background(), clock.Now())

	close(driver.release)
	s.wg.Wait()

	require.Equal(t, 1, driver.startCount())
	require.Len(t, provider.uploaded(), 2)
}

func TestRunFiresOnSchedule(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 */15 * * * ?", true)

	driver := &countingDriver{}
	provider := &recordingProvider{}
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 14, 9, 0, 0, 0, time.UTC))
	s := testScheduler(t, dir, clock, driver, provider)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(15 * time.Minute)
	require.Eventually(t, func() bool { return len(provider.uploaded()) == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestHotReloadPicksUpNewDataset(t *testing.T) {
	dir := t.TempDir()
	writeDataset(t, dir, "orders", "0 0 2 * * ?", true)

	s := testScheduler(t, dir, clockwork.NewFakeClock(), &countingDriver{}, &recordingProvider{})
	require.NoError(t, s.reload(context.Background()))
	require.Equal(t, 1, s.jobCount())

	writeDataset(t, dir, "invoices", "0 0 3 * * ?", true)
	require.NoError(t, s.reload(context.Background()))
	require.Equal(t, 2, s.jobCount())

	// Removing the file drops the job on the next scan.
	require.NoError(t, os.Remove(filepath.Join(dir, "dataset-invoices.json")))
	require.NoError(t, s.reload(context.Background()))
	require.Equal(t, 1, s.jobCount())
}
