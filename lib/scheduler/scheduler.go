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
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/datasets"
	"github.com/gravitational/datastream/lib/defaults"
	"github.com/gravitational/datastream/lib/extract"
	"github.com/gravitational/datastream/lib/pipeline"
	"github.com/gravitational/datastream/lib/secrets"
	"github.com/gravitational/datastream/lib/transform"
	"github.com/gravitational/datastream/lib/upload"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentScheduler)

// jobKindIngestion is the only job kind the scheduler registers today.
const jobKindIngestion = "DataIngestion"

// jobKey identifies one registered job.
type jobKey struct {
	DatasetID string
	Kind      string
}

// job is one scheduled dataset. The next activation is owned by the
// dispatch loop; the per dataset lock lives in Scheduler.locks so it
// survives hot reloads.
type job struct {
	spec     datasets.DatasetSpec
	schedule *Schedule
	steps    []transform.Step
	next     time.Time
}

// Config configures a Scheduler.
type Config struct {
	// DatasetsDir holds the dataset definition files.
	DatasetsDir string
	// QueryDir holds the SQL files referenced by query kind datasets,
	// DatasetsDir if empty.
	QueryDir string
	// Connections maps connection keys to connection string templates.
	Connections map[string]string
	// Environment gates environment scoped transformation steps.
	Environment string
	// Resolver resolves secret placeholders in connection templates.
	Resolver *secrets.Resolver
	// Registry provides the transformation step factories.
	Registry *transform.Registry
	// HotReload enables rescanning DatasetsDir while running.
	HotReload bool
	// RescanInterval is the hot reload polling period.
	RescanInterval time.Duration
	// GracePeriod bounds the wait for in flight executions on shutdown.
	GracePeriod time.Duration
	// Clock drives scheduling, a real clock if unset.
	Clock clockwork.Clock
	// Metrics records scheduler measurements, optional.
	Metrics *Metrics
	// PipelineMetrics is handed to every execution, optional.
	PipelineMetrics *pipeline.Metrics
	// DriverConfig carries shared extraction driver settings.
	DriverConfig extract.Config
	// NewDriver and NewProvider are dependency injection points for
	// tests, the package constructors if unset.
	NewDriver   func(kind string, cfg extract.Config) (extract.Driver, error)
	NewProvider func(ctx context.Context, tag string, config map[string]any) (upload.Provider, error)
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.DatasetsDir == "" {
		return trace.BadParameter("missing datasets directory")
	}
	if c.Registry == nil {
		return trace.BadParameter("missing transformation registry")
	}
	if c.QueryDir == "" {
		c.QueryDir = c.DatasetsDir
	}
	if c.RescanInterval <= 0 {
		c.RescanInterval = defaults.DatasetRescanInterval
	}
	if c.GracePeriod <= 0 {
		c.GracePeriod = defaults.ShutdownGracePeriod
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// Scheduler fires dataset pipelines on their cron schedules. Each
// dataset runs at most one execution at a time; an activation that
// arrives while the previous one is still running is skipped.
type Scheduler struct {
	cfg     Config
	engine  *transform.Engine
	builder *inputBuilder

	mu    sync.Mutex
	jobs  map[jobKey]*job
	locks map[jobKey]*dispatchLock

	wg sync.WaitGroup
}

// dispatchLock is the at-most-one guard of a dataset.
type dispatchLock struct{ mu sync.Mutex }

func (l *dispatchLock) tryAcquire() bool { return l.mu.TryLock() }
func (l *dispatchLock) release()         { l.mu.Unlock() }

// New creates a Scheduler.
func New(cfg Config) (*Scheduler, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	engine, err := transform.NewEngine(cfg.Registry, cfg.Environment)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Scheduler{
		cfg:     cfg,
		engine:  engine,
		builder: newInputBuilder(cfg.Connections, cfg.Resolver, cfg.QueryDir),
		jobs:    make(map[jobKey]*job),
		locks:   make(map[jobKey]*dispatchLock),
	}, nil
}

// Run loads the dataset registry and dispatches until ctx is cancelled.
// On cancellation it waits up to the grace period for in flight
// executions before returning.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.reload(ctx); err != nil {
		return trace.Wrap(err)
	}

	var watchEvents chan fsnotify.Event
	var rescan <-chan time.Time
	if s.cfg.HotReload {
		ticker := s.cfg.Clock.NewTicker(s.cfg.RescanInterval)
		defer ticker.Stop()
		rescan = ticker.Chan()

		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			log.WarnContext(ctx, "Filesystem watcher unavailable, falling back to polling only.", "error", err)
		} else {
			defer watcher.Close()
			if err := watcher.Add(s.cfg.DatasetsDir); err != nil {
				log.WarnContext(ctx, "Failed to watch datasets directory.", "dir", s.cfg.DatasetsDir, "error", err)
			} else {
				watchEvents = make(chan fsnotify.Event, 1)
				go forwardDatasetEvents(ctx, watcher, watchEvents)
			}
		}
	}

	log.InfoContext(ctx, "Scheduler started.",
		"datasets_dir", s.cfg.DatasetsDir, "jobs", s.jobCount(), "hot_reload", s.cfg.HotReload)

	for {
		timer := s.cfg.Clock.NewTimer(s.untilNext())
		select {
		case <-ctx.Done():
			timer.Stop()
			return s.drain(ctx)
		case now := <-timer.Chan():
			s.fireDue(ctx, now)
		case <-rescan:
			timer.Stop()
			if err := s.reload(ctx); err != nil {
				log.ErrorContext(ctx, "Dataset rescan failed.", "error", err)
			}
		case ev := <-watchEvents:
			timer.Stop()
			log.InfoContext(ctx, "Dataset directory changed, reloading.", "file", ev.Name, "op", ev.Op.String())
			if err := s.reload(ctx); err != nil {
				log.ErrorContext(ctx, "Dataset reload failed.", "error", err)
			}
		}
	}
}

// RunOnce executes one dataset immediately, outside of its schedule, and
// returns the finished execution. Disabled datasets can be run this way.
func (s *Scheduler) RunOnce(ctx context.Context, datasetID string) (*pipeline.Execution, error) {
	specs, err := datasets.LoadDirectory(s.cfg.DatasetsDir)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for i := range specs {
		if specs[i].ID == datasetID {
			return s.execute(ctx, &specs[i], s.cfg.Clock.Now().UTC())
		}
	}
	return nil, trace.NotFound("dataset %q not found in %v", datasetID, s.cfg.DatasetsDir)
}

// reload rebuilds the job registry from the datasets directory. Jobs of
// datasets that disappeared or were disabled are dropped; locks persist
// so a reload never allows a second concurrent run of a dataset.
func (s *Scheduler) reload(ctx context.Context) error {
	specs, err := datasets.LoadDirectory(s.cfg.DatasetsDir)
	if err != nil {
		return trace.Wrap(err)
	}
	now := s.cfg.Clock.Now()

	jobs := make(map[jobKey]*job)
	for i := range specs {
		spec := specs[i]
		if !spec.Enabled {
			log.DebugContext(ctx, "Dataset is disabled, not scheduling.", "dataset", spec.ID)
			continue
		}
		schedule, err := ParseSchedule(spec.Cron)
		if err != nil {
			log.ErrorContext(ctx, "Skipping dataset with invalid schedule.", "dataset", spec.ID, "error", err)
			continue
		}
		steps, err := s.engine.Build(spec.Transformations)
		if err != nil {
			log.ErrorContext(ctx, "Skipping dataset with invalid transformations.", "dataset", spec.ID, "error", err)
			continue
		}
		key := jobKey{DatasetID: spec.ID, Kind: jobKindIngestion}
		jobs[key] = &job{
			spec:     spec,
			schedule: schedule,
			steps:    steps,
			next:     schedule.Next(now),
		}
	}

	s.mu.Lock()
	// Carry over pending activations so a rescan does not re-fire or
	// push back an already computed next run.
	for key, existing := range s.jobs {
		if j, ok := jobs[key]; ok && j.spec.Cron == existing.spec.Cron {
			j.next = existing.next
		}
	}
	for key := range jobs {
		if _, ok := s.locks[key]; !ok {
			s.locks[key] = &dispatchLock{}
		}
	}
	s.jobs = jobs
	s.mu.Unlock()

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.reloadsTotal.Inc()
		s.cfg.Metrics.activeDatasets.Set(float64(len(jobs)))
	}
	log.InfoContext(ctx, "Dataset registry loaded.", "jobs", len(jobs))
	return nil
}

// untilNext returns the wait until the earliest pending activation,
// capped at the rescan interval so the loop never sleeps unbounded.
func (s *Scheduler) untilNext() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	wait := s.cfg.RescanInterval
	now := s.cfg.Clock.Now()
	for _, j := range s.jobs {
		if j.next.IsZero() {
			continue
		}
		if d := j.next.Sub(now); d < wait {
			wait = d
		}
	}
	if wait < 0 {
		wait = 0
	}
	return wait
}

// fireDue dispatches every job whose activation time has arrived and
// advances their schedules.
func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	s.mu.Lock()
	var due []*job
	for key, j := range s.jobs {
		if j.next.IsZero() || j.next.After(now) {
			continue
		}
		due = append(due, j)
		j.next = j.schedule.Next(now)
		if j.next.IsZero() {
			log.InfoContext(ctx, "Dataset schedule has no future activations.", "dataset", key.DatasetID)
		}
	}
	s.mu.Unlock()

	for _, j := range due {
		s.dispatch(ctx, j, now)
	}
}

// dispatch starts one execution of j unless the previous one is still
// running, in which case the activation is skipped.
func (s *Scheduler) dispatch(ctx context.Context, j *job, now time.Time) {
	key := jobKey{DatasetID: j.spec.ID, Kind: jobKindIngestion}
	s.mu.Lock()
	lock := s.locks[key]
	s.mu.Unlock()

	if !lock.tryAcquire() {
		log.WarnContext(ctx, "Skipping activation, previous execution still running.",
			"dataset", j.spec.ID, "fire_time", now)
		if s.cfg.Metrics != nil {
			s.cfg.Metrics.skippedTotal.WithLabelValues(j.spec.ID).Inc()
		}
		return
	}

	if s.cfg.Metrics != nil {
		s.cfg.Metrics.firedTotal.WithLabelValues(j.spec.ID).Inc()
	}
	spec := j.spec
	steps := j.steps
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer lock.release()
		if _, err := s.run(ctx, &spec, steps, now.UTC()); err != nil {
			log.ErrorContext(ctx, "Execution could not be started.", "dataset", spec.ID, "error", err)
		}
	}()
}

// execute builds steps for spec and runs it synchronously, used by
// RunOnce where at-most-one gating still applies.
func (s *Scheduler) execute(ctx context.Context, spec *datasets.DatasetSpec, now time.Time) (*pipeline.Execution, error) {
	key := jobKey{DatasetID: spec.ID, Kind: jobKindIngestion}
	s.mu.Lock()
	lock, ok := s.locks[key]
	if !ok {
		lock = &dispatchLock{}
		s.locks[key] = lock
	}
	s.mu.Unlock()

	if !lock.tryAcquire() {
		return nil, trace.AlreadyExists("dataset %q is already running", spec.ID)
	}
	defer lock.release()

	steps, err := s.engine.Build(spec.Transformations)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return s.run(ctx, spec, steps, now)
}

// run assembles the input and executes the pipeline.
func (s *Scheduler) run(ctx context.Context, spec *datasets.DatasetSpec, steps []transform.Step, now time.Time) (*pipeline.Execution, error) {
	input, err := s.builder.Build(ctx, spec, now)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	p, err := pipeline.New(pipeline.Config{
		DatasetID:       spec.ID,
		Input:           input,
		TransformEngine: s.engine,
		TransformSteps:  steps,
		Clock:           s.cfg.Clock,
		Metrics:         s.cfg.PipelineMetrics,
		NewDriver:       s.cfg.NewDriver,
		NewProvider:     s.cfg.NewProvider,
		DriverConfig:    s.cfg.DriverConfig,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p.Run(ctx), nil
}

// drain waits for in flight executions up to the grace period.
func (s *Scheduler) drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.InfoContext(ctx, "Scheduler stopped.")
		return nil
	case <-s.cfg.Clock.After(s.cfg.GracePeriod):
		log.WarnContext(ctx, "Grace period expired with executions still in flight.",
			"grace_period", s.cfg.GracePeriod)
		return trace.LimitExceeded("shutdown grace period of %v expired", s.cfg.GracePeriod)
	}
}

func (s *Scheduler) jobCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// forwardDatasetEvents filters watcher events down to dataset definition
// changes and coalesces bursts into single reload signals.
func forwardDatasetEvents(ctx context.Context, watcher *fsnotify.Watcher, out chan<- fsnotify.Event) {
	logger := logutils.NewPackageLogger(datastream.ComponentKey,
		datastream.Component(datastream.ComponentScheduler, "watch"))
	for {
		select {
		case <-ctx.Done():
			return
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			logger.WarnContext(ctx, "Filesystem watcher error.", "error", err)
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !ev.Op.Has(fsnotify.Create | fsnotify.Write | fsnotify.Remove | fsnotify.Rename) {
				continue
			}
			if matched, _ := filepath.Match(defaults.DatasetFilePattern, filepath.Base(ev.Name)); !matched {
				continue
			}
			select {
			case out <- ev:
			default:
			}
		}
	}
}
