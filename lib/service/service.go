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

// Package service assembles the ingestion service from the host
// configuration: secret store client and resolver, transformation
// registry, metrics and the scheduler, and runs it until a signal or a
// fatal error.
package service

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/certstore"
	"github.com/gravitational/datastream/lib/config"
	"github.com/gravitational/datastream/lib/pipeline"
	"github.com/gravitational/datastream/lib/scheduler"
	"github.com/gravitational/datastream/lib/secrets"
	"github.com/gravitational/datastream/lib/transform"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

var log = logutils.NewPackageLogger(datastream.ComponentKey, datastream.ComponentService)

// Service is the assembled ingestion service.
type Service struct {
	cfg       *config.Config
	scheduler *scheduler.Scheduler
	clock     clockwork.Clock
}

// New wires the service from the host configuration.
func New(cfg *config.Config) (*Service, error) {
	return newService(cfg, clockwork.NewRealClock(), prometheus.NewRegistry())
}

func newService(cfg *config.Config, clock clockwork.Clock, registerer prometheus.Registerer) (*Service, error) {
	if cfg == nil {
		return nil, trace.BadParameter("missing configuration")
	}

	resolver, err := buildResolver(cfg, clock)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	registry := transform.NewRegistry()
	transform.RegisterBuiltins(registry)

	schedMetrics, err := scheduler.NewMetrics(registerer)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	pipeMetrics, err := pipeline.NewMetrics(registerer)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	sched, err := scheduler.New(scheduler.Config{
		DatasetsDir:     cfg.DatasetsDir,
		QueryDir:        cfg.QueryDir,
		Connections:     cfg.Connections,
		Environment:     cfg.Environment,
		Resolver:        resolver,
		Registry:        registry,
		HotReload:       cfg.HotReload,
		RescanInterval:  cfg.RescanInterval(),
		GracePeriod:     cfg.GracePeriod(),
		Clock:           clock,
		Metrics:         schedMetrics,
		PipelineMetrics: pipeMetrics,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}

	return &Service{cfg: cfg, scheduler: sched, clock: clock}, nil
}

// buildResolver constructs the secret resolver, or nil when no secret
// store is configured.
func buildResolver(cfg *config.Config, clock clockwork.Clock) (*secrets.Resolver, error) {
	if !cfg.SecretsEnabled() {
		log.InfoContext(context.Background(), "No secret store configured, connection templates are used verbatim.")
		return nil, nil
	}

	clientConfig := cfg.ClientConfig()
	if cfg.Secrets.MTLS.Enabled {
		certs, err := certstore.NewDirProvider(cfg.Secrets.MTLS.CertDir)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		clientConfig.Certificates = certs
	}
	client, err := secrets.NewClient(clientConfig)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resolver, err := secrets.NewResolver(secrets.ResolverConfig{
		Client:   client,
		CacheTTL: time.Duration(cfg.Secrets.CacheTTLSec) * time.Second,
		Clock:    clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return resolver, nil
}

// Run starts the scheduler and blocks until ctx is cancelled or a
// SIGINT/SIGTERM arrives, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.InfoContext(ctx, "Datastream service starting.",
		"version", datastream.Version,
		"environment", s.cfg.Environment,
		"datasets_dir", s.cfg.DatasetsDir,
	)
	err := s.scheduler.Run(ctx)
	if err != nil && ctx.Err() == nil {
		return trace.Wrap(err)
	}
	log.InfoContext(context.Background(), "Datastream service stopped.")
	return trace.Wrap(err)
}

// RunDataset executes a single dataset immediately and returns its
// execution, used by the one-shot CLI command.
func (s *Service) RunDataset(ctx context.Context, datasetID string) (*pipeline.Execution, error) {
	e, err := s.scheduler.RunOnce(ctx, datasetID)
	return e, trace.Wrap(err)
}
