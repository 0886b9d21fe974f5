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

// Command datastream runs the dataset ingestion service.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/alecthomas/kingpin/v2"

	"github.com/gravitational/datastream"
	"github.com/gravitational/datastream/lib/config"
	"github.com/gravitational/datastream/lib/pipeline"
	"github.com/gravitational/datastream/lib/service"
	logutils "github.com/gravitational/datastream/lib/utils/log"
)

const defaultConfigPath = "/etc/datastream/datastream.yaml"

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "ERROR:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	app := kingpin.New("datastream", "Scheduled dataset extraction and publishing service.")

	start := app.Command("start", "Start the service and run dataset schedules.")
	startConfig := start.Flag("config", "Path to the configuration file.").
		Short('c').Default(defaultConfigPath).String()
	startDatasets := start.Flag("datasets-dir", "Override the datasets directory.").String()

	runOne := app.Command("run", "Execute one dataset immediately, bypassing its schedule.")
	runConfig := runOne.Flag("config", "Path to the configuration file.").
		Short('c').Default(defaultConfigPath).String()
	runDataset := runOne.Arg("dataset-id", "Dataset to execute.").Required().String()

	validate := app.Command("validate", "Validate the configuration and all dataset definitions.")
	validateConfig := validate.Flag("config", "Path to the configuration file.").
		Short('c').Default(defaultConfigPath).String()

	version := app.Command("version", "Print the version.")

	command, err := app.Parse(args)
	if err != nil {
		return err
	}

	ctx := context.Background()
	switch command {
	case start.FullCommand():
		return onStart(ctx, *startConfig, *startDatasets)
	case runOne.FullCommand():
		return onRun(ctx, *runConfig, *runDataset)
	case validate.FullCommand():
		logutils.Initialize(slog.LevelInfo)
		return service.Validate(ctx, *validateConfig)
	case version.FullCommand():
		fmt.Println("datastream", datastream.Version)
		return nil
	}
	return nil
}

func loadService(configPath, datasetsDir string) (*service.Service, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if datasetsDir != "" {
		cfg.DatasetsDir = datasetsDir
	}
	level, err := cfg.ParseLogLevel()
	if err != nil {
		return nil, err
	}
	logutils.Initialize(level)
	return service.New(cfg)
}

func onStart(ctx context.Context, configPath, datasetsDir string) error {
	svc, err := loadService(configPath, datasetsDir)
	if err != nil {
		return err
	}
	return svc.Run(ctx)
}

func onRun(ctx context.Context, configPath, datasetID string) error {
	svc, err := loadService(configPath, "")
	if err != nil {
		return err
	}
	e, err := svc.RunDataset(ctx, datasetID)
	if err != nil {
		return err
	}
	if e.State != pipeline.StateSucceeded {
		return fmt.Errorf("execution %s finished with state %s and %d error(s)", e.ID, e.State, len(e.Errors))
	}
	fmt.Printf("execution %s succeeded, published %s\n", e.ID, e.PublishedURI)
	return nil
}
