package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/seantiz/factory-scheduler/internal/api"
	"github.com/seantiz/factory-scheduler/internal/artifact/local"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/backend/docker"
	"github.com/seantiz/factory-scheduler/internal/config"
	"github.com/seantiz/factory-scheduler/internal/engine"
	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/observability"
	"github.com/seantiz/factory-scheduler/internal/store"
)

const serviceName = "factory-scheduler"

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the status poller",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "listen address (overrides config)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.ListenAddr = addr
	}

	logger.Info("scheduler: starting",
		"listen_addr", cfg.ListenAddr,
		"db_path", cfg.DBPath,
		"backend", cfg.Backend,
		"artifact_store", cfg.ArtifactStore,
	)

	shutdownTracing, err := observability.InitTracing(serviceName, cfg.TraceExporter, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("tracing shutdown", "error", err)
		}
	}()

	opts, err := engineOptions(cfg)
	if err != nil {
		return err
	}

	artifacts, err := openArtifactStore(cmd, cfg)
	if err != nil {
		return fmt.Errorf("artifact store: %w", err)
	}
	if cfg.Backend == docker.Name && artifacts.Scheme() != local.Scheme {
		return fmt.Errorf("the docker backend mounts local directories and needs the %q artifact store", local.Scheme)
	}

	backends := buildBackends(cfg, artifacts, logger)
	svc, err := backends.Resolve(cfg.Backend)
	if err != nil {
		return err
	}

	db, err := store.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	eng := engine.NewEngine(svc, artifacts, db, opts, logger)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()
	eng.Start(ctx)

	srv := api.NewServer(cfg.ListenAddr, eng, backends, cfg.Backend, logger)
	runErr := srv.Run(ctx)

	// Let the poller finish its current cycle before the ledger closes.
	cancel()
	eng.Wait()
	return runErr
}

// engineOptions translates configuration into submitter and poller settings.
func engineOptions(cfg config.Config) (engine.Options, error) {
	machine, err := backend.LookupMachineType(cfg.MachineType)
	if err != nil {
		return engine.Options{}, err
	}
	policy, err := model.ParseAggregationPolicy(cfg.AggregationPolicy)
	if err != nil {
		return engine.Options{}, err
	}
	return engine.Options{
		Submit: engine.SubmitterConfig{
			Bucket:     cfg.Bucket,
			DataPrefix: cfg.DataPrefix,
			Image:      cfg.ContainerImage(),
			Machine:    machine,
			Rollback:   cfg.RollbackOnPartialFailure,
		},
		Poll: engine.PollerConfig{
			Interval:        cfg.PollInterval,
			ArtifactRetries: cfg.ArtifactRetries,
			Policy:          policy,
		},
	}, nil
}
