package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/artifact/local"
	"github.com/seantiz/factory-scheduler/internal/artifact/s3"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/backend/docker"
	"github.com/seantiz/factory-scheduler/internal/backend/memory"
	"github.com/seantiz/factory-scheduler/internal/config"
	"github.com/seantiz/factory-scheduler/internal/model"
)

// loadConfig reads the --config file and applies the --log override.
func loadConfig(cmd *cobra.Command) (config.Config, *slog.Logger, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.LoadFile(path)
	if err != nil {
		return config.Config{}, nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log"); lvl != "" {
		if err := cfg.LogLevel.UnmarshalText([]byte(lvl)); err != nil {
			return config.Config{}, nil, fmt.Errorf("log level: %w", err)
		}
	}
	return cfg, config.NewLogger(os.Stderr, cfg.LogLevel), nil
}

// openArtifactStore returns the configured storage service. The S3 bucket is
// created if it does not exist yet.
func openArtifactStore(cmd *cobra.Command, cfg config.Config) (artifact.Store, error) {
	switch strings.ToLower(cfg.ArtifactStore) {
	case local.Scheme, "local":
		return local.New(cfg.LocalRoot)
	case s3.Scheme:
		st, err := s3.New(s3.Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		if err := st.EnsureBucket(cmd.Context(), cfg.Bucket); err != nil {
			return nil, err
		}
		return st, nil
	case "memory":
		return artifact.NewMemoryStore("mem"), nil
	default:
		return nil, fmt.Errorf("unknown artifact store %q", cfg.ArtifactStore)
	}
}

// buildBackends registers every batch backend. The memory backend advances
// jobs on its own and writes placeholder outputs into artifacts; the docker
// backend mounts scenario directories from the local artifact root.
func buildBackends(cfg config.Config, artifacts artifact.Store, logger *slog.Logger) *backend.Registry {
	reg := backend.NewRegistry()
	reg.Register(memory.Name, memory.New(
		memory.WithAutoAdvance(model.StatusSucceeded),
		memory.WithArtifacts(artifacts),
		memory.WithLogger(logger),
	))
	reg.Register(docker.Name, docker.New(docker.CLI{}, cfg.LocalRoot, logger))
	return reg
}
