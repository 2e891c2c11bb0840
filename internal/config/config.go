package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultListenAddr      = ":8080"
	defaultDBPath          = "scheduler.db"
	defaultPollInterval    = 10 * time.Second
	defaultArtifactRetries = 3
	defaultBackend         = "memory"
	defaultArtifactStore   = "file"
	defaultLocalRoot       = "data"
	defaultBucket          = "factory-scheduler"
	defaultDataPrefix      = "factory-scheduler"
	defaultMachineType     = "e2-standard-2"
	defaultImage           = "factory-scheduler/solver:latest"
	defaultImageArchive    = "artifacts/scheduler.tar.gz"
	defaultTraceExporter   = "none"

	envListenAddr        = "SCHEDULER_LISTEN_ADDR"
	envDBPath            = "SCHEDULER_DB_PATH"
	envLogLevel          = "SCHEDULER_LOG_LEVEL"
	envPollInterval      = "SCHEDULER_POLL_INTERVAL"
	envArtifactRetries   = "SCHEDULER_ARTIFACT_RETRIES"
	envAggregation       = "SCHEDULER_AGGREGATION_POLICY"
	envBackend           = "SCHEDULER_BACKEND"
	envArtifactStore     = "SCHEDULER_ARTIFACT_STORE"
	envLocalRoot         = "SCHEDULER_LOCAL_ROOT"
	envS3Endpoint        = "SCHEDULER_S3_ENDPOINT"
	envS3AccessKey       = "SCHEDULER_S3_ACCESS_KEY"
	envS3SecretKey       = "SCHEDULER_S3_SECRET_KEY"
	envS3Region          = "SCHEDULER_S3_REGION"
	envS3UseSSL          = "SCHEDULER_S3_USE_SSL"
	envBucket            = "SCHEDULER_BUCKET"
	envDataPrefix        = "SCHEDULER_DATA_PREFIX"
	envImage             = "SCHEDULER_IMAGE"
	envImageArchive      = "SCHEDULER_IMAGE_ARCHIVE"
	envMachineType       = "SCHEDULER_MACHINE_TYPE"
	envRollback          = "SCHEDULER_ROLLBACK_ON_PARTIAL_FAILURE"
	envTraceExporter     = "SCHEDULER_TRACE_EXPORTER"
	envArtifactsRegistry = "SCHEDULER_ARTIFACTS_REGISTRY"
)

// Config holds application configuration loaded from environment variables
// and an optional YAML file.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	PollInterval      time.Duration
	ArtifactRetries   int
	AggregationPolicy string

	Backend       string
	ArtifactStore string
	LocalRoot     string
	S3Endpoint    string
	S3AccessKey   string
	S3SecretKey   string
	S3Region      string
	S3UseSSL      bool

	Bucket            string
	DataPrefix        string
	Image             string
	ImageArchive      string
	ArtifactsRegistry string
	MachineType       string

	RollbackOnPartialFailure bool
	TraceExporter            string
}

// fileConfig mirrors Config for YAML decoding. Unset keys keep the default.
type fileConfig struct {
	ListenAddr        string `yaml:"listen_addr"`
	DBPath            string `yaml:"db_path"`
	LogLevel          string `yaml:"log_level"`
	PollInterval      string `yaml:"poll_interval"`
	ArtifactRetries   *int   `yaml:"artifact_retries"`
	AggregationPolicy string `yaml:"aggregation_policy"`

	Backend       string `yaml:"backend"`
	ArtifactStore string `yaml:"artifact_store"`
	LocalRoot     string `yaml:"local_root"`
	S3Endpoint    string `yaml:"s3_endpoint"`
	S3AccessKey   string `yaml:"s3_access_key"`
	S3SecretKey   string `yaml:"s3_secret_key"`
	S3Region      string `yaml:"region"`
	S3UseSSL      *bool  `yaml:"s3_use_ssl"`

	Bucket            string `yaml:"bucket_name"`
	DataPrefix        string `yaml:"data_prefix"`
	Image             string `yaml:"image"`
	ImageArchive      string `yaml:"image_archive"`
	ArtifactsRegistry string `yaml:"artifacts_repository_name"`
	MachineType       string `yaml:"batch_machine_type"`

	RollbackOnPartialFailure *bool  `yaml:"rollback_on_partial_failure"`
	TraceExporter            string `yaml:"trace_exporter"`
}

func defaults() Config {
	return Config{
		ListenAddr:      defaultListenAddr,
		DBPath:          defaultDBPath,
		LogLevel:        slog.LevelInfo,
		PollInterval:    defaultPollInterval,
		ArtifactRetries: defaultArtifactRetries,
		Backend:         defaultBackend,
		ArtifactStore:   defaultArtifactStore,
		LocalRoot:       defaultLocalRoot,
		Bucket:          defaultBucket,
		DataPrefix:      defaultDataPrefix,
		ImageArchive:    defaultImageArchive,
		MachineType:     defaultMachineType,
		TraceExporter:   defaultTraceExporter,
	}
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := defaults()
	applyEnv(&cfg)
	return cfg
}

// LoadFile reads the YAML file at path over the defaults and then applies
// environment variables, which take precedence. An empty path is Load.
func LoadFile(path string) (Config, error) {
	cfg := defaults()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		var fc fileConfig
		if err := yaml.Unmarshal(data, &fc); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
		if err := fc.apply(&cfg); err != nil {
			return Config{}, fmt.Errorf("config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

// ContainerImage returns the solver image reference. Without an explicit
// image it is derived from the artifacts registry, if one is configured.
func (c Config) ContainerImage() string {
	switch {
	case c.Image != "":
		return c.Image
	case c.ArtifactsRegistry != "":
		return strings.TrimRight(c.ArtifactsRegistry, "/") + "/scheduler:latest"
	default:
		return defaultImage
	}
}

func (fc fileConfig) apply(cfg *Config) error {
	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.DBPath, fc.DBPath)
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	if fc.PollInterval != "" {
		d, err := time.ParseDuration(fc.PollInterval)
		if err != nil || d <= 0 {
			return fmt.Errorf("invalid poll_interval %q", fc.PollInterval)
		}
		cfg.PollInterval = d
	}
	if fc.ArtifactRetries != nil {
		cfg.ArtifactRetries = *fc.ArtifactRetries
	}
	setString(&cfg.AggregationPolicy, fc.AggregationPolicy)
	setString(&cfg.Backend, fc.Backend)
	setString(&cfg.ArtifactStore, fc.ArtifactStore)
	setString(&cfg.LocalRoot, fc.LocalRoot)
	setString(&cfg.S3Endpoint, fc.S3Endpoint)
	setString(&cfg.S3AccessKey, fc.S3AccessKey)
	setString(&cfg.S3SecretKey, fc.S3SecretKey)
	setString(&cfg.S3Region, fc.S3Region)
	if fc.S3UseSSL != nil {
		cfg.S3UseSSL = *fc.S3UseSSL
	}
	setString(&cfg.Bucket, fc.Bucket)
	setString(&cfg.DataPrefix, fc.DataPrefix)
	setString(&cfg.Image, fc.Image)
	setString(&cfg.ImageArchive, fc.ImageArchive)
	setString(&cfg.ArtifactsRegistry, fc.ArtifactsRegistry)
	setString(&cfg.MachineType, fc.MachineType)
	if fc.RollbackOnPartialFailure != nil {
		cfg.RollbackOnPartialFailure = *fc.RollbackOnPartialFailure
	}
	setString(&cfg.TraceExporter, fc.TraceExporter)
	return nil
}

func applyEnv(cfg *Config) {
	setString(&cfg.ListenAddr, os.Getenv(envListenAddr))
	setString(&cfg.DBPath, os.Getenv(envDBPath))
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	if v := os.Getenv(envPollInterval); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.PollInterval = d
		}
	}
	if v := os.Getenv(envArtifactRetries); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ArtifactRetries = n
		}
	}
	setString(&cfg.AggregationPolicy, os.Getenv(envAggregation))
	setString(&cfg.Backend, os.Getenv(envBackend))
	setString(&cfg.ArtifactStore, os.Getenv(envArtifactStore))
	setString(&cfg.LocalRoot, os.Getenv(envLocalRoot))
	setString(&cfg.S3Endpoint, os.Getenv(envS3Endpoint))
	setString(&cfg.S3AccessKey, os.Getenv(envS3AccessKey))
	setString(&cfg.S3SecretKey, os.Getenv(envS3SecretKey))
	setString(&cfg.S3Region, os.Getenv(envS3Region))
	setBool(&cfg.S3UseSSL, os.Getenv(envS3UseSSL))
	setString(&cfg.Bucket, os.Getenv(envBucket))
	setString(&cfg.DataPrefix, os.Getenv(envDataPrefix))
	setString(&cfg.Image, os.Getenv(envImage))
	setString(&cfg.ImageArchive, os.Getenv(envImageArchive))
	setString(&cfg.ArtifactsRegistry, os.Getenv(envArtifactsRegistry))
	setString(&cfg.MachineType, os.Getenv(envMachineType))
	setBool(&cfg.RollbackOnPartialFailure, os.Getenv(envRollback))
	setString(&cfg.TraceExporter, os.Getenv(envTraceExporter))
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v string) {
	if b, err := strconv.ParseBool(v); err == nil {
		*dst = b
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
