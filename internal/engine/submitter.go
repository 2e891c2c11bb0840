package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"slices"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/naming"
	"github.com/seantiz/factory-scheduler/internal/observability"
	"github.com/seantiz/factory-scheduler/internal/store"
)

// Staged input files and the solver arguments that reference them.
const (
	JobsFile   = "jobs.json"
	ParamsFile = "params.json"
)

// SolverArgs are the container arguments of every scenario job. Paths are
// relative to the mounted scenario directory.
var SolverArgs = []string{"--jobs", JobsFile, "--parameters", ParamsFile}

// SubmitterConfig holds the fixed parameters of every job submission.
type SubmitterConfig struct {
	Bucket     string
	DataPrefix string
	Image      string
	Machine    backend.MachineType

	// VCPUPerTask and MemoryMBPerTask default to the whole machine.
	VCPUPerTask     int
	MemoryMBPerTask int

	MaxRetries  int
	MaxDuration time.Duration
	Parallelism int

	// Rollback deletes already-submitted jobs when a later submission in
	// the same experiment fails.
	Rollback bool
}

// Submitter expands experiment creation requests into backend jobs.
type Submitter struct {
	cfg       SubmitterConfig
	backend   backend.Service
	artifacts artifact.Store
	ledger    store.Ledger
	logger    *slog.Logger
}

// NewSubmitter creates a submitter. ledger may be nil.
func NewSubmitter(cfg SubmitterConfig, svc backend.Service, artifacts artifact.Store, ledger store.Ledger, logger *slog.Logger) *Submitter {
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = backend.DefaultMaxRetries
	}
	return &Submitter{
		cfg:       cfg,
		backend:   svc,
		artifacts: artifacts,
		ledger:    ledger,
		logger:    logger,
	}
}

// plannedScenario is one validated table row ready for submission.
type plannedScenario struct {
	name     string
	params   map[string]any
	paramsJS []byte
	dataPath string
	spec     backend.JobSpec
}

// DataPath returns the storage location of one scenario's inputs and outputs.
// run identifies a single creation request, so an experiment that is deleted
// and created again never shares a directory with its predecessor's jobs.
func (s *Submitter) DataPath(experiment, run, scenario string) string {
	rel := path.Join(s.cfg.DataPrefix, "experiments", experiment, run, scenario)
	return artifact.WithScheme(artifact.Join(s.cfg.Bucket, rel), s.artifacts.Scheme())
}

// CreateExperiment validates the whole request, then stages inputs and
// submits one job per scenario row. Nothing is sent to the backend unless
// every row is valid and the jobs fit the machine. A failure after the first
// job was submitted returns a *PartialSubmissionError. The experiment is
// returned without being registered.
func (s *Submitter) CreateExperiment(ctx context.Context, name string, jobs, scenarioTable []byte) (exp *model.Experiment, err error) {
	ctx, span := observability.StartSpan(ctx, "experiment.create", attribute.String("experiment", name))
	defer func() { observability.EndSpan(span, err) }()

	plan, err := s.plan(name, scenarioTable)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("scenarios", len(plan)))

	// Once the first job may be live, stopping halfway would orphan it.
	ctx = context.WithoutCancel(ctx)

	scenarios := make([]*model.Scenario, 0, len(plan))
	var submitted []string
	for _, p := range plan {
		jobID, err := s.submit(ctx, name, jobs, p)
		if err != nil {
			if len(submitted) == 0 {
				return nil, fmt.Errorf("submit scenario %q: %w", p.name, err)
			}
			return nil, s.partialFailure(ctx, name, p.name, submitted, err)
		}
		submitted = append(submitted, jobID)
		sc := model.NewScenario(p.name, jobID, p.dataPath, p.params)
		sc.LogsRef = backend.LogsRef(s.backend, jobID)
		sc.ArtifactsURL = artifact.Locate(s.artifacts, p.dataPath)
		scenarios = append(scenarios, sc)
	}

	s.logger.Info("experiment submitted", "experiment", name, "scenarios", len(scenarios))
	return model.NewExperiment(name, scenarios), nil
}

// plan parses and validates the request without side effects.
func (s *Submitter) plan(name string, scenarioTable []byte) ([]plannedScenario, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: experiment name is empty", ErrMalformedInput)
	}
	if naming.SanitizeIdentifier(name) == "" {
		return nil, fmt.Errorf("%w: experiment name %q has no letters or digits", ErrMalformedInput, name)
	}
	if err := validatePathSegment(name); err != nil {
		return nil, fmt.Errorf("%w: experiment name: %v", ErrMalformedInput, err)
	}

	rows, err := ParseScenarioTable(scenarioTable)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: scenario table has no rows", ErrMalformedInput)
	}

	base := backend.JobSpec{
		Image:           s.cfg.Image,
		Args:            slices.Clone(SolverArgs),
		Machine:         s.cfg.Machine,
		VCPUPerTask:     s.cfg.VCPUPerTask,
		MemoryMBPerTask: s.cfg.MemoryMBPerTask,
		MaxRetries:      s.cfg.MaxRetries,
		MaxDuration:     s.cfg.MaxDuration,
		Parallelism:     s.cfg.Parallelism,
	}.WithDefaults()
	if err := backend.ValidateCapacity(base, s.logger); err != nil {
		return nil, err
	}

	run := naming.NewRunID()
	plan := make([]plannedScenario, 0, len(rows))
	seen := make(map[string]bool, len(rows))
	for i, row := range rows {
		scenario, _ := row[NameColumn].(string)
		if scenario == "" {
			return nil, fmt.Errorf("%w: row %d has an empty name", ErrMalformedInput, i+1)
		}
		if seen[scenario] {
			return nil, fmt.Errorf("%w: scenario name %q appears more than once", ErrMalformedInput, scenario)
		}
		seen[scenario] = true
		if naming.SanitizeIdentifier(scenario) == "" {
			return nil, fmt.Errorf("%w: scenario name %q has no letters or digits", ErrMalformedInput, scenario)
		}
		if err := validatePathSegment(scenario); err != nil {
			return nil, fmt.Errorf("%w: scenario name: %v", ErrMalformedInput, err)
		}

		paramsJS, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("%w: encode parameters of %q: %v", ErrMalformedInput, scenario, err)
		}

		dataPath := s.DataPath(name, run, scenario)
		spec := base
		spec.JobID = naming.NewJobID(name, scenario)
		spec.DataPath = dataPath
		spec.Labels = map[string]string{"experiment": name, "scenario": scenario}

		plan = append(plan, plannedScenario{
			name:     scenario,
			params:   row,
			paramsJS: paramsJS,
			dataPath: dataPath,
			spec:     spec,
		})
	}
	return plan, nil
}

// submit stages one scenario's inputs and submits its job.
func (s *Submitter) submit(ctx context.Context, experiment string, jobs []byte, p plannedScenario) (jobID string, err error) {
	ctx, span := observability.StartSpan(ctx, "experiment.submit_job",
		attribute.String("experiment", experiment),
		attribute.String("scenario", p.name),
		attribute.String("job_id", p.spec.JobID),
	)
	defer func() { observability.EndSpan(span, err) }()

	if err := s.artifacts.Upload(ctx, artifact.Join(p.dataPath, JobsFile), jobs, false); err != nil {
		return "", fmt.Errorf("stage %s: %w", JobsFile, err)
	}
	if err := s.artifacts.Upload(ctx, artifact.Join(p.dataPath, ParamsFile), p.paramsJS, false); err != nil {
		return "", fmt.Errorf("stage %s: %w", ParamsFile, err)
	}

	jobID, err = s.backend.Submit(ctx, p.spec)
	if err != nil {
		backendErrorsTotal.WithLabelValues("submit").Inc()
		return "", err
	}
	jobsSubmittedTotal.Inc()

	if s.ledger != nil {
		sub := store.Submission{
			JobID:      jobID,
			Experiment: experiment,
			Scenario:   p.name,
			DataPath:   p.dataPath,
			State:      store.SubmissionSubmitted,
		}
		if err := s.ledger.RecordSubmission(ctx, sub); err != nil {
			s.logger.Error("failed to record submission", "job_id", jobID, "error", err)
		}
	}

	s.logger.Info("job submitted", "experiment", experiment, "scenario", p.name, "job_id", jobID)
	return jobID, nil
}

func (s *Submitter) partialFailure(ctx context.Context, experiment, scenario string, submitted []string, cause error) error {
	perr := &PartialSubmissionError{
		Experiment: experiment,
		Scenario:   scenario,
		Submitted:  submitted,
		Err:        cause,
	}
	if s.cfg.Rollback {
		perr.RolledBack = s.Release(ctx, submitted, true) == nil
	} else {
		_ = s.Release(ctx, submitted, false)
	}
	s.logger.Error("partial submission",
		"experiment", experiment, "scenario", scenario,
		"submitted", submitted, "rolled_back", perr.RolledBack, "error", cause)
	return perr
}

// Release deals with jobs that no longer belong to a registered experiment.
// With del set they are deleted from the backend; otherwise they are only
// marked orphaned in the ledger so they can be found and cleaned up later.
func (s *Submitter) Release(ctx context.Context, jobIDs []string, del bool) error {
	var errs []error
	for _, id := range jobIDs {
		state := store.SubmissionOrphaned
		if del {
			if err := s.backend.Delete(ctx, id); err != nil && !errors.Is(err, backend.ErrJobNotFound) {
				errs = append(errs, fmt.Errorf("delete %s: %w", id, err))
			} else {
				state = store.SubmissionRolledBack
			}
		}
		if s.ledger != nil {
			if err := s.ledger.MarkSubmission(ctx, id, state); err != nil {
				s.logger.Error("failed to update submission", "job_id", id, "state", state, "error", err)
			}
		}
	}
	return errors.Join(errs...)
}

func validatePathSegment(name string) error {
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%q is not a valid path segment", name)
	}
	return nil
}
