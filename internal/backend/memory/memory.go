// Package memory implements an in-process batch execution backend. Jobs
// advance one lifecycle step per status query until they reach their final
// state, which makes the full submit/poll/fetch loop runnable without any
// remote service.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/model"
)

// Name is the registry key of this backend.
const Name = "memory"

// Compile-time interface satisfaction check.
var _ backend.Service = (*Backend)(nil)

// Option configures a Backend.
type Option func(*Backend)

// WithAutoAdvance makes every Status call move a job one step along
// QUEUED → SCHEDULED → RUNNING → final until it reaches final.
func WithAutoAdvance(final model.Status) Option {
	return func(b *Backend) {
		b.autoAdvance = true
		b.final = final
	}
}

// WithArtifacts writes a metrics.json and results.json for each job into
// store when the job succeeds, mimicking the solver container's outputs.
func WithArtifacts(store artifact.Store) Option {
	return func(b *Backend) {
		b.artifacts = store
	}
}

// WithLogger sets the logger used for capacity warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Backend) {
		b.logger = logger
	}
}

type job struct {
	spec      backend.JobSpec
	status    model.Status
	statusErr error
	calls     int
}

// Backend is an in-process backend.Service. It is safe for concurrent use.
type Backend struct {
	autoAdvance bool
	final       model.Status
	artifacts   artifact.Store
	logger      *slog.Logger

	mu        sync.Mutex
	jobs      map[string]*job
	submitted []string
	submitErr func(spec backend.JobSpec) error
}

// New creates an empty backend.
func New(opts ...Option) *Backend {
	b := &Backend{
		final: model.StatusSucceeded,
		jobs:  make(map[string]*job),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{
		Name:         Name,
		MachineTypes: backend.MachineTypeNames(),
		Remote:       false,
	}
}

// Submit records the job as QUEUED after validating its capacity.
func (b *Backend) Submit(_ context.Context, spec backend.JobSpec) (string, error) {
	spec = spec.WithDefaults()
	if spec.JobID == "" {
		return "", fmt.Errorf("submit: empty job id")
	}
	if err := backend.ValidateCapacity(spec, b.logger); err != nil {
		return "", err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.submitErr != nil {
		if err := b.submitErr(spec); err != nil {
			return "", err
		}
	}
	if _, ok := b.jobs[spec.JobID]; ok {
		return "", fmt.Errorf("submit %s: job already exists", spec.JobID)
	}
	b.jobs[spec.JobID] = &job{spec: spec, status: model.StatusQueued}
	b.submitted = append(b.submitted, spec.JobID)
	return spec.JobID, nil
}

// Status returns the job's status, advancing it first when auto-advance is on.
func (b *Backend) Status(ctx context.Context, jobID string) (model.Status, error) {
	b.mu.Lock()
	j, ok := b.jobs[jobID]
	if !ok {
		b.mu.Unlock()
		return model.StatusUnspecified, fmt.Errorf("%w: %s", backend.ErrJobNotFound, jobID)
	}
	j.calls++
	if j.statusErr != nil {
		err := j.statusErr
		b.mu.Unlock()
		return model.StatusUnspecified, err
	}

	prev := j.status
	if b.autoAdvance && !j.status.IsTerminal() {
		if j.status >= model.StatusRunning {
			j.status = b.final
		} else {
			j.status++
		}
	}
	status, spec := j.status, j.spec
	b.mu.Unlock()

	if status == model.StatusSucceeded && prev != model.StatusSucceeded && b.artifacts != nil {
		if err := writeOutputs(ctx, b.artifacts, spec); err != nil {
			return model.StatusUnspecified, fmt.Errorf("write outputs for %s: %w", jobID, err)
		}
	}
	return status, nil
}

func (b *Backend) Delete(_ context.Context, jobID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.jobs[jobID]; !ok {
		return fmt.Errorf("%w: %s", backend.ErrJobNotFound, jobID)
	}
	delete(b.jobs, jobID)
	return nil
}

// List returns the ids of all live jobs in sorted order.
func (b *Backend) List(_ context.Context) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	ids := make([]string, 0, len(b.jobs))
	for id := range b.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// SetStatus forces a job into status.
func (b *Backend) SetStatus(jobID string, status model.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[jobID]; ok {
		j.status = status
		j.statusErr = nil
	}
}

// SetStatusErr makes Status calls for jobID fail with err until cleared
// with a nil err or a SetStatus call.
func (b *Backend) SetStatusErr(jobID string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[jobID]; ok {
		j.statusErr = err
	}
}

// FailSubmit installs a hook consulted on every Submit; a non-nil return
// aborts that submission.
func (b *Backend) FailSubmit(fn func(spec backend.JobSpec) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submitErr = fn
}

// Submitted returns every job id accepted so far, in submission order,
// including deleted ones.
func (b *Backend) Submitted() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.submitted...)
}

// Spec returns the stored spec of a live job.
func (b *Backend) Spec(jobID string) (backend.JobSpec, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	j, ok := b.jobs[jobID]
	if !ok {
		return backend.JobSpec{}, false
	}
	return j.spec, true
}

// StatusCalls returns how many times Status was called for jobID.
func (b *Backend) StatusCalls(jobID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if j, ok := b.jobs[jobID]; ok {
		return j.calls
	}
	return 0
}

func writeOutputs(ctx context.Context, store artifact.Store, spec backend.JobSpec) error {
	metrics, err := json.Marshal(map[string]float64{
		"makespan":   float64(len(spec.JobID)),
		"tardiness":  0,
		"iterations": 1,
	})
	if err != nil {
		return err
	}
	results, err := json.Marshal([]map[string]any{
		{"task": spec.JobID, "resource": spec.Machine.Name, "start": 0, "end": len(spec.JobID)},
	})
	if err != nil {
		return err
	}

	base := artifact.WithScheme(spec.DataPath, store.Scheme())
	if err := store.Upload(ctx, artifact.Join(base, "metrics.json"), metrics, true); err != nil {
		return err
	}
	return store.Upload(ctx, artifact.Join(base, "results.json"), results, true)
}
