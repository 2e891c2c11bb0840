package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/store"
)

// Options configures an Engine.
type Options struct {
	Submit SubmitterConfig
	Poll   PollerConfig
}

// Engine wires the registry, submitter, poller and event broker together
// and is what request handlers talk to.
type Engine struct {
	registry  *Registry
	submitter *Submitter
	poller    *Poller
	broker    *EventBroker
	backend   backend.Service
	ledger    store.Ledger
	logger    *slog.Logger
	wg        sync.WaitGroup
}

// NewEngine creates an engine. ledger may be nil.
func NewEngine(svc backend.Service, artifacts artifact.Store, ledger store.Ledger, opts Options, logger *slog.Logger) *Engine {
	registry := NewRegistry()
	broker := NewEventBroker()
	return &Engine{
		registry:  registry,
		submitter: NewSubmitter(opts.Submit, svc, artifacts, ledger, logger),
		poller:    NewPoller(opts.Poll, registry, svc, artifacts, broker, logger),
		broker:    broker,
		backend:   svc,
		ledger:    ledger,
		logger:    logger,
	}
}

// Registry returns the experiment registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// Broker returns the event broker for SSE subscription.
func (e *Engine) Broker() *EventBroker {
	return e.broker
}

// Poller returns the status poller.
func (e *Engine) Poller() *Poller {
	return e.poller
}

// Submitter returns the job submitter.
func (e *Engine) Submitter() *Submitter {
	return e.submitter
}

// Start launches the poller in the background. It stops when ctx is done.
func (e *Engine) Start(ctx context.Context) {
	e.wg.Go(func() {
		e.poller.Run(ctx)
	})
}

// Wait blocks until the poller has finished its last cycle.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// CreateExperiment submits an experiment and registers it. The name is
// reserved for the whole submission, so a concurrent request for the same
// name fails with ErrDuplicateName before staging or submitting anything.
func (e *Engine) CreateExperiment(ctx context.Context, name string, jobs, scenarioTable []byte) (*model.Experiment, error) {
	release, err := e.registry.Reserve(name)
	if err != nil {
		return nil, err
	}
	defer release()

	exp, err := e.submitter.CreateExperiment(ctx, name, jobs, scenarioTable)
	if err != nil {
		return nil, err
	}

	if err := e.registry.Add(exp); err != nil {
		ids := make([]string, 0)
		for _, sc := range exp.Scenarios() {
			ids = append(ids, sc.JobID)
		}
		if rerr := e.submitter.Release(context.WithoutCancel(ctx), ids, e.submitter.cfg.Rollback); rerr != nil {
			e.logger.Error("failed to release jobs", "experiment", name, "error", rerr)
		}
		return nil, err
	}
	e.broker.Open(name)
	return exp, nil
}

// DeleteExperiment removes the experiment from the registry and ends its
// event stream. Backend jobs keep running. It reports whether the
// experiment existed.
func (e *Engine) DeleteExperiment(name string) bool {
	removed := e.registry.Remove(name)
	if removed {
		e.broker.Close(name)
		e.logger.Info("experiment deleted", "experiment", name)
	}
	return removed
}

// ListJobs returns the ids of all jobs known to the backend.
func (e *Engine) ListJobs(ctx context.Context) ([]string, error) {
	ids, err := e.backend.List(ctx)
	if err != nil {
		backendErrorsTotal.WithLabelValues("list").Inc()
		return nil, err
	}
	return ids, nil
}

// DeleteJob deletes a backend job and records it in the ledger.
func (e *Engine) DeleteJob(ctx context.Context, jobID string) error {
	if err := e.backend.Delete(ctx, jobID); err != nil {
		if !errors.Is(err, backend.ErrJobNotFound) {
			backendErrorsTotal.WithLabelValues("delete").Inc()
		}
		return err
	}
	if e.ledger != nil {
		if err := e.ledger.MarkSubmission(ctx, jobID, store.SubmissionDeleted); err != nil && !errors.Is(err, store.ErrNotFound) {
			e.logger.Error("failed to update submission", "job_id", jobID, "error", err)
		}
	}
	e.logger.Info("job deleted", "job_id", jobID)
	return nil
}

// Submissions lists ledger records, optionally restricted to one state.
func (e *Engine) Submissions(ctx context.Context, state string) ([]store.Submission, error) {
	if e.ledger == nil {
		return []store.Submission{}, nil
	}
	return e.ledger.ListSubmissions(ctx, state)
}
