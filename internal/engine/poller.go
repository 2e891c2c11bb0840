package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/observability"
)

// Solver output files read from a scenario's data path on success.
const (
	MetricsFile = "metrics.json"
	ResultsFile = "results.json"
)

// DefaultPollInterval is the pause between poll cycles.
const DefaultPollInterval = 10 * time.Second

// PollerConfig tunes the poll loop.
type PollerConfig struct {
	Interval time.Duration

	// ArtifactRetries is how many later cycles may retry a failed artifact
	// fetch for a succeeded scenario. Zero means one attempt per transition.
	ArtifactRetries int

	Policy model.AggregationPolicy
}

// Poller is the single background writer of scenario and experiment state.
type Poller struct {
	cfg       PollerConfig
	registry  *Registry
	backend   backend.Service
	artifacts artifact.Store
	events    *EventBroker
	logger    *slog.Logger
}

// NewPoller creates a poller over registry. events may be nil.
func NewPoller(cfg PollerConfig, registry *Registry, svc backend.Service, artifacts artifact.Store, events *EventBroker, logger *slog.Logger) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.ArtifactRetries < 0 {
		cfg.ArtifactRetries = 0
	}
	if cfg.Policy == "" {
		cfg.Policy = model.PolicyMinimum
	}
	return &Poller{
		cfg:       cfg,
		registry:  registry,
		backend:   svc,
		artifacts: artifacts,
		events:    events,
		logger:    logger,
	}
}

// Run polls until ctx is cancelled. A cycle in progress when ctx is
// cancelled runs to completion with its backend calls left uncancelled.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("poller started", "interval", p.cfg.Interval, "policy", p.cfg.Policy)
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return
		case <-timer.C:
		}

		p.PollOnce(context.WithoutCancel(ctx))
		timer.Reset(p.cfg.Interval)
	}
}

// PollOnce runs a single cycle over every registered experiment.
func (p *Poller) PollOnce(ctx context.Context) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "poller.cycle")
	defer span.End()

	experiments := p.registry.List()
	span.SetAttributes(attribute.Int("experiments", len(experiments)))
	for _, exp := range experiments {
		p.pollExperiment(ctx, exp)
	}

	pollCyclesTotal.Inc()
	pollCycleDuration.Observe(time.Since(start).Seconds())
}

func (p *Poller) pollExperiment(ctx context.Context, exp *model.Experiment) {
	var transitions []Event
	for _, sc := range exp.Scenarios() {
		// Deleted since the cycle started.
		if exp.Detached() {
			return
		}
		if ev, ok := p.pollScenario(ctx, exp.Name, sc); ok {
			transitions = append(transitions, ev)
		}
	}
	if exp.Detached() {
		return
	}

	prev := exp.Status()
	status := exp.Recompute(p.cfg.Policy)
	if status != prev {
		p.logger.Info("experiment status changed", "experiment", exp.Name, "from", prev, "to", status)
	}

	if p.events == nil {
		return
	}
	for _, ev := range transitions {
		ev.ExperimentStatus = status
		p.events.Publish(ev)
	}
}

// pollScenario refreshes one scenario and reports a status transition.
func (p *Poller) pollScenario(ctx context.Context, experiment string, sc *model.Scenario) (Event, bool) {
	view := sc.Snapshot()
	status := view.Status

	if !status.IsTerminal() {
		got, err := p.backend.Status(ctx, sc.JobID)
		if err != nil {
			backendErrorsTotal.WithLabelValues("status").Inc()
			p.logger.Warn("status poll failed",
				"experiment", experiment, "scenario", sc.Name, "job_id", sc.JobID,
				"error", fmt.Errorf("%w: %w", ErrBackendUnavailable, err))
			return Event{}, false
		}
		status = got
	}
	changed := status != view.Status

	fetch := status == model.StatusSucceeded &&
		(changed || (view.ArtifactsPending && view.ArtifactAttempts <= p.cfg.ArtifactRetries))
	if !changed && !fetch {
		return Event{}, false
	}

	update := model.ScenarioUpdate{Status: status}
	if fetch {
		arts, err := p.fetchArtifacts(ctx, view.RemoteDataPath)
		if err != nil {
			backendErrorsTotal.WithLabelValues("artifacts").Inc()
			level := slog.LevelWarn
			if !errors.Is(err, ErrBackendUnavailable) {
				level = slog.LevelError
			}
			p.logger.Log(ctx, level, "artifact fetch failed",
				"experiment", experiment, "scenario", sc.Name, "job_id", sc.JobID,
				"attempt", view.ArtifactAttempts+1, "error", err)
			update.ArtifactsFailed = true
		} else {
			update.Artifacts = arts
		}
	}
	sc.Update(update)

	if !changed {
		return Event{}, false
	}
	scenarioTransitionsTotal.WithLabelValues(status.String()).Inc()
	p.logger.Info("scenario status changed",
		"experiment", experiment, "scenario", sc.Name, "job_id", sc.JobID,
		"from", view.Status, "to", status)
	return Event{
		Experiment: experiment,
		Scenario:   sc.Name,
		JobID:      sc.JobID,
		Status:     status,
		Time:       time.Now().UTC(),
	}, true
}

// fetchArtifacts downloads and decodes both solver outputs. Transport
// failures wrap ErrBackendUnavailable; malformed documents do not.
func (p *Poller) fetchArtifacts(ctx context.Context, dataPath string) (*model.Artifacts, error) {
	metrics, err := artifact.Download(ctx, p.artifacts, artifact.Join(dataPath, MetricsFile), artifact.DecodeJSON[map[string]any])
	if err != nil {
		return nil, classify(MetricsFile, err)
	}
	results, err := artifact.Download(ctx, p.artifacts, artifact.Join(dataPath, ResultsFile), artifact.DecodeJSON[[]map[string]any])
	if err != nil {
		return nil, classify(ResultsFile, err)
	}
	return &model.Artifacts{Metrics: metrics, Results: results}, nil
}

func classify(file string, err error) error {
	if errors.Is(err, artifact.ErrDecode) {
		return fmt.Errorf("%s: %w", file, err)
	}
	return fmt.Errorf("%s: %w: %w", file, ErrBackendUnavailable, err)
}
