package model

import (
	"sync"
	"time"
)

// Artifacts holds the two solver outputs relayed for a succeeded scenario.
type Artifacts struct {
	Metrics map[string]any   `json:"metrics"`
	Results []map[string]any `json:"results"`
}

// ScenarioUpdate is applied to a scenario as one atomic step, so readers
// never see a status without the artifacts fetched alongside it.
type ScenarioUpdate struct {
	Status Status

	// Artifacts, when set, replaces metrics and results.
	Artifacts *Artifacts

	// ArtifactsFailed records a failed artifact fetch for a later retry.
	ArtifactsFailed bool
}

// ScenarioView is a point-in-time copy of a scenario.
type ScenarioView struct {
	Name             string           `json:"name"`
	JobID            string           `json:"job_id"`
	Parameters       map[string]any   `json:"parameters"`
	RemoteDataPath   string           `json:"remote_data_path"`
	LogsRef          string           `json:"logs_ref,omitempty"`
	ArtifactsURL     string           `json:"artifacts_url,omitempty"`
	Status           Status           `json:"status"`
	Metrics          map[string]any   `json:"metrics"`
	Results          []map[string]any `json:"results"`
	ArtifactsPending bool             `json:"artifacts_pending,omitempty"`
	ArtifactAttempts int              `json:"artifact_attempts,omitempty"`
}

// Scenario is one parameterized solver run mapped to exactly one backend job.
// Identity fields are immutable after creation; status, metrics and results
// are guarded by mu and only changed through Update.
type Scenario struct {
	Name           string
	JobID          string
	Parameters     map[string]any
	RemoteDataPath string

	// LogsRef and ArtifactsURL point a person at the job's logs and at its
	// storage directory. Either may be empty.
	LogsRef      string
	ArtifactsURL string

	mu               sync.RWMutex
	status           Status
	metrics          map[string]any
	results          []map[string]any
	artifactsPending bool
	artifactAttempts int
}

// NewScenario returns a scenario in the QUEUED state.
func NewScenario(name, jobID, remoteDataPath string, params map[string]any) *Scenario {
	if params == nil {
		params = map[string]any{}
	}
	return &Scenario{
		Name:           name,
		JobID:          jobID,
		Parameters:     params,
		RemoteDataPath: remoteDataPath,
		status:         StatusQueued,
		metrics:        map[string]any{},
		results:        []map[string]any{},
	}
}

// Status returns the current status.
func (s *Scenario) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// Update applies u under the scenario lock.
func (s *Scenario) Update(u ScenarioUpdate) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.status = u.Status
	switch {
	case u.Artifacts != nil:
		s.metrics = u.Artifacts.Metrics
		s.results = u.Artifacts.Results
		if s.metrics == nil {
			s.metrics = map[string]any{}
		}
		if s.results == nil {
			s.results = []map[string]any{}
		}
		s.artifactsPending = false
	case u.ArtifactsFailed:
		s.artifactsPending = true
		s.artifactAttempts++
	}
}

// Snapshot returns a copy of the scenario. Metrics and results are replaced
// wholesale on update, never mutated in place, so the returned references
// stay stable.
func (s *Scenario) Snapshot() ScenarioView {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return ScenarioView{
		Name:             s.Name,
		JobID:            s.JobID,
		Parameters:       s.Parameters,
		RemoteDataPath:   s.RemoteDataPath,
		LogsRef:          s.LogsRef,
		ArtifactsURL:     s.ArtifactsURL,
		Status:           s.status,
		Metrics:          s.metrics,
		Results:          s.results,
		ArtifactsPending: s.artifactsPending,
		ArtifactAttempts: s.artifactAttempts,
	}
}

// ExperimentView is a point-in-time copy of an experiment.
type ExperimentView struct {
	Name      string         `json:"name"`
	Status    Status         `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
	Scenarios []ScenarioView `json:"scenarios"`
}

// Experiment is a named group of scenarios submitted together.
type Experiment struct {
	Name      string
	CreatedAt time.Time

	mu        sync.RWMutex
	scenarios []*Scenario
	status    Status
	detached  bool
}

// NewExperiment returns a QUEUED experiment owning scenarios.
func NewExperiment(name string, scenarios []*Scenario) *Experiment {
	return &Experiment{
		Name:      name,
		CreatedAt: time.Now().UTC(),
		scenarios: scenarios,
		status:    StatusQueued,
	}
}

// Scenarios returns a copy of the scenario list.
func (e *Experiment) Scenarios() []*Scenario {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*Scenario, len(e.scenarios))
	copy(out, e.scenarios)
	return out
}

// AppendScenario adds a scenario to the end of the list.
func (e *Experiment) AppendScenario(s *Scenario) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.scenarios = append(e.scenarios, s)
}

// Status returns the last aggregated status.
func (e *Experiment) Status() Status {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// Recompute folds the current scenario statuses into the experiment status
// using policy. An experiment without scenarios keeps its status.
func (e *Experiment) Recompute(policy AggregationPolicy) Status {
	scenarios := e.Scenarios()
	statuses := make([]Status, 0, len(scenarios))
	for _, s := range scenarios {
		statuses = append(statuses, s.Status())
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if agg, ok := Aggregate(policy, statuses); ok {
		e.status = agg
	}
	return e.status
}

// Detach marks the experiment as removed from its registry.
func (e *Experiment) Detach() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.detached = true
}

// Detached reports whether the experiment has been removed from its registry.
func (e *Experiment) Detached() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.detached
}

// Snapshot returns a copy of the experiment and all of its scenarios.
func (e *Experiment) Snapshot() ExperimentView {
	scenarios := e.Scenarios()
	views := make([]ScenarioView, len(scenarios))
	for i, s := range scenarios {
		views[i] = s.Snapshot()
	}
	return ExperimentView{
		Name:      e.Name,
		Status:    e.Status(),
		CreatedAt: e.CreatedAt,
		Scenarios: views,
	}
}
