package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"path"
	"slices"
	"strings"
	"testing"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/backend/memory"
	"github.com/seantiz/factory-scheduler/internal/engine"
	"github.com/seantiz/factory-scheduler/internal/model"
	"github.com/seantiz/factory-scheduler/internal/naming"
	"github.com/seantiz/factory-scheduler/internal/store"
)

func TestCreateExperimentTwoScenarios(t *testing.T) {
	f := newFixture(t, engine.Options{})
	ctx := context.Background()

	exp, err := f.engine.Submitter().CreateExperiment(ctx, "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if f.engine.Registry().Has("trial-1") {
		t.Error("submitter registered the experiment itself")
	}
	if exp.Status() != model.StatusQueued {
		t.Errorf("experiment status = %v, want QUEUED", exp.Status())
	}

	scenarios := exp.Scenarios()
	if len(scenarios) != 2 {
		t.Fatalf("scenarios = %d, want 2", len(scenarios))
	}

	wantPrefix := map[string]string{"fast": "trial1fast", "slow": "trial1slow"}
	for _, sc := range scenarios {
		if !strings.HasPrefix(naming.SanitizeIdentifier(sc.JobID), wantPrefix[sc.Name]) {
			t.Errorf("job id %q lacks prefix %q", sc.JobID, wantPrefix[sc.Name])
		}
		if sc.Status() != model.StatusQueued {
			t.Errorf("%s status = %v, want QUEUED", sc.Name, sc.Status())
		}
		const prefix = "gs://bucket/factory-scheduler/experiments/trial-1/"
		if !strings.HasPrefix(sc.RemoteDataPath, prefix) || !strings.HasSuffix(sc.RemoteDataPath, "/"+sc.Name) {
			t.Errorf("%s RemoteDataPath = %q, want %s<run>/%s", sc.Name, sc.RemoteDataPath, prefix, sc.Name)
		}
	}
	if scenarios[0].JobID == scenarios[1].JobID {
		t.Error("scenario job ids are not distinct")
	}
	if path.Dir(scenarios[0].RemoteDataPath) != path.Dir(scenarios[1].RemoteDataPath) {
		t.Errorf("scenarios of one experiment use different run directories: %q, %q",
			scenarios[0].RemoteDataPath, scenarios[1].RemoteDataPath)
	}
	if scenarios[0].Parameters["population"] != int64(10) {
		t.Errorf("fast population = %#v, want 10", scenarios[0].Parameters["population"])
	}

	if got := f.backend.Submitted(); len(got) != 2 {
		t.Errorf("backend submissions = %v, want 2", got)
	}
}

func TestCreateExperimentStagesInputs(t *testing.T) {
	f := newFixture(t, engine.Options{})
	ctx := context.Background()

	exp, err := f.engine.Submitter().CreateExperiment(ctx, "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	fast := exp.Scenarios()[0]

	jobs, err := f.artifacts.Get(ctx, fast.RemoteDataPath+"/jobs.json")
	if err != nil {
		t.Fatalf("get jobs.json: %v", err)
	}
	if string(jobs) != testJobs {
		t.Errorf("jobs.json = %s", jobs)
	}

	raw, err := f.artifacts.Get(ctx, fast.RemoteDataPath+"/params.json")
	if err != nil {
		t.Fatalf("get params.json: %v", err)
	}
	var params map[string]any
	if err := json.Unmarshal(raw, &params); err != nil {
		t.Fatalf("decode params.json: %v", err)
	}
	if params["name"] != "fast" || params["elitism"] != true || params["population"] != float64(10) {
		t.Errorf("params.json = %v", params)
	}

	spec, ok := f.backend.Spec(fast.JobID)
	if !ok {
		t.Fatalf("backend has no job %s", fast.JobID)
	}
	if !slices.Equal(spec.Args, []string{"--jobs", "jobs.json", "--parameters", "params.json"}) {
		t.Errorf("Args = %v", spec.Args)
	}
	if spec.MountPath != backend.DefaultMountPath {
		t.Errorf("MountPath = %q", spec.MountPath)
	}
	if spec.DataPath != fast.RemoteDataPath {
		t.Errorf("DataPath = %q, want %q", spec.DataPath, fast.RemoteDataPath)
	}
	if spec.VCPUPerTask != 2 || spec.MemoryMBPerTask != 8192 || spec.Parallelism != 1 {
		t.Errorf("resources = %d vCPU, %d MB, x%d", spec.VCPUPerTask, spec.MemoryMBPerTask, spec.Parallelism)
	}
	if spec.MaxRetries != 2 || spec.MaxDuration.Seconds() != 3600 {
		t.Errorf("retries = %d, max duration = %v", spec.MaxRetries, spec.MaxDuration)
	}
	if spec.Labels["experiment"] != "trial-1" || spec.Labels["scenario"] != "fast" {
		t.Errorf("Labels = %v", spec.Labels)
	}
}

func TestCreateExperimentCapacityExceeded(t *testing.T) {
	cfg := testSubmitConfig(t)
	cfg.VCPUPerTask = 1
	cfg.Parallelism = 4
	f := newFixture(t, engine.Options{Submit: cfg})

	_, err := f.engine.Submitter().CreateExperiment(context.Background(), "trial-1", []byte(testJobs), []byte(trialScenarios))
	if !errors.Is(err, backend.ErrCapacityExceeded) {
		t.Fatalf("error = %v, want ErrCapacityExceeded", err)
	}
	if got := f.backend.Submitted(); len(got) != 0 {
		t.Errorf("backend submissions = %v, want none", got)
	}
	if keys := f.artifacts.Keys(); len(keys) != 0 {
		t.Errorf("staged files = %v, want none", keys)
	}
}

func TestCreateExperimentMalformedInput(t *testing.T) {
	tests := []struct {
		desc  string
		name  string
		table string
	}{
		{"missing name column", "e", "scenario\nfast\n"},
		{"empty scenario name", "e", "name,x\nfast,1\n,2\n"},
		{"duplicate scenario", "e", "name\nfast\nfast\n"},
		{"unsanitizable scenario", "e", "name\n---\n"},
		{"path escape", "e", "name\n..\n"},
		{"empty experiment name", "  ", "name\nfast\n"},
		{"unsanitizable experiment", "!!!", "name\nfast\n"},
		{"header only", "e", "name,population\n"},
	}
	for _, tt := range tests {
		f := newFixture(t, engine.Options{})
		_, err := f.engine.Submitter().CreateExperiment(context.Background(), tt.name, []byte(testJobs), []byte(tt.table))
		if !errors.Is(err, engine.ErrMalformedInput) {
			t.Errorf("%s: error = %v, want ErrMalformedInput", tt.desc, err)
		}
		if got := f.backend.Submitted(); len(got) != 0 {
			t.Errorf("%s: backend submissions = %v, want none", tt.desc, got)
		}
	}
}

func TestCreateExperimentPartialFailure(t *testing.T) {
	f := newFixture(t, engine.Options{})
	ctx := context.Background()
	quota := errors.New("quota exceeded")
	f.backend.FailSubmit(func(spec backend.JobSpec) error {
		if spec.Labels["scenario"] == "c" {
			return quota
		}
		return nil
	})

	_, err := f.engine.Submitter().CreateExperiment(ctx, "e", []byte(testJobs), []byte("name\na\nb\nc\nd\n"))
	if !errors.Is(err, engine.ErrPartialSubmission) {
		t.Fatalf("error = %v, want ErrPartialSubmission", err)
	}
	if !errors.Is(err, quota) {
		t.Errorf("error does not wrap the cause: %v", err)
	}

	var perr *engine.PartialSubmissionError
	if !errors.As(err, &perr) {
		t.Fatalf("error is not a *PartialSubmissionError: %T", err)
	}
	if len(perr.Submitted) != 2 || perr.Scenario != "c" || perr.RolledBack {
		t.Errorf("PartialSubmissionError = %+v", perr)
	}

	// Submitted jobs stay live and are recorded as orphans.
	live, _ := f.backend.List(ctx)
	if len(live) != 2 {
		t.Errorf("live jobs = %v, want 2", live)
	}
	orphans, err := f.ledger.ListSubmissions(ctx, store.SubmissionOrphaned)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(orphans) != 2 {
		t.Errorf("orphans = %+v, want 2", orphans)
	}
}

func TestCreateExperimentPartialFailureRollback(t *testing.T) {
	cfg := testSubmitConfig(t)
	cfg.Rollback = true
	f := newFixture(t, engine.Options{Submit: cfg})
	ctx := context.Background()
	f.backend.FailSubmit(func(spec backend.JobSpec) error {
		if spec.Labels["scenario"] == "b" {
			return errors.New("boom")
		}
		return nil
	})

	_, err := f.engine.Submitter().CreateExperiment(ctx, "e", []byte(testJobs), []byte("name\na\nb\n"))
	var perr *engine.PartialSubmissionError
	if !errors.As(err, &perr) {
		t.Fatalf("error = %v, want *PartialSubmissionError", err)
	}
	if !perr.RolledBack {
		t.Error("RolledBack = false, want true")
	}
	if live, _ := f.backend.List(ctx); len(live) != 0 {
		t.Errorf("live jobs = %v, want none", live)
	}
	rolled, _ := f.ledger.ListSubmissions(ctx, store.SubmissionRolledBack)
	if len(rolled) != 1 {
		t.Errorf("rolled back submissions = %+v, want 1", rolled)
	}
}

func TestCreateExperimentFirstSubmitFailureIsNotPartial(t *testing.T) {
	f := newFixture(t, engine.Options{})
	f.backend.FailSubmit(func(backend.JobSpec) error { return errors.New("down") })

	_, err := f.engine.Submitter().CreateExperiment(context.Background(), "e", []byte(testJobs), []byte("name\na\nb\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if errors.Is(err, engine.ErrPartialSubmission) {
		t.Errorf("error = %v, should not be a partial submission", err)
	}
}

func TestCreateExperimentRecordsLedger(t *testing.T) {
	f := newFixture(t, engine.Options{})
	ctx := context.Background()

	exp, err := f.engine.Submitter().CreateExperiment(ctx, "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	subs, err := f.ledger.ListSubmissions(ctx, store.SubmissionSubmitted)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("submissions = %d, want 2", len(subs))
	}
	ids := []string{exp.Scenarios()[0].JobID, exp.Scenarios()[1].JobID}
	for _, s := range subs {
		if !slices.Contains(ids, s.JobID) || s.Experiment != "trial-1" {
			t.Errorf("unexpected submission %+v", s)
		}
	}
}

func TestCreateExperimentUsesFreshDataPaths(t *testing.T) {
	f := newFixture(t, engine.Options{})
	ctx := context.Background()

	first, err := f.engine.Submitter().CreateExperiment(ctx, "trial-1", []byte("first"), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("first CreateExperiment: %v", err)
	}
	second, err := f.engine.Submitter().CreateExperiment(ctx, "trial-1", []byte("second"), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("second CreateExperiment: %v", err)
	}

	a, b := first.Scenarios()[0], second.Scenarios()[0]
	if a.RemoteDataPath == b.RemoteDataPath {
		t.Fatalf("both creations staged into %q", a.RemoteDataPath)
	}
	jobs, err := f.artifacts.Get(ctx, a.RemoteDataPath+"/jobs.json")
	if err != nil {
		t.Fatalf("get jobs.json: %v", err)
	}
	if string(jobs) != "first" {
		t.Errorf("first jobs.json = %q, want it untouched by the second creation", jobs)
	}
}

type logLocatingBackend struct {
	*memory.Backend
}

func (logLocatingBackend) LogsRef(jobID string) string {
	return "logs://" + jobID
}

func TestCreateExperimentRecordsLocations(t *testing.T) {
	svc := logLocatingBackend{memory.New()}
	artifacts := artifact.NewMemoryStore("gs")
	sub := engine.NewSubmitter(testSubmitConfig(t), svc, artifacts, nil, testLogger())

	exp, err := sub.CreateExperiment(context.Background(), "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	for _, sc := range exp.Scenarios() {
		view := sc.Snapshot()
		if view.LogsRef != "logs://"+sc.JobID {
			t.Errorf("%s LogsRef = %q", sc.Name, view.LogsRef)
		}
		// The memory store has no browsable form, so the data path stands in.
		if view.ArtifactsURL != sc.RemoteDataPath {
			t.Errorf("%s ArtifactsURL = %q, want %q", sc.Name, view.ArtifactsURL, sc.RemoteDataPath)
		}
	}

	plain := newFixture(t, engine.Options{})
	exp, err = plain.engine.Submitter().CreateExperiment(context.Background(), "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if ref := exp.Scenarios()[0].LogsRef; ref != "" {
		t.Errorf("LogsRef = %q, want empty for a backend without logs", ref)
	}
}

// cancelAfterFirstSubmit cancels the caller's context once the first job is
// live, like a client that disconnects mid-request.
type cancelAfterFirstSubmit struct {
	*memory.Backend
	cancel context.CancelFunc
}

func (b *cancelAfterFirstSubmit) Submit(ctx context.Context, spec backend.JobSpec) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id, err := b.Backend.Submit(ctx, spec)
	b.cancel()
	return id, err
}

func TestCreateExperimentSurvivesCallerCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	svc := &cancelAfterFirstSubmit{Backend: memory.New(), cancel: cancel}
	artifacts := artifact.NewMemoryStore("gs")
	sub := engine.NewSubmitter(testSubmitConfig(t), svc, artifacts, nil, testLogger())

	exp, err := sub.CreateExperiment(ctx, "trial-1", []byte(testJobs), []byte(trialScenarios))
	if err != nil {
		t.Fatalf("CreateExperiment: %v", err)
	}
	if n := len(exp.Scenarios()); n != 2 {
		t.Errorf("scenarios = %d, want 2", n)
	}
	if got := svc.Submitted(); len(got) != 2 {
		t.Errorf("backend submissions = %v, want 2", got)
	}
}
