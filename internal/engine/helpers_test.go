package engine_test

import (
	"io"
	"log/slog"
	"testing"

	"github.com/seantiz/factory-scheduler/internal/artifact"
	"github.com/seantiz/factory-scheduler/internal/backend"
	"github.com/seantiz/factory-scheduler/internal/backend/memory"
	"github.com/seantiz/factory-scheduler/internal/engine"
	"github.com/seantiz/factory-scheduler/internal/store"
)

const (
	testJobs       = `[{"id": "j1", "duration": 3}, {"id": "j2", "duration": 5}]`
	trialScenarios = "name,population,elitism\nfast,10,true\nslow,200,false\n"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testMachine(t *testing.T, name string) backend.MachineType {
	t.Helper()
	m, err := backend.LookupMachineType(name)
	if err != nil {
		t.Fatalf("LookupMachineType: %v", err)
	}
	return m
}

func testSubmitConfig(t *testing.T) engine.SubmitterConfig {
	return engine.SubmitterConfig{
		Bucket:     "bucket",
		DataPrefix: "factory-scheduler",
		Image:      "solver:latest",
		Machine:    testMachine(t, backend.DefaultMachineType),
	}
}

type fixture struct {
	backend   *memory.Backend
	artifacts *artifact.MemoryStore
	ledger    *store.SQLiteStore
	engine    *engine.Engine
}

func newFixture(t *testing.T, opts engine.Options) *fixture {
	t.Helper()
	if opts.Submit.Bucket == "" {
		opts.Submit = testSubmitConfig(t)
	}
	ledger, err := store.NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { ledger.Close() })

	f := &fixture{
		backend:   memory.New(),
		artifacts: artifact.NewMemoryStore("gs"),
		ledger:    ledger,
	}
	f.engine = engine.NewEngine(f.backend, f.artifacts, ledger, opts, testLogger())
	return f
}
