package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestLedgerRecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	subs := []Submission{
		{JobID: "trial1slowb", Experiment: "trial-1", Scenario: "slow", CreatedAt: base.Add(time.Second)},
		{JobID: "trial1fasta", Experiment: "trial-1", Scenario: "fast", CreatedAt: base},
	}
	for _, sub := range subs {
		if err := s.RecordSubmission(ctx, sub); err != nil {
			t.Fatalf("RecordSubmission: %v", err)
		}
	}

	got, err := s.ListSubmissions(ctx, "")
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].JobID != "trial1fasta" || got[1].JobID != "trial1slowb" {
		t.Errorf("order = %s, %s", got[0].JobID, got[1].JobID)
	}
	if got[0].State != SubmissionSubmitted {
		t.Errorf("State = %q, want %q", got[0].State, SubmissionSubmitted)
	}
	if !got[0].CreatedAt.Equal(base) {
		t.Errorf("CreatedAt = %v, want %v", got[0].CreatedAt, base)
	}
}

func TestLedgerMarkAndFilter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if err := s.RecordSubmission(ctx, Submission{JobID: id, Experiment: "e"}); err != nil {
			t.Fatalf("RecordSubmission: %v", err)
		}
	}
	if err := s.MarkSubmission(ctx, "b", SubmissionOrphaned); err != nil {
		t.Fatalf("MarkSubmission: %v", err)
	}

	orphans, err := s.ListSubmissions(ctx, SubmissionOrphaned)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(orphans) != 1 || orphans[0].JobID != "b" || orphans[0].Experiment != "e" {
		t.Errorf("orphans = %+v", orphans)
	}

	if err := s.MarkSubmission(ctx, "missing", SubmissionDeleted); !errors.Is(err, ErrNotFound) {
		t.Errorf("MarkSubmission error = %v, want ErrNotFound", err)
	}
}

func TestRecordSubmissionRequiresJobID(t *testing.T) {
	s := newTestStore(t)
	if err := s.RecordSubmission(context.Background(), Submission{Experiment: "e"}); err == nil {
		t.Error("expected error for empty job id")
	}
}
