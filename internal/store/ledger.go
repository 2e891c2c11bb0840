package store

import (
	"context"
	"fmt"
	"slices"
	"time"
)

// createdLayout is fixed-width so stored timestamps sort as strings.
const createdLayout = "2006-01-02T15:04:05.000000000Z"

// RecordSubmission stores s keyed by its job id.
func (s *SQLiteStore) RecordSubmission(ctx context.Context, sub Submission) error {
	if sub.JobID == "" {
		return fmt.Errorf("record submission: empty job id")
	}
	if sub.State == "" {
		sub.State = SubmissionSubmitted
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	if _, err := s.Upsert(ctx, KindSubmission, sub.JobID, submissionFields(sub)); err != nil {
		return fmt.Errorf("record submission: %w", err)
	}
	return nil
}

// MarkSubmission moves the submission for jobID into state.
func (s *SQLiteStore) MarkSubmission(ctx context.Context, jobID, state string) error {
	e, err := s.Get(ctx, KindSubmission, jobID)
	if err != nil {
		return err
	}
	sub := submissionFromEntity(e)
	sub.State = state
	if _, err := s.Upsert(ctx, KindSubmission, jobID, submissionFields(sub)); err != nil {
		return fmt.Errorf("mark submission: %w", err)
	}
	return nil
}

// ListSubmissions returns every submission, or only those in state when it
// is non-empty, oldest first.
func (s *SQLiteStore) ListSubmissions(ctx context.Context, state string) ([]Submission, error) {
	var q Query
	if state != "" {
		q.Filter = &Filter{Field: "state", Value: state}
	} else {
		q.Order = "created_at"
	}

	var (
		out    []Submission
		cursor string
	)
	for {
		page, next, err := s.ListPage(ctx, KindSubmission, q, DefaultPageSize, cursor)
		if err != nil {
			return nil, fmt.Errorf("list submissions: %w", err)
		}
		for _, e := range page {
			out = append(out, submissionFromEntity(e))
		}
		if next == "" {
			break
		}
		cursor = next
	}
	slices.SortStableFunc(out, func(a, b Submission) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return out, nil
}

func submissionFields(s Submission) map[string]any {
	return map[string]any{
		"experiment": s.Experiment,
		"scenario":   s.Scenario,
		"data_path":  s.DataPath,
		"state":      s.State,
		"created_at": s.CreatedAt.UTC().Format(createdLayout),
	}
}

func submissionFromEntity(e *Entity) Submission {
	str := func(k string) string {
		v, _ := e.Fields[k].(string)
		return v
	}
	sub := Submission{
		JobID:      e.ID,
		Experiment: str("experiment"),
		Scenario:   str("scenario"),
		DataPath:   str("data_path"),
		State:      str("state"),
		CreatedAt:  e.CreatedAt,
	}
	if t, err := time.Parse(createdLayout, str("created_at")); err == nil {
		sub.CreatedAt = t
	}
	return sub
}
