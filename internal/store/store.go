package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no entity exists for a kind and id.
	ErrNotFound = errors.New("entity not found")

	// ErrFilterAndOrder is returned when a page query sets both a filter and
	// an order. At most one of them may be active per query.
	ErrFilterAndOrder = errors.New("query may set a filter or an order, not both")
)

// Entity is one persisted record: a bag of JSON fields keyed by kind and id.
type Entity struct {
	Kind      string         `json:"kind"`
	ID        string         `json:"id"`
	Fields    map[string]any `json:"fields"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Filter matches entities whose field equals value.
type Filter struct {
	Field string
	Value any
}

// Query narrows a ListPage call. Filter and Order are mutually exclusive.
// Order names a field; a leading "-" sorts descending. With neither set,
// entities come back in id order.
type Query struct {
	Filter *Filter
	Order  string
}

// Store is structured entity persistence.
type Store interface {
	Get(ctx context.Context, kind, id string) (*Entity, error)

	// Upsert creates or replaces the entity's fields and returns its id.
	// An empty id allocates a new one.
	Upsert(ctx context.Context, kind, id string, fields map[string]any) (string, error)

	Delete(ctx context.Context, kind, id string) error

	// ListPage returns up to pageSize entities starting at cursor (empty for
	// the first page) and the cursor of the next page, empty on the last one.
	ListPage(ctx context.Context, kind string, q Query, pageSize int, cursor string) ([]*Entity, string, error)

	Close() error
}

// Submission states recorded in the ledger.
const (
	SubmissionSubmitted  = "submitted"
	SubmissionOrphaned   = "orphaned"
	SubmissionRolledBack = "rolled_back"
	SubmissionDeleted    = "deleted"
)

// KindSubmission is the entity kind of ledger records.
const KindSubmission = "submission"

// Submission records one backend job created for a scenario. Records outlive
// the in-memory registry so orphaned jobs can be found after a restart.
type Submission struct {
	JobID      string    `json:"job_id"`
	Experiment string    `json:"experiment"`
	Scenario   string    `json:"scenario"`
	DataPath   string    `json:"data_path"`
	State      string    `json:"state"`
	CreatedAt  time.Time `json:"created_at"`
}

// Ledger persists backend job submissions.
type Ledger interface {
	RecordSubmission(ctx context.Context, s Submission) error
	MarkSubmission(ctx context.Context, jobID, state string) error
	ListSubmissions(ctx context.Context, state string) ([]Submission, error)
}
