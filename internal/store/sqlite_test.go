package store

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestUpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Upsert(ctx, "experiment", "trial-1", map[string]any{"status": "QUEUED", "scenarios": 2})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if id != "trial-1" {
		t.Errorf("id = %q, want trial-1", id)
	}

	got, err := s.Get(ctx, "experiment", "trial-1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Fields["status"] != "QUEUED" {
		t.Errorf("status = %v, want QUEUED", got.Fields["status"])
	}
	// JSON numbers decode as float64.
	if got.Fields["scenarios"] != float64(2) {
		t.Errorf("scenarios = %v, want 2", got.Fields["scenarios"])
	}
}

func TestUpsertAllocatesID(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	id, err := s.Upsert(ctx, "note", "", map[string]any{"text": "hello"})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if len(id) != 26 {
		t.Errorf("id = %q, want a 26-char ULID", id)
	}
	if _, err := s.Get(ctx, "note", id); err != nil {
		t.Errorf("Get allocated id: %v", err)
	}
}

func TestUpsertReplacesFieldsKeepsCreatedAt(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "k", "a", map[string]any{"v": 1, "old": true}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	first, _ := s.Get(ctx, "k", "a")

	time.Sleep(5 * time.Millisecond)
	if _, err := s.Upsert(ctx, "k", "a", map[string]any{"v": 2}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	second, err := s.Get(ctx, "k", "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if second.Fields["v"] != float64(2) {
		t.Errorf("v = %v, want 2", second.Fields["v"])
	}
	if _, ok := second.Fields["old"]; ok {
		t.Error("old field survived replacement")
	}
	if !second.CreatedAt.Equal(first.CreatedAt) {
		t.Errorf("CreatedAt changed: %v -> %v", first.CreatedAt, second.CreatedAt)
	}
	if !second.UpdatedAt.After(first.UpdatedAt) {
		t.Errorf("UpdatedAt not advanced: %v -> %v", first.UpdatedAt, second.UpdatedAt)
	}
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "k", "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Get error = %v, want ErrNotFound", err)
	}
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "k", "a", nil); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if err := s.Delete(ctx, "k", "a"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "k", "a"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}
}

func TestKindsAreIsolated(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Upsert(ctx, "a", "x", map[string]any{"n": 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if _, err := s.Get(ctx, "b", "x"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get other kind error = %v, want ErrNotFound", err)
	}
}

func seed(t *testing.T, s *SQLiteStore, n int) {
	t.Helper()
	for i := range n {
		fields := map[string]any{"rank": n - i, "parity": i % 2}
		if _, err := s.Upsert(context.Background(), "item", fmt.Sprintf("id%02d", i), fields); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
}

func TestListPagePagination(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	seed(t, s, 5)

	var (
		ids    []string
		cursor string
		pages  int
	)
	for {
		page, next, err := s.ListPage(ctx, "item", Query{}, 2, cursor)
		if err != nil {
			t.Fatalf("ListPage: %v", err)
		}
		pages++
		for _, e := range page {
			ids = append(ids, e.ID)
		}
		if next == "" {
			break
		}
		cursor = next
	}

	if pages != 3 {
		t.Errorf("pages = %d, want 3", pages)
	}
	want := []string{"id00", "id01", "id02", "id03", "id04"}
	if fmt.Sprint(ids) != fmt.Sprint(want) {
		t.Errorf("ids = %v, want %v", ids, want)
	}
}

func TestListPageFilter(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 5)

	page, next, err := s.ListPage(context.Background(), "item", Query{Filter: &Filter{Field: "parity", Value: 1}}, 10, "")
	if err != nil {
		t.Fatalf("ListPage: %v", err)
	}
	if next != "" {
		t.Errorf("next = %q, want empty", next)
	}
	if len(page) != 2 || page[0].ID != "id01" || page[1].ID != "id03" {
		t.Errorf("page = %v", entityIDs(page))
	}
}

func TestListPageOrder(t *testing.T) {
	s := newTestStore(t)
	seed(t, s, 3)

	tests := []struct {
		order string
		want  string
	}{
		{"rank", "[id02 id01 id00]"},
		{"-rank", "[id00 id01 id02]"},
	}
	for _, tt := range tests {
		page, _, err := s.ListPage(context.Background(), "item", Query{Order: tt.order}, 10, "")
		if err != nil {
			t.Fatalf("ListPage(%q): %v", tt.order, err)
		}
		if got := fmt.Sprint(entityIDs(page)); got != tt.want {
			t.Errorf("ListPage(%q) = %s, want %s", tt.order, got, tt.want)
		}
	}
}

func TestListPageRejectsFilterAndOrder(t *testing.T) {
	s := newTestStore(t)
	q := Query{Filter: &Filter{Field: "a", Value: 1}, Order: "b"}
	if _, _, err := s.ListPage(context.Background(), "item", q, 10, ""); !errors.Is(err, ErrFilterAndOrder) {
		t.Errorf("ListPage error = %v, want ErrFilterAndOrder", err)
	}
}

func TestListPageRejectsBadInput(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, _, err := s.ListPage(ctx, "item", Query{Order: "x; DROP TABLE entities"}, 10, ""); err == nil {
		t.Error("expected error for invalid order field")
	}
	if _, _, err := s.ListPage(ctx, "item", Query{}, 10, "not-a-cursor!"); err == nil {
		t.Error("expected error for invalid cursor")
	}
}

func TestMigrationIdempotency(t *testing.T) {
	path := t.TempDir() + "/scheduler.db"

	s1, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("first open: %v", err)
	}
	if _, err := s1.Upsert(context.Background(), "k", "a", map[string]any{"v": 1}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	s1.Close()

	s2, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("second open: %v", err)
	}
	defer s2.Close()
	if _, err := s2.Get(context.Background(), "k", "a"); err != nil {
		t.Errorf("Get after reopen: %v", err)
	}
}

func entityIDs(es []*Entity) []string {
	ids := make([]string, len(es))
	for i, e := range es {
		ids[i] = e.ID
	}
	return ids
}
