package store

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/seantiz/factory-scheduler/internal/naming"

	_ "modernc.org/sqlite"
)

const createEntitiesTable = `
CREATE TABLE IF NOT EXISTS entities (
    kind       TEXT NOT NULL,
    id         TEXT NOT NULL,
    fields     TEXT NOT NULL,
    created_at DATETIME NOT NULL,
    updated_at DATETIME NOT NULL,
    PRIMARY KEY (kind, id)
)`

// DefaultPageSize is used when ListPage is called with a non-positive size.
const DefaultPageSize = 50

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Compile-time interface satisfaction checks.
var (
	_ Store  = (*SQLiteStore)(nil)
	_ Ledger = (*SQLiteStore)(nil)
)

// SQLiteStore implements Store and Ledger using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// An in-memory database lives per connection.
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(createEntitiesTable); err != nil {
		db.Close()
		return nil, fmt.Errorf("create entities table: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Get retrieves an entity by kind and id.
func (s *SQLiteStore) Get(ctx context.Context, kind, id string) (*Entity, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT kind, id, fields, created_at, updated_at
		FROM entities WHERE kind = ? AND id = ?`, kind, id,
	)
	e, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	return e, nil
}

// Upsert inserts the entity or replaces its fields, keeping created_at.
func (s *SQLiteStore) Upsert(ctx context.Context, kind, id string, fields map[string]any) (string, error) {
	if kind == "" {
		return "", fmt.Errorf("upsert: empty kind")
	}
	if id == "" {
		id = naming.NewID()
	}
	if fields == nil {
		fields = map[string]any{}
	}
	data, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode fields: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO entities (kind, id, fields, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kind, id) DO UPDATE SET
			fields = excluded.fields,
			updated_at = excluded.updated_at`,
		kind, id, string(data), now, now,
	)
	if err != nil {
		return "", fmt.Errorf("upsert entity: %w", err)
	}
	return id, nil
}

// Delete removes an entity.
func (s *SQLiteStore) Delete(ctx context.Context, kind, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM entities WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return fmt.Errorf("delete entity: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, kind, id)
	}
	return nil
}

// ListPage returns one page of entities of kind.
func (s *SQLiteStore) ListPage(ctx context.Context, kind string, q Query, pageSize int, cursor string) ([]*Entity, string, error) {
	if q.Filter != nil && q.Order != "" {
		return nil, "", ErrFilterAndOrder
	}
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	offset, err := decodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	var (
		where = "WHERE kind = ?"
		order = "ORDER BY id"
		args  = []any{kind}
	)
	if q.Filter != nil {
		if !fieldName.MatchString(q.Filter.Field) {
			return nil, "", fmt.Errorf("invalid filter field %q", q.Filter.Field)
		}
		where += " AND json_extract(fields, ?) = ?"
		args = append(args, "$."+q.Filter.Field, q.Filter.Value)
	}
	if q.Order != "" {
		field, dir := strings.TrimPrefix(q.Order, "-"), "ASC"
		if strings.HasPrefix(q.Order, "-") {
			dir = "DESC"
		}
		if !fieldName.MatchString(field) {
			return nil, "", fmt.Errorf("invalid order field %q", field)
		}
		order = fmt.Sprintf("ORDER BY json_extract(fields, ?) %s, id", dir)
		args = append(args, "$."+field)
	}

	// Fetch one extra row to learn whether another page follows.
	args = append(args, pageSize+1, offset)
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, id, fields, created_at, updated_at
		FROM entities `+where+` `+order+` LIMIT ? OFFSET ?`, args...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("list entities: %w", err)
	}
	defer rows.Close()

	var entities []*Entity
	for rows.Next() {
		e, err := scanEntity(rows)
		if err != nil {
			return nil, "", fmt.Errorf("scan entity: %w", err)
		}
		entities = append(entities, e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterate entities: %w", err)
	}

	var next string
	if len(entities) > pageSize {
		entities = entities[:pageSize]
		next = encodeCursor(offset + pageSize)
	}
	return entities, next, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntity(sc scanner) (*Entity, error) {
	var (
		e      Entity
		fields string
	)
	if err := sc.Scan(&e.Kind, &e.ID, &fields, &e.CreatedAt, &e.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(fields), &e.Fields); err != nil {
		return nil, fmt.Errorf("decode fields of %s/%s: %w", e.Kind, e.ID, err)
	}
	return &e, nil
}

func encodeCursor(offset int) string {
	return base64.RawURLEncoding.EncodeToString([]byte(strconv.Itoa(offset)))
}

func decodeCursor(cursor string) (int, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	offset, err := strconv.Atoi(string(raw))
	if err != nil || offset < 0 {
		return 0, fmt.Errorf("invalid cursor %q", cursor)
	}
	return offset, nil
}
