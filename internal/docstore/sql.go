// Package docstore implements loan.DocumentStore as a single JSON documents
// table over SQLite or Postgres.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"loanflow/internal/docstore/migrations"
	"loanflow/internal/loan"
)

var fieldName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLStore implements loan.DocumentStore over database/sql.
type SQLStore struct {
	db      *sql.DB
	dialect migrations.Dialect
	clock   loan.Clock
	ids     loan.IDGenerator
}

var _ loan.DocumentStore = (*SQLStore)(nil)

// NewSQLStore wraps an open connection. The schema must already be migrated.
func NewSQLStore(db *sql.DB, dialect migrations.Dialect, clock loan.Clock, ids loan.IDGenerator) *SQLStore {
	return &SQLStore{db: db, dialect: dialect, clock: clock, ids: ids}
}

// DB returns the underlying connection.
func (s *SQLStore) DB() *sql.DB { return s.db }

// Dialect returns the SQL flavour of the connection.
func (s *SQLStore) Dialect() migrations.Dialect { return s.dialect }

// Close closes the underlying connection.
func (s *SQLStore) Close() error { return s.db.Close() }

// rebind rewrites ? placeholders to $n for Postgres.
func (s *SQLStore) rebind(query string) string {
	if s.dialect != migrations.Postgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLStore) now() time.Time {
	return s.clock.Now().UTC()
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *SQLStore) get(ctx context.Context, q queryer, collection, id string) (*loan.Document, error) {
	row := q.QueryRowContext(ctx, s.rebind(
		"SELECT data, created_at, updated_at FROM documents WHERE collection = ? AND id = ?"),
		collection, id)

	doc := &loan.Document{Collection: collection, ID: id}
	var raw []byte
	if err := row.Scan(&raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if err := json.Unmarshal(raw, &doc.Data); err != nil {
		return nil, fmt.Errorf("decoding document %s/%s: %w", collection, id, err)
	}
	return doc, nil
}

func (s *SQLStore) Get(ctx context.Context, collection, id string) (*loan.Document, error) {
	doc, err := s.get(ctx, s.db, collection, id)
	if err != nil {
		return nil, fmt.Errorf("getting document %s/%s: %w", collection, id, mapError(err))
	}
	return doc, nil
}

func (s *SQLStore) Set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	if err := s.set(ctx, collection, id, data, merge); err != nil {
		return fmt.Errorf("setting document %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func (s *SQLStore) set(ctx context.Context, collection, id string, data map[string]any, merge bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if merge {
		existing, err := s.get(ctx, tx, collection, id)
		if err != nil {
			return err
		}
		if existing != nil {
			merged := existing.Data
			if merged == nil {
				merged = make(map[string]any, len(data))
			}
			for k, v := range data {
				merged[k] = v
			}
			data = merged
		}
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding document: %w", err)
	}
	now := s.now()
	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO documents (collection, id, data, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (collection, id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`),
		collection, id, string(raw), now, now)
	if err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *SQLStore) Add(ctx context.Context, collection string, data map[string]any) (*loan.Document, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encoding document: %w", err)
	}
	doc := &loan.Document{
		Collection: collection,
		ID:         s.ids.New(),
		Data:       data,
		CreatedAt:  s.now(),
	}
	doc.UpdatedAt = doc.CreatedAt

	_, err = s.db.ExecContext(ctx, s.rebind(
		"INSERT INTO documents (collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)"),
		collection, doc.ID, string(raw), doc.CreatedAt, doc.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("adding document to %s: %w", collection, mapError(err))
	}
	return doc, nil
}

// Query compares the field's value as text, so 42 matches "42".
func (s *SQLStore) Query(ctx context.Context, collection, field string, value any, limit int) ([]*loan.Document, error) {
	if !fieldName.MatchString(field) {
		return nil, fmt.Errorf("invalid query field %q", field)
	}

	var match string
	var fieldArg any
	switch s.dialect {
	case migrations.Postgres:
		match = "data->>CAST(? AS TEXT) = ?"
		fieldArg = field
	default:
		match = "CAST(json_extract(data, ?) AS TEXT) = ?"
		fieldArg = "$." + field
	}

	query := "SELECT id, data, created_at, updated_at FROM documents WHERE collection = ? AND " +
		match + " ORDER BY created_at DESC, id DESC"
	args := []any{collection, fieldArg, textValue(value)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s by %s: %w", collection, field, mapError(err))
	}
	defer rows.Close()

	var docs []*loan.Document
	for rows.Next() {
		doc := &loan.Document{Collection: collection}
		var raw []byte
		if err := rows.Scan(&doc.ID, &raw, &doc.CreatedAt, &doc.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal(raw, &doc.Data); err != nil {
			return nil, fmt.Errorf("decoding document %s/%s: %w", collection, doc.ID, err)
		}
		docs = append(docs, doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("querying %s by %s: %w", collection, field, mapError(err))
	}
	return docs, nil
}

func (s *SQLStore) Delete(ctx context.Context, collection, id string) error {
	_, err := s.db.ExecContext(ctx, s.rebind(
		"DELETE FROM documents WHERE collection = ? AND id = ?"), collection, id)
	if err != nil {
		return fmt.Errorf("deleting document %s/%s: %w", collection, id, mapError(err))
	}
	return nil
}

func textValue(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(v)
	}
}
