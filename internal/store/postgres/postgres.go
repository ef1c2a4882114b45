// Package postgres provides a PostgreSQL-backed store.Store that keeps
// documents in a JSONB column.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Tyrowin/groupchat/internal/store"
	_ "github.com/lib/pq"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
    seq        BIGSERIAL PRIMARY KEY,
    collection TEXT NOT NULL,
    id         TEXT NOT NULL,
    body       JSONB NOT NULL,
    UNIQUE (collection, id)
);
CREATE INDEX IF NOT EXISTS documents_collection ON documents (collection);
`

// Store persists documents in PostgreSQL.
type Store struct {
	db *sql.DB
}

// Open connects to dbURL and applies the schema.
func Open(ctx context.Context, dbURL string) (*Store, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	s := NewStore(db)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an existing connection pool. Call Migrate before use.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the documents table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *Store) Insert(ctx context.Context, collection string, doc any) (string, error) {
	id, body, err := store.PrepareDocument(doc)
	if err != nil {
		return "", err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, body)
		VALUES ($1, $2, $3::jsonb)`,
		collection, id, string(body))
	if err != nil {
		return "", fmt.Errorf("insert %s/%s: %w", collection, id, err)
	}
	return id, nil
}

func (s *Store) GetByID(ctx context.Context, collection, id string) (store.Record, error) {
	var body []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT body FROM documents
		WHERE collection = $1 AND id = $2`,
		collection, id).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return store.Record{}, store.ErrNotFound
	}
	if err != nil {
		return store.Record{}, fmt.Errorf("get %s/%s: %w", collection, id, err)
	}
	return store.Record{ID: id, Body: body}, nil
}

func (s *Store) QueryByEquality(ctx context.Context, collection, field string, value any) ([]store.Record, error) {
	if err := store.ValidateField(field); err != nil {
		return nil, err
	}
	want, err := store.CanonicalValue(value)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, body FROM documents
		WHERE collection = $1 AND body -> $2::text = $3::jsonb
		ORDER BY seq`,
		collection, field, want)
	if err != nil {
		return nil, fmt.Errorf("query %s by %s: %w", collection, field, err)
	}
	defer rows.Close()

	var records []store.Record
	for rows.Next() {
		var rec store.Record
		var body []byte
		if err := rows.Scan(&rec.ID, &body); err != nil {
			return nil, fmt.Errorf("scan %s: %w", collection, err)
		}
		rec.Body = body
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *Store) Update(ctx context.Context, collection, id string, fields store.Fields) error {
	patch, err := store.EncodeFields(fields)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET body = body || $3::jsonb
		WHERE collection = $1 AND id = $2`,
		collection, id, string(patch))
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}
