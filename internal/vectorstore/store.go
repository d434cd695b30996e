// Package vectorstore persists embedding vectors in PostgreSQL with pgvector.
// Each collection maps to its own table, so knowledge bases with different
// embedding dimensions can coexist in one database.
package vectorstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ErrInvalidCollection is returned when a collection identifier is empty or
// sanitizes to nothing.
var ErrInvalidCollection = errors.New("vectorstore: invalid collection identifier")

// Error wraps a failed store operation with the collection it targeted.
type Error struct {
	Op         string
	Collection string
	Err        error
}

func (e *Error) Error() string {
	return fmt.Sprintf("vectorstore: %s on %q: %v", e.Op, e.Collection, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Record is one stored entry: an identifier, the raw text it embeds, the
// vector itself, and arbitrary metadata.
type Record struct {
	ID       string
	Content  string
	Vector   []float32
	Metadata map[string]any
}

// Match is a query result. Distance is the cosine distance to the query
// vector, in [0, 2].
type Match struct {
	Record
	Distance float64
}

// Store runs vector operations against a pgx pool. Safe for concurrent use.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// New creates a Store on the given pool.
func New(pool *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{pool: pool, logger: logger}
}

// collectionPattern strips everything that cannot appear in an unquoted
// identifier.
var collectionPattern = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TableName maps a collection identifier to its backing table name. The
// identifier is lowered and sanitized before being prefixed, so it is safe to
// interpolate into DDL.
func TableName(collection string) (string, error) {
	cleaned := collectionPattern.ReplaceAllString(strings.ToLower(collection), "_")
	if strings.Trim(cleaned, "_") == "" {
		return "", ErrInvalidCollection
	}
	return "kb_" + cleaned, nil
}

// EnsureCollection creates the backing table for a collection if it does not
// exist. The embedding column is dimensionless so any model can write to it;
// the first insert fixes the dimension per row.
func (s *Store) EnsureCollection(ctx context.Context, collection string) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		id TEXT PRIMARY KEY,
		content TEXT NOT NULL,
		embedding vector NOT NULL,
		metadata JSONB NOT NULL DEFAULT '{}'
	)`, table)

	if _, err := s.pool.Exec(ctx, ddl); err != nil {
		return &Error{Op: "ensure", Collection: collection, Err: err}
	}
	s.logger.Debug("ensured collection", "collection", collection, "table", table)
	return nil
}

// Insert writes records into a collection in one batch. Existing IDs are
// overwritten.
func (s *Store) Insert(ctx context.Context, collection string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	table, err := TableName(collection)
	if err != nil {
		return err
	}

	batch := &pgx.Batch{}
	sql := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET content = EXCLUDED.content, embedding = EXCLUDED.embedding, metadata = EXCLUDED.metadata`, table)

	for _, rec := range records {
		meta, err := json.Marshal(rec.Metadata)
		if err != nil {
			return &Error{Op: "insert", Collection: collection, Err: fmt.Errorf("marshaling metadata for %q: %w", rec.ID, err)}
		}
		batch.Queue(sql, rec.ID, rec.Content, pgvector.NewVector(rec.Vector), meta)
	}

	results := s.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return &Error{Op: "insert", Collection: collection, Err: err}
		}
	}

	s.logger.Debug("inserted records", "collection", collection, "count", len(records))
	return nil
}

// Query returns the topK nearest records by cosine distance, closest first.
func (s *Store) Query(ctx context.Context, collection string, vector []float32, topK int) ([]Match, error) {
	table, err := TableName(collection)
	if err != nil {
		return nil, err
	}
	if topK <= 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(`SELECT id, content, embedding, metadata, embedding <=> $1 AS distance
		FROM %s
		ORDER BY distance
		LIMIT $2`, table)

	rows, err := s.pool.Query(ctx, sql, pgvector.NewVector(vector), topK)
	if err != nil {
		return nil, &Error{Op: "query", Collection: collection, Err: err}
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var vec pgvector.Vector
		var meta []byte
		if err := rows.Scan(&m.ID, &m.Content, &vec, &meta, &m.Distance); err != nil {
			return nil, &Error{Op: "query", Collection: collection, Err: err}
		}
		m.Vector = vec.Slice()
		m.Metadata = decodeMetadata(s.logger, m.ID, meta)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "query", Collection: collection, Err: err}
	}
	return matches, nil
}

// GetByIDs fetches records by identifier. Missing IDs are skipped, not
// errors.
func (s *Store) GetByIDs(ctx context.Context, collection string, ids []string) ([]Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	table, err := TableName(collection)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(`SELECT id, content, embedding, metadata FROM %s WHERE id = ANY($1)`, table)
	rows, err := s.pool.Query(ctx, sql, ids)
	if err != nil {
		return nil, &Error{Op: "get", Collection: collection, Err: err}
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var rec Record
		var vec pgvector.Vector
		var meta []byte
		if err := rows.Scan(&rec.ID, &rec.Content, &vec, &meta); err != nil {
			return nil, &Error{Op: "get", Collection: collection, Err: err}
		}
		rec.Vector = vec.Slice()
		rec.Metadata = decodeMetadata(s.logger, rec.ID, meta)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &Error{Op: "get", Collection: collection, Err: err}
	}
	return records, nil
}

// Delete removes records by identifier. Deleting absent IDs is not an error.
func (s *Store) Delete(ctx context.Context, collection string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	table, err := TableName(collection)
	if err != nil {
		return err
	}

	sql := fmt.Sprintf(`DELETE FROM %s WHERE id = ANY($1)`, table)
	if _, err := s.pool.Exec(ctx, sql, ids); err != nil {
		return &Error{Op: "delete", Collection: collection, Err: err}
	}
	return nil
}

// Update atomically replaces a record: the delete and insert run in one
// transaction so a concurrent query never observes the record missing.
func (s *Store) Update(ctx context.Context, collection string, rec Record) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}

	meta, err := json.Marshal(rec.Metadata)
	if err != nil {
		return &Error{Op: "update", Collection: collection, Err: fmt.Errorf("marshaling metadata for %q: %w", rec.ID, err)}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, table), rec.ID); err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	insert := fmt.Sprintf(`INSERT INTO %s (id, content, embedding, metadata) VALUES ($1, $2, $3, $4)`, table)
	if _, err := tx.Exec(ctx, insert, rec.ID, rec.Content, pgvector.NewVector(rec.Vector), meta); err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}

	if err := tx.Commit(ctx); err != nil {
		return &Error{Op: "update", Collection: collection, Err: err}
	}
	return nil
}

// Count returns the number of records in a collection.
func (s *Store) Count(ctx context.Context, collection string) (int64, error) {
	table, err := TableName(collection)
	if err != nil {
		return 0, err
	}

	var count int64
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s`, table)
	if err := s.pool.QueryRow(ctx, sql).Scan(&count); err != nil {
		return 0, &Error{Op: "count", Collection: collection, Err: err}
	}
	return count, nil
}

// DeleteCollection drops the collection's backing table entirely.
func (s *Store) DeleteCollection(ctx context.Context, collection string) error {
	table, err := TableName(collection)
	if err != nil {
		return err
	}

	if _, err := s.pool.Exec(ctx, fmt.Sprintf(`DROP TABLE IF EXISTS %s`, table)); err != nil {
		return &Error{Op: "drop", Collection: collection, Err: err}
	}
	s.logger.Debug("dropped collection", "collection", collection, "table", table)
	return nil
}

func decodeMetadata(logger *slog.Logger, id string, raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var meta map[string]any
	if err := json.Unmarshal(raw, &meta); err != nil {
		logger.Warn("failed to parse metadata", "record_id", id, "error", err)
		return map[string]any{}
	}
	return meta
}
