package knowledge

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Registry tracks which documents belong to which knowledge base. The vector
// store holds the chunks; the registry holds the per-document bookkeeping
// needed to find and delete them again.
type Registry struct {
	pool *pgxpool.Pool
}

// NewRegistry creates a Registry on the given pool.
func NewRegistry(pool *pgxpool.Pool) *Registry {
	return &Registry{pool: pool}
}

// Insert records an ingested document.
func (r *Registry) Insert(ctx context.Context, doc Document) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO kb_documents (id, kb_id, file_name, chunk_count, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		doc.ID, doc.KBID, doc.FileName, doc.ChunkCount, doc.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting document %q: %w", doc.ID, err)
	}
	return nil
}

// Get returns one document by ID within a knowledge base.
func (r *Registry) Get(ctx context.Context, kbID, docID string) (Document, error) {
	var doc Document
	err := r.pool.QueryRow(ctx,
		`SELECT id, kb_id, file_name, chunk_count, created_at
		 FROM kb_documents WHERE kb_id = $1 AND id = $2`,
		kbID, docID).
		Scan(&doc.ID, &doc.KBID, &doc.FileName, &doc.ChunkCount, &doc.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Document{}, ErrDocumentNotFound
	}
	if err != nil {
		return Document{}, fmt.Errorf("getting document %q: %w", docID, err)
	}
	return doc, nil
}

// List returns all documents in a knowledge base, newest first.
func (r *Registry) List(ctx context.Context, kbID string) ([]Document, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, kb_id, file_name, chunk_count, created_at
		 FROM kb_documents WHERE kb_id = $1 ORDER BY created_at DESC`,
		kbID)
	if err != nil {
		return nil, fmt.Errorf("listing documents for %q: %w", kbID, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var doc Document
		if err := rows.Scan(&doc.ID, &doc.KBID, &doc.FileName, &doc.ChunkCount, &doc.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning document row: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Delete removes one document's registry entry. Deleting a missing document
// returns ErrDocumentNotFound.
func (r *Registry) Delete(ctx context.Context, kbID, docID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM kb_documents WHERE kb_id = $1 AND id = $2`, kbID, docID)
	if err != nil {
		return fmt.Errorf("deleting document %q: %w", docID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrDocumentNotFound
	}
	return nil
}

// DeleteByKB removes every registry entry of a knowledge base and returns
// how many were removed.
func (r *Registry) DeleteByKB(ctx context.Context, kbID string) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM kb_documents WHERE kb_id = $1`, kbID)
	if err != nil {
		return 0, fmt.Errorf("deleting documents for %q: %w", kbID, err)
	}
	return tag.RowsAffected(), nil
}
