// Package knowledge manages per-tenant knowledge bases: document ingestion,
// chunk lifecycle, and retrieval. A knowledge base identifier doubles as the
// vector collection name.
package knowledge

import (
	"errors"
	"fmt"
	"time"
)

// ErrDocumentNotFound is returned when a document ID has no registry entry.
var ErrDocumentNotFound = errors.New("knowledge: document not found")

// ErrChunkNotFound is returned when a chunk ID has no stored record.
var ErrChunkNotFound = errors.New("knowledge: chunk not found")

// ErrEmptyDocument is returned when an uploaded document has no usable text.
var ErrEmptyDocument = errors.New("knowledge: document has no content")

// Document is the registry entry for one ingested file.
type Document struct {
	ID         string
	KBID       string
	FileName   string
	ChunkCount int
	CreatedAt  time.Time
}

// ChunkID derives the stable record identifier for one chunk of a document.
func ChunkID(docID string, index int) string {
	return fmt.Sprintf("%s_%d", docID, index)
}
