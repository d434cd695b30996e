package knowledge

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/draftforge/draftforge/internal/chunker"
	"github.com/draftforge/draftforge/internal/search"
	"github.com/draftforge/draftforge/internal/vectorstore"
)

// VectorStore is the slice of the vector store the service needs.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string) error
	Insert(ctx context.Context, collection string, records []vectorstore.Record) error
	GetByIDs(ctx context.Context, collection string, ids []string) ([]vectorstore.Record, error)
	Update(ctx context.Context, collection string, rec vectorstore.Record) error
	Delete(ctx context.Context, collection string, ids []string) error
	DeleteCollection(ctx context.Context, collection string) error
}

// Embedder produces vectors for chunk batches and single queries.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Searcher ranks stored chunks against a query.
type Searcher interface {
	Hybrid(ctx context.Context, collection, query string, opts search.Options) ([]search.Result, error)
	Semantic(ctx context.Context, collection, query string, opts search.Options) ([]search.Result, error)
}

// DocumentRegistry is the bookkeeping store for ingested documents.
type DocumentRegistry interface {
	Insert(ctx context.Context, doc Document) error
	Get(ctx context.Context, kbID, docID string) (Document, error)
	List(ctx context.Context, kbID string) ([]Document, error)
	Delete(ctx context.Context, kbID, docID string) error
	DeleteByKB(ctx context.Context, kbID string) (int64, error)
}

// SearchMode selects the ranking strategy.
type SearchMode string

const (
	ModeHybrid   SearchMode = "hybrid"
	ModeSemantic SearchMode = "semantic"
)

// chunkKeywords caps how many keywords are extracted per stored chunk.
const chunkKeywords = 10

// SearchRequest is one retrieval call against a knowledge base. A nil
// VectorWeight means the engine default; an explicit 0 ranks by keywords
// alone.
type SearchRequest struct {
	Query         string
	Mode          SearchMode
	TopK          int
	VectorWeight  *float64
	MinSimilarity float64
}

// Service coordinates chunking, embedding, and storage for knowledge bases.
// Safe for concurrent use.
type Service struct {
	registry DocumentRegistry
	vectors  VectorStore
	embedder Embedder
	searcher Searcher
	cfg      chunker.Config
	logger   *slog.Logger
}

// NewService creates a Service. A zero chunking config means per-document
// sizing via chunker.OptimalConfig.
func NewService(registry DocumentRegistry, vectors VectorStore, embedder Embedder, searcher Searcher, cfg chunker.Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		vectors:  vectors,
		embedder: embedder,
		searcher: searcher,
		cfg:      cfg,
		logger:   logger,
	}
}

// IngestDocument chunks text, embeds every chunk in one batch, stores the
// vectors, and registers the document. Nothing is persisted when embedding
// fails, so a document is either fully ingested or absent.
func (s *Service) IngestDocument(ctx context.Context, kbID, fileName, text string) (Document, error) {
	if strings.TrimSpace(text) == "" {
		return Document{}, ErrEmptyDocument
	}

	cfg := s.cfg
	if cfg.Size <= 0 {
		cfg = chunker.OptimalConfig(len([]rune(text)))
	}

	chunks := chunker.SplitByParagraphs(text, cfg)
	if len(chunks) == 0 {
		return Document{}, ErrEmptyDocument
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	vectors, err := s.embedder.Embed(ctx, texts)
	if err != nil {
		return Document{}, fmt.Errorf("embedding %d chunks: %w", len(chunks), err)
	}

	if err := s.vectors.EnsureCollection(ctx, kbID); err != nil {
		return Document{}, fmt.Errorf("ensuring collection: %w", err)
	}

	docID := uuid.NewString()
	records := make([]vectorstore.Record, len(chunks))
	for i, c := range chunks {
		records[i] = vectorstore.Record{
			ID:      ChunkID(docID, c.Index),
			Content: c.Text,
			Vector:  vectors[i],
			Metadata: map[string]any{
				"doc_id":      docID,
				"file_name":   fileName,
				"chunk_index": c.Index,
				"start_char":  c.StartChar,
				"end_char":    c.EndChar,
				"keywords":    chunker.ExtractKeywords(c.Text, chunkKeywords),
			},
		}
	}

	if err := s.vectors.Insert(ctx, kbID, records); err != nil {
		return Document{}, fmt.Errorf("storing %d chunks: %w", len(records), err)
	}

	doc := Document{
		ID:         docID,
		KBID:       kbID,
		FileName:   fileName,
		ChunkCount: len(chunks),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.registry.Insert(ctx, doc); err != nil {
		// Roll the chunks back so no orphaned vectors survive a failed
		// registration.
		ids := make([]string, len(records))
		for i, rec := range records {
			ids[i] = rec.ID
		}
		if delErr := s.vectors.Delete(ctx, kbID, ids); delErr != nil {
			s.logger.Warn("failed to roll back chunks after registry error",
				"kb_id", kbID, "doc_id", docID, "error", delErr)
		}
		return Document{}, fmt.Errorf("registering document: %w", err)
	}

	s.logger.Info("ingested document",
		"kb_id", kbID, "doc_id", docID, "file_name", fileName, "chunks", len(chunks))
	return doc, nil
}

// GetDocument returns one document's registry entry.
func (s *Service) GetDocument(ctx context.Context, kbID, docID string) (Document, error) {
	return s.registry.Get(ctx, kbID, docID)
}

// ListDocuments returns every document of a knowledge base, newest first.
func (s *Service) ListDocuments(ctx context.Context, kbID string) ([]Document, error) {
	return s.registry.List(ctx, kbID)
}

// DeleteDocument removes a document's chunks and its registry entry. A
// failure deleting vectors is logged and tolerated so stale registry rows
// never pin a document that is already partially gone; the registry delete
// is authoritative.
func (s *Service) DeleteDocument(ctx context.Context, kbID, docID string) error {
	doc, err := s.registry.Get(ctx, kbID, docID)
	if err != nil {
		return err
	}

	ids := make([]string, doc.ChunkCount)
	for i := range ids {
		ids[i] = ChunkID(docID, i)
	}
	if err := s.vectors.Delete(ctx, kbID, ids); err != nil {
		s.logger.Warn("failed to delete chunks, removing registry entry anyway",
			"kb_id", kbID, "doc_id", docID, "error", err)
	}

	if err := s.registry.Delete(ctx, kbID, docID); err != nil {
		return err
	}

	s.logger.Info("deleted document", "kb_id", kbID, "doc_id", docID, "chunks", doc.ChunkCount)
	return nil
}

// UpdateChunk re-embeds edited chunk text and atomically replaces the stored
// record. Positional metadata from the original chunk is preserved;
// concurrent edits resolve last-write-wins.
func (s *Service) UpdateChunk(ctx context.Context, kbID, chunkID, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyDocument
	}

	existing, err := s.vectors.GetByIDs(ctx, kbID, []string{chunkID})
	if err != nil {
		return fmt.Errorf("loading chunk %q: %w", chunkID, err)
	}
	if len(existing) == 0 {
		return ErrChunkNotFound
	}

	vectors, err := s.embedder.Embed(ctx, []string{text})
	if err != nil {
		return fmt.Errorf("embedding chunk: %w", err)
	}

	meta := existing[0].Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	meta["keywords"] = chunker.ExtractKeywords(text, chunkKeywords)

	if err := s.vectors.Update(ctx, kbID, vectorstore.Record{
		ID:       chunkID,
		Content:  text,
		Vector:   vectors[0],
		Metadata: meta,
	}); err != nil {
		return fmt.Errorf("replacing chunk %q: %w", chunkID, err)
	}

	s.logger.Info("updated chunk", "kb_id", kbID, "chunk_id", chunkID)
	return nil
}

// Search ranks a knowledge base's chunks against a query. Mode defaults to
// hybrid.
func (s *Service) Search(ctx context.Context, kbID string, req SearchRequest) ([]search.Result, error) {
	opts := search.Options{
		TopK:          req.TopK,
		VectorWeight:  req.VectorWeight,
		MinSimilarity: req.MinSimilarity,
	}

	switch req.Mode {
	case ModeSemantic:
		return s.searcher.Semantic(ctx, kbID, req.Query, opts)
	case ModeHybrid, "":
		return s.searcher.Hybrid(ctx, kbID, req.Query, opts)
	default:
		return nil, fmt.Errorf("knowledge: unknown search mode %q", req.Mode)
	}
}

// DeleteKnowledgeBase drops a knowledge base's collection and registry
// entries.
func (s *Service) DeleteKnowledgeBase(ctx context.Context, kbID string) error {
	if err := s.vectors.DeleteCollection(ctx, kbID); err != nil {
		return fmt.Errorf("dropping collection: %w", err)
	}
	removed, err := s.registry.DeleteByKB(ctx, kbID)
	if err != nil {
		return err
	}

	s.logger.Info("deleted knowledge base", "kb_id", kbID, "documents", removed)
	return nil
}
