package knowledge

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/chunker"
	"github.com/draftforge/draftforge/internal/search"
	"github.com/draftforge/draftforge/internal/testutil"
	"github.com/draftforge/draftforge/internal/vectorstore"
)

type memVectors struct {
	collections map[string]map[string]vectorstore.Record
	insertErr   error
	deleteErr   error
}

func newMemVectors() *memVectors {
	return &memVectors{collections: make(map[string]map[string]vectorstore.Record)}
}

func (m *memVectors) EnsureCollection(_ context.Context, collection string) error {
	if m.collections[collection] == nil {
		m.collections[collection] = make(map[string]vectorstore.Record)
	}
	return nil
}

func (m *memVectors) Insert(_ context.Context, collection string, records []vectorstore.Record) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	for _, rec := range records {
		m.collections[collection][rec.ID] = rec
	}
	return nil
}

func (m *memVectors) GetByIDs(_ context.Context, collection string, ids []string) ([]vectorstore.Record, error) {
	var out []vectorstore.Record
	for _, id := range ids {
		if rec, ok := m.collections[collection][id]; ok {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (m *memVectors) Update(_ context.Context, collection string, rec vectorstore.Record) error {
	m.collections[collection][rec.ID] = rec
	return nil
}

func (m *memVectors) Delete(_ context.Context, collection string, ids []string) error {
	if m.deleteErr != nil {
		return m.deleteErr
	}
	for _, id := range ids {
		delete(m.collections[collection], id)
	}
	return nil
}

func (m *memVectors) DeleteCollection(_ context.Context, collection string) error {
	delete(m.collections, collection)
	return nil
}

type memRegistry struct {
	docs      map[string]Document
	insertErr error
}

func newMemRegistry() *memRegistry {
	return &memRegistry{docs: make(map[string]Document)}
}

func (m *memRegistry) Insert(_ context.Context, doc Document) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	m.docs[doc.ID] = doc
	return nil
}

func (m *memRegistry) Get(_ context.Context, kbID, docID string) (Document, error) {
	doc, ok := m.docs[docID]
	if !ok || doc.KBID != kbID {
		return Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (m *memRegistry) List(_ context.Context, kbID string) ([]Document, error) {
	var out []Document
	for _, doc := range m.docs {
		if doc.KBID == kbID {
			out = append(out, doc)
		}
	}
	return out, nil
}

func (m *memRegistry) Delete(_ context.Context, kbID, docID string) error {
	doc, ok := m.docs[docID]
	if !ok || doc.KBID != kbID {
		return ErrDocumentNotFound
	}
	delete(m.docs, docID)
	return nil
}

func (m *memRegistry) DeleteByKB(_ context.Context, kbID string) (int64, error) {
	var removed int64
	for id, doc := range m.docs {
		if doc.KBID == kbID {
			delete(m.docs, id)
			removed++
		}
	}
	return removed, nil
}

type countingEmbedder struct {
	calls   int
	lastLen int
	err     error
}

func (c *countingEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	c.calls++
	c.lastLen = len(texts)
	if c.err != nil {
		return nil, c.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = []float32{float32(i), 1}
	}
	return out, nil
}

type stubSearcher struct {
	hybridCalls   int
	semanticCalls int
	gotOpts       search.Options
	results       []search.Result
}

func (s *stubSearcher) Hybrid(_ context.Context, _, _ string, opts search.Options) ([]search.Result, error) {
	s.hybridCalls++
	s.gotOpts = opts
	return s.results, nil
}

func (s *stubSearcher) Semantic(_ context.Context, _, _ string, opts search.Options) ([]search.Result, error) {
	s.semanticCalls++
	s.gotOpts = opts
	return s.results, nil
}

func newTestService(vectors *memVectors, registry *memRegistry, embedder *countingEmbedder, searcher *stubSearcher) *Service {
	return NewService(registry, vectors, embedder, searcher,
		chunker.Config{Size: 1000, Overlap: 200}, testutil.DiscardLogger())
}

// threeParagraphDoc is roughly 2500 characters in three paragraphs, each
// under one chunk window.
func threeParagraphDoc() string {
	p := strings.Repeat("All work and no play makes for dull documentation. ", 16)
	return strings.TrimSpace(p) + "\n\n" + strings.TrimSpace(p) + "\n\n" + strings.TrimSpace(p)
}

func TestIngestDocument(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	embedder := &countingEmbedder{}
	svc := newTestService(vectors, registry, embedder, &stubSearcher{})

	doc, err := svc.IngestDocument(context.Background(), "kb1", "guide.txt", threeParagraphDoc())
	require.NoError(t, err)

	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, "kb1", doc.KBID)
	assert.Equal(t, "guide.txt", doc.FileName)
	assert.NotEmpty(t, doc.ID)

	// The whole document embeds in one batched call.
	assert.Equal(t, 1, embedder.calls)
	assert.Equal(t, 3, embedder.lastLen)

	// Chunk records carry provenance metadata and derived IDs.
	assert.Len(t, vectors.collections["kb1"], 3)
	first := vectors.collections["kb1"][ChunkID(doc.ID, 0)]
	assert.Equal(t, doc.ID, first.Metadata["doc_id"])
	assert.Equal(t, "guide.txt", first.Metadata["file_name"])
	assert.Equal(t, 0, first.Metadata["chunk_index"])

	stored, err := registry.Get(context.Background(), "kb1", doc.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.ChunkCount)
}

func TestIngestDocumentEmptyText(t *testing.T) {
	svc := newTestService(newMemVectors(), newMemRegistry(), &countingEmbedder{}, &stubSearcher{})

	_, err := svc.IngestDocument(context.Background(), "kb1", "empty.txt", "   \n\n  ")
	assert.ErrorIs(t, err, ErrEmptyDocument)
}

func TestIngestDocumentEmbedFailureStoresNothing(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	embedder := &countingEmbedder{err: errors.New("endpoint down")}
	svc := newTestService(vectors, registry, embedder, &stubSearcher{})

	_, err := svc.IngestDocument(context.Background(), "kb1", "doc.txt", threeParagraphDoc())
	require.Error(t, err)

	assert.Empty(t, vectors.collections["kb1"])
	assert.Empty(t, registry.docs)
}

func TestIngestDocumentRegistryFailureRollsBackChunks(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	registry.insertErr = errors.New("constraint violation")
	svc := newTestService(vectors, registry, &countingEmbedder{}, &stubSearcher{})

	_, err := svc.IngestDocument(context.Background(), "kb1", "doc.txt", threeParagraphDoc())
	require.Error(t, err)

	assert.Empty(t, vectors.collections["kb1"])
}

func TestDeleteDocument(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	svc := newTestService(vectors, registry, &countingEmbedder{}, &stubSearcher{})

	doc, err := svc.IngestDocument(context.Background(), "kb1", "doc.txt", threeParagraphDoc())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDocument(context.Background(), "kb1", doc.ID))

	assert.Empty(t, vectors.collections["kb1"])
	assert.Empty(t, registry.docs)
}

func TestDeleteDocumentMissing(t *testing.T) {
	svc := newTestService(newMemVectors(), newMemRegistry(), &countingEmbedder{}, &stubSearcher{})

	err := svc.DeleteDocument(context.Background(), "kb1", "no-such-doc")
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestDeleteDocumentToleratesVectorFailure(t *testing.T) {
	// Chunks that cannot be deleted must not keep the registry entry alive.
	vectors := newMemVectors()
	registry := newMemRegistry()
	svc := newTestService(vectors, registry, &countingEmbedder{}, &stubSearcher{})

	doc, err := svc.IngestDocument(context.Background(), "kb1", "doc.txt", threeParagraphDoc())
	require.NoError(t, err)

	vectors.deleteErr = errors.New("connection reset")
	require.NoError(t, svc.DeleteDocument(context.Background(), "kb1", doc.ID))

	assert.Empty(t, registry.docs)
}

func TestUpdateChunk(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	embedder := &countingEmbedder{}
	svc := newTestService(vectors, registry, embedder, &stubSearcher{})

	doc, err := svc.IngestDocument(context.Background(), "kb1", "doc.txt", threeParagraphDoc())
	require.NoError(t, err)

	chunkID := ChunkID(doc.ID, 1)
	before := vectors.collections["kb1"][chunkID]

	require.NoError(t, svc.UpdateChunk(context.Background(), "kb1", chunkID, "revised chunk body"))

	after := vectors.collections["kb1"][chunkID]
	assert.Equal(t, "revised chunk body", after.Content)
	assert.Equal(t, before.Metadata["doc_id"], after.Metadata["doc_id"])
	assert.Equal(t, before.Metadata["chunk_index"], after.Metadata["chunk_index"])
	assert.Equal(t, []string{"revised", "chunk", "body"}, after.Metadata["keywords"])
}

func TestUpdateChunkMissing(t *testing.T) {
	vectors := newMemVectors()
	require.NoError(t, vectors.EnsureCollection(context.Background(), "kb1"))
	svc := newTestService(vectors, newMemRegistry(), &countingEmbedder{}, &stubSearcher{})

	err := svc.UpdateChunk(context.Background(), "kb1", "ghost_0", "text")
	assert.ErrorIs(t, err, ErrChunkNotFound)
}

func TestSearchModeDispatch(t *testing.T) {
	searcher := &stubSearcher{}
	svc := newTestService(newMemVectors(), newMemRegistry(), &countingEmbedder{}, searcher)
	ctx := context.Background()

	_, err := svc.Search(ctx, "kb1", SearchRequest{Query: "q"})
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.hybridCalls)
	assert.Nil(t, searcher.gotOpts.VectorWeight)

	zero := 0.0
	_, err = svc.Search(ctx, "kb1", SearchRequest{Query: "q", VectorWeight: &zero})
	require.NoError(t, err)
	require.NotNil(t, searcher.gotOpts.VectorWeight)
	assert.Zero(t, *searcher.gotOpts.VectorWeight)

	_, err = svc.Search(ctx, "kb1", SearchRequest{Query: "q", Mode: ModeSemantic, MinSimilarity: 0.4})
	require.NoError(t, err)
	assert.Equal(t, 1, searcher.semanticCalls)
	assert.Equal(t, 0.4, searcher.gotOpts.MinSimilarity)

	_, err = svc.Search(ctx, "kb1", SearchRequest{Query: "q", Mode: "fuzzy"})
	assert.Error(t, err)
}

func TestDeleteKnowledgeBase(t *testing.T) {
	vectors := newMemVectors()
	registry := newMemRegistry()
	svc := newTestService(vectors, registry, &countingEmbedder{}, &stubSearcher{})
	ctx := context.Background()

	_, err := svc.IngestDocument(ctx, "kb1", "a.txt", threeParagraphDoc())
	require.NoError(t, err)
	_, err = svc.IngestDocument(ctx, "kb1", "b.txt", threeParagraphDoc())
	require.NoError(t, err)
	other, err := svc.IngestDocument(ctx, "kb2", "c.txt", threeParagraphDoc())
	require.NoError(t, err)

	require.NoError(t, svc.DeleteKnowledgeBase(ctx, "kb1"))

	_, ok := vectors.collections["kb1"]
	assert.False(t, ok)
	assert.Len(t, registry.docs, 1)
	_, err = registry.Get(ctx, "kb2", other.ID)
	assert.NoError(t, err)
}
