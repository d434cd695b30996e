package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/draftforge/draftforge/internal/knowledge"
	"github.com/draftforge/draftforge/internal/search"
)

// KnowledgeService is the knowledge slice the handlers need.
type KnowledgeService interface {
	IngestDocument(ctx context.Context, kbID, fileName, text string) (knowledge.Document, error)
	ListDocuments(ctx context.Context, kbID string) ([]knowledge.Document, error)
	DeleteDocument(ctx context.Context, kbID, docID string) error
	UpdateChunk(ctx context.Context, kbID, chunkID, text string) error
	Search(ctx context.Context, kbID string, req knowledge.SearchRequest) ([]search.Result, error)
	DeleteKnowledgeBase(ctx context.Context, kbID string) error
}

type knowledgeHandler struct {
	service KnowledgeService
	logger  *slog.Logger
}

type ingestRequest struct {
	FileName string `json:"fileName"`
	Text     string `json:"text"`
}

type documentResponse struct {
	ID         string `json:"id"`
	KBID       string `json:"kbId"`
	FileName   string `json:"fileName"`
	ChunkCount int    `json:"chunkCount"`
	CreatedAt  string `json:"createdAt"`
}

func toDocumentResponse(doc knowledge.Document) documentResponse {
	return documentResponse{
		ID:         doc.ID,
		KBID:       doc.KBID,
		FileName:   doc.FileName,
		ChunkCount: doc.ChunkCount,
		CreatedAt:  doc.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}

// ingest handles POST /api/v1/knowledge-bases/{kbID}/documents.
func (h *knowledgeHandler) ingest(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
		return
	}
	if req.FileName == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "fileName is required", h.logger)
		return
	}

	doc, err := h.service.IngestDocument(r.Context(), kbID, req.FileName, req.Text)
	if errors.Is(err, knowledge.ErrEmptyDocument) {
		WriteError(w, http.StatusBadRequest, "empty_document", "document has no content", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("document ingest failed", "kb_id", kbID, "error", err)
		WriteError(w, http.StatusInternalServerError, "ingest_failed", "failed to ingest document", h.logger)
		return
	}

	WriteJSON(w, http.StatusCreated, toDocumentResponse(doc))
}

// listDocuments handles GET /api/v1/knowledge-bases/{kbID}/documents.
func (h *knowledgeHandler) listDocuments(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")

	docs, err := h.service.ListDocuments(r.Context(), kbID)
	if err != nil {
		h.logger.Error("document list failed", "kb_id", kbID, "error", err)
		WriteError(w, http.StatusInternalServerError, "list_failed", "failed to list documents", h.logger)
		return
	}

	out := make([]documentResponse, 0, len(docs))
	for _, doc := range docs {
		out = append(out, toDocumentResponse(doc))
	}
	WriteJSON(w, http.StatusOK, map[string]any{"documents": out})
}

// deleteDocument handles DELETE /api/v1/knowledge-bases/{kbID}/documents/{docID}.
func (h *knowledgeHandler) deleteDocument(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")
	docID := r.PathValue("docID")

	err := h.service.DeleteDocument(r.Context(), kbID, docID)
	if errors.Is(err, knowledge.ErrDocumentNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "document not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("document delete failed", "kb_id", kbID, "doc_id", docID, "error", err)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete document", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

type searchRequest struct {
	Query string `json:"query"`
	Mode  string `json:"mode"`
	TopK  int    `json:"topK"`
	// VectorWeight distinguishes absent (default blend) from an explicit 0
	// (keyword-only ranking).
	VectorWeight  *float64 `json:"vectorWeight"`
	MinSimilarity float64  `json:"minSimilarity"`
}

type searchResultResponse struct {
	ID           string         `json:"id"`
	Content      string         `json:"content"`
	Score        float64        `json:"score"`
	VectorScore  float64        `json:"vectorScore"`
	KeywordScore float64        `json:"keywordScore"`
	Metadata     map[string]any `json:"metadata"`
}

// search handles POST /api/v1/knowledge-bases/{kbID}/search.
func (h *knowledgeHandler) search(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")

	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
		return
	}
	if req.Query == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "query is required", h.logger)
		return
	}

	results, err := h.service.Search(r.Context(), kbID, knowledge.SearchRequest{
		Query:         req.Query,
		Mode:          knowledge.SearchMode(req.Mode),
		TopK:          req.TopK,
		VectorWeight:  req.VectorWeight,
		MinSimilarity: req.MinSimilarity,
	})
	if err != nil {
		h.logger.Error("search failed", "kb_id", kbID, "error", err)
		WriteError(w, http.StatusInternalServerError, "search_failed", "search failed", h.logger)
		return
	}

	out := make([]searchResultResponse, 0, len(results))
	for _, res := range results {
		out = append(out, searchResultResponse{
			ID:           res.ID,
			Content:      res.Content,
			Score:        res.Score,
			VectorScore:  res.VectorScore,
			KeywordScore: res.KeywordScore,
			Metadata:     res.Metadata,
		})
	}
	WriteJSON(w, http.StatusOK, map[string]any{"results": out})
}

type updateChunkRequest struct {
	Text string `json:"text"`
}

// updateChunk handles PUT /api/v1/knowledge-bases/{kbID}/chunks/{chunkID}.
func (h *knowledgeHandler) updateChunk(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")
	chunkID := r.PathValue("chunkID")

	var req updateChunkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
		return
	}

	err := h.service.UpdateChunk(r.Context(), kbID, chunkID, req.Text)
	switch {
	case errors.Is(err, knowledge.ErrChunkNotFound):
		WriteError(w, http.StatusNotFound, "not_found", "chunk not found", h.logger)
	case errors.Is(err, knowledge.ErrEmptyDocument):
		WriteError(w, http.StatusBadRequest, "invalid_request", "text is required", h.logger)
	case err != nil:
		h.logger.Error("chunk update failed", "kb_id", kbID, "chunk_id", chunkID, "error", err)
		WriteError(w, http.StatusInternalServerError, "update_failed", "failed to update chunk", h.logger)
	default:
		WriteJSON(w, http.StatusOK, map[string]string{"status": "updated"})
	}
}

// deleteKnowledgeBase handles DELETE /api/v1/knowledge-bases/{kbID}.
func (h *knowledgeHandler) deleteKnowledgeBase(w http.ResponseWriter, r *http.Request) {
	kbID := r.PathValue("kbID")

	if err := h.service.DeleteKnowledgeBase(r.Context(), kbID); err != nil {
		h.logger.Error("knowledge base delete failed", "kb_id", kbID, "error", err)
		WriteError(w, http.StatusInternalServerError, "delete_failed", "failed to delete knowledge base", h.logger)
		return
	}

	WriteJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}
