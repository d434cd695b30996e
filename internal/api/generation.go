package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/draftforge/draftforge/internal/generation"
)

// GenerationStarter launches generation jobs.
type GenerationStarter interface {
	Start(ctx context.Context, req generation.StartRequest) (string, error)
}

// JobGetter reads generation jobs.
type JobGetter interface {
	Get(ctx context.Context, id string) (generation.Job, error)
}

// Relayer streams one job's progress over SSE.
type Relayer interface {
	Stream(ctx context.Context, w http.ResponseWriter, generationID string) error
}

type generationHandler struct {
	orchestrator GenerationStarter
	jobs         JobGetter
	relay        Relayer
	streamSecret []byte
	logger       *slog.Logger
}

type startRequest struct {
	AgentID     string `json:"agentId"`
	TaskID      string `json:"taskId"`
	UserID      string `json:"userId"`
	InputText   string `json:"inputText"`
	FileContent string `json:"fileContent"`
	Agent       struct {
		Kind    string `json:"kind"`
		BaseURL string `json:"baseUrl"`
		APIKey  string `json:"apiKey"`
		Model   string `json:"model"`
	} `json:"agent"`
}

type startResponse struct {
	GenerationID string `json:"generationId"`
	StreamURL    string `json:"streamUrl"`
}

// start handles POST /api/v1/generation/start. The job ID comes back
// immediately; progress is observed on the stream URL.
func (h *generationHandler) start(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body", h.logger)
		return
	}

	id, err := h.orchestrator.Start(r.Context(), generation.StartRequest{
		AgentID:     req.AgentID,
		TaskID:      req.TaskID,
		UserID:      req.UserID,
		InputText:   req.InputText,
		FileContent: req.FileContent,
		Agent: generation.Agent{
			Kind:    req.Agent.Kind,
			BaseURL: req.Agent.BaseURL,
			APIKey:  req.Agent.APIKey,
			Model:   req.Agent.Model,
		},
	})
	if err != nil {
		WriteError(w, http.StatusBadRequest, "invalid_request", err.Error(), h.logger)
		return
	}

	token, err := issueStreamToken(h.streamSecret, id)
	if err != nil {
		h.logger.Error("failed to issue stream token", "generation_id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "token_failed", "failed to issue stream token", h.logger)
		return
	}

	streamURL := fmt.Sprintf("/api/v1/generation/stream?generationId=%s&token=%s",
		url.QueryEscape(id), url.QueryEscape(token))
	WriteJSON(w, http.StatusAccepted, startResponse{GenerationID: id, StreamURL: streamURL})
}

// stream handles GET /api/v1/generation/stream?generationId=&token=.
func (h *generationHandler) stream(w http.ResponseWriter, r *http.Request) {
	generationID := r.URL.Query().Get("generationId")
	token := r.URL.Query().Get("token")

	if generationID == "" {
		WriteError(w, http.StatusBadRequest, "invalid_request", "generationId is required", h.logger)
		return
	}
	if err := validateStreamToken(h.streamSecret, token, generationID); err != nil {
		WriteError(w, http.StatusUnauthorized, "invalid_token", "invalid stream token", h.logger)
		return
	}

	if err := h.relay.Stream(r.Context(), w, generationID); err != nil {
		// Headers are out by now; the client sees a truncated stream.
		h.logger.Warn("stream aborted", "generation_id", generationID, "error", err)
	}
}

// download handles GET /api/v1/generation/{id}/download.
func (h *generationHandler) download(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	job, err := h.jobs.Get(r.Context(), id)
	if errors.Is(err, generation.ErrNotFound) {
		WriteError(w, http.StatusNotFound, "not_found", "generation not found", h.logger)
		return
	}
	if err != nil {
		h.logger.Error("generation load failed", "generation_id", id, "error", err)
		WriteError(w, http.StatusInternalServerError, "load_failed", "failed to load generation", h.logger)
		return
	}

	md, err := generation.RenderMarkdown(job)
	if errors.Is(err, generation.ErrNotCompleted) {
		WriteError(w, http.StatusConflict, "not_completed", "generation has not completed", h.logger)
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "render_failed", "failed to render download", h.logger)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", generation.DownloadFileName(job)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(md)); err != nil {
		h.logger.Debug("failed to write download body", "error", err)
	}
}
