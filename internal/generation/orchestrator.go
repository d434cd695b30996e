package generation

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// JobStore is the persistence slice the orchestrator needs.
type JobStore interface {
	Create(ctx context.Context, job Job) error
	Complete(ctx context.Context, id, output string, duration int) error
	Fail(ctx context.Context, id, message string, duration int) error
}

// StartRequest describes one generation run. The agent connection details
// travel with the request since agent management is external.
type StartRequest struct {
	AgentID     string
	TaskID      string
	UserID      string
	InputText   string
	FileContent string
	Agent       Agent
}

// Orchestrator starts generation jobs and drives them to a terminal state in
// the background. Safe for concurrent use.
type Orchestrator struct {
	store      JobStore
	httpClient *http.Client
	timeout    time.Duration
	logger     *slog.Logger

	wg sync.WaitGroup
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithHTTPClient replaces the HTTP client used for agent calls.
func WithHTTPClient(hc *http.Client) Option {
	return func(o *Orchestrator) { o.httpClient = hc }
}

// WithTimeout bounds how long one job may run before it fails.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) { o.timeout = d }
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(store JobStore, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:   store,
		timeout: 10 * time.Minute,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Start validates the request, persists a processing job, and returns its ID
// immediately. The upstream call runs in a background goroutine detached from
// the caller's context, so the job finishes even when the starting request
// ends. Outcomes surface only through the job row.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (string, error) {
	if strings.TrimSpace(req.InputText) == "" {
		return "", fmt.Errorf("generation: input text is required")
	}
	streamer, err := StreamerFor(req.Agent.Kind, o.httpClient)
	if err != nil {
		return "", err
	}
	if req.Agent.BaseURL == "" {
		return "", fmt.Errorf("generation: agent base URL is required")
	}

	job := Job{
		ID:          uuid.NewString(),
		AgentID:     req.AgentID,
		TaskID:      req.TaskID,
		UserID:      req.UserID,
		InputText:   req.InputText,
		FileContent: req.FileContent,
		CreatedAt:   time.Now().UTC(),
	}
	if err := o.store.Create(ctx, job); err != nil {
		return "", err
	}

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.run(job, req.Agent, streamer)
	}()

	o.logger.Info("started generation",
		"generation_id", job.ID, "agent_id", req.AgentID, "backend", req.Agent.Kind)
	return job.ID, nil
}

// Wait blocks until every in-flight job goroutine has finished. Used during
// shutdown and in tests.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// persistTimeout bounds the terminal-state UPDATE. It is separate from the
// job timeout: when the stream context expires it must still be possible to
// record the failure, otherwise the job is stuck in processing forever.
const persistTimeout = 10 * time.Second

func (o *Orchestrator) run(job Job, agent Agent, streamer Streamer) {
	streamCtx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	start := time.Now()

	var output strings.Builder
	var streamErr error
	for fragment, err := range streamer.Stream(streamCtx, agent, buildPrompt(job)) {
		if err != nil {
			streamErr = err
			break
		}
		output.WriteString(fragment)
	}

	duration := int(time.Since(start).Seconds())

	ctx, persistCancel := context.WithTimeout(context.Background(), persistTimeout)
	defer persistCancel()

	if streamErr != nil {
		if err := o.store.Fail(ctx, job.ID, streamErr.Error(), duration); err != nil {
			o.logger.Error("failed to record generation failure",
				"generation_id", job.ID, "error", err)
		}
		o.logger.Warn("generation failed",
			"generation_id", job.ID, "duration_seconds", duration, "error", streamErr)
		return
	}

	if err := o.store.Complete(ctx, job.ID, output.String(), duration); err != nil {
		o.logger.Error("failed to record generation completion",
			"generation_id", job.ID, "error", err)
		return
	}
	o.logger.Info("generation completed",
		"generation_id", job.ID, "duration_seconds", duration, "output_length", output.Len())
}

// buildPrompt concatenates the input text with any uploaded file content as
// reference material.
func buildPrompt(job Job) string {
	if job.FileContent == "" {
		return job.InputText
	}
	return job.InputText + "\n\nReference material:\n" + job.FileContent
}
