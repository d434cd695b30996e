package relay

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/draftforge/draftforge/internal/generation"
)

// Default connection timings.
const (
	DefaultPollInterval      = time.Second
	DefaultHeartbeatInterval = 15 * time.Second
)

// JobGetter is the job-store slice the relay needs.
type JobGetter interface {
	Get(ctx context.Context, id string) (generation.Job, error)
}

// Relay streams job progress to SSE clients. Safe for concurrent use; each
// connection runs independently.
type Relay struct {
	store             JobGetter
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	logger            *slog.Logger
}

// New creates a Relay. Non-positive intervals fall back to the defaults.
func New(store JobGetter, pollInterval, heartbeatInterval time.Duration, logger *slog.Logger) *Relay {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if heartbeatInterval <= 0 {
		heartbeatInterval = DefaultHeartbeatInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		store:             store,
		pollInterval:      pollInterval,
		heartbeatInterval: heartbeatInterval,
		logger:            logger,
	}
}

type connectedPayload struct {
	GenerationID string `json:"generationId"`
}

type progressPayload struct {
	Status         string `json:"status"`
	ElapsedSeconds int    `json:"elapsedSeconds"`
}

type completePayload struct {
	Output          string `json:"output"`
	DurationSeconds int    `json:"durationSeconds"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// Stream relays one job's progress until it reaches a terminal state or the
// client disconnects. Exactly one terminal event is written: complete with
// the full output, or error. Both tickers stop on every exit path.
func (r *Relay) Stream(ctx context.Context, w http.ResponseWriter, generationID string) error {
	writer, err := NewWriter(w)
	if err != nil {
		return err
	}

	if err := writer.WriteEvent("connected", connectedPayload{GenerationID: generationID}); err != nil {
		return err
	}

	start := time.Now()

	// Poll immediately so finished jobs resolve without waiting a tick.
	if done, err := r.pollOnce(ctx, writer, generationID, start); done || err != nil {
		return err
	}

	poll := time.NewTicker(r.pollInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(r.heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("stream client disconnected", "generation_id", generationID)
			return nil
		case <-poll.C:
			if done, err := r.pollOnce(ctx, writer, generationID, start); done || err != nil {
				return err
			}
		case <-heartbeat.C:
			if err := writer.WriteHeartbeat(); err != nil {
				return err
			}
		}
	}
}

// pollOnce reads the job and writes at most one event. It reports done when
// a terminal event was written.
func (r *Relay) pollOnce(ctx context.Context, writer *Writer, generationID string, start time.Time) (bool, error) {
	job, err := r.store.Get(ctx, generationID)
	if err != nil {
		msg := "failed to load generation"
		if errors.Is(err, generation.ErrNotFound) {
			msg = "generation not found"
		} else {
			r.logger.Warn("stream poll failed", "generation_id", generationID, "error", err)
		}
		return true, writer.WriteEvent("error", errorPayload{Message: msg})
	}

	switch job.Status {
	case generation.StatusCompleted:
		return true, writer.WriteEvent("complete", completePayload{
			Output:          job.OutputContent,
			DurationSeconds: job.DurationSeconds,
		})
	case generation.StatusFailed:
		msg := job.Error
		if msg == "" {
			msg = "generation failed"
		}
		return true, writer.WriteEvent("error", errorPayload{Message: msg})
	default:
		return false, writer.WriteEvent("progress", progressPayload{
			Status:         job.Status,
			ElapsedSeconds: int(time.Since(start).Seconds()),
		})
	}
}
