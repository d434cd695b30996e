// Package generation runs content-generation jobs against upstream agent
// backends and persists their lifecycle. A job is created synchronously,
// processed in the background, and reaches exactly one terminal state.
package generation

import (
	"errors"
	"time"
)

// Job status values. A job starts processing and moves exactly once to
// completed or failed.
const (
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// ErrNotFound is returned when a generation ID has no row.
var ErrNotFound = errors.New("generation: not found")

// ErrNotCompleted is returned when a download is requested for a job that has
// not completed.
var ErrNotCompleted = errors.New("generation: not completed")

// ErrAlreadyFinal is returned when a terminal update targets a job that
// already left the processing state.
var ErrAlreadyFinal = errors.New("generation: job already finalized")

// Job is one generation run.
type Job struct {
	ID              string
	AgentID         string
	TaskID          string
	UserID          string
	InputText       string
	FileContent     string
	OutputContent   string
	DurationSeconds int
	Status          string
	Error           string
	CreatedAt       time.Time
}

// Backend kinds select the upstream wire format.
const (
	// BackendChat streams events with an answer field per frame.
	BackendChat = "chat"

	// BackendCompletions streams OpenAI-style chat completion deltas.
	BackendCompletions = "completions"
)

// Agent is the upstream endpoint a job runs against. Agent management lives
// outside this service, so the caller supplies the connection details.
type Agent struct {
	Kind    string
	BaseURL string
	APIKey  string
	Model   string
}
