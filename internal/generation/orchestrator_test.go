package generation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/testutil"
)

type memStore struct {
	mu   sync.Mutex
	jobs map[string]Job
}

func newMemStore() *memStore {
	return &memStore{jobs: make(map[string]Job)}
}

func (m *memStore) Create(_ context.Context, job Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	job.Status = StatusProcessing
	m.jobs[job.ID] = job
	return nil
}

func (m *memStore) Complete(ctx context.Context, id, output string, duration int) error {
	// Like the real store, an expired context refuses the update.
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusProcessing {
		return ErrAlreadyFinal
	}
	job.Status = StatusCompleted
	job.OutputContent = output
	job.DurationSeconds = duration
	m.jobs[id] = job
	return nil
}

func (m *memStore) Fail(ctx context.Context, id, message string, duration int) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.Status != StatusProcessing {
		return ErrAlreadyFinal
	}
	job.Status = StatusFailed
	job.Error = message
	job.DurationSeconds = duration
	m.jobs[id] = job
	return nil
}

func (m *memStore) get(id string) Job {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.jobs[id]
}

func TestOrchestratorCompletesJob(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "text/event-stream")
		w.Write([]byte(`data: {"event":"message","answer":"draft "}` + "\n\n"))
		w.Write([]byte(`data: {"event":"message","answer":"article"}` + "\n\n"))
		w.Write([]byte(`data: {"event":"message_end"}` + "\n\n"))
	}))
	defer srv.Close()

	store := newMemStore()
	orch := NewOrchestrator(store, testutil.DiscardLogger())

	id, err := orch.Start(context.Background(), StartRequest{
		AgentID:   "agent-1",
		UserID:    "user-1",
		InputText: "write a draft",
		Agent:     Agent{Kind: BackendChat, BaseURL: srv.URL, APIKey: "secret"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	orch.Wait()

	job := store.get(id)
	assert.Equal(t, StatusCompleted, job.Status)
	assert.Equal(t, "draft article", job.OutputContent)
	assert.Equal(t, "Bearer secret", gotAuth)
}

func TestOrchestratorStartReturnsBeforeCompletion(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`data: {"event":"message_end"}` + "\n\n"))
	}))
	defer srv.Close()

	store := newMemStore()
	orch := NewOrchestrator(store, testutil.DiscardLogger())

	start := time.Now()
	id, err := orch.Start(context.Background(), StartRequest{
		InputText: "slow job",
		Agent:     Agent{Kind: BackendChat, BaseURL: srv.URL},
	})
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, StatusProcessing, store.get(id).Status)

	close(release)
	orch.Wait()
	assert.Equal(t, StatusCompleted, store.get(id).Status)
}

func TestOrchestratorFailsJobOnUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	store := newMemStore()
	orch := NewOrchestrator(store, testutil.DiscardLogger())

	id, err := orch.Start(context.Background(), StartRequest{
		InputText: "doomed job",
		Agent:     Agent{Kind: BackendCompletions, BaseURL: srv.URL},
	})
	require.NoError(t, err)

	orch.Wait()

	job := store.get(id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.Contains(t, job.Error, "503")
}

func TestOrchestratorFailsJobWhenUpstreamHangs(t *testing.T) {
	// The upstream accepts the request and then never sends a frame, so only
	// the job timeout ends the stream. The failure must still be recorded
	// even though the stream context is already expired by then.
	hung := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.(http.Flusher).Flush()
		<-hung
	}))
	defer srv.Close()
	defer close(hung)

	store := newMemStore()
	orch := NewOrchestrator(store, testutil.DiscardLogger(), WithTimeout(100*time.Millisecond))

	id, err := orch.Start(context.Background(), StartRequest{
		InputText: "hanging job",
		Agent:     Agent{Kind: BackendChat, BaseURL: srv.URL},
	})
	require.NoError(t, err)

	orch.Wait()

	job := store.get(id)
	assert.Equal(t, StatusFailed, job.Status)
	assert.NotEmpty(t, job.Error)
}

func TestOrchestratorValidation(t *testing.T) {
	orch := NewOrchestrator(newMemStore(), testutil.DiscardLogger())
	ctx := context.Background()

	_, err := orch.Start(ctx, StartRequest{
		InputText: "  ",
		Agent:     Agent{Kind: BackendChat, BaseURL: "http://localhost"},
	})
	assert.Error(t, err)

	_, err = orch.Start(ctx, StartRequest{
		InputText: "text",
		Agent:     Agent{Kind: "unknown", BaseURL: "http://localhost"},
	})
	assert.Error(t, err)

	_, err = orch.Start(ctx, StartRequest{
		InputText: "text",
		Agent:     Agent{Kind: BackendChat},
	})
	assert.Error(t, err)
}

func TestOrchestratorAppendsFileContent(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		gotQuery = req.Query
		w.Write([]byte(`data: {"event":"message_end"}` + "\n\n"))
	}))
	defer srv.Close()

	store := newMemStore()
	orch := NewOrchestrator(store, testutil.DiscardLogger())

	_, err := orch.Start(context.Background(), StartRequest{
		InputText:   "summarize this",
		FileContent: "uploaded body",
		Agent:       Agent{Kind: BackendChat, BaseURL: srv.URL},
	})
	require.NoError(t, err)
	orch.Wait()

	assert.Contains(t, gotQuery, "summarize this")
	assert.Contains(t, gotQuery, "uploaded body")
}
