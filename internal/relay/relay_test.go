package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/draftforge/draftforge/internal/generation"
	"github.com/draftforge/draftforge/internal/testutil"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeStore struct {
	mu   sync.Mutex
	job  generation.Job
	err  error
	gets int

	// onGet runs under the lock after each read, with the number of reads so
	// far. Tests use it to flip job state or cancel the client.
	onGet func(gets int)
}

func (f *fakeStore) Get(context.Context, string) (generation.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.onGet != nil {
		f.onGet(f.gets)
	}
	if f.err != nil {
		return generation.Job{}, f.err
	}
	return f.job, nil
}

func (f *fakeStore) setJob(job generation.Job) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.job = job
}

func streamToRecorder(t *testing.T, r *Relay, ctx context.Context, id string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	require.NoError(t, r.Stream(ctx, rec, id))
	return rec
}

func TestStreamCompletedJob(t *testing.T) {
	store := &fakeStore{job: generation.Job{
		ID: "gen-1", Status: generation.StatusCompleted,
		OutputContent: "final text", DurationSeconds: 8,
	}}
	relay := New(store, time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, context.Background(), "gen-1")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "connected", events[0].Type)
	assert.JSONEq(t, `{"generationId":"gen-1"}`, events[0].Data)
	assert.Equal(t, "complete", events[1].Type)

	var payload struct {
		Output          string `json:"output"`
		DurationSeconds int    `json:"durationSeconds"`
	}
	require.NoError(t, json.Unmarshal([]byte(events[1].Data), &payload))
	assert.Equal(t, "final text", payload.Output)
	assert.Equal(t, 8, payload.DurationSeconds)

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
}

func TestStreamProgressThenComplete(t *testing.T) {
	store := &fakeStore{job: generation.Job{ID: "gen-2", Status: generation.StatusProcessing}}
	store.onGet = func(gets int) {
		if gets == 3 {
			store.job = generation.Job{
				ID: "gen-2", Status: generation.StatusCompleted, OutputContent: "done",
			}
		}
	}
	relay := New(store, 5*time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, context.Background(), "gen-2")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	assert.Len(t, testutil.FindAllEvents(events, "progress"), 2)
	assert.Len(t, testutil.FindAllEvents(events, "complete"), 1)
	// The terminal event is last.
	assert.Equal(t, "complete", events[len(events)-1].Type)
}

func TestStreamFailedJob(t *testing.T) {
	store := &fakeStore{job: generation.Job{
		ID: "gen-3", Status: generation.StatusFailed, Error: "upstream timeout",
	}}
	relay := New(store, time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, context.Background(), "gen-3")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	errEvent := testutil.FindEvent(events, "error")
	require.NotNil(t, errEvent)
	assert.JSONEq(t, `{"message":"upstream timeout"}`, errEvent.Data)
	assert.Len(t, testutil.FindAllEvents(events, "complete"), 0)
}

func TestStreamUnknownGeneration(t *testing.T) {
	store := &fakeStore{err: generation.ErrNotFound}
	relay := New(store, time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, context.Background(), "missing")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	require.Len(t, events, 2)
	assert.Equal(t, "error", events[1].Type)
	assert.JSONEq(t, `{"message":"generation not found"}`, events[1].Data)
}

func TestStreamStoreError(t *testing.T) {
	store := &fakeStore{err: errors.New("connection refused")}
	relay := New(store, time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, context.Background(), "gen-4")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	errEvent := testutil.FindEvent(events, "error")
	require.NotNil(t, errEvent)
	// Internal details stay out of the client payload.
	assert.JSONEq(t, `{"message":"failed to load generation"}`, errEvent.Data)
}

func TestStreamClientDisconnect(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &fakeStore{job: generation.Job{ID: "gen-5", Status: generation.StatusProcessing}}
	store.onGet = func(gets int) {
		if gets == 4 {
			cancel()
		}
	}
	relay := New(store, 2*time.Millisecond, time.Minute, testutil.DiscardLogger())

	rec := streamToRecorder(t, relay, ctx, "gen-5")

	events := testutil.ParseSSEEvents(t, rec.Body.String())
	assert.Nil(t, testutil.FindEvent(events, "complete"))
	assert.Nil(t, testutil.FindEvent(events, "error"))
	assert.NotEmpty(t, testutil.FindAllEvents(events, "progress"))
}

func TestStreamHeartbeat(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &fakeStore{job: generation.Job{ID: "gen-6", Status: generation.StatusProcessing}}
	relay := New(store, 200*time.Millisecond, 10*time.Millisecond, testutil.DiscardLogger())

	done := make(chan *httptest.ResponseRecorder, 1)
	go func() {
		rec := httptest.NewRecorder()
		_ = relay.Stream(ctx, rec, "gen-6")
		done <- rec
	}()

	time.Sleep(60 * time.Millisecond)
	cancel()
	rec := <-done

	assert.GreaterOrEqual(t, testutil.CountComments(rec.Body.String()), 2)
}
