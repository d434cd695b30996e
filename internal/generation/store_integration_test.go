package generation_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftforge/draftforge/internal/generation"
	"github.com/draftforge/draftforge/internal/testutil"
)

func TestStoreJobLifecycle(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := generation.NewStore(db.Pool)

	job := generation.Job{
		ID:        uuid.NewString(),
		AgentID:   "agent-1",
		TaskID:    "task-1",
		UserID:    "user-1",
		InputText: "write an intro",
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusProcessing, got.Status)
	assert.Empty(t, got.OutputContent)

	require.NoError(t, store.Complete(ctx, job.ID, "the intro", 12))

	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, got.Status)
	assert.Equal(t, "the intro", got.OutputContent)
	assert.Equal(t, 12, got.DurationSeconds)

	// The terminal transition is one-way: a later Fail cannot overwrite it.
	err = store.Fail(ctx, job.ID, "late failure", 99)
	assert.ErrorIs(t, err, generation.ErrAlreadyFinal)

	got, err = store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)
}

func TestStoreFailThenCompleteRejected(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := generation.NewStore(db.Pool)

	job := generation.Job{ID: uuid.NewString(), InputText: "x", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, job))
	require.NoError(t, store.Fail(ctx, job.ID, "upstream timeout", 600))

	assert.ErrorIs(t, store.Complete(ctx, job.ID, "too late", 601), generation.ErrAlreadyFinal)

	got, err := store.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, generation.StatusFailed, got.Status)
	assert.Equal(t, "upstream timeout", got.Error)
}

func TestStoreGetMissing(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	db := testutil.SetupTestDB(t)
	store := generation.NewStore(db.Pool)

	_, err := store.Get(context.Background(), uuid.NewString())
	assert.ErrorIs(t, err, generation.ErrNotFound)

	assert.ErrorIs(t, store.Complete(context.Background(), uuid.NewString(), "x", 1), generation.ErrNotFound)
}

func TestStoreDeleteOlderThan(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()
	db := testutil.SetupTestDB(t)
	store := generation.NewStore(db.Pool)

	old := generation.Job{ID: uuid.NewString(), InputText: "old", CreatedAt: time.Now().UTC().Add(-40 * 24 * time.Hour)}
	fresh := generation.Job{ID: uuid.NewString(), InputText: "fresh", CreatedAt: time.Now().UTC()}
	require.NoError(t, store.Create(ctx, old))
	require.NoError(t, store.Create(ctx, fresh))

	removed, err := store.DeleteOlderThan(ctx, time.Now().UTC().Add(-30*24*time.Hour))
	require.NoError(t, err)
	assert.EqualValues(t, 1, removed)

	_, err = store.Get(ctx, old.ID)
	assert.ErrorIs(t, err, generation.ErrNotFound)
	_, err = store.Get(ctx, fresh.ID)
	assert.NoError(t, err)
}
