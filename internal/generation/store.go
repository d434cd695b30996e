package generation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store persists generation jobs in PostgreSQL.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a Store on the given pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Create inserts a new processing job.
func (s *Store) Create(ctx context.Context, job Job) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO generations
		 (id, agent_id, task_id, user_id, input_text, file_content, output_content,
		  duration_seconds, status, error, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, '', 0, $7, '', $8)`,
		job.ID, job.AgentID, job.TaskID, job.UserID, job.InputText, job.FileContent,
		StatusProcessing, job.CreatedAt)
	if err != nil {
		return fmt.Errorf("inserting generation %q: %w", job.ID, err)
	}
	return nil
}

// Get returns one job by ID.
func (s *Store) Get(ctx context.Context, id string) (Job, error) {
	var job Job
	err := s.pool.QueryRow(ctx,
		`SELECT id, agent_id, task_id, user_id, input_text, file_content,
		        output_content, duration_seconds, status, error, created_at
		 FROM generations WHERE id = $1`, id).
		Scan(&job.ID, &job.AgentID, &job.TaskID, &job.UserID, &job.InputText,
			&job.FileContent, &job.OutputContent, &job.DurationSeconds,
			&job.Status, &job.Error, &job.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("getting generation %q: %w", id, err)
	}
	return job, nil
}

// Complete moves a processing job to completed with its output. The status
// guard in the WHERE clause makes the transition one-way: a job that already
// finished is left untouched and ErrAlreadyFinal is returned.
func (s *Store) Complete(ctx context.Context, id, output string, duration int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generations
		 SET status = $2, output_content = $3, duration_seconds = $4
		 WHERE id = $1 AND status = $5`,
		id, StatusCompleted, output, duration, StatusProcessing)
	if err != nil {
		return fmt.Errorf("completing generation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.finalizeMiss(ctx, id)
	}
	return nil
}

// Fail moves a processing job to failed with an error message, under the same
// one-way guard as Complete.
func (s *Store) Fail(ctx context.Context, id, message string, duration int) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE generations
		 SET status = $2, error = $3, duration_seconds = $4
		 WHERE id = $1 AND status = $5`,
		id, StatusFailed, message, duration, StatusProcessing)
	if err != nil {
		return fmt.Errorf("failing generation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.finalizeMiss(ctx, id)
	}
	return nil
}

// finalizeMiss distinguishes a missing row from a job already in a terminal
// state.
func (s *Store) finalizeMiss(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	return ErrAlreadyFinal
}

// DeleteOlderThan removes jobs created before the cutoff and returns how many
// were removed.
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM generations WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("purging generations: %w", err)
	}
	return tag.RowsAffected(), nil
}
