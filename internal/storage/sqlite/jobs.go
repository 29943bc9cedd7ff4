package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/chamaledger/internal/models"
	"github.com/mmynk/chamaledger/internal/storage"
)

const jobColumns = `id, kind, payload, not_before, attempt, status, last_error, created_at, updated_at`

// EnqueueJob persists a queued job.
func (r *repo) EnqueueJob(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if job.CreatedAt.IsZero() {
		job.CreatedAt = now
	}
	job.UpdatedAt = job.CreatedAt
	if job.Status == "" {
		job.Status = models.JobQueued
	}

	_, err := r.q.ExecContext(ctx,
		`INSERT INTO jobs (`+jobColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, string(job.Kind), job.Payload, millis(job.NotBefore), job.Attempt, string(job.Status),
		job.LastError, millis(job.CreatedAt), millis(job.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert job: %w", err)
	}
	return nil
}

// ClaimJob atomically marks the next due job as running.
// Running jobs whose lease expired are claimed again.
func (s *SQLiteStore) ClaimJob(ctx context.Context, now time.Time, lease time.Duration) (*models.Job, error) {
	nowMs := millis(now)
	job, err := scanJob(s.db.QueryRowContext(ctx,
		`UPDATE jobs SET status = ?, updated_at = ?
		 WHERE id = (
		   SELECT id FROM jobs
		   WHERE (status = ? AND not_before <= ?) OR (status = ? AND updated_at <= ?)
		   ORDER BY not_before, created_at
		   LIMIT 1
		 )
		 RETURNING `+jobColumns,
		string(models.JobRunning), nowMs,
		string(models.JobQueued), nowMs, string(models.JobRunning), millis(now.Add(-lease)),
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// CompleteJob marks a job done.
func (s *SQLiteStore) CompleteJob(ctx context.Context, jobID string, now time.Time) error {
	return s.finishJob(ctx, jobID, models.JobDone, "", now)
}

// BuryJob marks a job dead so it never runs again.
func (s *SQLiteStore) BuryJob(ctx context.Context, jobID, lastErr string, now time.Time) error {
	return s.finishJob(ctx, jobID, models.JobDead, lastErr, now)
}

func (s *SQLiteStore) finishJob(ctx context.Context, jobID string, status models.JobStatus, lastErr string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(status), lastErr, millis(now), jobID)
	if err != nil {
		return fmt.Errorf("failed to update job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return nil
}

// RetryJob puts a job back on the queue to run again at notBefore.
func (s *SQLiteStore) RetryJob(ctx context.Context, jobID string, notBefore time.Time, attempt int, lastErr string, now time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, not_before = ?, attempt = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(models.JobQueued), millis(notBefore), attempt, lastErr, millis(now), jobID)
	if err != nil {
		return fmt.Errorf("failed to reschedule job: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("job %s: %w", jobID, storage.ErrNotFound)
	}
	return nil
}

// ListJobs retrieves all jobs for a payload, oldest first.
func (s *SQLiteStore) ListJobs(ctx context.Context, payload string) ([]*models.Job, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+jobColumns+` FROM jobs WHERE payload = ? ORDER BY created_at, rowid`, payload)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}

	return jobs, nil
}

func scanJob(s rowScanner) (*models.Job, error) {
	job := &models.Job{}
	var kind, status string
	var notBefore, createdAt, updatedAt int64

	if err := s.Scan(&job.ID, &kind, &job.Payload, &notBefore, &job.Attempt, &status, &job.LastError,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}

	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	job.NotBefore = fromMillis(notBefore)
	job.CreatedAt = fromMillis(createdAt)
	job.UpdatedAt = fromMillis(updatedAt)
	return job, nil
}
