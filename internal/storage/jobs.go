package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Job types handled by the persistence worker.
const (
	JobPersistTurn = "persist_turn"
	JobSaveLead    = "save_lead"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const defaultJobAttempts = 3

func dbTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

// EnqueueJob inserts a pending job. An empty ID gets a fresh UUID and a zero
// MaxAttempts means 3.
func (s *Store) EnqueueJob(job Job) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultJobAttempts
	}
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, job.MaxAttempts, dbTime(job.RunAfter), dbTime(now), dbTime(now),
	)
	if err != nil {
		return fmt.Errorf("enqueueing %s job: %w", job.Type, err)
	}
	return nil
}

// ClaimNextJob atomically moves the oldest ready pending job of one of the
// given types to running and returns it, or nil when none is ready.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := dbTime(time.Now())

	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	query := `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

	var (
		j                              Job
		runAfter, createdAt, updatedAt string
		lastError                      sql.NullString
	)
	err := s.db.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}

	j.LastError = lastError.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&j.RunAfter, runAfter}, {&j.CreatedAt, createdAt}, {&j.UpdatedAt, updatedAt}} {
		if *f.dst, err = time.Parse(time.RFC3339, f.src); err != nil {
			return nil, fmt.Errorf("parsing timestamps of job %s: %w", j.ID, err)
		}
	}
	return &j, nil
}

func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, JobCompleted, dbTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job becomes pending again after
// 2^attempts seconds, or failed once max_attempts is reached.
func (s *Store) FailJob(id string, errMsg string) error {
	var attempts, maxAttempts int
	err := s.db.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("reading job %s: %w", id, err)
	}

	attempts++
	now := time.Now()
	status, runAfter := JobPending, now.Add(time.Second<<attempts)
	if attempts >= maxAttempts {
		status, runAfter = JobFailed, now
	}
	_, err = s.db.Exec(`
		UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ?
		WHERE id = ?`,
		status, attempts, errMsg, dbTime(runAfter), dbTime(now), id)
	if err != nil {
		return fmt.Errorf("failing job %s: %w", id, err)
	}
	return nil
}

// ResetStaleJobs returns running jobs not touched for olderThan to pending so
// a worker can claim them again. A job is left running when its process died
// mid-flight.
func (s *Store) ResetStaleJobs(olderThan time.Duration) (int64, error) {
	now := time.Now()
	res, err := s.db.Exec(`
		UPDATE jobs SET status = ?, run_after = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		JobPending, dbTime(now), dbTime(now), JobRunning, dbTime(now.Add(-olderThan)))
	if err != nil {
		return 0, fmt.Errorf("resetting stale jobs: %w", err)
	}
	return res.RowsAffected()
}

// PurgeJobs deletes completed jobs last updated before the cutoff and returns
// how many were removed.
func (s *Store) PurgeJobs(before time.Time) (int64, error) {
	res, err := s.db.Exec(`DELETE FROM jobs WHERE status = ? AND updated_at < ?`, JobCompleted, dbTime(before))
	if err != nil {
		return 0, fmt.Errorf("purging jobs: %w", err)
	}
	return res.RowsAffected()
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("counting jobs: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
