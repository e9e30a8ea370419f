package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

const defaultMaxAttempts = 3

// EnqueueJob adds a pending job. A zero RunAfter makes it claimable now.
func (s *Store) EnqueueJob(job Job) error {
	now := formatTime(time.Now())
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = formatTime(job.RunAfter)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = defaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob marks the oldest due pending job of one of types as running
// and returns it. It returns nil when nothing is due.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := formatTime(time.Now())
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + strings.Repeat(",?", len(types)-1) + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`
	args := []any{now}
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var (
		j                   Job
		runAfter, createdAt string
		lastError           sql.NullString
	)
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &lastError,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		return nil, fmt.Errorf("marking job running: %w", err)
	}
	if n, err := res.RowsAffected(); err != nil || n != 1 {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = parseTime("run_after", runAfter); err != nil {
		return nil, err
	}
	if j.CreatedAt, err = parseTime("created_at", createdAt); err != nil {
		return nil, err
	}
	j.UpdatedAt, _ = parseTime("updated_at", now)
	return &j, nil
}

// CompleteJob marks a job completed.
func (s *Store) CompleteJob(id string) error {
	return s.setJobStatus(id, "completed", "")
}

// DiscardJob marks a job failed without further attempts.
func (s *Store) DiscardJob(id string, errMsg string) error {
	return s.setJobStatus(id, "failed", errMsg)
}

// FailJob records a failed run. The job goes back to pending with
// exponential backoff (2^attempts seconds) until max_attempts is reached,
// then it is marked failed.
func (s *Store) FailJob(id string, errMsg string) error {
	return s.bumpJob(id, errMsg, func(attempts int, now time.Time) time.Time {
		return now.Add(time.Duration(1<<attempts) * time.Second)
	})
}

// RescheduleJob puts a running job back in the queue to run at runAfter and
// counts the run as an attempt. It reports false when the job has used all
// of its attempts and was marked failed instead.
func (s *Store) RescheduleJob(id string, runAfter time.Time, note string) (bool, error) {
	var requeued bool
	err := s.bumpJob(id, note, func(int, time.Time) time.Time {
		requeued = true
		return runAfter
	})
	return requeued, err
}

// RequeueRunningJobs returns jobs left running by a previous process to the
// pending state. It returns the number of jobs requeued.
func (s *Store) RequeueRunningJobs() (int64, error) {
	res, err := s.db.Exec(`UPDATE jobs SET status = 'pending', updated_at = ? WHERE status = 'running'`, formatTime(time.Now()))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// bumpJob increments attempts and either requeues the job at next(...) or,
// once attempts reach max_attempts, marks it failed.
func (s *Store) bumpJob(id, errMsg string, next func(attempts int, now time.Time) time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning job update: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now()
	attempts++
	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(now), id)
	} else {
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, formatTime(next(attempts, now)), formatTime(now), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) setJobStatus(id, status, errMsg string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		status, errMsg, formatTime(time.Now()), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
