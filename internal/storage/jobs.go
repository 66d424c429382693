package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// DefaultMaxAttempts is used when a job is enqueued without MaxAttempts.
const DefaultMaxAttempts = 3

// exhaustedFormat is the processing_error of a document whose job ran out
// of attempts.
const exhaustedFormat = "processing failed after %d attempts: %s"

const jobColumns = `id, document_id, generation, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

// EnqueueJob queues processing of job.DocumentID at job.Generation. A zero
// RunAfter means now.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = DefaultMaxAttempts
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, document_id, generation, status, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		job.ID, job.DocumentID, job.Generation, string(JobPending), job.MaxAttempts,
		formatTime(job.RunAfter), formatTime(now), formatTime(now))
	if err != nil {
		return fmt.Errorf("enqueueing job for %s: %w", job.DocumentID, err)
	}
	return nil
}

// ClaimJob marks the oldest pending job due at now as running and returns
// it, or nil when nothing is due.
func (s *Store) ClaimJob(now time.Time) (*Job, error) {
	ts := formatTime(now)
	row := s.db.QueryRow(`
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ?
			ORDER BY run_after ASC, created_at ASC
			LIMIT 1
		)
		RETURNING `+jobColumns,
		string(JobRunning), ts, string(JobPending), ts)

	job, err := scanJob(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return &job, nil
}

// GetJob returns a job by ID.
func (s *Store) GetJob(id string) (Job, error) {
	return scanJob(s.db.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
}

// CompleteJob marks a job done.
func (s *Store) CompleteJob(id string) error {
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`,
		string(JobCompleted), formatTime(time.Now()), id)
	if err != nil {
		return fmt.Errorf("completing job %s: %w", id, err)
	}
	return expectOne(res)
}

// FailJob records a failed attempt. While attempts remain the job goes back
// to pending with a run_after of now + 2^attempts seconds. The last attempt
// fails the job and, in the same transaction, moves its document to failed
// with errMsg, unless the document has been replaced or deleted since the
// job was queued. It reports whether the job is out of attempts.
func (s *Store) FailJob(id, errMsg string, now time.Time) (bool, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("failing job %s: %w", id, err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRow(`SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if err != nil {
		return false, err
	}

	attempts := job.Attempts + 1
	ts := formatTime(now)
	exhausted := attempts >= job.MaxAttempts

	if !exhausted {
		retryAt := now.Add(retryDelay(attempts))
		if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			string(JobPending), attempts, errMsg, formatTime(retryAt), ts, id); err != nil {
			return false, fmt.Errorf("rescheduling job %s: %w", id, err)
		}
		return false, tx.Commit()
	}

	if _, err := tx.Exec(`UPDATE jobs SET status = ?, attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
		string(JobFailed), attempts, errMsg, ts, id); err != nil {
		return true, fmt.Errorf("failing job %s: %w", id, err)
	}
	if _, err := tx.Exec(`
		UPDATE documents SET status = ?, processing_error = ?, updated_at = ?
		WHERE id = ? AND generation = ? AND deleted_at IS NULL`,
		string(StatusFailed), fmt.Sprintf(exhaustedFormat, attempts, errMsg), ts,
		job.DocumentID, job.Generation); err != nil {
		return true, fmt.Errorf("failing document %s: %w", job.DocumentID, err)
	}
	return true, tx.Commit()
}

// RequeueRunningJobs returns jobs left running by a process that exited
// mid-job to pending. It returns the number of jobs requeued.
func (s *Store) RequeueRunningJobs() (int, error) {
	ts := formatTime(time.Now())
	res, err := s.db.Exec(`UPDATE jobs SET status = ?, run_after = ?, updated_at = ? WHERE status = ?`,
		string(JobPending), ts, ts, string(JobRunning))
	if err != nil {
		return 0, fmt.Errorf("requeueing running jobs: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// retryDelay is the backoff before retry number attempts.
func retryDelay(attempts int) time.Duration {
	return time.Duration(1<<attempts) * time.Second
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (Job, error) {
	var j Job
	var status, runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err := row.Scan(&j.ID, &j.DocumentID, &j.Generation, &status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, fmt.Errorf("scanning job: %w", err)
	}
	j.Status = JobStatus(status)
	j.LastError = lastError.String
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&j.RunAfter, runAfter}, {&j.CreatedAt, createdAt}, {&j.UpdatedAt, updatedAt}} {
		if *f.dst, err = time.Parse(time.RFC3339, f.src); err != nil {
			return Job{}, fmt.Errorf("parsing time of job %s: %w", j.ID, err)
		}
	}
	return j, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func expectOne(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
