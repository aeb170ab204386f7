package job

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/outfield/enrichd/errors"
)

// Store handles persistence of enrichment jobs.
//
// All state transitions are single conditional updates keyed on the
// current status, so claim exclusivity and terminal immutability hold
// even with multiple worker processes sharing the database.
type Store struct {
	db *sql.DB
}

// NewStore creates a new job store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// CreateJob inserts a new job row in state pending
func (s *Store) CreateJob(j *Job) error {
	inputJSON, resultsJSON, errorsJSON, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO jobs (
			id, owner_id, kind, status, priority, is_premium_priority,
			input_snapshot, total_count, processed_count,
			success_count, error_count, skipped_count,
			results, errors, failure_cause,
			created_at, started_at, completed_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	failureCause := sql.NullString{String: j.FailureCause, Valid: j.FailureCause != ""}

	_, err = s.db.Exec(query,
		j.ID,
		j.OwnerID,
		j.Kind,
		j.Status,
		j.Priority,
		j.IsPremiumPriority,
		inputJSON,
		j.TotalCount,
		j.ProcessedCount,
		j.SuccessCount,
		j.ErrorCount,
		j.SkippedCount,
		resultsJSON,
		errorsJSON,
		failureCause,
		j.CreatedAt,
		j.StartedAt,
		j.CompletedAt,
		j.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create job")
	}

	return nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(id string) (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs WHERE id = ?`

	var j Job
	err := ScanJobFromRow(s.db.QueryRow(query, id), &j)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(errors.ErrNotFound, "job %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get job")
	}

	return &j, nil
}

// NextPendingJob returns the pending job a worker should claim next:
// premium jobs first, then higher priority, then oldest submission.
// Returns nil if no pending jobs exist.
func (s *Store) NextPendingJob() (*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'pending'
		ORDER BY is_premium_priority DESC, priority DESC, created_at ASC
		LIMIT 1`

	var j Job
	err := ScanJobFromRow(s.db.QueryRow(query), &j)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to find next pending job")
	}

	return &j, nil
}

// ClaimJob atomically transitions a pending job to processing. Exactly
// one concurrent caller wins; losers get ErrConflict and must not touch
// the job. StartedAt is set once, on the winning claim.
func (s *Store) ClaimJob(id string) (*Job, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = 'processing',
		    started_at = COALESCE(started_at, ?),
		    updated_at = ?
		WHERE id = ? AND status = 'pending'`,
		now, now, id,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to claim job")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected for claim")
	}
	if rows == 0 {
		return nil, errors.Wrapf(errors.ErrConflict, "job %s is no longer pending", id)
	}

	return s.GetJob(id)
}

// ReclaimJob refreshes the claim on a job that is already processing.
// Used on startup to resume jobs orphaned by a crashed worker; the row
// keeps its original started_at and counters.
//
// There is no ownership fence: the guard is status alone, which assumes
// a single worker process per database. Running multiple processes
// against one database would need a worker-id or heartbeat column here
// before reclaiming is safe.
func (s *Store) ReclaimJob(id string) (*Job, error) {
	res, err := s.db.Exec(`
		UPDATE jobs
		SET updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to reclaim job")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get rows affected for reclaim")
	}
	if rows == 0 {
		return nil, errors.Wrapf(errors.ErrConflict, "job %s is not processing", id)
	}

	return s.GetJob(id)
}

// UpdateProgress persists counters, results, and errors for a processing
// job. The update is rejected if the job has left processing or if it
// would move processed_count backwards.
func (s *Store) UpdateProgress(j *Job) error {
	_, resultsJSON, errorsJSON, err := marshalJobJSON(j)
	if err != nil {
		return err
	}

	res, err := s.db.Exec(`
		UPDATE jobs
		SET processed_count = ?,
		    success_count = ?,
		    error_count = ?,
		    skipped_count = ?,
		    results = ?,
		    errors = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'processing' AND processed_count <= ?`,
		j.ProcessedCount,
		j.SuccessCount,
		j.ErrorCount,
		j.SkippedCount,
		resultsJSON,
		errorsJSON,
		j.UpdatedAt,
		j.ID,
		j.ProcessedCount,
	)
	if err != nil {
		return errors.Wrap(err, "failed to update job progress")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected for progress update")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrConflict, "progress update rejected for job %s", j.ID)
	}

	return nil
}

// CompleteJob transitions a processing job to completed.
func (s *Store) CompleteJob(j *Job) error {
	return s.finishJob(j, StatusCompleted)
}

// FailJob transitions a processing job to failed, preserving whatever
// counters were persisted before the systemic error.
func (s *Store) FailJob(j *Job) error {
	return s.finishJob(j, StatusFailed)
}

// finishJob applies a terminal transition. Conditional on the job still
// being in processing: terminal rows are never updated again.
func (s *Store) finishJob(j *Job, terminal Status) error {
	failureCause := sql.NullString{String: j.FailureCause, Valid: j.FailureCause != ""}

	res, err := s.db.Exec(`
		UPDATE jobs
		SET status = ?,
		    failure_cause = ?,
		    completed_at = ?,
		    updated_at = ?
		WHERE id = ? AND status = 'processing'`,
		terminal,
		failureCause,
		j.CompletedAt,
		j.UpdatedAt,
		j.ID,
	)
	if err != nil {
		return errors.Wrapf(err, "failed to mark job %s", terminal)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to get rows affected for terminal transition")
	}
	if rows == 0 {
		return errors.Wrapf(errors.ErrConflict, "job %s is not processing", j.ID)
	}

	return nil
}

// ListJobs returns jobs, optionally filtered by status
func (s *Store) ListJobs(status *Status, limit int) ([]*Job, error) {
	var query string
	var args []interface{}

	baseQuery := `SELECT ` + StandardJobSelectColumns() + ` FROM jobs`
	if status != nil {
		query = baseQuery + ` WHERE status = ? ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{*status, limit}
	} else {
		query = baseQuery + ` ORDER BY created_at DESC LIMIT ?`
		args = []interface{}{limit}
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "jobs")
}

// ListJobsByOwner returns an owner's jobs, newest first
func (s *Store) ListJobsByOwner(ownerID string, limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE owner_id = ?
		ORDER BY created_at DESC
		LIMIT ?`

	rows, err := s.db.Query(query, ownerID, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list jobs by owner")
	}
	defer rows.Close()

	return scanJobs(rows, "owner jobs")
}

// ListProcessingJobs returns jobs currently marked processing. Used on
// worker start to recover jobs orphaned by a crash.
func (s *Store) ListProcessingJobs(limit int) ([]*Job, error) {
	query := `SELECT ` + StandardJobSelectColumns() + `
		FROM jobs
		WHERE status = 'processing'
		ORDER BY started_at ASC
		LIMIT ?`

	rows, err := s.db.Query(query, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list processing jobs")
	}
	defer rows.Close()

	return scanJobs(rows, "processing jobs")
}

// CountActiveByOwner counts an owner's pending and processing jobs
func (s *Store) CountActiveByOwner(ownerID string) (int, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM jobs
		WHERE owner_id = ? AND status IN ('pending', 'processing')`,
		ownerID,
	).Scan(&count)
	if err != nil {
		return 0, errors.Wrap(err, "failed to count active jobs")
	}
	return count, nil
}

// Stats summarizes job counts by status
type Stats struct {
	Pending    int `json:"pending"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

// GetStats returns job counts grouped by status
func (s *Store) GetStats() (*Stats, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query job stats")
	}
	defer rows.Close()

	var stats Stats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, errors.Wrap(err, "failed to scan job stats")
		}
		switch Status(status) {
		case StatusPending:
			stats.Pending = count
		case StatusProcessing:
			stats.Processing = count
		case StatusCompleted:
			stats.Completed = count
		case StatusFailed:
			stats.Failed = count
		}
		stats.Total += count
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "error iterating job stats")
	}

	return &stats, nil
}

// CleanupOldJobs removes terminal jobs older than the specified duration
func (s *Store) CleanupOldJobs(olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)

	res, err := s.db.Exec(`
		DELETE FROM jobs
		WHERE status IN ('completed', 'failed')
		  AND updated_at < ?`,
		cutoff,
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to cleanup old jobs")
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get rows affected")
	}

	return int(rows), nil
}

// scanJobs is a helper that scans multiple jobs from query rows
func scanJobs(rows *sql.Rows, context string) ([]*Job, error) {
	var jobs []*Job
	for rows.Next() {
		var j Job
		if err := ScanJobFromRows(rows, &j); err != nil {
			return nil, errors.Wrap(err, "failed to scan job")
		}
		jobs = append(jobs, &j)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", context)
	}

	return jobs, nil
}

// marshalJobJSON encodes the JSON-typed job columns
func marshalJobJSON(j *Job) (inputJSON, resultsJSON, errorsJSON string, err error) {
	input, err := json.Marshal(j.Input)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal input snapshot")
	}
	results, err := json.Marshal(j.Results)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal results")
	}
	errs, err := json.Marshal(j.Errors)
	if err != nil {
		return "", "", "", errors.Wrap(err, "failed to marshal errors")
	}
	return string(input), string(results), string(errs), nil
}
