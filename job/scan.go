package job

import (
	"database/sql"
	"encoding/json"

	"github.com/outfield/enrichd/errors"
)

// JobScanArgs holds the nullable and JSON-encoded columns scanned from a
// job row before they are decoded into the Job struct.
type JobScanArgs struct {
	InputJSON    string
	ResultsJSON  string
	ErrorsJSON   string
	FailureCause sql.NullString
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

// GetJobScanArgs returns a JobScanArgs struct with all variables ready for scanning
func GetJobScanArgs() *JobScanArgs {
	return &JobScanArgs{}
}

// GetJobScanTargets returns scan destinations for the job and scan args,
// in the order expected by the standard job SELECT query
func GetJobScanTargets(j *Job, args *JobScanArgs) []interface{} {
	return []interface{}{
		&j.ID,
		&j.OwnerID,
		&j.Kind,
		&j.Status,
		&j.Priority,
		&j.IsPremiumPriority,
		&args.InputJSON,
		&j.TotalCount,
		&j.ProcessedCount,
		&j.SuccessCount,
		&j.ErrorCount,
		&j.SkippedCount,
		&args.ResultsJSON,
		&args.ErrorsJSON,
		&args.FailureCause,
		&j.CreatedAt,
		&args.StartedAt,
		&args.CompletedAt,
		&j.UpdatedAt,
	}
}

// ProcessJobScanArgs decodes the scanned columns into the job struct.
func ProcessJobScanArgs(j *Job, args *JobScanArgs) error {
	if err := json.Unmarshal([]byte(args.InputJSON), &j.Input); err != nil {
		return errors.Wrapf(err, "failed to unmarshal input snapshot for job %s", j.ID)
	}
	if err := json.Unmarshal([]byte(args.ResultsJSON), &j.Results); err != nil {
		return errors.Wrapf(err, "failed to unmarshal results for job %s", j.ID)
	}
	if err := json.Unmarshal([]byte(args.ErrorsJSON), &j.Errors); err != nil {
		return errors.Wrapf(err, "failed to unmarshal errors for job %s", j.ID)
	}
	if args.FailureCause.Valid {
		j.FailureCause = args.FailureCause.String
	}
	if args.StartedAt.Valid {
		t := args.StartedAt.Time
		j.StartedAt = &t
	}
	if args.CompletedAt.Valid {
		t := args.CompletedAt.Time
		j.CompletedAt = &t
	}
	return nil
}

// ScanJobFromRow scans a single job from a sql.Row
func ScanJobFromRow(row *sql.Row, j *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(j, args)

	if err := row.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(j, args)
}

// ScanJobFromRows scans a single job from sql.Rows (for use in loops)
func ScanJobFromRows(rows *sql.Rows, j *Job) error {
	args := GetJobScanArgs()
	targets := GetJobScanTargets(j, args)

	if err := rows.Scan(targets...); err != nil {
		return err
	}

	return ProcessJobScanArgs(j, args)
}

// StandardJobSelectColumns returns the standard column list for job SELECT queries
func StandardJobSelectColumns() string {
	return `id, owner_id, kind, status, priority, is_premium_priority,
		input_snapshot, total_count, processed_count,
		success_count, error_count, skipped_count,
		results, errors, failure_cause,
		created_at, started_at, completed_at, updated_at`
}
