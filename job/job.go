// Package job provides the background enrichment job pipeline: the job
// state machine, durable store, change-notifying queue, submitter, and
// worker pool.
package job

import (
	"time"

	"github.com/google/uuid"

	"github.com/outfield/enrichd/errors"
)

// Status represents the current state of a job
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsValidStatus returns true if the status string is a valid Status
func IsValidStatus(s string) bool {
	switch Status(s) {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for states no transition may ever leave.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// rank orders statuses along the state machine: pending, processing,
// then terminal. Both terminal states share a rank since neither can
// follow the other.
func (s Status) rank() int {
	switch s {
	case StatusPending:
		return 0
	case StatusProcessing:
		return 1
	default:
		return 2
	}
}

// Outcome classifies the result of processing one work item
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeError   Outcome = "error"
	OutcomeSkipped Outcome = "skipped"
)

// SearchMode selects how the batch was assembled upstream
const (
	ModeAutomatic = "automatic"
	ModeAssisted  = "assisted"
)

// WorkItem identifies one company to enrich
type WorkItem struct {
	CompanyID   string `json:"company_id"`
	CompanyName string `json:"company_name,omitempty"`
	Domain      string `json:"domain,omitempty"`
}

// Params are the request parameters captured at submission time
type Params struct {
	Mode         string   `json:"mode"` // "automatic" or "assisted"
	SectorCodes  []string `json:"sector_codes,omitempty"`
	SendEmail    bool     `json:"send_email,omitempty"`
	EmailSubject string   `json:"email_subject,omitempty"`
	EmailBody    string   `json:"email_body,omitempty"`
}

// InputSnapshot is the immutable copy of the request taken at submission.
// The worker iterates Items in exactly this order; the snapshot is never
// mutated after the job row is created, so a restarted worker sees the
// same input even if upstream filters have since changed.
type InputSnapshot struct {
	Params Params     `json:"params"`
	Items  []WorkItem `json:"items"`
}

// ItemResult records the outcome of one successfully handled work item
type ItemResult struct {
	Index        int       `json:"index"`
	CompanyID    string    `json:"company_id"`
	Outcome      Outcome   `json:"outcome"`
	ContactEmail string    `json:"contact_email,omitempty"`
	Detail       string    `json:"detail,omitempty"`
	At           time.Time `json:"at"`
}

// ItemError describes one per-item failure. Per-item failures are counted
// and recorded but never abort the batch.
type ItemError struct {
	Index     int       `json:"index"`
	CompanyID string    `json:"company_id"`
	Stage     string    `json:"stage,omitempty"`
	Message   string    `json:"message"`
	At        time.Time `json:"at"`
}

// Job represents one bulk enrichment batch tracked through the state machine
//
// Lifecycle: created pending by the Submitter, claimed into processing by
// exactly one worker, mutated only by that worker, immutable once terminal.
type Job struct {
	ID                string        `json:"id"`
	OwnerID           string        `json:"owner_id"`
	Kind              string        `json:"kind"` // processor name, e.g. "company.enrich"
	Status            Status        `json:"status"`
	Priority          int           `json:"priority"`
	IsPremiumPriority bool          `json:"is_premium_priority"`
	Input             InputSnapshot `json:"input"`

	TotalCount     int `json:"total_count"`
	ProcessedCount int `json:"processed_count"`
	SuccessCount   int `json:"success_count"`
	ErrorCount     int `json:"error_count"`
	SkippedCount   int `json:"skipped_count"`

	Results []ItemResult `json:"results"`
	Errors  []ItemError  `json:"errors"`

	FailureCause string `json:"failure_cause,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// NewJob creates a pending job with an immutable input snapshot.
// TotalCount is fixed here and never changes afterwards.
func NewJob(ownerID, kind string, input InputSnapshot, priority int, premium bool) (*Job, error) {
	if ownerID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "ownerID cannot be empty")
	}
	if kind == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "kind cannot be empty")
	}
	if len(input.Items) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "input snapshot has no work items")
	}

	now := time.Now().UTC()
	return &Job{
		ID:                uuid.New().String(),
		OwnerID:           ownerID,
		Kind:              kind,
		Status:            StatusPending,
		Priority:          priority,
		IsPremiumPriority: premium,
		Input:             input,
		TotalCount:        len(input.Items),
		Results:           []ItemResult{},
		Errors:            []ItemError{},
		CreatedAt:         now,
		UpdatedAt:         now,
	}, nil
}

// Start marks the job as processing. StartedAt is set exactly once.
func (j *Job) Start() {
	now := time.Now().UTC()
	j.Status = StatusProcessing
	if j.StartedAt == nil {
		j.StartedAt = &now
	}
	j.UpdatedAt = now
}

// Complete marks the job as completed. CompletedAt is set exactly once.
func (j *Job) Complete() {
	now := time.Now().UTC()
	j.Status = StatusCompleted
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
}

// Fail marks the job as failed with a top-level cause. Partial counters
// are preserved so the client can see how far processing got.
func (j *Job) Fail(cause error) {
	now := time.Now().UTC()
	j.Status = StatusFailed
	if cause != nil {
		j.FailureCause = cause.Error()
	}
	if j.CompletedAt == nil {
		j.CompletedAt = &now
	}
	j.UpdatedAt = now
}

// NextIndex returns the position of the next unprocessed work item.
// Position ProcessedCount is always the next item, which is what makes a
// re-claimed job resumable without double-counting.
func (j *Job) NextIndex() int {
	return j.ProcessedCount
}

// Done reports whether every work item has been processed.
func (j *Job) Done() bool {
	return j.ProcessedCount >= j.TotalCount
}

// RecordSuccess appends a success outcome for the item at index.
func (j *Job) RecordSuccess(index int, companyID, contactEmail, detail string) error {
	if err := j.checkRecord(index); err != nil {
		return err
	}
	j.Results = append(j.Results, ItemResult{
		Index:        index,
		CompanyID:    companyID,
		Outcome:      OutcomeSuccess,
		ContactEmail: contactEmail,
		Detail:       detail,
		At:           time.Now().UTC(),
	})
	j.SuccessCount++
	j.ProcessedCount++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordSkip appends a skipped outcome for the item at index.
func (j *Job) RecordSkip(index int, companyID, detail string) error {
	if err := j.checkRecord(index); err != nil {
		return err
	}
	j.Results = append(j.Results, ItemResult{
		Index:     index,
		CompanyID: companyID,
		Outcome:   OutcomeSkipped,
		Detail:    detail,
		At:        time.Now().UTC(),
	})
	j.SkippedCount++
	j.ProcessedCount++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// RecordError appends a per-item failure for the item at index.
// The job keeps processing; only systemic errors fail the batch.
func (j *Job) RecordError(index int, companyID, stage, message string) error {
	if err := j.checkRecord(index); err != nil {
		return err
	}
	j.Errors = append(j.Errors, ItemError{
		Index:     index,
		CompanyID: companyID,
		Stage:     stage,
		Message:   message,
		At:        time.Now().UTC(),
	})
	j.ErrorCount++
	j.ProcessedCount++
	j.UpdatedAt = time.Now().UTC()
	return nil
}

// checkRecord guards the counter invariants: outcomes are recorded in
// strictly increasing item order, only while processing, never past
// TotalCount.
func (j *Job) checkRecord(index int) error {
	if j.Status != StatusProcessing {
		return errors.Newf("cannot record outcome on %s job %s", j.Status, j.ID)
	}
	if index != j.ProcessedCount {
		return errors.Newf("out-of-order outcome for job %s: index %d, expected %d", j.ID, index, j.ProcessedCount)
	}
	if j.ProcessedCount >= j.TotalCount {
		return errors.Newf("job %s already processed all %d items", j.ID, j.TotalCount)
	}
	return nil
}

// Progress is the full client-facing snapshot of a job's state. It is
// always a complete snapshot, never a delta, so delivery is
// last-write-wins per field.
type Progress struct {
	JobID          string       `json:"job_id"`
	Status         Status       `json:"status"`
	TotalCount     int          `json:"total_count"`
	ProcessedCount int          `json:"processed_count"`
	SuccessCount   int          `json:"success_count"`
	ErrorCount     int          `json:"error_count"`
	SkippedCount   int          `json:"skipped_count"`
	Results        []ItemResult `json:"results"`
	Errors         []ItemError  `json:"errors"`
	FailureCause   string       `json:"failure_cause,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	StartedAt      *time.Time   `json:"started_at,omitempty"`
	CompletedAt    *time.Time   `json:"completed_at,omitempty"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// NewerThan reports whether p reflects a strictly later store state
// than prev. Status only moves forward and processed_count never
// decreases, so the pair totally orders any two snapshots of the same
// job; UpdatedAt breaks ties for mutations that change neither.
func (p Progress) NewerThan(prev Progress) bool {
	if a, b := p.Status.rank(), prev.Status.rank(); a != b {
		return a > b
	}
	if p.ProcessedCount != prev.ProcessedCount {
		return p.ProcessedCount > prev.ProcessedCount
	}
	return p.UpdatedAt.After(prev.UpdatedAt)
}

// Snapshot builds the client-facing progress view of the job.
func (j *Job) Snapshot() Progress {
	results := make([]ItemResult, len(j.Results))
	copy(results, j.Results)
	errs := make([]ItemError, len(j.Errors))
	copy(errs, j.Errors)

	return Progress{
		JobID:          j.ID,
		Status:         j.Status,
		TotalCount:     j.TotalCount,
		ProcessedCount: j.ProcessedCount,
		SuccessCount:   j.SuccessCount,
		ErrorCount:     j.ErrorCount,
		SkippedCount:   j.SkippedCount,
		Results:        results,
		Errors:         errs,
		FailureCause:   j.FailureCause,
		CreatedAt:      j.CreatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		UpdatedAt:      j.UpdatedAt,
	}
}
