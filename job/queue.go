package job

import (
	"database/sql"
	"fmt"
	"sync"

	"github.com/outfield/enrichd/errors"
)

const (
	// SubscriberChannelBufferSize is the buffer size for subscriber channels
	SubscriberChannelBufferSize = 100
)

// Queue coordinates job persistence with change notification. Every
// successful state change fans a full progress snapshot out to
// subscribers, so consumers never need deltas: the latest snapshot
// always supersedes anything missed.
type Queue struct {
	store       *Store
	mu          sync.RWMutex
	subscribers []chan Progress
}

// NewQueue creates a new job queue
func NewQueue(db *sql.DB) *Queue {
	return &Queue{
		store:       NewStore(db),
		subscribers: make([]chan Progress, 0),
	}
}

// Store exposes the underlying job store
func (q *Queue) Store() *Store {
	return q.store
}

// Enqueue adds a new job to the queue in state pending
func (q *Queue) Enqueue(j *Job) error {
	if err := q.store.CreateJob(j); err != nil {
		err = errors.Wrap(err, "failed to enqueue job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Kind: %s", j.Kind))
		err = errors.WithDetail(err, fmt.Sprintf("Owner: %s", j.OwnerID))
		return err
	}

	q.notifySubscribers(j.Snapshot())

	return nil
}

// Claim transitions the job to processing if it is still pending. The
// store enforces exclusivity, so exactly one concurrent claimer wins;
// the rest get ErrConflict.
func (q *Queue) Claim(id string) (*Job, error) {
	j, err := q.store.ClaimJob(id)
	if err != nil {
		return nil, err
	}

	q.notifySubscribers(j.Snapshot())

	return j, nil
}

// NextPendingJob returns the next job eligible for claiming, or nil
func (q *Queue) NextPendingJob() (*Job, error) {
	return q.store.NextPendingJob()
}

// GetJob retrieves a job by ID
func (q *Queue) GetJob(id string) (*Job, error) {
	return q.store.GetJob(id)
}

// UpdateProgress persists the job's counters and emits a snapshot
func (q *Queue) UpdateProgress(j *Job) error {
	if err := q.store.UpdateProgress(j); err != nil {
		err = errors.Wrap(err, "failed to update job progress")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Processed: %d/%d", j.ProcessedCount, j.TotalCount))
		return err
	}

	q.notifySubscribers(j.Snapshot())

	return nil
}

// Complete marks a processing job as completed
func (q *Queue) Complete(j *Job) error {
	j.Complete()

	if err := q.store.CompleteJob(j); err != nil {
		err = errors.Wrap(err, "failed to complete job")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Kind: %s", j.Kind))
		return err
	}

	q.notifySubscribers(j.Snapshot())

	return nil
}

// Fail marks a processing job as failed after a systemic error. Item
// counters accumulated so far stay on the row.
func (q *Queue) Fail(j *Job, cause error) error {
	j.Fail(cause)

	if err := q.store.FailJob(j); err != nil {
		err = errors.Wrap(err, "failed to mark job as failed")
		err = errors.WithDetail(err, fmt.Sprintf("Job ID: %s", j.ID))
		err = errors.WithDetail(err, fmt.Sprintf("Kind: %s", j.Kind))
		if cause != nil {
			err = errors.WithDetail(err, fmt.Sprintf("Job error: %s", cause.Error()))
		}
		return err
	}

	q.notifySubscribers(j.Snapshot())

	return nil
}

// Subscribe returns a channel that receives a progress snapshot for
// every job state change
func (q *Queue) Subscribe() chan Progress {
	q.mu.Lock()
	defer q.mu.Unlock()

	ch := make(chan Progress, SubscriberChannelBufferSize) // Buffered to avoid blocking
	q.subscribers = append(q.subscribers, ch)
	return ch
}

// Unsubscribe removes a subscriber channel
func (q *Queue) Unsubscribe(ch chan Progress) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, sub := range q.subscribers {
		if sub == ch {
			// Remove from slice without closing - caller manages channel lifecycle
			q.subscribers = append(q.subscribers[:i], q.subscribers[i+1:]...)
			return
		}
	}
}

// notifySubscribers sends a snapshot to all subscribers (non-blocking)
func (q *Queue) notifySubscribers(p Progress) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, ch := range q.subscribers {
		select {
		case ch <- p:
			// Sent successfully
		default:
			// Channel full, skip (non-blocking)
		}
	}
}
