package job

import (
	"context"
	"fmt"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/logger"
	"github.com/outfield/enrichd/plan"
)

// SubmitRequest carries everything needed to create a job. PremiumPriority
// is an explicit scheduling hint from the caller, defaulting to false.
type SubmitRequest struct {
	OwnerID         string
	Tier            string
	Kind            string
	Items           []WorkItem
	Params          Params
	Priority        int
	PremiumPriority bool
}

// Submitter validates submissions against the owner's plan capabilities
// and enqueues accepted jobs. Over-limit batches are rejected outright,
// never truncated.
type Submitter struct {
	queue    *Queue
	registry *ProcessorRegistry
}

// NewSubmitter creates a new job submitter
func NewSubmitter(queue *Queue, registry *ProcessorRegistry) *Submitter {
	return &Submitter{
		queue:    queue,
		registry: registry,
	}
}

// Submit validates the request, applies the plan gate, and enqueues a
// pending job. The returned job is the accepted snapshot; processing
// happens asynchronously.
func (s *Submitter) Submit(ctx context.Context, req SubmitRequest) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "submission cancelled")
	}

	if req.OwnerID == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "owner ID is required")
	}
	if len(req.Items) == 0 {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "at least one company is required")
	}
	if !s.registry.Has(req.Kind) {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "unknown job kind %q", req.Kind)
	}
	if req.Params.Mode != ModeAutomatic && req.Params.Mode != ModeAssisted {
		return nil, errors.Wrapf(errors.ErrInvalidRequest, "invalid search mode %q", req.Params.Mode)
	}
	if req.Params.SendEmail && req.Params.EmailSubject == "" {
		return nil, errors.Wrap(errors.ErrInvalidRequest, "email subject is required when sending is enabled")
	}

	caps := plan.Evaluate(req.Tier)

	if err := s.checkCapabilities(req, caps); err != nil {
		return nil, err
	}

	active, err := s.queue.Store().CountActiveByOwner(req.OwnerID)
	if err != nil {
		return nil, errors.Wrap(err, "failed to count active jobs for owner")
	}
	if active >= caps.MaxActiveJobs {
		err := errors.Wrapf(errors.ErrCapabilityExceeded,
			"owner %s already has %d active jobs (limit %d)", req.OwnerID, active, caps.MaxActiveJobs)
		return nil, errors.WithHint(err, "Wait for a running job to finish or upgrade the plan")
	}

	input := InputSnapshot{
		Params: req.Params,
		Items:  req.Items,
	}

	j, err := NewJob(req.OwnerID, req.Kind, input, req.Priority, req.PremiumPriority)
	if err != nil {
		return nil, err
	}

	if err := s.queue.Enqueue(j); err != nil {
		return nil, err
	}

	logger.Infow("Job submitted",
		logger.FieldJobID, j.ID,
		logger.FieldUserID, req.OwnerID,
		"kind", req.Kind,
		"tier", caps.Tier,
		logger.FieldTotalCount, j.TotalCount,
	)

	return j, nil
}

// checkCapabilities applies the plan gate to a validated request
func (s *Submitter) checkCapabilities(req SubmitRequest, caps plan.Capabilities) error {
	if len(req.Items) > caps.MaxCompaniesPerSearch {
		err := errors.Wrapf(errors.ErrCapabilityExceeded,
			"batch of %d companies exceeds plan limit of %d", len(req.Items), caps.MaxCompaniesPerSearch)
		err = errors.WithDetail(err, fmt.Sprintf("Tier: %s", caps.Tier))
		return errors.WithHint(err, "Reduce the batch size or upgrade the plan")
	}

	if req.Params.Mode == ModeAutomatic && !caps.AllowAutomaticSearch {
		err := errors.Wrapf(errors.ErrCapabilityExceeded,
			"automatic search is not available on the %s plan", caps.Tier)
		return errors.WithHint(err, "Use assisted search or upgrade the plan")
	}
	if req.Params.Mode == ModeAssisted && !caps.AllowAssistedSearch {
		return errors.Wrapf(errors.ErrCapabilityExceeded,
			"assisted search is not available on the %s plan", caps.Tier)
	}

	if req.Params.SendEmail && !caps.AllowEmailGeneration {
		err := errors.Wrapf(errors.ErrCapabilityExceeded,
			"email generation is not available on the %s plan", caps.Tier)
		return errors.WithHint(err, "Upgrade to the growth plan to send outreach emails")
	}

	return nil
}
