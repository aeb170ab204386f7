// Package enrich implements the item processor for company enrichment
// jobs: find a reachable contact for each company and optionally send
// the outreach email.
package enrich

import (
	"context"

	"go.uber.org/zap"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/provider"
	"github.com/outfield/enrichd/token"
)

// JobKind is the job kind this processor registers under
const JobKind = "company.enrich"

const (
	stageFindContact = "find_contact"
	stageSendEmail   = "send_email"
)

// ContactFinder is the slice of the provider client the processor needs
type ContactFinder interface {
	FindContact(ctx context.Context, userID, companyName, domain string) (*provider.Contact, error)
	SendEmail(ctx context.Context, userID, to, subject, body string) error
}

// Processor enriches one company per work item. Implements
// job.ItemProcessor for JobKind.
type Processor struct {
	client ContactFinder
	logger *zap.SugaredLogger
}

// NewProcessor creates the enrichment processor
func NewProcessor(client ContactFinder, log *zap.SugaredLogger) *Processor {
	return &Processor{
		client: client,
		logger: log.Named("enrich"),
	}
}

// Kind implements job.ItemProcessor
func (p *Processor) Kind() string { return JobKind }

// ProcessItem enriches one company. Item-scoped failures are recorded
// on the job and return nil; credential, quota, and outage conditions
// return an error so the whole job fails.
func (p *Processor) ProcessItem(ctx context.Context, j *job.Job, index int, item job.WorkItem) error {
	if item.CompanyName == "" && item.Domain == "" {
		return j.RecordSkip(index, item.CompanyID, "insufficient company data to search")
	}

	contact, err := p.client.FindContact(ctx, j.OwnerID, item.CompanyName, item.Domain)
	if err != nil {
		if errors.Is(err, provider.ErrNoContactFound) {
			return j.RecordError(index, item.CompanyID, stageFindContact, "no contact found")
		}
		if systemic(err) {
			return err
		}
		return j.RecordError(index, item.CompanyID, stageFindContact, err.Error())
	}

	params := j.Input.Params
	if !params.SendEmail {
		return j.RecordSuccess(index, item.CompanyID, contact.Email, "contact found")
	}

	if err := p.client.SendEmail(ctx, j.OwnerID, contact.Email, params.EmailSubject, params.EmailBody); err != nil {
		if systemic(err) {
			return err
		}
		return j.RecordError(index, item.CompanyID, stageSendEmail, err.Error())
	}

	p.logger.Debugw("Outreach email sent",
		"job_id", j.ID,
		"company_id", item.CompanyID,
		"contact", contact.Email,
	)

	return j.RecordSuccess(index, item.CompanyID, contact.Email, "contact found, email sent")
}

// systemic reports whether an error must abort the whole job instead of
// being charged to the current item.
func systemic(err error) bool {
	return errors.Is(err, token.ErrCredentialMissing) ||
		errors.Is(err, token.ErrRefreshFailed) ||
		errors.Is(err, provider.ErrAuthFailed) ||
		errors.Is(err, provider.ErrQuotaExhausted) ||
		errors.Is(err, errors.ErrServiceUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
