package enrich

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/outfield/enrichd/errors"
	"github.com/outfield/enrichd/job"
	"github.com/outfield/enrichd/provider"
	"github.com/outfield/enrichd/token"
)

// fakeFinder scripts per-company behavior keyed by company name
type fakeFinder struct {
	contacts   map[string]*provider.Contact
	findErrs   map[string]error
	sendErr    error
	emailsSent []string
}

func (f *fakeFinder) FindContact(ctx context.Context, userID, companyName, domain string) (*provider.Contact, error) {
	if err, ok := f.findErrs[companyName]; ok {
		return nil, err
	}
	if c, ok := f.contacts[companyName]; ok {
		return c, nil
	}
	return nil, provider.ErrNoContactFound
}

func (f *fakeFinder) SendEmail(ctx context.Context, userID, to, subject, body string) error {
	if f.sendErr != nil {
		return f.sendErr
	}
	f.emailsSent = append(f.emailsSent, to)
	return nil
}

func newProcessingJob(t *testing.T, params job.Params, items ...job.WorkItem) *job.Job {
	t.Helper()
	j, err := job.NewJob("owner-1", JobKind, job.InputSnapshot{Params: params, Items: items}, 0, false)
	require.NoError(t, err)
	j.Start()
	return j
}

func TestProcessItemRecordsContact(t *testing.T) {
	finder := &fakeFinder{contacts: map[string]*provider.Contact{
		"Acme": {Name: "Jo", Email: "jo@acme.com"},
	}}
	p := NewProcessor(finder, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic},
		job.WorkItem{CompanyID: "c1", CompanyName: "Acme", Domain: "acme.com"})

	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))

	assert.Equal(t, 1, j.SuccessCount)
	require.Len(t, j.Results, 1)
	assert.Equal(t, "jo@acme.com", j.Results[0].ContactEmail)
	assert.Empty(t, finder.emailsSent)
}

func TestProcessItemNoContactIsItemError(t *testing.T) {
	p := NewProcessor(&fakeFinder{}, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic},
		job.WorkItem{CompanyID: "c1", CompanyName: "Ghost Corp"})

	// Per-item failure: recorded, not returned
	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))

	assert.Equal(t, 1, j.ErrorCount)
	require.Len(t, j.Errors, 1)
	assert.Equal(t, "find_contact", j.Errors[0].Stage)
}

func TestProcessItemSkipsItemWithoutSearchData(t *testing.T) {
	p := NewProcessor(&fakeFinder{}, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic},
		job.WorkItem{CompanyID: "c1"})

	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))

	assert.Equal(t, 1, j.SkippedCount)
	assert.Equal(t, 0, j.ErrorCount)
}

func TestProcessItemSendsEmailWhenRequested(t *testing.T) {
	finder := &fakeFinder{contacts: map[string]*provider.Contact{
		"Acme": {Email: "jo@acme.com"},
	}}
	p := NewProcessor(finder, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{
		Mode:         job.ModeAutomatic,
		SendEmail:    true,
		EmailSubject: "Quick intro",
		EmailBody:    "Hello!",
	}, job.WorkItem{CompanyID: "c1", CompanyName: "Acme"})

	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))

	assert.Equal(t, []string{"jo@acme.com"}, finder.emailsSent)
	require.Len(t, j.Results, 1)
	assert.Equal(t, "contact found, email sent", j.Results[0].Detail)
}

func TestProcessItemSendFailureIsItemError(t *testing.T) {
	finder := &fakeFinder{
		contacts: map[string]*provider.Contact{"Acme": {Email: "jo@acme.com"}},
		sendErr:  errors.New("mailbox rejected recipient"),
	}
	p := NewProcessor(finder, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic, SendEmail: true, EmailSubject: "Hi"},
		job.WorkItem{CompanyID: "c1", CompanyName: "Acme"})

	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))

	assert.Equal(t, 1, j.ErrorCount)
	assert.Equal(t, "send_email", j.Errors[0].Stage)
}

func TestProcessItemSystemicErrorsPropagate(t *testing.T) {
	cases := []struct {
		name string
		err  error
	}{
		{"credential missing", token.ErrCredentialMissing},
		{"refresh failed", errors.Wrap(token.ErrRefreshFailed, "user user-1")},
		{"auth failed", provider.ErrAuthFailed},
		{"quota exhausted", provider.ErrQuotaExhausted},
		{"provider outage", errors.Wrap(errors.ErrServiceUnavailable, "provider returned 502")},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			finder := &fakeFinder{findErrs: map[string]error{"Acme": tc.err}}
			p := NewProcessor(finder, zap.NewNop().Sugar())

			j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic},
				job.WorkItem{CompanyID: "c1", CompanyName: "Acme"})

			err := p.ProcessItem(context.Background(), j, 0, j.Input.Items[0])
			require.Error(t, err)
			assert.True(t, errors.Is(err, tc.err))

			// Nothing recorded: the job fails at this index
			assert.Equal(t, 0, j.ProcessedCount)
		})
	}
}

func TestProcessItemTransientFindErrorIsItemError(t *testing.T) {
	finder := &fakeFinder{findErrs: map[string]error{"Acme": errors.New("connection reset")}}
	p := NewProcessor(finder, zap.NewNop().Sugar())

	j := newProcessingJob(t, job.Params{Mode: job.ModeAutomatic},
		job.WorkItem{CompanyID: "c1", CompanyName: "Acme"})

	require.NoError(t, p.ProcessItem(context.Background(), j, 0, j.Input.Items[0]))
	assert.Equal(t, 1, j.ErrorCount)
}
