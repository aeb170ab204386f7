package job

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/outfield/enrichd/errors"
	enrichdtest "github.com/outfield/enrichd/internal/testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return NewStore(enrichdtest.CreateTestDB(t))
}

func mustCreateJob(t *testing.T, store *Store, ownerID string, items int, priority int, premium bool) *Job {
	t.Helper()
	j, err := NewJob(ownerID, "company.enrich", testInput(items), priority, premium)
	require.NoError(t, err)
	require.NoError(t, store.CreateJob(j))
	return j
}

func TestCreateAndGetJob(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 3, 0, false)

	got, err := store.GetJob(j.ID)
	require.NoError(t, err)

	assert.Equal(t, j.ID, got.ID)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, 3, got.TotalCount)
	assert.Equal(t, 0, got.ProcessedCount)
	assert.Len(t, got.Input.Items, 3)
	assert.Equal(t, ModeAutomatic, got.Input.Params.Mode)
	assert.NotNil(t, got.Results)
	assert.Empty(t, got.Results)
}

func TestGetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob("no-such-job")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestClaimJobTransitionsToProcessing(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 2, 0, false)

	claimed, err := store.ClaimJob(j.ID)
	require.NoError(t, err)

	assert.Equal(t, StatusProcessing, claimed.Status)
	require.NotNil(t, claimed.StartedAt)
}

func TestClaimJobExactlyOneWinner(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 2, 0, false)

	const claimers = 8
	var wg sync.WaitGroup
	wins := make(chan *Job, claimers)
	losses := make(chan error, claimers)

	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			claimed, err := store.ClaimJob(j.ID)
			if err != nil {
				losses <- err
				return
			}
			wins <- claimed
		}()
	}
	wg.Wait()
	close(wins)
	close(losses)

	assert.Len(t, wins, 1)
	assert.Len(t, losses, claimers-1)
	for err := range losses {
		assert.True(t, errors.Is(err, errors.ErrConflict))
	}
}

func TestClaimJobPreservesStartedAtOnReclaim(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 2, 0, false)

	claimed, err := store.ClaimJob(j.ID)
	require.NoError(t, err)
	require.NotNil(t, claimed.StartedAt)
	first := *claimed.StartedAt

	time.Sleep(10 * time.Millisecond)

	reclaimed, err := store.ReclaimJob(j.ID)
	require.NoError(t, err)
	require.NotNil(t, reclaimed.StartedAt)
	assert.WithinDuration(t, first, *reclaimed.StartedAt, time.Millisecond)
}

func TestReclaimJobRejectsNonProcessing(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 1, 0, false)

	_, err := store.ReclaimJob(j.ID)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestNextPendingJobOrdering(t *testing.T) {
	store := newTestStore(t)

	// Oldest plain job
	plain := mustCreateJob(t, store, "owner-1", 1, 0, false)
	time.Sleep(5 * time.Millisecond)
	// Higher priority
	high := mustCreateJob(t, store, "owner-1", 1, 10, false)
	time.Sleep(5 * time.Millisecond)
	// Premium beats both
	premium := mustCreateJob(t, store, "owner-2", 1, 0, true)

	next, err := store.NextPendingJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, premium.ID, next.ID)

	_, err = store.ClaimJob(premium.ID)
	require.NoError(t, err)

	next, err = store.NextPendingJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, high.ID, next.ID)

	_, err = store.ClaimJob(high.ID)
	require.NoError(t, err)

	next, err = store.NextPendingJob()
	require.NoError(t, err)
	require.NotNil(t, next)
	assert.Equal(t, plain.ID, next.ID)
}

func TestNextPendingJobEmpty(t *testing.T) {
	store := newTestStore(t)

	next, err := store.NextPendingJob()
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestUpdateProgressPersistsCounters(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 3, 0, false)
	claimed, err := store.ClaimJob(j.ID)
	require.NoError(t, err)

	require.NoError(t, claimed.RecordSuccess(0, "a", "ceo@example.com", ""))
	require.NoError(t, claimed.RecordError(1, "b", "find_contact", "timeout"))
	require.NoError(t, store.UpdateProgress(claimed))

	got, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.ProcessedCount)
	assert.Equal(t, 1, got.SuccessCount)
	assert.Equal(t, 1, got.ErrorCount)
	require.Len(t, got.Results, 1)
	assert.Equal(t, "ceo@example.com", got.Results[0].ContactEmail)
	require.Len(t, got.Errors, 1)
	assert.Equal(t, "find_contact", got.Errors[0].Stage)
}

func TestUpdateProgressRejectedOnPendingJob(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 2, 0, false)

	j.ProcessedCount = 1
	j.SuccessCount = 1
	err := store.UpdateProgress(j)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestCompleteJobIsTerminal(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 1, 0, false)
	claimed, err := store.ClaimJob(j.ID)
	require.NoError(t, err)

	require.NoError(t, claimed.RecordSuccess(0, "a", "", ""))
	require.NoError(t, store.UpdateProgress(claimed))

	claimed.Complete()
	require.NoError(t, store.CompleteJob(claimed))

	got, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Terminal rows reject every further transition
	err = store.UpdateProgress(claimed)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	err = store.FailJob(claimed)
	assert.True(t, errors.Is(err, errors.ErrConflict))

	_, err = store.ClaimJob(j.ID)
	assert.True(t, errors.Is(err, errors.ErrConflict))
}

func TestFailJobPreservesPartialCounters(t *testing.T) {
	store := newTestStore(t)

	j := mustCreateJob(t, store, "owner-1", 3, 0, false)
	claimed, err := store.ClaimJob(j.ID)
	require.NoError(t, err)

	require.NoError(t, claimed.RecordSuccess(0, "a", "", ""))
	require.NoError(t, store.UpdateProgress(claimed))

	claimed.Fail(errors.New("token refresh failed"))
	require.NoError(t, store.FailJob(claimed))

	got, err := store.GetJob(j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, got.Status)
	assert.Equal(t, "token refresh failed", got.FailureCause)
	assert.Equal(t, 1, got.ProcessedCount)
	assert.Equal(t, 1, got.SuccessCount)
}

func TestListJobsByOwnerAndCountActive(t *testing.T) {
	store := newTestStore(t)

	mustCreateJob(t, store, "owner-1", 1, 0, false)
	second := mustCreateJob(t, store, "owner-1", 1, 0, false)
	mustCreateJob(t, store, "owner-2", 1, 0, false)

	jobs, err := store.ListJobsByOwner("owner-1", 10)
	require.NoError(t, err)
	assert.Len(t, jobs, 2)

	count, err := store.CountActiveByOwner("owner-1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Completing a job removes it from the active count
	claimed, err := store.ClaimJob(second.ID)
	require.NoError(t, err)
	require.NoError(t, claimed.RecordSuccess(0, "a", "", ""))
	require.NoError(t, store.UpdateProgress(claimed))
	claimed.Complete()
	require.NoError(t, store.CompleteJob(claimed))

	count, err = store.CountActiveByOwner("owner-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)

	mustCreateJob(t, store, "owner-1", 1, 0, false)
	j := mustCreateJob(t, store, "owner-1", 1, 0, false)
	_, err := store.ClaimJob(j.ID)
	require.NoError(t, err)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Pending)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 0, stats.Completed)
	assert.Equal(t, 2, stats.Total)
}

func TestCleanupOldJobsOnlyRemovesTerminal(t *testing.T) {
	store := newTestStore(t)

	pending := mustCreateJob(t, store, "owner-1", 1, 0, false)
	done := mustCreateJob(t, store, "owner-1", 1, 0, false)

	claimed, err := store.ClaimJob(done.ID)
	require.NoError(t, err)
	require.NoError(t, claimed.RecordSuccess(0, "a", "", ""))
	require.NoError(t, store.UpdateProgress(claimed))
	claimed.Complete()
	require.NoError(t, store.CompleteJob(claimed))

	// Everything is recent, nothing should be removed
	removed, err := store.CleanupOldJobs(time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, removed)

	// With a zero retention window the completed job goes, pending stays
	time.Sleep(5 * time.Millisecond)
	removed, err = store.CleanupOldJobs(0)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.GetJob(pending.ID)
	require.NoError(t, err)

	_, err = store.GetJob(done.ID)
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}
