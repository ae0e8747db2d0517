package harvest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/queue"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
)

func newTestRunner(t *testing.T, h *harness) *Runner {
	t.Helper()
	q := queue.NewJobQueue(0, testLogger())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		q.Stop(ctx)
	})
	return NewRunner(h.store, q, h.proc, testLogger())
}

func TestRunner_CreateAndRun(t *testing.T) {
	h := newHarness(t, 2)
	h.disc.results = descriptors("1", "2")
	r := newTestRunner(t, h)

	job, err := r.CreateAndRun(context.Background(), JobParams{Mode: models.SelectorProfile, Value: "alice", Limit: 2}, models.OriginMonitor)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, job.Status)
	assert.Equal(t, models.OriginMonitor, job.Origin)
	assert.Equal(t, 2, job.Succeeded)
	assert.False(t, r.IsBusy(job.ID))
}

func TestRunner_EnqueueRetry(t *testing.T) {
	h := newHarness(t, 1)
	h.disc.results = descriptors("1")
	h.storer.fail["1"] = true
	r := newTestRunner(t, h)

	_, err := r.CreateAndRun(context.Background(), JobParams{Mode: models.SelectorProfile, Value: "alice", Limit: 1}, models.OriginAPI)
	require.NoError(t, err)

	h.storer.mu.Lock()
	delete(h.storer.fail, "1")
	h.storer.mu.Unlock()
	require.True(t, r.EnqueueRetry("1"))

	require.Eventually(t, func() bool {
		item, err := h.store.GetItem("1")
		return err == nil && item.Status == models.ItemStatusStored
	}, 2*time.Second, 10*time.Millisecond)
}

func TestRunner_Resume(t *testing.T) {
	h := newHarness(t, 1)
	h.disc.results = descriptors("1")
	r := newTestRunner(t, h)

	stale, err := r.Create(JobParams{Mode: models.SelectorProfile, Value: "alice", Limit: 1}, models.OriginAPI)
	require.NoError(t, err)
	_, err = h.store.MutateJob(stale.ID, func(j *models.Job) error {
		j.Status = models.JobStatusRunning
		return nil
	})
	require.NoError(t, err)

	waiting, err := r.Create(JobParams{Mode: models.SelectorProfile, Value: "alice", Limit: 1}, models.OriginAPI)
	require.NoError(t, err)

	requeued, err := r.Resume()
	require.NoError(t, err)
	assert.Equal(t, 1, requeued)

	interrupted, err := h.store.GetJob(stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, interrupted.Status)
	assert.Equal(t, "interrupted by restart", interrupted.Error)

	require.Eventually(t, func() bool {
		job, err := h.store.GetJob(waiting.ID)
		return err == nil && job.Status == models.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	jobs, err := h.store.ListJobs(storage.JobFilter{Status: models.JobStatusRunning})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}
