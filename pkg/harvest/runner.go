package harvest

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/queue"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
)

// JobParams is the caller-controlled shape of a job
type JobParams struct {
	Mode           models.SelectorKind
	Value          string
	Limit          int
	NoWatermark    bool
	Since          *time.Time
	Until          *time.Time
	FolderOverride string
}

// NewJob builds a PENDING job record with a fresh id
func NewJob(params JobParams, origin models.JobOrigin, now time.Time) *models.Job {
	return &models.Job{
		ID:             uuid.NewString(),
		Mode:           params.Mode,
		Value:          models.NormalizeValue(params.Mode, params.Value),
		Limit:          params.Limit,
		NoWatermark:    params.NoWatermark,
		Since:          params.Since,
		Until:          params.Until,
		FolderOverride: params.FolderOverride,
		Origin:         origin,
		Status:         models.JobStatusPending,
		CreatedAt:      now,
	}
}

// Runner funnels every job and item retry through the single job queue
type Runner struct {
	store storage.JobStore
	queue *queue.JobQueue
	proc  *Processor
	log   *logrus.Entry
}

// NewRunner wires a processor to a queue
func NewRunner(store storage.JobStore, q *queue.JobQueue, proc *Processor, log *logrus.Entry) *Runner {
	return &Runner{store: store, queue: q, proc: proc, log: log}
}

// Create persists a new job built from params
func (r *Runner) Create(params JobParams, origin models.JobOrigin) (*models.Job, error) {
	job := NewJob(params, origin, time.Now())
	if err := r.store.CreateJob(job); err != nil {
		return nil, err
	}
	r.log.WithFields(logrus.Fields{"job_id": job.ID, "origin": origin}).Infof("Job created: %s '%s'", job.Mode, job.Value)
	return job, nil
}

// Enqueue submits a job and returns immediately. False means it was already queued.
func (r *Runner) Enqueue(jobID string) bool {
	return r.queue.Submit(jobID, r.task(jobID))
}

// RunJob submits a job and waits for it to finish, then returns the final record
func (r *Runner) RunJob(ctx context.Context, jobID string) (*models.Job, error) {
	if err := r.queue.SubmitAndWait(ctx, jobID, r.task(jobID)); err != nil {
		return nil, err
	}
	return r.store.GetJob(jobID)
}

// CreateAndRun creates a job and drives it to completion through the queue
func (r *Runner) CreateAndRun(ctx context.Context, params JobParams, origin models.JobOrigin) (*models.Job, error) {
	job, err := r.Create(params, origin)
	if err != nil {
		return nil, err
	}
	return r.RunJob(ctx, job.ID)
}

// EnqueueRetry submits a single item retry to the same lane as jobs
func (r *Runner) EnqueueRetry(itemID string) bool {
	return r.queue.Submit(retryTaskID(itemID), func(ctx context.Context) error {
		return r.proc.RetryItem(ctx, itemID)
	})
}

// IsBusy reports whether a job id is queued or running
func (r *Runner) IsBusy(jobID string) bool {
	return r.queue.IsQueued(jobID)
}

// QueueDepth returns the number of queued tasks
func (r *Runner) QueueDepth() int {
	return r.queue.Depth()
}

// Resume prepares state left by a previous process: RUNNING jobs were interrupted
// and are failed, PENDING jobs are queued again. Returns how many were requeued.
func (r *Runner) Resume() (int, error) {
	running, err := r.store.ListJobs(storage.JobFilter{Status: models.JobStatusRunning})
	if err != nil {
		return 0, err
	}
	for _, job := range running {
		if _, err := r.store.MutateJob(job.ID, func(j *models.Job) error {
			if j.Status != models.JobStatusRunning {
				return nil
			}
			now := time.Now()
			j.Status = models.JobStatusFailed
			j.Error = "interrupted by restart"
			j.CompletedAt = &now
			return nil
		}); err != nil {
			return 0, err
		}
		r.log.WithField("job_id", job.ID).Warn("Marked interrupted job as failed")
	}

	pending, err := r.store.ListJobs(storage.JobFilter{Status: models.JobStatusPending})
	if err != nil {
		return 0, err
	}
	requeued := 0
	// ListJobs is newest first; requeue oldest first to keep FIFO
	for i := len(pending) - 1; i >= 0; i-- {
		if r.Enqueue(pending[i].ID) {
			requeued++
		}
	}
	if requeued > 0 {
		r.log.Infof("Requeued %d pending job(s)", requeued)
	}
	return requeued, nil
}

func (r *Runner) task(jobID string) queue.Task {
	return func(ctx context.Context) error {
		return r.proc.Run(ctx, jobID)
	}
}

func retryTaskID(itemID string) string {
	return "retry:" + itemID
}
