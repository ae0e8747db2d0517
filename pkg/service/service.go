// Package service is the operation surface shared by the HTTP API and the MCP
// server. It validates requests and routes them to the job runner, the store,
// the monitor, the recurrence engine and the retention sweeper.
package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/harvest"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/retention"
	"github.com/Sriram-PR/clip-harvester/pkg/schedule"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
	"github.com/Sriram-PR/clip-harvester/pkg/watch"
)

// Options tunes request validation
type Options struct {
	DefaultLimit       int
	MaxLimit           int
	MinTemplateMinutes int
}

// Service exposes every caller-facing operation
type Service struct {
	store   storage.Store
	runner  *harvest.Runner
	monitor *watch.Monitor
	engine  *schedule.Engine
	sweeper *retention.Sweeper
	opts    Options
	log     *logrus.Entry
	now     func() time.Time
}

// New creates a Service over fully constructed components
func New(store storage.Store, runner *harvest.Runner, monitor *watch.Monitor, engine *schedule.Engine, sweeper *retention.Sweeper, opts Options, log *logrus.Entry) *Service {
	if opts.MaxLimit <= 0 || opts.MaxLimit > MaxLimit {
		opts.MaxLimit = MaxLimit
	}
	if opts.DefaultLimit <= 0 || opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = min(10, opts.MaxLimit)
	}
	if opts.MinTemplateMinutes <= 0 {
		opts.MinTemplateMinutes = MinTemplateInterval
	}
	return &Service{
		store:   store,
		runner:  runner,
		monitor: monitor,
		engine:  engine,
		sweeper: sweeper,
		opts:    opts,
		log:     log,
		now:     time.Now,
	}
}

// JobDetail is a job together with its items in discovery order
type JobDetail struct {
	*models.Job
	Items []*models.Item `json:"items"`
}

// Health is the liveness summary served on the health endpoint
type Health struct {
	Status     string       `json:"status"`
	QueueDepth int          `json:"queue_depth"`
	Monitor    watch.Status `json:"monitor"`
	Templates  int          `json:"scheduled_templates"`
}

// CreateJob validates req, persists a PENDING job and queues it
func (s *Service) CreateJob(req JobRequest) (*models.Job, error) {
	if err := req.normalize(s.opts.DefaultLimit, s.opts.MaxLimit); err != nil {
		return nil, err
	}
	job, err := s.runner.Create(harvest.JobParams{
		Mode:           req.Mode,
		Value:          req.Value,
		Limit:          req.Limit,
		NoWatermark:    wantNoWatermark(req.NoWatermark),
		Since:          req.Since,
		Until:          req.Until,
		FolderOverride: req.FolderOverride,
	}, models.OriginAPI)
	if err != nil {
		return nil, err
	}
	s.runner.Enqueue(job.ID)
	return job, nil
}

// ListJobs returns jobs newest first
func (s *Service) ListJobs(filter storage.JobFilter) ([]*models.Job, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validationError("unknown job status '%s'", filter.Status)
	}
	if filter.Mode != "" && !filter.Mode.IsValid() {
		return nil, validationError("unknown mode '%s'", filter.Mode)
	}
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, validationError("offset and limit must not be negative")
	}
	return s.store.ListJobs(filter)
}

// GetJob returns a job with its items
func (s *Service) GetJob(id string) (*JobDetail, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return nil, err
	}
	items, err := s.store.ListItems(storage.ItemFilter{JobID: id})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*models.Item{}
	}
	return &JobDetail{Job: job, Items: items}, nil
}

// CancelJob moves a PENDING or RUNNING job to CANCELLED. A running job stops
// starting new items; items already in flight finish.
func (s *Service) CancelJob(id string) (*models.Job, error) {
	job, err := s.store.MutateJob(id, func(j *models.Job) error {
		if !j.Status.IsCancellable() {
			return fmt.Errorf("%w: job '%s' is %s and cannot be cancelled", utils.ErrInvalidState, j.ID, j.Status)
		}
		now := s.now()
		j.Status = models.JobStatusCancelled
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.log.WithField("job_id", id).Info("Job cancelled")
	return job, nil
}

// DeleteJob removes a job and its items. Running jobs must be cancelled first.
func (s *Service) DeleteJob(id string) (int, error) {
	job, err := s.store.GetJob(id)
	if err != nil {
		return 0, err
	}
	if job.Status == models.JobStatusRunning {
		return 0, fmt.Errorf("%w: job '%s' is running; cancel it first", utils.ErrInvalidState, id)
	}
	n, err := s.store.DeleteJob(id)
	if err != nil {
		return 0, err
	}
	s.log.WithField("job_id", id).Infof("Job deleted with %d item(s)", n)
	return n, nil
}

// ListItems returns items of one job in discovery order, or all items newest first
func (s *Service) ListItems(filter storage.ItemFilter) ([]*models.Item, error) {
	if filter.Status != "" && !filter.Status.IsValid() {
		return nil, validationError("unknown item status '%s'", filter.Status)
	}
	if filter.Offset < 0 || filter.Limit < 0 {
		return nil, validationError("offset and limit must not be negative")
	}
	return s.store.ListItems(filter)
}

// GetItem returns one item
func (s *Service) GetItem(id string) (*models.Item, error) {
	return s.store.GetItem(id)
}

// RetryItem queues a fetch/store retry for an item that is not stored yet.
// Items mid-fetch or mid-store are rejected.
func (s *Service) RetryItem(id string) (*models.Item, error) {
	item, err := s.store.GetItem(id)
	if err != nil {
		return nil, err
	}
	switch {
	case item.IsStored() || item.Status == models.ItemStatusStored:
		return nil, fmt.Errorf("%w: item '%s' is already stored", utils.ErrInvalidState, id)
	case item.Status == models.ItemStatusFetching || item.Status == models.ItemStatusStoring:
		return nil, fmt.Errorf("%w: item '%s' is %s", utils.ErrInvalidState, id, item.Status)
	}
	if !s.runner.EnqueueRetry(id) {
		return nil, fmt.Errorf("%w: retry of item '%s' is already queued", utils.ErrInvalidState, id)
	}
	s.log.WithField("item_id", id).Info("Item retry queued")
	return item, nil
}

// ItemFile returns the local artifact path of an item, or ErrNotFound when
// there is none on disk.
func (s *Service) ItemFile(id string) (*models.Item, string, error) {
	item, err := s.store.GetItem(id)
	if err != nil {
		return nil, "", err
	}
	if item.LocalPath == "" {
		return nil, "", fmt.Errorf("%w: item '%s' has no local file", utils.ErrNotFound, id)
	}
	info, err := os.Stat(item.LocalPath)
	if err != nil || info.IsDir() {
		return nil, "", fmt.Errorf("%w: local file of item '%s' is gone", utils.ErrNotFound, id)
	}
	return item, item.LocalPath, nil
}

// Stats aggregates store counts and the live queue depth
func (s *Service) Stats() (models.Stats, error) {
	st, err := s.store.Stats()
	if err != nil {
		return st, err
	}
	st.QueueDepth = s.runner.QueueDepth()
	return st, nil
}

// Health reports queue depth and monitor status
func (s *Service) Health() Health {
	return Health{
		Status:     "ok",
		QueueDepth: s.runner.QueueDepth(),
		Monitor:    s.monitor.Status(),
		Templates:  s.engine.Entries(),
	}
}

// RunCleanup sweeps expired local artifacts now
func (s *Service) RunCleanup(ctx context.Context) (*retention.Report, error) {
	report, err := s.sweeper.RunOnce(ctx)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %w", utils.ErrCancelled, err)
		}
		return nil, err
	}
	return report, nil
}

// CleanupStatus returns the sweeper configuration and last report
func (s *Service) CleanupStatus() retention.Status {
	return s.sweeper.Status()
}
