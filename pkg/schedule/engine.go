package schedule

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/harvest"
	"github.com/Sriram-PR/clip-harvester/pkg/log"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// JobRunner creates a job and drives it to completion through the job queue
type JobRunner interface {
	CreateAndRun(ctx context.Context, params harvest.JobParams, origin models.JobOrigin) (*models.Job, error)
}

// Engine fires recurrence templates on fixed intervals.
// Each enabled template owns one cron entry; a template whose previous run
// is still going skips its next tick.
type Engine struct {
	store  storage.TemplateStore
	runner JobRunner
	cron   *cron.Cron
	log    *logrus.Entry
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]cron.EntryID
	started bool

	ctx    context.Context // Handed to fired jobs; cancelled by Stop
	cancel context.CancelFunc
}

// NewEngine creates an engine with no entries; call Start to load templates
func NewEngine(store storage.TemplateStore, runner JobRunner, logger *logrus.Entry) *Engine {
	cl := log.NewCronLogrusAdapter(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Engine{
		store:  store,
		runner: runner,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:     logger,
		now:     time.Now,
		entries: make(map[string]cron.EntryID),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start registers every enabled template and starts the cron runtime.
// Fired jobs run under ctx as well as the engine's own lifetime.
func (e *Engine) Start(ctx context.Context) error {
	templates, err := e.store.ListTemplates()
	if err != nil {
		return fmt.Errorf("load templates: %w", err)
	}
	registered := 0
	for _, t := range templates {
		if !t.Enabled {
			continue
		}
		if err := e.Register(t); err != nil {
			e.log.WithField("template_id", t.ID).Warnf("Failed to register template: %v", err)
			continue
		}
		registered++
	}

	e.mu.Lock()
	e.started = true
	e.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			e.cancel()
		case <-e.ctx.Done():
		}
	}()
	e.cron.Start()
	e.log.Infof("Recurrence engine started with %d template(s)", registered)
	return nil
}

// Register schedules t, replacing any existing entry. A disabled template is deregistered.
func (e *Engine) Register(t *models.RecurrenceTemplate) error {
	if !t.Enabled {
		e.Deregister(t.ID)
		return nil
	}
	interval := t.Interval()
	if interval < time.Minute {
		return fmt.Errorf("%w: template interval %s is below one minute", utils.ErrValidation, interval)
	}

	id := t.ID
	e.mu.Lock()
	if old, ok := e.entries[id]; ok {
		e.cron.Remove(old)
	}
	entryID := e.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		if err := e.Fire(e.ctx, id); err != nil {
			e.log.WithField("template_id", id).WithField("error_category", utils.CategorizeError(err)).Errorf("Template run failed: %v", err)
		}
	}))
	e.entries[id] = entryID
	e.mu.Unlock()

	next := e.now().Add(interval)
	if _, err := e.store.MutateTemplate(id, func(tmpl *models.RecurrenceTemplate) error {
		tmpl.NextRunAt = &next
		return nil
	}); err != nil && !errors.Is(err, utils.ErrNotFound) {
		return err
	}
	e.log.WithField("template_id", id).Debugf("Template '%s' scheduled every %v", t.Name, interval)
	return nil
}

// Deregister removes the template's entry, if any
func (e *Engine) Deregister(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if entryID, ok := e.entries[id]; ok {
		e.cron.Remove(entryID)
		delete(e.entries, id)
		e.log.WithField("template_id", id).Debug("Template deregistered")
	}
}

// IsRegistered reports whether id currently has a cron entry
func (e *Engine) IsRegistered(id string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.entries[id]
	return ok
}

// Entries returns the number of registered templates
func (e *Engine) Entries() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

// Fire runs one template now: it creates a job from the template, waits for it,
// then records the outcome. Deleted or disabled templates are skipped.
func (e *Engine) Fire(ctx context.Context, id string) error {
	logger := e.log.WithField("template_id", id)
	t, err := e.store.GetTemplate(id)
	if errors.Is(err, utils.ErrNotFound) {
		logger.Info("Template was deleted, dropping its entry")
		e.Deregister(id)
		return nil
	}
	if err != nil {
		return err
	}
	if !t.Enabled {
		logger.Debug("Template disabled, skipping")
		return nil
	}

	logger.Infof("Firing template '%s'", t.Name)
	job, runErr := e.runner.CreateAndRun(ctx, harvest.JobParams{
		Mode:           t.Mode,
		Value:          t.Value,
		Limit:          t.Limit,
		NoWatermark:    t.NoWatermark,
		FolderOverride: t.FolderOverride,
	}, models.OriginSchedule)
	if runErr != nil && ctx.Err() != nil {
		return runErr
	}

	now := e.now()
	_, err = e.store.MutateTemplate(id, func(tmpl *models.RecurrenceTemplate) error {
		next := now.Add(tmpl.Interval())
		tmpl.LastRunAt = &now
		tmpl.NextRunAt = &next
		tmpl.TotalRuns++
		if runErr == nil && job != nil && job.Status == models.JobStatusCompleted {
			tmpl.SuccessfulRuns++
		} else {
			tmpl.FailedRuns++
		}
		if job != nil {
			tmpl.LastJobID = job.ID
		}
		tmpl.UpdatedAt = now
		return nil
	})
	if err != nil && !errors.Is(err, utils.ErrNotFound) {
		return err
	}
	if runErr != nil {
		return runErr
	}
	logger.WithField("job_id", job.ID).Infof("Template run finished: %s", job.Status)
	return nil
}

// Stop halts the cron runtime, cancels running template jobs and waits for
// them to return or ctx to end.
func (e *Engine) Stop(ctx context.Context) error {
	e.cancel()
	done := e.cron.Stop()
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil
	}
	select {
	case <-done.Done():
		e.log.Info("Recurrence engine stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
