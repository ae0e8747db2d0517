package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/harvest"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// JobRunner creates a job and drives it to completion through the job queue
type JobRunner interface {
	CreateAndRun(ctx context.Context, params harvest.JobParams, origin models.JobOrigin) (*models.Job, error)
}

// Options tunes the poll loop
type Options struct {
	CheckInterval          time.Duration // Wait between cycles
	SourcePause            time.Duration // Pause between two polled sources in one cycle
	DefaultIntervalMinutes int
	Watermarked            bool // Ask for the watermarked rendition; monitor jobs default to watermark-free
}

// CycleReport summarizes one poll cycle
type CycleReport struct {
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Polled    int           `json:"polled"`
	Skipped   int           `json:"skipped"`
	NewItems  int           `json:"new_items"`
	Errors    int           `json:"errors"`
}

// Status is a snapshot of the monitor for status surfaces
type Status struct {
	Running       bool         `json:"running"`
	Polling       bool         `json:"polling"`
	CheckInterval string       `json:"check_interval"`
	Cycles        int          `json:"cycles"`
	LastCycleAt   *time.Time   `json:"last_cycle_at,omitempty"`
	NextCycleAt   *time.Time   `json:"next_cycle_at,omitempty"`
	LastReport    *CycleReport `json:"last_report,omitempty"`
}

// Monitor polls watched sources for new items and harvests each new one
// through a single-item job. Cycles never overlap.
type Monitor struct {
	store    storage.SourceStore
	discover harvest.Discoverer
	runner   JobRunner
	opts     Options
	log      *logrus.Entry

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	cycleMu sync.Mutex // Held for a whole cycle or inline poll
	trigger chan struct{}

	statusMu sync.Mutex
	status   Status
}

// NewMonitor creates an idle monitor; call Run to start polling
func NewMonitor(store storage.SourceStore, disc harvest.Discoverer, runner JobRunner, opts Options, log *logrus.Entry) *Monitor {
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = time.Hour
	}
	if opts.DefaultIntervalMinutes <= 0 {
		opts.DefaultIntervalMinutes = 60
	}
	return &Monitor{
		store:    store,
		discover: disc,
		runner:   runner,
		opts:     opts,
		log:      log,
		now:      time.Now,
		sleep:    sleepCtx,
		trigger:  make(chan struct{}, 1),
		status:   Status{CheckInterval: FormatInterval(opts.CheckInterval)},
	}
}

// Run polls, waits for the check interval or a trigger, and repeats until ctx ends.
// A store failure listing sources is returned so a supervisor can restart the loop.
func (m *Monitor) Run(ctx context.Context) error {
	m.setRunning(true)
	defer m.setRunning(false)

	m.log.Infof("Monitor started, checking every %s", FormatInterval(m.opts.CheckInterval))
	for {
		if _, err := m.PollCycle(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		next := m.now().Add(m.opts.CheckInterval)
		m.statusMu.Lock()
		m.status.NextCycleAt = &next
		m.statusMu.Unlock()

		timer := time.NewTimer(m.opts.CheckInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			m.log.Info("Monitor shutting down...")
			return nil
		case <-timer.C:
		case <-m.trigger:
			timer.Stop()
			m.log.Info("Monitor cycle triggered on demand")
		}
	}
}

// Trigger requests an immediate cycle. Requests made while one is pending coalesce.
func (m *Monitor) Trigger() {
	select {
	case m.trigger <- struct{}{}:
	default:
	}
}

// PollCycle polls every enabled source that is due, one at a time
func (m *Monitor) PollCycle(ctx context.Context) (*CycleReport, error) {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()
	m.setPolling(true)
	defer m.setPolling(false)

	sources, err := m.store.ListSources()
	if err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	report := &CycleReport{StartedAt: m.now()}
	polledAny := false
	for _, src := range sources {
		if !src.Enabled {
			continue
		}
		logger := m.log.WithField("source", src.Value)
		if !src.IsDue(report.StartedAt) {
			report.Skipped++
			logger.Debugf("Source not due, next poll at %s", src.NextPollAt().Format("15:04:05"))
			continue
		}
		if polledAny && m.opts.SourcePause > 0 {
			if err := m.sleep(ctx, m.opts.SourcePause); err != nil {
				break
			}
		}
		if ctx.Err() != nil {
			break
		}
		polledAny = true

		isNew, err := m.pollSource(ctx, src)
		report.Polled++
		if isNew {
			report.NewItems++
		}
		if err != nil {
			report.Errors++
			logger.WithField("error_category", utils.CategorizeError(err)).Warnf("Poll failed: %v", err)
		}
	}
	report.Duration = m.now().Sub(report.StartedAt)

	m.statusMu.Lock()
	m.status.Cycles++
	at := report.StartedAt
	m.status.LastCycleAt = &at
	m.status.LastReport = report
	m.statusMu.Unlock()

	m.log.Infof("Poll cycle done: polled=%d skipped=%d new=%d errors=%d", report.Polled, report.Skipped, report.NewItems, report.Errors)
	return report, ctx.Err()
}

// pollSource asks discovery for the newest item of one source and harvests it when new.
// The poll is recorded on the source whatever the outcome.
func (m *Monitor) pollSource(ctx context.Context, src *models.WatchedSource) (bool, error) {
	descs, discErr := m.discover.Discover(ctx, models.Query{Mode: src.Mode, Value: src.Value, Limit: 1})

	var latest *models.Descriptor
	for i := range descs {
		if descs[i].ID != "" {
			latest = &descs[i]
			break
		}
	}

	now := m.now()
	isNew := false
	_, err := m.store.MutateSource(src.Value, func(s *models.WatchedSource) error {
		isNew = false
		s.LastPollAt = &now
		s.PollCount++
		if discErr != nil {
			s.LastError = discErr.Error()
			return nil
		}
		s.LastError = ""
		if latest == nil || s.HasSeen(latest.ID) {
			return nil
		}
		if s.LastSeenPostedAt != nil && latest.PostedAt != nil && latest.PostedAt.Before(*s.LastSeenPostedAt) {
			return nil
		}
		isNew = true
		s.RememberID(latest.ID, latest.PostedAt)
		s.LastNewAt = &now
		s.NewItemCount++
		return nil
	})
	if err != nil {
		return false, err
	}
	if discErr != nil {
		if errors.Is(discErr, utils.ErrDiscovery) {
			return false, discErr
		}
		return false, fmt.Errorf("%w: %v", utils.ErrDiscovery, discErr)
	}
	if !isNew {
		m.log.WithField("source", src.Value).Debug("No new item")
		return false, nil
	}

	logger := m.log.WithFields(logrus.Fields{"source": src.Value, "item_id": latest.ID})
	logger.Info("New item found, starting harvest")
	job, err := m.runner.CreateAndRun(ctx, harvest.JobParams{
		Mode:        src.Mode,
		Value:       src.Value,
		Limit:       1,
		NoWatermark: !m.opts.Watermarked,
	}, models.OriginMonitor)
	if err != nil {
		return true, err
	}
	logger.WithField("job_id", job.ID).Infof("Monitor job finished: %s", job.Status)
	return true, nil
}

// AddSource registers a source, or re-enables an existing one with a new interval.
// A source with nothing seen yet is polled inline so its baseline exists immediately.
func (m *Monitor) AddSource(ctx context.Context, mode models.SelectorKind, value string, intervalMinutes int) (*models.WatchedSource, error) {
	if mode == "" {
		mode = models.SelectorProfile
	}
	value = models.NormalizeValue(mode, value)
	if value == "" {
		return nil, fmt.Errorf("%w: source value is required", utils.ErrValidation)
	}
	if intervalMinutes <= 0 {
		intervalMinutes = m.opts.DefaultIntervalMinutes
	}

	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	var src *models.WatchedSource
	existing, err := m.store.GetSource(value)
	switch {
	case errors.Is(err, utils.ErrNotFound):
		src = &models.WatchedSource{
			Value:           value,
			Mode:            mode,
			Enabled:         true,
			IntervalMinutes: intervalMinutes,
			CreatedAt:       m.now(),
		}
		if err := m.store.SaveSource(src); err != nil {
			return nil, err
		}
		m.log.WithField("source", value).Infof("Source added, polling every %s", FormatInterval(src.Interval()))
	case err != nil:
		return nil, err
	default:
		src, err = m.store.MutateSource(existing.Value, func(s *models.WatchedSource) error {
			s.Enabled = true
			s.Mode = mode
			s.IntervalMinutes = intervalMinutes
			return nil
		})
		if err != nil {
			return nil, err
		}
		m.log.WithField("source", value).Info("Source re-enabled")
	}

	if src.LastSeenID == "" {
		if _, err := m.pollSource(ctx, src); err != nil {
			m.log.WithField("source", value).Warnf("Initial poll failed: %v", err)
		}
	}
	return m.store.GetSource(value)
}

// RemoveSource disables polling for a source; its history is kept
func (m *Monitor) RemoveSource(value string) (*models.WatchedSource, error) {
	src, err := m.store.MutateSource(value, func(s *models.WatchedSource) error {
		s.Enabled = false
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.log.WithField("source", value).Info("Source disabled")
	return src, nil
}

// ListSources returns every registered source, enabled or not
func (m *Monitor) ListSources() ([]*models.WatchedSource, error) {
	return m.store.ListSources()
}

// Status returns a snapshot of the monitor state
func (m *Monitor) Status() Status {
	m.statusMu.Lock()
	defer m.statusMu.Unlock()
	st := m.status
	if st.LastReport != nil {
		r := *st.LastReport
		st.LastReport = &r
	}
	return st
}

func (m *Monitor) setRunning(v bool) {
	m.statusMu.Lock()
	m.status.Running = v
	if !v {
		m.status.NextCycleAt = nil
	}
	m.statusMu.Unlock()
}

func (m *Monitor) setPolling(v bool) {
	m.statusMu.Lock()
	m.status.Polling = v
	m.statusMu.Unlock()
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
