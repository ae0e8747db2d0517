package retention

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/storage"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// Report summarizes one sweep
type Report struct {
	StartedAt  time.Time     `json:"started_at"`
	Duration   time.Duration `json:"duration"`
	Scanned    int           `json:"scanned"`
	Cleaned    int           `json:"cleaned"`
	BytesFreed int64         `json:"bytes_freed"`
	Errors     int           `json:"errors"`
}

// Status describes the sweeper for status surfaces
type Status struct {
	Interval   string  `json:"interval"`
	MaxAge     string  `json:"max_age"`
	Runs       int     `json:"runs"`
	LastReport *Report `json:"last_report,omitempty"`
}

// Sweeper deletes local artifacts of items older than a maximum age.
// Records and external copies are kept; only the local file and its path go.
type Sweeper struct {
	store    storage.ItemStore
	interval time.Duration
	maxAge   time.Duration
	log      *logrus.Entry
	now      func() time.Time

	runMu sync.Mutex // Serializes sweeps from the loop and on-demand callers

	mu   sync.Mutex
	runs int
	last *Report
}

// NewSweeper creates a sweeper; interval and maxAge fall back to 1h and 24h
func NewSweeper(store storage.ItemStore, interval, maxAge time.Duration, log *logrus.Entry) *Sweeper {
	if interval <= 0 {
		interval = time.Hour
	}
	if maxAge <= 0 {
		maxAge = 24 * time.Hour
	}
	return &Sweeper{store: store, interval: interval, maxAge: maxAge, log: log, now: time.Now}
}

// RunOnce sweeps every expired item. Per-item failures are counted, not returned.
func (s *Sweeper) RunOnce(ctx context.Context) (*Report, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	report := &Report{StartedAt: s.now()}
	cutoff := report.StartedAt.Add(-s.maxAge)

	err := s.store.ForEachItem(ctx, func(item *models.Item) error {
		// Aged from the fetch, so a re-harvested item keeps its fresh file
		if item.LocalPath == "" || !item.LocalSince().Before(cutoff) {
			return nil
		}
		// An item mid-transfer still needs its file
		if item.Status == models.ItemStatusFetching || item.Status == models.ItemStatusStoring {
			return nil
		}
		report.Scanned++
		freed, err := s.clean(item)
		if err != nil {
			report.Errors++
			s.log.WithField("item_id", item.ID).WithField("error_category", utils.CategorizeError(err)).Warnf("Retention cleanup failed: %v", err)
			return nil
		}
		report.Cleaned++
		report.BytesFreed += freed
		return nil
	})
	report.Duration = s.now().Sub(report.StartedAt)

	s.mu.Lock()
	s.runs++
	s.last = report
	s.mu.Unlock()

	if err != nil {
		return report, err
	}
	if report.Scanned > 0 {
		s.log.Infof("Retention sweep: cleaned %d/%d item(s), freed %d bytes, %d error(s)", report.Cleaned, report.Scanned, report.BytesFreed, report.Errors)
	} else {
		s.log.Debug("Retention sweep: nothing expired")
	}
	return report, nil
}

// clean removes one item's local file and clears its local fields
func (s *Sweeper) clean(item *models.Item) (int64, error) {
	path := item.LocalPath
	var freed int64
	if info, err := os.Stat(path); err == nil {
		freed = info.Size()
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return 0, fmt.Errorf("%w: remove '%s': %v", utils.ErrFilesystem, path, err)
	}
	_, err := s.store.MutateItem(item.ID, func(i *models.Item) error {
		if i.LocalPath != path {
			return nil // Re-fetched meanwhile
		}
		i.LocalPath = ""
		i.FileSize = 0
		i.FetchedAt = nil
		i.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return 0, err
	}
	return freed, nil
}

// Run sweeps every interval until ctx ends
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.log.Infof("Retention sweeper started: max age %v, every %v", s.maxAge, s.interval)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Status returns the configuration and the last sweep report
func (s *Sweeper) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Interval: s.interval.String(),
		MaxAge:   s.maxAge.String(),
		Runs:     s.runs,
	}
	if s.last != nil {
		r := *s.last
		st.LastReport = &r
	}
	return st
}
