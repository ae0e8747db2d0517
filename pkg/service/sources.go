package service

import (
	"context"
	"strings"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/watch"
)

// AddSource registers or re-enables a watched source. New sources are polled
// inline to establish their baseline.
func (s *Service) AddSource(ctx context.Context, req SourceRequest) (*models.WatchedSource, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	return s.monitor.AddSource(ctx, req.Mode, req.Value, req.IntervalMinutes)
}

// RemoveSource disables a source and keeps its history
func (s *Service) RemoveSource(value string) (*models.WatchedSource, error) {
	// Accept the sigil form callers use when adding
	value = strings.TrimLeft(strings.TrimSpace(value), "@#")
	if value == "" {
		return nil, validationError("source value is required")
	}
	return s.monitor.RemoveSource(value)
}

// ListSources returns every registered source
func (s *Service) ListSources() ([]*models.WatchedSource, error) {
	srcs, err := s.monitor.ListSources()
	if err != nil {
		return nil, err
	}
	if srcs == nil {
		srcs = []*models.WatchedSource{}
	}
	return srcs, nil
}

// CheckSources asks the monitor for an immediate cycle
func (s *Service) CheckSources() watch.Status {
	s.monitor.Trigger()
	return s.monitor.Status()
}

// MonitorStatus returns the monitor snapshot
func (s *Service) MonitorStatus() watch.Status {
	return s.monitor.Status()
}
