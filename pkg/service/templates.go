package service

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// CreateTemplate validates and stores a template, then schedules it if enabled
func (s *Service) CreateTemplate(req TemplateRequest) (*models.RecurrenceTemplate, error) {
	now := s.now()
	t := &models.RecurrenceTemplate{
		ID:              uuid.NewString(),
		Name:            req.Name,
		Mode:            req.Mode,
		Value:           req.Value,
		Limit:           req.Limit,
		NoWatermark:     wantNoWatermark(req.NoWatermark),
		FolderOverride:  req.FolderOverride,
		IntervalMinutes: req.IntervalMinutes,
		Enabled:         req.Enabled == nil || *req.Enabled,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if t.Limit == 0 {
		t.Limit = s.opts.DefaultLimit
	}
	if err := checkTemplate(t, s.opts.MaxLimit, s.opts.MinTemplateMinutes); err != nil {
		return nil, err
	}
	if err := s.store.CreateTemplate(t); err != nil {
		return nil, err
	}
	if err := s.engine.Register(t); err != nil {
		return nil, err
	}
	s.log.WithField("template_id", t.ID).Infof("Template '%s' created", t.Name)
	return s.store.GetTemplate(t.ID)
}

// ListTemplates returns every template
func (s *Service) ListTemplates() ([]*models.RecurrenceTemplate, error) {
	ts, err := s.store.ListTemplates()
	if err != nil {
		return nil, err
	}
	if ts == nil {
		ts = []*models.RecurrenceTemplate{}
	}
	return ts, nil
}

// GetTemplate returns one template
func (s *Service) GetTemplate(id string) (*models.RecurrenceTemplate, error) {
	return s.store.GetTemplate(id)
}

// UpdateTemplate applies patch and revalidates. The schedule entry is only
// replaced when the interval or enabled flag changed, so edits to other fields
// keep the pending firing time.
func (s *Service) UpdateTemplate(id string, patch TemplatePatch) (*models.RecurrenceTemplate, error) {
	var scheduleChanged bool
	t, err := s.store.MutateTemplate(id, func(tmpl *models.RecurrenceTemplate) error {
		interval, enabled := tmpl.IntervalMinutes, tmpl.Enabled
		patch.apply(tmpl)
		scheduleChanged = tmpl.IntervalMinutes != interval || tmpl.Enabled != enabled
		if err := checkTemplate(tmpl, s.opts.MaxLimit, s.opts.MinTemplateMinutes); err != nil {
			return err
		}
		tmpl.UpdatedAt = s.now()
		if !tmpl.Enabled {
			tmpl.NextRunAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !scheduleChanged {
		s.log.WithField("template_id", t.ID).Info("Template updated, schedule unchanged")
		return t, nil
	}
	return s.reschedule(t)
}

// ToggleTemplate flips the enabled flag
func (s *Service) ToggleTemplate(id string) (*models.RecurrenceTemplate, error) {
	t, err := s.store.MutateTemplate(id, func(tmpl *models.RecurrenceTemplate) error {
		tmpl.Enabled = !tmpl.Enabled
		tmpl.UpdatedAt = s.now()
		if !tmpl.Enabled {
			tmpl.NextRunAt = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return s.reschedule(t)
}

// DeleteTemplate removes a template and its schedule entry
func (s *Service) DeleteTemplate(id string) error {
	if err := s.store.DeleteTemplate(id); err != nil {
		return err
	}
	s.engine.Deregister(id)
	s.log.WithField("template_id", id).Info("Template deleted")
	return nil
}

func (s *Service) reschedule(t *models.RecurrenceTemplate) (*models.RecurrenceTemplate, error) {
	if err := s.engine.Register(t); err != nil {
		return nil, fmt.Errorf("%w: reschedule template '%s': %w", utils.ErrInvalidState, t.ID, err)
	}
	s.log.WithField("template_id", t.ID).Infof("Template updated (enabled=%t)", t.Enabled)
	return s.store.GetTemplate(t.ID)
}
