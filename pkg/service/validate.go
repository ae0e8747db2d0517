package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

const (
	MinLimit              = 1
	MaxLimit              = 20
	MaxTemplateNameLength = 100
	MinSourceIntervalMins = 1
	MinTemplateInterval   = 5 // Minutes
)

// JobRequest is the caller-facing shape of a new job
type JobRequest struct {
	Mode           models.SelectorKind `json:"mode"`
	Value          string              `json:"value"`
	Limit          int                 `json:"limit"`
	NoWatermark    *bool               `json:"no_watermark,omitempty"` // Defaults to true
	Since          *time.Time          `json:"since,omitempty"`
	Until          *time.Time          `json:"until,omitempty"`
	FolderOverride string              `json:"folder_override,omitempty"`
}

// SourceRequest registers a watched source
type SourceRequest struct {
	Mode            models.SelectorKind `json:"mode"`
	Value           string              `json:"value"`
	IntervalMinutes int                 `json:"interval_minutes"`
}

// TemplateRequest creates a recurrence template
type TemplateRequest struct {
	Name            string              `json:"name"`
	Mode            models.SelectorKind `json:"mode"`
	Value           string              `json:"value"`
	Limit           int                 `json:"limit"`
	NoWatermark     *bool               `json:"no_watermark,omitempty"` // Defaults to true
	FolderOverride  string              `json:"folder_override,omitempty"`
	IntervalMinutes int                 `json:"interval_minutes"`
	Enabled         *bool               `json:"enabled,omitempty"` // Defaults to true
}

// TemplatePatch updates a template; nil fields are left alone
type TemplatePatch struct {
	Name            *string              `json:"name,omitempty"`
	Mode            *models.SelectorKind `json:"mode,omitempty"`
	Value           *string              `json:"value,omitempty"`
	Limit           *int                 `json:"limit,omitempty"`
	NoWatermark     *bool                `json:"no_watermark,omitempty"`
	FolderOverride  *string              `json:"folder_override,omitempty"`
	IntervalMinutes *int                 `json:"interval_minutes,omitempty"`
	Enabled         *bool                `json:"enabled,omitempty"`
}

// wantNoWatermark resolves an optional no_watermark flag; unset asks for the clean rendition
func wantNoWatermark(v *bool) bool { return v == nil || *v }

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", utils.ErrValidation, fmt.Sprintf(format, args...))
}

// checkSelector validates mode and the normalized value. Explore takes no value.
func checkSelector(mode models.SelectorKind, value string) (string, error) {
	if !mode.IsValid() {
		return "", validationError("mode must be one of profile, hashtag, explore (got '%s')", mode)
	}
	value = models.NormalizeValue(mode, value)
	if value == "" && mode != models.SelectorExplore {
		return "", validationError("value is required for mode '%s'", mode)
	}
	return value, nil
}

func checkLimit(limit, upper int) error {
	if upper <= 0 || upper > MaxLimit {
		upper = MaxLimit
	}
	if limit < MinLimit || limit > upper {
		return validationError("limit must be between %d and %d (got %d)", MinLimit, upper, limit)
	}
	return nil
}

func checkFolder(folder string) error {
	for _, seg := range strings.Split(folder, "/") {
		if seg == ".." {
			return validationError("folder_override must not contain '..'")
		}
	}
	return nil
}

// normalize applies defaults and validates a job request in place
func (r *JobRequest) normalize(defaultLimit, maxLimit int) error {
	value, err := checkSelector(r.Mode, r.Value)
	if err != nil {
		return err
	}
	r.Value = value
	if r.Limit == 0 {
		r.Limit = defaultLimit
	}
	if err := checkLimit(r.Limit, maxLimit); err != nil {
		return err
	}
	if r.Since != nil && r.Until != nil && r.Since.After(*r.Until) {
		return validationError("since must not be after until")
	}
	r.FolderOverride = strings.Trim(strings.TrimSpace(r.FolderOverride), "/")
	return checkFolder(r.FolderOverride)
}

func (r *SourceRequest) normalize() error {
	if r.Mode == "" {
		r.Mode = models.SelectorProfile
	}
	value, err := checkSelector(r.Mode, r.Value)
	if err != nil {
		return err
	}
	if value == "" {
		return validationError("value is required for a watched source")
	}
	r.Value = value
	// Zero selects the monitor's default interval
	if r.IntervalMinutes != 0 && r.IntervalMinutes < MinSourceIntervalMins {
		return validationError("interval_minutes must be at least %d", MinSourceIntervalMins)
	}
	return nil
}

func checkTemplate(t *models.RecurrenceTemplate, maxLimit, minInterval int) error {
	t.Name = strings.TrimSpace(t.Name)
	if n := len([]rune(t.Name)); n < 1 || n > MaxTemplateNameLength {
		return validationError("name must be 1 to %d characters", MaxTemplateNameLength)
	}
	value, err := checkSelector(t.Mode, t.Value)
	if err != nil {
		return err
	}
	t.Value = value
	if err := checkLimit(t.Limit, maxLimit); err != nil {
		return err
	}
	if t.IntervalMinutes < minInterval {
		return validationError("interval_minutes must be at least %d", minInterval)
	}
	t.FolderOverride = strings.Trim(strings.TrimSpace(t.FolderOverride), "/")
	return checkFolder(t.FolderOverride)
}

// apply copies the set fields of p onto t
func (p TemplatePatch) apply(t *models.RecurrenceTemplate) {
	if p.Name != nil {
		t.Name = *p.Name
	}
	if p.Mode != nil {
		t.Mode = *p.Mode
	}
	if p.Value != nil {
		t.Value = *p.Value
	}
	if p.Limit != nil {
		t.Limit = *p.Limit
	}
	if p.NoWatermark != nil {
		t.NoWatermark = *p.NoWatermark
	}
	if p.FolderOverride != nil {
		t.FolderOverride = *p.FolderOverride
	}
	if p.IntervalMinutes != nil {
		t.IntervalMinutes = *p.IntervalMinutes
	}
	if p.Enabled != nil {
		t.Enabled = *p.Enabled
	}
}
