package storage

import (
	"context"
	"time"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
)

// JobFilter narrows ListJobs. Zero values mean "any".
type JobFilter struct {
	Status models.JobStatus
	Mode   models.SelectorKind
	Offset int
	Limit  int
}

// ItemFilter narrows ListItems. Zero values mean "any".
type ItemFilter struct {
	JobID  string
	Status models.ItemStatus
	Offset int
	Limit  int
}

// JobStore handles harvest job records
type JobStore interface {
	// CreateJob persists a new job
	CreateJob(job *models.Job) error

	// GetJob returns the job or an error wrapping utils.ErrNotFound
	GetJob(id string) (*models.Job, error)

	// ListJobs returns jobs newest first
	ListJobs(filter JobFilter) ([]*models.Job, error)

	// MutateJob applies fn to the current record and commits it in one transaction.
	// fn may run more than once on conflict, so it must only depend on its argument.
	MutateJob(id string, fn func(job *models.Job) error) (*models.Job, error)

	// DeleteJob removes a job and every item it owns in one transaction.
	// Returns the number of items removed.
	DeleteJob(id string) (int, error)
}

// ItemStore handles harvested item records, keyed by platform id
type ItemStore interface {
	// GetItem returns the item or an error wrapping utils.ErrNotFound
	GetItem(id string) (*models.Item, error)

	// SaveItem writes the item, moving its job index entry if the owning job changed
	SaveItem(item *models.Item) error

	// MutateItem applies fn to the current record and commits it in one transaction
	MutateItem(id string, fn func(item *models.Item) error) (*models.Item, error)

	// ListItems returns items of one job in discovery order, or all items newest first
	ListItems(filter ItemFilter) ([]*models.Item, error)

	// ForEachItem visits every item. Returning an error from fn stops the scan.
	ForEachItem(ctx context.Context, fn func(item *models.Item) error) error
}

// SourceStore handles watch-list records
type SourceStore interface {
	GetSource(value string) (*models.WatchedSource, error)
	SaveSource(src *models.WatchedSource) error
	MutateSource(value string, fn func(src *models.WatchedSource) error) (*models.WatchedSource, error)
	ListSources() ([]*models.WatchedSource, error)
}

// TemplateStore handles recurrence template records
type TemplateStore interface {
	CreateTemplate(tmpl *models.RecurrenceTemplate) error
	GetTemplate(id string) (*models.RecurrenceTemplate, error)
	ListTemplates() ([]*models.RecurrenceTemplate, error)
	MutateTemplate(id string, fn func(tmpl *models.RecurrenceTemplate) error) (*models.RecurrenceTemplate, error)
	DeleteTemplate(id string) error
}

// StoreAdmin handles lifecycle and administrative operations
type StoreAdmin interface {
	// Stats aggregates counts across all collections. QueueDepth is left zero.
	Stats() (models.Stats, error)

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration) error

	// Close cleanly closes the database connection
	Close() error
}

// Store combines all store interfaces for components that need full access
type Store interface {
	JobStore
	ItemStore
	SourceStore
	TemplateStore
	StoreAdmin
}
