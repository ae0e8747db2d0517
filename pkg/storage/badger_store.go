package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/log"
	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

const (
	jobKeyPrefix      = "job:"
	itemKeyPrefix     = "item:"
	jobIndexKeyPrefix = "jidx:" // jidx:<jobID>:<itemID> -> empty
	sourceKeyPrefix   = "source:"
	templateKeyPrefix = "tmpl:"
	stateDBDir        = "harvest_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the Store interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
}

// NewBadgerStore opens (or creates) the state database under stateDir
func NewBadgerStore(stateDir string, logger *logrus.Entry) (*BadgerStore, error) {
	dbPath := filepath.Join(stateDir, stateDBDir)
	logger.Infof("Initializing state database at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	opts := badger.DefaultOptions(dbPath).
		WithLogger(log.NewStateDBLogger(logger)).
		WithNumVersionsToKeep(1) // Only the latest record state matters

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.Info("State database initialized successfully.")
	return &BadgerStore{db: db, log: logger}, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts.
// Concurrent MVCC transactions on overlapping keys can return badger.ErrConflict;
// these resolve in microseconds, so a tight retry loop is sufficient.
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := range maxConflictRetries {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// --- key and codec helpers ---

func jobKey(id string) []byte { return []byte(jobKeyPrefix + id) }
func itemKey(id string) []byte { return []byte(itemKeyPrefix + id) }
func sourceKey(value string) []byte { return []byte(sourceKeyPrefix + value) }
func templateKey(id string) []byte { return []byte(templateKeyPrefix + id) }
func jobIndexPrefix(jobID string) []byte { return []byte(jobIndexKeyPrefix + jobID + ":") }
func jobIndexKey(jobID, itemID string) []byte {
	return []byte(jobIndexKeyPrefix + jobID + ":" + itemID)
}

// getJSON decodes the value at key into v. Missing keys wrap utils.ErrNotFound.
func getJSON(txn *badger.Txn, key []byte, v any) error {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", utils.ErrNotFound, string(key))
	}
	if err != nil {
		return fmt.Errorf("%w: failed getting key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return item.Value(func(val []byte) error {
		if errJSON := json.Unmarshal(val, v); errJSON != nil {
			return fmt.Errorf("%w: failed to unmarshal JSON for key '%s': %w", utils.ErrParsing, string(key), errJSON)
		}
		return nil
	})
}

// putJSON encodes v and sets it at key
func putJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("%w: failed to marshal JSON for key '%s': %w", utils.ErrParsing, string(key), err)
	}
	return txn.SetEntry(badger.NewEntry(key, data))
}

// scanPrefix decodes every value under prefix with decode
func scanPrefix(txn *badger.Txn, prefix []byte, decode func(val []byte) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	it := txn.NewIterator(opts)
	defer it.Close()
	for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
		if err := it.Item().Value(decode); err != nil {
			return err
		}
	}
	return nil
}

// wrapDB tags raw badger errors as database errors; already categorised errors pass through
func wrapDB(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, utils.ErrNotFound) || errors.Is(err, utils.ErrDatabase) || errors.Is(err, utils.ErrParsing) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", utils.ErrDatabase, op, err)
}

// page applies offset/limit to an already sorted slice
func page[T any](in []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(in) {
			return []T{}
		}
		in = in[offset:]
	}
	if limit > 0 && limit < len(in) {
		in = in[:limit]
	}
	return in
}

// --- jobs ---

// CreateJob implements JobStore
func (s *BadgerStore) CreateJob(job *models.Job) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return putJSON(txn, jobKey(job.ID), job)
	})
	return wrapDB("create job", err)
}

// GetJob implements JobStore
func (s *BadgerStore) GetJob(id string) (*models.Job, error) {
	var job models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, jobKey(id), &job)
	})
	if err != nil {
		return nil, wrapDB("get job", err)
	}
	return &job, nil
}

// ListJobs implements JobStore
func (s *BadgerStore) ListJobs(filter JobFilter) ([]*models.Job, error) {
	var jobs []*models.Job
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(jobKeyPrefix), func(val []byte) error {
			var job models.Job
			if err := json.Unmarshal(val, &job); err != nil {
				s.log.Warnf("Skipping undecodable job record: %v", err)
				return nil
			}
			if filter.Status != "" && job.Status != filter.Status {
				return nil
			}
			if filter.Mode != "" && job.Mode != filter.Mode {
				return nil
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, wrapDB("list jobs", err)
	}
	sort.SliceStable(jobs, func(i, j int) bool { return jobs[i].CreatedAt.After(jobs[j].CreatedAt) })
	return page(jobs, filter.Offset, filter.Limit), nil
}

// MutateJob implements JobStore
func (s *BadgerStore) MutateJob(id string, fn func(job *models.Job) error) (*models.Job, error) {
	var out *models.Job
	var fnErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		fnErr = nil
		var job models.Job
		if err := getJSON(txn, jobKey(id), &job); err != nil {
			return err
		}
		if err := fn(&job); err != nil {
			fnErr = err
			return err
		}
		out = &job
		return putJSON(txn, jobKey(id), &job)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrapDB("mutate job", err)
	}
	return out, nil
}

// DeleteJob implements JobStore
func (s *BadgerStore) DeleteJob(id string) (int, error) {
	removed := 0
	err := s.dbUpdate(func(txn *badger.Txn) error {
		removed = 0
		if _, err := txn.Get(jobKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: job '%s'", utils.ErrNotFound, id)
			}
			return err
		}

		prefix := jobIndexPrefix(id)
		var indexKeys [][]byte
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			indexKeys = append(indexKeys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range indexKeys {
			itemID := string(k[len(prefix):])
			if err := txn.Delete(k); err != nil {
				return err
			}
			if err := txn.Delete(itemKey(itemID)); err != nil {
				return err
			}
			removed++
		}
		return txn.Delete(jobKey(id))
	})
	if err != nil {
		return 0, wrapDB("delete job", err)
	}
	s.log.WithField("job_id", id).Debugf("Deleted job with %d items", removed)
	return removed, nil
}

// --- items ---

// GetItem implements ItemStore
func (s *BadgerStore) GetItem(id string) (*models.Item, error) {
	var item models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, itemKey(id), &item)
	})
	if err != nil {
		return nil, wrapDB("get item", err)
	}
	return &item, nil
}

// putItem writes item and keeps the job index in step with item.JobID
func putItem(txn *badger.Txn, item *models.Item) error {
	var prev models.Item
	err := getJSON(txn, itemKey(item.ID), &prev)
	switch {
	case err == nil:
		if prev.JobID != item.JobID && prev.JobID != "" {
			if err := txn.Delete(jobIndexKey(prev.JobID, item.ID)); err != nil {
				return err
			}
		}
	case errors.Is(err, utils.ErrNotFound):
	default:
		return err
	}
	if item.JobID != "" {
		if err := txn.SetEntry(badger.NewEntry(jobIndexKey(item.JobID, item.ID), []byte{})); err != nil {
			return err
		}
	}
	return putJSON(txn, itemKey(item.ID), item)
}

// SaveItem implements ItemStore
func (s *BadgerStore) SaveItem(item *models.Item) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return putItem(txn, item)
	})
	return wrapDB("save item", err)
}

// MutateItem implements ItemStore
func (s *BadgerStore) MutateItem(id string, fn func(item *models.Item) error) (*models.Item, error) {
	var out *models.Item
	var fnErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		fnErr = nil
		var item models.Item
		if err := getJSON(txn, itemKey(id), &item); err != nil {
			return err
		}
		if err := fn(&item); err != nil {
			fnErr = err
			return err
		}
		item.ID = id
		out = &item
		return putItem(txn, &item)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrapDB("mutate item", err)
	}
	return out, nil
}

// ListItems implements ItemStore
func (s *BadgerStore) ListItems(filter ItemFilter) ([]*models.Item, error) {
	var items []*models.Item
	keep := func(item *models.Item) {
		if filter.Status != "" && item.Status != filter.Status {
			return
		}
		items = append(items, item)
	}

	err := s.db.View(func(txn *badger.Txn) error {
		if filter.JobID == "" {
			return scanPrefix(txn, []byte(itemKeyPrefix), func(val []byte) error {
				var item models.Item
				if err := json.Unmarshal(val, &item); err != nil {
					s.log.Warnf("Skipping undecodable item record: %v", err)
					return nil
				}
				keep(&item)
				return nil
			})
		}

		prefix := jobIndexPrefix(filter.JobID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			itemID := string(it.Item().Key()[len(prefix):])
			var item models.Item
			if err := getJSON(txn, itemKey(itemID), &item); err != nil {
				if errors.Is(err, utils.ErrNotFound) {
					s.log.Warnf("Dangling job index entry for item '%s'", itemID)
					continue
				}
				return err
			}
			keep(&item)
		}
		return nil
	})
	if err != nil {
		return nil, wrapDB("list items", err)
	}

	if filter.JobID != "" {
		sort.SliceStable(items, func(i, j int) bool { return items[i].Seq < items[j].Seq })
	} else {
		sort.SliceStable(items, func(i, j int) bool { return items[i].DiscoveredAt.After(items[j].DiscoveredAt) })
	}
	return page(items, filter.Offset, filter.Limit), nil
}

// ForEachItem implements ItemStore. Items are decoded inside one read transaction
// and handed to fn after it closes, so fn may write to the store.
func (s *BadgerStore) ForEachItem(ctx context.Context, fn func(item *models.Item) error) error {
	var items []*models.Item
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(itemKeyPrefix), func(val []byte) error {
			var item models.Item
			if err := json.Unmarshal(val, &item); err != nil {
				s.log.Warnf("Skipping undecodable item record: %v", err)
				return nil
			}
			items = append(items, &item)
			return nil
		})
	})
	if err != nil {
		return wrapDB("scan items", err)
	}
	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
	}
	return nil
}

// --- sources ---

// GetSource implements SourceStore
func (s *BadgerStore) GetSource(value string) (*models.WatchedSource, error) {
	var src models.WatchedSource
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, sourceKey(value), &src)
	})
	if err != nil {
		return nil, wrapDB("get source", err)
	}
	return &src, nil
}

// SaveSource implements SourceStore
func (s *BadgerStore) SaveSource(src *models.WatchedSource) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return putJSON(txn, sourceKey(src.Value), src)
	})
	return wrapDB("save source", err)
}

// MutateSource implements SourceStore
func (s *BadgerStore) MutateSource(value string, fn func(src *models.WatchedSource) error) (*models.WatchedSource, error) {
	var out *models.WatchedSource
	var fnErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		fnErr = nil
		var src models.WatchedSource
		if err := getJSON(txn, sourceKey(value), &src); err != nil {
			return err
		}
		if err := fn(&src); err != nil {
			fnErr = err
			return err
		}
		src.Value = value
		out = &src
		return putJSON(txn, sourceKey(value), &src)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrapDB("mutate source", err)
	}
	return out, nil
}

// ListSources implements SourceStore, oldest first
func (s *BadgerStore) ListSources() ([]*models.WatchedSource, error) {
	var sources []*models.WatchedSource
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(sourceKeyPrefix), func(val []byte) error {
			var src models.WatchedSource
			if err := json.Unmarshal(val, &src); err != nil {
				s.log.Warnf("Skipping undecodable source record: %v", err)
				return nil
			}
			sources = append(sources, &src)
			return nil
		})
	})
	if err != nil {
		return nil, wrapDB("list sources", err)
	}
	sort.SliceStable(sources, func(i, j int) bool { return sources[i].CreatedAt.Before(sources[j].CreatedAt) })
	return sources, nil
}

// --- templates ---

// CreateTemplate implements TemplateStore
func (s *BadgerStore) CreateTemplate(tmpl *models.RecurrenceTemplate) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		return putJSON(txn, templateKey(tmpl.ID), tmpl)
	})
	return wrapDB("create template", err)
}

// GetTemplate implements TemplateStore
func (s *BadgerStore) GetTemplate(id string) (*models.RecurrenceTemplate, error) {
	var tmpl models.RecurrenceTemplate
	err := s.db.View(func(txn *badger.Txn) error {
		return getJSON(txn, templateKey(id), &tmpl)
	})
	if err != nil {
		return nil, wrapDB("get template", err)
	}
	return &tmpl, nil
}

// ListTemplates implements TemplateStore, oldest first
func (s *BadgerStore) ListTemplates() ([]*models.RecurrenceTemplate, error) {
	var templates []*models.RecurrenceTemplate
	err := s.db.View(func(txn *badger.Txn) error {
		return scanPrefix(txn, []byte(templateKeyPrefix), func(val []byte) error {
			var tmpl models.RecurrenceTemplate
			if err := json.Unmarshal(val, &tmpl); err != nil {
				s.log.Warnf("Skipping undecodable template record: %v", err)
				return nil
			}
			templates = append(templates, &tmpl)
			return nil
		})
	})
	if err != nil {
		return nil, wrapDB("list templates", err)
	}
	sort.SliceStable(templates, func(i, j int) bool { return templates[i].CreatedAt.Before(templates[j].CreatedAt) })
	return templates, nil
}

// MutateTemplate implements TemplateStore
func (s *BadgerStore) MutateTemplate(id string, fn func(tmpl *models.RecurrenceTemplate) error) (*models.RecurrenceTemplate, error) {
	var out *models.RecurrenceTemplate
	var fnErr error
	err := s.dbUpdate(func(txn *badger.Txn) error {
		fnErr = nil
		var tmpl models.RecurrenceTemplate
		if err := getJSON(txn, templateKey(id), &tmpl); err != nil {
			return err
		}
		if err := fn(&tmpl); err != nil {
			fnErr = err
			return err
		}
		tmpl.ID = id
		out = &tmpl
		return putJSON(txn, templateKey(id), &tmpl)
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, wrapDB("mutate template", err)
	}
	return out, nil
}

// DeleteTemplate implements TemplateStore
func (s *BadgerStore) DeleteTemplate(id string) error {
	err := s.dbUpdate(func(txn *badger.Txn) error {
		if _, err := txn.Get(templateKey(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return fmt.Errorf("%w: template '%s'", utils.ErrNotFound, id)
			}
			return err
		}
		return txn.Delete(templateKey(id))
	})
	return wrapDB("delete template", err)
}

// --- admin ---

// Stats implements StoreAdmin
func (s *BadgerStore) Stats() (models.Stats, error) {
	stats := models.Stats{
		Jobs:  map[models.JobStatus]int{},
		Items: map[models.ItemStatus]int{},
	}
	err := s.db.View(func(txn *badger.Txn) error {
		if err := scanPrefix(txn, []byte(jobKeyPrefix), func(val []byte) error {
			var job models.Job
			if json.Unmarshal(val, &job) == nil {
				stats.Jobs[job.Status]++
				stats.TotalJobs++
			}
			return nil
		}); err != nil {
			return err
		}
		if err := scanPrefix(txn, []byte(itemKeyPrefix), func(val []byte) error {
			var item models.Item
			if json.Unmarshal(val, &item) == nil {
				stats.Items[item.Status]++
				stats.TotalItems++
				if item.LocalPath != "" {
					stats.StorageBytes += item.FileSize
				}
			}
			return nil
		}); err != nil {
			return err
		}
		if err := scanPrefix(txn, []byte(templateKeyPrefix), func(val []byte) error {
			var tmpl models.RecurrenceTemplate
			if json.Unmarshal(val, &tmpl) == nil {
				stats.Templates++
				if tmpl.Enabled {
					stats.ActiveTemplates++
				}
			}
			return nil
		}); err != nil {
			return err
		}
		return scanPrefix(txn, []byte(sourceKeyPrefix), func(val []byte) error {
			var src models.WatchedSource
			if json.Unmarshal(val, &src) == nil {
				stats.Sources++
				if src.Enabled {
					stats.EnabledSources++
				}
			}
			return nil
		})
	})
	if err != nil {
		return stats, wrapDB("stats", err)
	}
	return stats, nil
}

// RunGC runs BadgerDB's value log garbage collection periodically until ctx is done
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("BadgerDB GC goroutine started.")
	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Info("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}
			var err error
			// Loop GC until it returns ErrNoRewrite or another error
			for {
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if errors.Is(err, badger.ErrNoRewrite) {
				s.log.Debug("BadgerDB GC finished (no rewrite needed).")
			} else {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}
		case <-ctx.Done():
			s.log.Infof("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return nil
		}
	}
}

// Close implements StoreAdmin
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Info("Closing state DB...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing state DB: %v", err)
			return err
		}
		s.log.Info("State DB closed.")
		return nil
	}
	return nil
}

var _ Store = (*BadgerStore)(nil)
