package harvest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime/debug"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Sriram-PR/clip-harvester/pkg/models"
	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// NoItemsFound is the error text recorded on a job whose discovery came back empty
const NoItemsFound = "no items found"

// errNotRunnable aborts the RUNNING transition for jobs that are not PENDING
var errNotRunnable = errors.New("job is not pending")

// Options configures a Processor
type Options struct {
	Workers   int    // Concurrent fetch/store pipelines per job
	LocalRoot string // Root directory for fetched artifacts
}

// Processor drives a job from PENDING to a terminal state
type Processor struct {
	store     Store
	discover  Discoverer
	fetch     Fetcher
	storer    Storer
	subtitler Subtitler // Optional
	opts      Options
	log       *logrus.Entry
	now       func() time.Time
}

// NewProcessor creates a processor. subtitler may be nil.
func NewProcessor(store Store, d Discoverer, f Fetcher, s Storer, subtitler Subtitler, opts Options, log *logrus.Entry) *Processor {
	if opts.Workers <= 0 {
		opts.Workers = 5
	}
	return &Processor{
		store:     store,
		discover:  d,
		fetch:     f,
		storer:    s,
		subtitler: subtitler,
		opts:      opts,
		log:       log,
		now:       time.Now,
	}
}

// Run executes one job. It is the unit of work handed to the job queue.
// Only PENDING jobs are started; anything else is skipped without change.
// The job is never left RUNNING when Run returns.
func (p *Processor) Run(ctx context.Context, jobID string) (err error) {
	logger := p.log.WithField("job_id", jobID)

	job, err := p.store.MutateJob(jobID, func(j *models.Job) error {
		if j.Status != models.JobStatusPending {
			return fmt.Errorf("%w (status %s)", errNotRunnable, j.Status)
		}
		now := p.now()
		j.Status = models.JobStatusRunning
		j.StartedAt = &now
		return nil
	})
	if errors.Is(err, errNotRunnable) {
		logger.Infof("Skipping job: %v", err)
		return nil
	}
	if err != nil {
		return err
	}

	defer p.completionGuard(jobID, logger, &err)

	logger.Infof("Job started: %s '%s' (limit %d)", job.Mode, job.Value, job.Limit)
	return p.execute(ctx, job, logger)
}

// completionGuard converts panics into errors and makes sure the job reaches a terminal state
func (p *Processor) completionGuard(jobID string, logger *logrus.Entry, errp *error) {
	if r := recover(); r != nil {
		logger.Errorf("PANIC while processing job: %v\n%s", r, debug.Stack())
		*errp = fmt.Errorf("panic: %v", r)
	}

	msg := "job ended without reaching a terminal state"
	if *errp != nil {
		msg = (*errp).Error()
	}
	job, err := p.store.MutateJob(jobID, func(j *models.Job) error {
		if j.Status != models.JobStatusRunning {
			return nil // Already terminal (completed, failed, cancelled)
		}
		now := p.now()
		j.Status = models.JobStatusFailed
		j.Error = msg
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		logger.Errorf("Completion guard could not persist job state: %v", err)
		return
	}
	if job.Status == models.JobStatusFailed && *errp != nil {
		logger.WithField("error_category", utils.CategorizeError(*errp)).Errorf("Job failed: %s", msg)
	}
}

func (p *Processor) execute(ctx context.Context, job *models.Job, logger *logrus.Entry) error {
	query := job.Query()
	descriptors, err := p.discover.Discover(ctx, query)
	if err != nil {
		if !errors.Is(err, utils.ErrDiscovery) {
			err = fmt.Errorf("%w: %w", utils.ErrDiscovery, err)
		}
		return err
	}
	descriptors = normalizeDescriptors(descriptors, query)

	if len(descriptors) == 0 {
		logger.Warn("Discovery returned no items")
		_, err := p.store.MutateJob(job.ID, func(j *models.Job) error {
			if j.Status != models.JobStatusRunning {
				return nil
			}
			now := p.now()
			j.Status = models.JobStatusFailed
			j.Error = NoItemsFound
			j.CompletedAt = &now
			return nil
		})
		return err
	}

	runnable, alreadyStored, err := p.upsertItems(job, descriptors, logger)
	if err != nil {
		return err
	}

	if _, err := p.store.MutateJob(job.ID, func(j *models.Job) error {
		j.Discovered = len(descriptors)
		j.Succeeded += alreadyStored
		j.RecomputeProgress()
		return nil
	}); err != nil {
		return err
	}
	logger.Infof("Discovered %d item(s): %d to process, %d already stored", len(descriptors), len(runnable), alreadyStored)

	var g errgroup.Group
	g.SetLimit(p.opts.Workers)
	for _, itemID := range runnable {
		if p.isCancelled(job.ID) {
			logger.Info("Job cancelled, not starting remaining items")
			break
		}
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Re-checked here: a cancel can land while Go waits for a free worker
			if ctx.Err() != nil || p.isCancelled(job.ID) {
				return nil
			}
			return p.processItem(ctx, job, itemID, true)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("interrupted: %w", err)
	}

	final, err := p.store.MutateJob(job.ID, func(j *models.Job) error {
		if j.Status != models.JobStatusRunning {
			return nil // Cancelled while running stays cancelled
		}
		now := p.now()
		j.Status = models.JobStatusCompleted
		j.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	logger.Infof("Job %s: %d succeeded, %d failed of %d (progress %d%%)",
		final.Status, final.Succeeded, final.Failed, final.Discovered, final.Progress)
	return nil
}

// normalizeDescriptors drops blank and duplicate ids, enforces the window and caps to the limit
func normalizeDescriptors(in []models.Descriptor, q models.Query) []models.Descriptor {
	seen := make(map[string]struct{}, len(in))
	out := make([]models.Descriptor, 0, len(in))
	for _, d := range in {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			continue
		}
		if _, dup := seen[d.ID]; dup {
			continue
		}
		if !q.InWindow(d.PostedAt) {
			continue
		}
		seen[d.ID] = struct{}{}
		out = append(out, d)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}

// upsertItems persists discovered items in discovery order and returns the ids this job must process
func (p *Processor) upsertItems(job *models.Job, descriptors []models.Descriptor, logger *logrus.Entry) (runnable []string, alreadyStored int, err error) {
	for seq, d := range descriptors {
		existing, err := p.store.GetItem(d.ID)
		switch {
		case errors.Is(err, utils.ErrNotFound):
			now := p.now()
			item := &models.Item{
				ID:           d.ID,
				JobID:        job.ID,
				Seq:          seq,
				Status:       models.ItemStatusPending,
				DiscoveredAt: now,
				UpdatedAt:    now,
			}
			item.ApplyDescriptor(d)
			if err := p.store.SaveItem(item); err != nil {
				return nil, 0, err
			}
			runnable = append(runnable, item.ID)
			continue
		case err != nil:
			return nil, 0, err
		}

		if existing.IsStored() {
			logger.WithField("item_id", d.ID).Debug("Item already stored, skipping")
			alreadyStored++
			continue
		}

		previous := existing.Status
		existing.ApplyDescriptor(d)
		existing.JobID = job.ID
		existing.Seq = seq
		existing.UpdatedAt = p.now()
		switch {
		case (previous == models.ItemStatusFetched || previous == models.ItemStatusStoring) && fileExists(existing.LocalPath):
			// Content is still on disk; only the store step is outstanding
			existing.Status = models.ItemStatusFetched
		default:
			// FAILED retries, and stale in-flight states from an interrupted run restart from scratch
			existing.Status = models.ItemStatusPending
			existing.Error = ""
		}
		if err := p.store.SaveItem(existing); err != nil {
			return nil, 0, err
		}
		logger.WithFields(logrus.Fields{"item_id": d.ID, "previous": previous, "status": existing.Status}).Debug("Reattached existing item")
		runnable = append(runnable, existing.ID)
	}
	return runnable, alreadyStored, nil
}

func (p *Processor) isCancelled(jobID string) bool {
	job, err := p.store.GetJob(jobID)
	if err != nil {
		return false
	}
	return job.Status == models.JobStatusCancelled
}

// itemOutcome is the per-item result folded into the job counters
type itemOutcome int

const (
	outcomeNone itemOutcome = iota
	outcomeSucceeded
	outcomeFailed
)

// processItem runs fetch then store for one item. Collaborator failures are
// recorded on the item; only record-layer errors are returned.
func (p *Processor) processItem(ctx context.Context, job *models.Job, itemID string, countOnJob bool) error {
	logger := p.log.WithFields(logrus.Fields{"job_id": job.ID, "item_id": itemID})

	outcome, err := p.guardedFetchAndStore(ctx, job, itemID, logger)
	if err != nil {
		return err
	}
	if !countOnJob || outcome == outcomeNone {
		return nil
	}
	_, err = p.store.MutateJob(job.ID, func(j *models.Job) error {
		if outcome == outcomeSucceeded {
			j.Succeeded++
		} else {
			j.Failed++
		}
		j.RecomputeProgress()
		return nil
	})
	return err
}

// guardedFetchAndStore runs fetchAndStore on a worker goroutine, where the
// job's completion guard cannot see panics. A panic fails the item and is
// returned as an error so the job fails too.
func (p *Processor) guardedFetchAndStore(ctx context.Context, job *models.Job, itemID string, logger *logrus.Entry) (outcome itemOutcome, err error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		logger.Errorf("PANIC while processing item: %v\n%s", r, debug.Stack())
		err = fmt.Errorf("panic: item '%s': %v", itemID, r)
		outcome = outcomeNone
		if _, failErr := p.transition(itemID, models.ItemStatusFailed, func(i *models.Item) {
			i.Error = err.Error()
		}); failErr != nil {
			logger.Warnf("Could not mark panicked item failed: %v", failErr)
		}
	}()
	return p.fetchAndStore(ctx, job, itemID, logger)
}

func (p *Processor) fetchAndStore(ctx context.Context, job *models.Job, itemID string, logger *logrus.Entry) (itemOutcome, error) {
	item, err := p.store.GetItem(itemID)
	if err != nil {
		return outcomeNone, err
	}
	if item.IsStored() {
		return outcomeSucceeded, nil
	}

	if item.Status != models.ItemStatusFetched || !fileExists(item.LocalPath) {
		if item.Status == models.ItemStatusFetched {
			logger.Warn("Fetched item lost its local file, fetching again")
			if item, err = p.transition(itemID, models.ItemStatusPending, nil); err != nil {
				return outcomeNone, err
			}
		}
		fetched, err := p.fetchItem(ctx, job, item, logger)
		if err != nil {
			return outcomeNone, err
		}
		if fetched == nil {
			return outcomeFailed, nil
		}
		item = fetched
	}

	return p.storeItem(ctx, job, item, logger)
}

// fetchItem moves an item through FETCHING. Returns nil item on a recorded fetch failure.
func (p *Processor) fetchItem(ctx context.Context, job *models.Job, item *models.Item, logger *logrus.Entry) (*models.Item, error) {
	item, err := p.transition(item.ID, models.ItemStatusFetching, func(i *models.Item) {
		i.Attempts++
	})
	if err != nil {
		return nil, err
	}

	dest := p.LocalPath(job, item.ID)
	res, fetchErr := p.fetch.Fetch(ctx, item.Descriptor(), dest, job.NoWatermark)
	if fetchErr == nil {
		fetchErr = verifyArtifact(res)
	}
	if fetchErr != nil {
		if !errors.Is(fetchErr, utils.ErrFetch) {
			fetchErr = fmt.Errorf("%w: %w", utils.ErrFetch, fetchErr)
		}
		logger.WithField("error_category", utils.CategorizeError(fetchErr)).Warnf("Fetch failed: %v", fetchErr)
		_, err := p.transition(item.ID, models.ItemStatusFailed, func(i *models.Item) {
			i.Error = fetchErr.Error()
		})
		return nil, err
	}

	logger.Debugf("Fetched %d bytes via %s", res.Size, res.Strategy)
	fetchedAt := p.now()
	return p.transition(item.ID, models.ItemStatusFetched, func(i *models.Item) {
		i.LocalPath = res.LocalPath
		i.FileSize = res.Size
		i.FetchedAt = &fetchedAt
		i.Watermarked = res.Watermarked
		i.Error = ""
	})
}

// storeItem moves a fetched item through STORING. A store failure rolls back to FETCHED
// so the local copy can be stored again later without refetching.
func (p *Processor) storeItem(ctx context.Context, job *models.Job, item *models.Item, logger *logrus.Entry) (itemOutcome, error) {
	item, err := p.transition(item.ID, models.ItemStatusStoring, nil)
	if err != nil {
		return outcomeNone, err
	}

	res, storeErr := p.storer.Store(ctx, item.LocalPath, Segments(job))
	if storeErr != nil {
		if !errors.Is(storeErr, utils.ErrStore) {
			storeErr = fmt.Errorf("%w: %w", utils.ErrStore, storeErr)
		}
		logger.WithField("error_category", utils.CategorizeError(storeErr)).Warnf("Store failed, keeping local copy: %v", storeErr)
		_, err := p.transition(item.ID, models.ItemStatusFetched, func(i *models.Item) {
			i.Error = storeErr.Error()
		})
		return outcomeFailed, err
	}

	item, err = p.transition(item.ID, models.ItemStatusStored, func(i *models.Item) {
		i.ExternalID = res.ExternalID
		i.ExternalLink = res.Link
		i.ExternalFolder = res.Folder
		i.MetadataID = res.MetadataID
		i.Error = ""
	})
	if err != nil {
		return outcomeNone, err
	}
	logger.Infof("Stored item via %s: %s", res.Strategy, res.ExternalID)

	p.generateSubtitles(ctx, item, logger)
	return outcomeSucceeded, nil
}

// generateSubtitles is best effort; failures are logged and never affect the item
func (p *Processor) generateSubtitles(ctx context.Context, item *models.Item, logger *logrus.Entry) {
	if p.subtitler == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("PANIC in subtitle generation (ignored): %v\n%s", r, debug.Stack())
		}
	}()
	path, err := p.subtitler.Generate(ctx, item.LocalPath)
	if err != nil {
		logger.Warnf("Subtitle generation failed (ignored): %v", err)
		return
	}
	if path == "" {
		return
	}
	if _, err := p.store.MutateItem(item.ID, func(i *models.Item) error {
		i.SubtitlePath = path
		return nil
	}); err != nil {
		logger.Warnf("Could not record subtitle path: %v", err)
	}
}

// transition moves an item to next, applying mutate inside the same commit
func (p *Processor) transition(itemID string, next models.ItemStatus, mutate func(i *models.Item)) (*models.Item, error) {
	return p.store.MutateItem(itemID, func(i *models.Item) error {
		if !i.Status.CanTransition(next) {
			return fmt.Errorf("%w: item '%s' cannot move from %s to %s", utils.ErrInvalidState, itemID, i.Status, next)
		}
		i.Status = next
		i.UpdatedAt = p.now()
		if mutate != nil {
			mutate(i)
		}
		return nil
	})
}

// RetryItem re-runs fetch/store for a single item without touching job counters.
// A FETCHED item with its file still present goes straight to store.
func (p *Processor) RetryItem(ctx context.Context, itemID string) error {
	logger := p.log.WithField("item_id", itemID)

	item, err := p.store.GetItem(itemID)
	if err != nil {
		return err
	}
	if item.IsStored() {
		return fmt.Errorf("%w: item '%s' is already stored", utils.ErrValidation, itemID)
	}
	if item.Status == models.ItemStatusFailed {
		if item, err = p.store.MutateItem(itemID, func(i *models.Item) error {
			i.Status = models.ItemStatusPending
			i.Error = ""
			i.UpdatedAt = p.now()
			return nil
		}); err != nil {
			return err
		}
	}
	job, err := p.store.GetJob(item.JobID)
	if err != nil {
		return err
	}

	logger.Info("Retrying item")
	outcome, err := p.guardedFetchAndStore(ctx, job, itemID, logger)
	if err != nil {
		return err
	}
	if outcome == outcomeFailed {
		current, getErr := p.store.GetItem(itemID)
		if getErr == nil && current.Error != "" {
			return errors.New(current.Error)
		}
		return fmt.Errorf("%w: retry of item '%s' failed", utils.ErrFetch, itemID)
	}
	return nil
}

// LocalPath returns where an item of job is fetched to: <root>/<mode>/<value>/<id>.mp4
func (p *Processor) LocalPath(job *models.Job, itemID string) string {
	return filepath.Join(
		p.opts.LocalRoot,
		utils.SanitizeFilename(string(job.Mode)),
		utils.SanitizeFilename(job.Value),
		utils.SanitizeFilename(itemID)+".mp4",
	)
}

// Segments returns the external folder segments for a job's items.
// A folder override replaces the default mode/value layout.
func Segments(job *models.Job) []string {
	if job.FolderOverride != "" {
		return utils.SanitizeSegments(strings.Split(job.FolderOverride, "/"))
	}
	return utils.SanitizeSegments([]string{string(job.Mode), job.Value})
}

// verifyArtifact checks that a fetch produced a non-empty file
func verifyArtifact(res *models.FetchResult) error {
	if res == nil || res.LocalPath == "" {
		return fmt.Errorf("%w: fetch returned no artifact", utils.ErrFetch)
	}
	info, err := os.Stat(res.LocalPath)
	if err != nil {
		return fmt.Errorf("%w: artifact missing: %w", utils.ErrFetch, err)
	}
	if info.Size() == 0 {
		return fmt.Errorf("%w: artifact is empty: %s", utils.ErrFetch, res.LocalPath)
	}
	res.Size = info.Size()
	return nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir() && info.Size() > 0
}
