package queue

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// Task is one unit of work run by the queue, typically Processor.Run for a job id
type Task func(ctx context.Context) error

type entry struct {
	id   string
	task Task
	done chan error // Buffered; nil when nobody waits
}

// JobQueue is a single serialized execution lane.
// Tasks run strictly one at a time in FIFO order, and consecutive starts are
// spaced by at least minInterval. The drain goroutine starts on demand and
// exits once the queue is empty.
type JobQueue struct {
	mu          sync.Mutex
	pending     []*entry
	ids         map[string]struct{} // Queued or running
	active      string
	draining    bool
	stopped     bool
	lastStart   time.Time
	minInterval time.Duration

	ctx    context.Context // Handed to tasks; cancelled by Stop
	cancel context.CancelFunc
	wg     sync.WaitGroup
	log    *logrus.Entry
}

// NewJobQueue creates an idle queue
func NewJobQueue(minInterval time.Duration, log *logrus.Entry) *JobQueue {
	ctx, cancel := context.WithCancel(context.Background())
	return &JobQueue{
		ids:         make(map[string]struct{}),
		minInterval: minInterval,
		ctx:         ctx,
		cancel:      cancel,
		log:         log,
	}
}

// Submit enqueues task under id and returns immediately.
// Returns false when id is already queued or running, or the queue is stopped.
func (q *JobQueue) Submit(id string, task Task) bool {
	return q.enqueue(&entry{id: id, task: task})
}

// SubmitAndWait enqueues task and blocks until it has run, returning its error.
// If ctx ends first the task stays queued and ctx.Err() is returned.
func (q *JobQueue) SubmitAndWait(ctx context.Context, id string, task Task) error {
	e := &entry{id: id, task: task, done: make(chan error, 1)}
	if !q.enqueue(e) {
		return fmt.Errorf("%w: job '%s' is already queued or running", utils.ErrInvalidState, id)
	}
	select {
	case err := <-e.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *JobQueue) enqueue(e *entry) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		q.log.WithField("job_id", e.id).Warn("Queue stopped, rejecting submission")
		return false
	}
	if _, dup := q.ids[e.id]; dup {
		q.log.WithField("job_id", e.id).Debug("Job already queued or running, ignoring duplicate submission")
		return false
	}
	q.ids[e.id] = struct{}{}
	q.pending = append(q.pending, e)
	q.log.WithFields(logrus.Fields{"job_id": e.id, "depth": len(q.pending)}).Debug("Job queued")

	if !q.draining {
		q.draining = true
		q.wg.Add(1)
		go q.drain()
	}
	return true
}

// drain runs queued tasks until the queue is empty or stopped
func (q *JobQueue) drain() {
	defer q.wg.Done()
	for {
		q.mu.Lock()
		if q.stopped || len(q.pending) == 0 {
			q.draining = false
			q.mu.Unlock()
			return
		}
		wait := time.Duration(0)
		if !q.lastStart.IsZero() {
			wait = q.minInterval - time.Since(q.lastStart)
		}
		q.mu.Unlock()

		if wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-timer.C:
			case <-q.ctx.Done():
				timer.Stop()
				continue // Loop sees stopped and exits
			}
		}

		q.mu.Lock()
		if q.stopped {
			q.draining = false
			q.mu.Unlock()
			return
		}
		e := q.pending[0]
		q.pending[0] = nil
		q.pending = q.pending[1:]
		q.active = e.id
		q.lastStart = time.Now()
		q.mu.Unlock()

		err := q.runSafe(e)

		q.mu.Lock()
		q.active = ""
		delete(q.ids, e.id)
		q.mu.Unlock()

		if e.done != nil {
			e.done <- err
		}
	}
}

// runSafe runs one task, converting panics to errors. Failures never stop the lane.
func (q *JobQueue) runSafe(e *entry) (err error) {
	logger := q.log.WithField("job_id", e.id)
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("PANIC in queued job: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("panic in job '%s': %v", e.id, r)
		}
		if err != nil {
			logger.WithField("error_category", utils.CategorizeError(err)).Errorf("Queued job failed after %v: %v", time.Since(start), err)
		} else {
			logger.Debugf("Queued job finished in %v", time.Since(start))
		}
	}()
	return e.task(q.ctx)
}

// Depth returns the number of tasks waiting to start
func (q *JobQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// IsActive reports whether id is the task currently executing
func (q *JobQueue) IsActive(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active != "" && q.active == id
}

// IsQueued reports whether id is waiting or executing
func (q *JobQueue) IsQueued(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.ids[id]
	return ok
}

// Stop rejects new submissions, cancels the running task's context and waits
// for the drain goroutine to exit or ctx to end. Queued tasks that never
// started are released with utils.ErrCancelled.
func (q *JobQueue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return nil
	}
	q.stopped = true
	abandoned := q.pending
	q.pending = nil
	for _, e := range abandoned {
		delete(q.ids, e.id)
	}
	q.mu.Unlock()

	q.cancel()
	for _, e := range abandoned {
		if e.done != nil {
			e.done <- fmt.Errorf("%w: queue stopped before job '%s' started", utils.ErrCancelled, e.id)
		}
	}
	if len(abandoned) > 0 {
		q.log.Warnf("Queue stopped with %d job(s) not started", len(abandoned))
	}

	finished := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(finished)
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
