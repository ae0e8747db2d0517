package supervise

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

// Options bounds the restart backoff
type Options struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// LoopFunc is a long-lived background loop. It should return nil once ctx ends.
type LoopFunc func(ctx context.Context) error

// Run keeps fn alive until ctx ends. An error, a panic or an early return
// restarts fn after an exponential backoff; a run that stayed up longer than
// MaxBackoff resets the backoff.
func Run(ctx context.Context, name string, fn LoopFunc, opts Options, log *logrus.Entry) error {
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	if opts.MaxBackoff < opts.InitialBackoff {
		opts.MaxBackoff = opts.InitialBackoff
	}
	logger := log.WithField("loop", name)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = opts.InitialBackoff
	b.MaxInterval = opts.MaxBackoff
	b.MaxElapsedTime = 0 // Never give up
	b.Reset()

	restarts := 0
	for {
		started := time.Now()
		err := runSafe(ctx, fn)
		if ctx.Err() != nil {
			logger.Debug("Loop stopped")
			return nil
		}
		if time.Since(started) > opts.MaxBackoff {
			b.Reset()
		}

		wait := b.NextBackOff()
		restarts++
		if err != nil {
			logger.WithField("error_category", utils.CategorizeError(err)).Errorf("Loop failed (restart %d in %v): %v", restarts, wait.Round(time.Millisecond), err)
		} else {
			logger.Warnf("Loop exited early (restart %d in %v)", restarts, wait.Round(time.Millisecond))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func runSafe(ctx context.Context, fn LoopFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
		}
	}()
	return fn(ctx)
}
