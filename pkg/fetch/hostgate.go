package fetch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/Sriram-PR/clip-harvester/pkg/utils"
)

const defaultPerHost = 2

// HostGate bounds how many discovery calls and clip downloads may hit one
// host at once. Content CDNs throttle by connection count, so the cap is per
// host rather than global.
type HostGate struct {
	mu      sync.Mutex
	slots   map[string]*hostSlot
	perHost int64
	log     *logrus.Entry
}

type hostSlot struct {
	sem       *semaphore.Weighted
	users     int64     // Holders plus waiters
	idleSince time.Time // Set when users drops to zero
}

// NewHostGate creates a gate admitting perHost concurrent transfers per host
func NewHostGate(perHost int, log *logrus.Entry) *HostGate {
	n := int64(perHost)
	if n <= 0 {
		n = defaultPerHost
		log.Warnf("fetch.max_requests_per_host must be positive, using %d", n)
	}
	return &HostGate{slots: make(map[string]*hostSlot), perHost: n, log: log}
}

// join registers the caller on host's slot, creating it on first use
func (g *HostGate) join(host string) *hostSlot {
	g.mu.Lock()
	defer g.mu.Unlock()
	s, ok := g.slots[host]
	if !ok {
		s = &hostSlot{sem: semaphore.NewWeighted(g.perHost)}
		g.slots[host] = s
		g.log.WithField("host", host).Debugf("Tracking host (cap %d)", g.perHost)
	}
	s.users++
	return s
}

func (g *HostGate) leave(s *hostSlot) {
	g.mu.Lock()
	s.users--
	if s.users == 0 {
		s.idleSince = time.Now()
	}
	g.mu.Unlock()
}

// Enter waits for a free transfer slot on host
func (g *HostGate) Enter(ctx context.Context, host string) error {
	s := g.join(host)
	if err := s.sem.Acquire(ctx, 1); err != nil {
		g.leave(s)
		return err
	}
	return nil
}

// EnterWithin is Enter giving up after wait. Running out of time is reported
// as ErrSemaphoreTimeout; a cancelled ctx is returned as is.
func (g *HostGate) EnterWithin(ctx context.Context, host string, wait time.Duration) error {
	if wait <= 0 {
		return g.Enter(ctx, host)
	}
	waitCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	err := g.Enter(waitCtx, host)
	switch {
	case err == nil:
		return nil
	case ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: no slot on %s within %v", utils.ErrSemaphoreTimeout, host, wait)
	default:
		return err
	}
}

// Leave frees the slot taken by a successful Enter
func (g *HostGate) Leave(host string) {
	g.mu.Lock()
	s, ok := g.slots[host]
	g.mu.Unlock()
	if !ok {
		g.log.WithField("host", host).Error("Leave without a matching Enter")
		return
	}
	s.sem.Release(1)
	g.leave(s)
}

// Sweep forgets hosts nobody has used for a full period, every period, until
// ctx ends. A non-positive period means five minutes.
func (g *HostGate) Sweep(ctx context.Context, period time.Duration) error {
	if period <= 0 {
		period = 5 * time.Minute
	}
	t := time.NewTicker(period)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			g.log.Debug("Host gate sweep stopped")
			return nil
		case <-t.C:
			g.dropIdle(period)
		}
	}
}

func (g *HostGate) dropIdle(maxIdle time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	cutoff := time.Now().Add(-maxIdle)
	var dropped int
	for host, s := range g.slots {
		if s.users == 0 && !s.idleSince.After(cutoff) {
			delete(g.slots, host)
			dropped++
		}
	}
	if dropped > 0 {
		g.log.Debugf("Dropped %d idle host(s), tracking %d", dropped, len(g.slots))
	}
}

// Hosts returns how many hosts are currently tracked
func (g *HostGate) Hosts() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.slots)
}
