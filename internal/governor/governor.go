// Package governor admits stage executions onto constrained compute
// resources. The GPU slot pool is modeled as a bounded counting semaphore
// with a FIFO waiter queue so deferred jobs are served in the order they
// asked, never starved while capacity exists.
package governor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"adforge/internal/domain"
)

// Kind names a constrained resource class.
type Kind string

const KindGPU Kind = "gpu"

// Lease is a temporary grant of one execution slot. It must be released
// unconditionally when the stage execution ends; Release is idempotent.
type Lease struct {
	Token      string
	Kind       Kind
	JobID      string
	AcquiredAt time.Time

	g        *Governor
	released bool
}

// Release returns the slot to the pool, handing it directly to the longest
// waiting job if any.
func (l *Lease) Release() {
	if l == nil || l.g == nil {
		return
	}
	l.g.release(l)
}

type waiter struct {
	jobID string
	ch    chan *Lease
}

// Governor owns the slot pool for one resource kind.
type Governor struct {
	kind  Kind
	limit int

	mu      sync.Mutex
	inUse   int
	waiters []*waiter
	notify  func(inUse, waiting int)
}

// New constructs a governor with the given concurrency limit. Limits below
// one are clamped to one.
func New(kind Kind, limit int) *Governor {
	if limit < 1 {
		limit = 1
	}
	return &Governor{kind: kind, limit: limit}
}

// SetNotify registers an observer invoked, under no lock ordering guarantees,
// whenever occupancy changes. Used to feed gauges.
func (g *Governor) SetNotify(fn func(inUse, waiting int)) {
	g.mu.Lock()
	g.notify = fn
	g.mu.Unlock()
}

// TryAcquire grants a lease when a slot is free, without blocking. It returns
// false when the pool is busy; the caller should fall back to Acquire to join
// the FIFO queue.
func (g *Governor) TryAcquire(jobID string) (*Lease, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.inUse >= g.limit {
		return nil, false
	}
	g.inUse++
	lease := g.newLeaseLocked(jobID)
	g.notifyLocked()
	return lease, true
}

// Acquire grants a lease, waiting in FIFO order behind earlier requesters.
// The context deadline bounds the wait; expiry yields ErrResourceTimeout.
func (g *Governor) Acquire(ctx context.Context, jobID string) (*Lease, error) {
	g.mu.Lock()
	if g.inUse < g.limit {
		g.inUse++
		lease := g.newLeaseLocked(jobID)
		g.notifyLocked()
		g.mu.Unlock()
		return lease, nil
	}
	w := &waiter{jobID: jobID, ch: make(chan *Lease, 1)}
	g.waiters = append(g.waiters, w)
	g.notifyLocked()
	g.mu.Unlock()

	select {
	case lease := <-w.ch:
		return lease, nil
	case <-ctx.Done():
	}

	// The wait expired, but a release may have handed us a lease in the
	// meantime. If so the slot must go back to the pool.
	g.mu.Lock()
	for i, queued := range g.waiters {
		if queued == w {
			g.waiters = append(g.waiters[:i], g.waiters[i+1:]...)
			g.notifyLocked()
			g.mu.Unlock()
			return nil, fmt.Errorf("%w: %s slot wait: %v", domain.ErrResourceTimeout, g.kind, ctx.Err())
		}
	}
	g.mu.Unlock()
	select {
	case lease := <-w.ch:
		lease.Release()
	default:
	}
	return nil, fmt.Errorf("%w: %s slot wait: %v", domain.ErrResourceTimeout, g.kind, ctx.Err())
}

// InUse reports the number of outstanding leases.
func (g *Governor) InUse() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.inUse
}

// Waiting reports the number of queued acquirers.
func (g *Governor) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.waiters)
}

func (g *Governor) release(l *Lease) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if l.released {
		return
	}
	l.released = true
	if len(g.waiters) > 0 {
		// Hand the slot straight to the longest waiter; occupancy is
		// unchanged so TryAcquire cannot jump the queue.
		w := g.waiters[0]
		g.waiters = g.waiters[1:]
		w.ch <- g.newLeaseLocked(w.jobID)
	} else {
		g.inUse--
	}
	g.notifyLocked()
}

func (g *Governor) newLeaseLocked(jobID string) *Lease {
	return &Lease{
		Token:      uuid.NewString(),
		Kind:       g.kind,
		JobID:      jobID,
		AcquiredAt: time.Now(),
		g:          g,
	}
}

func (g *Governor) notifyLocked() {
	if g.notify != nil {
		g.notify(g.inUse, len(g.waiters))
	}
}
