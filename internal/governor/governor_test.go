package governor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"adforge/internal/domain"
)

func TestTryAcquireRespectsLimit(t *testing.T) {
	g := New(KindGPU, 2)

	a, ok := g.TryAcquire("job-a")
	if !ok {
		t.Fatal("first acquire should succeed")
	}
	b, ok := g.TryAcquire("job-b")
	if !ok {
		t.Fatal("second acquire should succeed")
	}
	if _, ok := g.TryAcquire("job-c"); ok {
		t.Fatal("third acquire should report busy")
	}
	if got := g.InUse(); got != 2 {
		t.Fatalf("InUse = %d, want 2", got)
	}

	a.Release()
	if _, ok := g.TryAcquire("job-c"); !ok {
		t.Fatal("acquire after release should succeed")
	}
	b.Release()
}

func TestReleaseIsIdempotent(t *testing.T) {
	g := New(KindGPU, 1)
	l, ok := g.TryAcquire("job-a")
	if !ok {
		t.Fatal("acquire failed")
	}
	l.Release()
	l.Release()
	if got := g.InUse(); got != 0 {
		t.Fatalf("InUse = %d after double release, want 0", got)
	}
}

func TestAcquireServesWaitersInFIFOOrder(t *testing.T) {
	g := New(KindGPU, 1)
	first, ok := g.TryAcquire("holder")
	if !ok {
		t.Fatal("initial acquire failed")
	}

	var mu sync.Mutex
	var order []string
	var wg sync.WaitGroup
	ready := make(chan struct{}, 2)

	enqueue := func(jobID string) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ready <- struct{}{}
			lease, err := g.Acquire(context.Background(), jobID)
			if err != nil {
				t.Errorf("Acquire(%s): %v", jobID, err)
				return
			}
			mu.Lock()
			order = append(order, jobID)
			mu.Unlock()
			lease.Release()
		}()
	}

	enqueue("waiter-1")
	<-ready
	waitForWaiters(t, g, 1)
	enqueue("waiter-2")
	<-ready
	waitForWaiters(t, g, 2)

	first.Release()
	wg.Wait()

	if len(order) != 2 || order[0] != "waiter-1" || order[1] != "waiter-2" {
		t.Fatalf("wake order = %v, want [waiter-1 waiter-2]", order)
	}
}

func TestAcquireTimesOut(t *testing.T) {
	g := New(KindGPU, 1)
	l, ok := g.TryAcquire("holder")
	if !ok {
		t.Fatal("initial acquire failed")
	}
	defer l.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := g.Acquire(ctx, "waiter"); !errors.Is(err, domain.ErrResourceTimeout) {
		t.Fatalf("Acquire error = %v, want ErrResourceTimeout", err)
	}
	if got := g.Waiting(); got != 0 {
		t.Fatalf("Waiting = %d after timeout, want 0", got)
	}
}

func TestConcurrentAcquireNeverExceedsLimit(t *testing.T) {
	const limit = 3
	g := New(KindGPU, limit)

	var inFlight, peak int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := g.Acquire(context.Background(), "job")
			if err != nil {
				t.Errorf("Acquire: %v", err)
				return
			}
			n := atomic.AddInt64(&inFlight, 1)
			for {
				old := atomic.LoadInt64(&peak)
				if n <= old || atomic.CompareAndSwapInt64(&peak, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt64(&inFlight, -1)
			lease.Release()
		}()
	}
	wg.Wait()

	if peak > limit {
		t.Fatalf("observed %d concurrent leases, limit %d", peak, limit)
	}
	if got := g.InUse(); got != 0 {
		t.Fatalf("InUse = %d after all releases, want 0", got)
	}
}

func waitForWaiters(t *testing.T, g *Governor, n int) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for g.Waiting() < n {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d waiters", n)
		}
		time.Sleep(time.Millisecond)
	}
}
