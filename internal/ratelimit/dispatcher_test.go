package ratelimit

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"
)

func TestDispatcherSpacesConcurrentCallers(t *testing.T) {
	const maxRate = 50.0
	d := NewDispatcher(maxRate)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	d.observe = func(at time.Time) {
		mu.Lock()
		times = append(times, at)
		mu.Unlock()
	}
	ctx := context.Background()
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := d.Acquire(ctx); err != nil {
				t.Errorf("acquire: %v", err)
			}
		}()
	}
	wg.Wait()

	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	for i := 1; i < len(times); i++ {
		if gap := times[i].Sub(times[i-1]); gap < d.Interval() {
			t.Fatalf("calls %d and %d only %v apart, want >= %v", i-1, i, gap, d.Interval())
		}
	}
	if d.Calls() != 8 {
		t.Fatalf("expected 8 admitted calls, got %d", d.Calls())
	}
}

func TestDispatcherHonoursContext(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := d.Acquire(ctx); err == nil {
		t.Fatalf("expected the second acquire to give up before the 1s interval")
	}
}

func TestDispatcherDefaultRate(t *testing.T) {
	d := NewDispatcher(0)
	if d.Interval() != 125*time.Millisecond {
		t.Fatalf("expected 125ms at the default rate, got %v", d.Interval())
	}
}

func TestDispatcherQueuedCallerCancels(t *testing.T) {
	d := NewDispatcher(1)
	if err := d.Acquire(context.Background()); err != nil {
		t.Fatalf("first acquire: %v", err)
	}

	ahead, stopAhead := context.WithCancel(context.Background())
	defer stopAhead()
	go func() { _ = d.Acquire(ahead) }()
	time.Sleep(10 * time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)
	start := time.Now()
	if err := d.Acquire(ctx); err == nil {
		t.Fatal("expected the cancelled acquire to fail")
	}
	if elapsed := time.Since(start); elapsed > 300*time.Millisecond {
		t.Fatalf("cancelled caller waited %v behind the queue", elapsed)
	}
}
