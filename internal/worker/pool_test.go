package worker

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/corewire/agentkernel/internal/scheduler"
)

func TestPoolProcessesEnqueuedExecutions(t *testing.T) {
	sched := scheduler.New(nil)
	var processed sync.Map
	var count int64

	run := func(ctx context.Context, execID string) error {
		processed.Store(execID, true)
		atomic.AddInt64(&count, 1)
		return nil
	}

	pool := New(sched, run, 2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	sched.Enqueue("e1", 0)
	sched.Enqueue("e2", 0)
	sched.Enqueue("e3", 0)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if atomic.LoadInt64(&count) == 3 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for _, id := range []string{"e1", "e2", "e3"} {
		if _, ok := processed.Load(id); !ok {
			t.Fatalf("expected %s to have been processed", id)
		}
	}
}

func TestShutdownDrainsInFlight(t *testing.T) {
	sched := scheduler.New(nil)
	started := make(chan struct{})
	release := make(chan struct{})

	run := func(ctx context.Context, execID string) error {
		close(started)
		<-release
		return nil
	}

	pool := New(sched, run, 1)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)
	sched.Enqueue("e1", 0)

	<-started
	done := make(chan struct{})
	go func() {
		pool.Shutdown(2 * time.Second)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("expected shutdown to return after in-flight run completes")
	}
}
