package scheduler

import (
	"sync"
	"testing"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestDequeueOrdersByPriorityThenEnqueueTime(t *testing.T) {
	s := New(nil)
	s.Enqueue("low", 0)
	s.Enqueue("high", 10)
	s.Enqueue("low2", 0)

	first, ok := s.Dequeue()
	if !ok || first != "high" {
		t.Fatalf("expected high first, got %q", first)
	}
	second, ok := s.Dequeue()
	if !ok || second != "low" {
		t.Fatalf("expected low (earlier) second, got %q", second)
	}
	third, ok := s.Dequeue()
	if !ok || third != "low2" {
		t.Fatalf("expected low2 third, got %q", third)
	}
}

func TestDequeueEmpty(t *testing.T) {
	s := New(nil)
	if _, ok := s.Dequeue(); ok {
		t.Fatal("expected empty queue to report not-ok")
	}
}

func TestCancelRemovesAndEmitsAborted(t *testing.T) {
	bus := events.New()
	var got kernel.Event
	bus.On(kernel.EventExecutionAborted, func(e kernel.Event) { got = e })

	s := New(bus)
	s.Enqueue("exec1", 0)
	if ok := s.Cancel("exec1"); !ok {
		t.Fatal("expected cancel of queued execution to succeed")
	}
	if s.Size() != 0 {
		t.Fatalf("expected size 0 after cancel, got %d", s.Size())
	}
	if got.ExecutionID != "exec1" {
		t.Fatalf("expected aborted event for exec1, got %+v", got)
	}
}

func TestCancelUnknownReturnsFalse(t *testing.T) {
	s := New(nil)
	if s.Cancel("nope") {
		t.Fatal("expected cancel of unknown execution to return false")
	}
}

func TestReEnqueueUpdatesPriority(t *testing.T) {
	s := New(nil)
	s.Enqueue("a", 0)
	s.Enqueue("b", 5)
	s.Enqueue("a", 10) // bump a above b

	first, _ := s.Dequeue()
	if first != "a" {
		t.Fatalf("expected re-prioritized a first, got %q", first)
	}
}

func TestConcurrentEnqueueDequeue(t *testing.T) {
	s := New(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			s.Enqueue("exec", n)
		}(i)
	}
	wg.Wait()
	if s.Size() != 1 {
		t.Fatalf("expected single collapsed entry for repeated id, got size %d", s.Size())
	}
}
