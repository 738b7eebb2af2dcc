// Package scheduler implements the Scheduler: a thread-safe
// priority queue of pending executions, keyed by (priority desc, enqueue
// time asc).
//
// Mutex-guarded map-plus-heap bookkeeping: ordering uses container/heap
// rather than a sorted slice so enqueue/dequeue stay O(log n) under the
// concurrent-producers, one-consumer-per-worker access pattern.
package scheduler

import (
	"container/heap"
	"sync"
	"time"

	"github.com/corewire/agentkernel/internal/events"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// DefaultPriority is used when Enqueue is called without an explicit
// priority.
const DefaultPriority = 0

type item struct {
	executionID string
	priority    int
	enqueuedAt  time.Time
	index       int
}

// pqueue is a container/heap.Interface ordering by priority desc, then
// enqueue time asc.
type pqueue []*item

func (q pqueue) Len() int { return len(q) }
func (q pqueue) Less(i, j int) bool {
	if q[i].priority != q[j].priority {
		return q[i].priority > q[j].priority
	}
	return q[i].enqueuedAt.Before(q[j].enqueuedAt)
}
func (q pqueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}
func (q *pqueue) Push(x any) {
	it := x.(*item)
	it.index = len(*q)
	*q = append(*q, it)
}
func (q *pqueue) Pop() any {
	old := *q
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*q = old[:n-1]
	return it
}

// Scheduler is the pending-execution priority queue. Safe for concurrent
// use by multiple producers and consumers.
type Scheduler struct {
	mu     sync.Mutex
	q      pqueue
	byExec map[string]*item
	bus    *events.Bus
	notify chan struct{}
}

// New creates an empty scheduler. bus may be nil; when set, Cancel of a
// queued (not yet dequeued) execution emits kernel.EventExecutionAborted.
func New(bus *events.Bus) *Scheduler {
	s := &Scheduler{byExec: make(map[string]*item), bus: bus, notify: make(chan struct{}, 1)}
	heap.Init(&s.q)
	return s
}

// Notify returns a channel that receives a value shortly after an Enqueue
// call adds a new entry (a priority update sends nothing). Workers select on it instead of
// polling on a fixed interval; it is a hint, not a guarantee — Dequeue must
// still be called to confirm an item is actually available. Nothing ever
// blocks inside the Scheduler's critical section.
func (s *Scheduler) Notify() <-chan struct{} {
	return s.notify
}

func (s *Scheduler) wake() {
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// Enqueue adds executionID to the queue at the given priority (higher runs
// first). Re-enqueuing an already-queued execution updates its priority in
// place rather than creating a duplicate entry.
func (s *Scheduler) Enqueue(executionID string, priority int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.byExec[executionID]; ok {
		it.priority = priority
		heap.Fix(&s.q, it.index)
		return
	}

	it := &item{executionID: executionID, priority: priority, enqueuedAt: time.Now()}
	s.byExec[executionID] = it
	heap.Push(&s.q, it)
	s.wake()
}

// Dequeue removes and returns the highest-priority, earliest-enqueued
// execution ID. Returns ("", false) when the queue is empty — callers poll
// or block externally; the Scheduler itself never blocks.
func (s *Scheduler) Dequeue() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.q.Len() == 0 {
		return "", false
	}
	it := heap.Pop(&s.q).(*item)
	delete(s.byExec, it.executionID)
	return it.executionID, true
}

// Cancel removes a queued execution and reports whether it was present.
// Emits EventExecutionAborted for the removed entry. Cancelling
// an execution already dequeued (running) is a no-op here — that path is
// owned by the Lifecycle's abort signal.
func (s *Scheduler) Cancel(executionID string) bool {
	s.mu.Lock()
	it, ok := s.byExec[executionID]
	if !ok {
		s.mu.Unlock()
		return false
	}
	heap.Remove(&s.q, it.index)
	delete(s.byExec, executionID)
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Emit(kernel.Event{
			Type:        kernel.EventExecutionAborted,
			ExecutionID: executionID,
			Data:        map[string]any{"reason": "cancelled while queued"},
		})
	}
	return true
}

// Size returns the current number of queued (not yet dequeued) executions.
func (s *Scheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.Len()
}
