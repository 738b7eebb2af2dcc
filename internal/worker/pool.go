// Package worker implements the bounded Worker Pool: N workers
// each pop an execution from the Scheduler, run it to a terminal state,
// persist a snapshot, and emit the terminal event.
//
// A fixed pool of long-lived workers shares one mutex over pool state.
// Each run is cooperatively cancellable: the runner checks its abort
// channel between nodes and around suspending operations.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/corewire/agentkernel/internal/scheduler"
	"github.com/corewire/agentkernel/pkg/kernel"
)

// DefaultPoolSize is the default number of concurrent workers.
const DefaultPoolSize = 4

// Runner executes one dequeued execution end to end: obtaining its
// Execution Context, driving the graph loop until a terminal state,
// persisting the snapshot, and emitting the terminal event. Supplied by the
// Runtime, which owns all the subsystem wiring the Worker Pool itself stays
// ignorant of.
type Runner func(ctx context.Context, executionID string) error

// Pool is a bounded set of workers draining one Scheduler.
type Pool struct {
	sched  *scheduler.Scheduler
	run    Runner
	size   int
	logger func(format string, args ...any)

	mu       sync.Mutex
	draining bool
	wg       sync.WaitGroup
	stop     chan struct{}
}

// New creates a pool of size workers (DefaultPoolSize if size <= 0) that
// pop executions from sched and hand them to run.
func New(sched *scheduler.Scheduler, run Runner, size int) *Pool {
	if size <= 0 {
		size = DefaultPoolSize
	}
	return &Pool{sched: sched, run: run, size: size, stop: make(chan struct{})}
}

// SetLogger installs a printf-style logging hook. Optional.
func (p *Pool) SetLogger(fn func(format string, args ...any)) { p.logger = fn }

func (p *Pool) logf(format string, args ...any) {
	if p.logger != nil {
		p.logger(format, args...)
	}
}

// Start launches the worker goroutines. It returns immediately; call Wait
// or Shutdown to block until they stop.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.size; i++ {
		p.wg.Add(1)
		go p.loop(ctx, i)
	}
}

func (p *Pool) loop(ctx context.Context, workerIdx int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-p.stop:
			return
		default:
		}

		execID, ok := p.sched.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.stop:
				return
			case <-p.sched.Notify():
			case <-time.After(50 * time.Millisecond):
			}
			continue
		}

		if p.isDraining() {
			// New work arriving during drain is not picked up; it stays
			// queued for the next Start.
			p.sched.Enqueue(execID, 0)
			return
		}

		if err := p.run(ctx, execID); err != nil {
			p.logf("worker %d: execution %s: %v", workerIdx, execID, err)
		}
	}
}

func (p *Pool) isDraining() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draining
}

// Shutdown sets the drain flag and waits up to gracePeriod for in-flight
// runs to finish. After that it signals workers to stop taking work and
// waits for the runs still in flight to return; it does not cancel or
// abort them.
func (p *Pool) Shutdown(gracePeriod time.Duration) {
	p.mu.Lock()
	p.draining = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return
	case <-time.After(gracePeriod):
	}
	close(p.stop)
	<-done
}

// AbortExecution triggers ec's abort signal; the owning worker observes it
// at the next suspension point and transitions to the aborted lifecycle
// state. Double-abort is idempotent because
// kernel.ExecutionContext.Abort is.
func AbortExecution(ec *kernel.ExecutionContext) {
	ec.Abort()
}
