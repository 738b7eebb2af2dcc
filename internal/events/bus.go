// Package events implements the kernel's typed event bus: synchronous
// pub/sub with per-type and wildcard listeners, monotonic sequencing, and a
// soft subscription-leak guard.
//
// The Bus stamps Sequence and Time on each event and fans it out to
// listeners; an EventSink decides where an event goes next (a channel, a
// callback, or several of these fanned out).
package events

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/corewire/agentkernel/pkg/kernel"
)

// DefaultMaxListeners is the soft limit on listeners per event type before
// the bus logs a leak warning.
const DefaultMaxListeners = 100

// Listener receives one Event.
type Listener func(kernel.Event)

// Unsubscribe removes a previously registered listener. Calling it more than
// once is a no-op.
type Unsubscribe func()

// LeakWarner is called when a single type's listener count exceeds
// MaxListeners. Defaults to a no-op; a callback is installed with OnLeak.
type LeakWarner func(eventType kernel.EventType, count int)

// Bus is a typed, synchronous pub/sub dispatcher. emit(event) returns only
// after every matching listener (type-specific, then onAny) has been
// invoked, and a panicking or erroring listener never reaches the emitter or
// other listeners.
type Bus struct {
	mu           sync.RWMutex
	byType       map[kernel.EventType][]subscription
	any          []subscription
	nextSubID    uint64
	sequence     uint64
	maxListeners int
	onLeak       LeakWarner
	onListenerErr func(eventType kernel.EventType, recovered any)
}

type subscription struct {
	id int64
	fn Listener
}

// New creates an empty Bus with the default max-listeners soft limit.
func New() *Bus {
	return &Bus{
		byType:       make(map[kernel.EventType][]subscription),
		maxListeners: DefaultMaxListeners,
	}
}

// SetMaxListeners overrides the soft per-type listener limit.
func (b *Bus) SetMaxListeners(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if n > 0 {
		b.maxListeners = n
	}
}

// OnLeak registers a callback invoked when a type's listener count exceeds
// the soft limit.
func (b *Bus) OnLeak(fn LeakWarner) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onLeak = fn
}

// OnListenerError registers a callback invoked when a listener panics.
// Listener panics are always recovered regardless of whether this is set.
func (b *Bus) OnListenerError(fn func(eventType kernel.EventType, recovered any)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onListenerErr = fn
}

// On registers a listener for a specific event type. Listener order within
// a type is registration order.
func (b *Bus) On(eventType kernel.EventType, fn Listener) Unsubscribe {
	b.mu.Lock()
	id := int64(atomic.AddUint64(&b.nextSubID, 1))
	b.byType[eventType] = append(b.byType[eventType], subscription{id: id, fn: fn})
	count := len(b.byType[eventType])
	leak := b.onLeak
	limit := b.maxListeners
	b.mu.Unlock()

	if leak != nil && count > limit {
		leak(eventType, count)
	}

	return func() { b.removeTyped(eventType, id) }
}

// OnAny registers a listener invoked for every event, after the type-specific
// listeners for that event have run.
func (b *Bus) OnAny(fn Listener) Unsubscribe {
	b.mu.Lock()
	id := int64(atomic.AddUint64(&b.nextSubID, 1))
	b.any = append(b.any, subscription{id: id, fn: fn})
	b.mu.Unlock()
	return func() { b.removeAny(id) }
}

func (b *Bus) removeTyped(eventType kernel.EventType, id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.byType[eventType]
	for i, s := range subs {
		if s.id == id {
			b.byType[eventType] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) removeAny(id int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, s := range b.any {
		if s.id == id {
			b.any = append(b.any[:i], b.any[i+1:]...)
			return
		}
	}
}

// Clear removes every listener from the bus.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.byType = make(map[kernel.EventType][]subscription)
	b.any = nil
}

// Emit stamps Time and a monotonic Sequence (if unset) and dispatches the
// event to type-specific listeners, then onAny listeners, synchronously.
func (b *Bus) Emit(e kernel.Event) kernel.Event {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Sequence == 0 {
		e.Sequence = atomic.AddUint64(&b.sequence, 1)
	}

	b.mu.RLock()
	typed := append([]subscription(nil), b.byType[e.Type]...)
	any := append([]subscription(nil), b.any...)
	onErr := b.onListenerErr
	b.mu.RUnlock()

	for _, s := range typed {
		invoke(s.fn, e, e.Type, onErr)
	}
	for _, s := range any {
		invoke(s.fn, e, e.Type, onErr)
	}
	return e
}

func invoke(fn Listener, e kernel.Event, eventType kernel.EventType, onErr func(kernel.EventType, any)) {
	defer func() {
		if r := recover(); r != nil {
			if onErr != nil {
				onErr(eventType, r)
			}
		}
	}()
	fn(e)
}

// NextSequence previews (without consuming) the next sequence number; used
// for diagnostics only.
func (b *Bus) NextSequence() uint64 {
	return atomic.LoadUint64(&b.sequence) + 1
}

// String renders a compact event summary, handy for logging.
func (b *Bus) String() string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return fmt.Sprintf("events.Bus{types=%d any=%d}", len(b.byType), len(b.any))
}
