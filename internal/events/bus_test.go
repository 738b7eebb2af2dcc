package events

import (
	"sync"
	"testing"

	"github.com/corewire/agentkernel/pkg/kernel"
)

func TestBusOrderingWithinType(t *testing.T) {
	b := New()
	var mu sync.Mutex
	var order []int

	for i := 0; i < 5; i++ {
		i := i
		b.On(kernel.EventExecutionStarted, func(kernel.Event) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}

	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})

	if len(order) != 5 {
		t.Fatalf("expected 5 invocations, got %d", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("expected registration order, got %v", order)
		}
	}
}

func TestBusOnAnyFiresAfterTyped(t *testing.T) {
	b := New()
	var calls []string

	b.On(kernel.EventExecutionStarted, func(kernel.Event) {
		calls = append(calls, "typed")
	})
	b.OnAny(func(kernel.Event) {
		calls = append(calls, "any")
	})

	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})

	if len(calls) != 2 || calls[0] != "typed" || calls[1] != "any" {
		t.Fatalf("expected [typed any], got %v", calls)
	}
}

func TestBusListenerPanicIsolated(t *testing.T) {
	b := New()
	var secondCalled bool

	b.On(kernel.EventExecutionStarted, func(kernel.Event) {
		panic("boom")
	})
	b.On(kernel.EventExecutionStarted, func(kernel.Event) {
		secondCalled = true
	})

	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})

	if !secondCalled {
		t.Fatal("expected second listener to run despite first panicking")
	}
}

func TestBusUnsubscribe(t *testing.T) {
	b := New()
	var calls int
	unsub := b.On(kernel.EventExecutionStarted, func(kernel.Event) { calls++ })

	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})
	unsub()
	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})

	if calls != 1 {
		t.Fatalf("expected 1 call after unsubscribe, got %d", calls)
	}
}

func TestBusMaxListenersWarning(t *testing.T) {
	b := New()
	b.SetMaxListeners(2)
	var warnedAt int
	b.OnLeak(func(_ kernel.EventType, count int) { warnedAt = count })

	for i := 0; i < 3; i++ {
		b.On(kernel.EventExecutionStarted, func(kernel.Event) {})
	}

	if warnedAt != 3 {
		t.Fatalf("expected leak warning fired at count 3, got %d", warnedAt)
	}
}

func TestBusSequenceIsMonotonic(t *testing.T) {
	b := New()
	var seqs []uint64
	b.On(kernel.EventExecutionStarted, func(e kernel.Event) {
		seqs = append(seqs, e.Sequence)
	})

	for i := 0; i < 3; i++ {
		b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})
	}

	for i := 1; i < len(seqs); i++ {
		if seqs[i] <= seqs[i-1] {
			t.Fatalf("expected strictly increasing sequence, got %v", seqs)
		}
	}
}

func TestClearRemovesAllListeners(t *testing.T) {
	b := New()
	var calls int
	b.On(kernel.EventExecutionStarted, func(kernel.Event) { calls++ })
	b.OnAny(func(kernel.Event) { calls++ })

	b.Clear()
	b.Emit(kernel.Event{Type: kernel.EventExecutionStarted})

	if calls != 0 {
		t.Fatalf("expected no calls after Clear, got %d", calls)
	}
}
