package events

import (
	"github.com/corewire/agentkernel/pkg/kernel"
)

// Sink is an alternate dispatch target for events, for callers that want
// channel- or callback-based delivery instead of registering Bus listeners
// directly (for example, bridging to a transport session).
type Sink interface {
	Emit(e kernel.Event)
}

// ChanSink forwards events to a channel, dropping them if the channel is
// full rather than blocking the emitter.
type ChanSink struct {
	ch chan<- kernel.Event
}

// NewChanSink wraps a channel as a Sink. The channel should be buffered.
func NewChanSink(ch chan<- kernel.Event) *ChanSink {
	return &ChanSink{ch: ch}
}

// Emit sends e to the channel, dropping it if the channel is full.
func (s *ChanSink) Emit(e kernel.Event) {
	select {
	case s.ch <- e:
	default:
	}
}

// MultiSink fans out to multiple sinks in order.
type MultiSink struct {
	sinks []Sink
}

// NewMultiSink builds a sink that dispatches to every non-nil sink given.
func NewMultiSink(sinks ...Sink) *MultiSink {
	filtered := make([]Sink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			filtered = append(filtered, s)
		}
	}
	return &MultiSink{sinks: filtered}
}

// Emit dispatches e to every wrapped sink.
func (s *MultiSink) Emit(e kernel.Event) {
	for _, sink := range s.sinks {
		sink.Emit(e)
	}
}

// CallbackSink adapts a plain function to the Sink interface.
type CallbackSink struct {
	fn func(kernel.Event)
}

// NewCallbackSink wraps fn as a Sink.
func NewCallbackSink(fn func(kernel.Event)) *CallbackSink {
	return &CallbackSink{fn: fn}
}

// Emit calls the wrapped function.
func (s *CallbackSink) Emit(e kernel.Event) {
	if s.fn != nil {
		s.fn(e)
	}
}

// BridgeToBus returns a listener suitable for Bus.OnAny that forwards every
// event to sink, letting a Sink participate as a Bus subscriber.
func BridgeToBus(sink Sink) Listener {
	return func(e kernel.Event) { sink.Emit(e) }
}
