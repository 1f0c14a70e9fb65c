package model

import (
	"context"
	"sync"
)

// EventKind discriminates stream events.
type EventKind string

const (
	EventToken         EventKind = "token"
	EventToolCallStart EventKind = "tool_call_start"
	EventToolCallDelta EventKind = "tool_call_delta"
	EventToolCallEnd   EventKind = "tool_call_end"
	EventFinish        EventKind = "finish"
	EventError         EventKind = "error"
)

// StreamEvent is one normalized event from a gateway call. Adapters translate
// provider-specific wire events into this shape so callers never see SDK types.
type StreamEvent struct {
	Kind EventKind

	// Token carries a content delta for EventToken.
	Token string

	// CallID and Delta carry tool-call argument fragments for
	// EventToolCallStart/EventToolCallDelta.
	CallID string
	Delta  string

	// ToolCall is the fully assembled call, set only on EventToolCallEnd.
	// Argument deltas are concatenated by the adapter; callers always
	// receive complete JSON.
	ToolCall *ToolCall

	// TokensUsed is the total token count reported by the provider,
	// set only on EventFinish.
	TokensUsed int

	// Err is set only on EventError.
	Err error
}

// Terminal reports whether the event closes the stream.
func (e StreamEvent) Terminal() bool {
	return e.Kind == EventFinish || e.Kind == EventError
}

// Stream is a cancellable handle over one in-flight gateway call.
//
// The producing adapter emits events in generation order and exactly one
// terminal event (finish or error), after which the channel is closed.
// Cancel aborts the underlying call; the producer then terminates the
// stream with an error event carrying the context error.
type Stream struct {
	ch     chan StreamEvent
	cancel context.CancelFunc

	mu   sync.Mutex
	done bool
}

// NewStream creates a stream whose Cancel invokes the given CancelFunc.
// Adapters create one per call and hand it to the caller before producing.
func NewStream(cancel context.CancelFunc) *Stream {
	return &Stream{
		ch:     make(chan StreamEvent, 64),
		cancel: cancel,
	}
}

// Events returns the receive side of the stream.
func (s *Stream) Events() <-chan StreamEvent {
	return s.ch
}

// Cancel aborts the underlying call. Safe to call multiple times and after
// the stream has terminated.
func (s *Stream) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Emit sends a non-terminal event. Events arriving after the terminal event
// are dropped rather than panicking on a closed channel. The send happens
// under the mutex shared with terminate, so a racing producer can never
// send after the channel has closed.
func (s *Stream) Emit(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.ch <- ev
}

// Finish terminates the stream successfully. Only the first terminal call
// takes effect.
func (s *Stream) Finish(tokensUsed int) {
	s.terminate(StreamEvent{Kind: EventFinish, TokensUsed: tokensUsed})
}

// Fail terminates the stream with an error. Only the first terminal call
// takes effect.
func (s *Stream) Fail(err error) {
	s.terminate(StreamEvent{Kind: EventError, Err: err})
}

func (s *Stream) terminate(ev StreamEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	s.done = true
	s.ch <- ev
	close(s.ch)
}
