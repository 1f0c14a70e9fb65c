// Package workflow composes the gateway, tool executor and store into
// multi-step orchestration patterns: sequential pipelines, parallel
// fan-out with aggregation, classifier routing with a fallback, and the
// evaluator-optimizer refinement loop. Single-turn chat is the degenerate
// one-step sequential case.
//
// Every run is bounded: a hard step limit, a wall-clock budget and an
// optional stop condition apply to all patterns, so no pattern can loop
// forever. Runs execute in their own goroutine; the returned Run handle
// carries the cancellation signal and the progress event sequence.
package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Pattern names an orchestration shape.
type Pattern string

const (
	PatternSequential Pattern = "sequential"
	PatternParallel   Pattern = "parallel"
	PatternRouting    Pattern = "routing"
	PatternEvaluator  Pattern = "evaluator-optimizer"
)

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// Terminal errors for runs that exhaust their bounds or configuration.
var (
	ErrStepLimitExceeded = errors.New("workflow step limit exceeded")
	ErrWorkflowTimeout   = errors.New("workflow timed out")
	ErrHandlerNotFound   = errors.New("no handler matched and no fallback configured")
)

// Step records one bounded unit of work: one model invocation plus any
// tool calls it triggered. Failed steps keep their error; completed steps
// that preceded a failure are preserved on the run.
type Step struct {
	AgentID    string
	Input      string
	Output     string
	TokensUsed int
	Duration   time.Duration
	Err        error
}

// StepStatus is the state reported in progress events.
type StepStatus string

const (
	StepRunning   StepStatus = "running"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
)

// StepEvent is one entry in a run's progress sequence.
type StepEvent struct {
	StepIndex     int
	AgentID       string
	Status        StepStatus
	PartialOutput string
}

// Limits bounds a run. Zero MaxSteps falls back to DefaultMaxSteps; zero
// Timeout means no wall-clock budget. StopCondition, when set, ends the
// run successfully after the first step it accepts.
type Limits struct {
	MaxSteps      int
	Timeout       time.Duration
	StopCondition func(Step) bool
}

// DefaultMaxSteps bounds runs whose limits leave MaxSteps unset.
const DefaultMaxSteps = 32

func (l Limits) maxSteps() int {
	if l.MaxSteps <= 0 {
		return DefaultMaxSteps
	}
	return l.MaxSteps
}

// Run is the handle for one orchestration invocation. Snapshot accessors
// are safe from any goroutine while the run executes.
type Run struct {
	ID        string
	Pattern   Pattern
	StartedAt time.Time

	mu      sync.Mutex
	steps   []Step
	status  RunStatus
	output  string
	err     error
	endedAt time.Time

	cancelled atomic.Bool
	cancel    context.CancelFunc
	events    chan StepEvent
	done      chan struct{}
}

func newRun(pattern Pattern, cancel context.CancelFunc) *Run {
	return &Run{
		ID:        uuid.New().String(),
		Pattern:   pattern,
		StartedAt: time.Now(),
		status:    RunRunning,
		cancel:    cancel,
		events:    make(chan StepEvent, 256),
		done:      make(chan struct{}),
	}
}

// Cancel aborts the run: the in-flight gateway stream is cancelled and
// pending parallel branches are abandoned. A cancelled run terminates as
// RunCancelled, not RunFailed.
func (r *Run) Cancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Events returns the run's progress sequence: lazy, finite, and
// non-restartable. The channel closes when the run reaches a terminal
// state. Events are dropped rather than blocking the run when the
// consumer falls behind; the close and the terminal status reported by
// Wait are always observable.
func (r *Run) Events() <-chan StepEvent {
	return r.events
}

// Done is closed once the run is terminal.
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Wait blocks until the run terminates or ctx expires, returning the
// run's error.
func (r *Run) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status returns the current lifecycle state.
func (r *Run) Status() RunStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}

// Steps returns a copy of the recorded steps, completed work included even
// after failure.
func (r *Run) Steps() []Step {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Step, len(r.steps))
	copy(out, r.steps)
	return out
}

// Output returns the run's final output. Empty until terminal.
func (r *Run) Output() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.output
}

// Err returns the terminal error: nil for completed runs,
// context.Canceled for cancelled runs.
func (r *Run) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// EndedAt returns when the run terminated (zero while running).
func (r *Run) EndedAt() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endedAt
}

func (r *Run) recordStep(step Step) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	return len(r.steps) - 1
}

func (r *Run) recordStepAt(index int, step Step) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for len(r.steps) <= index {
		r.steps = append(r.steps, Step{})
	}
	r.steps[index] = step
}

func (r *Run) stepCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.steps)
}

// emit delivers a progress event without ever blocking the run. Events
// raised by abandoned branches after the run is terminal are dropped; the
// status check and the send share the mutex with finish so the channel
// never receives after close.
func (r *Run) emit(ev StepEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != RunRunning {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

// finish records the terminal state and closes the event sequence. Only
// the first call takes effect.
func (r *Run) finish(status RunStatus, output string, err error) {
	r.mu.Lock()
	if r.status != RunRunning {
		r.mu.Unlock()
		return
	}
	r.status = status
	r.output = output
	r.err = err
	r.endedAt = time.Now()
	r.mu.Unlock()

	close(r.events)
	close(r.done)
}
