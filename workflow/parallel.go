package workflow

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Aggregate selects how parallel branch outputs collapse into one.
type Aggregate string

const (
	// AggregateConcatenate joins branch outputs in branch order.
	AggregateConcatenate Aggregate = "concatenate"

	// AggregateVote picks the plurality output; ties break toward the
	// earliest branch.
	AggregateVote Aggregate = "vote"

	// AggregateFirst returns the first branch to succeed and cancels the
	// rest.
	AggregateFirst Aggregate = "first"

	// AggregateCustom delegates to the spec's Reduce function.
	AggregateCustom Aggregate = "custom"
)

// ParallelSpec fans the same input out to independent branches and
// aggregates their outputs. An optional synthesizer agent runs one final
// step over the aggregate.
type ParallelSpec struct {
	Branches  []Agent
	Input     string
	Aggregate Aggregate

	// Reduce is required for AggregateCustom and ignored otherwise. It
	// receives successful branch outputs in branch order.
	Reduce func(outputs []string) (string, error)

	Synthesizer *Agent
	Limits      Limits
}

type branchResult struct {
	index  int
	output string
	err    error
}

// Parallel starts a fan-out run. All branches are waited on before
// aggregation, except under AggregateFirst where the first success wins
// and the remaining branches are cancelled and abandoned. A branch
// failure never cancels its siblings; the run fails only when every
// branch fails.
func (e *Engine) Parallel(ctx context.Context, spec ParallelSpec) (*Run, error) {
	if len(spec.Branches) == 0 {
		return nil, fmt.Errorf("parallel workflow needs at least one branch")
	}
	if spec.Aggregate == AggregateCustom && spec.Reduce == nil {
		return nil, fmt.Errorf("custom aggregation needs a reduce function")
	}
	if spec.Aggregate == "" {
		spec.Aggregate = AggregateConcatenate
	}

	return e.start(ctx, PatternParallel, spec.Limits, func(ctx context.Context, r *Run) (string, error) {
		needed := len(spec.Branches)
		if spec.Synthesizer != nil {
			needed++
		}
		if needed > spec.Limits.maxSteps() {
			return "", fmt.Errorf("%w (max %d, need %d)", ErrStepLimitExceeded, spec.Limits.maxSteps(), needed)
		}

		branchCtx, cancelBranches := context.WithCancel(ctx)
		defer cancelBranches()

		settled := make(chan branchResult, len(spec.Branches))
		var wg sync.WaitGroup
		for i, agent := range spec.Branches {
			r.emit(StepEvent{StepIndex: i, AgentID: agent.ID, Status: StepRunning})
			wg.Add(1)
			go func() {
				defer wg.Done()
				step := e.invoke(branchCtx, r, i, agent, spec.Input, nil)
				r.recordStepAt(i, step)
				if step.Err != nil {
					r.emit(StepEvent{StepIndex: i, AgentID: agent.ID, Status: StepFailed})
					settled <- branchResult{index: i, err: step.Err}
					return
				}
				r.emit(StepEvent{StepIndex: i, AgentID: agent.ID, Status: StepCompleted, PartialOutput: step.Output})
				settled <- branchResult{index: i, output: step.Output}
			}()
		}

		var aggregated string
		var err error
		if spec.Aggregate == AggregateFirst {
			aggregated, err = firstSettled(ctx, settled, len(spec.Branches), cancelBranches)
			// Remaining branches are abandoned; drain in the background so
			// their goroutines can exit.
			go func() {
				wg.Wait()
				close(settled)
				for range settled {
				}
			}()
		} else {
			wg.Wait()
			close(settled)
			aggregated, err = e.aggregate(spec, settled)
		}
		if err != nil {
			return "", err
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}

		if spec.Limits.StopCondition != nil {
			for _, step := range r.Steps() {
				if step.Err == nil && spec.Limits.StopCondition(step) {
					return aggregated, nil
				}
			}
		}

		if spec.Synthesizer != nil {
			step, _, serr := e.runStep(ctx, r, *spec.Synthesizer, aggregated, nil)
			if serr != nil {
				return "", fmt.Errorf("synthesizer %s: %w", spec.Synthesizer.ID, serr)
			}
			return step.Output, nil
		}

		return aggregated, nil
	}), nil
}

// firstSettled waits for the first successful branch. Failed branches are
// skipped; if every branch fails the last error is returned.
func firstSettled(ctx context.Context, settled <-chan branchResult, total int, cancelRest context.CancelFunc) (string, error) {
	var lastErr error
	for i := 0; i < total; i++ {
		select {
		case res := <-settled:
			if res.err == nil {
				cancelRest()
				return res.output, nil
			}
			lastErr = res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return "", fmt.Errorf("all branches failed: %w", lastErr)
}

func (e *Engine) aggregate(spec ParallelSpec, settled <-chan branchResult) (string, error) {
	results := make([]branchResult, 0, len(spec.Branches))
	for res := range settled {
		results = append(results, res)
	}
	sort.Slice(results, func(i, j int) bool { return results[i].index < results[j].index })

	outputs := make([]string, 0, len(results))
	var lastErr error
	for _, res := range results {
		if res.err != nil {
			lastErr = res.err
			continue
		}
		outputs = append(outputs, res.output)
	}
	if len(outputs) == 0 {
		return "", fmt.Errorf("all branches failed: %w", lastErr)
	}

	switch spec.Aggregate {
	case AggregateConcatenate:
		return strings.Join(outputs, "\n\n"), nil
	case AggregateVote:
		return vote(outputs), nil
	case AggregateCustom:
		return spec.Reduce(outputs)
	default:
		return "", fmt.Errorf("unknown aggregation %q", spec.Aggregate)
	}
}

// vote returns the plurality output after whitespace trimming. The first
// output to reach the winning count wins ties, keeping the result
// deterministic under branch completion reordering.
func vote(outputs []string) string {
	counts := make(map[string]int, len(outputs))
	for _, out := range outputs {
		counts[strings.TrimSpace(out)]++
	}

	winner := ""
	best := 0
	for _, out := range outputs {
		key := strings.TrimSpace(out)
		if counts[key] > best {
			best = counts[key]
			winner = key
		}
	}
	return winner
}
