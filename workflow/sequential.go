package workflow

import (
	"context"
	"fmt"
)

// SequentialSpec is an ordered pipeline: each agent's output, optionally
// transformed, becomes the next agent's input.
type SequentialSpec struct {
	Agents []Agent
	Input  string
	Limits Limits
}

// Sequential starts a pipeline run. The first failed step halts the
// pipeline; completed steps stay recorded on the run.
func (e *Engine) Sequential(ctx context.Context, spec SequentialSpec) (*Run, error) {
	if len(spec.Agents) == 0 {
		return nil, fmt.Errorf("sequential workflow needs at least one agent")
	}

	return e.start(ctx, PatternSequential, spec.Limits, func(ctx context.Context, r *Run) (string, error) {
		input := spec.Input
		output := ""

		for _, agent := range spec.Agents {
			if err := checkBudget(r, spec.Limits); err != nil {
				return "", err
			}

			step, _, err := e.runStep(ctx, r, agent, input, nil)
			if err != nil {
				return "", fmt.Errorf("agent %s: %w", agent.ID, err)
			}

			output = step.Output
			if spec.Limits.StopCondition != nil && spec.Limits.StopCondition(step) {
				return output, nil
			}

			input = step.Output
			if agent.Transform != nil {
				input = agent.Transform(step.Output)
			}
		}

		return output, nil
	}), nil
}
