package workflow

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// EvaluatorSpec alternates a generator and an evaluator until the
// evaluator's score reaches the threshold or the iteration budget runs
// out. Scores need not improve monotonically; the loop always terminates
// at MaxIterations.
type EvaluatorSpec struct {
	Generator Agent
	Evaluator Agent

	Input string

	// Threshold completes the run when a score meets or exceeds it.
	Threshold float64

	// MaxIterations bounds generate-evaluate pairs. Zero means
	// DefaultMaxIterations.
	MaxIterations int

	// ParseScore extracts a score from the evaluator's output. Nil uses
	// the first decimal number found in the text.
	ParseScore func(output string) (float64, error)

	Limits Limits
}

// DefaultMaxIterations bounds refinement loops whose spec leaves
// MaxIterations unset.
const DefaultMaxIterations = 5

// Evaluator starts a refinement run. The final output is the last
// candidate generated, whether or not it met the threshold; reaching
// MaxIterations without meeting it is still a completed run.
func (e *Engine) Evaluator(ctx context.Context, spec EvaluatorSpec) (*Run, error) {
	if spec.Generator.ID == spec.Evaluator.ID && spec.Generator.ID != "" {
		return nil, fmt.Errorf("generator and evaluator need distinct agent ids")
	}
	maxIterations := spec.MaxIterations
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	parse := spec.ParseScore
	if parse == nil {
		parse = parseScore
	}

	return e.start(ctx, PatternEvaluator, spec.Limits, func(ctx context.Context, r *Run) (string, error) {
		input := spec.Input
		candidate := ""

		for i := 0; i < maxIterations; i++ {
			if err := checkBudget(r, spec.Limits); err != nil {
				return "", err
			}
			generated, _, err := e.runStep(ctx, r, spec.Generator, input, nil)
			if err != nil {
				return "", fmt.Errorf("generator %s: %w", spec.Generator.ID, err)
			}
			candidate = generated.Output

			if spec.Limits.StopCondition != nil && spec.Limits.StopCondition(generated) {
				return candidate, nil
			}

			if err := checkBudget(r, spec.Limits); err != nil {
				return "", err
			}
			evaluated, _, err := e.runStep(ctx, r, spec.Evaluator, candidate, nil)
			if err != nil {
				return "", fmt.Errorf("evaluator %s: %w", spec.Evaluator.ID, err)
			}

			score, err := parse(evaluated.Output)
			if err != nil {
				return "", fmt.Errorf("evaluator %s score: %w", spec.Evaluator.ID, err)
			}
			if score >= spec.Threshold {
				return candidate, nil
			}

			// Feed the candidate and the critique back for the next round.
			input = fmt.Sprintf("%s\n\nPrevious attempt:\n%s\n\nFeedback:\n%s",
				spec.Input, candidate, evaluated.Output)
		}

		return candidate, nil
	}), nil
}

var scorePattern = regexp.MustCompile(`-?\d+(?:\.\d+)?`)

// parseScore pulls the first decimal number out of free-form evaluator
// text.
func parseScore(output string) (float64, error) {
	match := scorePattern.FindString(output)
	if match == "" {
		return 0, fmt.Errorf("no score found in %q", strings.TrimSpace(output))
	}
	return strconv.ParseFloat(match, 64)
}
