package workflow

import (
	"context"
	"fmt"
	"strings"
)

// RoutingSpec classifies the input with one agent, then dispatches to the
// handler registered under the classifier's label.
type RoutingSpec struct {
	Classifier Agent
	Handlers   map[string]Agent

	// Fallback handles inputs whose label matches no handler. Without a
	// fallback an unmatched label fails the run.
	Fallback *Agent

	Input  string
	Limits Limits
}

// Routing starts a classify-and-dispatch run: exactly one classifier step
// followed by exactly one handler step.
func (e *Engine) Routing(ctx context.Context, spec RoutingSpec) (*Run, error) {
	if len(spec.Handlers) == 0 && spec.Fallback == nil {
		return nil, fmt.Errorf("routing workflow needs handlers or a fallback")
	}

	return e.start(ctx, PatternRouting, spec.Limits, func(ctx context.Context, r *Run) (string, error) {
		if err := checkBudget(r, spec.Limits); err != nil {
			return "", err
		}

		classified, _, err := e.runStep(ctx, r, spec.Classifier, spec.Input, nil)
		if err != nil {
			return "", fmt.Errorf("classifier %s: %w", spec.Classifier.ID, err)
		}

		handler, ok := matchHandler(spec.Handlers, classified.Output)
		if !ok {
			if spec.Fallback == nil {
				return "", fmt.Errorf("%w: label %q", ErrHandlerNotFound, strings.TrimSpace(classified.Output))
			}
			handler = *spec.Fallback
		}

		if err := checkBudget(r, spec.Limits); err != nil {
			return "", err
		}

		step, _, err := e.runStep(ctx, r, handler, spec.Input, nil)
		if err != nil {
			return "", fmt.Errorf("handler %s: %w", handler.ID, err)
		}
		return step.Output, nil
	}), nil
}

// matchHandler resolves a classifier label against the handler table.
// Labels are matched after trimming, then case-insensitively, since
// models decorate labels with whitespace and casing of their own.
func matchHandler(handlers map[string]Agent, label string) (Agent, bool) {
	trimmed := strings.TrimSpace(label)
	if agent, ok := handlers[trimmed]; ok {
		return agent, true
	}
	lower := strings.ToLower(trimmed)
	for key, agent := range handlers {
		if strings.ToLower(key) == lower {
			return agent, true
		}
	}
	return Agent{}, false
}
