package tool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatcore/model"
)

func freeformSchema() mcptypes.ToolInputSchema {
	return mcptypes.ToolInputSchema{Type: "object", Properties: map[string]any{}}
}

func TestExecuteBatchParallel(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:        "upper",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "UP", nil
		},
	})
	mustRegister(t, r, Definition{
		Name:        "fail",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("boom")
		},
	})

	e := NewExecutor(r, 0)
	calls := []model.ToolCall{
		{ID: "1", Name: "upper", Arguments: map[string]any{}},
		{ID: "2", Name: "fail", Arguments: map[string]any{}},
		{ID: "3", Name: "upper", Arguments: map[string]any{}},
	}

	results := e.ExecuteBatch(context.Background(), calls, ModeParallel)
	if len(results) != 3 {
		t.Fatalf("results: got %d, want 3", len(results))
	}

	// Results come back in call order regardless of completion order.
	for i, res := range results {
		if res.CallID != calls[i].ID {
			t.Errorf("result %d call id: got %q, want %q", i, res.CallID, calls[i].ID)
		}
	}

	if results[0].Failed() || results[2].Failed() {
		t.Error("successful calls reported as failed")
	}
	if results[1].ErrorKind != model.ToolExecutionError {
		t.Errorf("failed call kind: got %q, want %q", results[1].ErrorKind, model.ToolExecutionError)
	}
}

func TestExecuteBatchFailureDoesNotCancelSiblings(t *testing.T) {
	r := NewRegistry()
	var slowRan atomic.Bool
	mustRegister(t, r, Definition{
		Name:        "fast_fail",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("instant failure")
		},
	})
	mustRegister(t, r, Definition{
		Name:        "slow_ok",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-time.After(20 * time.Millisecond):
				slowRan.Store(true)
				return "done", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})

	e := NewExecutor(r, 0)
	results := e.ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "fast_fail", Arguments: map[string]any{}},
		{ID: "2", Name: "slow_ok", Arguments: map[string]any{}},
	}, ModeParallel)

	if !slowRan.Load() {
		t.Error("sibling was cancelled by an isolated failure")
	}
	if results[1].Failed() {
		t.Errorf("sibling result failed: %v", results[1].Err)
	}
	if results[1].Output != "done" {
		t.Errorf("sibling output: got %q, want %q", results[1].Output, "done")
	}
}

func TestExecuteBatchSequentialHaltsOnError(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:         "critical",
		InputSchema:  freeformSchema(),
		HaltsOnError: true,
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("critical failure")
		},
	})
	mustRegister(t, r, Definition{
		Name:        "after",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "ran", nil
		},
	})

	results := NewExecutor(r, 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "after", Arguments: map[string]any{}},
		{ID: "2", Name: "critical", Arguments: map[string]any{}},
		{ID: "3", Name: "after2", Arguments: map[string]any{}},
	}, ModeSequential)

	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2 (halted after critical)", len(results))
	}
	if !results[1].Failed() {
		t.Error("critical call should have failed")
	}
}

func TestExecuteBatchSequentialContinuesPastNonCriticalFailure(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:        "soft_fail",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "", errors.New("soft failure")
		},
	})
	mustRegister(t, r, Definition{
		Name:        "ok",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "fine", nil
		},
	})

	results := NewExecutor(r, 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "soft_fail", Arguments: map[string]any{}},
		{ID: "2", Name: "ok", Arguments: map[string]any{}},
	}, ModeSequential)

	if len(results) != 2 {
		t.Fatalf("results: got %d, want 2", len(results))
	}
	if results[1].Output != "fine" {
		t.Errorf("second result: got %q, want %q", results[1].Output, "fine")
	}
}

func TestRunValidationFailure(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name: "typed",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"count": map[string]any{"type": "integer"},
			},
			Required: []string{"count"},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "never", nil
		},
	})

	results := NewExecutor(r, 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "typed", Arguments: map[string]any{"count": "not a number"}},
	}, ModeParallel)

	if results[0].ErrorKind != model.ToolInvalidInput {
		t.Errorf("kind: got %q, want %q", results[0].ErrorKind, model.ToolInvalidInput)
	}
	if results[0].Output != "" {
		t.Errorf("output should be empty, got %q", results[0].Output)
	}
}

func TestRunUnknownTool(t *testing.T) {
	results := NewExecutor(NewRegistry(), 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "ghost", Arguments: map[string]any{}},
	}, ModeParallel)

	if results[0].ErrorKind != model.ToolInvalidInput {
		t.Errorf("kind: got %q, want %q", results[0].ErrorKind, model.ToolInvalidInput)
	}
}

func TestRunTimeout(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:        "sleepy",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			select {
			case <-time.After(5 * time.Second):
				return "too late", nil
			case <-ctx.Done():
				return "", ctx.Err()
			}
		},
	})

	results := NewExecutor(r, 10*time.Millisecond).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "sleepy", Arguments: map[string]any{}},
	}, ModeParallel)

	if results[0].ErrorKind != model.ToolTimeout {
		t.Errorf("kind: got %q, want %q", results[0].ErrorKind, model.ToolTimeout)
	}
}

func TestRunPanicIsolation(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:        "panicky",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			panic("tool went sideways")
		},
	})
	mustRegister(t, r, Definition{
		Name:        "steady",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return "still here", nil
		},
	})

	results := NewExecutor(r, 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "panicky", Arguments: map[string]any{}},
		{ID: "2", Name: "steady", Arguments: map[string]any{}},
	}, ModeParallel)

	if results[0].ErrorKind != model.ToolExecutionError {
		t.Errorf("panic kind: got %q, want %q", results[0].ErrorKind, model.ToolExecutionError)
	}
	if results[1].Output != "still here" {
		t.Errorf("sibling output: got %q, want %q", results[1].Output, "still here")
	}
}

func mustRegister(t *testing.T, r *Registry, def Definition) {
	t.Helper()
	if err := r.Register(def); err != nil {
		t.Fatalf("register %s: %v", def.Name, err)
	}
}

func TestExecuteBatchEmpty(t *testing.T) {
	if results := NewExecutor(NewRegistry(), 0).ExecuteBatch(context.Background(), nil, ModeParallel); results != nil {
		t.Errorf("empty batch: got %v, want nil", results)
	}
}

func TestResultDurationRecorded(t *testing.T) {
	r := NewRegistry()
	mustRegister(t, r, Definition{
		Name:        "timed",
		InputSchema: freeformSchema(),
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			time.Sleep(5 * time.Millisecond)
			return "ok", nil
		},
	})

	results := NewExecutor(r, 0).ExecuteBatch(context.Background(), []model.ToolCall{
		{ID: "1", Name: "timed", Arguments: map[string]any{}},
	}, ModeParallel)

	if results[0].Duration <= 0 {
		t.Errorf("duration not recorded: %v", results[0].Duration)
	}
}
