package main

import (
	"context"
	"fmt"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatcore/tool"
)

// registerBuiltinTools installs the tools every deployment gets: a clock
// and a four-function calculator.
func registerBuiltinTools(registry *tool.Registry) error {
	clock := tool.Definition{
		Name:        "current_time",
		Description: "Returns the current date and time in RFC 3339 format.",
		InputSchema: mcptypes.ToolInputSchema{
			Type:       "object",
			Properties: map[string]any{},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			return time.Now().Format(time.RFC3339), nil
		},
	}

	calculator := tool.Definition{
		Name:        "calculator",
		Description: "Evaluates a basic arithmetic operation on two numbers.",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"operation": map[string]any{
					"type":        "string",
					"enum":        []any{"add", "subtract", "multiply", "divide"},
					"description": "The operation to perform.",
				},
				"a": map[string]any{"type": "number"},
				"b": map[string]any{"type": "number"},
			},
			Required: []string{"operation", "a", "b"},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			op, _ := args["operation"].(string)
			a, _ := args["a"].(float64)
			b, _ := args["b"].(float64)

			var result float64
			switch op {
			case "add":
				result = a + b
			case "subtract":
				result = a - b
			case "multiply":
				result = a * b
			case "divide":
				if b == 0 {
					return "", fmt.Errorf("division by zero")
				}
				result = a / b
			default:
				return "", fmt.Errorf("unknown operation %q", op)
			}
			return fmt.Sprintf("%g", result), nil
		},
	}

	for _, def := range []tool.Definition{clock, calculator} {
		if err := registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}
