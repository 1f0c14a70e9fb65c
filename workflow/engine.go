package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatcore/config"
	"chatcore/model"
	"chatcore/retry"
	"chatcore/tool"
)

// Agent binds a model descriptor to a role inside a workflow. Agents are
// cheap value types; the same descriptor can back many agents with
// different prompts.
type Agent struct {
	ID           string
	Descriptor   model.ModelDescriptor
	SystemPrompt string

	// UseTools advertises the engine's registry to this agent. Ignored
	// when the descriptor lacks tool-calling capability.
	UseTools bool

	// Transform rewrites the agent's output before it feeds the next
	// step. Only sequential pipelines consult it.
	Transform func(output string) string
}

// Engine executes orchestration patterns over a gateway. One engine is
// shared by all runs; per-run state lives on the Run handle.
type Engine struct {
	gateway  model.Gateway
	registry *tool.Registry
	executor *tool.Executor
	policy   retry.Policy

	// maxToolRounds bounds the execute-and-resubmit loop inside one step
	// so a model that keeps requesting tools cannot spin forever.
	maxToolRounds int
}

const defaultMaxToolRounds = 8

// NewEngine creates an engine. registry and executor may be nil for
// tool-less deployments.
func NewEngine(gw model.Gateway, registry *tool.Registry, executor *tool.Executor, policy retry.Policy) *Engine {
	return &Engine{
		gateway:       gw,
		registry:      registry,
		executor:      executor,
		policy:        policy,
		maxToolRounds: defaultMaxToolRounds,
	}
}

// start spawns the run goroutine shared by every pattern. fn does the
// pattern-specific work and returns the final output; start maps its
// error into the terminal status.
func (e *Engine) start(ctx context.Context, pattern Pattern, limits Limits, fn func(ctx context.Context, r *Run) (string, error)) *Run {
	var runCtx context.Context
	var cancel context.CancelFunc
	if limits.Timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, limits.Timeout)
	} else {
		runCtx, cancel = context.WithCancel(ctx)
	}

	r := newRun(pattern, cancel)

	go func() {
		defer cancel()
		output, err := fn(runCtx, r)

		switch {
		case err == nil:
			r.finish(RunCompleted, output, nil)
		case r.cancelled.Load():
			r.finish(RunCancelled, "", context.Canceled)
		case errors.Is(err, context.DeadlineExceeded):
			r.finish(RunFailed, "", fmt.Errorf("%w: %v", ErrWorkflowTimeout, err))
		default:
			r.finish(RunFailed, "", err)
		}
	}()

	return r
}

// checkBudget enforces the step limit before another step starts.
func checkBudget(r *Run, limits Limits) error {
	if r.stepCount() >= limits.maxSteps() {
		return fmt.Errorf("%w (max %d)", ErrStepLimitExceeded, limits.maxSteps())
	}
	return nil
}

// callResult is one gateway round inside a step.
type callResult struct {
	text       string
	toolCalls  []model.ToolCall
	tokensUsed int
}

// runStep performs one agent invocation: the gateway call wrapped in the
// retry policy, plus the tool execution loop when the model requests
// calls. The step is recorded on the run and reported through progress
// events. onToken, when set, receives every content token (chat mode
// uses it to stream into the store).
func (e *Engine) runStep(ctx context.Context, r *Run, agent Agent, input string, onToken func(string)) (Step, int, error) {
	stepIndex := r.recordStep(Step{AgentID: agent.ID, Input: input})
	r.emit(StepEvent{StepIndex: stepIndex, AgentID: agent.ID, Status: StepRunning})

	step := e.invoke(ctx, r, stepIndex, agent, input, onToken)
	r.recordStepAt(stepIndex, step)

	if step.Err != nil {
		r.emit(StepEvent{StepIndex: stepIndex, AgentID: agent.ID, Status: StepFailed})
		return step, stepIndex, step.Err
	}
	r.emit(StepEvent{StepIndex: stepIndex, AgentID: agent.ID, Status: StepCompleted, PartialOutput: step.Output})
	return step, stepIndex, nil
}

func (e *Engine) invoke(ctx context.Context, r *Run, stepIndex int, agent Agent, input string, onToken func(string)) Step {
	var messages []model.Message
	if agent.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: agent.SystemPrompt})
	}
	messages = append(messages, model.Message{Role: model.RoleUser, Content: input})

	step := e.invokeMessages(ctx, r, stepIndex, agent, messages, onToken, nil, nil)
	step.Input = input
	return step
}

// invokeMessages runs the gateway-and-tools loop over an explicit message
// history. onToolCalls, when set, observes each round's requested calls
// before they execute; onToolResults observes the settled batch afterward.
func (e *Engine) invokeMessages(ctx context.Context, r *Run, stepIndex int, agent Agent, messages []model.Message, onToken func(string), onToolCalls func([]model.ToolCall), onToolResults func([]model.ToolResult)) Step {
	start := time.Now()
	step := Step{AgentID: agent.ID}

	var tools []mcptypes.Tool
	if agent.UseTools && e.registry != nil && agent.Descriptor.Capabilities.ToolCalling {
		tools = e.registry.MCPTools()
	}

	var output strings.Builder
	totalTokens := 0

	for round := 0; ; round++ {
		result, err := retry.Do(ctx, e.policy, func(ctx context.Context) (callResult, error) {
			return e.consume(ctx, r, stepIndex, agent, messages, tools, onToken)
		})
		if err != nil {
			step.Err = err
			step.Duration = time.Since(start)
			step.TokensUsed = totalTokens
			return step
		}

		output.WriteString(result.text)
		totalTokens += result.tokensUsed

		if len(result.toolCalls) == 0 || e.executor == nil {
			break
		}
		if onToolCalls != nil {
			onToolCalls(result.toolCalls)
		}
		if round >= e.maxToolRounds {
			config.DebugLog("workflow: step %d hit tool round limit (%d)", stepIndex, e.maxToolRounds)
			break
		}

		messages = append(messages, model.Message{
			Role:      model.RoleAssistant,
			Content:   result.text,
			ToolCalls: result.toolCalls,
		})

		results := e.executor.ExecuteBatch(ctx, result.toolCalls, tool.ModeParallel)
		if onToolResults != nil {
			onToolResults(results)
		}
		for _, res := range results {
			messages = append(messages, model.Message{
				Role:    model.RoleTool,
				Content: formatToolResult(res),
			})
		}
		if ctx.Err() != nil {
			step.Err = ctx.Err()
			step.Duration = time.Since(start)
			step.TokensUsed = totalTokens
			return step
		}
	}

	step.Output = output.String()
	step.TokensUsed = totalTokens
	step.Duration = time.Since(start)
	return step
}

// consume drives one gateway stream to its terminal event. It is the unit
// the retry policy wraps: a stream that fails mid-way is replayed from
// scratch on the next attempt.
func (e *Engine) consume(ctx context.Context, r *Run, stepIndex int, agent Agent, messages []model.Message, tools []mcptypes.Tool, onToken func(string)) (callResult, error) {
	var result callResult

	stream, err := e.gateway.Call(ctx, agent.Descriptor, messages, tools)
	if err != nil {
		return result, err
	}

	for {
		select {
		case ev, ok := <-stream.Events():
			if !ok {
				return result, nil
			}
			switch ev.Kind {
			case model.EventToken:
				result.text += ev.Token
				if onToken != nil {
					onToken(ev.Token)
				}
				r.emit(StepEvent{StepIndex: stepIndex, AgentID: agent.ID, Status: StepRunning, PartialOutput: ev.Token})
			case model.EventToolCallEnd:
				if ev.ToolCall != nil {
					result.toolCalls = append(result.toolCalls, *ev.ToolCall)
				}
			case model.EventFinish:
				result.tokensUsed = ev.TokensUsed
			case model.EventError:
				return callResult{}, ev.Err
			}
		case <-ctx.Done():
			stream.Cancel()
			for range stream.Events() {
			}
			return callResult{}, ctx.Err()
		}
	}
}

// formatToolResult renders a tool outcome as message content for the
// resubmission round. Failures become structured text the model can
// recover from instead of aborting the step.
func formatToolResult(res model.ToolResult) string {
	if res.Failed() {
		return fmt.Sprintf("tool %s failed (%s): %v", res.Name, res.ErrorKind, res.Err)
	}
	return fmt.Sprintf("tool %s returned: %s", res.Name, res.Output)
}
