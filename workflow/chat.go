package workflow

import (
	"context"
	"errors"
	"fmt"

	"chatcore/gateway"
	"chatcore/model"
	"chatcore/store"
)

// ChatSpec is one conversational turn against a stored conversation: the
// user text is appended, an assistant message streams in token by token,
// and tool calls requested mid-generation are executed and resubmitted.
type ChatSpec struct {
	ConversationID string
	Input          string
	SystemPrompt   string
	UseTools       bool
	Limits         Limits
}

// Chat starts a single-turn run that drives st through the streaming
// message lifecycle. The assistant message is created pending, flips to
// streaming on the first token, and is finalized or failed with a
// user-facing summary when the turn ends. The run's output is the final
// assistant text.
func (e *Engine) Chat(ctx context.Context, st *store.Store, spec ChatSpec) (*Run, error) {
	conv, ok := st.Conversation(spec.ConversationID)
	if !ok {
		return nil, fmt.Errorf("conversation %s not found", spec.ConversationID)
	}
	if _, streaming := st.StreamingMessage(spec.ConversationID); streaming {
		return nil, store.ErrConcurrentStream
	}

	if _, err := st.AddMessage(spec.ConversationID, model.RoleUser, spec.Input); err != nil {
		return nil, err
	}
	assistant, err := st.AddMessage(spec.ConversationID, model.RoleAssistant, "")
	if err != nil {
		return nil, err
	}

	agent := Agent{
		ID:           "chat",
		Descriptor:   conv.Model,
		SystemPrompt: spec.SystemPrompt,
		UseTools:     spec.UseTools,
	}

	run := e.start(ctx, PatternSequential, spec.Limits, func(ctx context.Context, r *Run) (string, error) {
		step := e.chatStep(ctx, r, st, agent, assistant.ID, spec)
		r.recordStepAt(0, step)

		if step.Err != nil {
			_ = st.FailMessage(assistant.ID, userFacingSummary(step.Err))
			r.emit(StepEvent{AgentID: agent.ID, Status: StepFailed})
			return "", step.Err
		}
		// A retried stream replays its tokens, so the streamed content can
		// hold duplicates; the step output is authoritative.
		_ = st.UpdateMessage(assistant.ID, step.Output)
		if err := st.Finalize(assistant.ID); err != nil {
			return "", err
		}
		r.emit(StepEvent{AgentID: agent.ID, Status: StepCompleted, PartialOutput: step.Output})
		return step.Output, nil
	})
	return run, nil
}

// chatStep is the chat variant of invoke: history comes from the store
// rather than a synthetic prompt, tokens stream into the assistant
// message, and tool calls are recorded on it.
func (e *Engine) chatStep(ctx context.Context, r *Run, st *store.Store, agent Agent, assistantID string, spec ChatSpec) Step {
	history := st.Messages(spec.ConversationID)
	messages := make([]model.Message, 0, len(history)+1)
	if agent.SystemPrompt != "" {
		messages = append(messages, model.Message{Role: model.RoleSystem, Content: agent.SystemPrompt})
	}
	for _, msg := range history {
		if msg.ID == assistantID {
			continue // the placeholder being streamed into
		}
		messages = append(messages, msg)
	}

	onToken := func(token string) {
		_ = st.AppendToken(assistantID, token)
	}

	// Calls accumulate across tool rounds so a later round never erases an
	// earlier round's recorded invocations; results are merged back onto
	// them by call ID once the batch settles.
	var recorded []model.ToolCall
	onCalls := func(calls []model.ToolCall) {
		recorded = append(recorded, calls...)
		_ = st.SetToolCalls(assistantID, recorded)
	}
	onResults := func(results []model.ToolResult) {
		// Mirror the outcomes into the local slice too, or the next
		// round's SetToolCalls would erase them.
		for _, res := range results {
			for i := range recorded {
				if recorded[i].ID == res.CallID {
					recorded[i].ApplyResult(res)
					break
				}
			}
		}
		_ = st.ApplyToolResults(assistantID, results)
	}

	step := e.invokeMessages(ctx, r, 0, agent, messages, onToken, onCalls, onResults)
	step.Input = spec.Input
	return step
}

// userFacingSummary maps an internal error to a short message safe to
// persist as assistant content. Raw provider bodies never reach it.
func userFacingSummary(err error) string {
	if errors.Is(err, context.Canceled) {
		return "Generation was cancelled."
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, ErrWorkflowTimeout) {
		return "The request timed out. Please try again."
	}
	switch gateway.KindOf(err) {
	case gateway.KindAuth:
		return "The provider rejected the configured credentials."
	case gateway.KindRateLimited:
		return "The model service is busy. Please try again shortly."
	case gateway.KindUnavailable:
		return "The model service is unavailable right now."
	case gateway.KindMalformed:
		return "The model service returned an unexpected response."
	default:
		return "Something went wrong while generating a response."
	}
}
