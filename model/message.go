package model

import "time"

// Role identifies who produced a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// MessageStatus tracks a message through its streaming lifecycle.
type MessageStatus string

const (
	StatusPending   MessageStatus = "pending"
	StatusStreaming MessageStatus = "streaming"
	StatusCompleted MessageStatus = "completed"
	StatusError     MessageStatus = "error"
)

// Message is one entry in a conversation. Messages are owned by the store;
// everything else works on copies and mutates through store methods.
type Message struct {
	ID             string        `json:"id"`
	ConversationID string        `json:"conversation_id"`
	Role           Role          `json:"role"`
	Content        string        `json:"content"`
	Status         MessageStatus `json:"status"`
	ToolCalls      []ToolCall    `json:"tool_calls,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// ToolCall is a model-emitted request to invoke a registered tool.
// Arguments holds the parsed JSON payload; RawArguments preserves the
// original text for providers that stream argument fragments.
//
// Once the call has executed, the outcome is recorded back onto it so the
// owning message carries the full invocation history: subscribers can
// render a failed call directly from a store snapshot.
type ToolCall struct {
	ID           string         `json:"id"`
	Name         string         `json:"name"`
	Arguments    map[string]any `json:"arguments,omitempty"`
	RawArguments string         `json:"raw_arguments,omitempty"`

	Executed  bool          `json:"executed,omitempty"`
	Output    string        `json:"output,omitempty"`
	ErrorKind ToolErrorKind `json:"error_kind,omitempty"`
	Duration  time.Duration `json:"duration_ms,omitempty"`
}

// ApplyResult records an execution outcome on the call.
func (c *ToolCall) ApplyResult(res ToolResult) {
	c.Executed = true
	c.Output = res.Output
	c.ErrorKind = res.ErrorKind
	c.Duration = res.Duration
}

// Failed reports whether the call executed and ended in an error.
func (c ToolCall) Failed() bool {
	return c.Executed && c.ErrorKind != ToolErrorNone
}

// ToolErrorKind classifies tool execution failures.
type ToolErrorKind string

const (
	ToolErrorNone      ToolErrorKind = ""
	ToolInvalidInput   ToolErrorKind = "invalid_input"
	ToolExecutionError ToolErrorKind = "execution_error"
	ToolTimeout        ToolErrorKind = "timeout"
)

// ToolResult pairs a ToolCall with its outcome. Results live only for the
// duration of one workflow step, except as recorded on the owning message.
type ToolResult struct {
	CallID    string        `json:"call_id"`
	Name      string        `json:"name"`
	Output    string        `json:"output,omitempty"`
	ErrorKind ToolErrorKind `json:"error_kind,omitempty"`
	Err       error         `json:"-"`
	Duration  time.Duration `json:"duration_ms"`
}

// Failed reports whether the call ended in any error kind.
func (r ToolResult) Failed() bool {
	return r.ErrorKind != ToolErrorNone
}
