package reasoning

import (
	"context"
	"errors"
)

// Role identifies who produced a message
type Role string

const (
	RoleSystem    Role = "system"
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one entry in a workflow's conversation history. For tool
// messages ID is the originating tool call id; for every other role it is a
// generated unique id used for deduplication.
type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// Name is the tool name for tool messages
	Name string `json:"name,omitempty"`
	// ToolCalls carries the calls an assistant message requested
	ToolCalls []ToolRequest `json:"tool_calls,omitempty"`
}

// ToolRequest is a single tool invocation requested by the model
type ToolRequest struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input string `json:"input"`
}

// Decision is the outcome of one reasoning step: either tool calls to run
// next, or the model's final text when no further tooling is needed.
type Decision struct {
	ToolCalls []ToolRequest
	FinalText string
}

// Request carries everything a client may use to produce a decision.
// Params are opaque model settings (model name, temperature) forwarded from
// the caller and never interpreted by the orchestrator.
type Request struct {
	Messages  []Message
	Completed []string // names of analyses that already ran
	Params    map[string]any
}

// ErrEmptyDecision is returned when the model produced neither tool calls
// nor text. The controller treats it as a parse failure and retries once.
var ErrEmptyDecision = errors.New("reasoning: model returned neither tool calls nor text")

// Client drives the reasoning steps of a workflow
type Client interface {
	// Decide asks the model what to do next given the conversation so far
	Decide(ctx context.Context, req *Request) (*Decision, error)

	// Synthesize asks the model for the final summary over all results
	Synthesize(ctx context.Context, req *Request) (string, error)
}
