package workflow

import (
	"time"

	"github.com/psworks/scriptflow/reasoning"
)

// StateSchemaVersion is stamped into every serialized state so future
// readers can detect and migrate old checkpoints.
const StateSchemaVersion = 1

// Stage is a workflow's position in the analysis state machine
type Stage string

const (
	StageAnalyze     Stage = "analyze"
	StageTools       Stage = "tools"
	StageHumanReview Stage = "human_review"
	StageSynthesis   Stage = "synthesis"
	StageCompleted   Stage = "completed"
	StageFailed      Stage = "failed"
	StageCancelled   Stage = "cancelled"
)

// Terminal reports whether the stage ends the workflow
func (s Stage) Terminal() bool {
	return s == StageCompleted || s == StageFailed || s == StageCancelled
}

// Error kinds recorded in a workflow's error log
const (
	ErrKindValidation       = "validation"
	ErrKindToolExecution    = "tool_execution"
	ErrKindReasoning        = "reasoning"
	ErrKindReasoningTimeout = "reasoning_timeout"
	ErrKindReasoningParse   = "reasoning_parse"
	ErrKindCheckpoint       = "checkpoint"
	ErrKindCancelled        = "cancelled"
	ErrKindToolCycleLimit   = "tool_cycle_limit"
)

// WorkflowError is one entry in a workflow's error log. Non-fatal failures
// (a single tool erroring, the cycle ceiling firing) are recorded here and
// the workflow continues.
type WorkflowError struct {
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	Stage     Stage     `json:"stage"`
	Timestamp time.Time `json:"timestamp"`
}

// ToolResult is the parsed outcome of one tool, keyed by tool name in
// AnalysisResults. Exactly one of Output and Error is set.
type ToolResult struct {
	Output map[string]any `json:"output,omitempty"`
	Error  string         `json:"error,omitempty"`
}

// WorkflowState is everything a workflow knows, serialized into each
// checkpoint. ScriptContent never changes after creation.
type WorkflowState struct {
	SchemaVersion int    `json:"schema_version"`
	WorkflowID    string `json:"workflow_id"`
	ThreadID      string `json:"thread_id"`
	Stage         Stage  `json:"stage"`

	ScriptContent string              `json:"script_content"`
	Messages      []reasoning.Message `json:"messages"`

	AnalysisResults  map[string]ToolResult   `json:"analysis_results"`
	PendingToolCalls []reasoning.ToolRequest `json:"pending_tool_calls,omitempty"`
	ToolCycles       int                     `json:"tool_cycles"`

	Errors []WorkflowError `json:"errors,omitempty"`

	RequiresHumanReview bool   `json:"requires_human_review"`
	HumanFeedback       string `json:"human_feedback,omitempty"`

	// Params are opaque model settings forwarded to the reasoning client
	Params map[string]any `json:"params,omitempty"`

	FinalResponse string     `json:"final_response,omitempty"`
	StartedAt     time.Time  `json:"started_at"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
}

// AddMessages appends messages to the history, deduplicating by id: a
// message whose id is already present replaces the earlier one in place, so
// first-seen order is preserved and the history stays append-only.
func (s *WorkflowState) AddMessages(msgs ...reasoning.Message) {
	for _, m := range msgs {
		replaced := false
		for i := range s.Messages {
			if s.Messages[i].ID == m.ID {
				s.Messages[i] = m
				replaced = true
				break
			}
		}
		if !replaced {
			s.Messages = append(s.Messages, m)
		}
	}
}

// RecordError appends an entry to the error log
func (s *WorkflowState) RecordError(kind, detail string) {
	s.Errors = append(s.Errors, WorkflowError{
		Kind:      kind,
		Detail:    detail,
		Stage:     s.Stage,
		Timestamp: time.Now().UTC(),
	})
}

// CompletedTools returns the names of tools that produced a result, in no
// particular order
func (s *WorkflowState) CompletedTools() []string {
	names := make([]string, 0, len(s.AnalysisResults))
	for name, r := range s.AnalysisResults {
		if r.Error == "" {
			names = append(names, name)
		}
	}
	return names
}
