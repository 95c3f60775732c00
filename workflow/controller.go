package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/psworks/scriptflow/log"
	"github.com/psworks/scriptflow/reasoning"
	"github.com/psworks/scriptflow/store"
	"github.com/psworks/scriptflow/tool"
)

// Status is the caller-facing outcome of a workflow run
type Status string

const (
	StatusCompleted Status = "completed"
	StatusPaused    Status = "paused"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// AnalyzeRequest starts or resumes a script analysis workflow
type AnalyzeRequest struct {
	// ScriptContent is the PowerShell source to analyze. Required.
	ScriptContent string

	// ThreadID resumes an existing thread when set; a fresh thread id is
	// generated otherwise.
	ThreadID string

	// RequireHumanReview pauses the workflow for review after the first
	// reasoning step.
	RequireHumanReview bool

	// Params are opaque model settings (e.g. "model") forwarded to the
	// reasoning client on every call.
	Params map[string]any
}

// Result is the status-bearing outcome of Analyze or Feedback
type Result struct {
	WorkflowID          string
	ThreadID            string
	Status              Status
	Stage               Stage
	FinalResponse       string
	AnalysisResults     map[string]ToolResult
	RequiresHumanReview bool
	Errors              []WorkflowError
	StartedAt           time.Time
	CompletedAt         *time.Time
}

// Controller drives workflows through ANALYZE -> TOOLS -> SYNTHESIS with the
// HUMAN_REVIEW detour, persisting a checkpoint after every transition.
type Controller struct {
	store    store.CheckpointStore
	reasoner reasoning.Client
	invoker  *tool.Invoker
	cfg      Config
	logger   log.Logger
}

// NewController creates a controller over the given store, reasoning client
// and tool registry
func NewController(cs store.CheckpointStore, client reasoning.Client, registry *tool.Registry, cfg Config) *Controller {
	cfg = cfg.withDefaults()
	return &Controller{
		store:    cs,
		reasoner: client,
		invoker: tool.NewInvoker(registry,
			tool.WithConcurrency(cfg.ToolConcurrency),
			tool.WithCallTimeout(cfg.ToolTimeout),
			tool.WithLogger(cfg.Logger),
		),
		cfg:    cfg,
		logger: cfg.Logger,
	}
}

// Tools returns the descriptors of the tools available to workflows
func (c *Controller) Tools() []tool.Descriptor {
	return c.invoker.Registry().Descriptors()
}

// run carries one workflow execution: the mutable state plus the checkpoint
// id the next Save must descend from
type run struct {
	state  *WorkflowState
	parent string
}

// Analyze runs a workflow to a terminal stage or a human-review pause. When
// req.ThreadID names an existing thread the workflow resumes from its latest
// checkpoint instead of starting over.
func (c *Controller) Analyze(ctx context.Context, req AnalyzeRequest) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if req.ScriptContent == "" {
		return nil, &ValidationError{Field: "script_content", Reason: "must not be empty"}
	}

	threadID := req.ThreadID
	if threadID == "" {
		threadID = uuid.NewString()
	}

	r, err := c.loadRun(ctx, threadID)
	switch {
	case err == nil:
		if r.state.Stage.Terminal() {
			return resultOf(r.state), nil
		}
		if r.state.Stage == StageHumanReview {
			return resultOf(r.state), nil
		}
		c.logger.Info("resuming workflow %s on thread %s at stage %s",
			r.state.WorkflowID, threadID, r.state.Stage)
	case errors.Is(err, store.ErrNotFound):
		r = &run{state: newState(threadID, req)}
		c.logger.Info("starting workflow %s on thread %s", r.state.WorkflowID, threadID)
		if err := c.checkpoint(ctx, r); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	return c.drive(ctx, r)
}

// Feedback delivers a reviewer's response to a workflow paused in
// HUMAN_REVIEW and resumes it. Returns ErrNoPausedWorkflow when the thread
// does not exist or is not paused.
func (c *Controller) Feedback(ctx context.Context, threadID, feedback string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if feedback == "" {
		return nil, &ValidationError{Field: "feedback", Reason: "must not be empty"}
	}

	r, err := c.loadRun(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoPausedWorkflow
		}
		return nil, err
	}
	if r.state.Stage != StageHumanReview {
		return nil, ErrNoPausedWorkflow
	}

	c.logger.Info("feedback received for workflow %s on thread %s", r.state.WorkflowID, threadID)

	r.state.HumanFeedback = feedback
	r.state.RequiresHumanReview = false
	r.state.AddMessages(reasoning.Message{
		ID:      uuid.NewString(),
		Role:    reasoning.RoleHuman,
		Content: "Human reviewer feedback: " + feedback,
	})
	r.state.Stage = StageAnalyze
	if err := c.checkpoint(ctx, r); err != nil {
		return nil, err
	}

	return c.drive(ctx, r)
}

// History returns the checkpointed states of a thread, oldest first
func (c *Controller) History(ctx context.Context, threadID string) ([]*WorkflowState, error) {
	checkpoints, err := c.store.History(ctx, threadID)
	if err != nil {
		return nil, err
	}

	states := make([]*WorkflowState, 0, len(checkpoints))
	for _, cp := range checkpoints {
		var st WorkflowState
		if err := json.Unmarshal(cp.State, &st); err != nil {
			return nil, fmt.Errorf("corrupt checkpoint %s: %w", cp.ID, err)
		}
		states = append(states, &st)
	}
	return states, nil
}

func newState(threadID string, req AnalyzeRequest) *WorkflowState {
	st := &WorkflowState{
		SchemaVersion:       StateSchemaVersion,
		WorkflowID:          uuid.NewString(),
		ThreadID:            threadID,
		Stage:               StageAnalyze,
		ScriptContent:       req.ScriptContent,
		AnalysisResults:     map[string]ToolResult{},
		RequiresHumanReview: req.RequireHumanReview,
		Params:              req.Params,
		StartedAt:           time.Now().UTC(),
	}
	st.AddMessages(reasoning.Message{
		ID:      uuid.NewString(),
		Role:    reasoning.RoleHuman,
		Content: fmt.Sprintf("Please analyze this PowerShell script:\n\n```powershell\n%s\n```", req.ScriptContent),
	})
	return st
}

func (c *Controller) loadRun(ctx context.Context, threadID string) (*run, error) {
	head, err := c.store.Latest(ctx, threadID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, &CheckpointError{Op: "load", Err: err}
	}

	var st WorkflowState
	if err := json.Unmarshal(head.State, &st); err != nil {
		return nil, &CheckpointError{Op: "load", Err: fmt.Errorf("corrupt state in checkpoint %s: %w", head.ID, err)}
	}
	if st.AnalysisResults == nil {
		st.AnalysisResults = map[string]ToolResult{}
	}

	return &run{state: &st, parent: head.ID}, nil
}

// checkpoint persists the current state and advances the run's parent.
// Losing the compare-and-swap surfaces as ErrThreadBusy.
func (c *Controller) checkpoint(ctx context.Context, r *run) error {
	data, err := json.Marshal(r.state)
	if err != nil {
		return &CheckpointError{Op: "save", Err: err}
	}

	cp := &store.Checkpoint{
		ThreadID:  r.state.ThreadID,
		ID:        uuid.NewString(),
		ParentID:  r.parent,
		State:     data,
		CreatedAt: time.Now().UTC(),
	}
	// A finished stage is always persisted, even when the workflow was
	// cancelled while it ran.
	if err := c.store.Save(context.WithoutCancel(ctx), cp); err != nil {
		if errors.Is(err, store.ErrConflict) {
			return fmt.Errorf("%w: %s", ErrThreadBusy, r.state.ThreadID)
		}
		return &CheckpointError{Op: "save", Err: err}
	}

	r.parent = cp.ID
	return nil
}

// drive loops the state machine, checkpointing after every transition, until
// a terminal stage or a human-review pause
func (c *Controller) drive(ctx context.Context, r *run) (*Result, error) {
	st := r.state

	for {
		// Cancellation is honored at stage boundaries only; the stage in
		// flight finishes and the cancellation is recorded durably.
		if err := ctx.Err(); err != nil {
			st.RecordError(ErrKindCancelled, err.Error())
			st.Stage = StageCancelled
			if cerr := c.checkpoint(ctx, r); cerr != nil {
				return nil, cerr
			}
			c.logger.Warn("workflow %s cancelled: %v", st.WorkflowID, err)
			return resultOf(st), nil
		}

		var err error
		switch st.Stage {
		case StageAnalyze:
			err = c.analyzeStage(ctx, st)
		case StageTools:
			err = c.toolsStage(ctx, st)
		case StageSynthesis:
			err = c.synthesisStage(ctx, st)
		default:
			return resultOf(st), nil
		}
		if err != nil {
			return nil, err
		}

		if err := c.checkpoint(ctx, r); err != nil {
			return nil, err
		}

		if st.Stage == StageHumanReview {
			c.logger.Warn("workflow %s paused for human review", st.WorkflowID)
			return resultOf(st), nil
		}
		if st.Stage.Terminal() {
			return resultOf(st), nil
		}
	}
}

// analyzeStage asks the model what to do next and routes accordingly
func (c *Controller) analyzeStage(ctx context.Context, st *WorkflowState) error {
	decision, err := c.decideWithRetry(ctx, st)
	if err != nil {
		st.Stage = StageFailed
		return nil
	}

	msg := reasoning.Message{
		ID:      uuid.NewString(),
		Role:    reasoning.RoleAssistant,
		Content: decision.FinalText,
	}

	// Review gate comes first: a pending review outranks any tool requests.
	// The tool calls are not persisted on this path: they will never get tool
	// replies, and chat APIs reject a replayed history with unanswered calls.
	if st.RequiresHumanReview && st.HumanFeedback == "" {
		if msg.Content != "" {
			st.AddMessages(msg)
		}
		st.Stage = StageHumanReview
		return nil
	}

	if len(decision.ToolCalls) > 0 {
		if st.ToolCycles >= c.cfg.MaxToolCycles {
			detail := fmt.Sprintf("tool cycle ceiling of %d reached, forcing synthesis", c.cfg.MaxToolCycles)
			st.RecordError(ErrKindToolCycleLimit, detail)
			c.logger.Warn("workflow %s: %s", st.WorkflowID, detail)
			// Same rule as the review gate: these calls will not be executed,
			// so they must not enter the replayed history.
			if msg.Content != "" {
				st.AddMessages(msg)
			}
			st.Stage = StageSynthesis
			return nil
		}
		msg.ToolCalls = decision.ToolCalls
		st.AddMessages(msg)
		st.PendingToolCalls = decision.ToolCalls
		st.Stage = StageTools
		return nil
	}

	st.AddMessages(msg)
	st.Stage = StageSynthesis
	return nil
}

// decideWithRetry enforces the reasoning timeout and retries exactly once on
// a timeout or an unparseable decision. A second failure is recorded and
// fails the workflow.
func (c *Controller) decideWithRetry(ctx context.Context, st *WorkflowState) (*reasoning.Decision, error) {
	req := &reasoning.Request{
		Messages:  st.Messages,
		Completed: st.CompletedTools(),
		Params:    st.Params,
	}

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ReasoningTimeout)
		decision, err := c.reasoner.Decide(callCtx, req)
		cancel()
		if err == nil {
			return decision, nil
		}
		lastErr = err
		c.logger.Warn("workflow %s: reasoning attempt %d failed: %v", st.WorkflowID, attempt+1, err)

		// Only timeouts and empty decisions earn the retry.
		if !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, reasoning.ErrEmptyDecision) {
			break
		}
	}

	st.RecordError(reasoningErrKind(lastErr), lastErr.Error())
	return nil, lastErr
}

func reasoningErrKind(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrKindReasoningTimeout
	case errors.Is(err, reasoning.ErrEmptyDecision):
		return ErrKindReasoningParse
	default:
		return ErrKindReasoning
	}
}

// toolsStage runs the pending tool calls and folds their results into state
func (c *Controller) toolsStage(ctx context.Context, st *WorkflowState) error {
	calls := make([]tool.Call, 0, len(st.PendingToolCalls))
	for _, tc := range st.PendingToolCalls {
		calls = append(calls, tool.Call{ID: tc.ID, Name: tc.Name, Input: tc.Input})
	}

	prior := make(map[string]any, len(st.AnalysisResults))
	for name, r := range st.AnalysisResults {
		if r.Error == "" {
			prior[name] = r.Output
		}
	}

	results := c.invoker.ExecuteAll(ctx, st.ScriptContent, calls, prior)
	if allFailed(results) {
		// One whole-cycle retry before giving up on the workflow.
		c.logger.Warn("workflow %s: all %d tool calls failed, retrying cycle", st.WorkflowID, len(calls))
		results = c.invoker.ExecuteAll(ctx, st.ScriptContent, calls, prior)
		if allFailed(results) {
			for _, res := range results {
				st.RecordError(ErrKindToolExecution, fmt.Sprintf("%s: %v", res.Name, res.Err))
			}
			st.Stage = StageFailed
			return nil
		}
	}

	for _, res := range results {
		var content string
		if res.Err != nil {
			st.RecordError(ErrKindToolExecution, fmt.Sprintf("%s: %v", res.Name, res.Err))
			st.AnalysisResults[res.Name] = ToolResult{Error: res.Err.Error()}
			content = fmt.Sprintf(`{"error": %q}`, res.Err.Error())
		} else {
			st.AnalysisResults[res.Name] = ToolResult{Output: parseToolOutput(res.Output)}
			content = res.Output
		}
		st.AddMessages(reasoning.Message{
			ID:      res.ID,
			Role:    reasoning.RoleTool,
			Name:    res.Name,
			Content: content,
		})
	}

	// A critical security verdict forces the review gate even when the
	// caller did not ask for one.
	if sec, ok := st.AnalysisResults[tool.SecurityScanName]; ok && sec.Error == "" {
		if level, _ := sec.Output["risk_level"].(string); level == tool.RiskCritical {
			if !st.RequiresHumanReview && st.HumanFeedback == "" {
				c.logger.Warn("workflow %s: critical risk detected, requiring human review", st.WorkflowID)
				st.RequiresHumanReview = true
			}
		}
	}

	st.PendingToolCalls = nil
	st.ToolCycles++
	st.Stage = StageAnalyze
	return nil
}

// synthesisStage produces the final response
func (c *Controller) synthesisStage(ctx context.Context, st *WorkflowState) error {
	req := &reasoning.Request{
		Messages:  st.Messages,
		Completed: st.CompletedTools(),
		Params:    st.Params,
	}

	var text string
	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, c.cfg.ReasoningTimeout)
		text, lastErr = c.reasoner.Synthesize(callCtx, req)
		cancel()
		if lastErr == nil {
			break
		}
		c.logger.Warn("workflow %s: synthesis attempt %d failed: %v", st.WorkflowID, attempt+1, lastErr)
		if !errors.Is(lastErr, context.DeadlineExceeded) && !errors.Is(lastErr, reasoning.ErrEmptyDecision) {
			break
		}
	}
	if lastErr != nil {
		st.RecordError(reasoningErrKind(lastErr), lastErr.Error())
		st.Stage = StageFailed
		return nil
	}

	st.AddMessages(reasoning.Message{
		ID:      uuid.NewString(),
		Role:    reasoning.RoleAssistant,
		Content: text,
	})
	st.FinalResponse = text
	now := time.Now().UTC()
	st.CompletedAt = &now
	st.Stage = StageCompleted
	c.logger.Info("workflow %s completed", st.WorkflowID)
	return nil
}

func allFailed(results []tool.Result) bool {
	for _, r := range results {
		if r.Err == nil {
			return false
		}
	}
	return len(results) > 0
}

// parseToolOutput decodes a tool's JSON output, falling back to wrapping the
// raw text when it is not a JSON object
func parseToolOutput(output string) map[string]any {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(output), &parsed); err != nil || parsed == nil {
		return map[string]any{"raw": output}
	}
	return parsed
}

func resultOf(st *WorkflowState) *Result {
	var status Status
	switch st.Stage {
	case StageCompleted:
		status = StatusCompleted
	case StageFailed:
		status = StatusFailed
	case StageCancelled:
		status = StatusCancelled
	default:
		status = StatusPaused
	}

	return &Result{
		WorkflowID:          st.WorkflowID,
		ThreadID:            st.ThreadID,
		Status:              status,
		Stage:               st.Stage,
		FinalResponse:       st.FinalResponse,
		AnalysisResults:     st.AnalysisResults,
		RequiresHumanReview: st.RequiresHumanReview,
		Errors:              st.Errors,
		StartedAt:           st.StartedAt,
		CompletedAt:         st.CompletedAt,
	}
}
