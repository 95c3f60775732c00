// Package scriptflow orchestrates multi-stage PowerShell script analysis
// workflows.
//
// A workflow moves through ANALYZE, TOOLS and SYNTHESIS stages with an
// optional HUMAN_REVIEW detour, driven by a reasoning model that picks which
// analysis tools to run. Every stage transition is persisted as a checkpoint,
// so a workflow can pause for review, survive a process restart and resume on
// another node.
//
// The packages:
//
//   - workflow: the stage controller, state machine and batch coordinator
//   - store (memory, sqlite, redis, postgres): checkpoint persistence with
//     per-thread compare-and-swap
//   - reasoning: the model clients (OpenAI, langchaingo)
//   - tool: the analysis tool registry, invoker and built-in tools
//   - report: markdown and sanitized HTML rendering of results
//   - log: the logging abstraction shared by all components
//
// Basic usage:
//
//	registry := tool.DefaultRegistry()
//	client := reasoning.NewOpenAIClient(os.Getenv("OPENAI_API_KEY"), registry.Descriptors())
//	controller := workflow.NewController(memory.NewMemoryCheckpointStore(), client, registry, workflow.Config{})
//
//	res, err := controller.Analyze(ctx, workflow.AnalyzeRequest{ScriptContent: script})
//	if err != nil {
//		// validation error or busy thread
//	}
//	if res.Status == workflow.StatusPaused {
//		res, err = controller.Feedback(ctx, res.ThreadID, "reviewed, proceed")
//	}
package scriptflow // import "github.com/psworks/scriptflow"
