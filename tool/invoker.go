package tool

import (
	"context"
	"fmt"
	"time"

	"github.com/psworks/scriptflow/log"
)

const (
	defaultConcurrency = 4
	defaultCallTimeout = 30 * time.Second
)

// Call is one tool invocation requested by the reasoning model
type Call struct {
	ID    string
	Name  string
	Input string
}

// Result is the outcome of one tool call. Err is set when the tool failed,
// timed out or panicked; Output is the tool's JSON string otherwise.
type Result struct {
	ID      string
	Name    string
	Output  string
	Err     error
	Elapsed time.Duration
}

// Invoker runs a batch of tool calls with bounded concurrency, a per-call
// timeout and panic isolation
type Invoker struct {
	registry    *Registry
	concurrency int
	timeout     time.Duration
	logger      log.Logger
}

type InvokerOption func(*Invoker)

// WithConcurrency bounds how many tool calls run at once
func WithConcurrency(n int) InvokerOption {
	return func(inv *Invoker) {
		if n > 0 {
			inv.concurrency = n
		}
	}
}

// WithCallTimeout sets the per-call execution timeout
func WithCallTimeout(d time.Duration) InvokerOption {
	return func(inv *Invoker) {
		if d > 0 {
			inv.timeout = d
		}
	}
}

// WithLogger sets the invoker's logger
func WithLogger(l log.Logger) InvokerOption {
	return func(inv *Invoker) {
		inv.logger = l
	}
}

// NewInvoker creates an invoker over the given registry
func NewInvoker(registry *Registry, opts ...InvokerOption) *Invoker {
	inv := &Invoker{
		registry:    registry,
		concurrency: defaultConcurrency,
		timeout:     defaultCallTimeout,
		logger:      log.GetDefaultLogger(),
	}
	for _, opt := range opts {
		opt(inv)
	}
	return inv
}

// Registry returns the invoker's tool registry
func (inv *Invoker) Registry() *Registry {
	return inv.registry
}

// ExecuteAll runs every call and returns one result per call, in call order.
// A failing call never aborts its siblings; the failure is carried in the
// result's Err field.
func (inv *Invoker) ExecuteAll(ctx context.Context, script string, calls []Call, results map[string]any) []Result {
	out := make([]Result, len(calls))
	sem := make(chan struct{}, inv.concurrency)
	done := make(chan int, len(calls))

	for i, call := range calls {
		go func(i int, call Call) {
			defer func() { done <- i }()

			sem <- struct{}{}
			defer func() { <-sem }()

			out[i] = inv.executeOne(ctx, script, call, results)
		}(i, call)
	}

	for range calls {
		<-done
	}
	return out
}

func (inv *Invoker) executeOne(ctx context.Context, script string, call Call, results map[string]any) (res Result) {
	res = Result{ID: call.ID, Name: call.Name}
	started := time.Now()
	defer func() {
		res.Elapsed = time.Since(started)
		if r := recover(); r != nil {
			res.Err = fmt.Errorf("tool %s panicked: %v", call.Name, r)
			inv.logger.Error("tool %s panicked: %v", call.Name, r)
		}
	}()

	t, err := inv.registry.Get(call.Name)
	if err != nil {
		res.Err = err
		return res
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	tctx := map[string]any{
		"input":   call.Input,
		"results": results,
	}

	inv.logger.Debug("executing tool %s (call %s)", call.Name, call.ID)
	output, err := t.Execute(callCtx, script, tctx)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			err = fmt.Errorf("tool %s timed out after %s: %w", call.Name, inv.timeout, err)
		}
		res.Err = err
		return res
	}

	res.Output = output
	return res
}
