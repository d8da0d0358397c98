// Package engine executes workflow definitions: it validates inputs,
// orders steps by their dependencies, runs them with bounded
// concurrency, applies per-step error policy, and assembles the final
// outputs. Execution never raises for workflow-domain failures; every
// failure mode becomes a terminal result with a populated error.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"ael/internal/api"
	"ael/internal/invoker"
	"ael/internal/sandbox"
	"ael/internal/template"
	"ael/internal/workflow"
	"ael/pkg/logging"
)

const (
	DefaultMaxConcurrentSteps     = 5
	DefaultMaxConcurrentWorkflows = 5
	DefaultMaxWorkflowSteps       = 100
)

// ToolInvoker is the engine's path to tool execution. The invoker
// package implements it; tests substitute fakes.
type ToolInvoker interface {
	Invoke(ctx context.Context, req invoker.Request) *api.ToolCallResult
	sandbox.ToolCaller
}

// Options tunes engine limits. Zero values take the defaults above.
type Options struct {
	MaxConcurrentSteps     int
	MaxConcurrentWorkflows int
	MaxWorkflowSteps       int
}

// Engine runs workflows. It is safe for concurrent use; each Execute
// call drives its own execution state.
type Engine struct {
	sandbox   *sandbox.Sandbox
	invoker   ToolInvoker
	templates *template.Engine
	store     *Store
	opts      Options

	// workflowSem bounds concurrently running workflows across callers.
	workflowSem *semaphore.Weighted
}

func New(sb *sandbox.Sandbox, inv ToolInvoker, opts Options) *Engine {
	if opts.MaxConcurrentSteps <= 0 {
		opts.MaxConcurrentSteps = DefaultMaxConcurrentSteps
	}
	if opts.MaxConcurrentWorkflows <= 0 {
		opts.MaxConcurrentWorkflows = DefaultMaxConcurrentWorkflows
	}
	if opts.MaxWorkflowSteps <= 0 {
		opts.MaxWorkflowSteps = DefaultMaxWorkflowSteps
	}
	return &Engine{
		sandbox:     sb,
		invoker:     inv,
		templates:   template.New(),
		store:       NewStore(),
		opts:        opts,
		workflowSem: semaphore.NewWeighted(int64(opts.MaxConcurrentWorkflows)),
	}
}

// Store exposes the execution history.
func (e *Engine) Store() *Store {
	return e.store
}

// Execute runs one workflow to a terminal result. It never returns a Go
// error: validation failures, step failures, and cancellation all land
// in the result with status failed.
func (e *Engine) Execute(ctx context.Context, def *workflow.Definition, inputs map[string]interface{}) *api.ExecutionResult {
	result := &api.ExecutionResult{
		ExecutionID:     "exec-" + uuid.NewString(),
		WorkflowID:      def.Name,
		WorkflowVersion: def.Version,
		Status:          api.ExecutionStatusRunning,
		StartedAt:       time.Now(),
		Outputs:         map[string]interface{}{},
	}
	for i := range def.Steps {
		step := &def.Steps[i]
		maxAttempts := 1
		if step.Policy() == workflow.ErrorPolicyRetry && step.Retry != nil {
			maxAttempts = step.Retry.MaxAttempts
		}
		result.Steps = append(result.Steps, &api.StepResult{
			StepID:      step.ID,
			Status:      api.StepStatusPending,
			MaxAttempts: maxAttempts,
		})
	}
	e.store.Put(result)
	defer e.store.Put(result)

	if err := def.Validate(); err != nil {
		return e.finish(result, failErr(err))
	}
	if len(def.Steps) > e.opts.MaxWorkflowSteps {
		return e.finish(result, api.NewValidationError(
			"workflow %s has %d steps, limit is %d", def.Name, len(def.Steps), e.opts.MaxWorkflowSteps))
	}

	resolved, err := resolveInputs(def, inputs)
	if err != nil {
		return e.finish(result, failErr(err))
	}

	if err := e.workflowSem.Acquire(ctx, 1); err != nil {
		return e.finish(result, api.NewExecutionError(false, "execution cancelled before start: %v", err))
	}
	defer e.workflowSem.Release(1)

	logging.Info("Engine", "Executing workflow %s as %s", def.Name, result.ExecutionID)

	run := newRun(e, def, resolved, result)
	run.drive(ctx)

	if result.Status != api.ExecutionStatusFailed {
		for _, s := range result.Steps {
			if s.Status == api.StepStatusPending {
				return e.finish(result, api.NewValidationError(
					"workflow %s: step %s never became runnable, check its dependencies", def.Name, s.StepID))
			}
		}
	}
	if result.Status != api.ExecutionStatusFailed {
		if err := e.assembleOutputs(def, run, result); err != nil {
			return e.finish(result, failErr(err))
		}
		result.Status = api.ExecutionStatusCompleted
	}
	return e.finish(result, nil)
}

// finish stamps the terminal bookkeeping. A non-nil err forces status
// failed.
func (e *Engine) finish(result *api.ExecutionResult, err *api.Error) *api.ExecutionResult {
	if err != nil {
		result.Status = api.ExecutionStatusFailed
		if result.Error == nil {
			result.Error = err
		}
	}
	now := time.Now()
	result.CompletedAt = &now
	result.DurationMs = now.Sub(result.StartedAt).Milliseconds()

	result.StepsCompleted, result.StepsSkipped, result.StepsFailed = 0, 0, 0
	for _, s := range result.Steps {
		switch s.Status {
		case api.StepStatusCompleted:
			result.StepsCompleted++
		case api.StepStatusSkipped:
			result.StepsSkipped++
		case api.StepStatusFailed:
			result.StepsFailed++
		}
	}

	logging.Info("Engine", "Workflow %s finished %s in %dms (%d completed, %d skipped, %d failed)",
		result.WorkflowID, result.Status, result.DurationMs,
		result.StepsCompleted, result.StepsSkipped, result.StepsFailed)
	return result
}

// resolveInputs checks required inputs and applies defaults. The caller
// map is not modified.
func resolveInputs(def *workflow.Definition, inputs map[string]interface{}) (map[string]interface{}, error) {
	resolved := make(map[string]interface{}, len(inputs))
	for k, v := range inputs {
		resolved[k] = v
	}
	var missing []string
	for _, input := range def.Inputs {
		if _, present := resolved[input.Name]; present {
			continue
		}
		if input.Required {
			missing = append(missing, input.Name)
			continue
		}
		if input.Default != nil {
			resolved[input.Name] = input.Default
		}
	}
	if len(missing) > 0 {
		return nil, api.NewValidationError("missing required inputs: %v", missing)
	}
	return resolved, nil
}

// assembleOutputs resolves every output declaration against the final
// execution namespace.
func (e *Engine) assembleOutputs(def *workflow.Definition, run *run, result *api.ExecutionResult) error {
	namespace := run.namespace()
	for _, out := range def.Outputs {
		if out.FromPath != "" {
			value, err := template.ResolvePath(namespace, out.FromPath)
			if err != nil {
				return api.NewExecutionError(false, "output %s: %v", out.Name, err)
			}
			result.Outputs[out.Name] = value
			continue
		}
		result.Outputs[out.Name] = out.Value
	}
	return nil
}

func failErr(err error) *api.Error {
	if apiErr, ok := err.(*api.Error); ok {
		return apiErr
	}
	return api.NewExecutionError(false, "%v", err)
}
