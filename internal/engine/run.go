package engine

import (
	"context"
	"sync"
	"time"

	"ael/internal/api"
	"ael/internal/invoker"
	"ael/internal/sandbox"
	"ael/internal/workflow"
	"ael/pkg/logging"
)

// run is the mutable state of one execution: which steps have started,
// which are terminal, and the step outputs visible to later steps.
// Terminal means completed or skipped; a failed step under the fail
// policy stops the run instead.
type run struct {
	engine *Engine
	def    *workflow.Definition
	inputs map[string]interface{}
	result *api.ExecutionResult

	index map[string]int
	deps  [][]int

	mu      sync.Mutex
	started []bool
	outputs map[string]interface{}
}

func newRun(e *Engine, def *workflow.Definition, inputs map[string]interface{}, result *api.ExecutionResult) *run {
	index := make(map[string]int, len(def.Steps))
	for i := range def.Steps {
		index[def.Steps[i].ID] = i
	}
	deps := make([][]int, len(def.Steps))
	for i := range def.Steps {
		deps[i] = def.DependencyIndexes(i, index)
	}
	return &run{
		engine:  e,
		def:     def,
		inputs:  inputs,
		result:  result,
		index:   index,
		deps:    deps,
		started: make([]bool, len(def.Steps)),
		outputs: make(map[string]interface{}),
	}
}

// drive schedules steps until every step is terminal or the run stops.
// Steps launch as soon as all of their dependencies are terminal,
// bounded by the engine's concurrent step limit. On a stopping failure
// or cancellation, in-flight steps finish but nothing new starts;
// unstarted steps remain pending.
func (r *run) drive(ctx context.Context) {
	type outcome struct {
		idx  int
		stop bool
	}
	done := make(chan outcome)

	running := 0
	terminal := 0
	stopped := false

	for {
		if !stopped && ctx.Err() == nil {
			for _, idx := range r.ready() {
				if running >= r.engine.opts.MaxConcurrentSteps {
					break
				}
				r.markStarted(idx)
				running++
				go func(idx int) {
					stop := r.runStep(ctx, idx)
					done <- outcome{idx: idx, stop: stop}
				}(idx)
			}
		}
		if running == 0 {
			break
		}

		out := <-done
		running--
		terminal++
		if out.stop {
			stopped = true
		}
		if terminal == len(r.def.Steps) && running == 0 {
			break
		}
	}

	if ctx.Err() != nil && r.result.Error == nil && r.result.Status != api.ExecutionStatusFailed {
		r.result.Status = api.ExecutionStatusFailed
		r.result.Error = api.NewTimeoutError("execution cancelled: %v", ctx.Err())
	}
}

// ready returns the unstarted steps whose dependencies are all
// terminal.
func (r *run) ready() []int {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []int
	for i := range r.def.Steps {
		if r.started[i] {
			continue
		}
		ok := true
		for _, dep := range r.deps[i] {
			status := r.result.Steps[dep].Status
			if status != api.StepStatusCompleted && status != api.StepStatusSkipped {
				ok = false
				break
			}
		}
		if ok {
			out = append(out, i)
		}
	}
	return out
}

func (r *run) markStarted(idx int) {
	r.mu.Lock()
	r.started[idx] = true
	r.result.Steps[idx].Status = api.StepStatusRunning
	r.result.Steps[idx].StartedAt = time.Now()
	r.mu.Unlock()
}

// runStep executes one step through its attempts and records the
// terminal step state. It returns true when the failure stops the whole
// run.
func (r *run) runStep(ctx context.Context, idx int) (stop bool) {
	step := &r.def.Steps[idx]
	stepResult := r.result.Steps[idx]
	policy := step.Policy()

	maxAttempts := 1
	if policy == workflow.ErrorPolicyRetry {
		maxAttempts = step.Retry.MaxAttempts
	}

	var output interface{}
	var stepErr *api.Error
	delay := time.Duration(0)
	if policy == workflow.ErrorPolicyRetry {
		delay = time.Duration(step.Retry.DelaySeconds * float64(time.Second))
	}

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		r.mu.Lock()
		stepResult.Attempt = attempt
		r.mu.Unlock()

		if attempt > 1 {
			if !sleepOrCancel(ctx, delay) {
				stepErr = api.NewTimeoutError("execution cancelled during retry wait")
				break
			}
			if step.Retry.Backoff == workflow.BackoffExponential {
				delay = nextBackoff(delay, step.Retry)
			}
		}

		output, stepErr = r.attempt(ctx, step)
		if stepErr == nil {
			break
		}
		logging.Debug("Engine", "Step %s attempt %d/%d failed: %s", step.ID, attempt, maxAttempts, stepErr.Message)
		if ctx.Err() != nil {
			break
		}
	}

	now := time.Now()
	r.mu.Lock()
	defer r.mu.Unlock()
	stepResult.CompletedAt = &now

	if stepErr == nil {
		stepResult.Status = api.StepStatusCompleted
		stepResult.Output = output
		r.outputs[step.ID] = output
		return false
	}

	stepErr.StepID = step.ID
	switch policy {
	case workflow.ErrorPolicySkip:
		stepResult.Status = api.StepStatusSkipped
		stepResult.Error = stepErr
		return false
	default:
		stepResult.Status = api.StepStatusFailed
		stepResult.Error = stepErr
		if r.result.Error == nil {
			r.result.Error = stepErr
		}
		r.result.Status = api.ExecutionStatusFailed
		return true
	}
}

// attempt executes the step body once.
func (r *run) attempt(ctx context.Context, step *workflow.StepDefinition) (interface{}, *api.Error) {
	if step.IsScript() {
		return r.runScript(ctx, step)
	}
	return r.runTool(ctx, step)
}

func (r *run) runScript(ctx context.Context, step *workflow.StepDefinition) (interface{}, *api.Error) {
	ec := sandbox.NewExecutionContext(r.inputs, r.stepData(), nil, r.engine.invoker)

	scriptCtx := ctx
	if step.Timeout > 0 {
		var cancel context.CancelFunc
		scriptCtx, cancel = context.WithTimeout(ctx, time.Duration(step.Timeout*float64(time.Second)))
		defer cancel()
	}

	execResult := r.engine.sandbox.Execute(scriptCtx, step.Code, ec)
	if !execResult.Success {
		return nil, execResult.Error
	}
	return execResult.Result, nil
}

func (r *run) runTool(ctx context.Context, step *workflow.StepDefinition) (interface{}, *api.Error) {
	rendered, err := r.engine.templates.Render(step.Params, r.namespace())
	if err != nil {
		return nil, api.NewValidationError("step %s params: %v", step.ID, err)
	}
	params, _ := rendered.(map[string]interface{})

	req := invoker.Request{
		ToolName:    step.Tool,
		Arguments:   params,
		StepID:      step.ID,
		ExecutionID: r.result.ExecutionID,
	}
	if step.Timeout > 0 {
		req.Timeout = time.Duration(step.Timeout * float64(time.Second))
	}

	callResult := r.engine.invoker.Invoke(ctx, req)
	if !callResult.Success {
		if callResult.Error != nil {
			return nil, callResult.Error
		}
		return nil, api.NewExecutionError(false, "tool %s failed", step.Tool)
	}
	return callResult.Output, nil
}

// namespace is the template and output-resolution view of the
// execution: inputs plus the outputs and statuses of terminal steps.
func (r *run) namespace() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()

	steps := map[string]interface{}{}
	for i := range r.def.Steps {
		status := r.result.Steps[i].Status
		if status != api.StepStatusCompleted && status != api.StepStatusSkipped {
			continue
		}
		steps[r.def.Steps[i].ID] = map[string]interface{}{
			"output": r.outputs[r.def.Steps[i].ID],
			"status": string(status),
		}
	}
	return map[string]interface{}{
		"inputs": r.inputs,
		"steps":  steps,
	}
}

// stepData is the sandbox-facing view of terminal steps.
func (r *run) stepData() map[string]*sandbox.StepData {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := map[string]*sandbox.StepData{}
	for i := range r.def.Steps {
		status := r.result.Steps[i].Status
		if status != api.StepStatusCompleted && status != api.StepStatusSkipped {
			continue
		}
		out[r.def.Steps[i].ID] = &sandbox.StepData{
			Output: r.outputs[r.def.Steps[i].ID],
			Status: string(status),
		}
	}
	return out
}

// sleepOrCancel waits for d, returning false when the context ends
// first.
func sleepOrCancel(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func nextBackoff(current time.Duration, cfg *workflow.RetryConfig) time.Duration {
	multiplier := cfg.BackoffMultiplier
	if multiplier <= 1 {
		multiplier = 2
	}
	next := time.Duration(float64(current) * multiplier)
	if cfg.MaxBackoff > 0 {
		max := time.Duration(cfg.MaxBackoff * float64(time.Second))
		if next > max {
			next = max
		}
	}
	return next
}
