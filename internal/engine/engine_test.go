package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/api"
	"ael/internal/invoker"
	"ael/internal/sandbox"
	"ael/internal/workflow"
)

// fakeInvoker scripts per-tool behavior: the first failures[tool] calls
// fail, later calls return outputs[tool].
type fakeInvoker struct {
	mu       sync.Mutex
	calls    map[string][]map[string]interface{}
	failures map[string]int
	outputs  map[string]interface{}
}

func newFakeInvoker() *fakeInvoker {
	return &fakeInvoker{
		calls:    map[string][]map[string]interface{}{},
		failures: map[string]int{},
		outputs:  map[string]interface{}{},
	}
}

func (f *fakeInvoker) Invoke(ctx context.Context, req invoker.Request) *api.ToolCallResult {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls[req.ToolName] = append(f.calls[req.ToolName], req.Arguments)
	if f.failures[req.ToolName] > 0 {
		f.failures[req.ToolName]--
		return &api.ToolCallResult{
			Success:  false,
			ToolName: req.ToolName,
			Error:    api.NewExecutionError(true, "transient failure"),
		}
	}
	return &api.ToolCallResult{
		Success:  true,
		ToolName: req.ToolName,
		Output:   f.outputs[req.ToolName],
	}
}

func (f *fakeInvoker) CallTool(ctx context.Context, name string, args map[string]interface{}) (*api.ToolCallResult, error) {
	return f.Invoke(ctx, invoker.Request{ToolName: name, Arguments: args}), nil
}

func (f *fakeInvoker) callCount(tool string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls[tool])
}

func newTestEngine(inv ToolInvoker) *Engine {
	return New(sandbox.New(sandbox.Options{}), inv, Options{})
}

func scriptStep(id, code string) workflow.StepDefinition {
	return workflow.StepDefinition{ID: id, Code: code}
}

func TestChainedScriptSteps(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "chained",
		Steps: []workflow.StepDefinition{
			scriptStep("s1", `result = 'hello'`),
			scriptStep("s2", `result = context.steps['s1'].output + ' world'`),
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.Empty(t, result.Outputs)
	assert.Equal(t, "hello world", result.Step("s2").Output)
	assert.Equal(t, 2, result.StepsCompleted)
	assert.Contains(t, result.ExecutionID, "exec-")
}

func TestRequiredInput(t *testing.T) {
	def := &workflow.Definition{
		Name:   "greeting",
		Inputs: []workflow.InputDefinition{{Name: "name", Type: "string", Required: true}},
		Steps: []workflow.StepDefinition{
			scriptStep("greet", `result = f"Hello, {context.inputs['name']}!"`),
		},
		Outputs: []workflow.OutputDefinition{{Name: "greeting", FromPath: "steps.greet.output"}},
	}

	eng := newTestEngine(newFakeInvoker())

	result := eng.Execute(context.Background(), def, map[string]interface{}{})
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "name")
	assert.Equal(t, 0, result.StepsCompleted, "no step runs after validation failure")

	result = eng.Execute(context.Background(), def, map[string]interface{}{"name": "Alice"})
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.Equal(t, "Hello, Alice!", result.Outputs["greeting"])
}

func TestOptionalInputDefault(t *testing.T) {
	def := &workflow.Definition{
		Name:   "defaults",
		Inputs: []workflow.InputDefinition{{Name: "units", Default: "metric"}},
		Steps: []workflow.StepDefinition{
			scriptStep("echo", `result = context.inputs['units']`),
		},
	}

	result := newTestEngine(newFakeInvoker()).Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.Equal(t, "metric", result.Step("echo").Output)
}

func TestToolParamsAreRendered(t *testing.T) {
	inv := newFakeInvoker()
	inv.outputs["fetch_url"] = map[string]interface{}{"status": 200}
	eng := newTestEngine(inv)

	def := &workflow.Definition{
		Name:   "fetch",
		Inputs: []workflow.InputDefinition{{Name: "url", Required: true}},
		Steps: []workflow.StepDefinition{
			{ID: "get", Tool: "fetch_url", Params: map[string]interface{}{"url": "{{ inputs.url }}"}},
		},
	}

	result := eng.Execute(context.Background(), def, map[string]interface{}{"url": "https://x.test"})
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)

	require.Len(t, inv.calls["fetch_url"], 1)
	assert.Equal(t, "https://x.test", inv.calls["fetch_url"][0]["url"])
}

func TestRetrySucceedsOnThirdAttempt(t *testing.T) {
	inv := newFakeInvoker()
	inv.failures["flaky"] = 2
	inv.outputs["flaky"] = "ok"
	eng := newTestEngine(inv)

	def := &workflow.Definition{
		Name: "retrying",
		Steps: []workflow.StepDefinition{
			{
				ID:      "try",
				Tool:    "flaky",
				OnError: workflow.ErrorPolicyRetry,
				Retry:   &workflow.RetryConfig{MaxAttempts: 5, Backoff: workflow.BackoffFixed, DelaySeconds: 0.001},
			},
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)

	step := result.Step("try")
	assert.Equal(t, 3, step.Attempt)
	assert.Equal(t, 5, step.MaxAttempts)
	assert.Equal(t, 3, inv.callCount("flaky"))
	assert.Equal(t, "ok", step.Output)
}

func TestRetryExhaustsAttempts(t *testing.T) {
	inv := newFakeInvoker()
	inv.failures["flaky"] = 100
	eng := newTestEngine(inv)

	def := &workflow.Definition{
		Name: "retrying",
		Steps: []workflow.StepDefinition{
			{
				ID:      "try",
				Tool:    "flaky",
				OnError: workflow.ErrorPolicyRetry,
				Retry:   &workflow.RetryConfig{MaxAttempts: 3, Backoff: workflow.BackoffFixed, DelaySeconds: 0.001},
			},
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	assert.Equal(t, 3, inv.callCount("flaky"))
	assert.Equal(t, api.StepStatusFailed, result.Step("try").Status)
	assert.Equal(t, 3, result.Step("try").Attempt)
	assert.Equal(t, 1, result.StepsFailed)
	require.NotNil(t, result.Error)
	assert.Equal(t, "try", result.Error.StepID)
}

func TestSkipPolicyContinues(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "skipping",
		Steps: []workflow.StepDefinition{
			{ID: "broken", Code: `result = 1 / 0`, OnError: workflow.ErrorPolicySkip},
			scriptStep("after", `result = 'still ran'`),
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.Equal(t, api.StepStatusSkipped, result.Step("broken").Status)
	assert.Equal(t, "still ran", result.Step("after").Output)
	assert.Equal(t, 1, result.StepsSkipped)
	assert.Equal(t, 1, result.StepsCompleted)
	assert.Equal(t, 0, result.StepsFailed)
}

func TestFailPolicyStopsExecution(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "failing",
		Steps: []workflow.StepDefinition{
			{ID: "broken", Code: `result = 1 / 0`},
			scriptStep("never", `result = 'unreached'`),
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	assert.Equal(t, api.StepStatusFailed, result.Step("broken").Status)
	assert.Equal(t, api.StepStatusPending, result.Step("never").Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, "broken", result.Error.StepID)
	assert.Equal(t, api.CategoryExecution, result.Error.Category)
}

func TestSecurityViolationIsAttributed(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "forbidden",
		Steps: []workflow.StepDefinition{
			{ID: "evil", Code: `result = eval('1+1')`},
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
	assert.Equal(t, "evil", result.Error.StepID)
}

func TestExplicitDependenciesGateExecution(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "diamond",
		Steps: []workflow.StepDefinition{
			scriptStep("base", `result = 2`),
			{ID: "double", Code: `result = context.steps['base'].output * 2`, DependsOn: []string{"base"}},
			{ID: "triple", Code: `result = context.steps['base'].output * 3`, DependsOn: []string{"base"}},
			{ID: "sum", Code: `result = context.steps['double'].output + context.steps['triple'].output`,
				DependsOn: []string{"double", "triple"}},
		},
		Outputs: []workflow.OutputDefinition{{Name: "total", FromPath: "steps.sum.output"}},
	}

	result := eng.Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.EqualValues(t, 10, result.Outputs["total"])
}

func TestMissingOutputPathFails(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "missing-output",
		Steps: []workflow.StepDefinition{
			scriptStep("only", `result = {"a": 1}`),
		},
		Outputs: []workflow.OutputDefinition{{Name: "b", FromPath: "steps.only.output.b"}},
	}

	result := eng.Execute(context.Background(), def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	require.NotNil(t, result.Error)
	assert.Contains(t, result.Error.Message, "b")
}

func TestLiteralOutputValue(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "literal",
		Steps: []workflow.StepDefinition{
			scriptStep("only", `result = 1`),
		},
		Outputs: []workflow.OutputDefinition{{Name: "version", Value: "v1"}},
	}

	result := eng.Execute(context.Background(), def, nil)
	require.Equal(t, api.ExecutionStatusCompleted, result.Status, "error: %v", result.Error)
	assert.Equal(t, "v1", result.Outputs["version"])
}

func TestCancellationLeavesRemainingStepsPending(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name: "spinning",
		Steps: []workflow.StepDefinition{
			scriptStep("spin", "while True:\n    x = 1\nresult = 1"),
			scriptStep("never", `result = 2`),
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	result := eng.Execute(ctx, def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	assert.Equal(t, api.StepStatusFailed, result.Step("spin").Status)
	assert.Equal(t, api.StepStatusPending, result.Step("never").Status)
}

func TestInvalidDefinitionFailsWithoutRunning(t *testing.T) {
	inv := newFakeInvoker()
	eng := newTestEngine(inv)
	def := &workflow.Definition{
		Name: "bad",
		Steps: []workflow.StepDefinition{
			{ID: "a", Tool: "x", DependsOn: []string{"ghost"}},
		},
	}

	result := eng.Execute(context.Background(), def, nil)
	assert.Equal(t, api.ExecutionStatusFailed, result.Status)
	assert.Equal(t, api.CategoryValidation, result.Error.Category)
	assert.Zero(t, inv.callCount("x"))
}

func TestStoreRecordsExecutions(t *testing.T) {
	eng := newTestEngine(newFakeInvoker())
	def := &workflow.Definition{
		Name:  "recorded",
		Steps: []workflow.StepDefinition{scriptStep("only", `result = 1`)},
	}

	first := eng.Execute(context.Background(), def, nil)
	second := eng.Execute(context.Background(), def, nil)

	got, err := eng.Store().Get(first.ExecutionID)
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionStatusCompleted, got.Status)

	_, err = eng.Store().Get("exec-nope")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))

	page := eng.Store().List(&api.ListExecutionsRequest{Limit: 1})
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Executions, 1)
	assert.True(t, page.HasMore)

	rest := eng.Store().List(&api.ListExecutionsRequest{Limit: 10, Offset: 1})
	require.Len(t, rest.Executions, 1)
	assert.False(t, rest.HasMore)

	filtered := eng.Store().List(&api.ListExecutionsRequest{WorkflowID: "recorded"})
	assert.Equal(t, 2, filtered.Total)
	assert.NotEqual(t, first.ExecutionID, second.ExecutionID)

	step, err := eng.Store().GetStep(first.ExecutionID, "only")
	require.NoError(t, err)
	assert.Equal(t, api.StepStatusCompleted, step.Status)

	_, err = eng.Store().GetStep(first.ExecutionID, "missing")
	require.Error(t, err)
}

func TestStoreReturnsSnapshots(t *testing.T) {
	store := NewStore()
	record := &api.ExecutionResult{
		ExecutionID: "exec-snap",
		WorkflowID:  "snapshot",
		Status:      api.ExecutionStatusRunning,
		Steps:       []*api.StepResult{{StepID: "s1", Status: api.StepStatusRunning}},
		Outputs:     map[string]interface{}{},
	}
	store.Put(record)

	record.Status = api.ExecutionStatusFailed
	record.Steps[0].Status = api.StepStatusFailed
	record.Outputs["leak"] = true

	got, err := store.Get("exec-snap")
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionStatusRunning, got.Status)
	assert.Equal(t, api.StepStatusRunning, got.Steps[0].Status)
	assert.Empty(t, got.Outputs)

	record.Status = api.ExecutionStatusCompleted
	store.Put(record)
	got, err = store.Get("exec-snap")
	require.NoError(t, err)
	assert.Equal(t, api.ExecutionStatusCompleted, got.Status)
}
