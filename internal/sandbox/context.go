package sandbox

import (
	"context"
	"fmt"

	"ael/internal/api"
)

// ToolCaller is the sandbox's only path to the outside world. The invoker
// implements it; scripts reach it as context.tools.
type ToolCaller interface {
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*api.ToolCallResult, error)
}

// ExecutionContext is the data a script may see. It is assembled fresh
// per execution and exposed read-only inside the interpreter.
type ExecutionContext struct {
	Inputs map[string]interface{}
	Steps  map[string]*StepData
	Config map[string]interface{}
	Tools  ToolCaller

	// BlockedTools always contains python_exec so a script cannot spawn
	// nested sandbox executions through the tool interface.
	BlockedTools map[string]bool

	// MaxToolCalls caps context.tools.call invocations per execution.
	MaxToolCalls int
}

// StepData is a completed step's outcome as visible to later scripts.
type StepData struct {
	Output interface{}
	Status string
}

// NewExecutionContext builds a context with the recursion block applied.
func NewExecutionContext(inputs map[string]interface{}, steps map[string]*StepData, config map[string]interface{}, tools ToolCaller) *ExecutionContext {
	blocked := map[string]bool{systemToolName: true}
	return &ExecutionContext{
		Inputs:       inputs,
		Steps:        steps,
		Config:       config,
		Tools:        tools,
		BlockedTools: blocked,
		MaxToolCalls: DefaultMaxToolCalls,
	}
}

// ---- interpreter-facing wrappers ----

// contextValue is the `context` name inside a script. The tools wrapper
// is created once so the rate-limit counter survives repeated attribute
// access.
type contextValue struct {
	ec     *ExecutionContext
	tools  *toolsValue
	inputs interface{}
	config interface{}
}

func orEmpty(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return map[string]interface{}{}
	}
	return m
}

func (c *contextValue) attr(name string) (interface{}, error) {
	switch name {
	case "inputs":
		if c.inputs == nil {
			c.inputs = toInternal(orEmpty(c.ec.Inputs))
		}
		return c.inputs, nil
	case "steps":
		return &stepsValue{ec: c.ec}, nil
	case "config":
		if c.config == nil {
			c.config = toInternal(orEmpty(c.ec.Config))
		}
		return c.config, nil
	case "tools":
		if c.tools == nil {
			c.tools = &toolsValue{ec: c.ec}
		}
		return c.tools, nil
	}
	return nil, fmt.Errorf("'ExecutionContext' object has no attribute %q", name)
}

// stepsValue is `context.steps`: indexable by step id.
type stepsValue struct {
	ec *ExecutionContext
}

func (s *stepsValue) index(key interface{}) (interface{}, error) {
	id, ok := key.(string)
	if !ok {
		return nil, fmt.Errorf("step ids are strings, got %s", typeName(key))
	}
	entry, ok := s.ec.Steps[id]
	if !ok {
		return nil, fmt.Errorf("no completed step %q", id)
	}
	return &stepEntryValue{id: id, data: entry}, nil
}

func (s *stepsValue) contains(key interface{}) bool {
	id, ok := key.(string)
	if !ok {
		return false
	}
	_, present := s.ec.Steps[id]
	return present
}

// stepEntryValue is `context.steps[id]`: exposes .output and .status.
type stepEntryValue struct {
	id   string
	data *StepData
}

func (e *stepEntryValue) attr(name string) (interface{}, error) {
	switch name {
	case "output":
		return toInternal(e.data.Output), nil
	case "status":
		return e.data.Status, nil
	}
	return nil, fmt.Errorf("step %q has no attribute %q", e.id, name)
}

// toolsValue is `context.tools`: the rate-limited call surface.
type toolsValue struct {
	ec    *ExecutionContext
	calls int
}

func (t *toolsValue) call(ctx context.Context, name string, args map[string]interface{}) (interface{}, error) {
	if t.ec.BlockedTools[name] {
		return nil, api.NewSecurityError("tool %q is blocked inside script execution", name)
	}
	limit := t.ec.MaxToolCalls
	if limit <= 0 {
		limit = DefaultMaxToolCalls
	}
	if t.calls >= limit {
		return nil, api.NewSecurityError("tool call limit exceeded (%d calls per execution)", limit)
	}
	t.calls++

	if t.ec.Tools == nil {
		return nil, api.NewToolUnavailableError(name)
	}
	result, err := t.ec.Tools.CallTool(ctx, name, args)
	if err != nil {
		return nil, err
	}
	if !result.Success {
		msg := "tool call failed"
		if result.Error != nil {
			msg = result.Error.Message
		}
		return nil, fmt.Errorf("tool %q failed: %s", name, msg)
	}
	return result.Output, nil
}
