// Package invoker is the single entry point for executing tools. It
// routes a named call either to the sandbox (for the built-in script
// tool) or to the owning MCP backend, and always returns a structured
// result rather than letting failures escape as errors.
package invoker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"ael/internal/api"
	"ael/internal/backend"
	"ael/internal/registry"
	"ael/internal/sandbox"
	"ael/pkg/logging"
)

// DefaultCallTimeout bounds a single backend tool call when the caller
// supplies no deadline of its own.
const DefaultCallTimeout = 60 * time.Second

// Invoker executes tools by name. It implements sandbox.ToolCaller so
// scripts can call tools through the same routing and limits as any
// other caller.
type Invoker struct {
	registry *registry.ToolRegistry
	backends *backend.Manager
	sandbox  *sandbox.Sandbox
	timeout  time.Duration
}

func New(reg *registry.ToolRegistry, backends *backend.Manager, sb *sandbox.Sandbox) *Invoker {
	return &Invoker{
		registry: reg,
		backends: backends,
		sandbox:  sb,
		timeout:  DefaultCallTimeout,
	}
}

// Request describes one tool invocation. StepID and ExecutionID are
// carried through to error reporting and logs when the call originates
// from a workflow step.
type Request struct {
	ToolName    string
	Arguments   map[string]interface{}
	Timeout     time.Duration
	StepID      string
	ExecutionID string
}

// Call executes the named tool with default settings. See Invoke.
func (i *Invoker) Call(ctx context.Context, name string, args map[string]interface{}) *api.ToolCallResult {
	return i.Invoke(ctx, Request{ToolName: name, Arguments: args})
}

// Invoke executes a tool and reports the outcome. It never returns a Go
// error: routing failures, backend errors, and sandbox violations all
// land in the result's Error field with Success false.
func (i *Invoker) Invoke(ctx context.Context, req Request) *api.ToolCallResult {
	start := time.Now()

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	result := i.dispatch(ctx, req.ToolName, req.Arguments)
	result.ToolName = req.ToolName
	result.DurationMs = time.Since(start).Milliseconds()

	if !result.Success && result.Error != nil {
		if result.Error.StepID == "" {
			result.Error.StepID = req.StepID
		}
		logging.Debug("Invoker", "Tool %s failed after %dms (execution=%s step=%s): %s",
			req.ToolName, result.DurationMs, req.ExecutionID, req.StepID, result.Error.Message)
	}
	return result
}

// CallTool adapts Call to the sandbox's ToolCaller interface.
func (i *Invoker) CallTool(ctx context.Context, name string, args map[string]interface{}) (*api.ToolCallResult, error) {
	return i.Call(ctx, name, args), nil
}

func (i *Invoker) dispatch(ctx context.Context, name string, args map[string]interface{}) *api.ToolCallResult {
	router, err := i.registry.GetRouter(name)
	if err != nil {
		return failed(err)
	}

	switch router.Source {
	case api.ToolSourceSystem:
		return i.callSystem(ctx, name, args)
	case api.ToolSourceMCP:
		return i.callBackend(ctx, router.ServerName, name, args)
	}
	return failed(api.NewExecutionError(false, "tool %s has unknown source %q", name, router.Source))
}

// callSystem handles the built-in tools. python_exec is currently the
// only one.
func (i *Invoker) callSystem(ctx context.Context, name string, args map[string]interface{}) *api.ToolCallResult {
	if name != registry.PythonExecToolName {
		return failed(api.NewExecutionError(false, "unknown system tool %s", name))
	}

	code, ok := args["code"].(string)
	if !ok || code == "" {
		return failed(api.NewValidationError("python_exec requires a non-empty 'code' string argument"))
	}
	inputs, _ := args["context"].(map[string]interface{})

	ec := sandbox.NewExecutionContext(inputs, nil, nil, i)
	execResult := i.sandbox.Execute(ctx, code, ec)
	if !execResult.Success {
		return failed(execResult.Error)
	}
	return &api.ToolCallResult{Success: true, Output: execResult.Result}
}

func (i *Invoker) callBackend(ctx context.Context, server, name string, args map[string]interface{}) *api.ToolCallResult {
	conn, err := i.backends.Get(server)
	if err != nil {
		return failed(api.NewToolUnavailableError(name))
	}

	callCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, i.timeout)
		defer cancel()
	}

	mcpResult, err := conn.CallTool(callCtx, name, args)
	if err != nil {
		if callCtx.Err() == context.DeadlineExceeded {
			return failed(api.NewTimeoutError("tool %s timed out after %s", name, i.timeout))
		}
		return failed(api.NewExecutionError(true, "tool %s failed: %v", name, err))
	}

	output := extractOutput(mcpResult)
	if mcpResult.IsError {
		msg, _ := output.(string)
		if msg == "" {
			msg = "tool reported an error"
		}
		return failed(api.NewExecutionError(false, "%s", msg))
	}
	return &api.ToolCallResult{Success: true, Output: output}
}

// extractOutput flattens an MCP result's content into a plain value.
// Text content that parses as JSON comes back structured; otherwise the
// raw text is returned.
func extractOutput(result *mcp.CallToolResult) interface{} {
	if result == nil || len(result.Content) == 0 {
		return nil
	}

	texts := make([]string, 0, len(result.Content))
	for _, content := range result.Content {
		if textContent, ok := content.(mcp.TextContent); ok {
			texts = append(texts, textContent.Text)
		}
	}
	if len(texts) == 0 {
		return nil
	}

	if len(texts) == 1 {
		var parsed interface{}
		if err := json.Unmarshal([]byte(texts[0]), &parsed); err == nil {
			return parsed
		}
		return texts[0]
	}

	out := make([]interface{}, len(texts))
	for i, t := range texts {
		out[i] = t
	}
	return out
}

func failed(err error) *api.ToolCallResult {
	apiErr, ok := err.(*api.Error)
	if !ok {
		apiErr = api.NewExecutionError(false, "%v", err)
	}
	return &api.ToolCallResult{Success: false, Error: apiErr}
}
