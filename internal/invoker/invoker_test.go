package invoker

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/api"
	"ael/internal/backend"
	"ael/internal/registry"
	"ael/internal/sandbox"
)

type fakeConnection struct {
	name  string
	tools []mcp.Tool

	mu        sync.Mutex
	calls     []string
	result    *mcp.CallToolResult
	callErr   error
	connected bool
}

func (f *fakeConnection) Name() string                        { return f.name }
func (f *fakeConnection) Connect(ctx context.Context) error   { f.connected = true; return nil }
func (f *fakeConnection) IsConnected() bool                   { return f.connected }
func (f *fakeConnection) Ping(ctx context.Context) error      { return nil }
func (f *fakeConnection) Close() error                        { return nil }
func (f *fakeConnection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	return f.tools, nil
}

func (f *fakeConnection) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, name)
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.result, nil
}

func (f *fakeConnection) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}
}

func newTestInvoker(t *testing.T, conns ...*fakeConnection) (*Invoker, *registry.ToolRegistry) {
	t.Helper()
	mgr := backend.NewManager()
	for _, conn := range conns {
		require.NoError(t, mgr.Add(conn))
	}
	reg := registry.New(mgr)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)
	return New(reg, mgr, sandbox.New(sandbox.Options{})), reg
}

func TestCallUnknownTool(t *testing.T) {
	inv, _ := newTestInvoker(t)

	result := inv.Call(context.Background(), "no_such_tool", nil)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategoryToolUnavailable, result.Error.Category)
	assert.Equal(t, "no_such_tool", result.ToolName)
}

func TestCallBackendTool(t *testing.T) {
	conn := &fakeConnection{
		name:      "weather",
		connected: true,
		tools:     []mcp.Tool{{Name: "get_forecast", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		result:    textResult(`{"temperature": 18.5, "condition": "cloudy"}`),
	}
	inv, _ := newTestInvoker(t, conn)

	result := inv.Call(context.Background(), "get_forecast", map[string]interface{}{"city": "Berlin"})
	require.True(t, result.Success, "error: %v", result.Error)

	output, ok := result.Output.(map[string]interface{})
	require.True(t, ok, "expected structured output, got %T", result.Output)
	assert.Equal(t, 18.5, output["temperature"])
	assert.Equal(t, "cloudy", output["condition"])
}

func TestCallBackendToolPlainText(t *testing.T) {
	conn := &fakeConnection{
		name:      "files",
		connected: true,
		tools:     []mcp.Tool{{Name: "read_file", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		result:    textResult("hello world"),
	}
	inv, _ := newTestInvoker(t, conn)

	result := inv.Call(context.Background(), "read_file", nil)
	require.True(t, result.Success)
	assert.Equal(t, "hello world", result.Output)
}

func TestCallBackendToolReportsError(t *testing.T) {
	conn := &fakeConnection{
		name:      "weather",
		connected: true,
		tools:     []mcp.Tool{{Name: "get_forecast", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		result: &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewTextContent("city not found")},
			IsError: true,
		},
	}
	inv, _ := newTestInvoker(t, conn)

	result := inv.Call(context.Background(), "get_forecast", nil)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategoryExecution, result.Error.Category)
	assert.Contains(t, result.Error.Message, "city not found")
}

func TestCallBackendTransportFailureIsRetryable(t *testing.T) {
	conn := &fakeConnection{
		name:      "weather",
		connected: true,
		tools:     []mcp.Tool{{Name: "get_forecast", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		callErr:   fmt.Errorf("connection reset"),
	}
	inv, _ := newTestInvoker(t, conn)

	result := inv.Call(context.Background(), "get_forecast", nil)
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.True(t, result.Error.Retryable)
}

func TestPythonExecTool(t *testing.T) {
	inv, _ := newTestInvoker(t)

	result := inv.Call(context.Background(), registry.PythonExecToolName, map[string]interface{}{
		"code":    "result = context.inputs['a'] + context.inputs['b']",
		"context": map[string]interface{}{"a": 2, "b": 3},
	})
	require.True(t, result.Success, "error: %v", result.Error)
	assert.EqualValues(t, 5, result.Output)
}

func TestPythonExecRequiresCode(t *testing.T) {
	inv, _ := newTestInvoker(t)

	result := inv.Call(context.Background(), registry.PythonExecToolName, map[string]interface{}{})
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategoryValidation, result.Error.Category)
}

func TestPythonExecScriptFailureIsStructured(t *testing.T) {
	inv, _ := newTestInvoker(t)

	result := inv.Call(context.Background(), registry.PythonExecToolName, map[string]interface{}{
		"code": "import os\nresult = 1",
	})
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}

func TestScriptCanCallBackendTools(t *testing.T) {
	conn := &fakeConnection{
		name:      "weather",
		connected: true,
		tools:     []mcp.Tool{{Name: "get_forecast", InputSchema: mcp.ToolInputSchema{Type: "object"}}},
		result:    textResult(`{"temperature": 21}`),
	}
	inv, _ := newTestInvoker(t, conn)

	result := inv.Call(context.Background(), registry.PythonExecToolName, map[string]interface{}{
		"code": "r = context.tools.call('get_forecast', {'city': 'Oslo'})\nresult = r['temperature']",
	})
	require.True(t, result.Success, "error: %v", result.Error)
	assert.EqualValues(t, 21, result.Output)
	assert.Equal(t, 1, conn.callCount())
}

func TestScriptCannotRecurseIntoSandbox(t *testing.T) {
	inv, _ := newTestInvoker(t)

	result := inv.Call(context.Background(), registry.PythonExecToolName, map[string]interface{}{
		"code": "result = context.tools.call('python_exec', {'code': 'result = 1'})",
	})
	assert.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}
