package frontend

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/backend"
	"ael/internal/engine"
	"ael/internal/invoker"
	"ael/internal/registry"
	"ael/internal/sandbox"
	"ael/internal/workflow"
)

func newTestFrontend(t *testing.T) *Frontend {
	t.Helper()

	mgr := backend.NewManager()
	reg := registry.New(mgr)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	sb := sandbox.New(sandbox.Options{})
	inv := invoker.New(reg, mgr, sb)
	eng := engine.New(sb, inv, engine.Options{})

	catalog := workflow.NewCatalog()
	require.NoError(t, catalog.Register(&workflow.Definition{
		Name:        "greet",
		Description: "Greets someone",
		Inputs:      []workflow.InputDefinition{{Name: "name", Type: "string", Required: true}},
		Steps: []workflow.StepDefinition{
			{ID: "say", Code: `result = f"Hello, {context.inputs['name']}!"`},
		},
		Outputs: []workflow.OutputDefinition{{Name: "greeting", FromPath: "steps.say.output"}},
	}))

	return New(reg, inv, eng, catalog, Options{Transport: "stdio"})
}

func callRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestWorkflowRejectedInConfigurationMode(t *testing.T) {
	f := newTestFrontend(t)
	assert.Equal(t, ModeConfiguration, f.Mode())

	handler := f.workflowHandler("greet")
	result, err := handler(context.Background(), callRequest("workflow:greet", map[string]interface{}{"name": "Bob"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "configuration mode")
}

func TestWorkflowExecutesInRunningMode(t *testing.T) {
	f := newTestFrontend(t)
	f.SetMode(ModeRunning)

	handler := f.workflowHandler("greet")
	result, err := handler(context.Background(), callRequest("workflow:greet", map[string]interface{}{"name": "Bob"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var execution map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &execution))
	assert.Equal(t, "completed", execution["status"])
	outputs := execution["outputs"].(map[string]interface{})
	assert.Equal(t, "Hello, Bob!", outputs["greeting"])
}

func TestWorkflowFailureIsStructuredNotError(t *testing.T) {
	f := newTestFrontend(t)
	f.SetMode(ModeRunning)

	handler := f.workflowHandler("greet")
	result, err := handler(context.Background(), callRequest("workflow:greet", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError, "a failed execution is still a structured result")

	var execution map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(resultText(t, result)), &execution))
	assert.Equal(t, "failed", execution["status"])
}

func TestUnknownWorkflow(t *testing.T) {
	f := newTestFrontend(t)
	f.SetMode(ModeRunning)

	handler := f.workflowHandler("missing")
	result, err := handler(context.Background(), callRequest("workflow:missing", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestToolHandlerRoutesThroughInvoker(t *testing.T) {
	f := newTestFrontend(t)

	handler := f.toolHandler(registry.PythonExecToolName)
	result, err := handler(context.Background(), callRequest(registry.PythonExecToolName, map[string]interface{}{
		"code": "result = 2 + 3",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Equal(t, "5", resultText(t, result))

	result, err = handler(context.Background(), callRequest(registry.PythonExecToolName, map[string]interface{}{
		"code": "import socket",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestSyncToolsPublishesRegistryAndCatalog(t *testing.T) {
	f := newTestFrontend(t)
	f.mcpServer = server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(true))

	f.SyncTools()
	assert.True(t, f.exposed[registry.PythonExecToolName])
	assert.True(t, f.exposed["workflow:greet"])

	f.catalog.Remove("greet")
	f.SyncTools()
	assert.False(t, f.exposed["workflow:greet"])
	assert.True(t, f.exposed[registry.PythonExecToolName])
}

func TestCatalogChangesRepublishWorkflowTools(t *testing.T) {
	f := newTestFrontend(t)
	f.mcpServer = server.NewMCPServer("test", "0.0.0", server.WithToolCapabilities(true))
	f.SyncTools()
	assert.True(t, f.exposed["workflow:greet"])

	require.NoError(t, f.catalog.Register(&workflow.Definition{
		Name:  "farewell",
		Steps: []workflow.StepDefinition{{ID: "say", Code: `result = "bye"`}},
	}))
	assert.True(t, f.exposed["workflow:farewell"])

	f.catalog.Remove("farewell")
	assert.False(t, f.exposed["workflow:farewell"])
	assert.True(t, f.exposed["workflow:greet"])
}

func TestIsWorkflowTool(t *testing.T) {
	assert.True(t, IsWorkflowTool("workflow:greet"))
	assert.False(t, IsWorkflowTool("get_forecast"))
}
