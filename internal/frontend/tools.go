package frontend

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"ael/internal/workflow"
	"ael/pkg/logging"
)

// workflowToolPrefix namespaces workflow pseudo-tools apart from
// backend tools.
const workflowToolPrefix = "workflow:"

// SyncTools reconciles the MCP server's published tool list against the
// registry's available tools and the workflow catalog. Call it after a
// registry refresh or a catalog reload.
func (f *Frontend) SyncTools() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.mcpServer == nil {
		return
	}

	current := map[string]bool{}
	var toAdd []server.ServerTool

	for _, entry := range f.registry.ForMCPExposure() {
		name := entry["name"].(string)
		current[name] = true
		if f.exposed[name] {
			continue
		}
		schema, _ := entry["inputSchema"].(map[string]interface{})
		toAdd = append(toAdd, server.ServerTool{
			Tool: mcp.Tool{
				Name:        name,
				Description: entry["description"].(string),
				InputSchema: toolInputSchema(schema),
			},
			Handler: f.toolHandler(name),
		})
	}

	for _, def := range f.catalog.List() {
		name := workflowToolPrefix + def.Name
		current[name] = true
		if f.exposed[name] {
			continue
		}
		toAdd = append(toAdd, server.ServerTool{
			Tool: mcp.Tool{
				Name:        name,
				Description: workflowDescription(def),
				InputSchema: workflowInputSchema(def),
			},
			Handler: f.workflowHandler(def.Name),
		})
	}

	var toDelete []string
	for name := range f.exposed {
		if !current[name] {
			toDelete = append(toDelete, name)
		}
	}

	if len(toDelete) > 0 {
		f.mcpServer.DeleteTools(toDelete...)
		for _, name := range toDelete {
			delete(f.exposed, name)
		}
	}
	if len(toAdd) > 0 {
		f.mcpServer.AddTools(toAdd...)
		for _, st := range toAdd {
			f.exposed[st.Tool.Name] = true
		}
	}

	logging.Debug("Frontend", "Published %d tools (%d added, %d removed)", len(current), len(toAdd), len(toDelete))
}

// toolHandler routes a tool call through the invoker.
func (f *Frontend) toolHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		result := f.invoker.Call(ctx, name, requestArgs(req))
		if !result.Success {
			msg := "tool call failed"
			if result.Error != nil {
				msg = result.Error.Error()
			}
			return mcp.NewToolResultError(msg), nil
		}
		return toolResultJSON(result.Output)
	}
}

// workflowHandler executes the named workflow through the engine. The
// definition is looked up per call so catalog reloads take effect.
func (f *Frontend) workflowHandler(name string) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if f.Mode() != ModeRunning {
			return mcp.NewToolResultError(fmt.Sprintf("workflow execution unavailable in %s mode", f.Mode())), nil
		}

		def, err := f.catalog.Get(name)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		result := f.engine.Execute(ctx, def, requestArgs(req))
		return toolResultJSON(result)
	}
}

func requestArgs(req mcp.CallToolRequest) map[string]interface{} {
	if req.Params.Arguments == nil {
		return map[string]interface{}{}
	}
	if args, ok := req.Params.Arguments.(map[string]interface{}); ok {
		return args
	}
	return map[string]interface{}{}
}

func toolResultJSON(value interface{}) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to serialize result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}

func workflowDescription(def *workflow.Definition) string {
	if def.Description != "" {
		return def.Description
	}
	return fmt.Sprintf("Execute the %s workflow", def.Name)
}

// workflowInputSchema derives a JSON schema from the workflow's input
// declarations.
func workflowInputSchema(def *workflow.Definition) mcp.ToolInputSchema {
	properties := map[string]interface{}{}
	var required []string
	for _, input := range def.Inputs {
		prop := map[string]interface{}{}
		if input.Type != "" {
			prop["type"] = input.Type
		}
		if input.Default != nil {
			prop["default"] = input.Default
		}
		properties[input.Name] = prop
		if input.Required {
			required = append(required, input.Name)
		}
	}
	return mcp.ToolInputSchema{
		Type:       "object",
		Properties: properties,
		Required:   required,
	}
}

// toolInputSchema converts a registry schema map into the mcp-go form.
func toolInputSchema(schema map[string]interface{}) mcp.ToolInputSchema {
	out := mcp.ToolInputSchema{Type: "object"}
	if schema == nil {
		return out
	}
	if t, ok := schema["type"].(string); ok && t != "" {
		out.Type = t
	}
	if props, ok := schema["properties"].(map[string]interface{}); ok {
		out.Properties = props
	}
	switch req := schema["required"].(type) {
	case []string:
		out.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				out.Required = append(out.Required, s)
			}
		}
	}
	return out
}

// IsWorkflowTool reports whether an exposed tool name is a workflow
// pseudo-tool.
func IsWorkflowTool(name string) bool {
	return strings.HasPrefix(name, workflowToolPrefix)
}
