package api

// ToolSource identifies who owns a tool.
type ToolSource string

const (
	// ToolSourceMCP marks tools discovered from an external MCP backend.
	ToolSourceMCP ToolSource = "mcp"
	// ToolSourceSystem marks built-in tools owned by this process.
	ToolSourceSystem ToolSource = "system"
)

// ToolStatus tracks whether a tool's owning backend is currently reachable.
// A tool is never deleted from the registry once discovered; "unavailable"
// is a status flip, distinguishing "not currently reachable" from "never
// existed".
type ToolStatus string

const (
	ToolStatusAvailable   ToolStatus = "available"
	ToolStatusUnavailable ToolStatus = "unavailable"
)

// ToolDescriptor is a catalog entry for one named tool. Names are globally
// unique across the registry.
type ToolDescriptor struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
	Source      ToolSource             `json:"source"`
	// ServerName is set iff Source is ToolSourceMCP.
	ServerName string     `json:"server_name,omitempty"`
	Status     ToolStatus `json:"status"`
}

// ToolRouter is the (source, backend) pair the invoker uses to decide where
// to send a tool call.
type ToolRouter struct {
	Source     ToolSource
	ServerName string
}

// ToolCallResult is the uniform outcome of one tool invocation. Backend and
// sandbox failures are wrapped here rather than raised.
type ToolCallResult struct {
	Success    bool        `json:"success"`
	Output     interface{} `json:"output,omitempty"`
	DurationMs int64       `json:"duration_ms"`
	ToolName   string      `json:"tool_name"`
	Error      *Error      `json:"error,omitempty"`
}

// CodeExecutionResult is the outcome of one sandbox script execution.
// Result holds the final value of the script's designated output variable.
type CodeExecutionResult struct {
	Success       bool        `json:"success"`
	Result        interface{} `json:"result,omitempty"`
	Error         *Error      `json:"error,omitempty"`
	ExecutionTime float64     `json:"execution_time"`
}

// RefreshResult summarizes one registry reconciliation pass for
// observability.
type RefreshResult struct {
	Added      []string `json:"added"`
	Updated    []string `json:"updated"`
	Removed    []string `json:"removed"` // marked unavailable, never deleted
	TotalTools int      `json:"total_tools"`
}
