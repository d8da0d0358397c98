// Package backend manages connections to external MCP tool providers.
// Each backend is reachable or unreachable independently; the registry
// consumes the Connection interface and never touches transports
// directly.
package backend

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"ael/pkg/logging"
)

// DefaultInitTimeout bounds transport setup plus the MCP handshake.
const DefaultInitTimeout = 10 * time.Second

// Connection is one backend's tool surface.
type Connection interface {
	// Name returns the backend's unique name.
	Name() string
	// Connect establishes the transport and performs the MCP handshake.
	// Calling Connect on a live connection is a no-op.
	Connect(ctx context.Context) error
	// ListTools queries the backend's current tool list.
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	// CallTool executes one tool on the backend.
	CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error)
	// Ping checks that the backend is responsive.
	Ping(ctx context.Context) error
	// IsConnected reports whether the last Connect succeeded and the
	// connection has not been closed.
	IsConnected() bool
	// Close shuts the transport down.
	Close() error
}

// baseConnection holds the shared client state and MCP plumbing for all
// transports.
type baseConnection struct {
	name      string
	mu        sync.RWMutex
	client    client.MCPClient
	connected bool
}

func (b *baseConnection) Name() string {
	return b.name
}

func (b *baseConnection) IsConnected() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.connected
}

// initialize performs the protocol handshake against a freshly created
// client and stores it on success.
func (b *baseConnection) initialize(ctx context.Context, mcpClient client.MCPClient) error {
	initCtx := ctx
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		initCtx, cancel = context.WithTimeout(ctx, DefaultInitTimeout)
		defer cancel()
	}

	_, err := mcpClient.Initialize(initCtx, mcp.InitializeRequest{
		Params: struct {
			ProtocolVersion string                 `json:"protocolVersion"`
			Capabilities    mcp.ClientCapabilities `json:"capabilities"`
			ClientInfo      mcp.Implementation     `json:"clientInfo"`
		}{
			ProtocolVersion: "2024-11-05",
			ClientInfo: mcp.Implementation{
				Name:    "ael",
				Version: "1.0.0",
			},
			Capabilities: mcp.ClientCapabilities{},
		},
	})
	if err != nil {
		if closeErr := mcpClient.Close(); closeErr != nil {
			logging.Debug("Backend", "Error closing failed client for %s: %v", b.name, closeErr)
		}
		return fmt.Errorf("failed to initialize MCP protocol: %w", err)
	}

	b.client = mcpClient
	b.connected = true
	return nil
}

func (b *baseConnection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return nil, fmt.Errorf("backend %s not connected", b.name)
	}

	result, err := b.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, fmt.Errorf("failed to list tools: %w", err)
	}
	return result.Tools, nil
}

func (b *baseConnection) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return nil, fmt.Errorf("backend %s not connected", b.name)
	}

	result, err := b.client.CallTool(ctx, mcp.CallToolRequest{
		Params: struct {
			Name      string    `json:"name"`
			Arguments any       `json:"arguments,omitempty"`
			Meta      *mcp.Meta `json:"_meta,omitempty"`
		}{
			Name:      name,
			Arguments: args,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to call tool: %w", err)
	}
	return result, nil
}

func (b *baseConnection) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if !b.connected || b.client == nil {
		return fmt.Errorf("backend %s not connected", b.name)
	}
	return b.client.Ping(ctx)
}

func (b *baseConnection) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.client == nil {
		return nil
	}
	err := b.client.Close()
	b.client = nil
	b.connected = false
	return err
}
