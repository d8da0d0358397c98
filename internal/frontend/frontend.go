// Package frontend exposes the tool registry and workflow catalog over
// the MCP protocol. Discovered tools appear under their own names,
// workflows appear as workflow:<name> pseudo-tools, and every call is
// routed through the invoker or the engine.
package frontend

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/server"

	"ael/internal/engine"
	"ael/internal/invoker"
	"ael/internal/registry"
	"ael/internal/workflow"
	"ael/pkg/logging"
)

// Mode is the two-state operation gate. Workflow execution is rejected
// while configuring; tool listing stays available in both modes.
type Mode string

const (
	ModeConfiguration Mode = "configuration"
	ModeRunning       Mode = "running"
)

// Options configures the front end's transport.
type Options struct {
	Host string
	Port int
	// Transport is "stdio" or "streamable-http".
	Transport string
}

// Frontend is the MCP server wrapping the execution core.
type Frontend struct {
	registry *registry.ToolRegistry
	invoker  *invoker.Invoker
	engine   *engine.Engine
	catalog  *workflow.Catalog
	opts     Options

	mu         sync.RWMutex
	mode       Mode
	mcpServer  *server.MCPServer
	stdio      *server.StdioServer
	streamable *server.StreamableHTTPServer
	exposed    map[string]bool
	cancel     context.CancelFunc
}

func New(reg *registry.ToolRegistry, inv *invoker.Invoker, eng *engine.Engine, catalog *workflow.Catalog, opts Options) *Frontend {
	f := &Frontend{
		registry: reg,
		invoker:  inv,
		engine:   eng,
		catalog:  catalog,
		opts:     opts,
		mode:     ModeConfiguration,
		exposed:  map[string]bool{},
	}
	// Catalog reloads (watcher or manual) republish the workflow
	// pseudo-tools. SyncTools is a no-op until Start creates the server.
	catalog.OnChange(f.SyncTools)
	return f
}

// Mode returns the current operation mode.
func (f *Frontend) Mode() Mode {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.mode
}

// SetMode switches the operation gate.
func (f *Frontend) SetMode(mode Mode) {
	f.mu.Lock()
	f.mode = mode
	f.mu.Unlock()
	logging.Info("Frontend", "Mode set to %s", mode)
}

// Start creates the MCP server, publishes the current tool surface, and
// begins serving on the configured transport.
func (f *Frontend) Start(ctx context.Context) error {
	f.mu.Lock()
	if f.mcpServer != nil {
		f.mu.Unlock()
		return fmt.Errorf("frontend already started")
	}

	ctx, f.cancel = context.WithCancel(ctx)
	f.mcpServer = server.NewMCPServer(
		"ael",
		"1.0.0",
		server.WithToolCapabilities(true),
	)
	f.mu.Unlock()

	f.SyncTools()

	switch f.opts.Transport {
	case "stdio", "":
		logging.Info("Frontend", "Serving MCP over stdio")
		stdio := server.NewStdioServer(f.mcpServer)
		f.mu.Lock()
		f.stdio = stdio
		f.mu.Unlock()
		go func() {
			if err := stdio.Listen(ctx, os.Stdin, os.Stdout); err != nil {
				logging.Error("Frontend", err, "Stdio server error")
			}
		}()
	case "streamable-http":
		addr := fmt.Sprintf("%s:%d", f.opts.Host, f.opts.Port)
		logging.Info("Frontend", "Serving MCP over streamable-http on %s", addr)
		streamable := server.NewStreamableHTTPServer(f.mcpServer)
		f.mu.Lock()
		f.streamable = streamable
		f.mu.Unlock()
		go func() {
			if err := streamable.Start(addr); err != nil && err != http.ErrServerClosed {
				logging.Error("Frontend", err, "Streamable HTTP server error")
			}
		}()
	default:
		return fmt.Errorf("unknown transport %q", f.opts.Transport)
	}

	f.SetMode(ModeRunning)
	return nil
}

// Stop shuts the transport down.
func (f *Frontend) Stop(ctx context.Context) error {
	f.mu.Lock()
	cancel := f.cancel
	streamable := f.streamable
	f.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if streamable != nil {
		shutdownCtx, done := context.WithTimeout(ctx, 5*time.Second)
		defer done()
		if err := streamable.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}
