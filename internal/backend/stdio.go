package backend

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"

	"ael/pkg/logging"
)

// StdioConnection runs a backend as a local subprocess speaking MCP over
// stdin/stdout.
type StdioConnection struct {
	baseConnection
	command string
	args    []string
	env     map[string]string
}

func NewStdioConnection(name, command string, args []string, env map[string]string) *StdioConnection {
	return &StdioConnection{
		baseConnection: baseConnection{name: name},
		command:        command,
		args:           args,
		env:            env,
	}
}

func (c *StdioConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("Backend", "Starting stdio backend %s: %s %v", c.name, c.command, c.args)

	var envStrings []string
	for k, v := range c.env {
		envStrings = append(envStrings, fmt.Sprintf("%s=%s", k, v))
	}

	mcpClient, err := client.NewStdioMCPClient(c.command, envStrings, c.args...)
	if err != nil {
		return fmt.Errorf("failed to create stdio client: %w", err)
	}

	if err := c.initialize(ctx, mcpClient); err != nil {
		logging.Error("Backend", err, "Handshake failed for stdio backend %s", c.name)
		return err
	}

	logging.Info("Backend", "Connected to stdio backend %s", c.name)
	return nil
}
