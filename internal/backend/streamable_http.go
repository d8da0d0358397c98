package backend

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"

	"ael/pkg/logging"
)

// StreamableHTTPConnection reaches a remote backend over the MCP
// streamable-http transport.
type StreamableHTTPConnection struct {
	baseConnection
	url     string
	headers map[string]string
}

func NewStreamableHTTPConnection(name, url string, headers map[string]string) *StreamableHTTPConnection {
	return &StreamableHTTPConnection{
		baseConnection: baseConnection{name: name},
		url:            url,
		headers:        headers,
	}
}

func (c *StreamableHTTPConnection) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected {
		return nil
	}

	logging.Debug("Backend", "Connecting to streamable-http backend %s at %s", c.name, c.url)

	var opts []transport.StreamableHTTPCOption
	if len(c.headers) > 0 {
		opts = append(opts, transport.WithHTTPHeaders(c.headers))
	}

	mcpClient, err := client.NewStreamableHttpClient(c.url, opts...)
	if err != nil {
		return fmt.Errorf("failed to create streamable-http client: %w", err)
	}

	if err := c.initialize(ctx, mcpClient); err != nil {
		logging.Error("Backend", err, "Handshake failed for streamable-http backend %s", c.name)
		return err
	}

	logging.Info("Backend", "Connected to streamable-http backend %s", c.name)
	return nil
}
