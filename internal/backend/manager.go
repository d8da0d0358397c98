package backend

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"ael/internal/api"
	"ael/pkg/logging"
)

// Transport selects how a backend is reached.
type Transport string

const (
	TransportStdio          Transport = "stdio"
	TransportStreamableHTTP Transport = "streamable-http"
)

// Spec describes one backend to connect to.
type Spec struct {
	Name      string
	Transport Transport
	// Stdio transport.
	Command string
	Args    []string
	Env     map[string]string
	// Streamable-http transport.
	URL     string
	Headers map[string]string
}

// NewConnection builds the transport-appropriate connection for a spec.
func NewConnection(spec Spec) (Connection, error) {
	if spec.Name == "" {
		return nil, fmt.Errorf("backend spec missing name")
	}
	switch spec.Transport {
	case TransportStdio:
		if spec.Command == "" {
			return nil, fmt.Errorf("stdio backend %s missing command", spec.Name)
		}
		return NewStdioConnection(spec.Name, spec.Command, spec.Args, spec.Env), nil
	case TransportStreamableHTTP:
		if spec.URL == "" {
			return nil, fmt.Errorf("streamable-http backend %s missing url", spec.Name)
		}
		return NewStreamableHTTPConnection(spec.Name, spec.URL, spec.Headers), nil
	}
	return nil, fmt.Errorf("backend %s has unknown transport %q", spec.Name, spec.Transport)
}

// Manager owns the set of backend connections. Connections are
// independent; one backend failing to connect never blocks the others.
type Manager struct {
	mu          sync.RWMutex
	connections map[string]Connection
}

func NewManager() *Manager {
	return &Manager{connections: make(map[string]Connection)}
}

// Add registers a connection under its name. Names must be unique.
func (m *Manager) Add(conn Connection) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.connections[conn.Name()]; exists {
		return fmt.Errorf("backend %s already registered", conn.Name())
	}
	m.connections[conn.Name()] = conn
	return nil
}

// Get returns the named connection.
func (m *Manager) Get(name string) (Connection, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	conn, ok := m.connections[name]
	if !ok {
		return nil, api.NewBackendNotFoundError(name)
	}
	return conn, nil
}

// All returns the connections in name order.
func (m *Manager) All() []Connection {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.connections))
	for name := range m.connections {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Connection, len(names))
	for i, name := range names {
		out[i] = m.connections[name]
	}
	return out
}

// ConnectAll connects every backend concurrently. Individual failures
// are logged and tolerated; the registry will simply see those backends
// as unreachable. The returned error is non-nil only when the context
// is cancelled.
func (m *Manager) ConnectAll(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, conn := range m.All() {
		conn := conn
		g.Go(func() error {
			if err := conn.Connect(gctx); err != nil {
				logging.Warn("Backend", "Backend %s unreachable: %v", conn.Name(), err)
			}
			return gctx.Err()
		})
	}
	return g.Wait()
}

// CloseAll shuts down every connection, returning the first error.
func (m *Manager) CloseAll() error {
	var first error
	for _, conn := range m.All() {
		if err := conn.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
