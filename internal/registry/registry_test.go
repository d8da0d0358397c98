package registry

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
)

// fakeConnection satisfies backend.Connection without a real transport.
type fakeConnection struct {
	name string

	mu        sync.Mutex
	tools     []mcp.Tool
	listErr   error
	listCalls int
	connected bool
}

func (f *fakeConnection) Name() string { return f.name }

func (f *fakeConnection) Connect(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return f.listErr
	}
	f.connected = true
	return nil
}

func (f *fakeConnection) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.tools, nil
}

func (f *fakeConnection) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	return nil, fmt.Errorf("not implemented")
}

func (f *fakeConnection) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeConnection) Ping(ctx context.Context) error { return nil }

func (f *fakeConnection) Close() error { return nil }

func (f *fakeConnection) setTools(tools []mcp.Tool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tools = tools
}

func (f *fakeConnection) setErr(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listErr = err
	if err != nil {
		f.connected = false
	}
}

func tool(name, desc string) mcp.Tool {
	return mcp.Tool{
		Name:        name,
		Description: desc,
		InputSchema: mcp.ToolInputSchema{Type: "object"},
	}
}

func newTestRegistry(t *testing.T, conns ...*fakeConnection) *ToolRegistry {
	t.Helper()
	mgr := backend.NewManager()
	for _, conn := range conns {
		require.NoError(t, mgr.Add(conn))
	}
	return New(mgr)
}

func TestSystemToolAlwaysRegistered(t *testing.T) {
	reg := newTestRegistry(t)

	desc := reg.Get(PythonExecToolName)
	require.NotNil(t, desc)
	assert.Equal(t, api.ToolSourceSystem, desc.Source)
	assert.Equal(t, api.ToolStatusAvailable, desc.Status)

	// A refresh with no backends leaves the system tool untouched.
	result, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, result.TotalTools)
	assert.Empty(t, result.Removed)
	assert.Equal(t, api.ToolStatusAvailable, reg.Get(PythonExecToolName).Status)
}

func TestInitializeDiscoversBackendTools(t *testing.T) {
	weather := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast"), tool("get_alerts", "Fetch alerts")}}
	files := &fakeConnection{name: "files", connected: true,
		tools: []mcp.Tool{tool("read_file", "Read a file")}}
	reg := newTestRegistry(t, weather, files)

	result, err := reg.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get_alerts", "get_forecast", "read_file"}, result.Added)
	assert.Equal(t, 4, result.TotalTools)

	desc := reg.Get("get_forecast")
	require.NotNil(t, desc)
	assert.Equal(t, api.ToolSourceMCP, desc.Source)
	assert.Equal(t, "weather", desc.ServerName)
	assert.Equal(t, "object", desc.InputSchema["type"])
}

func TestRefreshAvailabilityRoundTrip(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	reg := newTestRegistry(t, conn)

	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)
	assert.Equal(t, api.ToolStatusAvailable, reg.Get("get_forecast").Status)

	// Backend goes away: the tool is marked unavailable, never deleted.
	conn.setErr(fmt.Errorf("connection refused"))
	result, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get_forecast"}, result.Removed)

	desc := reg.Get("get_forecast")
	require.NotNil(t, desc)
	assert.Equal(t, api.ToolStatusUnavailable, desc.Status)

	// A second refresh while still down reports nothing new.
	result, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Removed)

	// Backend comes back: the same entry flips to available.
	conn.setErr(nil)
	conn.setTools([]mcp.Tool{tool("get_forecast", "Fetch a forecast")})
	result, err = reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Empty(t, result.Added)
	assert.Contains(t, result.Updated, "get_forecast")
	assert.Equal(t, api.ToolStatusAvailable, reg.Get("get_forecast").Status)
}

func TestRefreshUpdatesInPlace(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	reg := newTestRegistry(t, conn)

	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	conn.setTools([]mcp.Tool{tool("get_forecast", "Fetch a 7-day forecast")})
	result, err := reg.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"get_forecast"}, result.Updated)
	assert.Empty(t, result.Added)
	assert.Equal(t, "Fetch a 7-day forecast", reg.Get("get_forecast").Description)
}

func TestListToolsDoesNotQueryBackends(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	reg := newTestRegistry(t, conn)

	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)
	callsAfterInit := conn.listCalls

	first := reg.ListTools()
	second := reg.ListTools()
	assert.Equal(t, first, second)
	assert.Equal(t, callsAfterInit, conn.listCalls)
}

func TestSearch(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{
			tool("get_forecast", "Fetch a weather forecast"),
			tool("get_alerts", "Fetch weather alerts"),
		}}
	reg := newTestRegistry(t, conn)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	names := func(descs []*api.ToolDescriptor) []string {
		var out []string
		for _, d := range descs {
			out = append(out, d.Name)
		}
		return out
	}

	assert.Equal(t, []string{"get_alerts", "get_forecast"}, names(reg.Search("WEATHER")))
	assert.Equal(t, []string{"get_forecast"}, names(reg.Search("forecast")))
	assert.Empty(t, reg.Search("no such tool"))
}

func TestFilterTools(t *testing.T) {
	weather := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	files := &fakeConnection{name: "files", connected: true,
		tools: []mcp.Tool{tool("read_file", "Read a file")}}
	reg := newTestRegistry(t, weather, files)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	system := reg.FilterTools(api.ToolSourceSystem, "")
	require.Len(t, system, 1)
	assert.Equal(t, PythonExecToolName, system[0].Name)

	fromWeather := reg.FilterTools(api.ToolSourceMCP, "weather")
	require.Len(t, fromWeather, 1)
	assert.Equal(t, "get_forecast", fromWeather[0].Name)

	assert.Len(t, reg.FilterTools("", ""), 3)
}

func TestGetRouter(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	reg := newTestRegistry(t, conn)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	router, err := reg.GetRouter("get_forecast")
	require.NoError(t, err)
	assert.Equal(t, api.ToolSourceMCP, router.Source)
	assert.Equal(t, "weather", router.ServerName)

	router, err = reg.GetRouter(PythonExecToolName)
	require.NoError(t, err)
	assert.Equal(t, api.ToolSourceSystem, router.Source)

	_, err = reg.GetRouter("unknown")
	require.Error(t, err)
	assert.Equal(t, api.CategoryToolUnavailable, api.CategoryOf(err))
}

func TestForMCPExposureSkipsUnavailable(t *testing.T) {
	conn := &fakeConnection{name: "weather", connected: true,
		tools: []mcp.Tool{tool("get_forecast", "Fetch a forecast")}}
	reg := newTestRegistry(t, conn)
	_, err := reg.Initialize(context.Background())
	require.NoError(t, err)

	exposed := reg.ForMCPExposure()
	require.Len(t, exposed, 2)

	conn.setErr(fmt.Errorf("gone"))
	_, err = reg.Refresh(context.Background())
	require.NoError(t, err)

	exposed = reg.ForMCPExposure()
	require.Len(t, exposed, 1)
	assert.Equal(t, PythonExecToolName, exposed[0]["name"])

	// The unavailable tool is still visible through Get.
	assert.NotNil(t, reg.Get("get_forecast"))
}
