// Package registry maintains the reconciled catalog of every tool known
// to the system: tools discovered from MCP backends plus built-in system
// tools. Refresh reconciles against live backends without ever deleting
// an entry; a tool whose backend went away is marked unavailable and
// keeps its history.
package registry

import (
	"context"
	"encoding/json"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/mark3labs/mcp-go/mcp"

	"ael/internal/api"
	"ael/internal/backend"
	"ael/pkg/logging"
)

// PythonExecToolName is the registry name of the built-in script
// execution tool.
const PythonExecToolName = "python_exec"

// ToolRegistry is the single source of truth for tool lookup and
// routing. Reads are lock-cheap and never touch a backend; only
// Refresh queries backends, and its catalog write is serialized.
type ToolRegistry struct {
	backends *backend.Manager

	mu    sync.RWMutex
	tools map[string]*api.ToolDescriptor
}

func New(backends *backend.Manager) *ToolRegistry {
	r := &ToolRegistry{
		backends: backends,
		tools:    make(map[string]*api.ToolDescriptor),
	}
	r.registerSystemTools()
	return r
}

// registerSystemTools installs the built-in tools that exist regardless
// of backend state.
func (r *ToolRegistry) registerSystemTools() {
	r.tools[PythonExecToolName] = &api.ToolDescriptor{
		Name:        PythonExecToolName,
		Description: "Execute a restricted script and return the value of its result variable",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"code": map[string]interface{}{
					"type":        "string",
					"description": "Script source; assign the return value to 'result'",
				},
				"context": map[string]interface{}{
					"type":        "object",
					"description": "Optional input values exposed as context.inputs",
				},
			},
			"required": []interface{}{"code"},
		},
		Source: api.ToolSourceSystem,
		Status: api.ToolStatusAvailable,
	}
}

// Initialize populates the catalog from all currently connected
// backends. It is a first Refresh under a different name, kept separate
// so callers can distinguish startup from steady-state reconciliation.
func (r *ToolRegistry) Initialize(ctx context.Context) (*api.RefreshResult, error) {
	return r.Refresh(ctx)
}

// Refresh reconciles the catalog against every backend:
//   - tools seen for the first time are added
//   - known tools get their descriptor updated in place
//   - tools owned by an unreachable backend, or missing from a healthy
//     backend's listing, are marked unavailable but never removed
//
// Backend listings run concurrently; the catalog write is a single
// serialized section so the invariants above hold under concurrent
// readers.
func (r *ToolRegistry) Refresh(ctx context.Context) (*api.RefreshResult, error) {
	type listing struct {
		server string
		tools  []mcp.Tool
		err    error
	}

	conns := r.backends.All()
	listings := make([]listing, len(conns))

	var wg sync.WaitGroup
	for i, conn := range conns {
		wg.Add(1)
		go func(i int, conn backend.Connection) {
			defer wg.Done()
			if !conn.IsConnected() {
				if err := conn.Connect(ctx); err != nil {
					listings[i] = listing{server: conn.Name(), err: err}
					return
				}
			}
			tools, err := conn.ListTools(ctx)
			listings[i] = listing{server: conn.Name(), tools: tools, err: err}
		}(i, conn)
	}
	wg.Wait()

	r.mu.Lock()
	defer r.mu.Unlock()

	result := &api.RefreshResult{}
	seen := map[string]bool{}

	for _, l := range listings {
		if l.err != nil {
			logging.Warn("Registry", "Backend %s unreachable during refresh: %v", l.server, l.err)
			continue
		}
		for _, t := range l.tools {
			seen[t.Name] = true
			desc := descriptorFromMCP(l.server, t)

			existing, known := r.tools[t.Name]
			if !known {
				r.tools[t.Name] = desc
				result.Added = append(result.Added, t.Name)
				continue
			}
			if existing.Source == api.ToolSourceSystem {
				// Backends cannot shadow system tools.
				logging.Warn("Registry", "Backend %s exposes tool %s which collides with a system tool; ignored", l.server, t.Name)
				continue
			}
			if changed(existing, desc) {
				result.Updated = append(result.Updated, t.Name)
			}
			*existing = *desc
		}
	}

	// Mark tools from reachable backends that vanished, and tools from
	// unreachable backends, unavailable. Never delete.
	for name, desc := range r.tools {
		if desc.Source != api.ToolSourceMCP || seen[name] {
			continue
		}
		if desc.Status == api.ToolStatusAvailable {
			desc.Status = api.ToolStatusUnavailable
			result.Removed = append(result.Removed, name)
		}
	}

	sort.Strings(result.Added)
	sort.Strings(result.Updated)
	sort.Strings(result.Removed)
	result.TotalTools = len(r.tools)

	logging.Info("Registry", "Refresh complete: %d added, %d updated, %d marked unavailable, %d total",
		len(result.Added), len(result.Updated), len(result.Removed), result.TotalTools)
	return result, nil
}

func descriptorFromMCP(server string, t mcp.Tool) *api.ToolDescriptor {
	schema := map[string]interface{}{}
	if raw, err := json.Marshal(t.InputSchema); err == nil {
		_ = json.Unmarshal(raw, &schema)
	}
	return &api.ToolDescriptor{
		Name:        t.Name,
		Description: t.Description,
		InputSchema: schema,
		Source:      api.ToolSourceMCP,
		ServerName:  server,
		Status:      api.ToolStatusAvailable,
	}
}

func changed(a, b *api.ToolDescriptor) bool {
	return a.Description != b.Description ||
		a.ServerName != b.ServerName ||
		a.Status != b.Status ||
		!reflect.DeepEqual(a.InputSchema, b.InputSchema)
}

// Get returns the descriptor for name, or nil when the tool has never
// been seen. Unavailable tools are still returned; check Status.
func (r *ToolRegistry) Get(name string) *api.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return nil
	}
	clone := *desc
	return &clone
}

// GetOrError returns the descriptor for name or a tool-unavailable
// error suitable for surfacing to a caller.
func (r *ToolRegistry) GetOrError(name string) (*api.ToolDescriptor, error) {
	if desc := r.Get(name); desc != nil {
		return desc, nil
	}
	return nil, api.NewToolUnavailableError(name)
}

// ListTools returns every catalog entry in name order. It reads the
// cached catalog only; call Refresh to re-query backends.
func (r *ToolRegistry) ListTools() []*api.ToolDescriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*api.ToolDescriptor, len(names))
	for i, name := range names {
		clone := *r.tools[name]
		out[i] = &clone
	}
	return out
}

// FilterTools returns tools matching the given origin, in name order.
// A zero-value source or serverName matches everything.
func (r *ToolRegistry) FilterTools(source api.ToolSource, serverName string) []*api.ToolDescriptor {
	var out []*api.ToolDescriptor
	for _, desc := range r.ListTools() {
		if source != "" && desc.Source != source {
			continue
		}
		if serverName != "" && desc.ServerName != serverName {
			continue
		}
		out = append(out, desc)
	}
	return out
}

// Search returns tools whose name or description contains the query,
// case-insensitively.
func (r *ToolRegistry) Search(query string) []*api.ToolDescriptor {
	query = strings.ToLower(query)
	var out []*api.ToolDescriptor
	for _, desc := range r.ListTools() {
		if strings.Contains(strings.ToLower(desc.Name), query) ||
			strings.Contains(strings.ToLower(desc.Description), query) {
			out = append(out, desc)
		}
	}
	return out
}

// GetRouter returns the (source, backend) routing decision for a tool
// call. Unavailable tools still route; the invoker reports the
// backend's actual failure.
func (r *ToolRegistry) GetRouter(name string) (*api.ToolRouter, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return nil, api.NewToolUnavailableError(name)
	}
	return &api.ToolRouter{Source: desc.Source, ServerName: desc.ServerName}, nil
}

// ForMCPExposure returns only currently available tools, shaped for a
// tools/list response.
func (r *ToolRegistry) ForMCPExposure() []map[string]interface{} {
	var out []map[string]interface{}
	for _, desc := range r.ListTools() {
		if desc.Status != api.ToolStatusAvailable {
			continue
		}
		out = append(out, map[string]interface{}{
			"name":        desc.Name,
			"description": desc.Description,
			"inputSchema": desc.InputSchema,
		})
	}
	return out
}
