// Package app wires the process together: configuration, logging,
// backends, registry, sandbox, invoker, engine, workflow catalog, and
// the MCP front end, in dependency order.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"ael/internal/backend"
	"ael/internal/config"
	"ael/internal/engine"
	"ael/internal/frontend"
	"ael/internal/invoker"
	"ael/internal/registry"
	"ael/internal/sandbox"
	"ael/internal/workflow"
	"ael/pkg/logging"
)

// Application owns every long-lived component of one server process.
type Application struct {
	Config   *config.Config
	Backends *backend.Manager
	Registry *registry.ToolRegistry
	Sandbox  *sandbox.Sandbox
	Invoker  *invoker.Invoker
	Engine   *engine.Engine
	Catalog  *workflow.Catalog
	Frontend *frontend.Frontend

	watcher *workflow.Watcher
}

// New builds the application from a loaded configuration. Nothing is
// connected or served yet; call Run.
func New(cfg *config.Config) (*Application, error) {
	level := logging.ParseLevel(cfg.Logging.Level)
	if cfg.Logging.JSON {
		logging.InitJSON(level, os.Stderr)
	} else {
		logging.Init(level, os.Stderr)
	}

	backends := backend.NewManager()
	for _, bc := range cfg.Backends {
		conn, err := backend.NewConnection(bc.Spec())
		if err != nil {
			return nil, err
		}
		if err := backends.Add(conn); err != nil {
			return nil, err
		}
	}

	reg := registry.New(backends)

	sb := sandbox.New(sandbox.Options{
		Timeout:       cfg.Sandbox.Timeout(),
		MaxToolCalls:  cfg.Sandbox.MaxToolCalls,
		MaxOutputSize: cfg.Sandbox.MaxOutputBytes,
	})
	inv := invoker.New(reg, backends, sb)
	eng := engine.New(sb, inv, engine.Options{
		MaxConcurrentSteps:     cfg.Engine.MaxConcurrentSteps,
		MaxConcurrentWorkflows: cfg.Engine.MaxConcurrentWorkflows,
		MaxWorkflowSteps:       cfg.Engine.MaxWorkflowSteps,
	})

	catalog := workflow.NewCatalog()

	fe := frontend.New(reg, inv, eng, catalog, frontend.Options{
		Host:      cfg.Server.Host,
		Port:      cfg.Server.Port,
		Transport: cfg.Server.Transport,
	})

	return &Application{
		Config:   cfg,
		Backends: backends,
		Registry: reg,
		Sandbox:  sb,
		Invoker:  inv,
		Engine:   eng,
		Catalog:  catalog,
		Frontend: fe,
	}, nil
}

// Run connects backends, loads workflows, initializes the catalog, and
// serves until the context ends.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Backends.ConnectAll(ctx); err != nil {
		return fmt.Errorf("backend connection aborted: %w", err)
	}
	if _, err := a.Registry.Initialize(ctx); err != nil {
		return fmt.Errorf("registry initialization failed: %w", err)
	}
	if err := a.Catalog.LoadDirectory(a.Config.Workflows.Directory); err != nil {
		return err
	}

	if a.Config.Workflows.Watch {
		a.watcher = workflow.NewWatcher(a.Catalog, a.Config.Workflows.Directory)
		if err := a.watcher.Start(ctx); err != nil {
			logging.Warn("App", "Workflow watching disabled: %v", err)
			a.watcher = nil
		}
	}

	if err := a.Frontend.Start(ctx); err != nil {
		return err
	}

	if interval := a.Config.Registry.RefreshInterval(); interval > 0 {
		go a.refreshLoop(ctx, interval)
	}

	<-ctx.Done()
	return a.Shutdown()
}

// refreshLoop periodically reconciles the tool catalog against the
// backends and republishes the MCP tool surface.
func (a *Application) refreshLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result, err := a.Registry.Refresh(ctx)
			if err != nil {
				logging.Warn("App", "Tool refresh failed: %v", err)
				continue
			}
			if len(result.Added)+len(result.Updated)+len(result.Removed) > 0 {
				logging.Info("App", "Tool refresh: %d added, %d updated, %d unavailable",
					len(result.Added), len(result.Updated), len(result.Removed))
			}
			a.Frontend.SyncTools()
		}
	}
}

// Shutdown stops everything in reverse dependency order.
func (a *Application) Shutdown() error {
	ctx := context.Background()
	if err := a.Frontend.Stop(ctx); err != nil {
		logging.Warn("App", "Frontend shutdown: %v", err)
	}
	if a.watcher != nil {
		a.watcher.Stop()
	}
	if err := a.Backends.CloseAll(); err != nil {
		logging.Warn("App", "Backend shutdown: %v", err)
	}
	logging.Info("App", "Shutdown complete")
	return nil
}
