// Package config loads and validates the server configuration file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ael/internal/backend"
	"ael/pkg/logging"
)

// Config is the full server configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Backends  []BackendConfig `yaml:"backends"`
	Registry  RegistryConfig  `yaml:"registry"`
	Sandbox   SandboxConfig   `yaml:"sandbox"`
	Engine    EngineConfig    `yaml:"engine"`
	Workflows WorkflowsConfig `yaml:"workflows"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig configures the MCP front end.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Transport is "stdio" or "streamable-http".
	Transport string `yaml:"transport"`
}

// BackendConfig declares one external tool backend.
type BackendConfig struct {
	Name      string            `yaml:"name"`
	Transport string            `yaml:"transport"`
	Command   string            `yaml:"command,omitempty"`
	Args      []string          `yaml:"args,omitempty"`
	Env       map[string]string `yaml:"env,omitempty"`
	URL       string            `yaml:"url,omitempty"`
	Headers   map[string]string `yaml:"headers,omitempty"`
}

// Spec converts the declaration into the backend package's form.
func (b BackendConfig) Spec() backend.Spec {
	return backend.Spec{
		Name:      b.Name,
		Transport: backend.Transport(b.Transport),
		Command:   b.Command,
		Args:      b.Args,
		Env:       b.Env,
		URL:       b.URL,
		Headers:   b.Headers,
	}
}

// RegistryConfig tunes tool catalog maintenance.
type RegistryConfig struct {
	// RefreshIntervalSeconds sets how often backends are re-queried
	// for tool changes while serving. Zero disables periodic refresh.
	RefreshIntervalSeconds int `yaml:"refresh_interval_seconds"`
}

// RefreshInterval returns the configured interval as a duration.
func (r RegistryConfig) RefreshInterval() time.Duration {
	return time.Duration(r.RefreshIntervalSeconds) * time.Second
}

// SandboxConfig tunes script execution limits.
type SandboxConfig struct {
	TimeoutSeconds float64 `yaml:"timeout_seconds"`
	MaxToolCalls   int     `yaml:"max_tool_calls"`
	MaxOutputBytes int     `yaml:"max_output_bytes"`
}

// Timeout returns the configured timeout as a duration, zero when
// unset.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds * float64(time.Second))
}

// EngineConfig tunes workflow execution limits.
type EngineConfig struct {
	MaxConcurrentWorkflows int `yaml:"max_concurrent_workflows"`
	MaxConcurrentSteps     int `yaml:"max_concurrent_steps"`
	MaxWorkflowSteps       int `yaml:"max_workflow_steps"`
}

// WorkflowsConfig points at the workflow definition directory.
type WorkflowsConfig struct {
	Directory string `yaml:"directory"`
	// Watch enables live reloading of changed definition files.
	Watch bool `yaml:"watch"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:      "localhost",
			Port:      8090,
			Transport: "stdio",
		},
		Registry: RegistryConfig{
			RefreshIntervalSeconds: 60,
		},
		Sandbox: SandboxConfig{
			TimeoutSeconds: 30,
			MaxToolCalls:   10,
			MaxOutputBytes: 1 << 20,
		},
		Engine: EngineConfig{
			MaxConcurrentWorkflows: 5,
			MaxConcurrentSteps:     5,
			MaxWorkflowSteps:       100,
		},
		Workflows: WorkflowsConfig{
			Directory: "workflows",
			Watch:     true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// Load reads path and merges it over the defaults. A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		logging.Debug("Config", "No config file at %s, using defaults", path)
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for contradictions before any
// component starts.
func (c *Config) Validate() error {
	switch c.Server.Transport {
	case "stdio", "streamable-http":
	default:
		return fmt.Errorf("server transport must be stdio or streamable-http, got %q", c.Server.Transport)
	}
	if c.Server.Transport == "streamable-http" && (c.Server.Port < 1 || c.Server.Port > 65535) {
		return fmt.Errorf("server port %d out of range", c.Server.Port)
	}

	names := map[string]bool{}
	for _, b := range c.Backends {
		if b.Name == "" {
			return fmt.Errorf("backend without a name")
		}
		if names[b.Name] {
			return fmt.Errorf("duplicate backend name %s", b.Name)
		}
		names[b.Name] = true
		if _, err := backend.NewConnection(b.Spec()); err != nil {
			return fmt.Errorf("invalid backend %s: %w", b.Name, err)
		}
	}

	if c.Registry.RefreshIntervalSeconds < 0 {
		return fmt.Errorf("registry refresh_interval_seconds cannot be negative")
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		return fmt.Errorf("sandbox timeout_seconds cannot be negative")
	}
	if c.Sandbox.MaxToolCalls < 0 {
		return fmt.Errorf("sandbox max_tool_calls cannot be negative")
	}
	if c.Engine.MaxConcurrentWorkflows < 0 || c.Engine.MaxConcurrentSteps < 0 || c.Engine.MaxWorkflowSteps < 0 {
		return fmt.Errorf("engine limits cannot be negative")
	}
	return nil
}
