package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/backend"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "stdio", cfg.Server.Transport)
	assert.Equal(t, 8090, cfg.Server.Port)
	assert.Equal(t, float64(30), cfg.Sandbox.TimeoutSeconds)
	assert.Equal(t, 10, cfg.Sandbox.MaxToolCalls)
	assert.Equal(t, 5, cfg.Engine.MaxConcurrentWorkflows)
	assert.Equal(t, 100, cfg.Engine.MaxWorkflowSteps)
	assert.Equal(t, 60, cfg.Registry.RefreshIntervalSeconds)
	assert.True(t, cfg.Workflows.Watch)
}

func TestLoadMergesOverDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  transport: streamable-http
  port: 9000
backends:
  - name: weather
    transport: stdio
    command: weather-server
    args: ["--fast"]
    env:
      API_KEY: secret
sandbox:
  timeout_seconds: 5
workflows:
  directory: /etc/ael/workflows
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "streamable-http", cfg.Server.Transport)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, float64(5), cfg.Sandbox.TimeoutSeconds)
	assert.Equal(t, "/etc/ael/workflows", cfg.Workflows.Directory)

	require.Len(t, cfg.Backends, 1)
	spec := cfg.Backends[0].Spec()
	assert.Equal(t, backend.TransportStdio, spec.Transport)
	assert.Equal(t, "weather-server", spec.Command)
	assert.Equal(t, []string{"--fast"}, spec.Args)
	assert.Equal(t, "secret", spec.Env["API_KEY"])
}

func TestValidateRejections(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantMsg string
	}{
		{
			name:    "bad transport",
			yaml:    "server:\n  transport: carrier-pigeon\n",
			wantMsg: "transport",
		},
		{
			name:    "duplicate backend",
			yaml:    "backends:\n  - name: a\n    transport: stdio\n    command: x\n  - name: a\n    transport: stdio\n    command: y\n",
			wantMsg: "duplicate backend",
		},
		{
			name:    "stdio backend without command",
			yaml:    "backends:\n  - name: a\n    transport: stdio\n",
			wantMsg: "missing command",
		},
		{
			name:    "http backend without url",
			yaml:    "backends:\n  - name: a\n    transport: streamable-http\n",
			wantMsg: "missing url",
		},
		{
			name:    "negative sandbox timeout",
			yaml:    "sandbox:\n  timeout_seconds: -1\n",
			wantMsg: "timeout_seconds",
		},
		{
			name:    "negative refresh interval",
			yaml:    "registry:\n  refresh_interval_seconds: -5\n",
			wantMsg: "refresh_interval_seconds",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}
