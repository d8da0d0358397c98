package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/api"
)

const sampleWorkflow = `
name: enrich-report
version: "1.0"
description: Fetch data and summarize it
inputs:
  - name: city
    type: string
    required: true
  - name: units
    type: string
    default: metric
steps:
  - id: fetch
    tool: get_forecast
    params:
      city: "{{ inputs.city }}"
      units: "{{ inputs.units }}"
  - id: summarize
    code: |
      result = {"summary": str(context.steps["fetch"].output)}
    depends_on: [fetch]
outputs:
  - name: summary
    from_path: steps.summarize.output.summary
  - name: requested_city
    from_path: inputs.city
`

func TestParseAndValidate(t *testing.T) {
	def, err := Parse([]byte(sampleWorkflow))
	require.NoError(t, err)
	require.NoError(t, def.Validate())

	assert.Equal(t, "enrich-report", def.Name)
	assert.Len(t, def.Inputs, 2)
	require.Len(t, def.Steps, 2)
	assert.False(t, def.Steps[0].IsScript())
	assert.True(t, def.Steps[1].IsScript())
	assert.Equal(t, ErrorPolicyFail, def.Steps[0].Policy())
	assert.Equal(t, "{{ inputs.city }}", def.Steps[0].Params["city"])
}

func TestValidateRejections(t *testing.T) {
	base := func() *Definition {
		def, err := Parse([]byte(sampleWorkflow))
		require.NoError(t, err)
		return def
	}

	tests := []struct {
		name    string
		mutate  func(*Definition)
		wantMsg string
	}{
		{
			name:    "missing name",
			mutate:  func(d *Definition) { d.Name = "" },
			wantMsg: "name is required",
		},
		{
			name:    "no steps",
			mutate:  func(d *Definition) { d.Steps = nil },
			wantMsg: "no steps",
		},
		{
			name:    "duplicate step id",
			mutate:  func(d *Definition) { d.Steps[1].ID = "fetch" },
			wantMsg: "duplicate step id",
		},
		{
			name: "code and tool",
			mutate: func(d *Definition) {
				d.Steps[0].Code = "result = 1"
			},
			wantMsg: "exactly one of code or tool",
		},
		{
			name: "neither code nor tool",
			mutate: func(d *Definition) {
				d.Steps[0].Tool = ""
				d.Steps[0].Params = nil
			},
			wantMsg: "exactly one of code or tool",
		},
		{
			name: "unknown dependency",
			mutate: func(d *Definition) {
				d.Steps[1].DependsOn = []string{"no_such_step"}
			},
			wantMsg: "unknown step",
		},
		{
			name: "self dependency",
			mutate: func(d *Definition) {
				d.Steps[1].DependsOn = []string{"summarize"}
			},
			wantMsg: "depends on itself",
		},
		{
			name: "dependency cycle",
			mutate: func(d *Definition) {
				d.Steps[0].DependsOn = []string{"summarize"}
			},
			wantMsg: "cycle",
		},
		{
			name: "retry without config",
			mutate: func(d *Definition) {
				d.Steps[0].OnError = ErrorPolicyRetry
			},
			wantMsg: "without a retry config",
		},
		{
			name: "retry zero attempts",
			mutate: func(d *Definition) {
				d.Steps[0].OnError = ErrorPolicyRetry
				d.Steps[0].Retry = &RetryConfig{MaxAttempts: 0}
			},
			wantMsg: "max_attempts",
		},
		{
			name: "unknown on_error",
			mutate: func(d *Definition) {
				d.Steps[0].OnError = "explode"
			},
			wantMsg: "unknown on_error",
		},
		{
			name: "script with forbidden import",
			mutate: func(d *Definition) {
				d.Steps[1].Code = "import os\nresult = 1"
			},
			wantMsg: "script rejected",
		},
		{
			name: "output without source",
			mutate: func(d *Definition) {
				d.Outputs[0].FromPath = ""
			},
			wantMsg: "needs from_path or value",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def := base()
			tt.mutate(def)
			err := def.Validate()
			require.Error(t, err)
			assert.Equal(t, api.CategoryValidation, api.CategoryOf(err))
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestOrderedImplicitChain(t *testing.T) {
	def := &Definition{
		Name: "chain",
		Steps: []StepDefinition{
			{ID: "a", Code: "result = 1"},
			{ID: "b", Code: "result = 2"},
			{ID: "c", Code: "result = 3"},
		},
	}
	require.NoError(t, def.Validate())

	order, err := def.Ordered()
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 2}, order)
}

func TestOrderedExplicitDependencies(t *testing.T) {
	def := &Definition{
		Name: "fanin",
		Steps: []StepDefinition{
			{ID: "start", Code: "result = 0"},
			{ID: "left", Code: "result = 1", DependsOn: []string{"start"}},
			{ID: "right", Code: "result = 2", DependsOn: []string{"start"}},
			{ID: "join", Code: "result = 3", DependsOn: []string{"left", "right"}},
		},
	}
	require.NoError(t, def.Validate())

	order, err := def.Ordered()
	require.NoError(t, err)
	pos := map[int]int{}
	for i, idx := range order {
		pos[idx] = i
	}
	assert.Less(t, pos[0], pos[1], "start before left")
	assert.Less(t, pos[0], pos[2], "start before right")
	assert.Less(t, pos[1], pos[3], "left before join")
	assert.Less(t, pos[2], pos[3], "right before join")
}

func TestCatalogOnChange(t *testing.T) {
	c := NewCatalog()
	changes := 0
	c.OnChange(func() {
		changes++
		c.List()
	})

	require.NoError(t, c.Register(&Definition{
		Name:  "a",
		Steps: []StepDefinition{{ID: "s", Code: `result = 1`}},
	}))
	assert.Equal(t, 1, changes)

	c.Remove("a")
	assert.Equal(t, 2, changes)

	c.Remove("a")
	assert.Equal(t, 2, changes)
}

func TestCatalogLoadDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "enrich-report.yaml"), []byte(sampleWorkflow), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\nsteps: []\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	catalog := NewCatalog()
	require.NoError(t, catalog.LoadDirectory(dir))

	defs := catalog.List()
	require.Len(t, defs, 1)
	assert.Equal(t, "enrich-report", defs[0].Name)

	_, err := catalog.Get("broken")
	require.Error(t, err)
	assert.True(t, api.IsNotFound(err))
}

func TestCatalogLoadMissingDirectory(t *testing.T) {
	catalog := NewCatalog()
	require.NoError(t, catalog.LoadDirectory(filepath.Join(t.TempDir(), "does-not-exist")))
	assert.Empty(t, catalog.List())
}

func TestWatcherReloadsOnWrite(t *testing.T) {
	dir := t.TempDir()
	catalog := NewCatalog()

	watcher := NewWatcher(catalog, dir)
	watcher.debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, watcher.Start(ctx))
	defer watcher.Stop()

	path := filepath.Join(dir, "enrich-report.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWorkflow), 0o644))

	require.Eventually(t, func() bool {
		_, err := catalog.Get("enrich-report")
		return err == nil
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, os.Remove(path))
	require.Eventually(t, func() bool {
		_, err := catalog.Get("enrich-report")
		return err != nil
	}, 5*time.Second, 20*time.Millisecond)
}
