package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testContext() map[string]interface{} {
	return map[string]interface{}{
		"inputs": map[string]interface{}{
			"url":   "https://x.test",
			"count": 5,
			"debug": true,
		},
		"steps": map[string]interface{}{
			"fetch": map[string]interface{}{
				"output": map[string]interface{}{
					"status": 200,
					"body":   "hello",
					"items":  []interface{}{"a", "b"},
				},
			},
		},
	}
}

func TestRenderSimplePathPreservesType(t *testing.T) {
	e := New()

	tests := []struct {
		name     string
		template string
		expected interface{}
	}{
		{"string input", "{{ inputs.url }}", "https://x.test"},
		{"int input", "{{ inputs.count }}", 5},
		{"bool input", "{{ inputs.debug }}", true},
		{"nested step output", "{{ steps.fetch.output.status }}", 200},
		{"slice index", "{{ steps.fetch.output.items.1 }}", "b"},
		{"dot prefix accepted", "{{ .inputs.url }}", "https://x.test"},
		{"no spaces", "{{inputs.url}}", "https://x.test"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := e.Render(tt.template, testContext())
			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestRenderEmbeddedPlaceholders(t *testing.T) {
	e := New()

	result, err := e.Render("GET {{ inputs.url }} -> {{ steps.fetch.output.status }}", testContext())
	require.NoError(t, err)
	assert.Equal(t, "GET https://x.test -> 200", result)
}

func TestRenderMissingPath(t *testing.T) {
	e := New()

	_, err := e.Render("{{ inputs.nope }}", testContext())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "inputs.nope")
}

func TestRenderNonTemplateString(t *testing.T) {
	e := New()

	result, err := e.Render("constant", testContext())
	require.NoError(t, err)
	assert.Equal(t, "constant", result)
}

func TestRenderRecursesMapsAndSlices(t *testing.T) {
	e := New()

	params := map[string]interface{}{
		"method": "GET",
		"url":    "{{ inputs.url }}",
		"headers": map[string]interface{}{
			"x-count": "{{ inputs.count }}",
		},
		"tags": []interface{}{"{{ steps.fetch.output.body }}", "static"},
	}

	result, err := e.Render(params, testContext())
	require.NoError(t, err)

	m := result.(map[string]interface{})
	assert.Equal(t, "GET", m["method"])
	assert.Equal(t, "https://x.test", m["url"])
	assert.Equal(t, 5, m["headers"].(map[string]interface{})["x-count"])
	assert.Equal(t, []interface{}{"hello", "static"}, m["tags"])
}

func TestRenderGoTemplateFallback(t *testing.T) {
	e := New()

	// Pipelines are not dotted paths; they go through text/template + sprig.
	result, err := e.Render(`{{ .inputs.url | upper }}`, testContext())
	require.NoError(t, err)
	assert.Equal(t, "HTTPS://X.TEST", result)
}

func TestRenderNonStringValuesPassThrough(t *testing.T) {
	e := New()

	result, err := e.Render(42, testContext())
	require.NoError(t, err)
	assert.Equal(t, 42, result)
}

func TestExtractPaths(t *testing.T) {
	e := New()

	paths := e.ExtractPaths(map[string]interface{}{
		"url":  "{{ inputs.url }}",
		"body": "{{ steps.fetch.output.body }} and {{ inputs.url }}",
	})
	assert.ElementsMatch(t, []string{"inputs.url", "steps.fetch.output.body"}, paths)
}

func TestResolvePath(t *testing.T) {
	data := map[string]interface{}{
		"steps": map[string]interface{}{
			"compute": map[string]interface{}{
				"output": map[string]interface{}{"value": 42},
			},
		},
	}

	t.Run("found", func(t *testing.T) {
		v, err := ResolvePath(data, "steps.compute.output.value")
		require.NoError(t, err)
		assert.Equal(t, 42, v)
	})

	t.Run("missing", func(t *testing.T) {
		_, err := ResolvePath(data, "steps.compute.output.missing")
		assert.Error(t, err)
	})

	t.Run("navigate through scalar", func(t *testing.T) {
		_, err := ResolvePath(data, "steps.compute.output.value.deeper")
		assert.Error(t, err)
	})
}
