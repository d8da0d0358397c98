package template

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	texttemplate "text/template"

	"github.com/Masterminds/sprig/v3"
)

// Engine renders {{ expr }} placeholders in step parameters and output
// definitions against the execution namespace (inputs, prior step outputs).
type Engine struct {
	// Pattern to match dotted-path placeholders like {{ inputs.url }} or
	// {{ steps.fetch.output.value }}.
	pathPattern *regexp.Regexp
}

// New creates a new template engine.
func New() *Engine {
	return &Engine{
		pathPattern: regexp.MustCompile(`\{\{\s*\.?([a-zA-Z_][a-zA-Z0-9_]*(?:\.[a-zA-Z0-9_]+)*)\s*\}\}`),
	}
}

// Render replaces all placeholders in a value with actual values from the
// context, recursing through maps and slices. A string consisting of exactly
// one placeholder resolves to the referenced value with its type preserved;
// anything else renders to a string.
func (e *Engine) Render(value interface{}, context map[string]interface{}) (interface{}, error) {
	switch v := value.(type) {
	case string:
		return e.renderString(v, context)
	case map[string]interface{}:
		result := make(map[string]interface{}, len(v))
		for key, val := range v {
			rendered, err := e.Render(val, context)
			if err != nil {
				return nil, fmt.Errorf("error in key %q: %w", key, err)
			}
			result[key] = rendered
		}
		return result, nil
	case []interface{}:
		result := make([]interface{}, len(v))
		for i, val := range v {
			rendered, err := e.Render(val, context)
			if err != nil {
				return nil, fmt.Errorf("error at index %d: %w", i, err)
			}
			result[i] = rendered
		}
		return result, nil
	default:
		// Non-templatable types are returned as-is
		return value, nil
	}
}

func (e *Engine) renderString(template string, context map[string]interface{}) (interface{}, error) {
	if !strings.Contains(template, "{{") {
		return template, nil
	}

	// Single-placeholder strings preserve the referenced value's type.
	if path, ok := e.simplePath(template); ok {
		value, err := ResolvePath(context, path)
		if err != nil {
			return nil, err
		}
		return value, nil
	}

	matches := e.pathPattern.FindAllStringSubmatchIndex(template, -1)
	if len(matches) == 0 {
		// No dotted-path placeholders but template syntax present; hand the
		// string to Go text/template with the sprig function map.
		return e.renderGoTemplate(template, context)
	}

	var b strings.Builder
	var missing []string
	last := 0
	for _, m := range matches {
		b.WriteString(template[last:m[0]])
		path := template[m[2]:m[3]]
		value, err := ResolvePath(context, path)
		if err != nil {
			missing = append(missing, path)
		} else {
			b.WriteString(stringify(value))
		}
		last = m[1]
	}
	b.WriteString(template[last:])

	if len(missing) > 0 {
		return nil, fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}

	return b.String(), nil
}

// simplePath reports whether the whole string is a single {{ path }}
// placeholder, returning the path.
func (e *Engine) simplePath(template string) (string, bool) {
	trimmed := strings.TrimSpace(template)
	m := e.pathPattern.FindStringSubmatchIndex(trimmed)
	if m == nil || m[0] != 0 || m[1] != len(trimmed) {
		return "", false
	}
	return trimmed[m[2]:m[3]], true
}

// renderGoTemplate evaluates the string as a Go text/template against the
// context, with the sprig function map available.
func (e *Engine) renderGoTemplate(templateStr string, context map[string]interface{}) (string, error) {
	tmpl, err := texttemplate.New("param").
		Option("missingkey=error").
		Funcs(sprig.TxtFuncMap()).
		Parse(templateStr)
	if err != nil {
		return "", fmt.Errorf("invalid template: %w", err)
	}

	var b strings.Builder
	if err := tmpl.Execute(&b, context); err != nil {
		return "", fmt.Errorf("failed to render template: %w", err)
	}
	return b.String(), nil
}

// ExtractPaths extracts all dotted-path placeholder names from a value,
// recursing through maps and slices. Used by workflow validation to check
// template references before execution.
func (e *Engine) ExtractPaths(value interface{}) []string {
	seen := make(map[string]bool)
	e.extractPathsRecursive(value, seen)

	result := make([]string, 0, len(seen))
	for path := range seen {
		result = append(result, path)
	}
	return result
}

func (e *Engine) extractPathsRecursive(value interface{}, seen map[string]bool) {
	switch v := value.(type) {
	case string:
		for _, match := range e.pathPattern.FindAllStringSubmatch(v, -1) {
			if len(match) >= 2 {
				seen[match[1]] = true
			}
		}
	case map[string]interface{}:
		for _, val := range v {
			e.extractPathsRecursive(val, seen)
		}
	case []interface{}:
		for _, val := range v {
			e.extractPathsRecursive(val, seen)
		}
	}
}

// ResolvePath walks a dotted path through nested maps and slices. Numeric
// segments index into slices. A missing segment is an error, not a nil.
func ResolvePath(data interface{}, path string) (interface{}, error) {
	current := data
	for _, part := range strings.Split(path, ".") {
		switch v := current.(type) {
		case map[string]interface{}:
			value, exists := v[part]
			if !exists {
				return nil, fmt.Errorf("path %q not found", path)
			}
			current = value
		case []interface{}:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(v) {
				return nil, fmt.Errorf("path %q not found", path)
			}
			current = v[idx]
		default:
			return nil, fmt.Errorf("cannot navigate path %q: not an object", path)
		}
	}
	return current, nil
}

func stringify(value interface{}) string {
	switch v := value.(type) {
	case string:
		return v
	case int, int32, int64:
		return fmt.Sprintf("%d", v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'g', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'g', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}
