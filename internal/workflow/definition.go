// Package workflow holds workflow definitions: the declarative
// description of a multi-step automation, its parsing from YAML, its
// structural validation, and the catalog that owns loaded definitions.
// Execution lives in the engine package.
package workflow

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ErrorPolicy decides what the engine does when a step fails.
type ErrorPolicy string

const (
	// ErrorPolicyFail stops the workflow on the first failure.
	ErrorPolicyFail ErrorPolicy = "fail"
	// ErrorPolicySkip marks the failed step skipped and continues.
	ErrorPolicySkip ErrorPolicy = "skip"
	// ErrorPolicyRetry reattempts the step per its retry config.
	ErrorPolicyRetry ErrorPolicy = "retry"
)

// Backoff selects how retry delays grow between attempts.
type Backoff string

const (
	BackoffFixed       Backoff = "fixed"
	BackoffExponential Backoff = "exponential"
)

// Definition is one workflow as declared by its author. Definitions are
// immutable once loaded; the catalog replaces them wholesale on reload.
type Definition struct {
	Name        string             `yaml:"name" json:"name"`
	Version     string             `yaml:"version,omitempty" json:"version,omitempty"`
	Description string             `yaml:"description,omitempty" json:"description,omitempty"`
	Inputs      []InputDefinition  `yaml:"inputs,omitempty" json:"inputs,omitempty"`
	Steps       []StepDefinition   `yaml:"steps" json:"steps"`
	Outputs     []OutputDefinition `yaml:"outputs,omitempty" json:"outputs,omitempty"`
}

// InputDefinition declares one workflow argument. Required inputs must
// be present at execution time; optional ones fall back to Default.
type InputDefinition struct {
	Name     string      `yaml:"name" json:"name"`
	Type     string      `yaml:"type,omitempty" json:"type,omitempty"`
	Required bool        `yaml:"required,omitempty" json:"required,omitempty"`
	Default  interface{} `yaml:"default,omitempty" json:"default,omitempty"`
}

// StepDefinition declares one step. Exactly one of Code or Tool is set:
// a script step runs Code in the sandbox, a tool step invokes Tool with
// the templated Params.
type StepDefinition struct {
	ID        string                 `yaml:"id" json:"id"`
	Code      string                 `yaml:"code,omitempty" json:"code,omitempty"`
	Tool      string                 `yaml:"tool,omitempty" json:"tool,omitempty"`
	Params    map[string]interface{} `yaml:"params,omitempty" json:"params,omitempty"`
	DependsOn []string               `yaml:"depends_on,omitempty" json:"depends_on,omitempty"`
	OnError   ErrorPolicy            `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	Retry     *RetryConfig           `yaml:"retry,omitempty" json:"retry,omitempty"`
	// Timeout bounds one attempt, in seconds. Zero means no step bound.
	Timeout float64 `yaml:"timeout,omitempty" json:"timeout,omitempty"`
}

// IsScript reports whether the step runs sandboxed code.
func (s *StepDefinition) IsScript() bool {
	return s.Code != ""
}

// Policy returns the step's error policy, defaulting to fail.
func (s *StepDefinition) Policy() ErrorPolicy {
	if s.OnError == "" {
		return ErrorPolicyFail
	}
	return s.OnError
}

// RetryConfig tunes the retry error policy.
type RetryConfig struct {
	MaxAttempts int     `yaml:"max_attempts" json:"max_attempts"`
	Backoff     Backoff `yaml:"backoff,omitempty" json:"backoff,omitempty"`
	// DelaySeconds is the base delay. Fixed backoff repeats it;
	// exponential backoff multiplies it per attempt.
	DelaySeconds      float64 `yaml:"delay_seconds,omitempty" json:"delay_seconds,omitempty"`
	BackoffMultiplier float64 `yaml:"backoff_multiplier,omitempty" json:"backoff_multiplier,omitempty"`
	MaxBackoff        float64 `yaml:"max_backoff,omitempty" json:"max_backoff,omitempty"`
}

// OutputDefinition maps one name in the final result either to a dotted
// path into the execution namespace (FromPath) or to a literal Value.
type OutputDefinition struct {
	Name     string      `yaml:"name" json:"name"`
	FromPath string      `yaml:"from_path,omitempty" json:"from_path,omitempty"`
	Value    interface{} `yaml:"value,omitempty" json:"value,omitempty"`
	// hasValue distinguishes "value: null" from no value at all.
	hasValue bool
}

// UnmarshalYAML tracks whether a literal value key was present so a
// declared null is honored.
func (o *OutputDefinition) UnmarshalYAML(node *yaml.Node) error {
	var raw struct {
		Name     string      `yaml:"name"`
		FromPath string      `yaml:"from_path"`
		Value    interface{} `yaml:"value"`
	}
	if err := node.Decode(&raw); err != nil {
		return err
	}
	o.Name = raw.Name
	o.FromPath = raw.FromPath
	o.Value = raw.Value
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == "value" {
			o.hasValue = true
		}
	}
	return nil
}

// HasValue reports whether the output declares a literal value.
func (o *OutputDefinition) HasValue() bool {
	return o.hasValue || o.Value != nil
}

// Parse decodes a YAML workflow document. The result is parsed only;
// call Validate before registering it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse workflow: %w", err)
	}
	return &def, nil
}
