package workflow

import (
	"fmt"
	"strings"

	"ael/internal/api"
	"ael/internal/sandbox"
)

// Validate checks a definition's structure: identifier uniqueness, the
// code-or-tool exclusivity of each step, dependency references and
// acyclicity, retry configuration, and output declarations. Script
// bodies additionally go through the sandbox's static check so policy
// violations are caught at load time instead of mid-execution.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return api.NewValidationError("workflow name is required")
	}
	if len(d.Steps) == 0 {
		return api.NewValidationError("workflow %s has no steps", d.Name)
	}

	inputNames := map[string]bool{}
	for _, input := range d.Inputs {
		if input.Name == "" {
			return api.NewValidationError("workflow %s has an input without a name", d.Name)
		}
		if inputNames[input.Name] {
			return api.NewValidationError("workflow %s declares input %s twice", d.Name, input.Name)
		}
		inputNames[input.Name] = true
	}

	stepIDs := map[string]bool{}
	for i := range d.Steps {
		step := &d.Steps[i]
		if step.ID == "" {
			return api.NewValidationError("workflow %s: step %d has no id", d.Name, i)
		}
		if stepIDs[step.ID] {
			return api.NewValidationError("workflow %s: duplicate step id %s", d.Name, step.ID)
		}
		stepIDs[step.ID] = true

		if err := validateStep(d.Name, step); err != nil {
			return err
		}
	}

	for i := range d.Steps {
		for _, dep := range d.Steps[i].DependsOn {
			if dep == d.Steps[i].ID {
				return api.NewValidationError("workflow %s: step %s depends on itself", d.Name, d.Steps[i].ID)
			}
			if !stepIDs[dep] {
				return api.NewValidationError("workflow %s: step %s depends on unknown step %s", d.Name, d.Steps[i].ID, dep)
			}
		}
	}
	if cycle := findCycle(d.Steps); cycle != nil {
		return api.NewValidationError("workflow %s: dependency cycle: %s", d.Name, strings.Join(cycle, " -> "))
	}

	outputNames := map[string]bool{}
	for _, out := range d.Outputs {
		if out.Name == "" {
			return api.NewValidationError("workflow %s has an output without a name", d.Name)
		}
		if outputNames[out.Name] {
			return api.NewValidationError("workflow %s declares output %s twice", d.Name, out.Name)
		}
		outputNames[out.Name] = true
		if out.FromPath == "" && !out.HasValue() {
			return api.NewValidationError("workflow %s: output %s needs from_path or value", d.Name, out.Name)
		}
		if out.FromPath != "" && out.HasValue() {
			return api.NewValidationError("workflow %s: output %s sets both from_path and value", d.Name, out.Name)
		}
	}

	return nil
}

func validateStep(workflow string, step *StepDefinition) error {
	hasCode := step.Code != ""
	hasTool := step.Tool != ""
	if hasCode == hasTool {
		return api.NewValidationError("workflow %s: step %s must set exactly one of code or tool", workflow, step.ID)
	}
	if hasCode && len(step.Params) > 0 {
		return api.NewValidationError("workflow %s: script step %s cannot take params", workflow, step.ID)
	}

	switch step.OnError {
	case "", ErrorPolicyFail, ErrorPolicySkip:
	case ErrorPolicyRetry:
		if step.Retry == nil {
			return api.NewValidationError("workflow %s: step %s uses on_error retry without a retry config", workflow, step.ID)
		}
		if step.Retry.MaxAttempts < 1 {
			return api.NewValidationError("workflow %s: step %s retry needs max_attempts >= 1", workflow, step.ID)
		}
		switch step.Retry.Backoff {
		case "", BackoffFixed, BackoffExponential:
		default:
			return api.NewValidationError("workflow %s: step %s has unknown backoff %q", workflow, step.ID, step.Retry.Backoff)
		}
	default:
		return api.NewValidationError("workflow %s: step %s has unknown on_error %q", workflow, step.ID, step.OnError)
	}

	if step.Timeout < 0 {
		return api.NewValidationError("workflow %s: step %s has negative timeout", workflow, step.ID)
	}

	if hasCode {
		if issues := sandbox.ValidateCode(step.Code); len(issues) > 0 {
			return api.NewValidationError("workflow %s: step %s script rejected: %s", workflow, step.ID, strings.Join(issues, "; "))
		}
	}
	return nil
}

// findCycle runs a depth-first search over explicit dependencies and
// returns one cycle as a step id path, or nil.
func findCycle(steps []StepDefinition) []string {
	deps := make(map[string][]string, len(steps))
	for i := range steps {
		deps[steps[i].ID] = steps[i].DependsOn
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(steps))
	var path []string
	var cycle []string

	var visit func(id string) bool
	visit = func(id string) bool {
		color[id] = gray
		path = append(path, id)
		for _, dep := range deps[id] {
			switch color[dep] {
			case gray:
				start := 0
				for i, p := range path {
					if p == dep {
						start = i
						break
					}
				}
				cycle = append(append([]string{}, path[start:]...), dep)
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[id] = black
		return false
	}

	for i := range steps {
		if color[steps[i].ID] == white && visit(steps[i].ID) {
			return cycle
		}
	}
	return nil
}

// Ordered returns step indexes in a valid execution order: explicit
// depends_on edges plus the implicit previous-step edge for steps that
// declare none. Validate must have passed first.
func (d *Definition) Ordered() ([]int, error) {
	index := make(map[string]int, len(d.Steps))
	for i := range d.Steps {
		index[d.Steps[i].ID] = i
	}

	deps := make([][]int, len(d.Steps))
	for i := range d.Steps {
		deps[i] = d.DependencyIndexes(i, index)
	}

	done := make([]bool, len(d.Steps))
	order := make([]int, 0, len(d.Steps))
	for len(order) < len(d.Steps) {
		progressed := false
		for i := range d.Steps {
			if done[i] {
				continue
			}
			ready := true
			for _, dep := range deps[i] {
				if !done[dep] {
					ready = false
					break
				}
			}
			if ready {
				done[i] = true
				order = append(order, i)
				progressed = true
			}
		}
		if !progressed {
			return nil, fmt.Errorf("workflow %s has an unresolvable step order", d.Name)
		}
	}
	return order, nil
}

// DependencyIndexes resolves step i's effective dependencies: the
// explicit depends_on list, or the immediately preceding step when none
// is declared.
func (d *Definition) DependencyIndexes(i int, index map[string]int) []int {
	step := &d.Steps[i]
	if len(step.DependsOn) == 0 {
		if i == 0 {
			return nil
		}
		return []int{i - 1}
	}
	out := make([]int, 0, len(step.DependsOn))
	for _, dep := range step.DependsOn {
		out = append(out, index[dep])
	}
	return out
}
