// Package sandbox runs workflow script steps in a restricted in-process
// interpreter for a small Python-like dialect. Scripts see exactly one
// injected object, `context`, and assign their return value to `result`.
// Imports run against a fixed allow-list, dynamic code builtins are
// denied, tool calls are rate limited, and execution is bounded by a
// cooperative time budget and a serialized output ceiling.
package sandbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"ael/internal/api"
	"ael/pkg/logging"
)

// resultVariable is the designated output variable a script assigns.
const resultVariable = "result"

// Options tune per-sandbox limits. Zero values fall back to defaults.
type Options struct {
	Timeout       time.Duration
	MaxToolCalls  int
	MaxOutputSize int
}

// Sandbox executes and statically validates script steps. It is
// stateless across calls; each execution gets a fresh interpreter and
// context, so one instance may serve many concurrent executions.
type Sandbox struct {
	opts Options
}

func New(opts Options) *Sandbox {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxToolCalls <= 0 {
		opts.MaxToolCalls = DefaultMaxToolCalls
	}
	if opts.MaxOutputSize <= 0 {
		opts.MaxOutputSize = DefaultMaxOutputSize
	}
	return &Sandbox{opts: opts}
}

// Execute runs code against ec and returns the final value of the
// result variable. Failures of any kind come back as an unsuccessful
// CodeExecutionResult; Execute itself never returns an error.
func (s *Sandbox) Execute(ctx context.Context, code string, ec *ExecutionContext) *api.CodeExecutionResult {
	start := time.Now()
	if ec == nil {
		ec = NewExecutionContext(nil, nil, nil, nil)
	}
	if ec.BlockedTools == nil {
		ec.BlockedTools = map[string]bool{}
	}
	ec.BlockedTools[systemToolName] = true
	if ec.MaxToolCalls <= 0 {
		ec.MaxToolCalls = s.opts.MaxToolCalls
	}

	execCtx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	result := s.run(execCtx, code, ec)
	result.ExecutionTime = time.Since(start).Seconds()
	if !result.Success && result.Error != nil {
		logging.Debug("Sandbox", "script execution failed: [%s] %s", result.Error.Category, result.Error.Message)
	}
	return result
}

func (s *Sandbox) run(ctx context.Context, code string, ec *ExecutionContext) *api.CodeExecutionResult {
	program, err := parse(code)
	if err != nil {
		return failure(api.NewValidationError("script syntax error: %v", err))
	}
	if err := checkImports(program); err != nil {
		return failure(err)
	}

	it := newInterp(ctx, ec)
	if err := it.execBlock(program); err != nil {
		return failure(classifyRunError(err))
	}

	raw, ok := it.scope.lookup(resultVariable)
	if !ok {
		return failure(api.NewExecutionError(false, "script did not assign the %q variable", resultVariable))
	}
	out := toExternal(raw)

	if size, err := serializedSize(out); err != nil {
		return failure(api.NewExecutionError(false, "script result is not serializable: %v", err))
	} else if size > s.opts.MaxOutputSize {
		return failure(api.NewTimeoutError("script result exceeds maximum output size (%d > %d bytes)", size, s.opts.MaxOutputSize))
	}

	return &api.CodeExecutionResult{Success: true, Result: out}
}

func failure(err error) *api.CodeExecutionResult {
	var apiErr *api.Error
	if !errors.As(err, &apiErr) {
		apiErr = api.NewExecutionError(false, "%v", err)
	}
	return &api.CodeExecutionResult{Success: false, Error: apiErr}
}

// classifyRunError maps interpreter failures into the error taxonomy.
func classifyRunError(err error) error {
	var apiErr *api.Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	var raised *raisedError
	if errors.As(err, &raised) {
		return api.NewExecutionError(false, "script raised: %s", strValue(raised.value))
	}
	if errors.Is(err, errBreak) || errors.Is(err, errContinue) {
		return api.NewExecutionError(false, "break or continue outside loop")
	}
	return api.NewExecutionError(false, "script error: %v", err)
}

func serializedSize(v interface{}) (int, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	return len(b), nil
}

// ValidateCode parses code and walks its import statements without
// executing anything. It returns one message per problem found, empty
// when the script is clean.
func ValidateCode(code string) []string {
	program, err := parse(code)
	if err != nil {
		return []string{err.Error()}
	}

	var problems []string
	walkStmts(program, func(s stmt) {
		switch n := s.(type) {
		case *importStmt:
			for _, m := range n.modules {
				if !allowedModules[m.name] {
					problems = append(problems, fmt.Sprintf("line %d: import of module %q is not allowed", n.Line(), m.name))
				}
			}
		case *fromImportStmt:
			if !allowedModules[n.module] {
				problems = append(problems, fmt.Sprintf("line %d: import of module %q is not allowed", n.Line(), n.module))
			}
		}
	})
	walkExprs(program, func(e expr) {
		if call, ok := e.(*callExpr); ok {
			if name, ok := call.fn.(*nameExpr); ok && deniedBuiltins[name.name] {
				problems = append(problems, fmt.Sprintf("line %d: use of %q is not allowed", call.Line(), name.name))
			}
		}
	})
	return problems
}

// checkImports rejects disallowed imports anywhere in the program before
// execution starts, so a script cannot partially execute and then hit a
// policy violation.
func checkImports(program []stmt) error {
	var bad error
	walkStmts(program, func(s stmt) {
		if bad != nil {
			return
		}
		switch n := s.(type) {
		case *importStmt:
			for _, m := range n.modules {
				if !allowedModules[m.name] {
					bad = api.NewSecurityError("import of module %q is not allowed", m.name)
					return
				}
			}
		case *fromImportStmt:
			if !allowedModules[n.module] {
				bad = api.NewSecurityError("import of module %q is not allowed", n.module)
			}
		}
	})
	return bad
}

// walkStmts visits every statement, recursing into nested blocks.
func walkStmts(stmts []stmt, visit func(stmt)) {
	for _, s := range stmts {
		visit(s)
		switch n := s.(type) {
		case *ifStmt:
			walkStmts(n.body, visit)
			walkStmts(n.orelse, visit)
		case *forStmt:
			walkStmts(n.body, visit)
		case *whileStmt:
			walkStmts(n.body, visit)
		}
	}
}

// walkExprs visits every expression in the program.
func walkExprs(stmts []stmt, visit func(expr)) {
	walkStmts(stmts, func(s stmt) {
		switch n := s.(type) {
		case *assignStmt:
			walkExpr(n.target, visit)
			walkExpr(n.value, visit)
		case *tupleAssignStmt:
			for _, t := range n.targets {
				walkExpr(t, visit)
			}
			walkExpr(n.value, visit)
		case *augAssignStmt:
			walkExpr(n.target, visit)
			walkExpr(n.value, visit)
		case *exprStmt:
			walkExpr(n.value, visit)
		case *ifStmt:
			walkExpr(n.cond, visit)
		case *forStmt:
			walkExpr(n.iter, visit)
		case *whileStmt:
			walkExpr(n.cond, visit)
		case *raiseStmt:
			if n.value != nil {
				walkExpr(n.value, visit)
			}
		}
	})
}

func walkExpr(e expr, visit func(expr)) {
	if e == nil {
		return
	}
	visit(e)
	switch n := e.(type) {
	case *fstringExpr:
		for _, p := range n.parts {
			walkExpr(p.expr, visit)
		}
	case *listLit:
		for _, el := range n.elems {
			walkExpr(el, visit)
		}
	case *tupleLit:
		for _, el := range n.elems {
			walkExpr(el, visit)
		}
	case *dictLit:
		for i := range n.keys {
			walkExpr(n.keys[i], visit)
			walkExpr(n.values[i], visit)
		}
	case *listComp:
		walkExpr(n.elem, visit)
		walkExpr(n.iter, visit)
		walkExpr(n.cond, visit)
	case *attrExpr:
		walkExpr(n.value, visit)
	case *indexExpr:
		walkExpr(n.value, visit)
		walkExpr(n.key, visit)
	case *sliceExpr:
		walkExpr(n.value, visit)
		walkExpr(n.lo, visit)
		walkExpr(n.hi, visit)
	case *callExpr:
		walkExpr(n.fn, visit)
		for _, a := range n.args {
			walkExpr(a, visit)
		}
		for _, kw := range n.kwargs {
			walkExpr(kw.value, visit)
		}
	case *binOpExpr:
		walkExpr(n.left, visit)
		walkExpr(n.right, visit)
	case *unaryExpr:
		walkExpr(n.value, visit)
	case *boolOpExpr:
		walkExpr(n.left, visit)
		walkExpr(n.right, visit)
	case *compareExpr:
		walkExpr(n.first, visit)
		for _, r := range n.rest {
			walkExpr(r, visit)
		}
	case *condExpr:
		walkExpr(n.cond, visit)
		walkExpr(n.then, visit)
		walkExpr(n.orElse3, visit)
	case *lambdaExpr:
		walkExpr(n.body, visit)
	}
}
