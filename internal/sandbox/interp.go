package sandbox

import (
	"context"
	"errors"
	"fmt"
	"math"

	"ael/internal/api"
)

// Callable and container object types shared across the interpreter.

type moduleValue struct {
	name  string
	attrs map[string]interface{}
}

type builtinFunc struct {
	name string
	fn   func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

type boundMethod struct {
	name string
	fn   func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
}

type lambdaValue struct {
	params  []string
	body    expr
	closure *scope
}

// attrObject is implemented by interpreter objects that expose named
// attributes (the execution context, step entries, match objects,
// datetime values, hashers).
type attrObject interface {
	attr(name string) (interface{}, error)
}

// scope is a name-resolution frame. Scripts run in a single flat scope;
// lambdas and comprehensions push child frames for their parameters.
type scope struct {
	vars   map[string]interface{}
	parent *scope
}

func (s *scope) lookup(name string) (interface{}, bool) {
	for f := s; f != nil; f = f.parent {
		if v, ok := f.vars[name]; ok {
			return v, true
		}
	}
	return nil, false
}

func (s *scope) set(name string, v interface{}) {
	// Assignments bind in the innermost frame that already has the name,
	// falling back to the current frame.
	for f := s; f != nil; f = f.parent {
		if _, ok := f.vars[name]; ok {
			f.vars[name] = v
			return
		}
	}
	s.vars[name] = v
}

// Control-flow signals travel as errors between statement frames.

var (
	errBreak    = errors.New("break")
	errContinue = errors.New("continue")
)

// raisedError is a script-level `raise`.
type raisedError struct {
	value interface{}
}

func (e *raisedError) Error() string {
	return strValue(e.value)
}

// runtimeError is an ordinary script failure (TypeError/KeyError style),
// carrying the line where it happened.
type runtimeError struct {
	line int
	msg  string
}

func (e *runtimeError) Error() string {
	return fmt.Sprintf("line %d: %s", e.line, e.msg)
}

type interp struct {
	ctx     context.Context
	scope   *scope
	ctxVal  *contextValue
	opCount int
}

func newInterp(ctx context.Context, ec *ExecutionContext) *interp {
	it := &interp{
		ctx:   ctx,
		scope: &scope{vars: map[string]interface{}{}},
	}
	if ec != nil {
		it.ctxVal = &contextValue{ec: ec}
		it.scope.vars["context"] = it.ctxVal
	}
	return it
}

// checkBudget enforces the cooperative time budget. It is called at
// statement and loop-iteration boundaries so even CPU-bound loops see
// the deadline.
func (it *interp) checkBudget() error {
	it.opCount++
	if it.opCount%64 != 0 {
		return nil
	}
	select {
	case <-it.ctx.Done():
		if errors.Is(it.ctx.Err(), context.DeadlineExceeded) {
			return api.NewTimeoutError("script execution exceeded its time budget")
		}
		return api.NewExecutionError(false, "script execution cancelled")
	default:
		return nil
	}
}

func (it *interp) execBlock(stmts []stmt) error {
	for _, s := range stmts {
		if err := it.execStmt(s); err != nil {
			return err
		}
	}
	return nil
}

func (it *interp) execStmt(s stmt) error {
	if err := it.checkBudget(); err != nil {
		return err
	}
	switch n := s.(type) {
	case *assignStmt:
		v, err := it.eval(n.value)
		if err != nil {
			return err
		}
		return it.assign(n.target, v)
	case *tupleAssignStmt:
		return it.execTupleAssign(n)
	case *augAssignStmt:
		cur, err := it.eval(n.target)
		if err != nil {
			return err
		}
		rhs, err := it.eval(n.value)
		if err != nil {
			return err
		}
		v, err := it.binOp(n.op, cur, rhs, n.Line())
		if err != nil {
			return err
		}
		return it.assign(n.target, v)
	case *exprStmt:
		_, err := it.eval(n.value)
		return err
	case *importStmt:
		return it.execImport(n)
	case *fromImportStmt:
		return it.execFromImport(n)
	case *ifStmt:
		cond, err := it.eval(n.cond)
		if err != nil {
			return err
		}
		if truthy(cond) {
			return it.execBlock(n.body)
		}
		return it.execBlock(n.orelse)
	case *forStmt:
		return it.execFor(n)
	case *whileStmt:
		return it.execWhile(n)
	case *raiseStmt:
		if n.value == nil {
			return &raisedError{value: "re-raise outside exception handler"}
		}
		v, err := it.eval(n.value)
		if err != nil {
			return err
		}
		return &raisedError{value: v}
	case *passStmt:
		return nil
	case *breakStmt:
		return errBreak
	case *continueStmt:
		return errContinue
	}
	return &runtimeError{line: s.Line(), msg: "unsupported statement"}
}

func (it *interp) execTupleAssign(n *tupleAssignStmt) error {
	v, err := it.eval(n.value)
	if err != nil {
		return err
	}
	elems, ok := asSequence(v)
	if !ok {
		return &runtimeError{line: n.Line(), msg: fmt.Sprintf("cannot unpack %s", typeName(v))}
	}
	if len(elems) != len(n.targets) {
		return &runtimeError{line: n.Line(), msg: fmt.Sprintf("expected %d values to unpack, got %d", len(n.targets), len(elems))}
	}
	for i, target := range n.targets {
		if err := it.assign(target, elems[i]); err != nil {
			return err
		}
	}
	return nil
}

func (it *interp) assign(target expr, v interface{}) error {
	switch t := target.(type) {
	case *nameExpr:
		if t.name == "context" {
			return api.NewSecurityError("cannot rebind the execution context")
		}
		it.scope.set(t.name, v)
		return nil
	case *indexExpr:
		container, err := it.eval(t.value)
		if err != nil {
			return err
		}
		key, err := it.eval(t.key)
		if err != nil {
			return err
		}
		switch c := container.(type) {
		case map[string]interface{}:
			ks, ok := key.(string)
			if !ok {
				return &runtimeError{line: t.Line(), msg: fmt.Sprintf("dict keys must be strings, got %s", typeName(key))}
			}
			c[ks] = v
			return nil
		case *listValue:
			ki, ok := toInt(key)
			if !ok {
				return &runtimeError{line: t.Line(), msg: "list indices must be integers"}
			}
			idx, ok := normalizeIndex(ki, len(c.items))
			if !ok {
				return &runtimeError{line: t.Line(), msg: "list assignment index out of range"}
			}
			c.items[idx] = v
			return nil
		case *contextValue, *stepsValue, *stepEntryValue:
			return api.NewSecurityError("the execution context is read-only")
		}
		return &runtimeError{line: t.Line(), msg: fmt.Sprintf("%s does not support item assignment", typeName(container))}
	case *attrExpr:
		container, err := it.eval(t.value)
		if err != nil {
			return err
		}
		switch container.(type) {
		case *contextValue, *stepsValue, *stepEntryValue, *toolsValue:
			return api.NewSecurityError("the execution context is read-only")
		}
		return &runtimeError{line: t.Line(), msg: fmt.Sprintf("%s does not support attribute assignment", typeName(container))}
	}
	return &runtimeError{line: target.Line(), msg: "invalid assignment target"}
}

func (it *interp) execImport(n *importStmt) error {
	for _, m := range n.modules {
		mod, err := loadModule(m.name)
		if err != nil {
			return err
		}
		name := m.alias
		if name == "" {
			name = m.name
		}
		it.scope.set(name, mod)
	}
	return nil
}

func (it *interp) execFromImport(n *fromImportStmt) error {
	mod, err := loadModule(n.module)
	if err != nil {
		return err
	}
	for _, imp := range n.names {
		if imp.name == "*" {
			for k, v := range mod.attrs {
				it.scope.set(k, v)
			}
			continue
		}
		v, ok := mod.attrs[imp.name]
		if !ok {
			return &runtimeError{line: n.Line(), msg: fmt.Sprintf("cannot import name %q from %q", imp.name, n.module)}
		}
		name := imp.alias
		if name == "" {
			name = imp.name
		}
		it.scope.set(name, v)
	}
	return nil
}

func (it *interp) execFor(n *forStmt) error {
	iter, err := it.eval(n.iter)
	if err != nil {
		return err
	}
	items, err := iterate(iter, n.Line())
	if err != nil {
		return err
	}
	for _, item := range items {
		if err := it.checkBudget(); err != nil {
			return err
		}
		if err := it.bindLoopTargets(n.targets, item, n.Line()); err != nil {
			return err
		}
		if err := it.execBlock(n.body); err != nil {
			if errors.Is(err, errBreak) {
				return nil
			}
			if errors.Is(err, errContinue) {
				continue
			}
			return err
		}
	}
	return nil
}

func (it *interp) bindLoopTargets(targets []string, item interface{}, line int) error {
	if len(targets) == 1 {
		it.scope.set(targets[0], item)
		return nil
	}
	elems, ok := asSequence(item)
	if !ok || len(elems) != len(targets) {
		return &runtimeError{line: line, msg: fmt.Sprintf("cannot unpack %s into %d names", typeName(item), len(targets))}
	}
	for i, t := range targets {
		it.scope.set(t, elems[i])
	}
	return nil
}

func (it *interp) execWhile(n *whileStmt) error {
	for {
		if err := it.checkBudget(); err != nil {
			return err
		}
		cond, err := it.eval(n.cond)
		if err != nil {
			return err
		}
		if !truthy(cond) {
			return nil
		}
		if err := it.execBlock(n.body); err != nil {
			if errors.Is(err, errBreak) {
				return nil
			}
			if errors.Is(err, errContinue) {
				continue
			}
			return err
		}
	}
}

// iterate materializes an iterable into a slice. Scripts only see
// bounded data so eager iteration is fine; range() builds its slice
// lazily enough for the sizes workflows use.
func iterate(v interface{}, line int) ([]interface{}, error) {
	switch x := v.(type) {
	case *listValue:
		return x.items, nil
	case tupleValue:
		return x, nil
	case string:
		out := make([]interface{}, 0, len(x))
		for _, r := range x {
			out = append(out, string(r))
		}
		return out, nil
	case map[string]interface{}:
		keys := sortedKeys(x)
		out := make([]interface{}, len(keys))
		for i, k := range keys {
			out[i] = k
		}
		return out, nil
	}
	return nil, &runtimeError{line: line, msg: fmt.Sprintf("%s object is not iterable", typeName(v))}
}

// ---- expression evaluation ----

func (it *interp) eval(e expr) (interface{}, error) {
	switch n := e.(type) {
	case *nameExpr:
		return it.evalName(n)
	case *intLit:
		return n.value, nil
	case *floatLit:
		return n.value, nil
	case *strLit:
		return n.value, nil
	case *boolLit:
		return n.value, nil
	case *noneLit:
		return nil, nil
	case *fstringExpr:
		return it.evalFString(n)
	case *listLit:
		out := make([]interface{}, len(n.elems))
		for i, el := range n.elems {
			v, err := it.eval(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return newList(out), nil
	case *tupleLit:
		out := make(tupleValue, len(n.elems))
		for i, el := range n.elems {
			v, err := it.eval(el)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case *dictLit:
		out := make(map[string]interface{}, len(n.keys))
		for i := range n.keys {
			k, err := it.eval(n.keys[i])
			if err != nil {
				return nil, err
			}
			ks, ok := k.(string)
			if !ok {
				return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("dict keys must be strings, got %s", typeName(k))}
			}
			v, err := it.eval(n.values[i])
			if err != nil {
				return nil, err
			}
			out[ks] = v
		}
		return out, nil
	case *listComp:
		return it.evalListComp(n)
	case *attrExpr:
		return it.evalAttr(n)
	case *indexExpr:
		return it.evalIndex(n)
	case *sliceExpr:
		return it.evalSlice(n)
	case *callExpr:
		return it.evalCall(n)
	case *binOpExpr:
		left, err := it.eval(n.left)
		if err != nil {
			return nil, err
		}
		right, err := it.eval(n.right)
		if err != nil {
			return nil, err
		}
		return it.binOp(n.op, left, right, n.Line())
	case *unaryExpr:
		return it.evalUnary(n)
	case *boolOpExpr:
		left, err := it.eval(n.left)
		if err != nil {
			return nil, err
		}
		if n.op == "and" {
			if !truthy(left) {
				return left, nil
			}
		} else {
			if truthy(left) {
				return left, nil
			}
		}
		return it.eval(n.right)
	case *compareExpr:
		return it.evalCompare(n)
	case *condExpr:
		cond, err := it.eval(n.cond)
		if err != nil {
			return nil, err
		}
		if truthy(cond) {
			return it.eval(n.then)
		}
		return it.eval(n.orElse3)
	case *lambdaExpr:
		return &lambdaValue{params: n.params, body: n.body, closure: it.scope}, nil
	}
	return nil, &runtimeError{line: e.Line(), msg: "unsupported expression"}
}

func (it *interp) evalName(n *nameExpr) (interface{}, error) {
	if deniedBuiltins[n.name] {
		return nil, api.NewSecurityError("use of %q is not allowed", n.name)
	}
	if v, ok := it.scope.lookup(n.name); ok {
		return v, nil
	}
	if b, ok := builtins[n.name]; ok {
		return b, nil
	}
	return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("name %q is not defined", n.name)}
}

func (it *interp) evalFString(n *fstringExpr) (interface{}, error) {
	var out []byte
	for _, part := range n.parts {
		if part.expr == nil {
			out = append(out, part.literal...)
			continue
		}
		v, err := it.eval(part.expr)
		if err != nil {
			return nil, err
		}
		out = append(out, strValue(v)...)
	}
	return string(out), nil
}

func (it *interp) evalListComp(n *listComp) (interface{}, error) {
	iter, err := it.eval(n.iter)
	if err != nil {
		return nil, err
	}
	items, err := iterate(iter, n.Line())
	if err != nil {
		return nil, err
	}

	frame := &scope{vars: map[string]interface{}{}, parent: it.scope}
	prev := it.scope
	it.scope = frame
	defer func() { it.scope = prev }()

	out := []interface{}{}
	for _, item := range items {
		if err := it.checkBudget(); err != nil {
			return nil, err
		}
		if len(n.targets) == 1 {
			frame.vars[n.targets[0]] = item
		} else {
			elems, ok := asSequence(item)
			if !ok || len(elems) != len(n.targets) {
				return nil, &runtimeError{line: n.Line(), msg: "cannot unpack comprehension element"}
			}
			for i, t := range n.targets {
				frame.vars[t] = elems[i]
			}
		}
		if n.cond != nil {
			keep, err := it.eval(n.cond)
			if err != nil {
				return nil, err
			}
			if !truthy(keep) {
				continue
			}
		}
		v, err := it.eval(n.elem)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return newList(out), nil
}

func (it *interp) evalAttr(n *attrExpr) (interface{}, error) {
	recv, err := it.eval(n.value)
	if err != nil {
		return nil, err
	}
	switch r := recv.(type) {
	case *toolsValue:
		if n.name == "call" {
			return it.toolsCallMethod(r), nil
		}
		return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("'ToolInterface' object has no attribute %q", n.name)}
	case *moduleValue:
		if v, ok := r.attrs[n.name]; ok {
			return v, nil
		}
		return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("module %q has no attribute %q", r.name, n.name)}
	}
	if obj, ok := recv.(attrObject); ok {
		v, err := obj.attr(n.name)
		if err != nil {
			return nil, &runtimeError{line: n.Line(), msg: err.Error()}
		}
		return v, nil
	}
	m, err := methodFor(recv, n.name)
	if err != nil {
		return nil, &runtimeError{line: n.Line(), msg: err.Error()}
	}
	return m, nil
}

func (it *interp) toolsCallMethod(tv *toolsValue) *boundMethod {
	return &boundMethod{
		name: "call",
		fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 1 {
				return nil, fmt.Errorf("tools.call() requires a tool name")
			}
			name, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("tool name must be a string")
			}
			toolArgs := map[string]interface{}{}
			if len(args) > 1 {
				m, ok := args[1].(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("tool arguments must be a dict")
				}
				toolArgs = m
			}
			for k, v := range kwargs {
				toolArgs[k] = v
			}
			ext, ok := toExternal(toolArgs).(map[string]interface{})
			if !ok {
				return nil, fmt.Errorf("tool arguments must be a dict")
			}
			out, err := tv.call(it.ctx, name, ext)
			if err != nil {
				return nil, err
			}
			return toInternal(out), nil
		},
	}
}

func (it *interp) evalIndex(n *indexExpr) (interface{}, error) {
	recv, err := it.eval(n.value)
	if err != nil {
		return nil, err
	}
	key, err := it.eval(n.key)
	if err != nil {
		return nil, err
	}
	switch c := recv.(type) {
	case *stepsValue:
		return c.index(key)
	case *contextValue:
		return nil, &runtimeError{line: n.Line(), msg: "'ExecutionContext' object is not subscriptable"}
	case map[string]interface{}:
		ks, ok := key.(string)
		if !ok {
			return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("dict keys must be strings, got %s", typeName(key))}
		}
		v, present := c[ks]
		if !present {
			return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("KeyError: %s", reprValue(ks))}
		}
		return v, nil
	case *listValue:
		return indexSequence(c.items, key, n.Line())
	case tupleValue:
		return indexSequence(c, key, n.Line())
	case string:
		ki, ok := toInt(key)
		if !ok {
			return nil, &runtimeError{line: n.Line(), msg: "string indices must be integers"}
		}
		runes := []rune(c)
		idx, ok := normalizeIndex(ki, len(runes))
		if !ok {
			return nil, &runtimeError{line: n.Line(), msg: "string index out of range"}
		}
		return string(runes[idx]), nil
	}
	return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("%s object is not subscriptable", typeName(recv))}
}

func indexSequence(seq []interface{}, key interface{}, line int) (interface{}, error) {
	ki, ok := toInt(key)
	if !ok {
		return nil, &runtimeError{line: line, msg: "sequence indices must be integers"}
	}
	idx, ok := normalizeIndex(ki, len(seq))
	if !ok {
		return nil, &runtimeError{line: line, msg: "index out of range"}
	}
	return seq[idx], nil
}

func (it *interp) evalSlice(n *sliceExpr) (interface{}, error) {
	recv, err := it.eval(n.value)
	if err != nil {
		return nil, err
	}
	lo, hi, err := it.sliceBounds(n)
	if err != nil {
		return nil, err
	}
	switch c := recv.(type) {
	case *listValue:
		a, b := resolveSlice(lo, hi, len(c.items))
		out := make([]interface{}, b-a)
		copy(out, c.items[a:b])
		return newList(out), nil
	case tupleValue:
		a, b := resolveSlice(lo, hi, len(c))
		out := make(tupleValue, b-a)
		copy(out, c[a:b])
		return out, nil
	case string:
		runes := []rune(c)
		a, b := resolveSlice(lo, hi, len(runes))
		return string(runes[a:b]), nil
	}
	return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("%s object is not sliceable", typeName(recv))}
}

func (it *interp) sliceBounds(n *sliceExpr) (*int64, *int64, error) {
	var lo, hi *int64
	if n.lo != nil {
		v, err := it.eval(n.lo)
		if err != nil {
			return nil, nil, err
		}
		i, ok := toInt(v)
		if !ok {
			return nil, nil, &runtimeError{line: n.Line(), msg: "slice indices must be integers"}
		}
		lo = &i
	}
	if n.hi != nil {
		v, err := it.eval(n.hi)
		if err != nil {
			return nil, nil, err
		}
		i, ok := toInt(v)
		if !ok {
			return nil, nil, &runtimeError{line: n.Line(), msg: "slice indices must be integers"}
		}
		hi = &i
	}
	return lo, hi, nil
}

func resolveSlice(lo, hi *int64, length int) (int, int) {
	start := int64(0)
	end := int64(length)
	if lo != nil {
		start = *lo
	}
	if hi != nil {
		end = *hi
	}
	return clampSlice(start, end, length)
}

func (it *interp) evalCall(n *callExpr) (interface{}, error) {
	// Deny-listed names are rejected even if shadowed.
	if name, ok := n.fn.(*nameExpr); ok && deniedBuiltins[name.name] {
		return nil, api.NewSecurityError("use of %q is not allowed", name.name)
	}

	fn, err := it.eval(n.fn)
	if err != nil {
		return nil, err
	}
	args := make([]interface{}, len(n.args))
	for i, a := range n.args {
		v, err := it.eval(a)
		if err != nil {
			return nil, err
		}
		args[i] = v
	}
	var kwargs map[string]interface{}
	if len(n.kwargs) > 0 {
		kwargs = make(map[string]interface{}, len(n.kwargs))
		for _, kw := range n.kwargs {
			v, err := it.eval(kw.value)
			if err != nil {
				return nil, err
			}
			kwargs[kw.name] = v
		}
	}
	return it.callValue(fn, args, kwargs, n.Line())
}

func (it *interp) callValue(fn interface{}, args []interface{}, kwargs map[string]interface{}, line int) (interface{}, error) {
	switch f := fn.(type) {
	case *builtinFunc:
		v, err := f.fn(it, args, kwargs)
		return it.wrapCallErr(v, err, line)
	case *boundMethod:
		v, err := f.fn(it, args, kwargs)
		return it.wrapCallErr(v, err, line)
	case *lambdaValue:
		if len(args) != len(f.params) {
			return nil, &runtimeError{line: line, msg: fmt.Sprintf("lambda takes %d arguments, got %d", len(f.params), len(args))}
		}
		frame := &scope{vars: make(map[string]interface{}, len(f.params)), parent: f.closure}
		for i, p := range f.params {
			frame.vars[p] = args[i]
		}
		prev := it.scope
		it.scope = frame
		defer func() { it.scope = prev }()
		return it.eval(f.body)
	}
	return nil, &runtimeError{line: line, msg: fmt.Sprintf("%s object is not callable", typeName(fn))}
}

// wrapCallErr attaches line information to plain errors from builtins
// while letting sentinel and policy errors pass through untouched.
func (it *interp) wrapCallErr(v interface{}, err error, line int) (interface{}, error) {
	if err == nil {
		return v, nil
	}
	var apiErr *api.Error
	var rtErr *runtimeError
	var raised *raisedError
	if errors.As(err, &apiErr) || errors.As(err, &rtErr) || errors.As(err, &raised) {
		return nil, err
	}
	return nil, &runtimeError{line: line, msg: err.Error()}
}

func (it *interp) evalUnary(n *unaryExpr) (interface{}, error) {
	v, err := it.eval(n.value)
	if err != nil {
		return nil, err
	}
	switch n.op {
	case "not":
		return !truthy(v), nil
	case "-":
		switch x := v.(type) {
		case int64:
			return -x, nil
		case float64:
			return -x, nil
		case bool:
			if x {
				return int64(-1), nil
			}
			return int64(0), nil
		}
		return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("bad operand type for unary -: %q", typeName(v))}
	case "+":
		switch v.(type) {
		case int64, float64:
			return v, nil
		}
		return nil, &runtimeError{line: n.Line(), msg: fmt.Sprintf("bad operand type for unary +: %q", typeName(v))}
	}
	return nil, &runtimeError{line: n.Line(), msg: "unsupported unary operator"}
}

func (it *interp) evalCompare(n *compareExpr) (interface{}, error) {
	left, err := it.eval(n.first)
	if err != nil {
		return nil, err
	}
	for i, op := range n.ops {
		right, err := it.eval(n.rest[i])
		if err != nil {
			return nil, err
		}
		ok, err := it.compareOnce(op, left, right, n.Line())
		if err != nil {
			return nil, err
		}
		if !ok {
			return false, nil
		}
		left = right
	}
	return true, nil
}

func (it *interp) compareOnce(op string, left, right interface{}, line int) (bool, error) {
	switch op {
	case "==":
		return valuesEqual(left, right), nil
	case "!=":
		return !valuesEqual(left, right), nil
	case "is":
		return left == nil && right == nil || valuesEqual(left, right) && typeName(left) == typeName(right), nil
	case "is not":
		ok, _ := it.compareOnce("is", left, right, line)
		return !ok, nil
	case "in":
		return containsValue(right, left, line)
	case "not in":
		ok, err := containsValue(right, left, line)
		if err != nil {
			return false, err
		}
		return !ok, nil
	case "<", "<=", ">", ">=":
		c, err := compareValues(left, right)
		if err != nil {
			return false, &runtimeError{line: line, msg: err.Error()}
		}
		switch op {
		case "<":
			return c < 0, nil
		case "<=":
			return c <= 0, nil
		case ">":
			return c > 0, nil
		default:
			return c >= 0, nil
		}
	}
	return false, &runtimeError{line: line, msg: fmt.Sprintf("unsupported comparison %q", op)}
}

func containsValue(container, item interface{}, line int) (bool, error) {
	switch c := container.(type) {
	case string:
		s, ok := item.(string)
		if !ok {
			return false, &runtimeError{line: line, msg: "'in <string>' requires string as left operand"}
		}
		return stringsContains(c, s), nil
	case *listValue:
		for _, e := range c.items {
			if valuesEqual(e, item) {
				return true, nil
			}
		}
		return false, nil
	case tupleValue:
		for _, e := range c {
			if valuesEqual(e, item) {
				return true, nil
			}
		}
		return false, nil
	case map[string]interface{}:
		s, ok := item.(string)
		if !ok {
			return false, nil
		}
		_, present := c[s]
		return present, nil
	case *stepsValue:
		return c.contains(item), nil
	}
	return false, &runtimeError{line: line, msg: fmt.Sprintf("argument of type %q is not iterable", typeName(container))}
}

func (it *interp) binOp(op string, left, right interface{}, line int) (interface{}, error) {
	switch op {
	case "+":
		if ls, ok := left.(string); ok {
			rs, ok := right.(string)
			if !ok {
				return nil, &runtimeError{line: line, msg: fmt.Sprintf("can only concatenate str to str, not %s", typeName(right))}
			}
			return ls + rs, nil
		}
		if ll, ok := left.(*listValue); ok {
			rl, ok := right.(*listValue)
			if !ok {
				return nil, &runtimeError{line: line, msg: fmt.Sprintf("can only concatenate list to list, not %s", typeName(right))}
			}
			out := make([]interface{}, 0, len(ll.items)+len(rl.items))
			out = append(out, ll.items...)
			out = append(out, rl.items...)
			return newList(out), nil
		}
		return numericOp(op, left, right, line)
	case "*":
		// Sequence repetition.
		if s, n, ok := seqRepeatOperands(left, right); ok {
			return repeatValue(s, n), nil
		}
		return numericOp(op, left, right, line)
	case "%":
		if format, ok := left.(string); ok {
			return pyFormat(format, right)
		}
		return numericOp(op, left, right, line)
	default:
		return numericOp(op, left, right, line)
	}
}

func seqRepeatOperands(left, right interface{}) (interface{}, int64, bool) {
	if n, ok := toIntStrict(right); ok {
		switch left.(type) {
		case string, *listValue:
			return left, n, true
		}
	}
	if n, ok := toIntStrict(left); ok {
		switch right.(type) {
		case string, *listValue:
			return right, n, true
		}
	}
	return nil, 0, false
}

func toIntStrict(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func repeatValue(v interface{}, n int64) interface{} {
	if n < 0 {
		n = 0
	}
	switch x := v.(type) {
	case string:
		out := make([]byte, 0, int64(len(x))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, x...)
		}
		return string(out)
	case *listValue:
		out := make([]interface{}, 0, int64(len(x.items))*n)
		for i := int64(0); i < n; i++ {
			out = append(out, x.items...)
		}
		return newList(out)
	}
	return v
}

func numericOp(op string, left, right interface{}, line int) (interface{}, error) {
	li, lIsInt := toIntStrict(left)
	ri, rIsInt := toIntStrict(right)
	if lIsInt && rIsInt {
		switch op {
		case "+":
			return li + ri, nil
		case "-":
			return li - ri, nil
		case "*":
			return li * ri, nil
		case "/":
			if ri == 0 {
				return nil, &runtimeError{line: line, msg: "division by zero"}
			}
			return float64(li) / float64(ri), nil
		case "//":
			if ri == 0 {
				return nil, &runtimeError{line: line, msg: "integer division by zero"}
			}
			return floorDivInt(li, ri), nil
		case "%":
			if ri == 0 {
				return nil, &runtimeError{line: line, msg: "integer modulo by zero"}
			}
			return modInt(li, ri), nil
		case "**":
			if ri >= 0 {
				return powInt(li, ri), nil
			}
			return math.Pow(float64(li), float64(ri)), nil
		}
	}

	lf, lok := toFloat(left)
	rf, rok := toFloat(right)
	if !lok || !rok {
		return nil, &runtimeError{line: line, msg: fmt.Sprintf("unsupported operand type(s) for %s: %q and %q", op, typeName(left), typeName(right))}
	}
	switch op {
	case "+":
		return lf + rf, nil
	case "-":
		return lf - rf, nil
	case "*":
		return lf * rf, nil
	case "/":
		if rf == 0 {
			return nil, &runtimeError{line: line, msg: "float division by zero"}
		}
		return lf / rf, nil
	case "//":
		if rf == 0 {
			return nil, &runtimeError{line: line, msg: "float floor division by zero"}
		}
		return math.Floor(lf / rf), nil
	case "%":
		if rf == 0 {
			return nil, &runtimeError{line: line, msg: "float modulo by zero"}
		}
		m := math.Mod(lf, rf)
		if m != 0 && (m < 0) != (rf < 0) {
			m += rf
		}
		return m, nil
	case "**":
		return math.Pow(lf, rf), nil
	}
	return nil, &runtimeError{line: line, msg: fmt.Sprintf("unsupported operator %q", op)}
}

// floorDivInt and modInt follow floored-division semantics where the
// remainder takes the divisor's sign.
func floorDivInt(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func modInt(a, b int64) int64 {
	m := a % b
	if m != 0 && (m < 0) != (b < 0) {
		m += b
	}
	return m
}

func powInt(base, exp int64) interface{} {
	result := int64(1)
	b := base
	e := exp
	for e > 0 {
		if e&1 == 1 {
			// Overflow falls back to float.
			if willMulOverflow(result, b) {
				return math.Pow(float64(base), float64(exp))
			}
			result *= b
		}
		e >>= 1
		if e > 0 {
			if willMulOverflow(b, b) {
				return math.Pow(float64(base), float64(exp))
			}
			b *= b
		}
	}
	return result
}

func willMulOverflow(a, b int64) bool {
	if a == 0 || b == 0 {
		return false
	}
	c := a * b
	return c/b != a
}

func stringsContains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	for i := 0; i+len(needle) <= len(haystack); i++ {
		if haystack[i:i+len(needle)] == needle {
			return true
		}
	}
	return false
}

// pyFormat implements the small %-formatting subset scripts use.
func pyFormat(format string, arg interface{}) (interface{}, error) {
	args, ok := asSequence(arg)
	if !ok {
		args = []interface{}{arg}
	}
	var out []byte
	argIdx := 0
	for i := 0; i < len(format); i++ {
		c := format[i]
		if c != '%' || i+1 >= len(format) {
			out = append(out, c)
			continue
		}
		i++
		verb := format[i]
		if verb == '%' {
			out = append(out, '%')
			continue
		}
		if argIdx >= len(args) {
			return nil, fmt.Errorf("not enough arguments for format string")
		}
		v := args[argIdx]
		argIdx++
		switch verb {
		case 's':
			out = append(out, strValue(v)...)
		case 'd':
			n, ok := toInt(v)
			if !ok {
				return nil, fmt.Errorf("%%d format: a number is required, not %s", typeName(v))
			}
			out = append(out, fmt.Sprintf("%d", n)...)
		case 'f':
			f, ok := toFloat(v)
			if !ok {
				return nil, fmt.Errorf("%%f format: a number is required, not %s", typeName(v))
			}
			out = append(out, fmt.Sprintf("%f", f)...)
		case 'r':
			out = append(out, reprValue(v)...)
		default:
			return nil, fmt.Errorf("unsupported format character %q", string(verb))
		}
	}
	return string(out), nil
}
