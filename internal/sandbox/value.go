package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// Script values are plain Go types: nil, bool, int64, float64, string
// and map[string]interface{} for dicts, plus interpreter-internal object
// types (lists, tuples, modules, bound methods, lambdas). Lists are
// boxed so in-place mutation (append, sort) stays visible through every
// binding; values convert to JSON-shaped Go data at the sandbox
// boundary.

type tupleValue []interface{}

type listValue struct {
	items []interface{}
}

func newList(items []interface{}) *listValue {
	return &listValue{items: items}
}

// toInternal converts boundary data (workflow inputs, step outputs,
// tool results) into interpreter form. Integral floats become ints,
// matching how JSON integers behave in the source scripts.
func toInternal(v interface{}) interface{} {
	switch x := v.(type) {
	case []interface{}:
		items := make([]interface{}, len(x))
		for i, e := range x {
			items[i] = toInternal(e)
		}
		return newList(items)
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = toInternal(e)
		}
		return out
	case int:
		return int64(x)
	case int32:
		return int64(x)
	case float64:
		if x == math.Trunc(x) && math.Abs(x) < 1e15 {
			return int64(x)
		}
		return x
	case float32:
		return toInternal(float64(x))
	default:
		return v
	}
}

// toExternal converts interpreter values back to plain JSON-shaped Go
// data for results and tool-call arguments.
func toExternal(v interface{}) interface{} {
	switch x := v.(type) {
	case *listValue:
		out := make([]interface{}, len(x.items))
		for i, e := range x.items {
			out[i] = toExternal(e)
		}
		return out
	case tupleValue:
		out := make([]interface{}, len(x))
		for i, e := range x {
			out[i] = toExternal(e)
		}
		return out
	case map[string]interface{}:
		out := make(map[string]interface{}, len(x))
		for k, e := range x {
			out[k] = toExternal(e)
		}
		return out
	case nil, bool, int64, float64, string:
		return x
	default:
		return strValue(v)
	}
}

func truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case int64:
		return x != 0
	case float64:
		return x != 0
	case string:
		return x != ""
	case *listValue:
		return len(x.items) > 0
	case tupleValue:
		return len(x) > 0
	case map[string]interface{}:
		return len(x) > 0
	default:
		return true
	}
}

// valuesEqual implements == semantics: numbers compare across int/float,
// containers compare element-wise.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			// bool is not a number for equality against non-bool numbers
			// in the host representation; keep it simple and numeric.
			return af == bf
		}
		return false
	}
	switch x := a.(type) {
	case nil:
		return b == nil
	case string:
		y, ok := b.(string)
		return ok && x == y
	case *listValue:
		y, ok := b.(*listValue)
		if !ok || len(x.items) != len(y.items) {
			return false
		}
		for i := range x.items {
			if !valuesEqual(x.items[i], y.items[i]) {
				return false
			}
		}
		return true
	case tupleValue:
		y, ok := b.(tupleValue)
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if !valuesEqual(x[i], y[i]) {
				return false
			}
		}
		return true
	case map[string]interface{}:
		y, ok := b.(map[string]interface{})
		if !ok || len(x) != len(y) {
			return false
		}
		for k, v := range x {
			yv, present := y[k]
			if !present || !valuesEqual(v, yv) {
				return false
			}
		}
		return true
	default:
		return a == b
	}
}

func toFloat(v interface{}) (float64, bool) {
	switch x := v.(type) {
	case int64:
		return float64(x), true
	case float64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

func toInt(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case bool:
		if x {
			return 1, true
		}
		return 0, true
	case float64:
		if x == math.Trunc(x) {
			return int64(x), true
		}
	}
	return 0, false
}

// compareValues returns -1/0/1 for orderable values, or an error for
// unorderable pairs.
func compareValues(a, b interface{}) (int, error) {
	if af, aok := toFloat(a); aok {
		if bf, bok := toFloat(b); bok {
			switch {
			case af < bf:
				return -1, nil
			case af > bf:
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	if as, ok := a.(string); ok {
		if bs, ok := b.(string); ok {
			return strings.Compare(as, bs), nil
		}
	}
	if al, ok := asSequence(a); ok {
		if bl, ok := asSequence(b); ok {
			for i := 0; i < len(al) && i < len(bl); i++ {
				c, err := compareValues(al[i], bl[i])
				if err != nil {
					return 0, err
				}
				if c != 0 {
					return c, nil
				}
			}
			switch {
			case len(al) < len(bl):
				return -1, nil
			case len(al) > len(bl):
				return 1, nil
			default:
				return 0, nil
			}
		}
	}
	return 0, fmt.Errorf("'<' not supported between instances of %q and %q", typeName(a), typeName(b))
}

func asSequence(v interface{}) ([]interface{}, bool) {
	switch x := v.(type) {
	case *listValue:
		return x.items, true
	case tupleValue:
		return x, true
	}
	return nil, false
}

func typeName(v interface{}) string {
	switch v.(type) {
	case nil:
		return "NoneType"
	case bool:
		return "bool"
	case int64:
		return "int"
	case float64:
		return "float"
	case string:
		return "str"
	case *listValue:
		return "list"
	case tupleValue:
		return "tuple"
	case map[string]interface{}:
		return "dict"
	case *moduleValue:
		return "module"
	case *lambdaValue, *builtinFunc, *boundMethod:
		return "function"
	case *contextValue:
		return "ExecutionContext"
	case *stepsValue:
		return "StepOutputs"
	case *stepEntryValue:
		return "StepResult"
	case *toolsValue:
		return "ToolInterface"
	case *datetimeValue:
		return "datetime"
	case *matchValue:
		return "Match"
	case *hashValue:
		return "hash"
	default:
		return fmt.Sprintf("%T", v)
	}
}

// strValue renders a value the way str() does.
func strValue(v interface{}) string {
	switch x := v.(type) {
	case nil:
		return "None"
	case bool:
		if x {
			return "True"
		}
		return "False"
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return formatFloat(x)
	case string:
		return x
	case *datetimeValue:
		return x.t.Format("2006-01-02 15:04:05.000000")
	default:
		return reprValue(v)
	}
}

// reprValue renders a value the way repr() does; strings get quotes.
func reprValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return "'" + strings.ReplaceAll(strings.ReplaceAll(x, "\\", "\\\\"), "'", "\\'") + "'"
	case *listValue:
		parts := make([]string, len(x.items))
		for i, e := range x.items {
			parts[i] = reprValue(e)
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case tupleValue:
		parts := make([]string, len(x))
		for i, e := range x {
			parts[i] = reprValue(e)
		}
		if len(parts) == 1 {
			return "(" + parts[0] + ",)"
		}
		return "(" + strings.Join(parts, ", ") + ")"
	case map[string]interface{}:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, len(keys))
		for i, k := range keys {
			parts[i] = reprValue(k) + ": " + reprValue(x[k])
		}
		return "{" + strings.Join(parts, ", ") + "}"
	case *moduleValue:
		return fmt.Sprintf("<module '%s'>", x.name)
	case *builtinFunc:
		return fmt.Sprintf("<built-in function %s>", x.name)
	case *boundMethod:
		return fmt.Sprintf("<built-in method %s>", x.name)
	case *lambdaValue:
		return "<lambda>"
	case nil, bool, int64, float64:
		return strValue(v)
	default:
		return fmt.Sprintf("<%s object>", typeName(v))
	}
}

// formatFloat matches float-to-string conventions where whole floats
// keep a trailing ".0".
func formatFloat(f float64) string {
	if math.IsInf(f, 1) {
		return "inf"
	}
	if math.IsInf(f, -1) {
		return "-inf"
	}
	if math.IsNaN(f) {
		return "nan"
	}
	if f == math.Trunc(f) && math.Abs(f) < 1e16 {
		return strconv.FormatFloat(f, 'f', 1, 64)
	}
	return strconv.FormatFloat(f, 'g', -1, 64)
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// normalizeIndex converts a possibly negative index into a bounded
// offset, returning false when out of range.
func normalizeIndex(idx int64, length int) (int, bool) {
	if idx < 0 {
		idx += int64(length)
	}
	if idx < 0 || idx >= int64(length) {
		return 0, false
	}
	return int(idx), true
}

func clampSlice(lo, hi int64, length int) (int, int) {
	if lo < 0 {
		lo += int64(length)
	}
	if hi < 0 {
		hi += int64(length)
	}
	if lo < 0 {
		lo = 0
	}
	if hi > int64(length) {
		hi = int64(length)
	}
	if lo > hi {
		lo = hi
	}
	return int(lo), int(hi)
}
