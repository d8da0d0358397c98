package sandbox

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
)

// builtins is the allow-set of callable builtins available to scripts.
// Anything in deniedBuiltins is rejected before lookup ever gets here.
var builtins map[string]*builtinFunc

func init() {
	builtins = map[string]*builtinFunc{}
	reg := func(name string, fn func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error)) {
		builtins[name] = &builtinFunc{name: name, fn: fn}
	}

	reg("len", builtinLen)
	reg("str", builtinStr)
	reg("repr", builtinRepr)
	reg("int", builtinInt)
	reg("float", builtinFloat)
	reg("bool", builtinBool)
	reg("list", builtinList)
	reg("tuple", builtinTuple)
	reg("dict", builtinDict)
	reg("set", builtinSet)
	reg("range", builtinRange)
	reg("enumerate", builtinEnumerate)
	reg("sum", builtinSum)
	reg("min", builtinMin)
	reg("max", builtinMax)
	reg("abs", builtinAbs)
	reg("round", builtinRound)
	reg("sorted", builtinSorted)
	reg("reversed", builtinReversed)
	reg("zip", builtinZip)
	reg("any", builtinAny)
	reg("all", builtinAll)
	reg("map", builtinMap)
	reg("filter", builtinFilter)
	reg("isinstance", builtinIsinstance)
	reg("type", builtinType)
	// print produces no observable output inside the sandbox; scripts
	// return data through their result variable.
	reg("print", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return nil, nil
	})
}

func wantArgs(name string, args []interface{}, min, max int) error {
	if len(args) < min || (max >= 0 && len(args) > max) {
		return fmt.Errorf("%s() takes %d to %d arguments, got %d", name, min, max, len(args))
	}
	return nil
}

func builtinLen(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("len", args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case string:
		return int64(len([]rune(x))), nil
	case *listValue:
		return int64(len(x.items)), nil
	case tupleValue:
		return int64(len(x)), nil
	case map[string]interface{}:
		return int64(len(x)), nil
	}
	return nil, fmt.Errorf("object of type %q has no len()", typeName(args[0]))
}

func builtinStr(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return "", nil
	}
	if err := wantArgs("str", args, 1, 1); err != nil {
		return nil, err
	}
	return strValue(args[0]), nil
}

func builtinRepr(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("repr", args, 1, 1); err != nil {
		return nil, err
	}
	return reprValue(args[0]), nil
}

func builtinInt(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return int64(0), nil
	}
	if err := wantArgs("int", args, 1, 2); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		return x, nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	case float64:
		return int64(math.Trunc(x)), nil
	case string:
		base := 10
		if len(args) == 2 {
			b, ok := toIntStrict(args[1])
			if !ok {
				return nil, fmt.Errorf("int() base must be an integer")
			}
			base = int(b)
		}
		n, err := strconv.ParseInt(strings.TrimSpace(x), base, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid literal for int(): %s", reprValue(x))
		}
		return n, nil
	}
	return nil, fmt.Errorf("int() argument must be a string or a number, not %q", typeName(args[0]))
}

func builtinFloat(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return float64(0), nil
	}
	if err := wantArgs("float", args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case float64:
		return x, nil
	case int64:
		return float64(x), nil
	case bool:
		if x {
			return float64(1), nil
		}
		return float64(0), nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return nil, fmt.Errorf("could not convert string to float: %s", reprValue(x))
		}
		return f, nil
	}
	return nil, fmt.Errorf("float() argument must be a string or a number, not %q", typeName(args[0]))
}

func builtinBool(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return false, nil
	}
	if err := wantArgs("bool", args, 1, 1); err != nil {
		return nil, err
	}
	return truthy(args[0]), nil
}

func builtinList(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return newList(nil), nil
	}
	if err := wantArgs("list", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	out := make([]interface{}, len(items))
	copy(out, items)
	return newList(out), nil
}

func builtinTuple(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return tupleValue{}, nil
	}
	if err := wantArgs("tuple", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	out := make(tupleValue, len(items))
	copy(out, items)
	return out, nil
}

func builtinDict(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	out := map[string]interface{}{}
	if len(args) > 1 {
		return nil, fmt.Errorf("dict() takes at most 1 positional argument")
	}
	if len(args) == 1 {
		switch x := args[0].(type) {
		case map[string]interface{}:
			for k, v := range x {
				out[k] = v
			}
		case []interface{}:
			for _, pair := range x {
				kv, ok := asSequence(pair)
				if !ok || len(kv) != 2 {
					return nil, fmt.Errorf("dict() requires key/value pairs")
				}
				ks, ok := kv[0].(string)
				if !ok {
					return nil, fmt.Errorf("dict keys must be strings, got %s", typeName(kv[0]))
				}
				out[ks] = kv[1]
			}
		default:
			return nil, fmt.Errorf("dict() argument must be a mapping or pair sequence")
		}
	}
	for k, v := range kwargs {
		out[k] = v
	}
	return out, nil
}

// Sets are represented as deduplicated lists; workflows only use them
// for membership and uniqueness.
func builtinSet(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return newList(nil), nil
	}
	if err := wantArgs("set", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	out := []interface{}{}
	for _, item := range items {
		dup := false
		for _, seen := range out {
			if valuesEqual(seen, item) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, item)
		}
	}
	return newList(out), nil
}

const maxRangeSize = 10_000_000

func builtinRange(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("range", args, 1, 3); err != nil {
		return nil, err
	}
	nums := make([]int64, len(args))
	for i, a := range args {
		n, ok := toIntStrict(a)
		if !ok {
			return nil, fmt.Errorf("range() arguments must be integers, got %s", typeName(a))
		}
		nums[i] = n
	}
	start, stop, step := int64(0), int64(0), int64(1)
	switch len(nums) {
	case 1:
		stop = nums[0]
	case 2:
		start, stop = nums[0], nums[1]
	case 3:
		start, stop, step = nums[0], nums[1], nums[2]
	}
	if step == 0 {
		return nil, fmt.Errorf("range() step argument must not be zero")
	}
	out := []interface{}{}
	if step > 0 {
		for i := start; i < stop; i += step {
			if len(out) >= maxRangeSize {
				return nil, fmt.Errorf("range() result too large")
			}
			out = append(out, i)
		}
	} else {
		for i := start; i > stop; i += step {
			if len(out) >= maxRangeSize {
				return nil, fmt.Errorf("range() result too large")
			}
			out = append(out, i)
		}
	}
	return newList(out), nil
}

func builtinEnumerate(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("enumerate", args, 1, 2); err != nil {
		return nil, err
	}
	start := int64(0)
	if len(args) == 2 {
		n, ok := toIntStrict(args[1])
		if !ok {
			return nil, fmt.Errorf("enumerate() start must be an integer")
		}
		start = n
	}
	if s, ok := kwargs["start"]; ok {
		n, ok := toIntStrict(s)
		if !ok {
			return nil, fmt.Errorf("enumerate() start must be an integer")
		}
		start = n
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[i] = tupleValue{start + int64(i), item}
	}
	return newList(out), nil
}

func builtinSum(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("sum", args, 1, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	var acc interface{} = int64(0)
	if len(args) == 2 {
		acc = args[1]
	}
	for _, item := range items {
		v, err := numericOp("+", acc, item, 0)
		if err != nil {
			return nil, fmt.Errorf("unsupported operand type for sum(): %q", typeName(item))
		}
		acc = v
	}
	return acc, nil
}

func builtinMin(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return minMax(it, "min", args, kwargs, -1)
}

func builtinMax(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	return minMax(it, "max", args, kwargs, 1)
}

func minMax(it *interp, name string, args []interface{}, kwargs map[string]interface{}, want int) (interface{}, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("%s() expected at least 1 argument", name)
	}
	items := args
	if len(args) == 1 {
		seq, err := iterate(args[0], 0)
		if err != nil {
			return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
		}
		items = seq
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%s() arg is an empty sequence", name)
	}

	var keyFn interface{}
	if k, ok := kwargs["key"]; ok {
		keyFn = k
	}
	keyOf := func(v interface{}) (interface{}, error) {
		if keyFn == nil {
			return v, nil
		}
		return it.callValue(keyFn, []interface{}{v}, nil, 0)
	}

	best := items[0]
	bestKey, err := keyOf(best)
	if err != nil {
		return nil, err
	}
	for _, item := range items[1:] {
		k, err := keyOf(item)
		if err != nil {
			return nil, err
		}
		c, err := compareValues(k, bestKey)
		if err != nil {
			return nil, err
		}
		if c == want {
			best, bestKey = item, k
		}
	}
	return best, nil
}

func builtinAbs(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("abs", args, 1, 1); err != nil {
		return nil, err
	}
	switch x := args[0].(type) {
	case int64:
		if x < 0 {
			return -x, nil
		}
		return x, nil
	case float64:
		return math.Abs(x), nil
	case bool:
		if x {
			return int64(1), nil
		}
		return int64(0), nil
	}
	return nil, fmt.Errorf("bad operand type for abs(): %q", typeName(args[0]))
}

func builtinRound(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("round", args, 1, 2); err != nil {
		return nil, err
	}
	f, ok := toFloat(args[0])
	if !ok {
		return nil, fmt.Errorf("round() argument must be a number, not %q", typeName(args[0]))
	}
	if len(args) == 2 && args[1] != nil {
		digits, ok := toIntStrict(args[1])
		if !ok {
			return nil, fmt.Errorf("round() ndigits must be an integer")
		}
		scale := math.Pow(10, float64(digits))
		return math.Round(f*scale) / scale, nil
	}
	// Banker's rounding to match round() semantics.
	return int64(math.RoundToEven(f)), nil
}

func builtinSorted(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("sorted", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	out := make([]interface{}, len(items))
	copy(out, items)

	var keyFn interface{}
	if k, ok := kwargs["key"]; ok {
		keyFn = k
	}
	reverse := false
	if r, ok := kwargs["reverse"]; ok {
		reverse = truthy(r)
	}

	type keyed struct {
		key  interface{}
		item interface{}
	}
	pairs := make([]keyed, len(out))
	for i, item := range out {
		k := item
		if keyFn != nil {
			kv, err := it.callValue(keyFn, []interface{}{item}, nil, 0)
			if err != nil {
				return nil, err
			}
			k = kv
		}
		pairs[i] = keyed{key: k, item: item}
	}

	var sortErr error
	sort.SliceStable(pairs, func(i, j int) bool {
		c, err := compareValues(pairs[i].key, pairs[j].key)
		if err != nil && sortErr == nil {
			sortErr = err
		}
		if reverse {
			return c > 0
		}
		return c < 0
	})
	if sortErr != nil {
		return nil, sortErr
	}
	for i, p := range pairs {
		out[i] = p.item
	}
	return newList(out), nil
}

func builtinReversed(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("reversed", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not reversible", typeName(args[0]))
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		out[len(items)-1-i] = item
	}
	return newList(out), nil
}

func builtinZip(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		return newList(nil), nil
	}
	seqs := make([][]interface{}, len(args))
	shortest := -1
	for i, a := range args {
		items, err := iterate(a, 0)
		if err != nil {
			return nil, fmt.Errorf("zip argument %d is not iterable", i+1)
		}
		seqs[i] = items
		if shortest < 0 || len(items) < shortest {
			shortest = len(items)
		}
	}
	out := make([]interface{}, shortest)
	for i := 0; i < shortest; i++ {
		row := make(tupleValue, len(seqs))
		for j, seq := range seqs {
			row[j] = seq[i]
		}
		out[i] = row
	}
	return newList(out), nil
}

func builtinAny(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("any", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	for _, item := range items {
		if truthy(item) {
			return true, nil
		}
	}
	return false, nil
}

func builtinAll(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("all", args, 1, 1); err != nil {
		return nil, err
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
	}
	for _, item := range items {
		if !truthy(item) {
			return false, nil
		}
	}
	return true, nil
}

func builtinMap(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("map", args, 2, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[1], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[1]))
	}
	out := make([]interface{}, len(items))
	for i, item := range items {
		v, err := it.callValue(args[0], []interface{}{item}, nil, 0)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return newList(out), nil
}

func builtinFilter(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("filter", args, 2, 2); err != nil {
		return nil, err
	}
	items, err := iterate(args[1], 0)
	if err != nil {
		return nil, fmt.Errorf("%q object is not iterable", typeName(args[1]))
	}
	out := []interface{}{}
	for _, item := range items {
		keep := truthy(item)
		if args[0] != nil {
			v, err := it.callValue(args[0], []interface{}{item}, nil, 0)
			if err != nil {
				return nil, err
			}
			keep = truthy(v)
		}
		if keep {
			out = append(out, item)
		}
	}
	return newList(out), nil
}

func builtinIsinstance(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("isinstance", args, 2, 2); err != nil {
		return nil, err
	}
	types := []interface{}{args[1]}
	if seq, ok := asSequence(args[1]); ok {
		types = seq
	}
	for _, t := range types {
		bf, ok := t.(*builtinFunc)
		if !ok {
			return nil, fmt.Errorf("isinstance() arg 2 must be a type or tuple of types")
		}
		if matchesType(args[0], bf.name) {
			return true, nil
		}
	}
	return false, nil
}

func matchesType(v interface{}, name string) bool {
	switch name {
	case "str":
		_, ok := v.(string)
		return ok
	case "int":
		if _, ok := v.(bool); ok {
			return true
		}
		_, ok := v.(int64)
		return ok
	case "float":
		_, ok := v.(float64)
		return ok
	case "bool":
		_, ok := v.(bool)
		return ok
	case "list", "set":
		_, ok := v.(*listValue)
		return ok
	case "tuple":
		_, ok := v.(tupleValue)
		return ok
	case "dict":
		_, ok := v.(map[string]interface{})
		return ok
	}
	return false
}

func builtinType(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if err := wantArgs("type", args, 1, 1); err != nil {
		return nil, err
	}
	if bf, ok := builtins[typeName(args[0])]; ok {
		return bf, nil
	}
	return fmt.Sprintf("<class '%s'>", typeName(args[0])), nil
}
