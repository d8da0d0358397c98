package sandbox

import (
	"fmt"
	"strings"
	"unicode"
)

// methodFor resolves a method on a built-in value type. The returned
// boundMethod closes over the receiver.
func methodFor(recv interface{}, name string) (*boundMethod, error) {
	switch r := recv.(type) {
	case string:
		if fn, ok := stringMethods[name]; ok {
			return bind(name, r, fn), nil
		}
		return nil, fmt.Errorf("'str' object has no attribute %q", name)
	case *listValue:
		if fn, ok := listMethods[name]; ok {
			return bindList(name, r, fn), nil
		}
		return nil, fmt.Errorf("'list' object has no attribute %q", name)
	case map[string]interface{}:
		if fn, ok := dictMethods[name]; ok {
			return bindDict(name, r, fn), nil
		}
		return nil, fmt.Errorf("'dict' object has no attribute %q", name)
	}
	return nil, fmt.Errorf("%q object has no attribute %q", typeName(recv), name)
}

type stringMethod func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
type listMethod func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error)
type dictMethod func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error)

func bind(name string, s string, fn stringMethod) *boundMethod {
	return &boundMethod{name: name, fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return fn(it, s, args, kwargs)
	}}
}

func bindList(name string, l *listValue, fn listMethod) *boundMethod {
	return &boundMethod{name: name, fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return fn(it, l, args, kwargs)
	}}
}

func bindDict(name string, d map[string]interface{}, fn dictMethod) *boundMethod {
	return &boundMethod{name: name, fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		return fn(it, d, args, kwargs)
	}}
}

func oneStringArg(name string, args []interface{}) (string, error) {
	if len(args) != 1 {
		return "", fmt.Errorf("%s() takes exactly one argument (%d given)", name, len(args))
	}
	s, ok := args[0].(string)
	if !ok {
		return "", fmt.Errorf("%s() argument must be str, not %s", name, typeName(args[0]))
	}
	return s, nil
}

// ---- str ----

var stringMethods map[string]stringMethod

func init() {
	stringMethods = map[string]stringMethod{
		"upper": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return strings.ToUpper(s), nil
		},
		"lower": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return strings.ToLower(s), nil
		},
		"title": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return titleCase(s), nil
		},
		"capitalize": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if s == "" {
				return s, nil
			}
			runes := []rune(strings.ToLower(s))
			runes[0] = unicode.ToUpper(runes[0])
			return string(runes), nil
		},
		"strip": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return stripString(s, args, strings.Trim, strings.TrimSpace)
		},
		"lstrip": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return stripString(s, args, strings.TrimLeft, func(s string) string {
				return strings.TrimLeftFunc(s, unicode.IsSpace)
			})
		},
		"rstrip": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return stripString(s, args, strings.TrimRight, func(s string) string {
				return strings.TrimRightFunc(s, unicode.IsSpace)
			})
		},
		"split":      strSplit,
		"rsplit":     strSplit,
		"splitlines": strSplitlines,
		"join":       strJoin,
		"replace":    strReplace,
		"startswith": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return strPrefixSuffix("startswith", s, args, strings.HasPrefix)
		},
		"endswith": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return strPrefixSuffix("endswith", s, args, strings.HasSuffix)
		},
		"find": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			sub, err := oneStringArg("find", args)
			if err != nil {
				return nil, err
			}
			return int64(strings.Index(s, sub)), nil
		},
		"index": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			sub, err := oneStringArg("index", args)
			if err != nil {
				return nil, err
			}
			i := strings.Index(s, sub)
			if i < 0 {
				return nil, fmt.Errorf("substring not found")
			}
			return int64(i), nil
		},
		"count": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			sub, err := oneStringArg("count", args)
			if err != nil {
				return nil, err
			}
			return int64(strings.Count(s, sub)), nil
		},
		"format": strFormat,
		"zfill": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("zfill() takes exactly one argument")
			}
			width, ok := toIntStrict(args[0])
			if !ok {
				return nil, fmt.Errorf("zfill() width must be an integer")
			}
			for int64(len(s)) < width {
				s = "0" + s
			}
			return s, nil
		},
		"isdigit": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if s == "" {
				return false, nil
			}
			for _, r := range s {
				if !unicode.IsDigit(r) {
					return false, nil
				}
			}
			return true, nil
		},
		"isalpha": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if s == "" {
				return false, nil
			}
			for _, r := range s {
				if !unicode.IsLetter(r) {
					return false, nil
				}
			}
			return true, nil
		},
		"isalnum": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if s == "" {
				return false, nil
			}
			for _, r := range s {
				if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
					return false, nil
				}
			}
			return true, nil
		},
		// encode returns the string unchanged; the hashing module accepts
		// plain strings so scripts can write sha256(text.encode()).
		"encode": func(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return s, nil
		},
	}
}

func titleCase(s string) string {
	var b strings.Builder
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
		} else {
			b.WriteRune(r)
			prevLetter = false
		}
	}
	return b.String()
}

func stripString(s string, args []interface{}, trim func(string, string) string, trimSpace func(string) string) (interface{}, error) {
	if len(args) == 0 {
		return trimSpace(s), nil
	}
	cutset, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("strip arg must be str, not %s", typeName(args[0]))
	}
	return trim(s, cutset), nil
}

func strSplit(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) == 0 {
		fields := strings.Fields(s)
		out := make([]interface{}, len(fields))
		for i, f := range fields {
			out[i] = f
		}
		return newList(out), nil
	}
	sep, ok := args[0].(string)
	if !ok {
		return nil, fmt.Errorf("split separator must be str, not %s", typeName(args[0]))
	}
	if sep == "" {
		return nil, fmt.Errorf("empty separator")
	}
	var parts []string
	if len(args) >= 2 {
		n, ok := toIntStrict(args[1])
		if !ok {
			return nil, fmt.Errorf("split maxsplit must be an integer")
		}
		parts = strings.SplitN(s, sep, int(n)+1)
	} else {
		parts = strings.Split(s, sep)
	}
	out := make([]interface{}, len(parts))
	for i, p := range parts {
		out[i] = p
	}
	return newList(out), nil
}

func strSplitlines(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.TrimSuffix(s, "\n")
	if s == "" {
		return newList(nil), nil
	}
	lines := strings.Split(s, "\n")
	out := make([]interface{}, len(lines))
	for i, l := range lines {
		out[i] = l
	}
	return newList(out), nil
}

func strJoin(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("join() takes exactly one argument")
	}
	items, err := iterate(args[0], 0)
	if err != nil {
		return nil, fmt.Errorf("can only join an iterable")
	}
	parts := make([]string, len(items))
	for i, item := range items {
		str, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("sequence item %d: expected str instance, %s found", i, typeName(item))
		}
		parts[i] = str
	}
	return strings.Join(parts, s), nil
}

func strReplace(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	if len(args) < 2 || len(args) > 3 {
		return nil, fmt.Errorf("replace() takes 2 or 3 arguments")
	}
	old, ok1 := args[0].(string)
	repl, ok2 := args[1].(string)
	if !ok1 || !ok2 {
		return nil, fmt.Errorf("replace() arguments must be str")
	}
	n := -1
	if len(args) == 3 {
		c, ok := toIntStrict(args[2])
		if !ok {
			return nil, fmt.Errorf("replace() count must be an integer")
		}
		n = int(c)
	}
	return strings.Replace(s, old, repl, n), nil
}

func strPrefixSuffix(name, s string, args []interface{}, match func(string, string) bool) (interface{}, error) {
	if len(args) != 1 {
		return nil, fmt.Errorf("%s() takes exactly one argument", name)
	}
	if sub, ok := args[0].(string); ok {
		return match(s, sub), nil
	}
	if seq, ok := args[0].(tupleValue); ok {
		for _, e := range seq {
			sub, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%s() tuple elements must be str", name)
			}
			if match(s, sub) {
				return true, nil
			}
		}
		return false, nil
	}
	return nil, fmt.Errorf("%s() argument must be str or tuple of str", name)
}

// strFormat implements the {}, {0} and {name} substitution forms.
func strFormat(it *interp, s string, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
	var b strings.Builder
	autoIdx := 0
	i := 0
	for i < len(s) {
		c := s[i]
		switch {
		case c == '{' && i+1 < len(s) && s[i+1] == '{':
			b.WriteByte('{')
			i += 2
		case c == '}' && i+1 < len(s) && s[i+1] == '}':
			b.WriteByte('}')
			i += 2
		case c == '{':
			end := strings.IndexByte(s[i:], '}')
			if end < 0 {
				return nil, fmt.Errorf("single '{' encountered in format string")
			}
			field := s[i+1 : i+end]
			if colon := strings.IndexByte(field, ':'); colon >= 0 {
				field = field[:colon]
			}
			var v interface{}
			switch {
			case field == "":
				if autoIdx >= len(args) {
					return nil, fmt.Errorf("replacement index %d out of range", autoIdx)
				}
				v = args[autoIdx]
				autoIdx++
			case isAllDigits(field):
				var idx int
				fmt.Sscanf(field, "%d", &idx)
				if idx >= len(args) {
					return nil, fmt.Errorf("replacement index %d out of range", idx)
				}
				v = args[idx]
			default:
				kv, ok := kwargs[field]
				if !ok {
					return nil, fmt.Errorf("KeyError: %s", reprValue(field))
				}
				v = kv
			}
			b.WriteString(strValue(v))
			i += end + 1
		case c == '}':
			return nil, fmt.Errorf("single '}' encountered in format string")
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String(), nil
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

// ---- list ----

var listMethods map[string]listMethod

func init() {
	listMethods = map[string]listMethod{
		"append": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("append() takes exactly one argument")
			}
			l.items = append(l.items, args[0])
			return nil, nil
		},
		"extend": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("extend() takes exactly one argument")
			}
			items, err := iterate(args[0], 0)
			if err != nil {
				return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
			}
			l.items = append(l.items, items...)
			return nil, nil
		},
		"insert": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("insert() takes exactly two arguments")
			}
			pos, ok := toIntStrict(args[0])
			if !ok {
				return nil, fmt.Errorf("insert() index must be an integer")
			}
			idx := int(pos)
			if idx < 0 {
				idx += len(l.items)
				if idx < 0 {
					idx = 0
				}
			}
			if idx > len(l.items) {
				idx = len(l.items)
			}
			l.items = append(l.items, nil)
			copy(l.items[idx+1:], l.items[idx:])
			l.items[idx] = args[1]
			return nil, nil
		},
		"pop": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(l.items) == 0 {
				return nil, fmt.Errorf("pop from empty list")
			}
			idx := len(l.items) - 1
			if len(args) == 1 {
				pos, ok := toIntStrict(args[0])
				if !ok {
					return nil, fmt.Errorf("pop() index must be an integer")
				}
				i, ok := normalizeIndex(pos, len(l.items))
				if !ok {
					return nil, fmt.Errorf("pop index out of range")
				}
				idx = i
			}
			v := l.items[idx]
			l.items = append(l.items[:idx], l.items[idx+1:]...)
			return v, nil
		},
		"remove": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("remove() takes exactly one argument")
			}
			for i, e := range l.items {
				if valuesEqual(e, args[0]) {
					l.items = append(l.items[:i], l.items[i+1:]...)
					return nil, nil
				}
			}
			return nil, fmt.Errorf("list.remove(x): x not in list")
		},
		"index": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("index() takes exactly one argument")
			}
			for i, e := range l.items {
				if valuesEqual(e, args[0]) {
					return int64(i), nil
				}
			}
			return nil, fmt.Errorf("%s is not in list", reprValue(args[0]))
		},
		"count": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("count() takes exactly one argument")
			}
			n := int64(0)
			for _, e := range l.items {
				if valuesEqual(e, args[0]) {
					n++
				}
			}
			return n, nil
		},
		"sort": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			sorted, err := builtinSorted(it, []interface{}{l}, kwargs)
			if err != nil {
				return nil, err
			}
			l.items = sorted.(*listValue).items
			return nil, nil
		},
		"reverse": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			for i, j := 0, len(l.items)-1; i < j; i, j = i+1, j-1 {
				l.items[i], l.items[j] = l.items[j], l.items[i]
			}
			return nil, nil
		},
		"copy": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			out := make([]interface{}, len(l.items))
			copy(out, l.items)
			return newList(out), nil
		},
		"clear": func(it *interp, l *listValue, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			l.items = nil
			return nil, nil
		},
	}
}

// ---- dict ----

var dictMethods map[string]dictMethod

func init() {
	dictMethods = map[string]dictMethod{
		"get": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("get() takes 1 or 2 arguments")
			}
			k, ok := args[0].(string)
			if !ok {
				return nil, nil
			}
			if v, present := d[k]; present {
				return v, nil
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return nil, nil
		},
		"keys": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			keys := sortedKeys(d)
			out := make([]interface{}, len(keys))
			for i, k := range keys {
				out[i] = k
			}
			return newList(out), nil
		},
		"values": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			keys := sortedKeys(d)
			out := make([]interface{}, len(keys))
			for i, k := range keys {
				out[i] = d[k]
			}
			return newList(out), nil
		},
		"items": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			keys := sortedKeys(d)
			out := make([]interface{}, len(keys))
			for i, k := range keys {
				out[i] = tupleValue{k, d[k]}
			}
			return newList(out), nil
		},
		"update": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) == 1 {
				other, ok := args[0].(map[string]interface{})
				if !ok {
					return nil, fmt.Errorf("update() argument must be a dict")
				}
				for k, v := range other {
					d[k] = v
				}
			}
			for k, v := range kwargs {
				d[k] = v
			}
			return nil, nil
		},
		"pop": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("pop() takes 1 or 2 arguments")
			}
			k, ok := args[0].(string)
			if ok {
				if v, present := d[k]; present {
					delete(d, k)
					return v, nil
				}
			}
			if len(args) == 2 {
				return args[1], nil
			}
			return nil, fmt.Errorf("KeyError: %s", reprValue(args[0]))
		},
		"setdefault": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("setdefault() takes 1 or 2 arguments")
			}
			k, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("dict keys must be strings, got %s", typeName(args[0]))
			}
			if v, present := d[k]; present {
				return v, nil
			}
			var dflt interface{}
			if len(args) == 2 {
				dflt = args[1]
			}
			d[k] = dflt
			return dflt, nil
		},
		"copy": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			out := make(map[string]interface{}, len(d))
			for k, v := range d {
				out[k] = v
			}
			return out, nil
		},
		"clear": func(it *interp, d map[string]interface{}, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			for k := range d {
				delete(d, k)
			}
			return nil, nil
		},
	}
}
