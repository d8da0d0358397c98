package sandbox

import (
	"crypto/md5"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"ael/internal/api"
)

// loadModule resolves an import against the allow-list. Every module is
// backed by native implementations; there is no filesystem or package
// machinery behind an import.
func loadModule(name string) (*moduleValue, error) {
	if !allowedModules[name] {
		return nil, api.NewSecurityError("import of module %q is not allowed", name)
	}
	switch name {
	case "json":
		return jsonModule(), nil
	case "re":
		return reModule(), nil
	case "math":
		return mathModule(), nil
	case "datetime":
		return datetimeModule(), nil
	case "typing":
		return typingModule(), nil
	case "collections":
		return collectionsModule(), nil
	case "itertools":
		return itertoolsModule(), nil
	case "functools":
		return functoolsModule(), nil
	case "hashlib":
		return hashlibModule(), nil
	case "uuid":
		return uuidModule(), nil
	}
	return nil, api.NewSecurityError("import of module %q is not allowed", name)
}

func mod(name string, attrs map[string]interface{}) *moduleValue {
	return &moduleValue{name: name, attrs: attrs}
}

func fn(name string, f func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error)) *builtinFunc {
	return &builtinFunc{name: name, fn: f}
}

// ---- json ----

func jsonModule() *moduleValue {
	return mod("json", map[string]interface{}{
		"dumps": fn("dumps", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("dumps() takes exactly one argument")
			}
			ext := toExternal(args[0])
			if indent, ok := kwargs["indent"]; ok && indent != nil {
				n, _ := toIntStrict(indent)
				b, err := json.MarshalIndent(ext, "", strings.Repeat(" ", int(n)))
				if err != nil {
					return nil, fmt.Errorf("object is not JSON serializable")
				}
				return string(b), nil
			}
			b, err := json.Marshal(ext)
			if err != nil {
				return nil, fmt.Errorf("object is not JSON serializable")
			}
			return string(b), nil
		}),
		"loads": fn("loads", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("loads() takes exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("the JSON object must be str, not %s", typeName(args[0]))
			}
			var v interface{}
			if err := json.Unmarshal([]byte(s), &v); err != nil {
				return nil, fmt.Errorf("invalid JSON: %v", err)
			}
			return toInternal(v), nil
		}),
	})
}

// ---- re ----

// matchValue is the result of re.search/re.match.
type matchValue struct {
	groups []string
	names  map[string]int
}

func (m *matchValue) attr(name string) (interface{}, error) {
	switch name {
	case "group":
		return &boundMethod{name: "group", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) == 0 {
				return m.groups[0], nil
			}
			switch g := args[0].(type) {
			case int64:
				if g < 0 || int(g) >= len(m.groups) {
					return nil, fmt.Errorf("no such group")
				}
				return m.groups[g], nil
			case string:
				idx, ok := m.names[g]
				if !ok {
					return nil, fmt.Errorf("no such group")
				}
				return m.groups[idx], nil
			}
			return nil, fmt.Errorf("group indices must be integers or strings")
		}}, nil
	case "groups":
		return &boundMethod{name: "groups", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			out := make(tupleValue, len(m.groups)-1)
			for i := 1; i < len(m.groups); i++ {
				out[i-1] = m.groups[i]
			}
			return out, nil
		}}, nil
	}
	return nil, fmt.Errorf("'Match' object has no attribute %q", name)
}

func compilePattern(v interface{}) (*regexp.Regexp, error) {
	p, ok := v.(string)
	if !ok {
		return nil, fmt.Errorf("pattern must be str, not %s", typeName(v))
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, fmt.Errorf("invalid regular expression: %v", err)
	}
	return re, nil
}

func newMatch(re *regexp.Regexp, groups []string) *matchValue {
	names := map[string]int{}
	for i, n := range re.SubexpNames() {
		if n != "" {
			names[n] = i
		}
	}
	return &matchValue{groups: groups, names: names}
}

func reModule() *moduleValue {
	search := fn("search", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("search() takes exactly two arguments")
		}
		re, err := compilePattern(args[0])
		if err != nil {
			return nil, err
		}
		s, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("expected string, got %s", typeName(args[1]))
		}
		g := re.FindStringSubmatch(s)
		if g == nil {
			return nil, nil
		}
		return newMatch(re, g), nil
	})

	return mod("re", map[string]interface{}{
		"search": search,
		"match": fn("match", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("match() takes exactly two arguments")
			}
			re, err := compilePattern(args[0])
			if err != nil {
				return nil, err
			}
			s, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %s", typeName(args[1]))
			}
			loc := re.FindStringSubmatchIndex(s)
			if loc == nil || loc[0] != 0 {
				return nil, nil
			}
			groups := make([]string, re.NumSubexp()+1)
			for i := 0; i <= re.NumSubexp(); i++ {
				if loc[2*i] >= 0 {
					groups[i] = s[loc[2*i]:loc[2*i+1]]
				}
			}
			return newMatch(re, groups), nil
		}),
		"findall": fn("findall", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("findall() takes exactly two arguments")
			}
			re, err := compilePattern(args[0])
			if err != nil {
				return nil, err
			}
			s, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %s", typeName(args[1]))
			}
			matches := re.FindAllStringSubmatch(s, -1)
			out := make([]interface{}, 0, len(matches))
			for _, m := range matches {
				switch {
				case re.NumSubexp() == 0:
					out = append(out, m[0])
				case re.NumSubexp() == 1:
					out = append(out, m[1])
				default:
					row := make(tupleValue, re.NumSubexp())
					for i := 1; i < len(m); i++ {
						row[i-1] = m[i]
					}
					out = append(out, row)
				}
			}
			return newList(out), nil
		}),
		"sub": fn("sub", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 3 {
				return nil, fmt.Errorf("sub() takes exactly three arguments")
			}
			re, err := compilePattern(args[0])
			if err != nil {
				return nil, err
			}
			repl, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("replacement must be str, not %s", typeName(args[1]))
			}
			s, ok := args[2].(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %s", typeName(args[2]))
			}
			// Rewrite \1 backreferences to Go's $1 form.
			goRepl := backrefPattern.ReplaceAllString(repl, "$$$1")
			return re.ReplaceAllString(s, goRepl), nil
		}),
		"split": fn("split", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("split() takes exactly two arguments")
			}
			re, err := compilePattern(args[0])
			if err != nil {
				return nil, err
			}
			s, ok := args[1].(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %s", typeName(args[1]))
			}
			parts := re.Split(s, -1)
			out := make([]interface{}, len(parts))
			for i, p := range parts {
				out[i] = p
			}
			return newList(out), nil
		}),
		"escape": fn("escape", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("escape() takes exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("expected string, got %s", typeName(args[0]))
			}
			return regexp.QuoteMeta(s), nil
		}),
	})
}

var backrefPattern = regexp.MustCompile(`\\(\d+)`)

// ---- math ----

func mathModule() *moduleValue {
	unary := func(name string, f func(float64) float64) *builtinFunc {
		return fn(name, func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%s() takes exactly one argument", name)
			}
			x, ok := toFloat(args[0])
			if !ok {
				return nil, fmt.Errorf("must be real number, not %s", typeName(args[0]))
			}
			return f(x), nil
		})
	}
	unaryInt := func(name string, f func(float64) float64) *builtinFunc {
		return fn(name, func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("%s() takes exactly one argument", name)
			}
			x, ok := toFloat(args[0])
			if !ok {
				return nil, fmt.Errorf("must be real number, not %s", typeName(args[0]))
			}
			return int64(f(x)), nil
		})
	}

	return mod("math", map[string]interface{}{
		"pi":  math.Pi,
		"e":   math.E,
		"tau": 2 * math.Pi,
		"inf": math.Inf(1),
		"nan": math.NaN(),
		"sqrt": fn("sqrt", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("sqrt() takes exactly one argument")
			}
			x, ok := toFloat(args[0])
			if !ok {
				return nil, fmt.Errorf("must be real number, not %s", typeName(args[0]))
			}
			if x < 0 {
				return nil, fmt.Errorf("math domain error")
			}
			return math.Sqrt(x), nil
		}),
		"floor": unaryInt("floor", math.Floor),
		"ceil":  unaryInt("ceil", math.Ceil),
		"trunc": unaryInt("trunc", math.Trunc),
		"fabs":  unary("fabs", math.Abs),
		"exp":   unary("exp", math.Exp),
		"log": fn("log", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 1 || len(args) > 2 {
				return nil, fmt.Errorf("log() takes 1 or 2 arguments")
			}
			x, ok := toFloat(args[0])
			if !ok {
				return nil, fmt.Errorf("must be real number, not %s", typeName(args[0]))
			}
			if x <= 0 {
				return nil, fmt.Errorf("math domain error")
			}
			if len(args) == 2 {
				base, ok := toFloat(args[1])
				if !ok || base <= 0 || base == 1 {
					return nil, fmt.Errorf("math domain error")
				}
				return math.Log(x) / math.Log(base), nil
			}
			return math.Log(x), nil
		}),
		"log2":  unary("log2", math.Log2),
		"log10": unary("log10", math.Log10),
		"sin":   unary("sin", math.Sin),
		"cos":   unary("cos", math.Cos),
		"tan":   unary("tan", math.Tan),
		"pow": fn("pow", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("pow() takes exactly two arguments")
			}
			x, ok1 := toFloat(args[0])
			y, ok2 := toFloat(args[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("must be real number")
			}
			return math.Pow(x, y), nil
		}),
		"gcd": fn("gcd", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("gcd() takes exactly two arguments")
			}
			a, ok1 := toIntStrict(args[0])
			b, ok2 := toIntStrict(args[1])
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("gcd() arguments must be integers")
			}
			for b != 0 {
				a, b = b, a%b
			}
			if a < 0 {
				a = -a
			}
			return a, nil
		}),
		"isnan": fn("isnan", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			x, ok := toFloat(args[0])
			return ok && math.IsNaN(x), nil
		}),
		"isinf": fn("isinf", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			x, ok := toFloat(args[0])
			return ok && math.IsInf(x, 0), nil
		}),
	})
}

// ---- datetime ----

// datetimeValue wraps a wall-clock instant for scripts.
type datetimeValue struct {
	t time.Time
}

func (d *datetimeValue) attr(name string) (interface{}, error) {
	switch name {
	case "year":
		return int64(d.t.Year()), nil
	case "month":
		return int64(d.t.Month()), nil
	case "day":
		return int64(d.t.Day()), nil
	case "hour":
		return int64(d.t.Hour()), nil
	case "minute":
		return int64(d.t.Minute()), nil
	case "second":
		return int64(d.t.Second()), nil
	case "isoformat":
		return &boundMethod{name: "isoformat", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return d.t.Format("2006-01-02T15:04:05.000000"), nil
		}}, nil
	case "timestamp":
		return &boundMethod{name: "timestamp", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return float64(d.t.UnixNano()) / 1e9, nil
		}}, nil
	case "strftime":
		return &boundMethod{name: "strftime", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("strftime() takes exactly one argument")
			}
			layout, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("strftime() argument must be str")
			}
			return strftime(d.t, layout), nil
		}}, nil
	case "date":
		return &boundMethod{name: "date", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return &datetimeValue{t: d.t.Truncate(24 * time.Hour)}, nil
		}}, nil
	}
	return nil, fmt.Errorf("'datetime' object has no attribute %q", name)
}

var strftimeDirectives = map[byte]string{
	'Y': "2006", 'm': "01", 'd': "02",
	'H': "15", 'M': "04", 'S': "05",
	'y': "06", 'b': "Jan", 'B': "January",
	'a': "Mon", 'A': "Monday", 'p': "PM",
	'Z': "MST", 'j': "002",
}

func strftime(t time.Time, layout string) string {
	var b strings.Builder
	for i := 0; i < len(layout); i++ {
		if layout[i] != '%' || i+1 >= len(layout) {
			b.WriteByte(layout[i])
			continue
		}
		i++
		d := layout[i]
		if d == '%' {
			b.WriteByte('%')
			continue
		}
		if goLayout, ok := strftimeDirectives[d]; ok {
			b.WriteString(t.Format(goLayout))
		} else {
			b.WriteByte('%')
			b.WriteByte(d)
		}
	}
	return b.String()
}

func datetimeModule() *moduleValue {
	datetimeClass := mod("datetime.datetime", map[string]interface{}{
		"now": fn("now", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return &datetimeValue{t: time.Now()}, nil
		}),
		"utcnow": fn("utcnow", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return &datetimeValue{t: time.Now().UTC()}, nil
		}),
		"fromisoformat": fn("fromisoformat", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("fromisoformat() takes exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("fromisoformat() argument must be str")
			}
			for _, layout := range []string{"2006-01-02T15:04:05.000000", "2006-01-02T15:04:05", "2006-01-02"} {
				if t, err := time.Parse(layout, s); err == nil {
					return &datetimeValue{t: t}, nil
				}
			}
			return nil, fmt.Errorf("invalid isoformat string: %s", reprValue(s))
		}),
	})
	dateClass := mod("datetime.date", map[string]interface{}{
		"today": fn("today", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return &datetimeValue{t: time.Now()}, nil
		}),
	})
	return mod("datetime", map[string]interface{}{
		"datetime": datetimeClass,
		"date":     dateClass,
	})
}

// ---- typing ----

// Type annotations are inert inside scripts; names resolve so that
// "from typing import Any" does not fail, but carry no behavior.
func typingModule() *moduleValue {
	attrs := map[string]interface{}{}
	for _, name := range []string{"Any", "Dict", "List", "Optional", "Union", "Tuple", "Set", "Callable", "Iterable"} {
		attrs[name] = "typing." + name
	}
	return mod("typing", attrs)
}

// ---- collections ----

func collectionsModule() *moduleValue {
	return mod("collections", map[string]interface{}{
		"Counter": fn("Counter", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			out := map[string]interface{}{}
			if len(args) == 1 {
				items, err := iterate(args[0], 0)
				if err != nil {
					return nil, fmt.Errorf("%q object is not iterable", typeName(args[0]))
				}
				for _, item := range items {
					k, ok := item.(string)
					if !ok {
						return nil, fmt.Errorf("Counter elements must be strings, got %s", typeName(item))
					}
					if n, present := out[k]; present {
						out[k] = n.(int64) + 1
					} else {
						out[k] = int64(1)
					}
				}
			}
			return out, nil
		}),
		"OrderedDict": fn("OrderedDict", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return builtinDict(it, args, kwargs)
		}),
	})
}

// ---- itertools ----

func itertoolsModule() *moduleValue {
	return mod("itertools", map[string]interface{}{
		"chain": fn("chain", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			out := []interface{}{}
			for i, a := range args {
				items, err := iterate(a, 0)
				if err != nil {
					return nil, fmt.Errorf("chain argument %d is not iterable", i+1)
				}
				out = append(out, items...)
			}
			return newList(out), nil
		}),
		// repeat is bounded; the unbounded form has no place in a
		// time-budgeted script.
		"repeat": fn("repeat", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 2 {
				return nil, fmt.Errorf("repeat() requires an element and a count")
			}
			n, ok := toIntStrict(args[1])
			if !ok || n < 0 {
				return nil, fmt.Errorf("repeat() count must be a non-negative integer")
			}
			if n > maxRangeSize {
				return nil, fmt.Errorf("repeat() count too large")
			}
			out := make([]interface{}, n)
			for i := range out {
				out[i] = args[0]
			}
			return newList(out), nil
		}),
	})
}

// ---- functools ----

func functoolsModule() *moduleValue {
	return mod("functools", map[string]interface{}{
		"reduce": fn("reduce", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) < 2 || len(args) > 3 {
				return nil, fmt.Errorf("reduce() takes 2 or 3 arguments")
			}
			items, err := iterate(args[1], 0)
			if err != nil {
				return nil, fmt.Errorf("%q object is not iterable", typeName(args[1]))
			}
			var acc interface{}
			start := 0
			if len(args) == 3 {
				acc = args[2]
			} else {
				if len(items) == 0 {
					return nil, fmt.Errorf("reduce() of empty iterable with no initial value")
				}
				acc = items[0]
				start = 1
			}
			for _, item := range items[start:] {
				v, err := it.callValue(args[0], []interface{}{acc, item}, nil, 0)
				if err != nil {
					return nil, err
				}
				acc = v
			}
			return acc, nil
		}),
	})
}

// ---- hashlib ----

// hashValue exposes hexdigest over an accumulated input string.
type hashValue struct {
	algo string
	data []byte
}

func (h *hashValue) attr(name string) (interface{}, error) {
	switch name {
	case "hexdigest":
		return &boundMethod{name: "hexdigest", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return h.hexdigest(), nil
		}}, nil
	case "update":
		return &boundMethod{name: "update", fn: func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			if len(args) != 1 {
				return nil, fmt.Errorf("update() takes exactly one argument")
			}
			s, ok := args[0].(string)
			if !ok {
				return nil, fmt.Errorf("update() argument must be bytes-like")
			}
			h.data = append(h.data, s...)
			return nil, nil
		}}, nil
	}
	return nil, fmt.Errorf("hash object has no attribute %q", name)
}

func (h *hashValue) hexdigest() string {
	switch h.algo {
	case "md5":
		sum := md5.Sum(h.data)
		return hex.EncodeToString(sum[:])
	case "sha1":
		sum := sha1.Sum(h.data)
		return hex.EncodeToString(sum[:])
	case "sha512":
		sum := sha512.Sum512(h.data)
		return hex.EncodeToString(sum[:])
	default:
		sum := sha256.Sum256(h.data)
		return hex.EncodeToString(sum[:])
	}
}

func hashlibModule() *moduleValue {
	ctor := func(algo string) *builtinFunc {
		return fn(algo, func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			h := &hashValue{algo: algo}
			if len(args) == 1 {
				s, ok := args[0].(string)
				if !ok {
					return nil, fmt.Errorf("%s() argument must be bytes-like", algo)
				}
				h.data = []byte(s)
			}
			return h, nil
		})
	}
	return mod("hashlib", map[string]interface{}{
		"sha256": ctor("sha256"),
		"sha512": ctor("sha512"),
		"sha1":   ctor("sha1"),
		"md5":    ctor("md5"),
	})
}

// ---- uuid ----

func uuidModule() *moduleValue {
	return mod("uuid", map[string]interface{}{
		"uuid4": fn("uuid4", func(it *interp, args []interface{}, kwargs map[string]interface{}) (interface{}, error) {
			return uuid.NewString(), nil
		}),
	})
}
