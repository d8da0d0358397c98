package sandbox

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ael/internal/api"
)

func execCode(t *testing.T, code string, ec *ExecutionContext) *api.CodeExecutionResult {
	t.Helper()
	s := New(Options{})
	return s.Execute(context.Background(), code, ec)
}

func TestImportAllowList(t *testing.T) {
	allowed := []string{"json", "re", "math", "datetime", "typing", "collections", "itertools", "functools", "hashlib", "uuid"}
	for _, name := range allowed {
		t.Run("allows "+name, func(t *testing.T) {
			result := execCode(t, fmt.Sprintf("import %s; result = 1", name), nil)
			require.True(t, result.Success, "import %s should succeed: %v", name, result.Error)
			assert.Equal(t, int64(1), result.Result)
		})
	}

	denied := []string{"os", "sys", "subprocess", "socket", "shutil", "pathlib", "threading", "multiprocessing", "importlib", "ctypes", "pickle", "base64"}
	for _, name := range denied {
		t.Run("rejects "+name, func(t *testing.T) {
			result := execCode(t, fmt.Sprintf("import %s; result = 1", name), nil)
			require.False(t, result.Success)
			require.NotNil(t, result.Error)
			assert.Equal(t, api.CategorySecurity, result.Error.Category)
			assert.False(t, result.Error.Retryable)
		})
	}
}

func TestFromImportRejected(t *testing.T) {
	result := execCode(t, "from os import path\nresult = 1", nil)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}

func TestImportRejectedBeforeAnyExecution(t *testing.T) {
	// The bad import sits after an assignment, but the whole script must
	// be rejected without running anything.
	ec := NewExecutionContext(nil, nil, nil, nil)
	result := execCode(t, "x = 1\nimport socket\nresult = x", ec)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}

func TestDeniedBuiltins(t *testing.T) {
	cases := map[string]string{
		"eval":       "result = eval('1+1')",
		"exec":       "exec('x = 1')\nresult = 1",
		"compile":    "result = compile('1', '<s>', 'eval')",
		"open":       "result = open('/etc/passwd')",
		"__import__": "result = __import__('os')",
		"globals":    "result = globals()",
		"locals":     "result = locals()",
		"getattr":    "result = getattr({}, 'keys')",
	}
	for name, code := range cases {
		t.Run(name, func(t *testing.T) {
			result := execCode(t, code, nil)
			require.False(t, result.Success, "%s should be denied", name)
			require.NotNil(t, result.Error)
			assert.Equal(t, api.CategorySecurity, result.Error.Category)
		})
	}
}

func TestDeniedBuiltinAsValueReference(t *testing.T) {
	result := execCode(t, "f = eval\nresult = f('1+1')", nil)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}

func TestToolCallRateLimit(t *testing.T) {
	caller := &fakeToolCaller{}
	ec := NewExecutionContext(nil, nil, nil, caller)
	ec.MaxToolCalls = 3

	code := `
count = 0
for i in range(3):
    context.tools.call("echo", {"n": i})
    count = count + 1
result = count
`
	result := execCode(t, code, ec)
	require.True(t, result.Success, "three calls fit the budget: %v", result.Error)
	assert.Equal(t, 3, caller.calls)

	caller2 := &fakeToolCaller{}
	ec2 := NewExecutionContext(nil, nil, nil, caller2)
	ec2.MaxToolCalls = 3
	over := `
for i in range(4):
    context.tools.call("echo", {"n": i})
result = 1
`
	result = execCode(t, over, ec2)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
	assert.Equal(t, 3, caller2.calls, "fourth call must be rejected before reaching the invoker")
}

func TestRecursionPrevention(t *testing.T) {
	caller := &fakeToolCaller{}
	ec := NewExecutionContext(nil, nil, nil, caller)

	result := execCode(t, `result = context.tools.call("python_exec", {"code": "result = 1"})`, ec)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
	assert.Zero(t, caller.calls, "blocked call must never reach the invoker")
}

func TestContextIsReadOnly(t *testing.T) {
	ec := NewExecutionContext(map[string]interface{}{"a": 1}, nil, nil, nil)

	result := execCode(t, "context = {}\nresult = 1", ec)
	require.False(t, result.Success)
	assert.Equal(t, api.CategorySecurity, result.Error.Category)
}

func TestValidateCode(t *testing.T) {
	t.Run("clean script", func(t *testing.T) {
		problems := ValidateCode("import json\nresult = json.dumps({\"a\": 1})")
		assert.Empty(t, problems)
	})

	t.Run("disallowed import", func(t *testing.T) {
		problems := ValidateCode("import os\nresult = 1")
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0], `"os"`)
	})

	t.Run("denied builtin", func(t *testing.T) {
		problems := ValidateCode("result = eval('1')")
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0], `"eval"`)
	})

	t.Run("syntax error", func(t *testing.T) {
		problems := ValidateCode("result = (1 +")
		require.Len(t, problems, 1)
		assert.Contains(t, problems[0], "syntax error")
	})

	t.Run("does not execute", func(t *testing.T) {
		// A script that would fail at runtime still validates.
		problems := ValidateCode("result = 1 / 0")
		assert.Empty(t, problems)
	})
}

func TestOutputSizeLimit(t *testing.T) {
	s := New(Options{MaxOutputSize: 64})
	result := s.Execute(context.Background(), `result = "x" * 1000`, nil)
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategoryTimeout, result.Error.Category)
	assert.True(t, result.Error.Retryable)
}

func TestTimeoutInterruptsLoop(t *testing.T) {
	s := New(Options{Timeout: 50 * time.Millisecond})
	result := s.Execute(context.Background(), "while True:\n    x = 1\nresult = x", nil)
	require.False(t, result.Success)
	require.NotNil(t, result.Error)
	assert.Equal(t, api.CategoryTimeout, result.Error.Category)
	assert.True(t, result.Error.Retryable)
}

func TestUnsupportedStatementsRejected(t *testing.T) {
	for name, code := range map[string]string{
		"def":   "def f():\n    return 1\nresult = f()",
		"class": "class A:\n    pass\nresult = 1",
		"try":   "try:\n    x = 1\nexcept:\n    pass\nresult = 1",
		"with":  "with x:\n    pass\nresult = 1",
	} {
		t.Run(name, func(t *testing.T) {
			result := execCode(t, code, nil)
			require.False(t, result.Success)
			assert.Equal(t, api.CategoryValidation, result.Error.Category)
		})
	}
}

type fakeToolCaller struct {
	calls  int
	output interface{}
	err    error
}

func (f *fakeToolCaller) CallTool(ctx context.Context, name string, args map[string]interface{}) (*api.ToolCallResult, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := f.output
	if out == nil {
		out = args
	}
	return &api.ToolCallResult{Success: true, Output: out, ToolName: name}, nil
}
