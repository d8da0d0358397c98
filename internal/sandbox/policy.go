package sandbox

import "time"

const (
	// systemToolName is the registry name of the script-execution tool.
	// It is always in the blocked set so scripts cannot nest executions.
	systemToolName = "python_exec"

	DefaultTimeout       = 30 * time.Second
	DefaultMaxToolCalls  = 10
	DefaultMaxOutputSize = 1 << 20 // 1 MiB serialized result ceiling
)

// allowedModules is the single declared import allow-list. Only
// side-effect-free data-shaping modules are permitted; anything touching
// the OS, processes, the network, threads, or interpreter internals is
// rejected. base64 is deliberately not in the default set.
var allowedModules = map[string]bool{
	"json":        true,
	"re":          true,
	"math":        true,
	"datetime":    true,
	"typing":      true,
	"collections": true,
	"itertools":   true,
	"functools":   true,
	"hashlib":     true,
	"uuid":        true,
}

// deniedBuiltins are unavailable inside the script namespace. They cover
// dynamic code execution, filesystem access, dynamic import, and
// introspection into the surrounding scope.
var deniedBuiltins = map[string]bool{
	"eval":       true,
	"exec":       true,
	"compile":    true,
	"open":       true,
	"__import__": true,
	"globals":    true,
	"locals":     true,
	"vars":       true,
	"dir":        true,
	"getattr":    true,
	"setattr":    true,
	"delattr":    true,
	"input":      true,
	"breakpoint": true,
}

// AllowedModules returns the import allow-list, for display in
// pre-flight tooling.
func AllowedModules() []string {
	names := make([]string, 0, len(allowedModules))
	for name := range allowedModules {
		names = append(names, name)
	}
	return names
}
