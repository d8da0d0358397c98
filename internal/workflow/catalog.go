package workflow

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"ael/internal/api"
	"ael/pkg/logging"
)

// Catalog owns the loaded workflow definitions. Definitions are
// replaced wholesale on reload; an in-flight execution keeps the
// pointer it started with.
type Catalog struct {
	mu        sync.RWMutex
	workflows map[string]*Definition
	onChange  func()
}

func NewCatalog() *Catalog {
	return &Catalog{workflows: make(map[string]*Definition)}
}

// OnChange registers a callback invoked after every successful Register
// or Remove, outside the catalog lock. Consumers use it to republish
// derived state when the watcher reloads a file.
func (c *Catalog) OnChange(fn func()) {
	c.mu.Lock()
	c.onChange = fn
	c.mu.Unlock()
}

func (c *Catalog) notifyChange() {
	c.mu.RLock()
	fn := c.onChange
	c.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

// Register validates and stores a definition, replacing any previous
// version under the same name.
func (c *Catalog) Register(def *Definition) error {
	if err := def.Validate(); err != nil {
		return err
	}

	c.mu.Lock()
	c.workflows[def.Name] = def
	c.mu.Unlock()

	c.notifyChange()
	return nil
}

// Get returns the named definition.
func (c *Catalog) Get(name string) (*Definition, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.workflows[name]
	if !ok {
		return nil, api.NewWorkflowNotFoundError(name)
	}
	return def, nil
}

// List returns all definitions in name order.
func (c *Catalog) List() []*Definition {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.workflows))
	for name := range c.workflows {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]*Definition, len(names))
	for i, name := range names {
		out[i] = c.workflows[name]
	}
	return out
}

// Remove drops the named definition. Removing an unknown name is a
// no-op.
func (c *Catalog) Remove(name string) {
	c.mu.Lock()
	_, existed := c.workflows[name]
	delete(c.workflows, name)
	c.mu.Unlock()

	if existed {
		c.notifyChange()
	}
}

// LoadDirectory reads every *.yaml and *.yml file under dir and
// registers the workflows it finds. Invalid files are logged and
// skipped; a missing directory is not an error.
func (c *Catalog) LoadDirectory(dir string) error {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logging.Debug("Catalog", "Workflow directory %s does not exist, skipping", dir)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read workflow directory %s: %w", dir, err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !isWorkflowFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		if err := c.LoadFile(path); err != nil {
			logging.Warn("Catalog", "Skipping workflow file %s: %v", path, err)
			continue
		}
		loaded++
	}

	logging.Info("Catalog", "Loaded %d workflows from %s", loaded, dir)
	return nil
}

// LoadFile parses, validates, and registers a single workflow file.
func (c *Catalog) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return err
	}
	return c.Register(def)
}

func isWorkflowFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yaml" || ext == ".yml"
}
