package hook

import (
	"errors"
	"fmt"
	"sync"
)

// ActivateSymbol is the import the hook replaces
const ActivateSymbol = "IMMDevice::Activate"

// ErrSymbolNotFound is returned when an import cannot be overridden
var ErrSymbolNotFound = errors.New("symbol not found")

// Interceptor installs function overrides on a process import table
type Interceptor interface {
	// Install replaces name with replacement and returns the function it
	// replaced
	Install(name string, replacement ActivateFunc) (ActivateFunc, error)
}

// ImportTable is an in-process import table. Consumers resolve the factory
// through Lookup on every call, so an installed override takes effect for
// every later activation.
type ImportTable struct {
	mu      sync.RWMutex
	entries map[string]ActivateFunc
}

// NewImportTable creates an empty table
func NewImportTable() *ImportTable {
	return &ImportTable{entries: make(map[string]ActivateFunc)}
}

// Register exports fn under name
func (t *ImportTable) Register(name string, fn ActivateFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name] = fn
}

// Lookup resolves name
func (t *ImportTable) Lookup(name string) (ActivateFunc, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	fn, ok := t.entries[name]
	return fn, ok
}

func (t *ImportTable) Install(name string, replacement ActivateFunc) (ActivateFunc, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	original, ok := t.entries[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrSymbolNotFound)
	}
	t.entries[name] = replacement
	return original, nil
}

// Activate resolves and calls the current factory
func (t *ImportTable) Activate(deviceID string) (AudioClient, error) {
	fn, ok := t.Lookup(ActivateSymbol)
	if !ok {
		return nil, fmt.Errorf("%s: %w", ActivateSymbol, ErrSymbolNotFound)
	}
	return fn(deviceID)
}
