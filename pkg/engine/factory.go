package engine

import (
	"fmt"
	"sync"
)

// Factory builds an adapter for a target. Adapters register one in their
// package init.
type Factory func(Target) (Adapter, error)

var (
	factoryMu sync.RWMutex
	factories = make(map[Kind]Factory)
)

// Register installs the factory for an engine kind. Registering the same
// kind twice is a programming error.
func Register(kind Kind, f Factory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[kind]; dup {
		panic(fmt.Sprintf("engine: factory for %q registered twice", kind))
	}
	factories[kind] = f
}

// Open builds the adapter for the target's engine. The adapter is not
// connected yet; callers own Connect/Close.
func Open(target Target) (Adapter, error) {
	factoryMu.RLock()
	f, ok := factories[target.Engine]
	factoryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: no adapter for %q (supported: %v)", target.Engine, registered())
	}
	return f(target)
}

// Registered lists the kinds with an installed adapter.
func Registered() []Kind { return registered() }

func registered() []Kind {
	factoryMu.RLock()
	defer factoryMu.RUnlock()
	out := make([]Kind, 0, len(factories))
	for _, k := range Kinds() {
		if _, ok := factories[k]; ok {
			out = append(out, k)
		}
	}
	return out
}
