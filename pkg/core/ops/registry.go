package ops

import (
	"errors"
	"fmt"
	"sync"
)

var ErrCorruptedRegistry = errors.New("ops: corrupted registry")

// Builder constructs an operator from a parsed node descriptor.
type Builder func(def NodeDef) (Op, error)

var (
	mu       sync.RWMutex
	registry = make(map[string]Builder)
)

// Register installs a builder for an operator kind. Registering the same
// kind twice is a programming error.
func Register(kind string, builder Builder) error {
	mu.Lock()
	defer mu.Unlock()
	if _, ok := registry[kind]; ok {
		return fmt.Errorf("%w: duplicate kind %q", ErrCorruptedRegistry, kind)
	}
	registry[kind] = builder
	return nil
}

// MustRegister is Register for package init blocks.
func MustRegister(kind string, builder Builder) {
	if err := Register(kind, builder); err != nil {
		panic(err)
	}
}

// Build constructs the operator for a node descriptor. Unknown kinds degrade
// to an Unimplemented placeholder so the graph can still be assembled and
// enumerated; only evaluating such a node fails.
func Build(def NodeDef) (Op, error) {
	mu.RLock()
	builder, ok := registry[def.OpKind()]
	mu.RUnlock()
	if !ok {
		return &Unimplemented{Kind: def.OpKind()}, nil
	}
	op, err := builder(def)
	if err != nil {
		return nil, fmt.Errorf("building %q (%s): %w", def.NodeName(), def.OpKind(), err)
	}
	return op, nil
}

// Registered reports whether a builder exists for the kind.
func Registered(kind string) bool {
	mu.RLock()
	defer mu.RUnlock()
	_, ok := registry[kind]
	return ok
}
