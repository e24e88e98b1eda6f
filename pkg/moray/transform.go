package moray

import (
	"fmt"
	"strings"
	"sync"
)

// TransformFunc derives the transform key used for batch routing checks from
// a literal object key. Transforms must be pure: same key in, same transform
// key out, no storage reads.
type TransformFunc func(key string) string

// Built-in transform names.
const (
	TransformIdentity       = "identity"
	TransformLowercase      = "lowercase"
	TransformFirstComponent = "first-component"
)

var (
	transformsMu sync.RWMutex
	transforms   = map[string]TransformFunc{
		TransformIdentity:  func(key string) string { return key },
		TransformLowercase: strings.ToLower,
		// first-component maps every key under one leading /component to
		// the same transform key, e.g. "/acct-1/stor/a" and "/acct-1/x"
		// both route as "acct-1".
		TransformFirstComponent: firstComponent,
	}
)

func firstComponent(key string) string {
	trimmed := strings.TrimPrefix(key, "/")
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[:idx]
	}
	return trimmed
}

// RegisterTransform installs a named key transform. Registering a name twice
// is an error; built-in names cannot be replaced.
func RegisterTransform(name string, fn TransformFunc) error {
	if name == "" {
		return fmt.Errorf("transform name is required")
	}
	if fn == nil {
		return fmt.Errorf("transform %q: function is required", name)
	}

	transformsMu.Lock()
	defer transformsMu.Unlock()

	if _, exists := transforms[name]; exists {
		return fmt.Errorf("transform %q is already registered", name)
	}
	transforms[name] = fn
	return nil
}

func lookupTransform(name string) (TransformFunc, error) {
	if name == "" {
		name = TransformIdentity
	}
	transformsMu.RLock()
	defer transformsMu.RUnlock()

	fn, ok := transforms[name]
	if !ok {
		return nil, fmt.Errorf("unknown key transform %q", name)
	}
	return fn, nil
}
