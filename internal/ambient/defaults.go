package ambient

import (
	"fmt"
	"sync"
)

// ContextFactory constructs the default context for a key type, typically
// from process settings.
type ContextFactory func() (Context, error)

var (
	defaultCtxFactoryMu sync.RWMutex
	defaultCtxFactories = map[string]ContextFactory{}

	// defaultCtxs caches the frozen default context per key type, with the
	// same lock-free-after-warm-up discipline as the extension cache.
	defaultCtxs sync.Map
)

// RegisterContextDefault registers the factory producing the process-wide
// default context for a key type.
func RegisterContextDefault(keyType string, factory ContextFactory) {
	defaultCtxFactoryMu.Lock()
	defer defaultCtxFactoryMu.Unlock()
	defaultCtxFactories[keyType] = factory
}

// DefaultContext returns the process-wide default context for the key type,
// constructing and caching it on first demand. The default is validated
// against the requested key type, frozen, and shared by all callers.
func DefaultContext(keyType string) (Context, error) {
	if cached, ok := defaultCtxs.Load(keyType); ok {
		return cached.(Context), nil
	}

	defaultCtxFactoryMu.RLock()
	factory, ok := defaultCtxFactories[keyType]
	defaultCtxFactoryMu.RUnlock()
	if !ok {
		return nil, newDefaultMismatch(fmt.Sprintf("no default factory registered for context key type %q", keyType))
	}

	created, err := factory()
	if err != nil {
		return nil, fmt.Errorf("default factory for context key type %q: %w", keyType, err)
	}
	if created == nil {
		return nil, newDefaultMismatch(fmt.Sprintf("default factory for context key type %q returned nil", keyType))
	}
	if created.KeyType() != keyType {
		return nil, newDefaultMismatch(fmt.Sprintf(
			"default factory for context key type %q produced a context of key type %q",
			keyType, created.KeyType()))
	}
	if err := checkDuplicateCategories(created.base().exts, keyType, "the default context's extension list"); err != nil {
		return nil, err
	}
	created.base().freeze()

	actual, _ := defaultCtxs.LoadOrStore(keyType, created)
	return actual.(Context), nil
}

// CurrentOrDefault returns the innermost active context for the key type,
// falling back to the process-wide default when no scope is active. The
// default is only defined for the empty context id.
func (e *Env) CurrentOrDefault(keyType string) (Context, error) {
	if c := e.CurrentOrNone(keyType); c != nil {
		return c, nil
	}
	return DefaultContext(keyType)
}

// resetContextDefaults clears the default cache and factory registry.
// Test use only.
func resetContextDefaults() {
	defaultCtxFactoryMu.Lock()
	defaultCtxFactories = map[string]ContextFactory{}
	defaultCtxFactoryMu.Unlock()
	defaultCtxs.Range(func(key, _ any) bool {
		defaultCtxs.Delete(key)
		return true
	})
}
