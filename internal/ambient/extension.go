package ambient

import (
	"fmt"
	"sync"
)

// Extension is a typed auxiliary record attached to a Context. Extensions
// follow the same freeze-once contract as contexts, are resolved on a
// context by category tag, and are inherited and merged like fields: a
// child's extension of a category shadows the parent's.
type Extension interface {
	// Category returns the stable tag of the abstract extension category
	// this extension belongs to. At most one extension per category may be
	// attached to a context.
	Category() string

	// TypeTag returns the stable concrete-type tag used by the snapshot
	// codec. Tags are registered with RegisterExtensionType.
	TypeTag() string

	extBase() *ExtBase
}

// ExtBase carries the lifecycle state shared by every extension type.
// Embed it by value in concrete extension structs.
type ExtBase struct {
	frozen bool
}

func (b *ExtBase) extBase() *ExtBase { return b }

// Frozen reports whether the extension is immutable.
func (b *ExtBase) Frozen() bool { return b.frozen }

func (b *ExtBase) freeze() { b.frozen = true }

// ExtensionFactory constructs the default extension for a category.
type ExtensionFactory func() (Extension, error)

var (
	defaultExtFactoryMu sync.RWMutex
	defaultExtFactories = map[string]ExtensionFactory{}

	// defaultExts caches the frozen default instance per category. The
	// sync.Map read path is lock-free after warm-up; a losing construction
	// race discards its redundant instance via LoadOrStore.
	defaultExts sync.Map
)

// RegisterExtensionDefault registers the factory producing the process-wide
// default extension for a category. Registering a category twice replaces
// the factory but never an already-constructed default.
func RegisterExtensionDefault(category string, factory ExtensionFactory) {
	defaultExtFactoryMu.Lock()
	defer defaultExtFactoryMu.Unlock()
	defaultExtFactories[category] = factory
}

// DefaultExtension returns the process-wide default extension for the
// category, constructing and caching it on first demand. Every caller
// observes the identical frozen instance. Safe for concurrent first access.
func DefaultExtension(category string) (Extension, error) {
	if cached, ok := defaultExts.Load(category); ok {
		return cached.(Extension), nil
	}

	defaultExtFactoryMu.RLock()
	factory, ok := defaultExtFactories[category]
	defaultExtFactoryMu.RUnlock()
	if !ok {
		return nil, newDefaultMismatch(fmt.Sprintf("no default factory registered for extension category %q", category))
	}

	created, err := factory()
	if err != nil {
		return nil, fmt.Errorf("default factory for extension category %q: %w", category, err)
	}
	if created == nil {
		return nil, newDefaultMismatch(fmt.Sprintf("default factory for extension category %q returned nil", category))
	}
	if created.Category() != category {
		return nil, newDefaultMismatch(fmt.Sprintf(
			"default factory for extension category %q produced an extension of category %q",
			category, created.Category()))
	}
	created.extBase().freeze()

	actual, _ := defaultExts.LoadOrStore(category, created)
	return actual.(Extension), nil
}

// DefaultExtensionAs returns the category's default extension asserted to
// the concrete type T. A default of a different concrete type is a default
// mismatch error, not a silently wrong value.
func DefaultExtensionAs[T Extension](category string) (T, error) {
	var zero T
	ext, err := DefaultExtension(category)
	if err != nil {
		return zero, err
	}
	typed, ok := ext.(T)
	if !ok {
		return zero, newDefaultMismatch(fmt.Sprintf(
			"default extension for category %q has concrete type %T, which is not the requested type",
			category, ext))
	}
	return typed, nil
}

// resetExtensionDefaults clears the default cache and factory registry.
// Test use only: defaults are process-wide singletons.
func resetExtensionDefaults() {
	defaultExtFactoryMu.Lock()
	defaultExtFactories = map[string]ExtensionFactory{}
	defaultExtFactoryMu.Unlock()
	defaultExts.Range(func(key, _ any) bool {
		defaultExts.Delete(key)
		return true
	})
}
