package ambient

import (
	"sync"
)

// The snapshot codec rebuilds contexts and extensions from type tags.
// Concrete types register a tag and a factory, typically from init.

var (
	typeRegistryMu sync.RWMutex
	contextTypes   = map[string]func() Context{}
	extensionTypes = map[string]func() Extension{}
)

// RegisterContextType registers the factory used to rebuild a context from
// a serialized payload. The tag must be stable across processes; by
// convention it is the concrete type name.
func RegisterContextType(tag string, factory func() Context) {
	typeRegistryMu.Lock()
	defer typeRegistryMu.Unlock()
	contextTypes[tag] = factory
}

// RegisterExtensionType registers the factory used to rebuild an extension
// from a serialized payload.
func RegisterExtensionType(tag string, factory func() Extension) {
	typeRegistryMu.Lock()
	defer typeRegistryMu.Unlock()
	extensionTypes[tag] = factory
}

func newContextByTag(tag string) (Context, bool) {
	typeRegistryMu.RLock()
	defer typeRegistryMu.RUnlock()
	factory, ok := contextTypes[tag]
	if !ok {
		return nil, false
	}
	return factory(), true
}

func newExtensionByTag(tag string) (Extension, bool) {
	typeRegistryMu.RLock()
	defer typeRegistryMu.RUnlock()
	factory, ok := extensionTypes[tag]
	if !ok {
		return nil, false
	}
	return factory(), true
}
