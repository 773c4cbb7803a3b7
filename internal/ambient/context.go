package ambient

import (
	"fmt"
)

// Context is one typed, freezable layer of ambient configuration.
//
// A context is constructed mutable, then activated on an Env: the
// activation pass copies unset fields from the nearest enclosing context of
// the same key type (or fails when there is none and the context is not a
// root), merges extensions with the parent's, freezes the instance, and
// pushes it onto the environment's stack. After activation the instance is
// immutable and must never be reused in another scope.
//
// Implementations embed Base and declare their inheritable fields as an
// ordered list of accessor closures via Fields; no reflection is involved.
type Context interface {
	// KeyType returns the stable identifier selecting which independent
	// stack this context belongs to. By convention it is the name of the
	// context family in PascalCase.
	KeyType() string

	// TypeTag returns the stable concrete-type tag used by the snapshot
	// codec. Tags are registered with RegisterContextType.
	TypeTag() string

	// Fields returns the ordered list of inheritable field accessors.
	Fields() []Field

	base() *Base
}

// Field declares one inheritable context field as a pair of closures bound
// to the owning instance. Activate walks this list and invokes Inherit for
// every field whose IsSet reports false.
type Field struct {
	// Name identifies the field in diagnostics.
	Name string

	// IsSet reports whether the field carries an explicit value.
	IsSet func() bool

	// Inherit copies the field value from the enclosing context. The
	// parent is always of the same key type but may be a different
	// concrete type; implementations type-assert and no-op on mismatch.
	Inherit func(parent Context)
}

// Base carries the lifecycle state shared by every context type. Embed it
// by value in concrete context structs.
type Base struct {
	// Root marks the outermost scope for this key type in one execution
	// environment. A non-root context activated with no enclosing scope is
	// a stack misuse error.
	Root bool `json:"root,omitempty"`

	deserialized bool
	frozen       bool
	exts         []Extension
	extIndex     map[string]Extension
}

func (b *Base) base() *Base { return b }

// IsRoot reports whether this context bootstraps its stack.
func (b *Base) IsRoot() bool { return b.Root }

// IsDeserialized reports whether this context was reconstructed from a
// snapshot payload. Deserialized contexts skip the inheritance pass: their
// values were fully resolved at capture time.
func (b *Base) IsDeserialized() bool { return b.deserialized }

// Frozen reports whether the context has been activated and is immutable.
func (b *Base) Frozen() bool { return b.frozen }

// Extensions returns the context's extension list in base-to-derived
// precedence order. The returned slice must not be modified.
func (b *Base) Extensions() []Extension { return b.exts }

// ExtensionByCategory returns the extension resolved for the category tag,
// if present. Lookup is O(1).
func (b *Base) ExtensionByCategory(category string) (Extension, bool) {
	ext, ok := b.extIndex[category]
	return ext, ok
}

// SetExtensions replaces the context's own extension list. It fails on a
// frozen context and on two extensions resolving to the same category.
func (b *Base) SetExtensions(exts ...Extension) error {
	if b.frozen {
		return newStackMisuse(nil, "", "", "cannot set extensions on a frozen context")
	}
	if err := checkDuplicateCategories(exts, "", "the context's own extension list"); err != nil {
		return err
	}
	b.exts = exts
	b.extIndex = indexByCategory(exts)
	return nil
}

// freeze makes the context and all of its extensions immutable.
// Safe to call more than once.
func (b *Base) freeze() {
	b.frozen = true
	for _, ext := range b.exts {
		ext.extBase().freeze()
	}
}

// markDeserialized flags a context rebuilt from a payload so activation
// bypasses inheritance.
func (b *Base) markDeserialized() { b.deserialized = true }

// EnterObserver is implemented by contexts that acquire resources at
// activation. OnEnter runs after the inheritance pass and freeze but
// before the context is pushed; an error prevents activation entirely and
// propagates to the caller.
type EnterObserver interface {
	OnEnter() error
}

// ExitObserver is implemented by contexts that release resources at
// deactivation. OnExit runs after the context is popped. The cause of an
// abnormal exit travels on the error return path, not through this hook.
type ExitObserver interface {
	OnExit() error
}

// Active is the handle returned by Activate. It exits the scope exactly
// once, verifying that the popped element is the identical instance.
type Active struct {
	env       *Env
	ctx       Context
	contextID string
	exited    bool
}

// Context returns the activated context.
func (a *Active) Context() Context { return a.ctx }

// Exit pops the context from its stack, asserting identity with the
// instance this handle was created for. Exit never suppresses an error from
// the scoped body; the caller propagates body errors itself.
func (a *Active) Exit() error {
	if a.exited {
		return newStackMisuse(a.env, a.ctx.KeyType(), a.contextID, "Exit called twice for the same activation")
	}
	a.exited = true
	if err := a.env.pop(a.ctx, a.contextID); err != nil {
		return err
	}
	if h, ok := a.ctx.(ExitObserver); ok {
		return h.OnExit()
	}
	return nil
}

// Activate enters the context on the environment with no context id.
func (e *Env) Activate(c Context) (*Active, error) {
	return e.ActivateID(c, "")
}

// ActivateID enters the context on the environment for a (key type,
// context id) pair. The sequence: inheritance pass, extension merge,
// freeze, push. Deserialized contexts skip inheritance and merging.
func (e *Env) ActivateID(c Context, contextID string) (*Active, error) {
	b := c.base()

	if !b.frozen && !b.deserialized {
		parent := e.CurrentIDOrNone(c.KeyType(), contextID)
		if parent == nil && !b.Root {
			return nil, newStackMisuse(e, c.KeyType(), contextID, fmt.Sprintf(
				"a non-root %s context requires an enclosing scope in this execution environment; "+
					"construct the outermost context with Root set", c.KeyType()))
		}
		if parent != nil {
			inheritUnset(c, parent)
			merged, err := mergeExtensions(c, parent)
			if err != nil {
				return nil, err
			}
			b.exts = merged
			b.extIndex = indexByCategory(merged)
		}
	}
	if err := checkDuplicateCategories(b.exts, c.KeyType(), "the activated extension list"); err != nil {
		return nil, err
	}
	b.freeze()

	// A deserialized context may bootstrap an empty stack even without the
	// root flag: its values were fully resolved in the capturing
	// environment, where the root requirement was already enforced.
	if e.CurrentIDOrNone(c.KeyType(), contextID) == nil && !b.Root && !b.deserialized {
		return nil, newStackMisuse(e, c.KeyType(), contextID, fmt.Sprintf(
			"no stack exists for key type %q in this execution environment and the context is not a root", c.KeyType()))
	}
	if top := e.CurrentIDOrNone(c.KeyType(), contextID); top == c {
		return nil, newStackMisuse(e, c.KeyType(), contextID,
			"the context instance is already current; a context must not be activated twice")
	}

	// The enter hook runs before the push so a failing hook leaves the
	// context inactive and the stack untouched.
	if h, ok := c.(EnterObserver); ok {
		if err := h.OnEnter(); err != nil {
			return nil, err
		}
	}

	e.push(c, contextID)
	return &Active{env: e, ctx: c, contextID: contextID}, nil
}

// With activates the context, runs fn, and exits the scope. A body error
// always wins over an exit error; a secondary exit failure is logged rather
// than swallowed or promoted.
func (e *Env) With(c Context, fn func() error) error {
	act, err := e.Activate(c)
	if err != nil {
		return err
	}
	err = fn()
	if exitErr := act.Exit(); exitErr != nil {
		if err == nil {
			return exitErr
		}
		logger().Error("context exit failed while propagating body error",
			"key_type", c.KeyType(), "env", e.id, "err", exitErr)
	}
	return err
}

// inheritUnset copies every unset field of the child from the parent,
// walking the child's declared accessor list in order.
func inheritUnset(child, parent Context) {
	for _, f := range child.Fields() {
		if !f.IsSet() {
			f.Inherit(parent)
		}
	}
}

// mergeExtensions combines the child's own extensions with the parent's.
// The child's extensions take precedence: a parent extension whose category
// is already present is dropped, all others are appended after the child's,
// preserving base-to-derived order. Duplicates are checked on both inputs.
func mergeExtensions(child, parent Context) ([]Extension, error) {
	own := child.base().exts
	if err := checkDuplicateCategories(own, child.KeyType(), "the context's own extension list"); err != nil {
		return nil, err
	}
	inherited := parent.base().exts
	if err := checkDuplicateCategories(inherited, parent.KeyType(), "the parent context's extension list"); err != nil {
		return nil, err
	}

	merged := make([]Extension, len(own), len(own)+len(inherited))
	copy(merged, own)
	seen := make(map[string]struct{}, len(own))
	for _, ext := range own {
		seen[ext.Category()] = struct{}{}
	}
	for _, ext := range inherited {
		if _, ok := seen[ext.Category()]; ok {
			continue
		}
		merged = append(merged, ext)
	}
	if err := checkDuplicateCategories(merged, child.KeyType(), "the merged extension list"); err != nil {
		return nil, err
	}
	return merged, nil
}

func checkDuplicateCategories(exts []Extension, keyType, where string) error {
	seen := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		category := ext.Category()
		if _, ok := seen[category]; ok {
			return newDuplicateExtension(keyType, category, where)
		}
		seen[category] = struct{}{}
	}
	return nil
}

func indexByCategory(exts []Extension) map[string]Extension {
	if len(exts) == 0 {
		return nil
	}
	index := make(map[string]Extension, len(exts))
	for _, ext := range exts {
		index[ext.Category()] = ext
	}
	return index
}
