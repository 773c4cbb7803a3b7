package ambient

import (
	"encoding/json"
	"fmt"
)

// Snapshot is a captured, serializable point-in-time copy of all currently
// active contexts together with their context ids.
//
// Lifecycle: created once via CaptureActive (or Deserialize), optionally
// serialized to a portable payload, then used exactly once as a scoped
// resource: Enter once, Exit once, discard. Unlike Manager, a snapshot
// overlays onto the target environment's live stacks rather than isolating
// them; entering a snapshot in the environment it was captured from
// restores exactly where it left off.
type Snapshot struct {
	contexts   []Context
	contextIDs []string

	env     *Env
	active  []*Active
	entered bool
	exited  bool
}

// NewSnapshot builds a snapshot from an ordered context list and the
// parallel context id list. A length mismatch is a snapshot arity error.
// Passing nil ids means every context uses the empty id.
func NewSnapshot(contexts []Context, contextIDs []string) (*Snapshot, error) {
	if contextIDs == nil {
		contextIDs = make([]string, len(contexts))
	}
	if len(contexts) != len(contextIDs) {
		return nil, newSnapshotArity(fmt.Sprintf(
			"snapshot has %d contexts but %d context ids", len(contexts), len(contextIDs)))
	}
	return &Snapshot{
		contexts:   append([]Context(nil), contexts...),
		contextIDs: append([]string(nil), contextIDs...),
	}, nil
}

// CaptureActive reads the innermost context of every active stack in the
// environment and freezes a point-in-time copy. The captured instances are
// already frozen, so sharing them with the snapshot is safe.
func CaptureActive(e *Env) (*Snapshot, error) {
	contexts, contextIDs := e.AllActive()
	return NewSnapshot(contexts, contextIDs)
}

// Len returns the number of captured contexts.
func (s *Snapshot) Len() int { return len(s.contexts) }

// Contexts returns the captured contexts in activation order.
// The returned slice must not be modified.
func (s *Snapshot) Contexts() []Context { return s.contexts }

// ContextIDs returns the context id for each captured context, "" when the
// context was active without an identifier.
func (s *Snapshot) ContextIDs() []string { return s.contextIDs }

type contextEnvelope struct {
	Type       string              `json:"type"`
	ContextID  string              `json:"context_id,omitempty"`
	Data       json.RawMessage     `json:"data"`
	Extensions []extensionEnvelope `json:"extensions,omitempty"`
}

type extensionEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Serialize produces the opaque portable payload for the task-queue
// boundary. The payload is canonical JSON, so equal snapshots serialize to
// identical bytes. Transport layers must deliver it unchanged.
func (s *Snapshot) Serialize() ([]byte, error) {
	envelopes := make([]contextEnvelope, len(s.contexts))
	for i, c := range s.contexts {
		data, err := json.Marshal(c)
		if err != nil {
			return nil, fmt.Errorf("serialize context %s: %w", c.TypeTag(), err)
		}
		env := contextEnvelope{Type: c.TypeTag(), ContextID: s.contextIDs[i], Data: data}
		for _, ext := range c.base().exts {
			extData, err := json.Marshal(ext)
			if err != nil {
				return nil, fmt.Errorf("serialize extension %s: %w", ext.TypeTag(), err)
			}
			env.Extensions = append(env.Extensions, extensionEnvelope{Type: ext.TypeTag(), Data: extData})
		}
		envelopes[i] = env
	}

	raw, err := json.Marshal(envelopes)
	if err != nil {
		return nil, err
	}
	tree, err := decodeValueTree(raw)
	if err != nil {
		return nil, err
	}
	return marshalCanonical(tree)
}

// Deserialize reconstructs a snapshot from a payload produced by Serialize.
// Every rebuilt context is marked deserialized and frozen, so re-entry
// skips the inheritance pass. An unregistered type tag is a snapshot arity
// error.
func Deserialize(payload []byte) (*Snapshot, error) {
	var envelopes []contextEnvelope
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &envelopes); err != nil {
			return nil, newSnapshotArity(fmt.Sprintf("malformed snapshot payload: %v", err))
		}
	}

	contexts := make([]Context, 0, len(envelopes))
	contextIDs := make([]string, 0, len(envelopes))
	for i, env := range envelopes {
		c, ok := newContextByTag(env.Type)
		if !ok {
			return nil, newSnapshotArity(fmt.Sprintf("payload entry %d references unregistered context type %q", i, env.Type))
		}
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, c); err != nil {
				return nil, newSnapshotArity(fmt.Sprintf("payload entry %d (%s): %v", i, env.Type, err))
			}
		}
		exts := make([]Extension, 0, len(env.Extensions))
		for j, extEnv := range env.Extensions {
			ext, ok := newExtensionByTag(extEnv.Type)
			if !ok {
				return nil, newSnapshotArity(fmt.Sprintf(
					"payload entry %d references unregistered extension type %q", i, extEnv.Type))
			}
			if len(extEnv.Data) > 0 {
				if err := json.Unmarshal(extEnv.Data, ext); err != nil {
					return nil, newSnapshotArity(fmt.Sprintf(
						"payload entry %d extension %d (%s): %v", i, j, extEnv.Type, err))
				}
			}
			exts = append(exts, ext)
		}
		if len(exts) > 0 {
			if err := c.base().SetExtensions(exts...); err != nil {
				return nil, err
			}
		}
		c.base().markDeserialized()
		c.base().freeze()
		contexts = append(contexts, c)
		contextIDs = append(contextIDs, env.ContextID)
	}

	return NewSnapshot(contexts, contextIDs)
}

// Enter activates every captured context, in order, overlaying the target
// environment's live stacks. On a failure at context i, the contexts
// entered so far are deactivated in reverse, the snapshot performs its own
// cleanup, and the triggering error propagates unchanged. A snapshot enters
// at most once.
func (s *Snapshot) Enter(e *Env) error {
	if s.entered {
		return newStackMisuse(e, "", "", "Snapshot.Enter called twice; a snapshot is a use-once resource")
	}
	if s.exited {
		return newStackMisuse(e, "", "", "Snapshot.Enter called after Exit")
	}
	s.entered = true
	s.env = e

	for i, c := range s.contexts {
		act, err := e.ActivateID(c, s.contextIDs[i])
		if err != nil {
			if uerr := s.unwind(); uerr != nil {
				logger().Error("secondary failure unwinding partially entered snapshot",
					"env", e.id, "err", uerr)
			}
			s.exited = true
			return err
		}
		s.active = append(s.active, act)
	}
	return nil
}

// Exit deactivates every entered context in reverse order. Calling Exit
// without a matching prior Enter, or twice, fails loudly. The first exit
// failure is returned; further unwind failures are logged so they do not
// mask it. Any entry still recorded as active afterward is an integrity
// error.
func (s *Snapshot) Exit() error {
	if !s.entered {
		return newStackMisuse(s.env, "", "", "Snapshot.Exit called without a preceding Enter")
	}
	if s.exited {
		return newStackMisuse(s.env, "", "", "Snapshot.Exit called twice")
	}
	s.exited = true

	firstErr := s.unwind()
	if len(s.active) != 0 {
		integrity := newStackMisuse(s.env, "", "", fmt.Sprintf(
			"%d snapshot entries remained active after exit", len(s.active)))
		if firstErr == nil {
			return integrity
		}
		logger().Error("snapshot exit integrity check failed", "env", s.env.id, "err", integrity)
	}
	return firstErr
}

// unwind deactivates the processed entries in reverse order, returning the
// first failure and logging the rest.
func (s *Snapshot) unwind() error {
	var firstErr error
	for i := len(s.active) - 1; i >= 0; i-- {
		act := s.active[i]
		if err := act.Exit(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				logger().Error("secondary failure during snapshot unwind",
					"key_type", act.ctx.KeyType(), "env", s.env.id, "err", err)
			}
		}
		s.active = s.active[:i]
	}
	return firstErr
}
