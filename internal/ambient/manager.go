package ambient

import (
	"fmt"
)

// ManagerState tracks where a Manager is in its session lifecycle.
type ManagerState string

const (
	// StateIdle means no session is in progress.
	StateIdle ManagerState = "idle"
	// StateEntering means contexts are being activated.
	StateEntering ManagerState = "entering"
	// StateActive means every context was activated and work may run.
	StateActive ManagerState = "active"
	// StateExiting means contexts are being deactivated.
	StateExiting ManagerState = "exiting"
)

// Manager performs bulk reactivation of an ordered, already-deserialized
// context list inside a fresh, isolated stack table. This is the worker
// side of a deferred task picking up its submitter's environment.
//
// Enter saves and clears the environment's entire stack table so the
// reactivated contexts cannot see or corrupt whatever the caller had
// active. On any failure during entry every context entered so far is
// exited in reverse and the saved table is restored before the original
// error propagates; no partially active state is ever left behind.
type Manager struct {
	env        *Env
	contexts   []Context
	contextIDs []string

	state   ManagerState
	token   *Token
	entered []*Active
}

// NewManager builds a manager for the environment and context list. The id
// list is parallel to the contexts; nil means every context uses the empty
// id. A length mismatch is a snapshot arity error.
func NewManager(env *Env, contexts []Context, contextIDs []string) (*Manager, error) {
	if contextIDs == nil {
		contextIDs = make([]string, len(contexts))
	}
	if len(contexts) != len(contextIDs) {
		return nil, newSnapshotArity(fmt.Sprintf(
			"manager has %d contexts but %d context ids", len(contexts), len(contextIDs)))
	}
	return &Manager{
		env:        env,
		contexts:   append([]Context(nil), contexts...),
		contextIDs: append([]string(nil), contextIDs...),
		state:      StateIdle,
	}, nil
}

// State returns the manager's current session state.
func (m *Manager) State() ManagerState { return m.state }

// Enter saves and clears the environment, then activates every context in
// order. Calling Enter while a session is in progress is a stack misuse
// error. On failure at context i, contexts 0..i-1 are exited in reverse,
// the environment is restored, and the triggering error is returned
// unchanged; secondary unwind failures are logged, never promoted.
func (m *Manager) Enter() error {
	if m.state != StateIdle {
		return newStackMisuse(m.env, "", "", fmt.Sprintf(
			"Manager.Enter called in state %q; sessions do not nest", m.state))
	}

	m.token = m.env.SaveAndClear()
	m.state = StateEntering

	for i, c := range m.contexts {
		act, err := m.env.ActivateID(c, m.contextIDs[i])
		if err != nil {
			if uerr := m.unwind(); uerr != nil {
				logger().Error("secondary failure unwinding partial manager entry",
					"env", m.env.id, "err", uerr)
			}
			if rerr := m.env.Restore(m.token); rerr != nil {
				logger().Error("failed to restore environment after partial manager entry",
					"env", m.env.id, "err", rerr)
			}
			m.token = nil
			m.state = StateIdle
			return err
		}
		m.entered = append(m.entered, act)
	}

	m.state = StateActive
	return nil
}

// Exit deactivates every entered context in reverse order and restores the
// environment's saved stack table. Calling Exit without a matching prior
// Enter fails loudly rather than silently doing nothing.
func (m *Manager) Exit() error {
	if m.state != StateActive {
		return newStackMisuse(m.env, "", "", fmt.Sprintf(
			"Manager.Exit called in state %q without a matching Enter", m.state))
	}
	m.state = StateExiting

	firstErr := m.unwind()
	if rerr := m.env.Restore(m.token); rerr != nil {
		if firstErr == nil {
			firstErr = rerr
		} else {
			logger().Error("failed to restore environment during manager exit",
				"env", m.env.id, "err", rerr)
		}
	}
	m.token = nil
	m.state = StateIdle
	return firstErr
}

// unwind exits entered contexts in reverse, returning the first failure
// and logging the rest.
func (m *Manager) unwind() error {
	var firstErr error
	for i := len(m.entered) - 1; i >= 0; i-- {
		act := m.entered[i]
		if err := act.Exit(); err != nil {
			if firstErr == nil {
				firstErr = err
			} else {
				logger().Error("secondary failure during manager unwind",
					"key_type", act.ctx.KeyType(), "env", m.env.id, "err", err)
			}
		}
		m.entered = m.entered[:i]
	}
	return firstErr
}
