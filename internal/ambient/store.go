package ambient

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

// stackKey selects one independent context stack within an Env.
//
// Contexts with different key types are fully isolated from each other.
// The id component separates multiple concurrently active stacks of the
// same key type; the zero value "" is the ordinary single-stack case.
type stackKey struct {
	keyType string
	id      string
}

// Env is one execution environment's view of the currently active contexts.
//
// Each goroutine that participates in context propagation owns exactly one
// Env and threads it explicitly through call boundaries (or carries it in a
// context.Context via NewContext/FromContext). An Env is confined to its
// owning goroutine and is not safe for concurrent use; handoff of active
// state between environments must go through Snapshot capture/serialize/
// deserialize/enter, never by sharing an Env.
type Env struct {
	id     string
	stacks map[stackKey][]Context
	order  []stackKey // key activation order, for deterministic capture
}

// NewEnv creates an empty execution environment with a UUIDv7 identifier.
//
// UUIDv7 embeds a timestamp in the most significant bits, making env
// identifiers sortable by creation time in diagnostics.
func NewEnv() *Env {
	return &Env{
		id:     uuid.Must(uuid.NewV7()).String(),
		stacks: make(map[stackKey][]Context),
	}
}

// ID returns the environment identifier used in error diagnostics.
func (e *Env) ID() string {
	return e.id
}

// Current returns the innermost active context for the key type, or a stack
// misuse error when the stack is empty or absent.
func (e *Env) Current(keyType string) (Context, error) {
	return e.CurrentID(keyType, "")
}

// CurrentID is Current for a (key type, context id) pair.
func (e *Env) CurrentID(keyType, contextID string) (Context, error) {
	if c := e.CurrentIDOrNone(keyType, contextID); c != nil {
		return c, nil
	}
	return nil, newStackMisuse(e, keyType, contextID, fmt.Sprintf(
		"no active context for key type %q: either it was never entered, "+
			"or it was entered in a different execution environment than this call; "+
			"use CurrentOrNone to receive nil instead of an error", keyType))
}

// CurrentOrNone returns the innermost active context for the key type, or
// nil when the stack is empty or absent.
func (e *Env) CurrentOrNone(keyType string) Context {
	return e.CurrentIDOrNone(keyType, "")
}

// CurrentIDOrNone is CurrentOrNone for a (key type, context id) pair.
func (e *Env) CurrentIDOrNone(keyType, contextID string) Context {
	stack := e.stacks[stackKey{keyType: keyType, id: contextID}]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

// AllActive returns the innermost context of every non-empty stack together
// with its context id, in key activation order. The returned slices always
// have equal length. Snapshot capture is built on this.
func (e *Env) AllActive() (contexts []Context, contextIDs []string) {
	for _, key := range e.order {
		stack := e.stacks[key]
		if len(stack) == 0 {
			continue
		}
		contexts = append(contexts, stack[len(stack)-1])
		contextIDs = append(contextIDs, key.id)
	}
	return contexts, contextIDs
}

// push appends the context to its stack, creating the stack if needed.
// Root and double-activation checks happen in Activate before this point.
func (e *Env) push(c Context, contextID string) {
	key := stackKey{keyType: c.KeyType(), id: contextID}
	if _, ok := e.stacks[key]; !ok {
		e.order = append(e.order, key)
	}
	e.stacks[key] = append(e.stacks[key], c)
}

// pop removes the innermost context from the stack and asserts that it is
// the same instance as expected. A mismatch means the stack was modified
// bypassing the scoped enter/exit idiom.
func (e *Env) pop(expected Context, contextID string) error {
	key := stackKey{keyType: expected.KeyType(), id: contextID}
	stack := e.stacks[key]
	if len(stack) == 0 {
		return newStackMisuse(e, key.keyType, contextID,
			"context stack has been cleared inside the active scope, possibly from a different execution environment")
	}
	top := stack[len(stack)-1]
	if top != expected {
		return newStackMisuse(e, key.keyType, contextID,
			"active context has been changed bypassing the scoped enter/exit idiom")
	}
	e.stacks[key] = stack[:len(stack)-1]
	return nil
}

// Token captures the entire prior state of an Env's stack table. It is
// returned by SaveAndClear and consumed exactly once by a matching Restore.
type Token struct {
	env    *Env
	stacks map[stackKey][]Context
	order  []stackKey
	used   bool
}

// SaveAndClear swaps the environment's entire stack table for a fresh empty
// one and returns a token that restores the prior state. Used to sandbox
// bulk reactivation and to guarantee a request or task leaves no state
// behind in a pooled environment.
func (e *Env) SaveAndClear() *Token {
	token := &Token{env: e, stacks: e.stacks, order: e.order}
	e.stacks = make(map[stackKey][]Context)
	e.order = nil
	return token
}

// Restore swaps the saved stack table back in. Restoring a nil token, a
// token from another environment, or the same token twice is a contract
// violation.
func (e *Env) Restore(token *Token) error {
	if token == nil {
		return newStackMisuse(e, "", "", "Restore called without a preceding SaveAndClear")
	}
	if token.env != e {
		return newStackMisuse(e, "", "", fmt.Sprintf(
			"Restore called with a token saved in a different execution environment (env=%s)", token.env.id))
	}
	if token.used {
		return newStackMisuse(e, "", "", "Restore called twice with the same token")
	}
	token.used = true
	e.stacks = token.stacks
	e.order = token.order
	return nil
}

type envContextKey struct{}

// NewContext returns a copy of ctx carrying the environment. This is how an
// Env travels across API layers within one goroutine, for example from
// request middleware to a handler.
func NewContext(ctx context.Context, env *Env) context.Context {
	return context.WithValue(ctx, envContextKey{}, env)
}

// FromContext returns the environment carried by ctx, if any.
func FromContext(ctx context.Context) (*Env, bool) {
	env, ok := ctx.Value(envContextKey{}).(*Env)
	return env, ok
}
