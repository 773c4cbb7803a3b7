package ambient

import (
	"errors"
	"fmt"
)

// Error represents a contract violation detected by the context subsystem.
//
// All errors are programmer errors and are surfaced immediately; none are
// retried. The four categories:
//   - Stack misuse: unbalanced or out-of-order enter/exit, a lookup with no
//     active root, reentering an already-current instance, or a manager or
//     snapshot session without a matching prior teardown.
//   - Duplicate extension: two extensions resolving to the same category
//     within one context, before or after merging with its parent.
//   - Default mismatch: a default factory produced a value that is not an
//     instance of the requested type or of its declared category.
//   - Snapshot arity: contexts/identifiers length mismatch, or a payload
//     referencing an unregistered type tag.
//
// Error includes structured fields so a caller can tell which stack and
// which execution environment the violation was detected in.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// KeyType identifies the affected context stack, when known.
	KeyType string

	// ContextID identifies the specific stack instance for key types that
	// permit multiple concurrently active contexts.
	ContextID string

	// EnvID identifies the execution environment the violation was
	// detected in. Helps diagnose cross-goroutine leakage.
	EnvID string
}

// ErrorCode categorizes context subsystem errors.
type ErrorCode string

const (
	// ErrCodeStackMisuse indicates unbalanced or out-of-order stack use.
	ErrCodeStackMisuse ErrorCode = "STACK_MISUSE"

	// ErrCodeDuplicateExtension indicates two extensions of one category.
	ErrCodeDuplicateExtension ErrorCode = "DUPLICATE_EXTENSION"

	// ErrCodeDefaultMismatch indicates a default factory returned a value
	// of the wrong type or category.
	ErrCodeDefaultMismatch ErrorCode = "DEFAULT_MISMATCH"

	// ErrCodeSnapshotArity indicates a malformed snapshot payload.
	ErrCodeSnapshotArity ErrorCode = "SNAPSHOT_ARITY"
)

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.KeyType != "" && e.ContextID != "" && e.EnvID != "":
		return fmt.Sprintf("%s: %s (key=%s, id=%s, env=%s)", e.Code, e.Message, e.KeyType, e.ContextID, e.EnvID)
	case e.KeyType != "" && e.EnvID != "":
		return fmt.Sprintf("%s: %s (key=%s, env=%s)", e.Code, e.Message, e.KeyType, e.EnvID)
	case e.KeyType != "":
		return fmt.Sprintf("%s: %s (key=%s)", e.Code, e.Message, e.KeyType)
	case e.EnvID != "":
		return fmt.Sprintf("%s: %s (env=%s)", e.Code, e.Message, e.EnvID)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// IsStackMisuse returns true if the error is a stack misuse error.
// Uses errors.As to handle wrapped errors.
func IsStackMisuse(err error) bool {
	return hasCode(err, ErrCodeStackMisuse)
}

// IsDuplicateExtension returns true if the error is a duplicate extension error.
func IsDuplicateExtension(err error) bool {
	return hasCode(err, ErrCodeDuplicateExtension)
}

// IsDefaultMismatch returns true if the error is a default mismatch error.
func IsDefaultMismatch(err error) bool {
	return hasCode(err, ErrCodeDefaultMismatch)
}

// IsSnapshotArity returns true if the error is a snapshot arity error.
func IsSnapshotArity(err error) bool {
	return hasCode(err, ErrCodeSnapshotArity)
}

func hasCode(err error, code ErrorCode) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Code == code
	}
	return false
}

func newStackMisuse(env *Env, keyType, contextID, message string) *Error {
	e := &Error{
		Code:      ErrCodeStackMisuse,
		Message:   message,
		KeyType:   keyType,
		ContextID: contextID,
	}
	if env != nil {
		e.EnvID = env.id
	}
	return e
}

func newDuplicateExtension(keyType, category, where string) *Error {
	return &Error{
		Code:    ErrCodeDuplicateExtension,
		Message: fmt.Sprintf("duplicate extension category %q found in %s", category, where),
		KeyType: keyType,
	}
}

func newDefaultMismatch(message string) *Error {
	return &Error{Code: ErrCodeDefaultMismatch, Message: message}
}

func newSnapshotArity(message string) *Error {
	return &Error{Code: ErrCodeSnapshotArity, Message: message}
}
