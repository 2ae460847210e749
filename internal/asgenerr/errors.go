// Package asgenerr holds the error taxonomy described by the generator's
// error-handling design: configuration, input-unreadable, per-package
// extraction, duplicate-identity, store-corruption and programmer errors.
//
// It is modeled directly on claircore's root Error type: components should
// construct an *Error at the system boundary (reading a file, talking to the
// database, running a subprocess) and intermediate layers should prefer
// fmt.Errorf with "%w" to wrapping in another *Error.
package asgenerr

import (
	"errors"
	"strings"
)

// Kind classifies the errors raised by the generator, matching spec §7's
// taxonomy.
type Kind string

const (
	// KindConfig covers missing required config keys, unknown backends, and
	// invalid workspace paths. Fatal; callers should exit 4.
	KindConfig = Kind("config")
	// KindInput covers missing/corrupt index files and downloads that fail
	// after retries. Non-fatal: the offending section is skipped.
	KindInput = Kind("input")
	// KindExtraction covers per-package archive, compose, or icon failures.
	// Attached to the result as a hint; processing continues.
	KindExtraction = Kind("extraction")
	// KindDuplicate covers a component id produced by two different
	// packages with different metadata.
	KindDuplicate = Kind("duplicate")
	// KindStore covers store-layer corruption. Fatal.
	KindStore = Kind("store")
	// KindInternal covers violated invariants ("programmer errors"). Fatal.
	KindInternal = Kind("internal")
)

func (k Kind) Error() string { return string(k) }

// Fatal reports whether an error of this kind should abort the whole run
// rather than just the package or section it occurred in.
func (k Kind) Fatal() bool {
	switch k {
	case KindConfig, KindStore, KindInternal:
		return true
	default:
		return false
	}
}

// Error is the asgen error domain type. Callers inspect it with
// [errors.As]; the Kind field drives exit codes and report classification.
type Error struct {
	Inner   error
	Kind    Kind
	Op      string
	Message string
}

var (
	_ error                       = (*Error)(nil)
	_ interface{ Is(error) bool } = (*Error)(nil)
	_ interface{ Unwrap() error } = (*Error)(nil)
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString("[")
	b.WriteString(string(e.Kind))
	b.WriteString("]")
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Inner != nil {
		b.WriteString(": ")
		b.WriteString(e.Inner.Error())
	}
	return b.String()
}

// Is enables [errors.Is] against a Kind value.
func (e *Error) Is(target error) bool {
	k, ok := target.(Kind)
	if !ok {
		return false
	}
	return e.Kind == k
}

// Unwrap enables [errors.Unwrap].
func (e *Error) Unwrap() error { return e.Inner }

// New constructs an *Error at a system boundary.
func New(op string, kind Kind, message string, inner error) *Error {
	return &Error{Op: op, Kind: kind, Message: message, Inner: inner}
}

// As is a convenience wrapper over errors.As for the common case of wanting
// the *Error out of a chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
