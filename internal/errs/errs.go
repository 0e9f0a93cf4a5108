// Package errs defines the error-kind taxonomy shared across Ardiex's
// components, so callers can branch on what went wrong (abort the
// destination, abort the command, or just log and move on) without
// string-matching error messages.
package errs

import "fmt"

// Kind classifies an Error by how the caller should react to it.
type Kind string

const (
	// Config marks invalid settings or path rules; aborts the whole command at startup.
	Config Kind = "config"
	// Io marks a filesystem failure; aborts the affected destination's round.
	Io Kind = "io"
	// Corrupt marks unreadable metadata or a delta blob that failed to load.
	Corrupt Kind = "corrupt"
	// Mismatch marks a hash verification failure during delta apply or validation.
	Mismatch Kind = "mismatch"
	// Policy is an internal signal (force-full, retention conflict); never user-visible.
	Policy Kind = "policy"
	// Cancelled marks a round or wait abandoned due to shutdown.
	Cancelled Kind = "cancelled"
	// Warn marks a non-fatal per-file skip that does not abort a round.
	Warn Kind = "warn"
)

// Error is the concrete error type produced by Ardiex components. It always
// carries which source/destination it happened on and what was attempted so
// that it reads well on stderr without extra formatting at the call site.
type Error struct {
	Kind        Kind
	Op          string
	Source      string
	Destination string
	Err         error
}

func (e *Error) Error() string {
	loc := e.Source
	if e.Destination != "" {
		if loc != "" {
			loc += " -> "
		}
		loc += e.Destination
	}
	if loc != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s: %s (%s): %v", e.Kind, e.Op, loc, e.Err)
		}
		return fmt.Sprintf("%s: %s (%s)", e.Kind, e.Op, loc)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no source/destination context.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// WithSource attaches a source path to an existing error for context.
func WithSource(kind Kind, op, source string, err error) *Error {
	return &Error{Kind: kind, Op: op, Source: source, Err: err}
}

// WithDestination attaches both source and destination paths for context.
func WithDestination(kind Kind, op, source, destination string, err error) *Error {
	return &Error{Kind: kind, Op: op, Source: source, Destination: destination, Err: err}
}

// Is reports whether err (or something it wraps) is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	for err != nil {
		if ae, ok := err.(*Error); ok {
			e = ae
			break
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return e != nil && e.Kind == kind
}
