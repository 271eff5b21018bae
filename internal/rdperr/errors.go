// Package rdperr implements the error taxonomy of the transfer protocol:
// local fatal errors, session-scoped errors the orchestrator may retry,
// and ignorable conditions that are logged and skipped rather than
// returned as errors at all.
package rdperr

import (
	"github.com/pkg/errors"
)

// fatal marks an error that should terminate the process with a
// nonzero exit status: a listener bind failure, every session still
// failing after Phase B, or an output/scratch file error during
// reassembly.
type fatal struct {
	error
}

// Fatal wraps cause with msg and marks it as a process-terminating
// error. cause may be nil.
func Fatal(cause error, msg string) error {
	if cause == nil {
		return &fatal{errors.New(msg)}
	}
	return &fatal{errors.Wrap(cause, msg)}
}

// IsFatal reports whether err was produced by Fatal.
func IsFatal(err error) bool {
	var f *fatal
	return errors.As(err, &f)
}

// sessionFailure marks an error scoped to a single chunk session: the
// session's goroutine terminates, and the orchestrator may schedule a
// Phase B repair against a known-good server.
type sessionFailure struct {
	error
}

// SessionFailure wraps cause as a session-scoped failure.
func SessionFailure(cause error) error {
	if cause == nil {
		return &sessionFailure{errors.New("session failed")}
	}
	return &sessionFailure{errors.WithStack(cause)}
}

// IsSessionFailure reports whether err was produced by SessionFailure.
func IsSessionFailure(err error) bool {
	var s *sessionFailure
	return errors.As(err, &s)
}
