// Package errors provides the coded error type shared by every gitweb component.
//
// Each error carries an ErrorCode naming the failure (NOT_FOUND, CORRUPT,
// UNAVAILABLE, ...), a retry classification, a human-readable message, an
// optional context map and an optional cause. The code is what the serving
// boundary switches on to pick a user-visible response; the classification
// is what the scheduler consults when deciding whether a failed reindex is
// worth trying again next cycle.
//
// Errors are compatible with the standard library: Is, As and Unwrap walk the
// cause chain as usual.
//
//	commit, err := repo.ReadCommit(ctx, id)
//	if err != nil {
//	    return errors.Wrapf(err, errors.CodeNotFound, "commit %s", id)
//	}
package errors

// Error is a coded error.
type Error interface {
	error

	// Code identifies the failure.
	Code() ErrorCode

	// Classification reports whether retrying may succeed.
	Classification() ErrorClassification

	// Message returns the message without the cause.
	Message() string

	// Context returns a copy of the attached metadata, or nil.
	Context() map[string]any

	// Unwrap returns the cause, or nil.
	Unwrap() error
}
