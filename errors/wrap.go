package errors

import (
	stderrors "errors"
	"fmt"
	"maps"
)

// Wrap attaches a code and message to err. The cause stays reachable through
// Unwrap.
//
// When err already carries a retryable classification it is kept, so a
// transient failure stays retryable however many layers wrap it. Otherwise
// the default classification of code applies.
//
// Returns nil if err is nil.
func Wrap(err error, code ErrorCode, message string) Error {
	if err == nil {
		return nil
	}

	return &codedError{
		code:           code,
		classification: inheritedClassification(err, code),
		message:        message,
		cause:          err,
	}
}

// Wrapf is Wrap with a formatted message.
func Wrapf(err error, code ErrorCode, format string, args ...any) Error {
	if err == nil {
		return nil
	}
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

// WrapWithContext wraps err and attaches a copy of ctx.
//
//	return errors.WrapWithContext(err, errors.CodeTransient, "reindex failed", map[string]any{
//	    "repository": path,
//	})
func WrapWithContext(err error, code ErrorCode, message string, ctx map[string]any) Error {
	if err == nil {
		return nil
	}

	return &codedError{
		code:           code,
		classification: inheritedClassification(err, code),
		message:        message,
		context:        maps.Clone(ctx),
		cause:          err,
	}
}

// WithContext returns a copy of err with key set in its context. Plain errors
// are converted to CodeUnknown first.
func WithContext(err error, key string, value any) Error {
	if err == nil {
		return nil
	}

	var coded Error
	if !stderrors.As(err, &coded) {
		coded = &codedError{
			code:           CodeUnknown,
			classification: ClassificationPermanent,
			message:        err.Error(),
			cause:          err,
		}
	}

	ctx := coded.Context()
	if ctx == nil {
		ctx = make(map[string]any, 1)
	}
	ctx[key] = value

	return &codedError{
		code:           coded.Code(),
		classification: coded.Classification(),
		message:        coded.Message(),
		context:        ctx,
		cause:          coded.Unwrap(),
	}
}

func inheritedClassification(err error, code ErrorCode) ErrorClassification {
	var coded Error
	if stderrors.As(err, &coded) && coded.Classification().IsRetryable() {
		return ClassificationRetryable
	}
	return classificationFor(code)
}
