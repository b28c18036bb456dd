package errors

import (
	stderrors "errors"
)

// Is wraps the standard library errors.Is.
func Is(err, target error) bool {
	return stderrors.Is(err, target)
}

// As wraps the standard library errors.As.
func As(err error, target any) bool {
	return stderrors.As(err, target)
}

// Join wraps the standard library errors.Join.
func Join(errs ...error) error {
	return stderrors.Join(errs...)
}

// GetCode returns the code of the outermost Error in err's chain, or
// CodeUnknown.
func GetCode(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	var coded Error
	if stderrors.As(err, &coded) {
		return coded.Code()
	}
	return CodeUnknown
}

// GetClassification returns the classification of the outermost Error in
// err's chain. Plain errors are permanent.
func GetClassification(err error) ErrorClassification {
	var coded Error
	if err != nil && stderrors.As(err, &coded) {
		return coded.Classification()
	}
	return ClassificationPermanent
}

// IsRetryable reports whether err is classified as retryable.
func IsRetryable(err error) bool {
	return GetClassification(err).IsRetryable()
}

// HasCode reports whether any Error in err's chain carries code. Unlike
// GetCode it looks past the outermost one, so a NOT_FOUND wrapped as
// TRANSIENT still answers true for CodeNotFound.
func HasCode(err error, code ErrorCode) bool {
	for err != nil {
		var coded Error
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.Code() == code {
			return true
		}
		err = coded.Unwrap()
	}
	return false
}

// IsNotFound reports whether err carries CodeNotFound.
func IsNotFound(err error) bool { return HasCode(err, CodeNotFound) }

// IsUnavailable reports whether err carries CodeUnavailable.
func IsUnavailable(err error) bool { return HasCode(err, CodeUnavailable) }

// IsCorrupt reports whether err carries CodeCorrupt.
func IsCorrupt(err error) bool { return HasCode(err, CodeCorrupt) }

// IsFatal reports whether err carries CodeFatal.
func IsFatal(err error) bool { return HasCode(err, CodeFatal) }
