package errors

import "fmt"

// New creates an Error with the default classification for code.
//
//	return errors.New(errors.CodeNotFound, "repository not found")
func New(code ErrorCode, message string) Error {
	return &codedError{
		code:           code,
		classification: classificationFor(code),
		message:        message,
	}
}

// Newf is New with a formatted message.
func Newf(code ErrorCode, format string, args ...any) Error {
	return New(code, fmt.Sprintf(format, args...))
}
