package errors

// ErrorClassification indicates whether an operation that failed with an
// error may succeed if attempted again.
type ErrorClassification string

const (
	// ClassificationRetryable marks failures that may clear up on their own.
	ClassificationRetryable ErrorClassification = "RETRYABLE"

	// ClassificationPermanent marks failures that will repeat until something
	// changes.
	ClassificationPermanent ErrorClassification = "PERMANENT"
)

// IsRetryable returns true for ClassificationRetryable.
func (c ErrorClassification) IsRetryable() bool {
	return c == ClassificationRetryable
}

var defaultClassifications = map[ErrorCode]ErrorClassification{
	CodeUnavailable: ClassificationRetryable,
	CodeTransient:   ClassificationRetryable,

	CodeNotFound:      ClassificationPermanent,
	CodeCorrupt:       ClassificationPermanent,
	CodeFatal:         ClassificationPermanent,
	CodeInvalidInput:  ClassificationPermanent,
	CodeInvalidConfig: ClassificationPermanent,
	CodeInternal:      ClassificationPermanent,
	CodeUnknown:       ClassificationPermanent,
}

// classificationFor returns the default classification of code. Unknown
// codes are permanent.
func classificationFor(code ErrorCode) ErrorClassification {
	if class, ok := defaultClassifications[code]; ok {
		return class
	}
	return ClassificationPermanent
}
