package errors

// ErrorCode names a class of failure. Codes are strings so they read well in
// logs and serialize naturally.
type ErrorCode string

const (
	// CodeNotFound indicates an absent repository, ref, path or object.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeCorrupt indicates an object-store integrity failure. It is scoped to
	// the request that hit it.
	CodeCorrupt ErrorCode = "CORRUPT"

	// CodeUnavailable indicates a repository that has been discovered but not
	// indexed yet.
	CodeUnavailable ErrorCode = "UNAVAILABLE"

	// CodeTransient indicates a reindex of one repository failed this cycle
	// and will be retried on the next one.
	CodeTransient ErrorCode = "TRANSIENT"

	// CodeFatal indicates the core cannot start, e.g. the metadata database
	// could not be opened.
	CodeFatal ErrorCode = "FATAL"

	// CodeInvalidInput indicates a malformed argument such as a bad cursor.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeInvalidConfig indicates configuration failed validation.
	CodeInvalidConfig ErrorCode = "INVALID_CONFIGURATION"

	// CodeInternal indicates an unexpected failure.
	CodeInternal ErrorCode = "INTERNAL"

	// CodeUnknown is reported for errors that carry no code.
	CodeUnknown ErrorCode = "UNKNOWN"
)
