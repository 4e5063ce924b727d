package errors

// Error codes for categorizing errors.
// These codes map to HTTP status codes where applicable.
const (
	// CodeOK indicates success (not an error).
	CodeOK = "OK"

	// CodeCancelled indicates the operation was cancelled.
	CodeCancelled = "CANCELLED"

	// CodeInternal indicates internal errors.
	CodeInternal = "INTERNAL"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound = "NOT_FOUND"

	// CodeValidation indicates input validation failed.
	CodeValidation = "VALIDATION_ERROR"

	// CodeUnauthorized indicates authentication is required or failed.
	CodeUnauthorized = "UNAUTHORIZED"

	// CodeTimeout indicates an operation timed out.
	CodeTimeout = "TIMEOUT"

	// CodeServiceUnavailable indicates a downstream service is unavailable.
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"

	// Feed-specific error codes

	// CodeAttach indicates a feed could not be attached: the target factory or the
	// underlying subscribe call failed before any push arrived.
	CodeAttach = "ATTACH_FAILED"

	// CodePush indicates the push source failed after previously succeeding.
	CodePush = "PUSH_FAILED"

	// CodeMapper indicates a consumer's projection of a snapshot failed.
	CodeMapper = "MAPPER_FAILED"

	// CodeCacheError indicates a snapshot cache operation failed.
	CodeCacheError = "CACHE_ERROR"

	// CodeConfigError indicates a configuration error.
	CodeConfigError = "CONFIG_ERROR"
)

// ErrorCategory represents a high-level error category.
type ErrorCategory string

const (
	// CategoryClient indicates a client-side error (4xx).
	CategoryClient ErrorCategory = "CLIENT_ERROR"

	// CategoryServer indicates a server-side error (5xx).
	CategoryServer ErrorCategory = "SERVER_ERROR"

	// CategoryFeed indicates an upstream feed failure.
	CategoryFeed ErrorCategory = "FEED_ERROR"

	// CategoryAuth indicates an authentication error.
	CategoryAuth ErrorCategory = "AUTH_ERROR"
)

// GetCategory returns the category for an error code.
func GetCategory(code string) ErrorCategory {
	switch code {
	case CodeValidation, CodeNotFound:
		return CategoryClient
	case CodeUnauthorized:
		return CategoryAuth
	case CodeAttach, CodePush, CodeMapper:
		return CategoryFeed
	default:
		return CategoryServer
	}
}

// IsRetryable returns true if an error with the given code may be retried
// automatically. Feed failures are not: recovering from them needs an explicit
// refresh.
func IsRetryable(code string) bool {
	switch code {
	case CodeTimeout, CodeServiceUnavailable, CodeCacheError:
		return true
	default:
		return false
	}
}
