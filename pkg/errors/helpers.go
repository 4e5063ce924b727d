package errors

import "errors"

// IsAttach checks if an error is a feed attach failure.
func IsAttach(err error) bool {
	if err == nil {
		return false
	}

	var attachErr *AttachError
	return errors.As(err, &attachErr)
}

// IsPush checks if an error is a failure reported by a push source after it had
// already delivered data.
func IsPush(err error) bool {
	if err == nil {
		return false
	}

	var pushErr *PushError
	return errors.As(err, &pushErr)
}

// IsMapper checks if an error came from a consumer's own projection function.
func IsMapper(err error) bool {
	if err == nil {
		return false
	}

	var mapperErr *MapperError
	return errors.As(err, &mapperErr)
}

// IsNotFound checks if an error indicates a resource was not found.
func IsNotFound(err error) bool {
	if err == nil {
		return false
	}

	var notFoundErr *NotFoundError
	return errors.As(err, &notFoundErr) || errors.Is(err, ErrNotFound)
}

// IsValidation checks if an error is a validation error.
func IsValidation(err error) bool {
	if err == nil {
		return false
	}

	var validationErr *ValidationError
	return errors.As(err, &validationErr) || errors.Is(err, ErrInvalidInput)
}

// IsUnauthorized checks if an error indicates lack of authentication.
func IsUnauthorized(err error) bool {
	if err == nil {
		return false
	}

	var unauthorizedErr *UnauthorizedError
	return errors.As(err, &unauthorizedErr) || errors.Is(err, ErrUnauthorized)
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) string {
	if err == nil {
		return CodeOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Code()
	}

	// Try to infer from sentinel errors
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrUnauthorized):
		return CodeUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return CodeValidation
	case errors.Is(err, ErrTimeout):
		return CodeTimeout
	case errors.Is(err, ErrServiceUnavailable):
		return CodeServiceUnavailable
	default:
		return CodeInternal
	}
}

// GetErrorMessage extracts a human-readable message from an error.
func GetErrorMessage(err error) string {
	if err == nil {
		return ""
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return customErr.Message()
	}

	return err.Error()
}

// StackTrace returns the stack captured where err, or the first typed error it
// wraps, was created. Plain errors have none.
func StackTrace(err error) string {
	var traced interface{ StackTrace() string }
	if errors.As(err, &traced) {
		return traced.StackTrace()
	}
	return ""
}
