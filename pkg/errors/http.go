package errors

import (
	"encoding/json"
	"errors"
	"net/http"
)

// HTTPError represents an HTTP error response.
type HTTPError struct {
	Status  int               `json:"-"`
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
	TraceID string            `json:"trace_id,omitempty"`
}

// Error implements the error interface.
func (e *HTTPError) Error() string {
	return e.Message
}

// StatusCode returns the HTTP status code for an error.
// It maps error codes to appropriate HTTP status codes.
func StatusCode(err error) int {
	if err == nil {
		return http.StatusOK
	}

	var customErr Error
	if errors.As(err, &customErr) {
		return codeToHTTPStatus(customErr.Code())
	}

	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, ErrTimeout):
		return http.StatusRequestTimeout
	case errors.Is(err, ErrServiceUnavailable):
		return http.StatusServiceUnavailable
	}

	return http.StatusInternalServerError
}

// codeToHTTPStatus maps error codes to HTTP status codes.
func codeToHTTPStatus(code string) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeCancelled:
		return 499 // Client Closed Request
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeTimeout:
		return http.StatusRequestTimeout
	case CodeAttach, CodePush, CodeServiceUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// ToHTTPError converts an error to an HTTPError.
func ToHTTPError(err error, traceID string) *HTTPError {
	if err == nil {
		return &HTTPError{
			Status:  http.StatusOK,
			Code:    CodeOK,
			Message: "success",
			TraceID: traceID,
		}
	}

	httpErr := &HTTPError{
		Status:  StatusCode(err),
		TraceID: traceID,
		Details: make(map[string]string),
	}

	httpErr.Code = GetErrorCode(err)
	httpErr.Message = GetErrorMessage(err)

	var (
		validationErr *ValidationError
		notFoundErr   *NotFoundError
		attachErr     *AttachError
		pushErr       *PushError
	)

	switch {
	case errors.As(err, &validationErr):
		if validationErr.Field != "" {
			httpErr.Details["field"] = validationErr.Field
		}
	case errors.As(err, &notFoundErr):
		if notFoundErr.Resource != "" {
			httpErr.Details["resource"] = notFoundErr.Resource
		}
		if notFoundErr.ID != "" {
			httpErr.Details["id"] = notFoundErr.ID
		}
	case errors.As(err, &attachErr):
		httpErr.Details["feed"] = attachErr.Feed
	case errors.As(err, &pushErr):
		httpErr.Details["feed"] = pushErr.Feed
	}

	return httpErr
}

// WriteHTTPError writes an error response to an http.ResponseWriter.
func WriteHTTPError(w http.ResponseWriter, err error, traceID string) {
	httpErr := ToHTTPError(err, traceID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(httpErr.Status)
	json.NewEncoder(w).Encode(httpErr)
}
