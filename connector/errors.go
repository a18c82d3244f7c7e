package connector

import "fmt"

// ErrorKind classifies a failed vendor operation. Callers may treat
// ErrorKindVendorUnavailable and ErrorKindTimeout as retryable; the pipeline
// itself never retries beyond the single 401 case.
type ErrorKind string

const (
	// ErrorKindAuthFailure means the vendor rejected our credentials, including after the in-pipeline refresh retry.
	ErrorKindAuthFailure ErrorKind = "auth-failure"
	// ErrorKindNotFound means the requested resource does not exist on the vendor side.
	ErrorKindNotFound ErrorKind = "not-found"
	// ErrorKindVendorRejected means the vendor rejected the request (4xx other than 401/404).
	ErrorKindVendorRejected ErrorKind = "vendor-rejected"
	// ErrorKindVendorUnavailable means the vendor could not be reached or returned a server error.
	ErrorKindVendorUnavailable ErrorKind = "vendor-unavailable"
	// ErrorKindConfigurationError means the connector is misconfigured (e.g. the token endpoint
	// cannot be discovered). Retrying cannot help; an operator has to intervene.
	ErrorKindConfigurationError ErrorKind = "configuration-error"
	// ErrorKindTimeout means the vendor did not respond within the configured deadline.
	ErrorKindTimeout ErrorKind = "timeout"
)

// ClassifiedError is an error carrying the failure taxonomy. Messages are
// sanitized before construction: no secrets, no resource content.
type ClassifiedError struct {
	Kind       ErrorKind
	HTTPStatus int
	Message    string
}

func (e *ClassifiedError) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("%s (status=%d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ConfigurationError creates a non-retryable misconfiguration error.
func ConfigurationError(msg string, args ...any) error {
	return &ClassifiedError{
		Kind:    ErrorKindConfigurationError,
		Message: fmt.Sprintf(msg, args...),
	}
}
