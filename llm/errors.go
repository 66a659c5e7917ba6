// ABOUTME: Error hierarchy for the LLM boundary, mapping provider responses to typed errors.
// ABOUTME: Retry classification keys off these types: timeouts report Timeout(), rate limits expose RetryAfterSeconds().
package llm

import (
	"encoding/json"
)

// SDKError is the base error type for all errors at the LLM boundary.
type SDKError struct {
	Message string
	Cause   error
}

func (e *SDKError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *SDKError) Unwrap() error {
	return e.Cause
}

// ProviderError carries provider metadata for an API error response.
type ProviderError struct {
	SDKError
	Provider   string
	StatusCode int
	RetryAfter *float64
	Raw        json.RawMessage
}

func (e *ProviderError) Error() string { return e.SDKError.Error() }
func (e *ProviderError) Unwrap() error { return e.SDKError.Unwrap() }

// As enables errors.As to match SDKError from a ProviderError.
func (e *ProviderError) As(target any) bool {
	switch t := target.(type) {
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// AuthenticationError represents a 401 or 403 response. Not retryable.
type AuthenticationError struct {
	ProviderError
}

func (e *AuthenticationError) Error() string { return e.ProviderError.Error() }
func (e *AuthenticationError) Unwrap() error { return e.ProviderError.Unwrap() }

func (e *AuthenticationError) As(target any) bool {
	switch t := target.(type) {
	case **ProviderError:
		*t = &e.ProviderError
		return true
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// InvalidRequestError represents a 400, 404, or 422 response. Not retryable.
type InvalidRequestError struct {
	ProviderError
}

func (e *InvalidRequestError) Error() string { return e.ProviderError.Error() }
func (e *InvalidRequestError) Unwrap() error { return e.ProviderError.Unwrap() }

func (e *InvalidRequestError) As(target any) bool {
	switch t := target.(type) {
	case **ProviderError:
		*t = &e.ProviderError
		return true
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// RateLimitError represents a 429 response or quota exhaustion.
type RateLimitError struct {
	ProviderError
}

func (e *RateLimitError) Error() string { return e.ProviderError.Error() }
func (e *RateLimitError) Unwrap() error { return e.ProviderError.Unwrap() }

// RetryAfterSeconds exposes the server's requested delay when one was sent.
func (e *RateLimitError) RetryAfterSeconds() (float64, bool) {
	if e.RetryAfter == nil {
		return 0, false
	}
	return *e.RetryAfter, true
}

func (e *RateLimitError) As(target any) bool {
	switch t := target.(type) {
	case **ProviderError:
		*t = &e.ProviderError
		return true
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// ServerError represents a 5xx response. Treated as fatal for a run: the
// stage records the failure rather than retrying blind.
type ServerError struct {
	ProviderError
}

func (e *ServerError) Error() string { return e.ProviderError.Error() }
func (e *ServerError) Unwrap() error { return e.ProviderError.Unwrap() }

func (e *ServerError) As(target any) bool {
	switch t := target.(type) {
	case **ProviderError:
		*t = &e.ProviderError
		return true
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// RequestTimeoutError represents a 408 or a client-side request timeout.
type RequestTimeoutError struct {
	SDKError
}

func (e *RequestTimeoutError) Error() string { return e.SDKError.Error() }
func (e *RequestTimeoutError) Unwrap() error { return e.SDKError.Unwrap() }

// Timeout marks this error for net-style timeout detection.
func (e *RequestTimeoutError) Timeout() bool { return true }

func (e *RequestTimeoutError) As(target any) bool {
	switch t := target.(type) {
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// NoObjectGeneratedError represents a response that did not contain the
// requested structured output. Not retryable.
type NoObjectGeneratedError struct {
	SDKError
}

func (e *NoObjectGeneratedError) Error() string { return e.SDKError.Error() }
func (e *NoObjectGeneratedError) Unwrap() error { return e.SDKError.Unwrap() }

func (e *NoObjectGeneratedError) As(target any) bool {
	switch t := target.(type) {
	case **SDKError:
		*t = &e.SDKError
		return true
	default:
		return false
	}
}

// ErrorFromStatusCode maps an HTTP status code to the appropriate error type.
func ErrorFromStatusCode(statusCode int, message, provider string, raw json.RawMessage, retryAfter *float64) error {
	base := ProviderError{
		SDKError:   SDKError{Message: message},
		Provider:   provider,
		StatusCode: statusCode,
		RetryAfter: retryAfter,
		Raw:        raw,
	}

	switch {
	case statusCode == 401 || statusCode == 403:
		return &AuthenticationError{ProviderError: base}
	case statusCode == 400 || statusCode == 404 || statusCode == 422:
		return &InvalidRequestError{ProviderError: base}
	case statusCode == 408:
		return &RequestTimeoutError{SDKError: base.SDKError}
	case statusCode == 429:
		return &RateLimitError{ProviderError: base}
	case statusCode >= 500 && statusCode <= 599:
		return &ServerError{ProviderError: base}
	default:
		return &base
	}
}
