package inference

import (
	"errors"
	"fmt"
)

var (
	// ErrNoAPIKey is returned when a hosted provider is built without a key.
	ErrNoAPIKey = errors.New("inference: API key required")

	// ErrNoImage is returned by Vision when the request has no image bytes.
	ErrNoImage = errors.New("inference: image required")

	// ErrEmptyResponse is returned when the backend answered without text.
	ErrEmptyResponse = errors.New("inference: empty response")

	// ErrProviderUnavailable is returned when no provider can serve a call.
	ErrProviderUnavailable = errors.New("inference: provider unavailable")

	// ErrVisionNotSupported is returned by providers without image input.
	ErrVisionNotSupported = errors.New("inference: vision not supported by provider")
)

// APIError is a non-2xx response from a provider.
type APIError struct {
	StatusCode int
	Message    string
	Code       string
	Provider   string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("inference [%s]: API error %d (%s): %s",
			e.Provider, e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("inference [%s]: API error %d: %s",
		e.Provider, e.StatusCode, e.Message)
}

// IsRateLimited reports HTTP 429.
func (e *APIError) IsRateLimited() bool {
	return e.StatusCode == 429
}

// IsUnauthorized reports HTTP 401 or 403.
func (e *APIError) IsUnauthorized() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}

// IsRetryable reports whether the same request may succeed later.
func (e *APIError) IsRetryable() bool {
	return e.IsRateLimited() || (e.StatusCode >= 500 && e.StatusCode < 600)
}

// ProviderError wraps an error with the provider name.
type ProviderError struct {
	Provider string
	Err      error
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("inference [%s]: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// WrapError wraps err with provider context. A nil err stays nil.
func WrapError(provider string, err error) error {
	if err == nil {
		return nil
	}
	return &ProviderError{Provider: provider, Err: err}
}

// ChainError collects the failure of every provider in a Chain.
type ChainError struct {
	Errors []error
}

func (e *ChainError) Error() string {
	switch len(e.Errors) {
	case 0:
		return "inference chain: no errors recorded"
	case 1:
		return fmt.Sprintf("inference chain: %v", e.Errors[0])
	default:
		return fmt.Sprintf("inference chain: all %d providers failed, last error: %v",
			len(e.Errors), e.Errors[len(e.Errors)-1])
	}
}

// Unwrap exposes every provider error to errors.Is and errors.As.
func (e *ChainError) Unwrap() []error {
	return e.Errors
}
