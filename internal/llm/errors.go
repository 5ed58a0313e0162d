package llm

import (
	"errors"
	"fmt"
)

// LLMError represents an error from a text-generation backend.
type LLMError struct {
	// Type categorizes the error
	Type string

	// Message is a human-readable error message
	Message string

	// Code is the HTTP status code (if applicable)
	Code int

	// Err is the underlying error
	Err error
}

// Error types.
const (
	ErrorTypeNetwork = "network"
	ErrorTypeAPI     = "api"
	ErrorTypeTimeout = "timeout"
	ErrorTypeParse   = "parse"
	ErrorTypeStream  = "stream"
)

// Error implements the error interface.
func (e *LLMError) Error() string {
	if e.Code > 0 {
		return fmt.Sprintf("LLM %s error (code %d): %s", e.Type, e.Code, e.Message)
	}
	return fmt.Sprintf("LLM %s error: %s", e.Type, e.Message)
}

// Unwrap returns the underlying error.
func (e *LLMError) Unwrap() error {
	return e.Err
}

// Transient reports whether retrying the same request may succeed.
// Client errors (4xx other than 408/429) are permanent.
func (e *LLMError) Transient() bool {
	switch e.Type {
	case ErrorTypeNetwork, ErrorTypeStream:
		return true
	case ErrorTypeAPI:
		return e.Code == 0 || e.Code == 408 || e.Code == 429 || e.Code >= 500
	}
	return false
}

// IsTransient reports whether err is a retryable backend error.
func IsTransient(err error) bool {
	var llmErr *LLMError
	if errors.As(err, &llmErr) {
		return llmErr.Transient()
	}
	return false
}

// NewNetworkError creates a network error.
func NewNetworkError(err error) *LLMError {
	return &LLMError{
		Type:    ErrorTypeNetwork,
		Message: "Failed to connect to the text-generation API. Check your network connection.",
		Err:     err,
	}
}

// NewAPIError creates an API error with status code.
func NewAPIError(code int, message string) *LLMError {
	return &LLMError{
		Type:    ErrorTypeAPI,
		Code:    code,
		Message: fmt.Sprintf("API error: %s", message),
	}
}

// NewTimeoutError creates a timeout error.
func NewTimeoutError(err error) *LLMError {
	return &LLMError{
		Type:    ErrorTypeTimeout,
		Message: "Request timed out. The model may be under heavy load.",
		Err:     err,
	}
}

// NewParseError creates a parse error.
func NewParseError(content string, err error) *LLMError {
	if len(content) > 200 {
		content = content[:200] + "..."
	}
	return &LLMError{
		Type:    ErrorTypeParse,
		Message: fmt.Sprintf("Failed to parse stream event: %s", content),
		Err:     err,
	}
}

// NewStreamError creates an error for a stream that broke off or reported a failure.
func NewStreamError(message string, err error) *LLMError {
	return &LLMError{
		Type:    ErrorTypeStream,
		Message: message,
		Err:     err,
	}
}
