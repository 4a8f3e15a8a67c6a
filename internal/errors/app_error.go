// Package errors defines the structured error type shared across the
// client, together with the retry classification and user-facing
// categorization applied at the topmost call boundary.
package errors

import (
	"encoding/json"
	"fmt"
)

// Error codes for the failure taxonomy. Codes are stable strings so they can
// be matched by callers and serialized into diagnostics.
const (
	// CodeConfigIncomplete marks a call rejected before any network I/O
	// because base URL, model, or a required API key is missing.
	CodeConfigIncomplete = "config_incomplete"
	// CodeAPIDisabled marks a call rejected because the client is disabled.
	CodeAPIDisabled = "api_disabled"
	// CodeProvider marks an explicit error payload returned by the remote.
	CodeProvider = "provider_error"
	// CodeTransport marks a network, timeout, or CORS-class failure.
	CodeTransport = "transport_error"
	// CodeUnparsable marks a response body no known shape matched.
	CodeUnparsable = "unparsable_response"
	// CodeNoViableConfiguration marks an exhausted configuration probe.
	// Not fatal: callers fall back to the provider's static model list.
	CodeNoViableConfiguration = "no_viable_configuration"
)

// AppError represents a structured application error.
type AppError struct {
	// HTTPStatusCode is the upstream HTTP status, when one was observed.
	HTTPStatusCode int `json:"-"`
	// Code is an internal error code string from the taxonomy above.
	Code string `json:"code"`
	// Message is the user-facing error message.
	Message string `json:"message"`
	// Details provides additional error context (optional).
	Details map[string]interface{} `json:"details,omitempty"`
	// Err is the underlying error (not marshaled to JSON).
	Err error `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *AppError) Unwrap() error {
	return e.Err
}

// ToJSON returns the JSON byte representation of the error.
func (e *AppError) ToJSON() []byte {
	b, _ := json.Marshal(e)
	return b
}

// New creates a new AppError.
func New(statusCode int, code, message string, err error) *AppError {
	return &AppError{
		HTTPStatusCode: statusCode,
		Code:           code,
		Message:        message,
		Err:            err,
	}
}

// ConfigIncomplete builds a fail-fast configuration error.
func ConfigIncomplete(message string) *AppError {
	return New(0, CodeConfigIncomplete, message, nil)
}

// APIDisabled builds the fail-fast "client not enabled" error.
func APIDisabled() *AppError {
	return New(0, CodeAPIDisabled, "custom API client is not enabled", nil)
}

// Provider builds an error for an explicit remote error payload.
func Provider(message string) *AppError {
	return New(0, CodeProvider, "API error: "+message, nil)
}

// Transport wraps a network-level failure with an optional HTTP status.
func Transport(statusCode int, message string, err error) *AppError {
	return New(statusCode, CodeTransport, message, err)
}

// Unparsable builds an error carrying the response's top-level keys so the
// unmatched shape can be diagnosed from logs alone.
func Unparsable(topLevelKeys []string) *AppError {
	e := New(0, CodeUnparsable, fmt.Sprintf("unable to parse API response; top-level keys: %v", topLevelKeys), nil)
	e.Details = map[string]interface{}{"keys": topLevelKeys}
	return e
}

// NoViableConfiguration builds the probe-exhausted error.
func NoViableConfiguration(provider string) *AppError {
	return New(0, CodeNoViableConfiguration, fmt.Sprintf("no request shape accepted for provider %q", provider), nil)
}

// CodeOf extracts the taxonomy code from err, or "" when err is not an
// AppError.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if ae, ok := err.(*AppError); ok {
		return ae.Code
	}
	return ""
}
