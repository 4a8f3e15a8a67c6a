package errors

import (
	"fmt"
	"strings"
)

// retryableKeywords are textual markers of transient failures. A thrown
// error whose message contains one of these consumes a retry; every other
// error aborts the attempt loop immediately.
var retryableKeywords = []string{
	"network",
	"timeout",
	"connection",
	"aborted",
	"deadline exceeded",
	"connection refused",
	"connection reset",
	"rate limit",
	"too many requests",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"server error",
	"internal server error",
}

// retryableStatusCodes are HTTP statuses worth retrying.
var retryableStatusCodes = []int{429, 502, 503, 504}

// IsRetryable reports whether err looks like a transient transport or
// rate-limit failure. Classification is keyword and status-code based: the
// upstream bodies vary too much for anything stricter.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if ae, ok := err.(*AppError); ok {
		for _, code := range retryableStatusCodes {
			if ae.HTTPStatusCode == code {
				return true
			}
		}
		// Fail-fast categories never retry, whatever the message says.
		switch ae.Code {
		case CodeConfigIncomplete, CodeAPIDisabled, CodeUnparsable:
			return false
		}
	}
	msg := strings.ToLower(err.Error())
	for _, kw := range retryableKeywords {
		if strings.Contains(msg, kw) {
			return true
		}
	}
	for _, code := range retryableStatusCodes {
		if strings.Contains(msg, fmt.Sprintf("%d", code)) {
			return true
		}
	}
	return false
}

// CallType identifies which call path produced an error, which changes the
// remediation hints in user-facing messages.
type CallType string

const (
	// CallTypeProxied goes through the backend proxy endpoints.
	CallTypeProxied CallType = "proxied"
	// CallTypeDirect goes straight to the provider endpoint.
	CallTypeDirect CallType = "direct"
)

// UserFacing converts an internal error into a categorized, human-readable
// message. It is applied once, at the topmost call boundary, so inner layers
// keep the raw error for wrapping and tests.
func UserFacing(err error, callType CallType) string {
	if err == nil {
		return ""
	}
	msg := strings.ToLower(err.Error())

	// CORS-class failures only happen on the direct path; surface a
	// specific remediation instead of a generic network message.
	if callType == CallTypeDirect && (strings.Contains(msg, "cors") || strings.Contains(msg, "failed to fetch") || strings.Contains(msg, "origin")) {
		return "direct call failed: likely a cross-origin restriction. Switch the provider to proxied mode, or confirm the API server allows cross-origin requests."
	}
	if strings.Contains(msg, "network") || strings.Contains(msg, "connection") || strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") {
		return fmt.Sprintf("network problem: %v. Check connectivity and the configured base URL, or raise the timeout.", err)
	}
	if strings.Contains(msg, "unauthorized") || strings.Contains(msg, "401") || strings.Contains(msg, "invalid key") {
		return "authentication failed: the API key may be invalid or expired. Verify the key, its permissions, and the account balance."
	}
	if strings.Contains(msg, "forbidden") || strings.Contains(msg, "403") {
		return fmt.Sprintf("permission denied: %v. Check the key's scope and the provider account status.", err)
	}
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "too many requests") || strings.Contains(msg, "429") {
		return "rate limited: the provider's request quota was hit. Retry later or reduce request frequency."
	}
	if strings.Contains(msg, "500") || strings.Contains(msg, "502") || strings.Contains(msg, "503") || strings.Contains(msg, "504") {
		return fmt.Sprintf("provider server error: %v. Usually transient; retry later or switch providers.", err)
	}
	if strings.Contains(msg, "token") && (strings.Contains(msg, "limit") || strings.Contains(msg, "exceed")) {
		return fmt.Sprintf("token limit error: %v. Shorten the input or raise the max-tokens setting.", err)
	}
	if strings.Contains(msg, "model") && (strings.Contains(msg, "not found") || strings.Contains(msg, "does not exist")) {
		return fmt.Sprintf("model not found: %v. Refresh the model list and pick an available model.", err)
	}
	if strings.Contains(msg, "json") || strings.Contains(msg, "parse") {
		return "malformed response: the API returned invalid JSON. Check the server status and retry."
	}
	if callType == CallTypeDirect {
		return fmt.Sprintf("direct call failed: %v", err)
	}
	return fmt.Sprintf("proxied call failed: %v", err)
}
