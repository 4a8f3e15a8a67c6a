package errors

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppErrorError(t *testing.T) {
	base := errors.New("dial tcp: connection refused")
	ae := New(0, CodeTransport, "request failed", base)
	assert.Equal(t, "request failed: dial tcp: connection refused", ae.Error())
	assert.Equal(t, base, ae.Unwrap())

	noWrap := Provider("bad key")
	assert.Equal(t, "API error: bad key", noWrap.Error())
	assert.Nil(t, noWrap.Unwrap())
}

func TestAppErrorToJSON(t *testing.T) {
	ae := Unparsable([]string{"status", "detail"})
	out := string(ae.ToJSON())
	assert.Contains(t, out, `"code":"unparsable_response"`)
	assert.Contains(t, out, "status")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain network error", errors.New("network unreachable"), true},
		{"timeout", errors.New("context deadline exceeded (Client.Timeout)"), true},
		{"rate limit text", errors.New("Rate limit hit, slow down"), true},
		{"status 429 in message", errors.New("HTTP 429 Too Many Requests"), true},
		{"status 503 in message", errors.New("upstream returned 503"), true},
		{"auth failure", errors.New("401 unauthorized"), false},
		{"generic", errors.New("something strange"), false},
		{"app error 502", Transport(502, "bad gateway body", nil), true},
		{"config incomplete never retries", ConfigIncomplete("missing model"), false},
		{"unparsable never retries", Unparsable([]string{"weird"}), false},
		{"disabled never retries", APIDisabled(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err), "err=%v", tt.err)
		})
	}
}

func TestUserFacingCategories(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		callType CallType
		contains string
	}{
		{"cors direct", errors.New("Failed to fetch"), CallTypeDirect, "cross-origin"},
		{"network", errors.New("connection reset by peer"), CallTypeProxied, "network problem"},
		{"auth", errors.New("HTTP 401 unauthorized"), CallTypeProxied, "authentication failed"},
		{"rate limit", errors.New("too many requests"), CallTypeProxied, "rate limited"},
		{"server", errors.New("HTTP 502 - upstream blew up"), CallTypeProxied, "server error"},
		{"token limit", errors.New("max token limit exceeded"), CallTypeProxied, "token limit"},
		{"model missing", errors.New("model gpt-x not found"), CallTypeProxied, "model not found"},
		{"bad json", errors.New("unexpected end of JSON input: parse error"), CallTypeProxied, "malformed response"},
		{"fallback direct", errors.New("weird failure"), CallTypeDirect, "direct call failed"},
		{"fallback proxied", errors.New("weird failure"), CallTypeProxied, "proxied call failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := UserFacing(tt.err, tt.callType)
			require.True(t, strings.Contains(got, tt.contains),
				fmt.Sprintf("UserFacing(%v, %s) = %q, want substring %q", tt.err, tt.callType, got, tt.contains))
		})
	}
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, CodeProvider, CodeOf(Provider("x")))
	assert.Equal(t, "", CodeOf(errors.New("plain")))
	assert.Equal(t, "", CodeOf(nil))
}
