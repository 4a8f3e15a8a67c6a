// Package registry provides the static descriptors for the supported API
// providers: URL shapes, auth style, and default model lists. Descriptors
// are defined once at startup and never mutated.
package registry

import (
	"net/http"
	"strings"
)

// AuthStyle describes how a provider expects credentials.
type AuthStyle int

const (
	// AuthBearer sends the key as "Authorization: Bearer <key>".
	AuthBearer AuthStyle = iota
	// AuthQueryKey appends the key as a URL query parameter.
	AuthQueryKey
	// AuthNone sends no credentials.
	AuthNone
)

func (a AuthStyle) String() string {
	switch a {
	case AuthBearer:
		return "bearer"
	case AuthQueryKey:
		return "query-key"
	default:
		return "none"
	}
}

// Apply attaches the credential to an outgoing request. An empty key is
// never sent.
func (a AuthStyle) Apply(req *http.Request, key string) {
	if key == "" {
		return
	}
	switch a {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+key)
	case AuthQueryKey:
		q := req.URL.Query()
		q.Set("key", key)
		req.URL.RawQuery = q.Encode()
	}
}

// CallMode selects how requests reach the provider.
type CallMode int

const (
	// ModeProxied routes through the backend proxy envelope endpoints.
	ModeProxied CallMode = iota
	// ModeDirect posts straight to the provider's chat-completions URL.
	ModeDirect
)

// ProviderDescriptor is the immutable description of one provider profile.
type ProviderDescriptor struct {
	// Key uniquely identifies the provider in settings and caches.
	Key string
	// DisplayName is the human-readable provider name.
	DisplayName string
	// DefaultBaseURL is used when settings carry no base URL.
	DefaultBaseURL string
	// URLSuffix is appended to the base URL for generate calls. It may
	// contain a {model} placeholder.
	URLSuffix string
	// ModelsEndpoint is appended to the base URL to list models.
	ModelsEndpoint string
	// AuthStyle selects how the API key is transmitted.
	AuthStyle AuthStyle
	// RequiresKey makes a missing key a fail-fast configuration error.
	RequiresKey bool
	// Mode selects the proxied or direct call path.
	Mode CallMode
	// DefaultModels is the static fallback model list used when every
	// probe candidate fails.
	DefaultModels []string
}

// GenerateURL builds the generate endpoint for a base URL, expanding the
// {model} placeholder when the suffix carries one.
func (d *ProviderDescriptor) GenerateURL(baseURL, model string) string {
	suffix := strings.ReplaceAll(d.URLSuffix, "{model}", model)
	return joinURL(baseURL, suffix)
}

// ModelsURL builds the model listing endpoint for a base URL.
func (d *ProviderDescriptor) ModelsURL(baseURL string) string {
	return joinURL(baseURL, d.ModelsEndpoint)
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(path, "/")
}

// Providers returns the supported provider descriptors keyed by Key.
func Providers() map[string]*ProviderDescriptor {
	return providerTable
}

// Get looks up a descriptor by key; ok is false for unknown keys.
func Get(key string) (*ProviderDescriptor, bool) {
	d, ok := providerTable[key]
	return d, ok
}

// Keys returns the provider keys in registration order.
func Keys() []string {
	return providerOrder
}

var providerOrder = []string{"openai", "gemini", "backend_custom", "frontend_custom"}

var providerTable = map[string]*ProviderDescriptor{
	"openai": {
		Key:            "openai",
		DisplayName:    "OpenAI",
		DefaultBaseURL: "https://api.openai.com",
		URLSuffix:      "v1/chat/completions",
		ModelsEndpoint: "v1/models",
		AuthStyle:      AuthBearer,
		RequiresKey:    true,
		Mode:           ModeProxied,
		DefaultModels: []string{
			"gpt-3.5-turbo",
			"gpt-4",
			"gpt-4-turbo",
			"gpt-4o",
			"gpt-4o-mini",
		},
	},
	"gemini": {
		Key:            "gemini",
		DisplayName:    "Google Gemini",
		DefaultBaseURL: "https://generativelanguage.googleapis.com",
		URLSuffix:      "v1beta/models/{model}:generateContent",
		ModelsEndpoint: "v1beta/models",
		AuthStyle:      AuthQueryKey,
		RequiresKey:    true,
		Mode:           ModeProxied,
		DefaultModels: []string{
			"gemini-1.5-pro",
			"gemini-1.5-flash",
			"gemini-1.0-pro",
			"gemini-1.5-pro-latest",
			"gemini-1.5-flash-latest",
		},
	},
	"backend_custom": {
		Key:            "backend_custom",
		DisplayName:    "Backend Custom",
		DefaultBaseURL: "",
		URLSuffix:      "chat/completions",
		ModelsEndpoint: "models",
		AuthStyle:      AuthBearer,
		RequiresKey:    false,
		Mode:           ModeProxied,
		DefaultModels:  []string{},
	},
	"frontend_custom": {
		Key:            "frontend_custom",
		DisplayName:    "Frontend Custom",
		DefaultBaseURL: "",
		URLSuffix:      "chat/completions",
		ModelsEndpoint: "models",
		AuthStyle:      AuthBearer,
		RequiresKey:    false,
		Mode:           ModeDirect,
		DefaultModels:  []string{},
	},
}
