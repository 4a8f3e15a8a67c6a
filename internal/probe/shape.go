// Package probe discovers which request envelope a configured provider
// actually accepts. Backends sitting behind a chat-app proxy disagree on the
// chat_completion_source they expect for the same upstream, so the probe
// walks an ordered candidate list, asks each shape for the model list, and
// remembers the first one that answers. Results are cached per configuration
// fingerprint so later calls skip the network entirely.
package probe

import (
	"strings"

	"github.com/tidwall/sjson"

	"github.com/seralys/lorekeeper/internal/registry"
)

// RequestShape is one way of addressing a provider: the envelope fields the
// backend proxy expects, or a direct call with no envelope at all.
type RequestShape struct {
	// Name identifies the shape in logs and the debug surface.
	Name string `json:"name"`

	// Source is the chat_completion_source value the backend proxy routes
	// on. Empty for direct shapes.
	Source string `json:"source,omitempty"`

	// Envelope is the JSON fragment merged into every proxied request body.
	// It carries the source, the upstream URL and the credential fields.
	Envelope []byte `json:"envelope,omitempty"`

	// Direct marks a shape that bypasses the backend proxy and talks to the
	// upstream's OpenAI-compatible endpoint itself.
	Direct bool `json:"direct,omitempty"`

	// ModelsPath is the model listing path for direct shapes, taken from the
	// provider descriptor.
	ModelsPath string `json:"models_path,omitempty"`

	// Auth selects the credential style for direct shapes.
	Auth registry.AuthStyle `json:"auth,omitempty"`
}

func proxiedShape(name, source string, fields map[string]any) RequestShape {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "chat_completion_source", source)
	for k, v := range fields {
		body, _ = sjson.SetBytes(body, k, v)
	}
	return RequestShape{Name: name, Source: source, Envelope: body}
}

// Candidates returns the shapes to try for a provider, most likely first.
// The ordering encodes what real backends accept: Gemini deployments tend to
// answer the makersuite source, OpenAI-compatible proxies the openai source
// with a reverse_proxy override, and bare custom endpoints want the custom
// source with a Bearer credential.
func Candidates(provider, baseURL, apiKey string) []RequestShape {
	if desc, ok := registry.Get(provider); ok && desc.Mode == registry.ModeDirect {
		return []RequestShape{{
			Name:       "direct",
			Direct:     true,
			ModelsPath: desc.ModelsEndpoint,
			Auth:       desc.AuthStyle,
		}}
	}

	makersuite := proxiedShape("makersuite-reverse-proxy", "makersuite", map[string]any{
		"reverse_proxy":  baseURL,
		"proxy_password": apiKey,
	})
	openaiProxy := proxiedShape("openai-reverse-proxy", "openai", map[string]any{
		"reverse_proxy":  baseURL,
		"proxy_password": apiKey,
	})
	custom := proxiedShape("custom-bearer", "custom", map[string]any{
		"custom_url": baseURL,
		"api_key":    apiKey,
	})
	switch {
	case provider == "gemini" || strings.Contains(strings.ToLower(baseURL), "gemini"):
		return []RequestShape{makersuite, openaiProxy, custom}
	case provider == "backend_custom":
		return []RequestShape{custom, openaiProxy}
	default:
		return []RequestShape{openaiProxy, custom}
	}
}
