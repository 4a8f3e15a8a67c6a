package registry

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKnownProviders(t *testing.T) {
	for _, key := range Keys() {
		d, ok := Get(key)
		require.True(t, ok, "descriptor missing for %s", key)
		assert.Equal(t, key, d.Key)
		assert.NotEmpty(t, d.DisplayName)
		assert.NotEmpty(t, d.URLSuffix)
		assert.NotEmpty(t, d.ModelsEndpoint)
	}
}

func TestGetUnknownProvider(t *testing.T) {
	_, ok := Get("perplexity")
	assert.False(t, ok)
}

func TestGeminiURLSuffixCarriesModelPlaceholder(t *testing.T) {
	d, ok := Get("gemini")
	require.True(t, ok)
	assert.True(t, strings.Contains(d.URLSuffix, "{model}"))
	assert.Equal(t, AuthQueryKey, d.AuthStyle)
}

func TestFrontendCustomIsDirect(t *testing.T) {
	d, ok := Get("frontend_custom")
	require.True(t, ok)
	assert.Equal(t, ModeDirect, d.Mode)
	assert.Empty(t, d.DefaultModels)
}

func TestAuthStyleString(t *testing.T) {
	assert.Equal(t, "bearer", AuthBearer.String())
	assert.Equal(t, "query-key", AuthQueryKey.String())
	assert.Equal(t, "none", AuthNone.String())
}

func TestGenerateURL(t *testing.T) {
	openai, ok := Get("openai")
	require.True(t, ok)
	assert.Equal(t, "https://api.openai.com/v1/chat/completions",
		openai.GenerateURL("https://api.openai.com", "gpt-4o"))
	assert.Equal(t, "https://api.openai.com/v1/chat/completions",
		openai.GenerateURL("https://api.openai.com/", "gpt-4o"))

	gemini, ok := Get("gemini")
	require.True(t, ok)
	assert.Equal(t,
		"https://generativelanguage.googleapis.com/v1beta/models/gemini-1.5-pro:generateContent",
		gemini.GenerateURL(gemini.DefaultBaseURL, "gemini-1.5-pro"))
}

func TestModelsURL(t *testing.T) {
	d, ok := Get("frontend_custom")
	require.True(t, ok)
	assert.Equal(t, "http://localhost:1234/v1/models", d.ModelsURL("http://localhost:1234/v1/"))
}

func TestAuthStyleApply(t *testing.T) {
	newReq := func() *http.Request {
		req, err := http.NewRequest(http.MethodGet, "http://upstream/v1/models", nil)
		require.NoError(t, err)
		return req
	}

	req := newReq()
	AuthBearer.Apply(req, "sk-test")
	assert.Equal(t, "Bearer sk-test", req.Header.Get("Authorization"))

	req = newReq()
	AuthQueryKey.Apply(req, "g-key")
	assert.Equal(t, "g-key", req.URL.Query().Get("key"))
	assert.Empty(t, req.Header.Get("Authorization"))

	req = newReq()
	AuthNone.Apply(req, "ignored")
	assert.Empty(t, req.Header.Get("Authorization"))
	assert.Empty(t, req.URL.RawQuery)

	// A missing key sends nothing regardless of style.
	req = newReq()
	AuthBearer.Apply(req, "")
	assert.Empty(t, req.Header.Get("Authorization"))
}
