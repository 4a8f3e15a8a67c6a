// Package config manages the client settings: loading and saving the YAML
// settings file, environment overrides for secrets, and hot reload through a
// file watcher.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings holds the mutable, persisted client configuration.
type Settings struct {
	// Enabled gates every call; a disabled client fails fast.
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Provider is the key of the active provider descriptor.
	Provider string `yaml:"provider" json:"provider"`

	// BaseURL overrides the provider's default base URL.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// BackendURL is the chat application backend that exposes the proxied
	// status and generate endpoints. Proxied providers require it.
	BackendURL string `yaml:"backend-url" json:"backend-url"`

	// APIKey authenticates against the provider. Never logged.
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// Model is the model identifier sent with each request.
	Model string `yaml:"model" json:"model"`

	// Temperature is the sampling temperature, 0-2.
	Temperature float64 `yaml:"temperature" json:"temperature"`

	// MaxTokens caps the completion size of a normal attempt.
	MaxTokens int `yaml:"max-tokens" json:"max-tokens"`

	// SystemPrompt is prepended as a system message when non-empty.
	SystemPrompt string `yaml:"system-prompt,omitempty" json:"system-prompt,omitempty"`

	// AutoRetryTruncated retries truncated replies with a raised budget.
	AutoRetryTruncated bool `yaml:"auto-retry-truncated" json:"auto-retry-truncated"`

	// TruncationRetryMaxTokens is the escalated budget for such retries.
	TruncationRetryMaxTokens int `yaml:"truncation-retry-max-tokens" json:"truncation-retry-max-tokens"`

	// RetryCount is the number of additional attempts after the first
	// failure. Truncation retries and failure retries share this budget.
	RetryCount int `yaml:"retry-count" json:"retry-count"`

	// ProxyURL routes outbound requests through an HTTP or SOCKS5 proxy.
	ProxyURL string `yaml:"proxy-url,omitempty" json:"proxy-url,omitempty"`

	// RequestLog enables verbose request/response logging.
	RequestLog bool `yaml:"request-log,omitempty" json:"request-log,omitempty"`

	// Archive configures the record store bridge.
	Archive ArchiveConfig `yaml:"archive" json:"archive"`
}

// ArchiveConfig holds record store and cache settings.
type ArchiveConfig struct {
	// StoreURL is the base URL of the remote world-info store.
	StoreURL string `yaml:"store-url" json:"store-url"`

	// Collection is the collection (world) name written to on save.
	Collection string `yaml:"collection" json:"collection"`

	// CachePath is the JSON file the local record cache persists to.
	CachePath string `yaml:"cache-path" json:"cache-path"`

	// UsageDBPath is the sqlite file for the per-call usage ledger.
	// Empty disables the ledger.
	UsageDBPath string `yaml:"usage-db-path,omitempty" json:"usage-db-path,omitempty"`
}

// DefaultSettings mirrors the defaults the client ships with.
func DefaultSettings() *Settings {
	return &Settings{
		Enabled:                  false,
		Provider:                 "openai",
		Temperature:              0.8,
		MaxTokens:                50000,
		AutoRetryTruncated:       true,
		TruncationRetryMaxTokens: 80000,
		RetryCount:               3,
		Archive: ArchiveConfig{
			Collection: "default",
			CachePath:  "lorekeeper-cache.json",
		},
	}
}

// Load reads the settings file at path and merges it over the defaults. A
// missing file is not an error: the defaults are returned so a fresh install
// starts usable. The LOREKEEPER_API_KEY environment variable, when set,
// overrides the persisted key so secrets can stay out of the file.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(s)
			return s, nil
		}
		return nil, fmt.Errorf("read settings: %w", err)
	}
	if err = yaml.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}
	s.normalize()
	applyEnvOverrides(s)
	return s, nil
}

// Save writes the settings atomically: marshal, write a temp file in the
// same directory, rename over the target.
func (s *Settings) Save(path string) error {
	data, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}
	dir := filepath.Dir(path)
	if err = os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".settings-*.yaml")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err = tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}
	if err = tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}

// normalize clamps out-of-range values back to usable defaults instead of
// failing: a hand-edited settings file should degrade, not brick the client.
func (s *Settings) normalize() {
	if s.Temperature < 0 || s.Temperature > 2 {
		s.Temperature = 0.8
	}
	if s.MaxTokens <= 0 {
		s.MaxTokens = 50000
	}
	if s.TruncationRetryMaxTokens <= s.MaxTokens {
		s.TruncationRetryMaxTokens = s.MaxTokens
	}
	if s.RetryCount < 0 {
		s.RetryCount = 3
	}
}

func applyEnvOverrides(s *Settings) {
	if key := os.Getenv("LOREKEEPER_API_KEY"); key != "" {
		s.APIKey = key
	}
	if u := os.Getenv("LOREKEEPER_PROXY_URL"); u != "" {
		s.ProxyURL = u
	}
}

// Redacted returns a copy safe for logs and the debug surface: the API key
// is replaced by a presence marker.
func (s *Settings) Redacted() Settings {
	out := *s
	if out.APIKey != "" {
		out.APIKey = "[REDACTED]"
	}
	return out
}
