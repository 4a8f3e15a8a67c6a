// Package worldinfo bridges extracted profiles into a lorebook store: a
// remote collection of tagged entries behind the backend's worldinfo
// endpoints, fronted by a local cache that survives restarts and store
// outages.
package worldinfo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	apperrors "github.com/seralys/lorekeeper/internal/errors"
)

const (
	// GetPath returns a whole lorebook by name.
	GetPath = "/api/worldinfo/get"
	// EditPath replaces a whole lorebook.
	EditPath = "/api/worldinfo/edit"

	storeTimeout = 15 * time.Second
)

// LabelPrefix marks entries managed by this client inside a shared lorebook.
const LabelPrefix = "【档案】"

// LabelFor returns the entry comment for a subject name.
func LabelFor(name string) string { return LabelPrefix + name }

// NameFromLabel extracts the subject name from a managed entry comment; ok
// is false for entries this client does not own.
func NameFromLabel(comment string) (string, bool) {
	if !strings.HasPrefix(comment, LabelPrefix) {
		return "", false
	}
	return strings.TrimPrefix(comment, LabelPrefix), true
}

// Entry is one lorebook entry in the store's representation. UID doubles as
// the creation timestamp in milliseconds for entries this client creates.
type Entry struct {
	UID     int64    `json:"uid"`
	Keys    []string `json:"key"`
	Comment string   `json:"comment"`
	Content string   `json:"content"`
	Disable bool     `json:"disable"`
}

// Book is a named lorebook, entries keyed by the string form of their UID.
type Book struct {
	Name    string           `json:"name"`
	Entries map[string]Entry `json:"entries"`
}

// Client talks to the lorebook store endpoints.
type Client struct {
	httpClient *http.Client
	baseURL    string
}

// NewClient builds a store client. httpClient may be nil.
func NewClient(httpClient *http.Client, baseURL string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: storeTimeout}
	}
	return &Client{httpClient: httpClient, baseURL: strings.TrimSuffix(baseURL, "/")}
}

// Fetch loads the named lorebook. A book that does not exist yet comes back
// empty rather than as an error, so a first write can create it.
func (c *Client) Fetch(ctx context.Context, name string) (*Book, error) {
	body, err := c.post(ctx, GetPath, map[string]string{"name": name})
	if err != nil {
		return nil, err
	}
	book := &Book{Name: name, Entries: map[string]Entry{}}
	if err = json.Unmarshal(body, book); err != nil {
		return nil, fmt.Errorf("decode lorebook %q: %w", name, err)
	}
	if book.Entries == nil {
		book.Entries = map[string]Entry{}
	}
	book.Name = name
	return book, nil
}

// Save replaces the named lorebook with the given entries.
func (c *Client) Save(ctx context.Context, book *Book) error {
	payload := map[string]any{
		"name": book.Name,
		"data": map[string]any{"entries": book.Entries},
	}
	_, err := c.post(ctx, EditPath, payload)
	return err
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	if c.baseURL == "" {
		return nil, apperrors.ConfigIncomplete("lorebook store URL is not configured")
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.Transport(0, "lorebook store unreachable", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(resp.StatusCode, "reading store response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, apperrors.Transport(resp.StatusCode, fmt.Sprintf("store returned status %d", resp.StatusCode), nil)
	}
	return body, nil
}
