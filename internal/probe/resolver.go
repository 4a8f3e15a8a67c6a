package probe

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"

	apperrors "github.com/seralys/lorekeeper/internal/errors"
)

// StatusPath is the backend proxy endpoint that answers a model list for a
// given envelope without generating anything.
const StatusPath = "/api/backends/chat-completions/status"

// probeTimeout bounds a single candidate attempt. A shape that cannot answer
// the status call in this window is treated as non-viable.
const probeTimeout = 10 * time.Second

// Resolver walks the candidate shapes for a configuration and caches the
// winner. Concurrent resolutions of the same fingerprint are collapsed into
// one probe run.
type Resolver struct {
	client     *http.Client
	backendURL func() string
	cache      *Cache
	group      singleflight.Group
}

// NewResolver builds a resolver that probes proxied shapes through the
// backend. backendURL is read per request so a reloaded configuration takes
// effect on the next probe; nil means no backend. The cache may be shared
// across resolvers.
func NewResolver(client *http.Client, backendURL func() string, cache *Cache) *Resolver {
	if client == nil {
		client = &http.Client{Timeout: probeTimeout}
	}
	if cache == nil {
		cache = NewCache()
	}
	return &Resolver{
		client:     client,
		backendURL: backendURL,
		cache:      cache,
	}
}

// Cache exposes the underlying shape cache for the debug surface.
func (r *Resolver) Cache() *Cache { return r.cache }

// Result is a resolved shape together with the models it advertised.
type Result struct {
	Shape  RequestShape
	Models []string
	Cached bool
}

// Resolve returns a working request shape for the configuration. A cached
// answer is trusted without a network round trip; callers evict it through
// ReportFailure when a call using the shape fails. When every candidate
// fails the error is no-viable-configuration and the caller decides whether
// to fall back to static defaults.
func (r *Resolver) Resolve(ctx context.Context, provider, baseURL, apiKey string) (Result, error) {
	fp := FingerprintOf(provider, baseURL, apiKey)

	if shape, ok := r.cache.Get(fp); ok {
		return Result{Shape: shape, Cached: true}, nil
	}

	v, err, _ := r.group.Do(fp.String(), func() (interface{}, error) {
		return r.probe(ctx, fp, provider, baseURL, apiKey)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

// ReportFailure evicts the cached shape for a configuration after a call
// using it failed. The next Resolve re-probes from scratch.
func (r *Resolver) ReportFailure(provider, baseURL, apiKey string) {
	fp := FingerprintOf(provider, baseURL, apiKey)
	r.cache.Evict(fp)
	log.WithField("fingerprint", fp.String()).Debug("request shape evicted after call failure")
}

func (r *Resolver) probe(ctx context.Context, fp Fingerprint, provider, baseURL, apiKey string) (Result, error) {
	var lastErr error
	for _, shape := range Candidates(provider, baseURL, apiKey) {
		models, err := r.FetchModels(ctx, shape, baseURL, apiKey)
		if err != nil {
			lastErr = err
			log.WithField("shape", shape.Name).Debugf("request shape rejected: %v", err)
			continue
		}
		r.cache.Put(fp, shape)
		log.WithFields(log.Fields{"shape": shape.Name, "models": len(models)}).
			Debug("request shape resolved")
		return Result{Shape: shape, Models: models}, nil
	}
	if lastErr != nil {
		log.WithField("provider", provider).Debugf("all request shapes failed, last error: %v", lastErr)
	}
	return Result{}, apperrors.NoViableConfiguration(provider)
}

// FetchModels asks the backend (or the upstream itself for direct shapes)
// for the model list using one shape. A shape is viable only when the answer
// parses into at least one model.
func (r *Resolver) FetchModels(ctx context.Context, shape RequestShape, baseURL, apiKey string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()

	var (
		req *http.Request
		err error
	)
	if shape.Direct {
		path := shape.ModelsPath
		if path == "" {
			path = "models"
		}
		url := strings.TrimSuffix(baseURL, "/") + "/" + strings.TrimPrefix(path, "/")
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, err
		}
		shape.Auth.Apply(req, apiKey)
	} else {
		backend := ""
		if r.backendURL != nil {
			backend = strings.TrimSuffix(r.backendURL(), "/")
		}
		if backend == "" {
			return nil, apperrors.ConfigIncomplete("backend URL is not configured")
		}
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, backend+StatusPath, bytes.NewReader(shape.Envelope))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, apperrors.Transport(0, "status request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(resp.StatusCode, "reading status response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		e := apperrors.Provider(statusMessage(body, resp.StatusCode))
		e.HTTPStatusCode = resp.StatusCode
		return nil, e
	}

	models := ParseModelList(body)
	if len(models) == 0 {
		return nil, fmt.Errorf("no models in response")
	}
	return models, nil
}

func statusMessage(body []byte, code int) string {
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return msg.String()
	}
	if msg := gjson.GetBytes(body, "message"); msg.Exists() {
		return msg.String()
	}
	return fmt.Sprintf("status %d", code)
}

// ParseModelList pulls model identifiers out of the formats backends
// actually return: an OpenAI-style data array (sometimes wrapped once more),
// a Gemini models array filtered to generateContent-capable entries, or a
// bare array of names.
func ParseModelList(body []byte) []string {
	root := gjson.ParseBytes(body)

	// Gemini lists models with a capability filter.
	if models := root.Get("models"); models.IsArray() {
		var out []string
		models.ForEach(func(_, m gjson.Result) bool {
			supported := false
			m.Get("supportedGenerationMethods").ForEach(func(_, v gjson.Result) bool {
				if v.String() == "generateContent" {
					supported = true
					return false
				}
				return true
			})
			if !supported && m.Get("supportedGenerationMethods").Exists() {
				return true
			}
			if name := strings.TrimPrefix(m.Get("name").String(), "models/"); name != "" {
				out = append(out, name)
			}
			return true
		})
		if len(out) > 0 {
			return out
		}
	}

	// OpenAI-style lists, possibly wrapped in an extra data object.
	list := root.Get("data.data")
	if !list.IsArray() {
		list = root.Get("data")
	}
	if !list.IsArray() && root.IsArray() {
		list = root
	}
	if !list.IsArray() {
		return nil
	}

	var out []string
	list.ForEach(func(_, m gjson.Result) bool {
		switch {
		case m.Type == gjson.String:
			out = append(out, m.String())
		default:
			for _, field := range []string{"id", "model", "name"} {
				if v := m.Get(field); v.Type == gjson.String && v.String() != "" {
					out = append(out, v.String())
					break
				}
			}
		}
		return true
	})
	return out
}
