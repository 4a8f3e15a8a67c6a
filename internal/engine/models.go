package engine

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	apperrors "github.com/seralys/lorekeeper/internal/errors"
	"github.com/seralys/lorekeeper/internal/probe"
)

// ListModels returns the models the configured provider advertises. When
// every probe candidate fails, the provider's static default list is
// returned instead so model selection stays usable offline.
func (e *Engine) ListModels(ctx context.Context) ([]string, error) {
	p, err := e.plan(CallOptions{}, false)
	if err != nil {
		return nil, err
	}
	s := p.settings

	res, err := e.resolver.Resolve(ctx, s.Provider, p.baseURL, s.APIKey)
	if err != nil {
		var ae *apperrors.AppError
		if errors.As(err, &ae) && ae.Code == apperrors.CodeNoViableConfiguration && len(p.desc.DefaultModels) > 0 {
			log.WithField("provider", s.Provider).Warn("probe exhausted, falling back to the static model list")
			return p.desc.DefaultModels, nil
		}
		return nil, err
	}
	if len(res.Models) > 0 {
		return res.Models, nil
	}
	// Cached resolutions carry no model list; fetch it with the known shape.
	return e.resolver.FetchModels(ctx, res.Shape, p.baseURL, s.APIKey)
}

// ConnectionReport is the result of a connectivity check.
type ConnectionReport struct {
	Shape      string        `json:"shape"`
	Cached     bool          `json:"cached"`
	ModelCount int           `json:"model-count"`
	Reply      string        `json:"reply"`
	Latency    time.Duration `json:"latency"`
}

// testPrompt is the one-message probe sent by TestConnection. Small on
// purpose: it verifies the full generate path without burning tokens.
const testPrompt = "Hello, please respond briefly."

// TestConnection probes the configured provider, fetches the model list,
// and runs one minimal generation through the full call path.
func (e *Engine) TestConnection(ctx context.Context) (*ConnectionReport, error) {
	p, err := e.plan(CallOptions{}, false)
	if err != nil {
		return nil, err
	}
	s := p.settings

	start := time.Now()
	var (
		shapeName string
		cached    bool
		models    []string
	)
	if p.callType == apperrors.CallTypeProxied {
		res, rerr := e.resolver.Resolve(ctx, s.Provider, p.baseURL, s.APIKey)
		if rerr != nil {
			return nil, rerr
		}
		shapeName, cached, models = res.Shape.Name, res.Cached, res.Models
		if len(models) == 0 {
			if models, err = e.resolver.FetchModels(ctx, res.Shape, p.baseURL, s.APIKey); err != nil {
				e.resolver.ReportFailure(s.Provider, p.baseURL, s.APIKey)
				return nil, err
			}
		}
	} else {
		shape := probe.Candidates(s.Provider, p.baseURL, s.APIKey)[0]
		shapeName = shape.Name
		models, err = e.resolver.FetchModels(ctx, shape, p.baseURL, s.APIKey)
		if err != nil {
			return nil, err
		}
	}

	model := p.model
	if model == "" && len(models) > 0 {
		model = models[0]
	}
	resp, err := e.Call(ctx, []Message{{Role: "user", Content: testPrompt}}, CallOptions{Model: model, MaxTokens: 100})
	if err != nil {
		return nil, err
	}
	reply := resp.Content
	if len(reply) > 120 {
		reply = reply[:120]
	}
	return &ConnectionReport{
		Shape:      shapeName,
		Cached:     cached,
		ModelCount: len(models),
		Reply:      reply,
		Latency:    time.Since(start),
	}, nil
}

// DebugInfo reports the effective call configuration and probe cache state
// for the debug surface. Secrets are reduced to presence flags.
func (e *Engine) DebugInfo() map[string]any {
	s := e.settings()
	info := map[string]any{
		"enabled":              s.Enabled,
		"provider":             s.Provider,
		"model":                s.Model,
		"base_url":             s.BaseURL,
		"backend_url":          s.BackendURL,
		"has_api_key":          s.APIKey != "",
		"max_tokens":           s.MaxTokens,
		"retry_count":          s.RetryCount,
		"auto_retry_truncated": s.AutoRetryTruncated,
	}
	size, hits, misses := e.resolver.Cache().Stats()
	info["shape_cache"] = map[string]any{
		"size":    size,
		"hits":    hits,
		"misses":  misses,
		"entries": e.resolver.Cache().Entries(),
	}
	return info
}
