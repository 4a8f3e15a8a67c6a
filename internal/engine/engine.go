// Package engine drives generation calls against the configured provider.
// It validates settings before any network traffic, resolves a request shape
// through the probe cache, and runs the retry loop: transient failures and
// truncated responses draw from one shared retry budget, with exponential
// backoff between attempts.
package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"github.com/tidwall/sjson"

	"github.com/seralys/lorekeeper/internal/config"
	apperrors "github.com/seralys/lorekeeper/internal/errors"
	"github.com/seralys/lorekeeper/internal/normalize"
	"github.com/seralys/lorekeeper/internal/probe"
	"github.com/seralys/lorekeeper/internal/registry"
)

// GeneratePath is the backend proxy endpoint for non-streaming generation.
const GeneratePath = "/api/backends/chat-completions/generate"

const (
	generateTimeout = 30 * time.Second
	maxBackoff      = 10 * time.Second
)

// Message is one chat turn sent to the provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CallOptions override per-call knobs; zero values fall back to settings.
type CallOptions struct {
	Model       string
	MaxTokens   int
	Temperature *float64
}

// CallRecord summarizes one finished call for the usage ledger.
type CallRecord struct {
	RequestID   string
	Provider    string
	Model       string
	TotalTokens int
	LatencyMS   int64
	Attempts    int
	Outcome     string
}

// Recorder receives call records. Recording must not block generation; the
// ledger logs its own failures.
type Recorder interface {
	Record(ctx context.Context, rec CallRecord)
}

// Metrics receives counter events from the retry loop. Implementations are
// optional; a nil Metrics disables instrumentation.
type Metrics interface {
	CallFinished(provider, outcome string, latency time.Duration)
	RetryScheduled(provider, reason string)
}

// Engine runs generation calls. Settings are read through a snapshot
// function so a hot-reloaded configuration applies to the next call without
// rebuilding the engine.
type Engine struct {
	settings func() *config.Settings
	resolver *probe.Resolver
	client   *http.Client
	recorder Recorder
	metrics  Metrics

	// sleep is swapped in tests to skip real backoff delays.
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures optional engine collaborators.
type Option func(*Engine)

func WithRecorder(r Recorder) Option { return func(e *Engine) { e.recorder = r } }

func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

// New builds an engine. client may be nil, in which case a default client
// without proxy support is used.
func New(settings func() *config.Settings, resolver *probe.Resolver, client *http.Client, opts ...Option) *Engine {
	if client == nil {
		client = &http.Client{Timeout: generateTimeout}
	}
	e := &Engine{
		settings: settings,
		resolver: resolver,
		client:   client,
		sleep:    sleepCtx,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// backoffDelay doubles per attempt starting at one second, capped at ten.
func backoffDelay(attempt int) time.Duration {
	d := time.Second << (attempt - 1)
	if d > maxBackoff || d <= 0 {
		d = maxBackoff
	}
	return d
}

// callPlan is the validated, effective configuration for one Call.
type callPlan struct {
	settings *config.Settings
	desc     *registry.ProviderDescriptor
	baseURL  string
	model    string
	callType apperrors.CallType
}

// plan validates the current settings and resolves the effective model and
// base URL. It performs no network traffic: a disabled client or incomplete
// configuration fails before any request leaves the process.
func (e *Engine) plan(opts CallOptions, requireModel bool) (*callPlan, error) {
	s := e.settings()
	if !s.Enabled {
		return nil, apperrors.APIDisabled()
	}
	desc, ok := registry.Get(s.Provider)
	if !ok {
		return nil, apperrors.ConfigIncomplete("unknown provider " + s.Provider)
	}

	baseURL := strings.TrimSuffix(s.BaseURL, "/")
	if baseURL == "" {
		baseURL = desc.DefaultBaseURL
	}
	model := opts.Model
	if model == "" {
		model = s.Model
	}

	var missing []string
	if baseURL == "" {
		missing = append(missing, "base URL")
	}
	if requireModel && model == "" {
		missing = append(missing, "model")
	}
	if desc.RequiresKey && s.APIKey == "" {
		missing = append(missing, "API key")
	}
	if desc.Mode == registry.ModeProxied && s.BackendURL == "" {
		missing = append(missing, "backend URL")
	}
	if len(missing) > 0 {
		return nil, apperrors.ConfigIncomplete("missing required settings: " + strings.Join(missing, ", "))
	}

	callType := apperrors.CallTypeProxied
	if desc.Mode == registry.ModeDirect {
		callType = apperrors.CallTypeDirect
	}
	return &callPlan{settings: s, desc: desc, baseURL: baseURL, model: model, callType: callType}, nil
}

// Call sends the messages to the configured provider and returns the
// normalized response. Transient failures are retried with backoff, and a
// truncated response triggers one escalated-budget retry per remaining
// attempt when auto-retry is enabled. Failure retries and truncation retries
// consume the same budget.
func (e *Engine) Call(ctx context.Context, messages []Message, opts CallOptions) (*normalize.NormalizedResponse, error) {
	p, err := e.plan(opts, true)
	if err != nil {
		return nil, err
	}
	s := p.settings

	maxTokens := opts.MaxTokens
	if maxTokens <= 0 {
		maxTokens = s.MaxTokens
	}
	temperature := s.Temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}

	requestID := uuid.NewString()
	logger := log.WithFields(log.Fields{
		"request_id": requestID,
		"provider":   s.Provider,
		"model":      p.model,
	})

	budget := s.RetryCount
	attempt := 0
	start := time.Now()
	var last *normalize.NormalizedResponse

	for {
		attempt++
		resp, err := e.doCall(ctx, p, messages, maxTokens, temperature)
		if err != nil {
			if budget > 0 && apperrors.IsRetryable(err) {
				budget--
				if p.callType == apperrors.CallTypeProxied {
					e.resolver.ReportFailure(s.Provider, p.baseURL, s.APIKey)
				}
				delay := backoffDelay(attempt)
				logger.WithField("attempt", attempt).Warnf("call failed, retrying in %s: %v", delay, err)
				e.noteRetry(s.Provider, "failure")
				if serr := e.sleep(ctx, delay); serr != nil {
					e.finish(ctx, requestID, p, nil, attempt, start, "canceled")
					return nil, serr
				}
				continue
			}
			logger.WithField("attempt", attempt).Errorf("call failed: %v", err)
			e.finish(ctx, requestID, p, nil, attempt, start, "error")
			return nil, err
		}

		last = resp
		if resp.Truncated && s.AutoRetryTruncated && budget > 0 && maxTokens < s.TruncationRetryMaxTokens {
			budget--
			maxTokens = s.TruncationRetryMaxTokens
			logger.WithFields(log.Fields{
				"attempt": attempt,
				"reason":  resp.TruncationReason,
			}).Warnf("response truncated, retrying with max tokens %d", maxTokens)
			e.noteRetry(s.Provider, "truncation")
			// Backoff is for failing providers; a truncated response just
			// needs a bigger budget, so retry right away.
			continue
		}
		break
	}

	outcome := "ok"
	if last.Truncated {
		outcome = "truncated"
	}
	logger.WithFields(log.Fields{
		"attempts": attempt,
		"quality":  last.Quality,
		"outcome":  outcome,
	}).Info("call finished")
	e.finish(ctx, requestID, p, last, attempt, start, outcome)
	return last, nil
}

func (e *Engine) noteRetry(provider, reason string) {
	if e.metrics != nil {
		e.metrics.RetryScheduled(provider, reason)
	}
}

func (e *Engine) finish(ctx context.Context, requestID string, p *callPlan, resp *normalize.NormalizedResponse, attempts int, start time.Time, outcome string) {
	latency := time.Since(start)
	if e.metrics != nil {
		e.metrics.CallFinished(p.settings.Provider, outcome, latency)
	}
	if e.recorder == nil {
		return
	}
	rec := CallRecord{
		RequestID: requestID,
		Provider:  p.settings.Provider,
		Model:     p.model,
		LatencyMS: latency.Milliseconds(),
		Attempts:  attempts,
		Outcome:   outcome,
	}
	if resp != nil && resp.Usage != nil {
		rec.TotalTokens = resp.Usage.TotalTokens
	}
	e.recorder.Record(ctx, rec)
}

// doCall performs one attempt: resolve the request shape, post the request,
// normalize whatever comes back.
func (e *Engine) doCall(ctx context.Context, p *callPlan, messages []Message, maxTokens int, temperature float64) (*normalize.NormalizedResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, generateTimeout)
	defer cancel()

	s := p.settings
	var req *http.Request
	if p.callType == apperrors.CallTypeProxied {
		res, err := e.resolver.Resolve(ctx, s.Provider, p.baseURL, s.APIKey)
		if err != nil {
			return nil, err
		}
		body := buildProxiedBody(res.Shape, messages, p.model, maxTokens, temperature)
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			strings.TrimSuffix(s.BackendURL, "/")+GeneratePath, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
	} else {
		body := buildDirectBody(messages, p.model, maxTokens, temperature)
		var err error
		req, err = http.NewRequestWithContext(ctx, http.MethodPost,
			p.desc.GenerateURL(p.baseURL, p.model), bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		p.desc.AuthStyle.Apply(req, s.APIKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, apperrors.Transport(0, "generate request failed", err)
	}
	defer func() { _ = resp.Body.Close() }()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.Transport(resp.StatusCode, "reading generate response failed", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, httpError(resp.StatusCode, raw)
	}
	return normalize.Normalize(raw, p.model, string(p.callType), maxTokens)
}

func httpError(status int, body []byte) *apperrors.AppError {
	msg := strings.TrimSpace(string(body))
	if len(msg) > 300 {
		msg = msg[:300]
	}
	if msg == "" {
		msg = http.StatusText(status)
	}
	e := apperrors.Provider(msg)
	e.HTTPStatusCode = status
	return e
}

// buildProxiedBody merges the shape envelope with the generation fields the
// backend proxy expects.
func buildProxiedBody(shape probe.RequestShape, messages []Message, model string, maxTokens int, temperature float64) []byte {
	body := shape.Envelope
	if len(body) == 0 {
		body = []byte(`{}`)
	}
	body, _ = sjson.SetBytes(body, "messages", messages)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "max_tokens", maxTokens)
	body, _ = sjson.SetBytes(body, "temperature", temperature)
	body, _ = sjson.SetBytes(body, "stream", false)
	return body
}

func buildDirectBody(messages []Message, model string, maxTokens int, temperature float64) []byte {
	body := []byte(`{}`)
	body, _ = sjson.SetBytes(body, "model", model)
	body, _ = sjson.SetBytes(body, "messages", messages)
	body, _ = sjson.SetBytes(body, "max_tokens", maxTokens)
	body, _ = sjson.SetBytes(body, "temperature", temperature)
	body, _ = sjson.SetBytes(body, "stream", false)
	return body
}
