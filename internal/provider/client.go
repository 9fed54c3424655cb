// Package provider sends network statistics to an AI provider for analysis.
//
// Providers differ only in data (see Config). Client adds the uniform
// policy on top: cache lookup, endpoint fallback with linear-backoff
// retries, per-attempt timeouts and a typed error taxonomy.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rcliao/netpulse/internal/cache"
	"github.com/rcliao/netpulse/internal/logging"
	"github.com/rcliao/netpulse/internal/metrics"
	"github.com/rcliao/netpulse/internal/model"
	"github.com/rcliao/netpulse/internal/sse"
	"github.com/rcliao/netpulse/internal/stats"
)

const (
	MaxRetries            = 2
	DefaultRetryDelay     = time.Second
	DefaultAttemptTimeout = 30 * time.Second
	DefaultReplayDelay    = 20 * time.Millisecond
	DefaultMaxTokens      = 2048

	maxResponseBytes = 4 << 20
)

var errAttemptTimeout = errors.New("attempt timeout")

// Request is one analysis call.
type Request struct {
	Provider ID
	// Model is a logical or concrete model name; empty selects the default.
	Model  string
	APIKey string
	// Language is en or zh; empty means en.
	Language string
	// Endpoint replaces the provider's default primary endpoint.
	Endpoint  string
	MaxTokens int
	Data      AnalysisData
}

// Client runs analyses. It is safe for concurrent use.
type Client struct {
	http           *http.Client
	cache          *cache.Cache
	configs        map[ID]Config
	retryDelay     time.Duration
	attemptTimeout time.Duration
	replayDelay    time.Duration
	sleep          func(ctx context.Context, d time.Duration) error
	decoder        sse.Decoder
	logger         *zap.Logger
	metrics        *metrics.Metrics
}

// Option configures a Client.
type Option func(*Client)

func WithHTTPClient(h *http.Client) Option { return func(c *Client) { c.http = h } }

// WithCache enables result caching. Without it every call hits the network.
func WithCache(rc *cache.Cache) Option { return func(c *Client) { c.cache = rc } }

// WithConfigs replaces the provider table, typically to point endpoints
// at a test server.
func WithConfigs(m map[ID]Config) Option { return func(c *Client) { c.configs = m } }

func WithRetryDelay(d time.Duration) Option { return func(c *Client) { c.retryDelay = d } }

func WithAttemptTimeout(d time.Duration) Option { return func(c *Client) { c.attemptTimeout = d } }

func WithReplayDelay(d time.Duration) Option { return func(c *Client) { c.replayDelay = d } }

// WithSleep replaces the backoff and replay pacing sleep.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) { c.sleep = fn }
}

// WithStreamTimeouts sets the overall and stall budgets for streaming.
func WithStreamTimeouts(overall, stall time.Duration) Option {
	return func(c *Client) {
		c.decoder.OverallTimeout = overall
		c.decoder.StallTimeout = stall
	}
}

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithMetrics(m *metrics.Metrics) Option { return func(c *Client) { c.metrics = m } }

// NewClient returns a Client using the built-in provider table.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:           &http.Client{},
		configs:        registry,
		retryDelay:     DefaultRetryDelay,
		attemptTimeout: DefaultAttemptTimeout,
		replayDelay:    DefaultReplayDelay,
		sleep:          sleepCtx,
	}
	for _, o := range opts {
		o(c)
	}
	c.logger = logging.OrNop(c.logger)
	c.decoder.Logger = c.logger
	return c
}

// call is a validated request.
type call struct {
	id         ID
	cfg        Config
	model      string
	lang       Language
	apiKey     string
	endpoint   string
	system     string
	user       string
	maxTokens  int
	// cacheInput is what the cache fingerprints: the statistics, plus the
	// focus text when one is set. Nil bypasses the cache.
	cacheInput any
}

func (c *Client) prepare(req Request) (*call, error) {
	cfg, ok := c.configs[req.Provider]
	if !ok {
		return nil, &ConfigurationError{Field: "provider", Value: string(req.Provider), Reason: "unsupported provider"}
	}
	lang, err := ParseLanguage(req.Language)
	if err != nil {
		return nil, err
	}
	system, user, err := BuildPrompt(req.Data, lang)
	if err != nil {
		return nil, err
	}

	cl := &call{
		id:        req.Provider,
		cfg:       cfg,
		model:     cfg.ResolveModel(req.Model),
		lang:      lang,
		apiKey:    req.APIKey,
		endpoint:  strings.TrimSpace(req.Endpoint),
		system:    system,
		user:      user,
		maxTokens: req.MaxTokens,
	}
	if cl.endpoint == "" {
		cl.endpoint = cfg.DefaultEndpoint
	}
	if cl.maxTokens <= 0 {
		cl.maxTokens = DefaultMaxTokens
	}
	if !req.Data.Statistics.Empty() {
		cl.cacheInput = req.Data.Statistics
		if focus := strings.TrimSpace(req.Data.Focus); focus != "" {
			cl.cacheInput = focusedInput{Statistics: req.Data.Statistics, Focus: focus}
		}
	}
	return cl, nil
}

// focusedInput keys a focused analysis apart from the plain one for the
// same traffic.
type focusedInput struct {
	Statistics stats.Statistics `json:"statistics"`
	Focus      string           `json:"focus"`
}

func (cl *call) body(stream bool) ([]byte, error) {
	b, err := json.Marshal(cl.cfg.BuildBody(BodyParams{
		Model:     cl.model,
		System:    cl.system,
		User:      cl.user,
		MaxTokens: cl.maxTokens,
		Stream:    stream,
	}))
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", cl.cfg.Name, err)
	}
	return b, nil
}

// endpoints lists the primary endpoint followed by the alternates.
func (cl *call) endpoints() []string {
	out := []string{cl.endpoint}
	for _, ep := range cl.cfg.AlternateEndpoints {
		if ep != cl.endpoint {
			out = append(out, ep)
		}
	}
	return out
}

func endpointLabel(i int) string {
	if i == 0 {
		return "primary"
	}
	return fmt.Sprintf("proxy %d", i)
}

func (c *Client) cached(ctx context.Context, cl *call) (*model.AnalysisResult, bool) {
	if c.cache == nil || cl.cacheInput == nil {
		return nil, false
	}
	return c.cache.Get(ctx, string(cl.id), cl.model, cl.cacheInput, string(cl.lang))
}

func (c *Client) remember(ctx context.Context, cl *call, res *model.AnalysisResult) {
	if c.cache == nil || cl.cacheInput == nil {
		return
	}
	c.cache.Put(ctx, string(cl.id), cl.model, cl.cacheInput, string(cl.lang), res)
}

// Send runs a non-streaming analysis. A cached result is returned without
// any network call. Otherwise each endpoint is tried MaxRetries+1 times
// with a RetryDelay*n pause before retry n, then the next endpoint.
func (c *Client) Send(ctx context.Context, req Request) (*model.AnalysisResult, error) {
	start := time.Now()
	cl, err := c.prepare(req)
	if err != nil {
		return nil, err
	}
	if res, ok := c.cached(ctx, cl); ok {
		c.logger.Debug("analysis served from cache", zap.String("provider", cl.cfg.Name), zap.String("model", cl.model))
		return res, nil
	}

	payload, err := cl.body(false)
	if err != nil {
		return nil, err
	}

	var last error
	attempts := 0
	for i, endpoint := range cl.endpoints() {
		label := endpointLabel(i)
		for attempt := 0; attempt <= MaxRetries; attempt++ {
			if attempt > 0 {
				if err := c.sleep(ctx, c.retryDelay*time.Duration(attempt)); err != nil {
					return nil, parentDone(ctx, cl)
				}
			}
			attempts++
			text, err := c.attempt(ctx, cl, endpoint, payload)
			if err == nil {
				c.metrics.ProviderAttempt(string(cl.id), "success")
				res := &model.AnalysisResult{
					Analysis: text,
					Model:    cl.model,
					Provider: fmt.Sprintf("%s (via %s)", cl.cfg.Name, label),
				}
				c.remember(ctx, cl, res)
				c.metrics.ObserveAnalysis(string(cl.id), "send", start)
				return res, nil
			}
			c.metrics.ProviderAttempt(string(cl.id), outcome(err))
			if ctx.Err() != nil {
				return nil, err
			}
			last = err
			c.logger.Warn("provider attempt failed",
				zap.String("provider", cl.cfg.Name),
				zap.String("endpoint", label),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, &ExhaustedError{Provider: cl.cfg.Name, Attempts: attempts, Last: last}
}

func (c *Client) attempt(ctx context.Context, cl *call, endpoint string, payload []byte) (string, error) {
	actx, cancel := context.WithTimeoutCause(ctx, c.attemptTimeout, errAttemptTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(actx, http.MethodPost, cl.cfg.URL(endpoint, cl.model, false), bytes.NewReader(payload))
	if err != nil {
		return "", &ConfigurationError{Field: "endpoint", Value: endpoint, Reason: err.Error()}
	}
	httpReq.Header = cl.cfg.BuildHeaders(cl.apiKey)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", c.classify(ctx, actx, cl, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return "", c.classify(ctx, actx, cl, endpoint, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Provider: cl.cfg.Name, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: apiMessage(raw, resp.Status)}
	}

	text, err := cl.cfg.ExtractText(raw)
	if err != nil {
		return "", &APIError{Provider: cl.cfg.Name, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "unreadable response: " + err.Error()}
	}
	if strings.TrimSpace(text) == "" {
		return "", &APIError{Provider: cl.cfg.Name, Endpoint: endpoint, StatusCode: resp.StatusCode, Message: "response contained no analysis"}
	}
	return text, nil
}

// classify turns a transport error into ErrCanceled, a TimeoutError or a
// NetworkError. The caller's context wins over everything else.
func (c *Client) classify(parent, actx context.Context, cl *call, endpoint string, err error) error {
	if parent.Err() != nil {
		return parentDone(parent, cl)
	}
	if errors.Is(context.Cause(actx), errAttemptTimeout) {
		return &TimeoutError{Provider: cl.cfg.Name, Stage: StageAttempt, After: c.attemptTimeout, Err: err}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &TimeoutError{Provider: cl.cfg.Name, Stage: StageAttempt, After: c.attemptTimeout, Err: err}
	}
	return &NetworkError{Provider: cl.cfg.Name, Endpoint: endpoint, Err: err}
}

// apiMessage extracts a provider error message from error.message,
// a string error field, or message; it falls back to the HTTP status.
func apiMessage(raw []byte, status string) string {
	var body struct {
		Error   json.RawMessage `json:"error"`
		Message string          `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		var nested struct {
			Message string `json:"message"`
		}
		if json.Unmarshal(body.Error, &nested) == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if json.Unmarshal(body.Error, &flat) == nil && flat != "" {
			return flat
		}
		if body.Message != "" {
			return body.Message
		}
	}
	return status
}

// parentDone reports why the caller's context ended: a passed deadline is
// a TimeoutError, anything else is ErrCanceled.
func parentDone(ctx context.Context, cl *call) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return &TimeoutError{Provider: cl.cfg.Name, Stage: StageDeadline, Err: context.DeadlineExceeded}
	}
	return ErrCanceled
}

func outcome(err error) string {
	var (
		api *APIError
		to  *TimeoutError
		ne  *NetworkError
	)
	switch {
	case errors.Is(err, ErrCanceled):
		return "canceled"
	case errors.As(err, &api):
		return "api_error"
	case errors.As(err, &to):
		return "timeout"
	case errors.As(err, &ne):
		return "network_error"
	}
	return "error"
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
