// Package genai is the rate-limited gateway to the generative model.
//
// It throttles, serializes, retries, and caches OpenAI calls so the rest of
// the system can treat "ask the AI" as a cheap, safe primitive: at most
// MaxConcurrent calls in flight, a global minimum spacing between call
// starts, exponential backoff on rate limits, and a TTL result cache for
// repeated prompts.
package genai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"golang.org/x/time/rate"

	"github.com/herbalis/salesbot/internal/models"
)

// Default throttle parameters.
const (
	DefaultMaxConcurrent = 3
	DefaultMinDelay      = 200 * time.Millisecond
	DefaultMaxRetries    = 5
	DefaultTimeout       = 60 * time.Second
	DefaultCacheTTL      = 5 * time.Minute
)

// chatService is the minimal chat-completion surface, satisfied by
// openai.Client.Chat.Completions and by test mocks.
type chatService interface {
	New(ctx context.Context, body openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

// audioService is the minimal transcription surface.
type audioService interface {
	New(ctx context.Context, body openai.AudioTranscriptionNewParams, opts ...option.RequestOption) (*openai.Transcription, error)
}

// The SDK services have pointer-receiver methods.
var (
	_ chatService  = (*openai.ChatCompletionService)(nil)
	_ audioService = (*openai.AudioTranscriptionService)(nil)
)

// Stats is a snapshot of the gateway's running counters.
type Stats struct {
	Calls   int64 `json:"calls"`
	Cached  int64 `json:"cached"`
	Retries int64 `json:"retries"`
	Errors  int64 `json:"errors"`
}

// Client is the rate-limited model gateway.
type Client struct {
	chat  chatService
	audio audioService
	model shared.ChatModel

	sem        chan struct{}
	limiter    *rate.Limiter
	maxRetries int
	timeout    time.Duration
	cache      *resultCache
	logger     *slog.Logger
	metrics    *Metrics

	// sleep is swappable in tests so backoff does not slow the suite.
	sleep func(ctx context.Context, d time.Duration) error

	calls   atomic.Int64
	cached  atomic.Int64
	retries atomic.Int64
	errs    atomic.Int64
}

// Opts holds configuration collected from functional options.
type Opts struct {
	APIKey        string
	Model         string
	MaxConcurrent int
	MinDelay      time.Duration
	MaxRetries    int
	Timeout       time.Duration
	CacheTTL      time.Duration
	Logger        *slog.Logger
	Metrics       *Metrics
}

// Option configures the gateway client.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option { return func(o *Opts) { o.APIKey = key } }

// WithModel sets the chat model (defaults to gpt-4o-mini).
func WithModel(model string) Option { return func(o *Opts) { o.Model = model } }

// WithMaxConcurrent bounds in-flight external calls.
func WithMaxConcurrent(n int) Option { return func(o *Opts) { o.MaxConcurrent = n } }

// WithMinDelay sets the global minimum spacing between call starts.
func WithMinDelay(d time.Duration) Option { return func(o *Opts) { o.MinDelay = d } }

// WithMaxRetries sets the rate-limit retry budget.
func WithMaxRetries(n int) Option { return func(o *Opts) { o.MaxRetries = n } }

// WithTimeout bounds a single external call.
func WithTimeout(d time.Duration) Option { return func(o *Opts) { o.Timeout = d } }

// WithCacheTTL sets the result-cache entry lifetime.
func WithCacheTTL(d time.Duration) Option { return func(o *Opts) { o.CacheTTL = d } }

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option { return func(o *Opts) { o.Logger = l } }

// WithMetrics attaches Prometheus instrumentation.
func WithMetrics(m *Metrics) Option { return func(o *Opts) { o.Metrics = m } }

// NewClient creates a gateway client. An API key is required.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:         string(openai.ChatModelGPT4oMini),
		MaxConcurrent: DefaultMaxConcurrent,
		MinDelay:      DefaultMinDelay,
		MaxRetries:    DefaultMaxRetries,
		Timeout:       DefaultTimeout,
		CacheTTL:      DefaultCacheTTL,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("genai.NewClient: API key is required")
	}
	api := openai.NewClient(option.WithAPIKey(cfg.APIKey))
	c := newClientWith(&api.Chat.Completions, &api.Audio.Transcriptions, cfg)
	return c, nil
}

// newClientWith wires a client around explicit services; used directly by tests.
func newClientWith(chat chatService, audio audioService, cfg Opts) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultCacheTTL
	}
	limit := rate.Inf
	if cfg.MinDelay > 0 {
		limit = rate.Every(cfg.MinDelay)
	}
	return &Client{
		chat:       chat,
		audio:      audio,
		model:      shared.ChatModel(cfg.Model),
		sem:        make(chan struct{}, cfg.MaxConcurrent),
		limiter:    rate.NewLimiter(limit, 1),
		maxRetries: cfg.MaxRetries,
		timeout:    cfg.Timeout,
		cache:      newResultCache(cfg.CacheTTL),
		logger:     cfg.Logger,
		metrics:    cfg.Metrics,
		sleep: func(ctx context.Context, d time.Duration) error {
			t := time.NewTimer(d)
			defer t.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-t.C:
				return nil
			}
		},
	}
}

// Stats returns a snapshot of the running counters.
func (c *Client) Stats() Stats {
	return Stats{
		Calls:   c.calls.Load(),
		Cached:  c.cached.Load(),
		Retries: c.retries.Load(),
		Errors:  c.errs.Load(),
	}
}

// Close releases background resources (the cache janitor).
func (c *Client) Close() {
	c.cache.stop()
}

// invoke runs fn under the gateway's throttle and retry policy. cacheKey
// may be empty to bypass the cache.
func (c *Client) invoke(ctx context.Context, cacheKey string, fn func(ctx context.Context) (string, error)) (string, error) {
	if cacheKey != "" {
		if v, ok := c.cache.get(cacheKey); ok {
			c.cached.Add(1)
			if c.metrics != nil {
				c.metrics.CacheHits.Inc()
			}
			return v, nil
		}
	}

	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	defer func() { <-c.sem }()

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
		c.calls.Add(1)
		if c.metrics != nil {
			c.metrics.Calls.Inc()
		}

		callCtx, cancel := context.WithTimeout(ctx, c.timeout)
		result, err := fn(callCtx)
		cancel()
		if err == nil {
			if cacheKey != "" {
				c.cache.put(cacheKey, result)
			}
			return result, nil
		}

		if !isRateLimit(err) {
			c.errs.Add(1)
			if c.metrics != nil {
				c.metrics.Errors.Inc()
			}
			return "", err
		}

		lastErr = err
		if attempt == c.maxRetries {
			break
		}
		// 2^(attempt+1) seconds plus jitter, mirroring the external
		// model's documented retry guidance.
		backoff := time.Duration(1<<uint(attempt+1))*time.Second +
			time.Duration(rand.Int64N(int64(time.Second)))
		c.retries.Add(1)
		if c.metrics != nil {
			c.metrics.Retries.Inc()
		}
		c.logger.Warn("Client.invoke: rate limited, backing off",
			"attempt", attempt+1, "max_retries", c.maxRetries, "backoff", backoff)
		if err := c.sleep(ctx, backoff); err != nil {
			return "", err
		}
	}

	c.errs.Add(1)
	if c.metrics != nil {
		c.metrics.Errors.Inc()
	}
	return "", fmt.Errorf("%w: %v", models.ErrServiceUnavailable, lastErr)
}

// isRateLimit reports whether err is the external model's 429 signal.
func isRateLimit(err error) bool {
	if errors.Is(err, models.ErrRateLimited) {
		return true
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429
	}
	return false
}

// completion runs one chat completion and returns the first choice's text.
func (c *Client) completion(ctx context.Context, params openai.ChatCompletionNewParams) (string, error) {
	resp, err := c.chat.New(ctx, params)
	if err != nil {
		return "", err
	}
	if len(resp.Choices) == 0 {
		return "", models.ErrNoChoicesReturned
	}
	return resp.Choices[0].Message.Content, nil
}
