// Package futures extracts history and snapshots from the Kraken Futures
// REST API. It holds the signed, retrying client, the field helpers used to
// normalize records and one extractor per resource.
package futures

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/rs/zerolog"

	httpClient "krakensync/internal/http"
	"krakensync/internal/ratelimit"
	"krakensync/pkg/core"
)

// Getter performs one logical GET and returns the decoded payload.
type Getter interface {
	Get(ctx context.Context, req *core.Request) (core.Record, error)
	Authenticated() bool
}

// Client issues GET requests with retry, backoff and API error handling.
// It is safe for concurrent use when the Signer is shared.
type Client struct {
	http    *httpClient.Client
	signer  *Signer
	limiter *ratelimit.Limiter
	logger  zerolog.Logger

	maxRetries         int
	initialDelay       time.Duration
	backoffFactor      float64
	jitterRatio        float64
	minRequestInterval time.Duration

	sleep  func(ctx context.Context, d time.Duration) error
	jitter func() float64
}

// Option is a functional option for configuring the Client.
type Option func(*Client)

// WithSigner enables private endpoints.
func WithSigner(s *Signer) Option {
	return func(c *Client) {
		c.signer = s
	}
}

// WithLogger returns an option that sets the logger for the client.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) {
		c.logger = l
	}
}

// WithLimiter shares a request budget with other clients.
func WithLimiter(l *ratelimit.Limiter) Option {
	return func(c *Client) {
		c.limiter = l
	}
}

// WithSleep replaces the function used for backoff and throttling pauses.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		c.sleep = fn
	}
}

// WithJitter replaces the source of jitter; fn must return a value in [-1, 1].
func WithJitter(fn func() float64) Option {
	return func(c *Client) {
		c.jitter = fn
	}
}

// NewClient creates a Client for config.BaseURL using the retry schedule in
// config.
func NewClient(config *core.Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	c := &Client{
		logger:             zerolog.Nop(),
		maxRetries:         config.MaxRetries,
		initialDelay:       config.InitialDelay,
		backoffFactor:      config.BackoffFactor,
		jitterRatio:        config.JitterRatio,
		minRequestInterval: config.MinRequestInterval,
		sleep:              sleepContext,
		jitter:             func() float64 { return rand.Float64()*2 - 1 },
	}
	for _, opt := range opts {
		opt(c)
	}

	hc, err := httpClient.NewClient(&httpClient.Config{
		BaseURL:   config.BaseURL,
		Timeout:   config.Timeout,
		UserAgent: "krakensync",
		Headers:   map[string]string{"Accept": "application/json"},
	}, c.logger)
	if err != nil {
		return nil, fmt.Errorf("create http client: %w", err)
	}
	c.http = hc

	return c, nil
}

// Authenticated reports whether the client can sign requests.
func (c *Client) Authenticated() bool {
	return c.signer != nil
}

// Close releases the underlying transport.
func (c *Client) Close() error {
	return c.http.Close()
}

// Get fetches req. A private request without a signer fails before any
// network call. Every attempt of a private request is signed with a fresh
// nonce. Transient failures are retried up to the configured count;
// exhausting them returns a *core.FetchError. A payload reporting a
// permission error yields an empty record and a warning.
func (c *Client) Get(ctx context.Context, req *core.Request) (core.Record, error) {
	path := req.Path
	query := req.QueryString()
	target := path
	if query != "" {
		target = path + "?" + query
	}

	if req.Private && c.signer == nil {
		return nil, core.NewConfigError("private endpoint "+path+" requires credentials", core.ErrNoCredentials).
			WithCode(core.ErrCodeNoCredentials)
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx, path); err != nil {
				return nil, fmt.Errorf("rate limit: %w", err)
			}
		}

		var headers map[string]string
		if req.Private {
			headers = c.signer.Sign(path, query)
		}

		attempts++
		payload, err := c.attempt(ctx, path, target, headers)
		if err == nil {
			if attempt > 0 {
				c.logger.Info().
					Str("path", path).
					Int("attempt", attempt).
					Msg("recovered after retry")
			}
			if c.minRequestInterval > 0 {
				if err := c.sleep(ctx, c.minRequestInterval); err != nil {
					return nil, err
				}
			}
			return payload, nil
		}

		if !core.IsRetryable(err) {
			if core.IsErrorCode(err, core.ErrCodePermission) {
				c.logger.Warn().
					Str("path", path).
					Str("code", string(core.ErrCodePermission)).
					Err(err).
					Msgf("permission denied for %s; returning empty result", path)
				return core.Record{}, nil
			}
			return nil, err
		}

		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt >= c.maxRetries {
			break
		}

		delay := c.computeDelay(attempt)
		c.logger.Warn().
			Str("path", path).
			Err(err).
			Int("attempt", attempt+1).
			Int("max_retries", c.maxRetries).
			Dur("delay", delay).
			Msg("retrying request")
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
	}

	return nil, &core.FetchError{Path: path, Attempts: attempts, Err: lastErr}
}

func (c *Client) attempt(ctx context.Context, path, target string, headers map[string]string) (core.Record, error) {
	resp, err := c.http.Get(ctx, target, headers)
	if err != nil {
		return nil, core.NewExchangeError(core.ErrorTypeNetwork, 0, path, "request failed").
			WithCode(core.ErrCodeNetwork).
			WithCause(err)
	}

	switch {
	case resp.StatusCode == 429:
		return nil, core.NewExchangeError(core.ErrorTypeRateLimit, resp.StatusCode, path, "too many requests").
			WithCode(core.ErrCodeRateLimit)
	case resp.StatusCode >= 500:
		return nil, core.NewExchangeError(core.ErrorTypeServerError, resp.StatusCode, path, "server error").
			WithCode(core.ErrCodeServerError)
	case !resp.IsSuccess():
		return nil, core.NewExchangeError(core.ErrorTypeBadRequest, resp.StatusCode, path, truncate(string(resp.Body), 256)).
			WithCode(core.ErrCodeBadRequest)
	}

	if len(strings.TrimSpace(string(resp.Body))) == 0 {
		return nil, core.NewExchangeError(core.ErrorTypeMalformedPayload, resp.StatusCode, path, "empty response payload").
			WithCode(core.ErrCodeEmptyPayload)
	}

	var payload core.Record
	if err := resp.Decode(&payload); err != nil {
		return nil, core.NewExchangeError(core.ErrorTypeMalformedPayload, resp.StatusCode, path, "decode response").
			WithCode(core.ErrCodeMalformedPayload).
			WithCause(err)
	}
	if payload == nil {
		return nil, core.NewExchangeError(core.ErrorTypeMalformedPayload, resp.StatusCode, path, "empty response payload").
			WithCode(core.ErrCodeEmptyPayload)
	}

	if err := checkPayload(path, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// checkPayload reports an error when a 200 body carries an error marker:
// result == "error" (any case) or success == false.
func checkPayload(path string, payload core.Record) error {
	if result, ok := payload["result"].(string); ok && strings.EqualFold(result, "error") {
		detail := payload["error"]
		if detail == nil || detail == "" {
			detail = map[string]any(payload)
		}
		return apiError(path, detail)
	}
	if success, ok := payload["success"].(bool); ok && !success {
		return apiError(path, map[string]any(payload))
	}
	return nil
}

func apiError(path string, detail any) error {
	msg, ok := detail.(string)
	if !ok {
		encoded, err := CanonicalJSON(detail)
		if err != nil {
			encoded = fmt.Sprintf("%v", detail)
		}
		msg = encoded
	}
	code := core.ErrCodeAPIError
	if strings.Contains(strings.ToLower(msg), "permission") {
		code = core.ErrCodePermission
	}
	return core.NewExchangeError(core.ErrorTypeAPI, 200, path, "api error: "+msg).
		WithCode(code)
}

func (c *Client) computeDelay(attempt int) time.Duration {
	base := float64(c.initialDelay) * math.Pow(c.backoffFactor, float64(attempt))
	jitter := base * c.jitterRatio * c.jitter()
	return time.Duration(math.Max(0, base+jitter))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
