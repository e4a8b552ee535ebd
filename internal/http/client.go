// Package http is the raw transport used by the futures client: one GET
// with caller-supplied headers, no retries, no payload interpretation.
package http

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"resty.dev/v3"
)

// jsonAPI decodes numbers as json.Number so large integers and decimals
// survive untouched until they are persisted.
var jsonAPI = sonic.Config{UseNumber: true}.Froze()

type Client struct {
	client *resty.Client
	logger zerolog.Logger
	mu     sync.RWMutex
	closed bool
}

type Config struct {
	BaseURL   string            `validate:"required,url"`
	Timeout   time.Duration     `validate:"min=1ms"`
	UserAgent string            `validate:"omitempty"`
	Headers   map[string]string `validate:"omitempty"`
}

// Response is the status and body of one HTTP exchange.
type Response struct {
	StatusCode int
	Body       []byte
	Headers    map[string]string
}

func NewClient(config *Config, logger zerolog.Logger) (*Client, error) {
	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	client := resty.New()
	client.SetBaseURL(config.BaseURL)
	client.SetTimeout(config.Timeout)
	// Retries are driven by the caller so the backoff schedule stays explicit.
	client.SetRetryCount(0)
	if config.UserAgent != "" {
		client.SetHeader("User-Agent", config.UserAgent)
	}
	for k, v := range config.Headers {
		client.SetHeader(k, v)
	}

	client.AddRequestMiddleware(func(_ *resty.Client, req *resty.Request) error {
		logger.Debug().
			Str("method", req.Method).
			Str("url", req.URL).
			Msg("http request")
		return nil
	})

	client.AddResponseMiddleware(func(_ *resty.Client, resp *resty.Response) error {
		logger.Debug().
			Str("method", resp.Request.Method).
			Str("url", resp.Request.URL).
			Int("status", resp.StatusCode()).
			Int("size", len(resp.Bytes())).
			Msg("http response")
		return nil
	})

	return &Client{
		client: client,
		logger: logger,
	}, nil
}

func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	return c.client.Close()
}

// Get issues a GET for target, a path relative to the base URL that may
// carry an already-encoded query string. The query is sent verbatim.
func (c *Client) Get(ctx context.Context, target string, headers map[string]string) (*Response, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return nil, fmt.Errorf("client is closed")
	}

	req := c.client.R().SetContext(ctx)
	if len(headers) > 0 {
		req.SetHeaders(headers)
	}

	resp, err := req.Get(target)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}

	respHeaders := make(map[string]string, len(resp.Header()))
	for k, v := range resp.Header() {
		if len(v) > 0 {
			respHeaders[k] = v[0]
		}
	}

	return &Response{
		StatusCode: resp.StatusCode(),
		Body:       resp.Bytes(),
		Headers:    respHeaders,
	}, nil
}

// IsSuccess returns true if the response status code indicates success (2xx).
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Decode parses the body into v, keeping numbers as json.Number.
func (r *Response) Decode(v any) error {
	return jsonAPI.Unmarshal(r.Body, v)
}
