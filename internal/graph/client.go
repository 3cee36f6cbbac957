// Package graph is a minimal Microsoft Graph client covering the mailbox,
// profile, and workbook endpoints recoverybot needs.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/wesm/recoverybot/internal/apperr"
)

const (
	DefaultBaseURL = "https://graph.microsoft.com/v1.0"
	defaultTimeout = 30 * time.Second
	maxErrorBody   = 512
)

// Client calls Graph on behalf of whichever mailbox owns the access token
// passed to each call. It never retries; callers decide.
type Client struct {
	httpClient *http.Client
	baseURL    string
	limiter    *rate.Limiter
	logger     *zap.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the logger for the client.
func WithLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithBaseURL points the client at another Graph root (tests, national clouds).
func WithBaseURL(base string) ClientOption {
	return func(c *Client) { c.baseURL = strings.TrimRight(base, "/") }
}

// WithRateLimit paces outgoing requests to qps. Zero or negative disables pacing.
func WithRateLimit(qps float64) ClientOption {
	return func(c *Client) {
		if qps <= 0 {
			c.limiter = nil
			return
		}
		burst := int(qps)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(qps), burst)
	}
}

// NewClient creates a Graph client.
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: &http.Client{Timeout: defaultTimeout},
		baseURL:    DefaultBaseURL,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StatusError is a non-2xx Graph response.
type StatusError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *StatusError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("graph returned %d (%s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("graph returned %d: %s", e.StatusCode, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func newStatusError(status int, body []byte) *StatusError {
	se := &StatusError{StatusCode: status}
	var env errorEnvelope
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Code != "" {
		se.Code = env.Error.Code
		se.Message = env.Error.Message
		return se
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	se.Message = msg
	return se
}

type request struct {
	method  string
	path    string
	query   url.Values
	body    any
	headers map[string]string
}

// do performs one authenticated request and decodes a JSON response into out
// (skipped when out is nil). Failures are transport errors.
func (c *Client) do(ctx context.Context, accessToken string, r request, out any) error {
	if accessToken == "" {
		return apperr.New(apperr.KindValidation, "access token is required")
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return apperr.Wrap(apperr.KindTransport, err, "rate limit wait")
		}
	}

	reqURL := c.baseURL + r.path
	if len(r.query) > 0 {
		reqURL += "?" + r.query.Encode()
	}

	var body io.Reader
	if r.body != nil {
		buf, err := json.Marshal(r.body)
		if err != nil {
			return apperr.Wrap(apperr.KindInternal, err, "encode request body")
		}
		body = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, r.method, reqURL, body)
	if err != nil {
		return apperr.Wrap(apperr.KindInternal, err, "create request")
	}
	req.Header.Set("Authorization", "Bearer "+accessToken)
	req.Header.Set("Accept", "application/json")
	if r.body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range r.headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, err, "%s %s", r.method, r.path)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Wrap(apperr.KindTransport, err, "read %s response", r.path)
	}
	c.logger.Debug("graph request",
		zap.String("method", r.method),
		zap.String("path", r.path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperr.Wrap(apperr.KindTransport, newStatusError(resp.StatusCode, respBody), "%s %s", r.method, r.path)
	}
	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return apperr.Wrap(apperr.KindTransport, err, "decode %s response", r.path)
	}
	return nil
}
