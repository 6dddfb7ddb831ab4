package syncer

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/luckyPipewrench/nodewarden/internal/audit"
	"github.com/luckyPipewrench/nodewarden/internal/emit"
	"github.com/luckyPipewrench/nodewarden/internal/metrics"
	"github.com/luckyPipewrench/nodewarden/internal/remoteconfig"
)

const maxResponseBytes = 1 << 20

// Response is what the API returns on every exchange: the next remote
// configuration tree, plus an optional rotated token.
type Response struct {
	Remote remoteconfig.Remote
	Token  string
}

// Client ships payloads to the collection API and fetches configuration.
// The token is read through a function on every attempt so that a rotation
// applied mid-retry takes effect immediately.
type Client struct {
	baseURL string
	http    *http.Client
	token   func() string
	log     *audit.Logger
	metrics *metrics.Metrics
	emitter *emit.Emitter
}

// NewClient creates a Client for the given API base URL. tokenFn must return
// the current bearer token. emitter may be nil.
func NewClient(baseURL string, httpClient *http.Client, tokenFn func() string,
	log *audit.Logger, m *metrics.Metrics, emitter *emit.Emitter) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if log == nil {
		log = audit.NewNop()
	}
	return &Client{
		baseURL: baseURL,
		http:    httpClient,
		token:   tokenFn,
		log:     log,
		metrics: m,
		emitter: emitter,
	}
}

// Ship POSTs one payload to /collect with gzip-compressed JSON, retrying per
// the validated request options. The API's response carries the next config.
func (c *Client) Ship(ctx context.Context, p Payload, opts remoteconfig.RequestOptions) (*Response, error) {
	body, err := gzipJSON(p)
	if err != nil {
		return nil, fmt.Errorf("syncer: encode payload: %w", err)
	}
	return c.exchange(ctx, http.MethodPost, "/collect", body, opts)
}

// FetchConfig retrieves the current configuration without shipping metrics.
// Used once at startup before the first cycle.
func (c *Client) FetchConfig(ctx context.Context, opts remoteconfig.RequestOptions) (*Response, error) {
	return c.exchange(ctx, http.MethodGet, "/get_config", nil, opts)
}

// exchange performs one API call with bounded retries. Each attempt gets its
// own timeout and a freshly captured token.
func (c *Client) exchange(ctx context.Context, method, path string, body []byte, opts remoteconfig.RequestOptions) (*Response, error) {
	attemptTimeout := time.Duration(opts.Timeout) * time.Second

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = time.Duration(opts.RetryInterval) * time.Second
	policy.RandomizationFactor = 0.2

	attempt := 0
	var lastErr error
	var resp *Response
	operation := func() error {
		if attempt > 0 {
			c.log.LogSyncRetry(attempt, policy.InitialInterval, lastErr)
			if c.metrics != nil {
				c.metrics.RecordSyncRetry()
			}
		}
		attempt++

		attemptCtx, cancel := context.WithTimeout(ctx, attemptTimeout)
		defer cancel()

		r, err := c.attempt(attemptCtx, method, path, body)
		if err != nil {
			lastErr = err
			return err
		}
		resp = r
		return nil
	}

	err := backoff.Retry(operation,
		backoff.WithContext(backoff.WithMaxRetries(policy, uint64(opts.Retry)), ctx))
	if err != nil {
		c.log.LogSyncError(c.baseURL+path, err)
		if c.metrics != nil {
			c.metrics.RecordSync(false)
		}
		c.emitter.Emit(ctx, "sync_error", map[string]any{
			"url":   c.baseURL + path,
			"error": err.Error(),
		})
		return nil, err
	}
	if c.metrics != nil {
		c.metrics.RecordSync(true)
	}
	return resp, nil
}

func (c *Client) attempt(ctx context.Context, method, path string, body []byte) (*Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, backoff.Permanent(err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token())
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Content-Encoding", "gzip")
	}

	httpResp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	switch {
	case httpResp.StatusCode == http.StatusOK:
	case httpResp.StatusCode == http.StatusUnauthorized || httpResp.StatusCode == http.StatusForbidden:
		// Retrying with the same credentials cannot help.
		return nil, backoff.Permanent(fmt.Errorf("syncer: API rejected credentials (HTTP %d)", httpResp.StatusCode))
	case httpResp.StatusCode >= 500:
		return nil, fmt.Errorf("syncer: API returned HTTP %d", httpResp.StatusCode)
	default:
		return nil, backoff.Permanent(fmt.Errorf("syncer: API returned HTTP %d", httpResp.StatusCode))
	}

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
	if err != nil {
		return nil, err
	}

	// The response is an envelope: the next configuration tree under
	// "config", with an optional rotation token as its sibling. A malformed
	// body is a recoverable failure, retried like any transport error.
	var envelope struct {
		Config remoteconfig.Remote `json:"config"`
		Token  string              `json:"token"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("syncer: parse API response: %w", err)
	}
	return &Response{Remote: envelope.Config, Token: envelope.Token}, nil
}

func gzipJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(v); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
