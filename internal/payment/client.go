package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-faster/errors"
)

const (
	defaultTimeout = 30 * time.Second
	maxRetries     = 3
	retryInterval  = 500 * time.Millisecond
)

// StatusError is a non-2xx provider API response.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("provider returned %d: %s", e.Code, e.Body)
}

// Client is the shared outbound HTTP client for provider APIs: bounded
// timeout, up to 3 retries with a fixed short backoff. 4xx responses are
// not retried; they are the provider's final answer.
//
// Calls through this client must happen outside any database transaction.
type Client struct {
	http *http.Client
}

// NewClient creates a provider API client. A zero timeout uses the default.
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{http: &http.Client{Timeout: timeout}}
}

// PostJSON sends body as JSON and decodes the response into out.
func (c *Client) PostJSON(ctx context.Context, endpoint string, headers http.Header, body, out any) error {
	encoded, err := json.Marshal(body)
	if err != nil {
		return errors.Wrap(err, "encode request")
	}
	return c.do(ctx, http.MethodPost, endpoint, headers, encoded, "application/json", out)
}

// PostForm sends form-encoded values and decodes the JSON response into out.
func (c *Client) PostForm(ctx context.Context, endpoint string, headers http.Header, form url.Values, out any) error {
	return c.do(ctx, http.MethodPost, endpoint, headers,
		[]byte(form.Encode()), "application/x-www-form-urlencoded", out)
}

// GetJSON fetches endpoint and decodes the JSON response into out.
func (c *Client) GetJSON(ctx context.Context, endpoint string, headers http.Header, out any) error {
	return c.do(ctx, http.MethodGet, endpoint, headers, nil, "", out)
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers http.Header, body []byte, contentType string, out any) error {
	attempt := func() error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
		if err != nil {
			return backoff.Permanent(errors.Wrap(err, "build request"))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		for k, vs := range headers {
			req.Header[k] = vs
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return errors.Wrap(err, "provider request")
		}
		defer resp.Body.Close()

		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
			statusErr := &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
			if resp.StatusCode >= 500 {
				return statusErr
			}
			return backoff.Permanent(statusErr)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return backoff.Permanent(errors.Wrap(err, "decode response"))
		}
		return nil
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(retryInterval), maxRetries),
		ctx,
	)
	return backoff.Retry(attempt, policy)
}

// TokenSource caches a provider bearer token until it expires. Invalidate
// drops the cached credential so the next call fetches a fresh one; callers
// invalidate on auth failure before retrying.
type TokenSource struct {
	mu      sync.Mutex
	token   string
	expires time.Time
	fetch   func(ctx context.Context) (token string, expires time.Time, err error)
	now     func() time.Time
}

// NewTokenSource creates a TokenSource around the given fetch function.
func NewTokenSource(fetch func(ctx context.Context) (string, time.Time, error)) *TokenSource {
	return &TokenSource{fetch: fetch, now: time.Now}
}

// Token returns the cached token, fetching a new one when absent or within
// a minute of expiry.
func (t *TokenSource) Token(ctx context.Context) (string, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.token != "" && t.now().Add(time.Minute).Before(t.expires) {
		return t.token, nil
	}

	token, expires, err := t.fetch(ctx)
	if err != nil {
		return "", errors.Wrap(err, "fetch provider token")
	}
	t.token = token
	t.expires = expires
	return token, nil
}

// Invalidate discards the cached token.
func (t *TokenSource) Invalidate() {
	t.mu.Lock()
	t.token = ""
	t.expires = time.Time{}
	t.mu.Unlock()
}

// bearer builds an Authorization header.
func bearer(token string) http.Header {
	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	return h
}
