// Package api implements the HTTP client for the remote grading service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds each request when no override is configured.
const DefaultTimeout = 15 * time.Second

// Client executes requests against one grading-service base URL. The base URL
// is fixed at construction; nothing is read from the environment at call time.
type Client struct {
	baseURL string
	timeout time.Duration
	httpc   *http.Client
	log     zerolog.Logger
}

// New builds a client for the given base URL. A non-positive timeout falls
// back to DefaultTimeout.
func New(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		timeout: timeout,
		httpc:   &http.Client{},
		log:     log,
	}
}

// BaseURL returns the configured base URL.
func (c *Client) BaseURL() string { return c.baseURL }

// do executes one request and decodes the response by content type:
// application/json bodies are decoded into a generic value, everything else is
// returned as raw text. contentType is empty for multipart bodies so the
// caller-prepared header (with its boundary) is preserved.
func (c *Client) do(ctx context.Context, method, path, contentType string, body io.Reader, header http.Header) (any, error) {
	url := c.baseURL + path
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := body
	if reqBody == nil {
		reqBody = http.NoBody
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	req.Header.Set("Accept", "application/json")
	for key, values := range header {
		for _, v := range values {
			req.Header.Set(key, v)
		}
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	started := time.Now()
	resp, err := c.httpc.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			c.log.Warn().Str("url", url).Dur("after", time.Since(started)).Msg("request timed out")
			return nil, &TransportError{URL: url, Timeout: true, Err: err}
		}
		c.log.Warn().Str("url", url).Err(err).Msg("request failed")
		return nil, &TransportError{URL: url, Err: err}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		text, _ := io.ReadAll(io.LimitReader(resp.Body, bodyExcerptLimit+1))
		statusErr := &StatusError{
			URL:    url,
			Code:   resp.StatusCode,
			Status: http.StatusText(resp.StatusCode),
			Body:   excerpt(strings.TrimSpace(string(text))),
		}
		c.log.Warn().Str("url", url).Int("status", resp.StatusCode).Msg("request rejected")
		return nil, statusErr
	}

	ct := resp.Header.Get("Content-Type")
	if strings.Contains(ct, "application/json") {
		var payload any
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return nil, &MalformedError{URL: url, Reason: "invalid JSON body"}
		}
		c.log.Debug().Str("url", url).Dur("took", time.Since(started)).Msg("request ok")
		return payload, nil
	}
	text, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &TransportError{URL: url, Err: err}
	}
	c.log.Debug().Str("url", url).Dur("took", time.Since(started)).Msg("request ok")
	return string(text), nil
}

// getJSON issues a GET and requires a JSON object response.
func (c *Client) getJSON(ctx context.Context, path string) (map[string]any, error) {
	payload, err := c.do(ctx, http.MethodGet, path, "", nil, nil)
	if err != nil {
		return nil, err
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, &MalformedError{URL: c.baseURL + path, Reason: "expected a JSON object"}
	}
	return obj, nil
}

// postObject issues a POST and requires a JSON object response. contentType is
// empty for multipart bodies.
func (c *Client) postObject(ctx context.Context, path, contentType string, body io.Reader, header http.Header) (map[string]any, error) {
	payload, err := c.do(ctx, http.MethodPost, path, contentType, body, header)
	if err != nil {
		return nil, err
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return nil, &MalformedError{URL: c.baseURL + path, Reason: "expected a JSON object"}
	}
	return obj, nil
}

// requireString extracts a non-empty string field from a stage response.
func requireString(url string, payload map[string]any, field string) (string, error) {
	v, ok := payload[field]
	if !ok {
		return "", &MalformedError{URL: url, Field: field}
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", &MalformedError{URL: url, Field: field}
	}
	return s, nil
}
