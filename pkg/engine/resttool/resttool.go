// Package resttool invokes REST-described tools on behalf of workflow
// nodes. The engine treats it as an I/O boundary: the schema says where
// and how to call, the client enforces per-call timeouts and passes
// idempotency keys through, and failures come back as typed HTTP errors
// the error taxonomy can classify.
package resttool

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

	fgerrors "github.com/flowcraft/engine/pkg/engine/errors"
)

// Schema describes one callable REST tool.
type Schema struct {
	// Name identifies the tool in logs and metrics.
	Name string

	// Method is the HTTP method; defaults to POST.
	Method string

	// URL is the endpoint. Path segments of the form {param} are filled
	// from the inputs map and removed from the body.
	URL string

	// Headers are sent on every call. Secret-bearing headers should be
	// resolved through a SecretResolver before construction.
	Headers map[string]string

	// Timeout bounds this tool's calls, overriding the client default.
	Timeout time.Duration
}

// SecretResolver resolves named secrets for tool headers. External
// collaborator; the zero client never needs one.
type SecretResolver interface {
	Resolve(ctx context.Context, name string) (string, error)
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithDefaultTimeout sets the per-call timeout used when a schema doesn't
// declare one. Default: 30s.
func WithDefaultTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.defaultTimeout = d
	}
}

// Client calls REST tools. Safe for concurrent use.
type Client struct {
	http           *http.Client
	defaultTimeout time.Duration
}

// NewClient creates a tool client.
func NewClient(opts ...Option) *Client {
	c := &Client{
		http:           &http.Client{},
		defaultTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// IdempotencyHeader carries the caller's idempotency key to the tool.
const IdempotencyHeader = "Idempotency-Key"

// Call invokes the tool with the given inputs. Inputs fill {param} path
// segments first; the rest become the JSON body (or query parameters for
// GET). idempotencyKey, when non-empty, is passed through on the
// Idempotency-Key header so retried calls are safe.
func (c *Client) Call(ctx context.Context, schema Schema, inputs map[string]any, idempotencyKey string) (map[string]any, error) {
	method := schema.Method
	if method == "" {
		method = http.MethodPost
	}

	endpoint := schema.URL
	body := make(map[string]any, len(inputs))
	for k, v := range inputs {
		placeholder := "{" + k + "}"
		if strings.Contains(endpoint, placeholder) {
			endpoint = strings.ReplaceAll(endpoint, placeholder, url.PathEscape(fmt.Sprint(v)))
			continue
		}
		body[k] = v
	}

	timeout := schema.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var reqBody io.Reader
	if method == http.MethodGet {
		if len(body) > 0 {
			q := url.Values{}
			for k, v := range body {
				q.Set(k, fmt.Sprint(v))
			}
			sep := "?"
			if strings.Contains(endpoint, "?") {
				sep = "&"
			}
			endpoint = endpoint + sep + q.Encode()
		}
	} else {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("resttool %s: marshal inputs: %w", schema.Name, err)
		}
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(callCtx, method, endpoint, reqBody)
	if err != nil {
		return nil, fmt.Errorf("resttool %s: build request: %w", schema.Name, err)
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range schema.Headers {
		req.Header.Set(k, v)
	}
	if idempotencyKey != "" {
		req.Header.Set(IdempotencyHeader, idempotencyKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("resttool %s: %w", schema.Name, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 10<<20))
	if err != nil {
		return nil, fmt.Errorf("resttool %s: read response: %w", schema.Name, err)
	}

	if resp.StatusCode >= 400 {
		return nil, &fgerrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    strings.TrimSpace(string(respBody)),
			Endpoint:   schema.URL,
		}
	}

	if len(respBody) == 0 {
		return map[string]any{}, nil
	}
	var out map[string]any
	if err := json.Unmarshal(respBody, &out); err != nil {
		// Non-object JSON or plain text comes back under a single key.
		return map[string]any{"result": string(respBody)}, nil
	}
	return out, nil
}
