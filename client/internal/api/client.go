package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"drivepower/client/internal/observability"
)

const requestIDHeader = "X-Request-ID"

// HTTPDoer defines http.Client interface subset.
type HTTPDoer interface {
	Do(*http.Request) (*http.Response, error)
}

// TokenSource yields the bearer token attached to each request. An empty token means
// the request goes out anonymously.
type TokenSource interface {
	Token() string
}

// TokenFunc adapts a function to TokenSource.
type TokenFunc func() string

// Token implements TokenSource.
func (f TokenFunc) Token() string { return f() }

// Request describes a single API call. Route is the templated path used as a metrics
// label (e.g. "/stations/{id}"); it defaults to Path.
type Request struct {
	Method string
	Path   string
	Route  string
	Query  url.Values
	Body   interface{}
}

// Client is a thin JSON wrapper around the DrivePower HTTP API.
type Client struct {
	baseURL   string
	client    HTTPDoer
	tokens    TokenSource
	logger    *zap.Logger
	requestID func() string
}

// NewClient builds a client rooted at baseURL (for example https://host/api).
func NewClient(baseURL string, httpClient HTTPDoer, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    httpClient,
		logger:    logger,
		requestID: uuid.NewString,
	}
}

// WithTokenSource returns a copy of the client that authenticates with tokens.
func (c *Client) WithTokenSource(tokens TokenSource) *Client {
	clone := *c
	clone.tokens = tokens
	return &clone
}

// BaseURL returns the API root without a trailing slash.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) buildURL(path string, query url.Values) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	full := c.baseURL + path
	if len(query) > 0 {
		full += "?" + query.Encode()
	}
	return full
}

// Get issues a GET and decodes the response into out.
func (c *Client) Get(ctx context.Context, route, path string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodGet, Path: path, Route: route}, out)
}

// Post issues a POST with a JSON body.
func (c *Client) Post(ctx context.Context, route, path string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPost, Path: path, Route: route, Body: body}, out)
}

// Put issues a PUT with a JSON body.
func (c *Client) Put(ctx context.Context, route, path string, body, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodPut, Path: path, Route: route, Body: body}, out)
}

// Delete issues a DELETE.
func (c *Client) Delete(ctx context.Context, route, path string, out interface{}) error {
	return c.Do(ctx, Request{Method: http.MethodDelete, Path: path, Route: route}, out)
}

// Do executes req and decodes a successful body into out (which may be nil).
// Failures are always returned as *Error.
func (c *Client) Do(ctx context.Context, req Request, out interface{}) error {
	route := req.Route
	if route == "" {
		route = req.Path
	}

	var payload []byte
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return &Error{Kind: KindUnexpected, Message: "could not encode request", Err: err}
		}
		payload = data
	}

	started := time.Now()
	status, body, err := c.doRaw(ctx, req.Method, c.buildURL(req.Path, req.Query), payload)
	observability.APIRequestDuration.WithLabelValues(req.Method, route).Observe(time.Since(started).Seconds())
	if err != nil {
		observability.APIRequestsTotal.WithLabelValues(req.Method, route, "error").Inc()
		c.logger.Debug("api request failed", zap.String("method", req.Method), zap.String("route", route), zap.Error(err))
		return &Error{Kind: KindTransport, Status: status, Message: "network error, please check your connection", Err: err}
	}
	observability.APIRequestsTotal.WithLabelValues(req.Method, route, strconv.Itoa(status)).Inc()
	c.logger.Debug("api request", zap.String("method", req.Method), zap.String("route", route), zap.Int("status", status))

	if status < 200 || status >= 300 {
		return serverError(status, body)
	}
	return decodeSuccess(status, body, out)
}

func decodeSuccess(status int, body []byte, out interface{}) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil && env.Success != nil {
			if !*env.Success {
				return serverError(status, trimmed)
			}
			if len(env.Data) > 0 && string(env.Data) != "null" {
				trimmed = env.Data
			}
		}
	}
	if out == nil || len(trimmed) == 0 {
		return nil
	}
	if err := json.Unmarshal(trimmed, out); err != nil {
		return &Error{Kind: KindUnexpected, Status: status, Message: "unexpected response from server", Err: err}
	}
	return nil
}

func (c *Client) doRaw(ctx context.Context, method, target string, body []byte) (int, []byte, error) {
	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.requestID != nil {
		req.Header.Set(requestIDHeader, c.requestID())
	}
	if c.tokens != nil {
		if token := c.tokens.Token(); token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, respBody, nil
}

// NewDefaultHTTPClient returns *http.Client with timeout.
func NewDefaultHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout}
}

// PathEscape escapes a single path segment such as an id.
func PathEscape(segment string) string {
	return url.PathEscape(segment)
}
