package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/ligustah/sceneslurp/internal/retry"
)

// Common errors.
var (
	ErrNotFound     = errors.New("http: resource not found")
	ErrForbidden    = errors.New("http: access forbidden")
	ErrUnauthorized = errors.New("http: unauthorized")
	ErrTransient    = errors.New("http: transient network error")
)

// maxErrorBody bounds how much of a failed response body is kept.
const maxErrorBody = 64 * 1024

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 16
	MaxIdleConnsPerHost int

	// Timeout bounds a single JSON round trip.
	// Default: 5m
	Timeout time.Duration

	// HeaderTimeout bounds the wait for response headers on any request.
	// Default: 2m
	HeaderTimeout time.Duration

	// StreamTimeout bounds a whole streamed transfer, body included.
	// Default: 1h
	StreamTimeout time.Duration

	// Retry governs transient failures (transport errors, 5xx).
	// Default: 3 attempts, 1s initial, doubling, 30s cap.
	Retry retry.Policy
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 16,
		Timeout:             5 * time.Minute,
		HeaderTimeout:       2 * time.Minute,
		StreamTimeout:       time.Hour,
		Retry: retry.Policy{
			Initial:     time.Second,
			Multiplier:  2,
			Max:         30 * time.Second,
			MaxAttempts: 3,
		},
	}
}

// StatusError is returned for non-success responses that are not retried.
// Body holds the start of the response body so callers can decode
// provider error envelopes.
type StatusError struct {
	Code   int
	Status string
	Body   []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http: unexpected status %s", e.Status)
}

// Unwrap maps well-known codes to the package sentinels.
func (e *StatusError) Unwrap() error {
	return checkStatusCode(e.Code)
}

// StreamResponse is an open streaming response. Body must be closed.
type StreamResponse struct {
	Body          io.ReadCloser
	ContentLength int64
	Filename      string
}

// Client is an HTTP client for JSON APIs and large file transfers.
type Client struct {
	client *http.Client
	opts   Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	def := DefaultOptions()
	if opts.MaxIdleConnsPerHost <= 0 {
		opts.MaxIdleConnsPerHost = def.MaxIdleConnsPerHost
	}
	if opts.Timeout <= 0 {
		opts.Timeout = def.Timeout
	}
	if opts.HeaderTimeout <= 0 {
		opts.HeaderTimeout = def.HeaderTimeout
	}
	if opts.StreamTimeout <= 0 {
		opts.StreamTimeout = def.StreamTimeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry = def.Retry
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		ResponseHeaderTimeout: opts.HeaderTimeout,
		TLSHandshakeTimeout:   30 * time.Second,
	}

	return &Client{
		// Per-call deadlines come from the context; see JSON and Stream.
		client: &http.Client{Transport: transport},
		opts:   opts,
	}
}

// RequestOption decorates an outgoing request.
type RequestOption func(*request)

type request struct {
	header http.Header
	query  url.Values
	form   url.Values
	user   string
	pass   string
	auth   bool
}

// WithHeader sets a request header.
func WithHeader(key, value string) RequestOption {
	return func(r *request) {
		r.header.Set(key, value)
	}
}

// WithQuery adds query parameters to the URL.
func WithQuery(values url.Values) RequestOption {
	return func(r *request) {
		for k, vs := range values {
			for _, v := range vs {
				r.query.Add(k, v)
			}
		}
	}
}

// WithForm sends values as an urlencoded form body instead of JSON.
func WithForm(values url.Values) RequestOption {
	return func(r *request) {
		r.form = values
	}
}

// WithBasicAuth sets HTTP basic credentials.
func WithBasicAuth(user, pass string) RequestOption {
	return func(r *request) {
		r.user, r.pass, r.auth = user, pass, true
	}
}

// JSON performs a request whose response body is decoded into out (if
// non-nil). A non-nil body is JSON encoded unless WithForm is given.
// Transport errors and 5xx responses are retried; other non-2xx responses
// return a *StatusError.
func (c *Client) JSON(ctx context.Context, method, rawURL string, body, out any, opts ...RequestOption) error {
	r := &request{header: http.Header{}, query: url.Values{}}
	for _, opt := range opts {
		opt(r)
	}

	var payload []byte
	contentType := ""
	switch {
	case r.form != nil:
		payload = []byte(r.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case body != nil:
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = b
		contentType = "application/json"
	}

	target, err := withQuery(rawURL, r.query)
	if err != nil {
		return err
	}

	return c.opts.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		ctx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()

		var rdr io.Reader
		if payload != nil {
			rdr = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, target, rdr)
		if err != nil {
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}
		if contentType != "" {
			req.Header.Set("Content-Type", contentType)
		}
		req.Header.Set("Accept", "application/json")
		for k, vs := range r.header {
			req.Header[k] = vs
		}
		if r.auth {
			req.SetBasicAuth(r.user, r.pass)
		}

		resp, err := c.send(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if out == nil {
			_, _ = io.Copy(io.Discard, resp.Body)
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return retry.Permanent(fmt.Errorf("decode response: %w", err))
		}
		return nil
	})
}

// Stream performs a GET and returns the open body. The whole transfer,
// including reading the body, is bounded by Options.StreamTimeout.
func (c *Client) Stream(ctx context.Context, rawURL string) (*StreamResponse, error) {
	var out *StreamResponse

	err := c.opts.Retry.Do(ctx, func(ctx context.Context, _ int) error {
		sctx, cancel := context.WithTimeout(ctx, c.opts.StreamTimeout)

		req, err := http.NewRequestWithContext(sctx, http.MethodGet, rawURL, nil)
		if err != nil {
			cancel()
			return retry.Permanent(fmt.Errorf("create request: %w", err))
		}

		resp, err := c.send(req)
		if err != nil {
			cancel()
			return err
		}

		out = &StreamResponse{
			Body:          &cancelBody{ReadCloser: resp.Body, cancel: cancel},
			ContentLength: resp.ContentLength,
			Filename:      DispositionFilename(resp.Header.Get("Content-Disposition")),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// send executes req and classifies the outcome. Retryable failures are
// returned as-is, everything else is wrapped in retry.Permanent.
func (c *Client) send(req *http.Request) (*http.Response, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		if req.Context().Err() != nil {
			return nil, retry.Permanent(err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransient, err)
	}

	// Server errors are retryable
	if resp.StatusCode >= 500 {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrTransient, resp.Status)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		resp.Body.Close()
		return nil, retry.Permanent(&StatusError{Code: resp.StatusCode, Status: resp.Status, Body: body})
	}

	return resp, nil
}

type cancelBody struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelBody) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func withQuery(rawURL string, q url.Values) (string, error) {
	if len(q) == 0 {
		return rawURL, nil
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Add(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String(), nil
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return nil
	}
}

// DispositionFilename extracts the filename parameter of a
// Content-Disposition header. It returns "" when absent or unsafe.
func DispositionFilename(header string) string {
	if header == "" {
		return ""
	}
	_, params, err := mime.ParseMediaType(header)
	if err != nil {
		// Providers sometimes send bare `filename=x` without a type.
		if i := strings.Index(header, "filename="); i >= 0 {
			return cleanName(strings.Trim(header[i+len("filename="):], `" `))
		}
		return ""
	}
	return cleanName(params["filename"])
}

// URLFilename returns the last path element of a URL, without query.
func URLFilename(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return ""
	}
	return cleanName(path.Base(u.Path))
}

func cleanName(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	if name == "." || name == "/" || name == ".." {
		return ""
	}
	return name
}
