package dispatch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	eperrors "github.com/randalmurphal/eventpipe/pkg/eventpipe/errors"
)

// Endpoint describes where batches are delivered.
type Endpoint struct {
	URL     string
	Headers map[string]string
}

// Client submits one serialized batch. A nil error means the endpoint
// accepted the batch.
type Client interface {
	Submit(ctx context.Context, ep Endpoint, payload []byte) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, ep Endpoint, payload []byte) error

// Submit implements Client.
func (f ClientFunc) Submit(ctx context.Context, ep Endpoint, payload []byte) error {
	return f(ctx, ep, payload)
}

// maxErrorBody bounds how much of an error response is kept in HTTPError.
const maxErrorBody = 1024

// HTTPClient posts batches as application/json.
//
// Non-2xx responses return *errors.HTTPError. Connection failures return
// *errors.TransportError; timeouts additionally wrap *errors.TimeoutError.
type HTTPClient struct {
	client    *http.Client
	timeout   time.Duration
	userAgent string
}

// HTTPOption configures an HTTPClient.
type HTTPOption func(*HTTPClient)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(c *http.Client) HTTPOption {
	return func(h *HTTPClient) {
		h.client = c
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) HTTPOption {
	return func(h *HTTPClient) {
		h.userAgent = ua
	}
}

// NewHTTPClient creates a client whose requests time out after timeout.
// A zero timeout means no client-side limit.
func NewHTTPClient(timeout time.Duration, opts ...HTTPOption) *HTTPClient {
	h := &HTTPClient{
		timeout:   timeout,
		userAgent: "eventpipe",
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.client == nil {
		h.client = &http.Client{Timeout: timeout}
	}
	return h
}

// Submit implements Client.
func (h *HTTPClient) Submit(ctx context.Context, ep Endpoint, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if h.userAgent != "" {
		req.Header.Set("User-Agent", h.userAgent)
	}
	for k, v := range ep.Headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			return fmt.Errorf("submit %s: %w", ep.URL, err)
		}
		if isTimeout(err) {
			err = &eperrors.TimeoutError{Operation: "submit " + ep.URL, Duration: h.timeout}
		}
		return &eperrors.TransportError{Endpoint: ep.URL, Err: err}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &eperrors.HTTPError{StatusCode: resp.StatusCode, Message: msg, Endpoint: ep.URL}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
