package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Response is the observable outcome of one HTTP attempt.
type Response struct {
	StatusCode int
	Body       []byte
	Elapsed    time.Duration
}

/* Transport is the pluggable outbound HTTP client. A transport error
 * (non-nil error) means nothing reached the receiver or the attempt timed
 * out; both are retryable.
 */
type Transport interface {
	Post(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) (Response, error)
}

// maxReadBytes bounds how much of a response body is read from the wire.
const maxReadBytes = 64 * 1024

// HTTPTransport implements Transport over net/http
type HTTPTransport struct {
	Client *http.Client
}

// NewHTTPTransport creates a transport with a shared client.
// Per-attempt timeouts come from the webhook configuration, not the client.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{
		Client: &http.Client{},
	}
}

// Post performs one timeout-bounded POST and returns what it observed.
func (t *HTTPTransport) Post(ctx context.Context, url string, body []byte, headers map[string]string, timeout time.Duration) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return Response{}, fmt.Errorf("building request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	start := time.Now()
	resp, err := t.Client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return Response{Elapsed: elapsed}, fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if err != nil {
		// The status line already arrived; classify on it
		respBody = nil
	}

	return Response{
		StatusCode: resp.StatusCode,
		Body:       respBody,
		Elapsed:    elapsed,
	}, nil
}
