// Package bridge proxies HTTP traffic onto bound destinations: an HTTP
// supplier publishes request bodies, and a proxy consumer POSTs consumed
// payloads to an endpoint, optionally publishing the response.
package bridge

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	errspkg "github.com/drblury/streambridge/internal/runtime/errors"
	metadatapkg "github.com/drblury/streambridge/internal/runtime/metadata"
)

// URLHeader carries the endpoint a payload is POSTed to.
const URLHeader = "url"

// maxResponseBytes bounds how much of a response body is read.
const maxResponseBytes = 10 << 20

// Requester sends a payload to the endpoint named by the URLHeader entry of
// headers and returns the response body.
type Requester interface {
	Request(ctx context.Context, payload []byte, headers metadatapkg.Metadata) ([]byte, error)
}

// RequesterFunc adapts a function to Requester.
type RequesterFunc func(ctx context.Context, payload []byte, headers metadatapkg.Metadata) ([]byte, error)

func (f RequesterFunc) Request(ctx context.Context, payload []byte, headers metadatapkg.Metadata) ([]byte, error) {
	return f(ctx, payload, headers)
}

// HTTPRequester POSTs payloads. Transport failures and non-2xx responses are
// returned as *errors.DeliveryError.
type HTTPRequester struct {
	Client      *http.Client
	ContentType string
}

func NewHTTPRequester(timeout time.Duration, contentType string) *HTTPRequester {
	return &HTTPRequester{
		Client:      &http.Client{Timeout: timeout},
		ContentType: contentType,
	}
}

func (r *HTTPRequester) Request(ctx context.Context, payload []byte, headers metadatapkg.Metadata) ([]byte, error) {
	target := headers.Get(URLHeader)
	if target == "" {
		return nil, &errspkg.DeliveryError{Op: http.MethodPost, Err: errspkg.ErrEndpointRequired}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return nil, &errspkg.DeliveryError{Op: http.MethodPost, Target: target, Err: err}
	}
	if contentType := r.contentType(headers); contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if id := headers.Get(metadatapkg.KeyCorrelationID); id != "" {
		req.Header.Set("X-Correlation-Id", id)
	}

	client := r.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &errspkg.DeliveryError{Op: http.MethodPost, Target: target, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &errspkg.DeliveryError{Op: http.MethodPost, Target: target, StatusCode: resp.StatusCode, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errspkg.DeliveryError{
			Op:         http.MethodPost,
			Target:     target,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response %q", truncate(body, 256)),
		}
	}
	return body, nil
}

func (r *HTTPRequester) contentType(headers metadatapkg.Metadata) string {
	if r.ContentType != "" {
		return r.ContentType
	}
	return headers.Get(metadatapkg.KeyContentType)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
