package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/costwise/aitrace/internal/config"
)

// transport is the shared HTTP plumbing under every adapter variant.
type transport struct {
	cfg     config.ModelConfig
	client  *http.Client
	timeout time.Duration
}

func (t *transport) AttemptTimeout() time.Duration { return t.timeout }
func (t *transport) Provider() string              { return t.cfg.Provider }
func (t *transport) Model() string                 { return t.cfg.Model }

// postJSON issues one bounded attempt. The response body is returned only
// for 2xx statuses; everything else comes back as a classified *Error.
func (t *transport) postJSON(ctx context.Context, url string, headers map[string]string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, &Error{Kind: FailClient, Message: "encode request: " + err.Error()}
	}

	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: FailClient, Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, classifyTransportErr(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &Error{Kind: FailRateLimit, StatusCode: resp.StatusCode, Message: snippet(raw)}
	case resp.StatusCode >= 500:
		return nil, &Error{Kind: FailServer, StatusCode: resp.StatusCode, Message: snippet(raw)}
	case resp.StatusCode >= 400:
		return nil, &Error{Kind: FailClient, StatusCode: resp.StatusCode, Message: snippet(raw)}
	}
	return raw, nil
}

func classifyTransportErr(err error) *Error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &Error{Kind: FailTimeout, Message: "attempt timed out: " + err.Error()}
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return &Error{Kind: FailTimeout, Message: "attempt timed out: " + err.Error()}
	}
	return &Error{Kind: FailTransport, Message: err.Error()}
}

func snippet(raw []byte) string {
	const max = 512
	if len(raw) > max {
		raw = raw[:max]
	}
	return string(raw)
}
