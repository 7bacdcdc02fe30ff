// Package provider gives a uniform call contract over heterogeneous
// chat-completion APIs. Each adapter normalizes responses and classifies
// failures by retryability; callers never look at raw status codes.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/costwise/aitrace/internal/config"
)

type FailKind string

const (
	FailConfig        FailKind = "config"
	FailClient        FailKind = "client"
	FailRateLimit     FailKind = "rate_limit"
	FailServer        FailKind = "server"
	FailTimeout       FailKind = "timeout"
	FailTransport     FailKind = "transport"
	FailUnprocessable FailKind = "unprocessable"
)

// Error is the classified failure surfaced by every adapter.
type Error struct {
	Kind       FailKind
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s (http %d): %s", e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Retryable reports whether the retry policy may re-attempt after this
// failure. Client errors (4xx bar 429) and config errors never are;
// unprocessable responses are terminal because the transport succeeded.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case FailRateLimit, FailServer, FailTimeout, FailTransport:
		return true
	default:
		return false
	}
}

// AsError extracts a classified *Error from err, wrapping unknown errors
// as transport failures.
func AsError(err error) *Error {
	var pe *Error
	if errors.As(err, &pe) {
		return pe
	}
	return &Error{Kind: FailTransport, Message: err.Error()}
}

type Request struct {
	Prompt    string
	MaxTokens int
}

type Result struct {
	Content    string
	ModelUsed  string
	DurationMs int64
	// Raw is the unparsed provider response body, kept for the archive.
	Raw string
}

// Adapter executes one attempt against an external endpoint. Each attempt
// is bounded by the model's own wall-clock timeout; a fired timer aborts
// the in-flight request and reports a timeout failure.
type Adapter interface {
	Execute(ctx context.Context, req Request) (Result, error)
	AttemptTimeout() time.Duration
	Provider() string
	Model() string
}

// New selects the adapter variant for a model configuration. Pure
// dispatch on the configured kind; no inheritance, no state beyond the
// HTTP client.
func New(cfg config.ModelConfig) (Adapter, error) {
	return NewWithClient(cfg, nil)
}

// NewWithClient is New with an injectable HTTP client for tests.
func NewWithClient(cfg config.ModelConfig, client *http.Client) (Adapter, error) {
	if cfg.Endpoint == "" {
		return nil, &Error{Kind: FailConfig, Message: fmt.Sprintf("model %q has no endpoint", cfg.Label)}
	}
	if client == nil {
		client = &http.Client{}
	}
	base := transport{
		cfg:     cfg,
		client:  client,
		timeout: time.Duration(cfg.TimeoutMs) * time.Millisecond,
	}
	switch cfg.Kind {
	case "openai", "openai-compatible", "":
		return &openAIAdapter{transport: base}, nil
	case "gemini":
		return &geminiAdapter{transport: base}, nil
	case "anthropic":
		if cfg.Credential == "" {
			return nil, &Error{Kind: FailConfig, Message: fmt.Sprintf("model %q missing credential (%s)", cfg.Label, cfg.APIKeyEnv)}
		}
		return &anthropicAdapter{transport: base}, nil
	default:
		return nil, &Error{Kind: FailConfig, Message: fmt.Sprintf("unknown provider kind %q", cfg.Kind)}
	}
}
