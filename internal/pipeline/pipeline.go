// Package pipeline is the entry point the application's AI features call:
// it resolves the active model, executes the call resiliently and hands
// the terminal outcome to the journal. Callers see success, a typed
// error, or a timeout; never retry counts or sink failures.
package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/costwise/aitrace/internal/bundle"
	"github.com/costwise/aitrace/internal/config"
	"github.com/costwise/aitrace/internal/executor"
	"github.com/costwise/aitrace/internal/journal"
	"github.com/costwise/aitrace/internal/provider"
	"github.com/costwise/aitrace/internal/record"
)

type CallInput struct {
	Step             record.Step
	Route            string
	PromptTemplateID string
	ProjectID        string
	ModelLabel       string
	Prompt           string
	Variables        map[string]string
	MaxTokens        int
}

type CallResult struct {
	Record  record.CallRecord
	Content string
	// Err is nil on success, otherwise the classified provider error.
	Err error
}

type Pipeline struct {
	logger   *slog.Logger
	registry *config.ModelRegistry
	exec     *executor.Executor
	journal  *journal.Writer

	// newAdapter is provider.NewWithClient by default; injectable so
	// tests can aim calls at fixtures.
	newAdapter func(config.ModelConfig) (provider.Adapter, error)
}

func New(logger *slog.Logger, registry *config.ModelRegistry, exec *executor.Executor, jw *journal.Writer, client *http.Client) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		logger:   logger,
		registry: registry,
		exec:     exec,
		journal:  jw,
		newAdapter: func(cfg config.ModelConfig) (provider.Adapter, error) {
			return provider.NewWithClient(cfg, client)
		},
	}
}

// Call executes one AI call end to end and records it regardless of
// outcome. Exactly one record reaches the index per invocation.
func (p *Pipeline) Call(ctx context.Context, in CallInput) CallResult {
	fp := record.Fingerprint(in.PromptTemplateID, in.Prompt)
	entry := journal.Entry{
		Fingerprint:      fp,
		Step:             in.Step,
		Route:            in.Route,
		PromptTemplateID: in.PromptTemplateID,
		ProjectID:        in.ProjectID,
		Request: &bundle.RequestPayload{
			PromptTemplateID: in.PromptTemplateID,
			Variables:        in.Variables,
			Prompt:           in.Prompt,
			MaxTokens:        in.MaxTokens,
		},
	}

	cfg, err := p.registry.Active(in.ModelLabel)
	if err == nil {
		entry.ModelProvider = cfg.Provider
		entry.ModelName = cfg.Model
		entry.TimeoutMs = cfg.TimeoutMs
	}
	if err != nil {
		return p.fail(ctx, entry, &provider.Error{Kind: provider.FailConfig, Message: err.Error()})
	}

	ad, err := p.newAdapter(cfg)
	if err != nil {
		return p.fail(ctx, entry, err)
	}

	out := p.exec.Do(ctx, ad, provider.Request{Prompt: in.Prompt, MaxTokens: in.MaxTokens})
	entry.Status = out.Status
	entry.DurationMs = out.DurationMs
	entry.ModelName = out.ModelUsed
	entry.ResponseRaw = out.Raw
	if out.Err != nil {
		entry.ErrorMessage = out.Err.Error()
	} else {
		normalized, _ := json.Marshal(map[string]any{
			"content":    out.Content,
			"modelUsed":  out.ModelUsed,
			"durationMs": out.DurationMs,
		})
		entry.ResponseParsed = normalized
	}

	rec := p.journal.Record(ctx, entry)
	return CallResult{Record: rec, Content: out.Content, Err: out.Err}
}

// fail records a call that never reached the executor (configuration
// errors fail fast and are never retried).
func (p *Pipeline) fail(ctx context.Context, entry journal.Entry, err error) CallResult {
	entry.Status = record.StatusFail
	entry.ErrorMessage = err.Error()
	rec := p.journal.Record(ctx, entry)
	return CallResult{Record: rec, Err: err}
}
