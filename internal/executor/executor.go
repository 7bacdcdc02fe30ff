// Package executor runs provider calls under a bounded retry policy and
// a whole-call service deadline stricter than any single attempt.
package executor

import (
	"context"
	"log/slog"
	"time"

	"github.com/costwise/aitrace/internal/provider"
	"github.com/costwise/aitrace/internal/record"
)

type Policy struct {
	// MaxAttempts bounds the total number of attempts, not just retries.
	MaxAttempts int
	// BackoffBase is the first retry delay; each further retry doubles it.
	BackoffBase time.Duration
	// DeadlineBuffer is added to the adapter's per-attempt timeout to form
	// the service deadline for the entire attempt loop.
	DeadlineBuffer time.Duration
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 2
	}
	if p.BackoffBase <= 0 {
		p.BackoffBase = 500 * time.Millisecond
	}
	if p.DeadlineBuffer <= 0 {
		p.DeadlineBuffer = 5 * time.Second
	}
	return p
}

// Outcome is the terminal result of one executed call. Err is the last
// classified provider error, surfaced verbatim; callers never see retry
// counts or backoff timing.
type Outcome struct {
	Status     record.Status
	Content    string
	Raw        string
	ModelUsed  string
	DurationMs int64
	Attempts   int
	Err        error
}

type Executor struct {
	policy Policy
	logger *slog.Logger
}

func New(policy Policy, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{policy: policy.normalized(), logger: logger}
}

type attemptResult struct {
	res      provider.Result
	err      error
	attempts int
}

// Do races the retrying attempt loop against the service deadline. If the
// deadline fires first the call reports timeout immediately; the losing
// attempt is cancelled through the shared context, and its result, should
// the transport ignore cancellation, is discarded.
func (e *Executor) Do(ctx context.Context, ad provider.Adapter, req provider.Request) Outcome {
	deadline := ad.AttemptTimeout() + e.policy.DeadlineBuffer
	callCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	start := time.Now()
	done := make(chan attemptResult, 1)
	go func() {
		done <- e.attemptLoop(callCtx, ad, req)
	}()

	select {
	case r := <-done:
		out := Outcome{
			Attempts:   r.attempts,
			DurationMs: time.Since(start).Milliseconds(),
		}
		if r.err == nil {
			out.Status = record.StatusSuccess
			out.Content = r.res.Content
			out.Raw = r.res.Raw
			out.ModelUsed = r.res.ModelUsed
			return out
		}
		out.Err = r.err
		out.ModelUsed = ad.Model()
		if provider.AsError(r.err).Kind == provider.FailTimeout {
			out.Status = record.StatusTimeout
		} else {
			out.Status = record.StatusFail
		}
		return out
	case <-callCtx.Done():
		elapsed := time.Since(start).Milliseconds()
		e.logger.Warn("call abandoned at service deadline",
			"provider", ad.Provider(),
			"model", ad.Model(),
			"deadline", deadline.String(),
		)
		return Outcome{
			Status:     record.StatusTimeout,
			ModelUsed:  ad.Model(),
			DurationMs: elapsed,
			Err: &provider.Error{
				Kind:    provider.FailTimeout,
				Message: "service deadline exceeded after " + deadline.String(),
			},
		}
	}
}

func (e *Executor) attemptLoop(ctx context.Context, ad provider.Adapter, req provider.Request) attemptResult {
	var lastErr error
	for attempt := 0; attempt < e.policy.MaxAttempts; attempt++ {
		res, err := ad.Execute(ctx, req)
		if err == nil {
			return attemptResult{res: res, attempts: attempt + 1}
		}
		lastErr = err

		pe := provider.AsError(err)
		if !pe.Retryable() || attempt == e.policy.MaxAttempts-1 {
			return attemptResult{err: lastErr, attempts: attempt + 1}
		}

		wait := e.policy.BackoffBase << attempt
		e.logger.Debug("retrying provider call",
			"attempt", attempt+1,
			"kind", string(pe.Kind),
			"wait", wait.String(),
		)
		select {
		case <-ctx.Done():
			return attemptResult{err: lastErr, attempts: attempt + 1}
		case <-time.After(wait):
		}
	}
	return attemptResult{err: lastErr, attempts: e.policy.MaxAttempts}
}
