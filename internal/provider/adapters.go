package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// openAIAdapter speaks the chat-completions shape used by OpenAI and the
// many compatible gateways.
type openAIAdapter struct {
	transport
}

func (a *openAIAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	payload := map[string]any{
		"model": a.cfg.Model,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	if mt := maxTokens(req, a.cfg.MaxTokens); mt > 0 {
		payload["max_tokens"] = mt
	}

	headers := map[string]string{}
	if a.cfg.Credential != "" {
		headers["Authorization"] = "Bearer " + a.cfg.Credential
	}
	raw, err := a.postJSON(ctx, a.cfg.Endpoint, headers, payload)
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Model   string `json:"model"`
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, &Error{Kind: FailUnprocessable, Message: "JSON parse error: " + err.Error()}
	}
	if len(parsed.Choices) == 0 {
		return Result{}, &Error{Kind: FailUnprocessable, Message: "response has no choices"}
	}
	model := parsed.Model
	if model == "" {
		model = a.cfg.Model
	}
	return Result{
		Content:    parsed.Choices[0].Message.Content,
		ModelUsed:  model,
		DurationMs: time.Since(start).Milliseconds(),
		Raw:        string(raw),
	}, nil
}

// geminiAdapter speaks the generateContent shape. Gemini passes the key
// as a query parameter rather than a header.
type geminiAdapter struct {
	transport
}

func (a *geminiAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	url := a.cfg.Endpoint
	if a.cfg.Credential != "" {
		sep := "?"
		if strings.Contains(url, "?") {
			sep = "&"
		}
		url = url + sep + "key=" + a.cfg.Credential
	}
	payload := map[string]any{
		"contents": []map[string]any{
			{"parts": []map[string]string{{"text": req.Prompt}}},
		},
	}
	if mt := maxTokens(req, a.cfg.MaxTokens); mt > 0 {
		payload["generationConfig"] = map[string]any{"maxOutputTokens": mt}
	}

	raw, err := a.postJSON(ctx, url, nil, payload)
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, &Error{Kind: FailUnprocessable, Message: "JSON parse error: " + err.Error()}
	}
	if len(parsed.Candidates) == 0 || len(parsed.Candidates[0].Content.Parts) == 0 {
		return Result{}, &Error{Kind: FailUnprocessable, Message: "response has no candidates"}
	}
	var sb strings.Builder
	for _, p := range parsed.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	return Result{
		Content:    sb.String(),
		ModelUsed:  a.cfg.Model,
		DurationMs: time.Since(start).Milliseconds(),
		Raw:        string(raw),
	}, nil
}

// anthropicAdapter speaks the messages shape with x-api-key auth.
type anthropicAdapter struct {
	transport
}

func (a *anthropicAdapter) Execute(ctx context.Context, req Request) (Result, error) {
	start := time.Now()
	mt := maxTokens(req, a.cfg.MaxTokens)
	if mt <= 0 {
		mt = 1024
	}
	payload := map[string]any{
		"model":      a.cfg.Model,
		"max_tokens": mt,
		"messages": []map[string]string{
			{"role": "user", "content": req.Prompt},
		},
	}
	headers := map[string]string{
		"x-api-key":         a.cfg.Credential,
		"anthropic-version": "2023-06-01",
	}

	raw, err := a.postJSON(ctx, a.cfg.Endpoint, headers, payload)
	if err != nil {
		return Result{}, err
	}

	var parsed struct {
		Model   string `json:"model"`
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Result{}, &Error{Kind: FailUnprocessable, Message: "JSON parse error: " + err.Error()}
	}
	var sb strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return Result{}, &Error{Kind: FailUnprocessable, Message: fmt.Sprintf("response has no text content (%d blocks)", len(parsed.Content))}
	}
	model := parsed.Model
	if model == "" {
		model = a.cfg.Model
	}
	return Result{
		Content:    sb.String(),
		ModelUsed:  model,
		DurationMs: time.Since(start).Milliseconds(),
		Raw:        string(raw),
	}, nil
}

func maxTokens(req Request, cfgDefault int) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return cfgDefault
}
