// Package bundle stores and recovers the full-payload archive of one
// call: everything too big or too raw for the relational index.
package bundle

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

const (
	indexFile    = "index.json"
	requestFile  = "request.json"
	rawFile      = "response.raw.txt"
	parsedFile   = "response.parsed.json"
	notesFile    = "notes.log"
	dirTimestamp = "150405"
	dirDate      = "2006-01-02"
)

// Index duplicates the record's key fields so a bundle directory is
// self-describing without the database.
type Index struct {
	Step               string `json:"step"`
	Route              string `json:"route,omitempty"`
	RequestFingerprint string `json:"requestFingerprint"`
	PromptTemplateID   string `json:"promptTemplateId,omitempty"`
	ModelProvider      string `json:"modelProvider"`
	ModelName          string `json:"modelName"`
	Status             string `json:"status"`
	DurationMs         int64  `json:"durationMs"`
	TimeoutMs          int    `json:"timeoutMs,omitempty"`
	Timestamp          string `json:"timestamp"`
}

// RequestPayload is the fully-rendered request side of a call.
type RequestPayload struct {
	PromptTemplateID string            `json:"promptTemplateId,omitempty"`
	Variables        map[string]string `json:"variables,omitempty"`
	Prompt           string            `json:"prompt"`
	MaxTokens        int               `json:"maxTokens,omitempty"`
}

// Payload is everything written into one bundle directory. Any subset of
// files may end up on disk; every write inside is independent best-effort.
type Payload struct {
	Index          Index
	Request        *RequestPayload
	ResponseRaw    string
	ResponseParsed json.RawMessage
	Notes          string
}

// Contents is what a read recovers; absent files stay nil.
type Contents struct {
	Index          *Index          `json:"index"`
	Request        *RequestPayload `json:"request"`
	ResponseRaw    *string         `json:"responseRaw"`
	ResponseParsed json.RawMessage `json:"responseParsed"`
	Notes          *string         `json:"notes"`
}

// Dir computes the deterministic bundle directory for a call:
// <root>/<step>/<YYYY-MM-DD>/<HHMMSS>_<fp12>. The time-of-day stamp plus
// fingerprint prefix keeps concurrent writers off each other's paths.
func Dir(root string, step record.Step, fp string, at time.Time) string {
	name := at.Format(dirTimestamp) + "_" + record.FingerprintPrefix(fp)
	return filepath.Join(root, string(step), at.Format(dirDate), name)
}

// Write creates dir and persists whichever payload parts are present.
// Directory creation is idempotent under races; file write failures are
// collected but do not stop the remaining files.
func Write(dir string, p Payload) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create bundle dir: %w", err)
	}

	var firstErr error
	keep := func(err error) {
		if err != nil && firstErr == nil {
			firstErr = err
		}
	}

	keep(writeJSON(filepath.Join(dir, indexFile), p.Index))
	if p.Request != nil {
		keep(writeJSON(filepath.Join(dir, requestFile), p.Request))
	}
	if p.ResponseRaw != "" {
		keep(os.WriteFile(filepath.Join(dir, rawFile), []byte(p.ResponseRaw), 0o644))
	}
	if len(p.ResponseParsed) > 0 {
		keep(os.WriteFile(filepath.Join(dir, parsedFile), p.ResponseParsed, 0o644))
	}
	if p.Notes != "" {
		keep(os.WriteFile(filepath.Join(dir, notesFile), []byte(p.Notes), 0o644))
	}
	return firstErr
}

// Read loads whatever the directory still holds.
func Read(dir string) (Contents, error) {
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return Contents{}, fmt.Errorf("bundle dir %s unavailable", dir)
	}

	var c Contents
	if raw, err := os.ReadFile(filepath.Join(dir, indexFile)); err == nil {
		var idx Index
		if json.Unmarshal(raw, &idx) == nil {
			c.Index = &idx
		}
	}
	if raw, err := os.ReadFile(filepath.Join(dir, requestFile)); err == nil {
		var req RequestPayload
		if json.Unmarshal(raw, &req) == nil {
			c.Request = &req
		}
	}
	if raw, err := os.ReadFile(filepath.Join(dir, rawFile)); err == nil {
		s := string(raw)
		c.ResponseRaw = &s
	}
	if raw, err := os.ReadFile(filepath.Join(dir, parsedFile)); err == nil {
		c.ResponseParsed = json.RawMessage(raw)
	}
	if raw, err := os.ReadFile(filepath.Join(dir, notesFile)); err == nil {
		s := string(raw)
		c.Notes = &s
	}
	return c, nil
}

func writeJSON(path string, v any) error {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}
