// Package record holds the canonical call record tracked by the pipeline
// and the fingerprinting used to correlate its two sinks.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Step identifies the pipeline stage that issued a call. Steps drive
// fan-out topic routing and bundle directory placement.
type Step string

const (
	StepRisk           Step = "risk"
	StepModuleAnalysis Step = "module-analysis"
	StepWorkload       Step = "workload-estimation"
	StepTagging        Step = "tagging"
	StepModelTest      Step = "model-test"
)

// Status is the terminal outcome of a call. Set exactly once.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFail    Status = "fail"
	StatusTimeout Status = "timeout"
)

// FingerprintPrefixLen is the number of fingerprint hex chars embedded in
// a bundle directory name.
const FingerprintPrefixLen = 12

// CallRecord is the indexed record of one completed AI call. Owned by the
// journal writer; everything else treats it as read-only.
type CallRecord struct {
	CallID             string    `json:"callId"`
	RequestFingerprint string    `json:"requestFingerprint"`
	Step               Step      `json:"step"`
	Route              string    `json:"route,omitempty"`
	PromptTemplateID   string    `json:"promptTemplateId,omitempty"`
	ProjectID          string    `json:"projectId,omitempty"`
	ModelProvider      string    `json:"modelProvider"`
	ModelName          string    `json:"modelName"`
	Status             Status    `json:"status"`
	DurationMs         int64     `json:"durationMs"`
	ErrorMessage       string    `json:"errorMessage,omitempty"`
	LogDirectory       string    `json:"logDirectory,omitempty"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Fingerprint derives the stable request identifier from the template id
// and the salient inputs. It is not unique across retries of logically
// different calls; uniqueness comes from CallID.
func Fingerprint(templateID string, inputs ...string) string {
	h := sha256.New()
	h.Write([]byte(templateID))
	for _, in := range inputs {
		h.Write([]byte{0})
		h.Write([]byte(in))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// FingerprintPrefix returns the short prefix used in bundle directory
// names and detail lookups.
func FingerprintPrefix(fp string) string {
	if len(fp) <= FingerprintPrefixLen {
		return fp
	}
	return fp[:FingerprintPrefixLen]
}
