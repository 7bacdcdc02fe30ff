package journal

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/costwise/aitrace/internal/bundle"
	"github.com/costwise/aitrace/internal/db"
	"github.com/costwise/aitrace/internal/record"
)

type capturePublisher struct {
	mu   sync.Mutex
	recs []record.CallRecord
}

func (p *capturePublisher) Publish(rec record.CallRecord) {
	p.mu.Lock()
	p.recs = append(p.recs, rec)
	p.mu.Unlock()
}

func (p *capturePublisher) all() []record.CallRecord {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]record.CallRecord(nil), p.recs...)
}

func openTestDB(t *testing.T) *db.Manager {
	t.Helper()
	dbm, err := db.Open(filepath.Join(t.TempDir(), "aitrace.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbm.Close() })
	return dbm
}

func sampleEntry(fp string) Entry {
	return Entry{
		Fingerprint:      fp,
		Step:             record.StepRisk,
		Route:            "/api/risk",
		PromptTemplateID: "risk-v2",
		ProjectID:        "p1",
		ModelProvider:    "openai",
		ModelName:        "gpt-4o-mini",
		Status:           record.StatusSuccess,
		DurationMs:       900,
		TimeoutMs:        30000,
		Request:          &bundle.RequestPayload{Prompt: "score it", PromptTemplateID: "risk-v2"},
		ResponseRaw:      `{"choices":[]}`,
		ResponseParsed:   []byte(`{"content":"7"}`),
	}
}

func TestRecordWritesBothSinksAndPublishes(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	root := t.TempDir()
	pub := &capturePublisher{}
	w := NewWriter(nil, dbm, root, pub, 16, 2048)

	fp := record.Fingerprint("risk-v2", "score it")
	rec := w.Record(context.Background(), sampleEntry(fp))
	if rec.CallID == "" || rec.Status != record.StatusSuccess {
		t.Fatalf("unexpected record: %+v", rec)
	}

	// Drain the bundle worker before inspecting the filesystem.
	w.Close()

	stored, err := dbm.LatestByFingerprintPrefix(context.Background(), record.FingerprintPrefix(fp))
	if err != nil {
		t.Fatalf("index row missing: %v", err)
	}
	if stored.LogDirectory == "" {
		t.Fatal("log directory not backfilled after bundle write")
	}
	if !strings.Contains(stored.LogDirectory, string(record.StepRisk)) {
		t.Fatalf("bundle placed outside step dir: %s", stored.LogDirectory)
	}

	c, err := bundle.Read(stored.LogDirectory)
	if err != nil {
		t.Fatalf("read bundle: %v", err)
	}
	if c.Index == nil || c.Index.RequestFingerprint != fp {
		t.Fatalf("bundle index mismatch: %+v", c.Index)
	}
	if c.Request == nil || c.Request.Prompt != "score it" {
		t.Fatal("request payload not archived")
	}

	events := pub.all()
	if len(events) != 1 || events[0].CallID != rec.CallID {
		t.Fatalf("expected one published event, got %+v", events)
	}
}

func TestRecordSurvivesBundleFailure(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	// A file where the bundle root should be makes every bundle write fail.
	root := filepath.Join(t.TempDir(), "not-a-dir")
	if err := writeFile(root); err != nil {
		t.Fatalf("setup: %v", err)
	}
	pub := &capturePublisher{}
	w := NewWriter(nil, dbm, root, pub, 16, 2048)

	fp := record.Fingerprint("risk-v2", "doomed archive")
	rec := w.Record(context.Background(), sampleEntry(fp))
	w.Close()

	stored, err := dbm.LatestByFingerprintPrefix(context.Background(), record.FingerprintPrefix(fp))
	if err != nil {
		t.Fatalf("index row must exist even when the bundle fails: %v", err)
	}
	if stored.CallID != rec.CallID {
		t.Fatalf("wrong row: %s", stored.CallID)
	}
	if stored.LogDirectory != "" {
		t.Fatal("failed bundle must not be backfilled")
	}
	if w.BundleFailures() == 0 {
		t.Fatal("bundle failure not counted")
	}
	if len(pub.all()) != 1 {
		t.Fatal("event should still be published after insert")
	}
}

func TestRecordTruncatesErrorMessage(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	w := NewWriter(nil, dbm, t.TempDir(), nil, 16, 32)
	defer w.Close()

	e := sampleEntry(record.Fingerprint("t", "long error"))
	e.Status = record.StatusFail
	e.ErrorMessage = strings.Repeat("x", 500)
	rec := w.Record(context.Background(), e)

	if len(rec.ErrorMessage) != 32 {
		t.Fatalf("error message not truncated: %d bytes", len(rec.ErrorMessage))
	}
}

func writeFile(path string) error {
	return os.WriteFile(path, []byte("occupied"), 0o644)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	w := NewWriter(nil, openTestDB(t), t.TempDir(), nil, 4, 2048)
	w.Close()
	w.Close()
}
