package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

func openTestDB(t *testing.T) *Manager {
	t.Helper()
	dbm, err := Open(filepath.Join(t.TempDir(), "aitrace.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = dbm.Close() })
	return dbm
}

func sampleRecord(callID, fp string, at time.Time) record.CallRecord {
	return record.CallRecord{
		CallID:             callID,
		RequestFingerprint: fp,
		Step:               record.StepRisk,
		Route:              "/api/risk",
		PromptTemplateID:   "risk-v2",
		ProjectID:          "proj-1",
		ModelProvider:      "openai",
		ModelName:          "gpt-4o-mini",
		Status:             record.StatusSuccess,
		DurationMs:         1234,
		CreatedAt:          at,
	}
}

func TestInsertAndLookupByPrefix(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()
	fp := record.Fingerprint("risk-v2", "input-a")

	if err := dbm.InsertCall(ctx, sampleRecord("01CALL", fp, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}

	rec, err := dbm.LatestByFingerprintPrefix(ctx, record.FingerprintPrefix(fp))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.CallID != "01CALL" || rec.RequestFingerprint != fp || rec.Step != record.StepRisk {
		t.Fatalf("unexpected record: %+v", rec)
	}
	if rec.LogDirectory != "" {
		t.Fatalf("log directory should start empty, got %q", rec.LogDirectory)
	}
}

func TestLookupPrefersMostRecent(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()
	fp := record.Fingerprint("risk-v2", "same-input")

	older := sampleRecord("01OLD", fp, time.Now().Add(-time.Hour).UTC())
	newer := sampleRecord("01NEW", fp, time.Now().UTC())
	newer.Status = record.StatusFail
	newer.ErrorMessage = "boom"

	for _, rec := range []record.CallRecord{older, newer} {
		if err := dbm.InsertCall(ctx, rec); err != nil {
			t.Fatalf("insert %s: %v", rec.CallID, err)
		}
	}

	got, err := dbm.LatestByFingerprintPrefix(ctx, record.FingerprintPrefix(fp))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if got.CallID != "01NEW" {
		t.Fatalf("expected newest record, got %s", got.CallID)
	}
}

func TestLookupMissReturnsNotFound(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	_, err := dbm.LatestByFingerprintPrefix(context.Background(), "feedfeedfeed")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestDuplicateCallIDRejected(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()
	rec := sampleRecord("01DUP", record.Fingerprint("t", "x"), time.Now().UTC())

	if err := dbm.InsertCall(ctx, rec); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := dbm.InsertCall(ctx, rec); err == nil {
		t.Fatal("duplicate call_id silently accepted")
	}
}

func TestSetLogDirectoryBackfill(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()
	fp := record.Fingerprint("t", "y")

	if err := dbm.InsertCall(ctx, sampleRecord("01DIR", fp, time.Now().UTC())); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := dbm.SetLogDirectory(ctx, "01DIR", "/data/ai-logs/risk/2026-08-29/101530_abcdef012345"); err != nil {
		t.Fatalf("backfill: %v", err)
	}

	rec, err := dbm.LatestByFingerprintPrefix(ctx, record.FingerprintPrefix(fp))
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if rec.LogDirectory == "" {
		t.Fatal("backfill not visible")
	}

	// Backfilling a row that no longer exists is tolerated.
	if err := dbm.SetLogDirectory(ctx, "NO-SUCH-CALL", "/tmp/x"); err != nil {
		t.Fatalf("backfill of missing row errored: %v", err)
	}
}
