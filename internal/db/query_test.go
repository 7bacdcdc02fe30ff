package db

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/costwise/aitrace/internal/record"
)

func seedCalls(t *testing.T, dbm *Manager) {
	t.Helper()
	ctx := context.Background()
	base := time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

	rows := []record.CallRecord{
		{CallID: "01A", Step: record.StepRisk, Status: record.StatusSuccess, ModelName: "gpt-4o-mini", PromptTemplateID: "risk-v2", ProjectID: "p1", DurationMs: 100},
		{CallID: "01B", Step: record.StepRisk, Status: record.StatusFail, ModelName: "gpt-4o-mini", PromptTemplateID: "risk-v2", ProjectID: "p1", DurationMs: 200, ErrorMessage: "ETIMEDOUT"},
		{CallID: "01C", Step: record.StepTagging, Status: record.StatusSuccess, ModelName: "gemini-1.5-flash", PromptTemplateID: "tag-v1", ProjectID: "p2", DurationMs: 300},
		{CallID: "01D", Step: record.StepModelTest, Status: record.StatusTimeout, ModelName: "claude-haiku", PromptTemplateID: "model-test", DurationMs: 5000, ErrorMessage: "service deadline exceeded after 5s"},
	}
	for i, rec := range rows {
		rec.RequestFingerprint = record.Fingerprint(rec.PromptTemplateID, rec.CallID)
		rec.ModelProvider = "test"
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		if err := dbm.InsertCall(ctx, rec); err != nil {
			t.Fatalf("seed insert %s: %v", rec.CallID, err)
		}
	}
}

func TestListCallsNewestFirst(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)

	list, total, err := dbm.ListCalls(context.Background(), Filters{}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 4 || len(list) != 4 {
		t.Fatalf("total=%d len=%d", total, len(list))
	}
	for i := 1; i < len(list); i++ {
		if list[i].CreatedAt.After(list[i-1].CreatedAt) {
			t.Fatalf("not newest-first at %d", i)
		}
	}
	if list[0].CallID != "01D" {
		t.Fatalf("expected 01D first, got %s", list[0].CallID)
	}
}

func TestListCallsFiltersCompose(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)
	ctx := context.Background()

	list, total, err := dbm.ListCalls(ctx, Filters{
		Steps:    []string{string(record.StepRisk)},
		Statuses: []string{string(record.StatusFail)},
	}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || len(list) != 1 || list[0].CallID != "01B" {
		t.Fatalf("conjunctive filter failed: total=%d %+v", total, list)
	}

	list, total, err = dbm.ListCalls(ctx, Filters{ProjectID: "p2"}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 1 || list[0].CallID != "01C" {
		t.Fatalf("project filter failed: %+v", list)
	}

	fp := record.Fingerprint("tag-v1", "01C")
	list, _, err = dbm.ListCalls(ctx, Filters{SearchHash: fp[4:12]}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(list) != 1 || list[0].CallID != "01C" {
		t.Fatalf("fingerprint substring search failed: %+v", list)
	}
}

func TestListCallsDateRange(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)

	start := time.Date(2026, 8, 20, 12, 1, 30, 0, time.UTC)
	list, total, err := dbm.ListCalls(context.Background(), Filters{Start: start}, 10, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != 2 || len(list) != 2 {
		t.Fatalf("date filter: total=%d", total)
	}
}

func TestListCallsPagination(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)
	ctx := context.Background()

	page1, total, err := dbm.ListCalls(ctx, Filters{}, 3, 0)
	if err != nil {
		t.Fatalf("page1: %v", err)
	}
	page2, _, err := dbm.ListCalls(ctx, Filters{}, 3, 3)
	if err != nil {
		t.Fatalf("page2: %v", err)
	}
	if total != 4 || len(page1) != 3 || len(page2) != 1 {
		t.Fatalf("pagination off: total=%d p1=%d p2=%d", total, len(page1), len(page2))
	}
}

func TestAggregateCalls(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)

	agg, err := dbm.AggregateCalls(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if agg.TotalCalls != 4 || agg.SuccessCalls != 2 {
		t.Fatalf("unexpected aggregate: %+v", agg)
	}
	if want := (100.0 + 200 + 300 + 5000) / 4; agg.AvgDuration != want {
		t.Fatalf("avg duration %f, want %f", agg.AvgDuration, want)
	}
}

func TestFailureRows(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	seedCalls(t, dbm)

	rows, err := dbm.FailureRows(context.Background(), Filters{})
	if err != nil {
		t.Fatalf("failure rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 failure rows, got %d", len(rows))
	}
	for _, r := range rows {
		if r.Status == record.StatusSuccess {
			t.Fatalf("success row leaked into failures: %+v", r)
		}
	}
}

func TestConcurrentInserts(t *testing.T) {
	t.Parallel()

	dbm := openTestDB(t)
	ctx := context.Background()

	const n = 20
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			rec := record.CallRecord{
				CallID:             fmt.Sprintf("01CONC%02d", i),
				RequestFingerprint: record.Fingerprint("t", fmt.Sprint(i)),
				Step:               record.StepWorkload,
				ModelProvider:      "test",
				ModelName:          "m",
				Status:             record.StatusSuccess,
				CreatedAt:          time.Now().UTC(),
			}
			errs <- dbm.InsertCall(ctx, rec)
		}(i)
	}
	for i := 0; i < n; i++ {
		if err := <-errs; err != nil {
			t.Fatalf("concurrent insert: %v", err)
		}
	}

	_, total, err := dbm.ListCalls(ctx, Filters{}, 100, 0)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if total != n {
		t.Fatalf("expected %d rows, got %d", n, total)
	}
}
