// Package journal is the dual-sink log writer: a synchronous best-effort
// row into the relational index, an asynchronous best-effort bundle onto
// disk, and a broadcast once the row is committed. Sink failures never
// propagate to the caller; the logging pipeline must not be a reason a
// call fails.
package journal

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/costwise/aitrace/internal/bundle"
	"github.com/costwise/aitrace/internal/db"
	"github.com/costwise/aitrace/internal/record"
)

// Publisher receives the record after its successful relational insert.
type Publisher interface {
	Publish(rec record.CallRecord)
}

// Entry is everything the journal records about one terminal call.
type Entry struct {
	Fingerprint      string
	Step             record.Step
	Route            string
	PromptTemplateID string
	ProjectID        string
	ModelProvider    string
	ModelName        string
	Status           record.Status
	DurationMs       int64
	ErrorMessage     string
	TimeoutMs        int

	Request        *bundle.RequestPayload
	ResponseRaw    string
	ResponseParsed json.RawMessage
	Notes          string
}

type bundleTask struct {
	rec   record.CallRecord
	entry Entry
}

type Writer struct {
	logger      *slog.Logger
	dbm         *db.Manager
	root        string
	pub         Publisher
	maxErrBytes int

	queue      chan bundleTask
	workerDone chan struct{}
	closeOnce  sync.Once

	recorded       atomic.Int64
	indexFailures  atomic.Int64
	bundlesDropped atomic.Int64
	bundleFailures atomic.Int64
}

func NewWriter(logger *slog.Logger, dbm *db.Manager, root string, pub Publisher, queueCapacity, maxErrBytes int) *Writer {
	if logger == nil {
		logger = slog.Default()
	}
	if queueCapacity <= 0 {
		queueCapacity = 256
	}
	if maxErrBytes <= 0 {
		maxErrBytes = 2048
	}
	w := &Writer{
		logger:      logger,
		dbm:         dbm,
		root:        root,
		pub:         pub,
		maxErrBytes: maxErrBytes,
		queue:       make(chan bundleTask, queueCapacity),
		workerDone:  make(chan struct{}),
	}
	go w.runWorker()
	return w
}

// Record writes the terminal outcome of one call to both sinks and
// returns the record as committed (or as attempted, when the index write
// failed). It never returns an error.
func (w *Writer) Record(ctx context.Context, e Entry) record.CallRecord {
	rec := record.CallRecord{
		CallID:             ulid.Make().String(),
		RequestFingerprint: e.Fingerprint,
		Step:               e.Step,
		Route:              e.Route,
		PromptTemplateID:   e.PromptTemplateID,
		ProjectID:          e.ProjectID,
		ModelProvider:      e.ModelProvider,
		ModelName:          e.ModelName,
		Status:             e.Status,
		DurationMs:         e.DurationMs,
		ErrorMessage:       truncate(e.ErrorMessage, w.maxErrBytes),
		CreatedAt:          time.Now().UTC(),
	}
	w.recorded.Add(1)

	inserted := true
	insertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	if err := w.dbm.InsertCall(insertCtx, rec); err != nil {
		inserted = false
		w.indexFailures.Add(1)
		w.logger.Warn("call index write failed",
			"call_id", rec.CallID,
			"fingerprint", record.FingerprintPrefix(rec.RequestFingerprint),
			"error", err,
		)
	}
	cancel()

	// Broadcast only what actually reached the index; subscribers
	// reconcile against the same store via polling.
	if inserted && w.pub != nil {
		w.pub.Publish(rec)
	}

	select {
	case w.queue <- bundleTask{rec: rec, entry: e}:
	default:
		w.bundlesDropped.Add(1)
		w.logger.Warn("bundle queue full, archive skipped", "call_id", rec.CallID)
	}
	return rec
}

func (w *Writer) runWorker() {
	defer close(w.workerDone)
	for task := range w.queue {
		w.writeBundle(task)
	}
}

func (w *Writer) writeBundle(task bundleTask) {
	rec := task.rec
	dir := bundle.Dir(w.root, rec.Step, rec.RequestFingerprint, rec.CreatedAt)

	payload := bundle.Payload{
		Index: bundle.Index{
			Step:               string(rec.Step),
			Route:              rec.Route,
			RequestFingerprint: rec.RequestFingerprint,
			PromptTemplateID:   rec.PromptTemplateID,
			ModelProvider:      rec.ModelProvider,
			ModelName:          rec.ModelName,
			Status:             string(rec.Status),
			DurationMs:         rec.DurationMs,
			TimeoutMs:          task.entry.TimeoutMs,
			Timestamp:          rec.CreatedAt.Format(time.RFC3339),
		},
		Request:        task.entry.Request,
		ResponseRaw:    task.entry.ResponseRaw,
		ResponseParsed: task.entry.ResponseParsed,
		Notes:          notes(rec, task.entry),
	}

	if err := bundle.Write(dir, payload); err != nil {
		w.bundleFailures.Add(1)
		w.logger.Warn("bundle write failed", "call_id", rec.CallID, "dir", dir, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := w.dbm.SetLogDirectory(ctx, rec.CallID, dir); err != nil {
		// The row keeps a null path; detail lookups fall back to a scan.
		w.logger.Warn("log directory backfill failed", "call_id", rec.CallID, "error", err)
	}
}

// Close drains pending bundle writes and stops the worker.
func (w *Writer) Close() {
	w.closeOnce.Do(func() {
		close(w.queue)
	})
	select {
	case <-w.workerDone:
	case <-time.After(5 * time.Second):
		w.logger.Warn("bundle worker drain timeout")
	}
}

func (w *Writer) QueueDepth() int         { return len(w.queue) }
func (w *Writer) Recorded() int64         { return w.recorded.Load() }
func (w *Writer) IndexFailures() int64    { return w.indexFailures.Load() }
func (w *Writer) BundlesDropped() int64   { return w.bundlesDropped.Load() }
func (w *Writer) BundleFailures() int64   { return w.bundleFailures.Load() }

func notes(rec record.CallRecord, e Entry) string {
	n := "call_id=" + rec.CallID + " attempts_status=" + string(rec.Status) + "\n"
	if e.Notes != "" {
		n += e.Notes + "\n"
	}
	if rec.ErrorMessage != "" {
		n += "error: " + rec.ErrorMessage + "\n"
	}
	return n
}

func truncate(s string, maxBytes int) string {
	raw := []byte(s)
	if len(raw) <= maxBytes {
		return s
	}
	return string(raw[:maxBytes])
}
