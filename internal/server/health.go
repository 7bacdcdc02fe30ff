package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/costwise/aitrace/internal/db"
)

type RuntimeSnapshot struct {
	BundleQueueDepth int64
	CallsRecorded    int64
	IndexFailures    int64
	BundlesDropped   int64
	Sessions         int64
	EventsPublished  int64
}

type SnapshotProvider interface {
	Snapshot() RuntimeSnapshot
}

type HealthResponse struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Version          string `json:"version"`
	DBStatus         string `json:"db_status"`
	DBSizeBytes      int64  `json:"db_size_bytes"`
	WALSizeBytes     int64  `json:"wal_size_bytes"`
	BundleQueueDepth int64  `json:"bundle_queue_depth"`
	CallsRecorded    int64  `json:"calls_recorded"`
	IndexFailures    int64  `json:"index_failures"`
	BundlesDropped   int64  `json:"bundles_dropped"`
	Sessions         int64  `json:"sessions"`
	EventsPublished  int64  `json:"events_published"`
	GeneratedAt      string `json:"generated_at"`
}

type HealthHandler struct {
	dbm         *db.Manager
	startTime   time.Time
	version     string
	snapshotter SnapshotProvider
}

func NewHealthHandler(dbm *db.Manager, start time.Time, version string, snapshotter SnapshotProvider) *HealthHandler {
	return &HealthHandler{
		dbm:         dbm,
		startTime:   start,
		version:     version,
		snapshotter: snapshotter,
	}
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, _ *http.Request) {
	snapshot := h.snapshotter.Snapshot()
	dbStats := h.dbm.Stats()

	resp := HealthResponse{
		Status:           "ok",
		UptimeSeconds:    int64(time.Since(h.startTime).Seconds()),
		Version:          h.version,
		DBStatus:         dbStats.DBStatus,
		DBSizeBytes:      dbStats.DBSizeBytes,
		WALSizeBytes:     dbStats.WALSize,
		BundleQueueDepth: snapshot.BundleQueueDepth,
		CallsRecorded:    snapshot.CallsRecorded,
		IndexFailures:    snapshot.IndexFailures,
		BundlesDropped:   snapshot.BundlesDropped,
		Sessions:         snapshot.Sessions,
		EventsPublished:  snapshot.EventsPublished,
		GeneratedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if resp.DBStatus != "ok" {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}
