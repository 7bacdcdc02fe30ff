package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/costwise/aitrace/internal/db"
	"github.com/costwise/aitrace/internal/monitor"
	"github.com/costwise/aitrace/internal/pipeline"
	"github.com/costwise/aitrace/internal/record"
)

type Handlers struct {
	logger  *slog.Logger
	monitor *monitor.Service
	pipe    *pipeline.Pipeline
}

func NewHandlers(logger *slog.Logger, mon *monitor.Service, pipe *pipeline.Pipeline) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{logger: logger, monitor: mon, pipe: pipe}
}

func (h *Handlers) ListLogs(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	pageSize, _ := strconv.Atoi(q.Get("pageSize"))

	out, err := h.monitor.ListLogs(r.Context(), parseFilters(q), page, pageSize)
	if err != nil {
		h.logger.Error("list logs failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	out, err := h.monitor.Stats(r.Context(), parseFilters(r.URL.Query()))
	if err != nil {
		h.logger.Error("stats failed", "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

func (h *Handlers) Detail(w http.ResponseWriter, r *http.Request) {
	fp := mux.Vars(r)["fingerprint"]
	if fp == "" {
		http.Error(w, "fingerprint required", http.StatusBadRequest)
		return
	}

	out, err := h.monitor.Detail(r.Context(), fp)
	if errors.Is(err, db.ErrNotFound) {
		http.Error(w, "no call matches fingerprint", http.StatusNotFound)
		return
	}
	if err != nil {
		h.logger.Error("detail lookup failed", "fingerprint", fp, "error", err)
		http.Error(w, "query failed", http.StatusInternalServerError)
		return
	}
	writeJSON(w, out)
}

type modelTestRequest struct {
	ModelLabel string `json:"modelLabel"`
	Prompt     string `json:"prompt"`
}

type modelTestResponse struct {
	Status  record.Status     `json:"status"`
	Content string            `json:"content,omitempty"`
	Error   string            `json:"error,omitempty"`
	Record  record.CallRecord `json:"record"`
}

// ModelTest drives the full pipeline against the configured model at the
// model-test step, so operators can verify connectivity end to end.
func (h *Handlers) ModelTest(w http.ResponseWriter, r *http.Request) {
	var req modelTestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if req.Prompt == "" {
		req.Prompt = "Reply with the single word: ok"
	}

	res := h.pipe.Call(r.Context(), pipeline.CallInput{
		Step:             record.StepModelTest,
		Route:            r.URL.Path,
		PromptTemplateID: "model-test",
		ModelLabel:       req.ModelLabel,
		Prompt:           req.Prompt,
	})

	out := modelTestResponse{
		Status:  res.Record.Status,
		Content: res.Content,
		Record:  res.Record,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	writeJSON(w, out)
}

func parseFilters(q url.Values) db.Filters {
	return db.Filters{
		Start:      parseTime(q.Get("startDate"), false),
		End:        parseTime(q.Get("endDate"), true),
		Steps:      splitMulti(q["steps"]),
		Statuses:   splitMulti(q["statuses"]),
		Models:     splitMulti(q["models"]),
		PromptID:   q.Get("promptId"),
		ProjectID:  q.Get("projectId"),
		SearchHash: q.Get("searchHash"),
	}
}

func parseTime(s string, endOfDay bool) time.Time {
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		if endOfDay {
			return t.Add(24*time.Hour - time.Millisecond)
		}
		return t
	}
	return time.Time{}
}

// splitMulti accepts both repeated params and comma-joined values.
func splitMulti(vals []string) []string {
	var out []string
	for _, v := range vals {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
