// Package monitor serves the dashboard's read side: filtered listings,
// aggregate statistics and single-call detail reunited from both sinks.
package monitor

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/costwise/aitrace/internal/bundle"
	"github.com/costwise/aitrace/internal/db"
	"github.com/costwise/aitrace/internal/record"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

type Service struct {
	logger *slog.Logger
	dbm    *db.Manager
	root   string
}

func NewService(logger *slog.Logger, dbm *db.Manager, bundleRoot string) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{logger: logger, dbm: dbm, root: bundleRoot}
}

type Page struct {
	Total    int64               `json:"total"`
	Page     int                 `json:"page"`
	PageSize int                 `json:"pageSize"`
	List     []record.CallRecord `json:"list"`
}

// ListLogs returns one newest-first page. Page and pageSize are clamped
// to sane bounds rather than rejected.
func (s *Service) ListLogs(ctx context.Context, f db.Filters, page, pageSize int) (Page, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	list, total, err := s.dbm.ListCalls(ctx, f, pageSize, (page-1)*pageSize)
	if err != nil {
		return Page{}, err
	}
	return Page{Total: total, Page: page, PageSize: pageSize, List: list}, nil
}

type ErrorDistribution struct {
	Timeout int64 `json:"timeout"`
	Parse   int64 `json:"parse"`
	Network int64 `json:"network"`
	Other   int64 `json:"other"`
}

type Stats struct {
	TotalCalls        int64             `json:"totalCalls"`
	SuccessRate       float64           `json:"successRate"`
	AvgDuration       float64           `json:"avgDuration"`
	ErrorDistribution ErrorDistribution `json:"errorDistribution"`
}

// Stats aggregates matching records. The error distribution is a
// heuristic over free-text messages, documented as approximate.
func (s *Service) Stats(ctx context.Context, f db.Filters) (Stats, error) {
	agg, err := s.dbm.AggregateCalls(ctx, f)
	if err != nil {
		return Stats{}, err
	}

	out := Stats{
		TotalCalls:  agg.TotalCalls,
		AvgDuration: agg.AvgDuration,
	}
	if agg.TotalCalls > 0 {
		out.SuccessRate = float64(agg.SuccessCalls) / float64(agg.TotalCalls)
	}

	failures, err := s.dbm.FailureRows(ctx, f)
	if err != nil {
		return Stats{}, err
	}
	for _, fr := range failures {
		switch classifyFailure(fr.Status, fr.ErrorMessage) {
		case bucketTimeout:
			out.ErrorDistribution.Timeout++
		case bucketParse:
			out.ErrorDistribution.Parse++
		case bucketNetwork:
			out.ErrorDistribution.Network++
		default:
			out.ErrorDistribution.Other++
		}
	}
	return out, nil
}

type failureBucket int

const (
	bucketOther failureBucket = iota
	bucketTimeout
	bucketParse
	bucketNetwork
)

var parsePatterns = []string{
	"json", "parse", "unmarshal", "unexpected token", "unexpected end",
}

var networkPatterns = []string{
	"etimedout", "econnrefused", "econnreset", "connection refused",
	"connection reset", "no such host", "network", "dns", "socket",
	"eai_again", "broken pipe",
}

func classifyFailure(status record.Status, msg string) failureBucket {
	if status == record.StatusTimeout {
		return bucketTimeout
	}
	lower := strings.ToLower(msg)
	for _, p := range parsePatterns {
		if strings.Contains(lower, p) {
			return bucketParse
		}
	}
	for _, p := range networkPatterns {
		if strings.Contains(lower, p) {
			return bucketNetwork
		}
	}
	return bucketOther
}

// Detail is a call's index record plus whatever its bundle still holds.
// Every bundle-derived field is nullable; the index record alone is
// always returned.
type Detail struct {
	Meta           record.CallRecord      `json:"meta"`
	Index          *bundle.Index          `json:"index"`
	Request        *bundle.RequestPayload `json:"request"`
	ResponseRaw    *string                `json:"responseRaw"`
	ResponseParsed json.RawMessage        `json:"responseParsed"`
	Notes          *string                `json:"notes"`
}

// Detail resolves the most recent record for the fingerprint prefix and
// reunites it with its bundle. A stale or missing directory pointer falls
// back to a scan under the bundle root; a scan hit opportunistically
// backfills the row for next time. Only a missing index record errors.
func (s *Service) Detail(ctx context.Context, fpPrefix string) (Detail, error) {
	rec, err := s.dbm.LatestByFingerprintPrefix(ctx, fpPrefix)
	if err != nil {
		return Detail{}, err
	}

	out := Detail{Meta: rec}

	if rec.LogDirectory != "" {
		if c, err := bundle.Read(rec.LogDirectory); err == nil && indexTrusted(c.Index, rec) {
			fill(&out, c)
			return out, nil
		}
	}

	dir, ok := bundle.Scan(s.root, rec.Step, rec.RequestFingerprint, rec.CreatedAt)
	if !ok {
		return out, nil
	}
	c, err := bundle.Read(dir)
	if err != nil || !indexTrusted(c.Index, rec) {
		return out, nil
	}
	fill(&out, c)

	if err := s.dbm.SetLogDirectory(ctx, rec.CallID, dir); err != nil {
		s.logger.Warn("log directory repair failed", "call_id", rec.CallID, "error", err)
	} else {
		out.Meta.LogDirectory = dir
	}
	return out, nil
}

// indexTrusted defends against a row whose directory pointer was
// overwritten: the bundle's own fingerprint, when present, must
// prefix-match the record's.
func indexTrusted(idx *bundle.Index, rec record.CallRecord) bool {
	if idx == nil || idx.RequestFingerprint == "" {
		return true
	}
	return strings.HasPrefix(rec.RequestFingerprint, idx.RequestFingerprint) ||
		strings.HasPrefix(idx.RequestFingerprint, rec.RequestFingerprint)
}

func fill(d *Detail, c bundle.Contents) {
	d.Index = c.Index
	d.Request = c.Request
	d.ResponseRaw = c.ResponseRaw
	d.ResponseParsed = c.ResponseParsed
	d.Notes = c.Notes
}
