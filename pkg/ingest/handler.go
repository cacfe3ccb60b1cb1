package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/valyala/fastjson"

	"github.com/nicktill/tinylog/pkg/config"
	"github.com/nicktill/tinylog/pkg/httpx"
	"github.com/nicktill/tinylog/pkg/queue"
	"github.com/nicktill/tinylog/pkg/record"
	"github.com/nicktill/tinylog/pkg/storage"
	"github.com/nicktill/tinylog/pkg/worker"
)

// DefaultCategory is assigned to ingested records without a category
const DefaultCategory = "default"

// maxReportedErrors caps the per-record errors echoed back to the client
const maxReportedErrors = 10

// Pipeline exposes the background worker's counters
type Pipeline interface {
	Stats() worker.Stats
}

// HandlerConfig configures the ingest handler
type HandlerConfig struct {
	// MinLevel drops ingested records below it (they count as filtered, not rejected)
	MinLevel record.Level

	// Pipeline is optional; when set its counters are served by the stats endpoints
	Pipeline Pipeline
}

// Handler serves log ingestion, query and stats endpoints
type Handler struct {
	queue    *queue.Queue
	storage  storage.Storage
	sources  *SourceTracker
	minLevel record.Level
	pipeline Pipeline
	parser   fastjson.ParserPool

	accepted [record.LevelNone]atomic.Uint64
	rejected atomic.Uint64
	filtered atomic.Uint64
}

// NewHandler creates a new ingest handler
func NewHandler(q *queue.Queue, store storage.Storage, cfg HandlerConfig) *Handler {
	return &Handler{
		queue:    q,
		storage:  store,
		sources:  NewSourceTracker(),
		minLevel: cfg.MinLevel,
		pipeline: cfg.Pipeline,
	}
}

// IngestResponse represents the ingest response payload
type IngestResponse struct {
	Status   string   `json:"status"`
	Accepted int      `json:"accepted"`
	Rejected int      `json:"rejected"`
	Filtered int      `json:"filtered,omitempty"`
	Errors   []string `json:"errors,omitempty"`
}

// HandleIngest handles POST /v1/logs. The body is a single JSON object or an
// array of objects: {level, category|logger, message|msg, exception|error,
// host, timestamp}. Valid records are queued for the worker; invalid ones are
// counted and reported without failing the request.
func (h *Handler) HandleIngest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, config.IngestMaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httpx.RespondError(w, http.StatusRequestEntityTooLarge, err)
			return
		}
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("failed to read body: %w", err))
		return
	}

	p := h.parser.Get()
	defer h.parser.Put(p)

	v, err := p.ParseBytes(body)
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: %w", err))
		return
	}

	var items []*fastjson.Value
	switch v.Type() {
	case fastjson.TypeArray:
		items, _ = v.Array()
	case fastjson.TypeObject:
		items = []*fastjson.Value{v}
	default:
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("invalid JSON: expected object or array, got %s", v.Type()))
		return
	}

	if len(items) > MaxRecordsPerRequest {
		httpx.RespondError(w, http.StatusBadRequest, fmt.Errorf("%w: got %d", ErrTooManyRecords, len(items)))
		return
	}

	remoteHost := remoteHost(r.RemoteAddr)
	now := time.Now().UTC()

	var resp IngestResponse
	reject := func(i int, err error) {
		resp.Rejected++
		if len(resp.Errors) < maxReportedErrors {
			resp.Errors = append(resp.Errors, fmt.Sprintf("record %d: %v", i, err))
		}
	}

	for i, item := range items {
		entry, err := parseEntry(item, remoteHost, now)
		if err != nil {
			reject(i, err)
			continue
		}
		if err := ValidateEntry(entry, now); err != nil {
			reject(i, err)
			continue
		}
		if !entry.Level.Enabled(h.minLevel) {
			resp.Filtered++
			continue
		}
		if err := h.sources.Check(entry.Host, entry.Category); err != nil {
			reject(i, err)
			continue
		}

		h.queue.Push(record.FromEntry(entry))
		h.sources.Record(entry.Host, entry.Category)
		h.accepted[entry.Level].Add(1)
		resp.Accepted++
	}

	h.rejected.Add(uint64(resp.Rejected))
	h.filtered.Add(uint64(resp.Filtered))

	resp.Status = "accepted"
	if resp.Accepted == 0 && resp.Rejected > 0 {
		resp.Status = "rejected"
	}
	httpx.RespondJSON(w, http.StatusAccepted, resp)
}

// parseEntry maps one JSON object onto a record entry. The level may be a
// name or a number; the timestamp may be RFC3339 or Unix nanoseconds.
func parseEntry(v *fastjson.Value, defaultHost string, now time.Time) (record.Entry, error) {
	if v.Type() != fastjson.TypeObject {
		return record.Entry{}, fmt.Errorf("expected object, got %s", v.Type())
	}

	entry := record.Entry{
		Level:     record.LevelInfo,
		Host:      string(v.GetStringBytes("host")),
		Category:  firstString(v, "category", "logger"),
		Message:   firstString(v, "message", "msg"),
		Exception: firstString(v, "exception", "error"),
		Timestamp: now,
	}

	if lv := v.Get("level"); lv != nil {
		switch lv.Type() {
		case fastjson.TypeString:
			level, err := record.ParseLevel(string(lv.GetStringBytes()))
			if err != nil {
				return record.Entry{}, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
			}
			entry.Level = level
		case fastjson.TypeNumber:
			n, err := lv.Int()
			if err != nil {
				return record.Entry{}, fmt.Errorf("%w: %v", ErrInvalidLevel, err)
			}
			if n < int(record.LevelTrace) || n > int(record.LevelNone) {
				return record.Entry{}, fmt.Errorf("%w: %d", ErrInvalidLevel, n)
			}
			entry.Level = record.Level(n)
		default:
			return record.Entry{}, fmt.Errorf("%w: unexpected %s", ErrInvalidLevel, lv.Type())
		}
	}

	if tv := v.Get("timestamp"); tv != nil {
		switch tv.Type() {
		case fastjson.TypeString:
			ts, err := time.Parse(time.RFC3339Nano, string(tv.GetStringBytes()))
			if err != nil {
				return record.Entry{}, fmt.Errorf("invalid timestamp: %w", err)
			}
			entry.Timestamp = ts.UTC()
		case fastjson.TypeNumber:
			ns, err := tv.Int64()
			if err != nil {
				return record.Entry{}, fmt.Errorf("invalid timestamp: %w", err)
			}
			if ns > 0 {
				entry.Timestamp = time.Unix(0, ns).UTC()
			}
		}
	}

	if entry.Host == "" {
		entry.Host = defaultHost
	}
	if entry.Category == "" {
		entry.Category = DefaultCategory
	}
	return entry, nil
}

func firstString(v *fastjson.Value, keys ...string) string {
	for _, k := range keys {
		if s := v.GetStringBytes(k); len(s) > 0 {
			return string(s)
		}
	}
	return ""
}

// remoteHost strips the port from a remote address
func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// QueryResponse represents the query response payload
type QueryResponse struct {
	Logs  []record.Entry `json:"logs"`
	Count int            `json:"count"`
	Start time.Time      `json:"start"`
	End   time.Time      `json:"end"`
}

// HandleQuery handles GET /v1/logs?start&end&level&category&host&limit.
// start and end accept RFC3339 or Unix seconds; the default window is the last hour.
func (h *Handler) HandleQuery(w http.ResponseWriter, r *http.Request) {
	req, err := parseQueryRequest(r, time.Now().UTC())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), config.IngestQueryTimeout)
	defer cancel()

	records, err := h.storage.Query(ctx, req)
	if err != nil {
		log.Printf("Query failed: %v", err)
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("query failed: %w", err))
		return
	}

	resp := QueryResponse{
		Logs:  make([]record.Entry, len(records)),
		Count: len(records),
		Start: req.Start,
		End:   req.End,
	}
	for i, rec := range records {
		resp.Logs[i] = rec.Entry()
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}

func parseQueryRequest(r *http.Request, now time.Time) (storage.QueryRequest, error) {
	q := r.URL.Query()

	req := storage.QueryRequest{
		End:      now,
		Category: q.Get("category"),
		Host:     q.Get("host"),
		Limit:    config.IngestDefaultQueryLimit,
	}

	if s := q.Get("end"); s != "" {
		end, err := parseTime(s)
		if err != nil {
			return req, fmt.Errorf("invalid end: %w", err)
		}
		req.End = end
	}
	req.Start = req.End.Add(-config.IngestDefaultQueryWindow)
	if s := q.Get("start"); s != "" {
		start, err := parseTime(s)
		if err != nil {
			return req, fmt.Errorf("invalid start: %w", err)
		}
		req.Start = start
	}

	if req.End.Before(req.Start) {
		return req, fmt.Errorf("end %s is before start %s", req.End.Format(time.RFC3339), req.Start.Format(time.RFC3339))
	}
	if req.End.Sub(req.Start) > config.IngestMaxQueryWindow {
		return req, fmt.Errorf("query window too large (max %v)", config.IngestMaxQueryWindow)
	}

	if s := q.Get("level"); s != "" {
		level, err := record.ParseLevel(s)
		if err != nil {
			return req, err
		}
		req.MinLevel = level
	}

	if s := q.Get("limit"); s != "" {
		limit, err := strconv.Atoi(s)
		if err != nil || limit <= 0 {
			return req, fmt.Errorf("invalid limit %q", s)
		}
		req.Limit = min(limit, config.IngestMaxQueryLimit)
	}

	return req, nil
}

func parseTime(s string) (time.Time, error) {
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// IngestStats summarises what the ingest endpoint has seen
type IngestStats struct {
	Accepted map[string]uint64 `json:"accepted"`
	Rejected uint64            `json:"rejected"`
	Filtered uint64            `json:"filtered"`
}

// Stats returns ingest counters
func (h *Handler) Stats() IngestStats {
	stats := IngestStats{
		Accepted: make(map[string]uint64, len(h.accepted)),
		Rejected: h.rejected.Load(),
		Filtered: h.filtered.Load(),
	}
	for lvl := range h.accepted {
		stats.Accepted[record.Level(lvl).String()] = h.accepted[lvl].Load()
	}
	return stats
}

// StatsResponse represents the stats response payload
type StatsResponse struct {
	Storage *storage.Stats `json:"storage"`
	Queued  int            `json:"queued"`
	Worker  *worker.Stats  `json:"worker,omitempty"`
	Ingest  IngestStats    `json:"ingest"`
	Sources SourceStats    `json:"sources"`
}

// HandleStats handles GET /v1/stats
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), config.IngestStatsTimeout)
	defer cancel()

	storageStats, err := h.storage.Stats(ctx)
	if err != nil {
		httpx.RespondError(w, http.StatusInternalServerError, fmt.Errorf("failed to get storage stats: %w", err))
		return
	}

	resp := StatsResponse{
		Storage: storageStats,
		Queued:  h.queue.Len(),
		Ingest:  h.Stats(),
		Sources: h.sources.Stats(),
	}
	if h.pipeline != nil {
		ws := h.pipeline.Stats()
		resp.Worker = &ws
	}
	httpx.RespondJSON(w, http.StatusOK, resp)
}
