// Package admin exposes the operator HTTP API: engine status and manual
// block overrides.
package admin

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"firestige.xyz/floodgate/internal/core"
	"firestige.xyz/floodgate/internal/dispatch"
	"firestige.xyz/floodgate/internal/ledger"
	"firestige.xyz/floodgate/internal/mitigation"
	"firestige.xyz/floodgate/internal/monitor"
)

// maxDetections caps the detections listed by /status.
const maxDetections = 100

// Engine is the part of the event loop the API drives.
type Engine interface {
	Counters() monitor.Counters
	Gate() *mitigation.Gate
	Ledger() *ledger.Ledger
	Now() time.Time
	ForceBlock(ctx context.Context, src core.Source, d time.Duration) time.Time
	Unblock(ctx context.Context, src core.Source)
}

// Handler serves the admin API.
type Handler struct {
	engine   Engine
	dispatch func() dispatch.Stats
	limiter  *ClientLimiter
}

// NewHandler creates a handler over engine. dispatchStats may be nil.
func NewHandler(engine Engine, dispatchStats func() dispatch.Stats) *Handler {
	return &Handler{engine: engine, dispatch: dispatchStats}
}

// WithRateLimit throttles every route per client IP. rps <= 0 leaves the
// API unthrottled.
func (h *Handler) WithRateLimit(rps float64, burst int) *Handler {
	if rps > 0 {
		h.limiter = NewClientLimiter(rps, max(burst, 1))
	}
	return h
}

// RegisterRoutes registers the admin routes on mux.
func (h *Handler) RegisterRoutes(mux interface {
	Handle(pattern string, handler http.Handler)
}) {
	mux.Handle("GET /status", h.wrap(h.handleStatus))
	mux.Handle("POST /block", h.wrap(h.handleBlock))
	mux.Handle("POST /unblock", h.wrap(h.handleUnblock))
}

func (h *Handler) wrap(fn http.HandlerFunc) http.Handler {
	if h.limiter == nil {
		return fn
	}
	return h.limiter.Middleware(fn)
}

// Status is the /status response.
type Status struct {
	Now        time.Time          `json:"now"`
	Total      uint64             `json:"total"`
	Counters   monitor.Counters   `json:"counters"`
	Gate       mitigation.Stats   `json:"gate"`
	Detections []ledger.Detection `json:"detections,omitempty"`
	Ledger     *ledger.Summary    `json:"ledger,omitempty"`
	Dispatch   *dispatch.Stats    `json:"dispatch,omitempty"`
}

// BlockResponse answers /block and /unblock.
type BlockResponse struct {
	Source  core.Source `json:"source"`
	Blocked bool        `json:"blocked"`
	Until   time.Time   `json:"until,omitzero"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	now := h.engine.Now()
	c := h.engine.Counters()
	st := Status{
		Now:      now,
		Total:    c.Total(),
		Counters: c,
		Gate:     h.engine.Gate().Stats(now, true),
	}
	if led := h.engine.Ledger(); led != nil {
		dets := led.Snapshot()
		if len(dets) > maxDetections {
			dets = dets[:maxDetections]
		}
		sum := led.Summary()
		st.Detections = dets
		st.Ledger = &sum
	}
	if h.dispatch != nil {
		ds := h.dispatch()
		st.Dispatch = &ds
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) handleBlock(w http.ResponseWriter, r *http.Request) {
	src := core.Source(r.URL.Query().Get("source"))
	if src == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}

	var d time.Duration
	if raw := r.URL.Query().Get("duration"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "duration must be a non-negative Go duration such as 90s")
			return
		}
		d = parsed
	}

	until := h.engine.ForceBlock(r.Context(), src, d)
	slog.Info("admin block", "source", src, "until", until, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, BlockResponse{Source: src, Blocked: true, Until: until})
}

func (h *Handler) handleUnblock(w http.ResponseWriter, r *http.Request) {
	src := core.Source(r.URL.Query().Get("source"))
	if src == "" {
		writeError(w, http.StatusBadRequest, "source is required")
		return
	}
	h.engine.Unblock(r.Context(), src)
	slog.Info("admin unblock", "source", src, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, BlockResponse{Source: src, Blocked: false})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
