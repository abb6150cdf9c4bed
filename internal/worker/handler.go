package worker

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"packserve/internal/logger"
	"packserve/internal/ratelimiter"
	"packserve/pkg/delivery"
	"packserve/pkg/metrics"
	"packserve/pkg/telemetry"
)

// Handler serves archive downloads over HTTP.
//
// Requests under the mount prefix are resolved against the configured file
// roots and streamed back with byte-range and gzip support. Everything else
// is a 404, except the status endpoint.
//
// Each request increments the worker's shared connection counter for the
// duration of the transfer, so the supervisor can aggregate load across
// all workers.
type Handler struct {
	workerID uint32
	prefix   string

	resolver *delivery.Resolver
	planner  *delivery.Planner
	pipeline *delivery.Pipeline

	counter *telemetry.Counter
	limiter *ratelimiter.RateLimiter
	metrics metrics.HTTPMetrics

	started time.Time
}

// HandlerConfig groups the collaborators a Handler needs.
type HandlerConfig struct {
	// WorkerID identifies this worker in logs and status responses.
	WorkerID uint32

	// MountPrefix is the URL prefix files are served under, e.g. "/static".
	MountPrefix string

	Resolver *delivery.Resolver
	Planner  *delivery.Planner
	Pipeline *delivery.Pipeline

	// Counter tracks in-flight transfers. Optional.
	Counter *telemetry.Counter

	// Limiter rejects requests above the configured rate. Optional.
	Limiter *ratelimiter.RateLimiter

	// Metrics records request outcomes. Optional (no-op when nil).
	Metrics metrics.HTTPMetrics
}

// NewHandler creates a request handler from the given collaborators.
func NewHandler(cfg HandlerConfig) *Handler {
	m := cfg.Metrics
	if m == nil {
		m = metrics.NewHTTPMetrics()
	}

	return &Handler{
		workerID: cfg.WorkerID,
		prefix:   strings.TrimSuffix(cfg.MountPrefix, "/"),
		resolver: cfg.Resolver,
		planner:  cfg.Planner,
		pipeline: cfg.Pipeline,
		counter:  cfg.Counter,
		limiter:  cfg.Limiter,
		metrics:  m,
		started:  time.Now(),
	}
}

// statusResponse is the JSON body of the status endpoint.
type statusResponse struct {
	Status            string `json:"status"`
	Message           string `json:"message"`
	Worker            uint32 `json:"worker"`
	Uptime            string `json:"uptime"`
	ActiveConnections int32  `json:"activeConnections"`
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// A panic in the delivery path must not take the worker down.
	defer func() {
		if rec := recover(); rec != nil {
			logger.Error("Panic serving %s %s: %v", r.Method, r.URL.Path, rec)
			http.Error(w, "internal server error", http.StatusInternalServerError)
		}
	}()

	start := time.Now()
	h.metrics.RecordRequestStart()
	defer h.metrics.RecordRequestEnd()

	// Every request counts toward the worker's connection total, whether it
	// reaches the delivery path or not.
	if h.counter != nil {
		done := h.counter.Track()
		defer done()
	}

	if h.limiter != nil && !h.limiter.Allow() {
		logger.Debug("Rate limit exceeded for %s", r.RemoteAddr)
		http.Error(w, "too many requests", http.StatusServiceUnavailable)
		h.metrics.RecordRequest(http.StatusServiceUnavailable, time.Since(start))
		return
	}

	if r.URL.Path == "/status" {
		h.serveStatus(w, r)
		h.metrics.RecordRequest(http.StatusOK, time.Since(start))
		return
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		h.metrics.RecordRequest(http.StatusMethodNotAllowed, time.Since(start))
		return
	}

	rel, ok := strings.CutPrefix(r.URL.Path, h.prefix)
	if !ok || (rel != "" && rel[0] != '/') {
		http.Error(w, "not found", http.StatusNotFound)
		h.metrics.RecordRequest(http.StatusNotFound, time.Since(start))
		return
	}

	file, err := h.resolver.Resolve(rel)
	if err != nil {
		status := delivery.HTTPStatus(err)
		logger.Debug("Resolve %q: %v", r.URL.Path, err)
		http.Error(w, http.StatusText(status), status)
		h.metrics.RecordRequest(status, time.Since(start))
		return
	}

	plan := h.planner.Plan(file, r.Header.Get("Range"), r.Header.Get("Accept-Encoding"))

	sent, err := h.pipeline.Deliver(r.Context(), plan, file, w, r.Method != http.MethodHead)

	// An open failure happens before any header is written, e.g. when the
	// file disappears between the resolver's stat and the open. The client
	// can still get a clean error status.
	if errors.Is(err, delivery.ErrTransfer) {
		logger.Warn("Failed to open %s: %v", file.Path, err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		h.metrics.RecordRequest(http.StatusInternalServerError, time.Since(start))
		return
	}

	h.metrics.RecordBytesSent(sent)
	h.metrics.RecordRequest(plan.Status, time.Since(start))

	if err != nil {
		// Headers are already on the wire at this point. All we can do is
		// drop the connection and note what happened.
		logger.Debug("Transfer of %s failed after %d bytes: %v", file.Path, sent, err)
		return
	}

	logger.Debug("Served %s %s: %d %d bytes in %v",
		r.Method, r.URL.Path, plan.Status, sent, time.Since(start))
}

func (h *Handler) serveStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Status:  "ok",
		Message: "packserve worker running",
		Worker:  h.workerID,
		Uptime:  time.Since(h.started).Round(time.Second).String(),
	}
	if h.counter != nil {
		resp.ActiveConnections = h.counter.Value()
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Debug("Error writing status response: %v", err)
	}
}
