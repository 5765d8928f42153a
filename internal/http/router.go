package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/domain"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/health"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/ingest"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/metrics"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/queue"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository"
)

// RecordStore is the read surface of the persisted record tables.
type RecordStore interface {
	repository.ActivityRepository
	repository.APICallRepository
	repository.HealthRepository
	repository.CrashRepository
}

type Router struct {
	mux       *http.ServeMux
	logger    *slog.Logger
	store     RecordStore
	monitor   *health.Monitor
	agg       *metrics.Aggregator
	emitter   *metrics.Emitter
	hub       *broadcast.Hub
	queue     *queue.Queue
	recorder  *ingest.Recorder
	upgrader  websocket.Upgrader
	limiter   RateLimiter
	jwtSecret string
	horizons  map[string]time.Duration
	dbHealth  func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault   = time.Minute
	rateWindowRealtime  = 30 * time.Second
	rateLimitRead       = 240
	rateLimitAdminWrite = 30
	rateLimitStream     = 20
	rateLimitSnapshot   = 120
	healthCheckTimeout  = 2 * time.Second
	sseHeartbeat        = 25 * time.Second
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, store RecordStore, monitor *health.Monitor, agg *metrics.Aggregator, emitter *metrics.Emitter, hub *broadcast.Hub, q *queue.Queue, recorder *ingest.Recorder, limiter RateLimiter, jwtSecret string, horizons map[string]time.Duration, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:      http.NewServeMux(),
		logger:   logger,
		store:    store,
		monitor:  monitor,
		agg:      agg,
		emitter:  emitter,
		hub:      hub,
		queue:    q,
		recorder: recorder,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:   limiter,
		jwtSecret: strings.TrimSpace(jwtSecret),
		horizons:  horizons,
		dbHealth:  dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	if len(r.horizons) == 0 {
		r.horizons = map[string]time.Duration{"1h": time.Hour}
	}
	r.initMetrics()
	r.register()
	return r
}

// ServeHTTP delegates to underlying mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit(r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/api/records/activity", r.audit(r.track(r.handlerAuthRate("records_activity", rateLimitRead, rateWindowDefault, r.handleActivityRecords))))
	r.mux.HandleFunc("/api/records/api-calls", r.audit(r.track(r.handlerAuthRate("records_api_calls", rateLimitRead, rateWindowDefault, r.handleAPICallRecords))))
	r.mux.HandleFunc("/api/records/health", r.audit(r.track(r.handlerAuthRate("records_health", rateLimitRead, rateWindowDefault, r.handleHealthRecords))))
	r.mux.HandleFunc("/api/records/crashes", r.audit(r.track(r.handlerAuthRate("records_crashes", rateLimitRead, rateWindowDefault, r.handleCrashRecords))))
	r.mux.HandleFunc("/api/records/crashes/", r.audit(r.track(r.handlerAuthRate("records_crash_item", rateLimitRead, rateWindowDefault, r.handleCrashSubroutes))))
	r.mux.HandleFunc("/api/health/current", r.audit(r.track(r.handlerAuthRate("health_current", rateLimitRead, rateWindowDefault, r.handleCurrentHealth))))
	r.mux.HandleFunc("/api/metrics/window", r.audit(r.track(r.handlerAuthRate("metrics_window", rateLimitRead, rateWindowDefault, r.handleMetricWindow))))
	r.mux.HandleFunc("/api/metrics/horizon", r.audit(r.track(r.handlerAuthRate("metrics_horizon", rateLimitAdminWrite, rateWindowDefault, r.handleMetricHorizon))))
	r.mux.HandleFunc("/api/queue/stats", r.audit(r.track(r.handlerAuthRate("queue_stats", rateLimitRead, rateWindowDefault, r.handleQueueStats))))
	r.mux.HandleFunc("/api/stream/snapshot", r.audit(r.handlerAuthRate("stream_snapshot", rateLimitSnapshot, rateWindowRealtime, r.handleStreamSnapshot)))
	r.mux.HandleFunc("/ws/stream", r.handlerAuthRate("ws_stream", rateLimitStream, rateWindowRealtime, r.handleStreamWS))
	r.mux.HandleFunc("/sse/stream", r.handlerAuthRate("sse_stream", rateLimitStream, rateWindowRealtime, r.handleStreamSSE))
}

// track feeds the request through the ingestion recorder so the query
// surface shows up in its own telemetry.
func (r *Router) track(next http.HandlerFunc) http.HandlerFunc {
	if r.recorder == nil {
		return next
	}
	return func(w http.ResponseWriter, req *http.Request) {
		r.recorder.Middleware(actorFromRequest, next).ServeHTTP(w, req)
	}
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	status := http.StatusOK
	payload := map[string]string{"status": "ok"}
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = http.StatusServiceUnavailable
			payload["status"] = "degraded"
			payload["database"] = err.Error()
		}
	}
	writeJSON(w, status, payload)
}

func (r *Router) handleActivityRecords(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.rejectMutation(w, req)
		return
	}
	filter, err := parseFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := parsePage(req)
	items, total, listErr := r.store.ListActivity(req.Context(), filter, page)
	if listErr != nil {
		r.logger.Error("activity list failed", "error", listErr)
		writeError(w, http.StatusInternalServerError, "failed to list activity records")
		return
	}
	writePage(w, items, total, page)
}

func (r *Router) handleAPICallRecords(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.rejectMutation(w, req)
		return
	}
	filter, err := parseFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := parsePage(req)
	items, total, listErr := r.store.ListAPICalls(req.Context(), filter, page)
	if listErr != nil {
		r.logger.Error("api call list failed", "error", listErr)
		writeError(w, http.StatusInternalServerError, "failed to list api call records")
		return
	}
	writePage(w, items, total, page)
}

func (r *Router) handleHealthRecords(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.rejectMutation(w, req)
		return
	}
	page := parsePage(req)
	items, total, err := r.store.ListHealth(req.Context(), req.URL.Query().Get("component"), page)
	if err != nil {
		r.logger.Error("health list failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list health records")
		return
	}
	writePage(w, items, total, page)
}

func (r *Router) handleCrashRecords(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.rejectMutation(w, req)
		return
	}
	filter, err := parseFilter(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	page := parsePage(req)
	items, total, listErr := r.store.ListCrashes(req.Context(), filter, page)
	if listErr != nil {
		r.logger.Error("crash list failed", "error", listErr)
		writeError(w, http.StatusInternalServerError, "failed to list crash records")
		return
	}
	writePage(w, items, total, page)
}

func (r *Router) handleCrashSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.TrimPrefix(req.URL.Path, "/api/records/crashes/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	crashID := parts[0]
	switch {
	case len(parts) == 1 && req.Method == http.MethodGet:
		record, err := r.store.GetCrashByID(req.Context(), crashID)
		if err != nil {
			r.respondRepoError(w, err, "crash record")
			return
		}
		writeJSON(w, http.StatusOK, record)
	case len(parts) == 2 && parts[1] == "recover" && req.Method == http.MethodPost:
		r.requireRole([]string{broadcast.RoleSuperAdmin}, func(w http.ResponseWriter, req *http.Request) {
			r.handleCrashRecover(w, req, crashID)
		})(w, req)
	default:
		r.rejectMutation(w, req)
	}
}

// handleCrashRecover flips the recovered flag. Repeated calls are no-ops so
// retried requests stay safe.
func (r *Router) handleCrashRecover(w http.ResponseWriter, req *http.Request, crashID string) {
	var payload struct {
		RecoveryMethod string `json:"recovery_method"`
	}
	if req.Body != nil {
		_ = json.NewDecoder(req.Body).Decode(&payload)
	}
	method := strings.TrimSpace(payload.RecoveryMethod)
	if method == "" {
		method = "manual"
	}
	if err := r.store.MarkCrashRecovered(req.Context(), crashID, method, time.Now().UTC()); err != nil {
		r.respondRepoError(w, err, "crash record")
		return
	}
	record, err := r.store.GetCrashByID(req.Context(), crashID)
	if err != nil {
		r.respondRepoError(w, err, "crash record")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (r *Router) handleCurrentHealth(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.monitor != nil {
		if current := r.monitor.CurrentHealth(); len(current) > 0 {
			writeJSON(w, http.StatusOK, map[string]any{"components": current, "source": "live"})
			return
		}
	}
	// monitor not warmed up yet, fall back to the latest persisted probes
	records, err := r.store.LatestHealthByComponent(req.Context())
	if err != nil {
		r.logger.Error("latest health lookup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to resolve component health")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"components": records, "source": "store"})
}

func (r *Router) handleMetricWindow(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	label := strings.TrimSpace(req.URL.Query().Get("horizon"))
	var horizon time.Duration
	switch {
	case label == "":
		horizon = r.emitter.Horizon()
	default:
		known, ok := r.horizons[label]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown metric window: "+label)
			return
		}
		horizon = known
	}
	writeJSON(w, http.StatusOK, r.agg.ComputeWindow(horizon))
}

func (r *Router) handleMetricHorizon(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut && req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	r.requireRole([]string{broadcast.RoleSuperAdmin, broadcast.RoleAdmin}, func(w http.ResponseWriter, req *http.Request) {
		var payload struct {
			Horizon string `json:"horizon"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		horizon, ok := r.horizons[strings.TrimSpace(payload.Horizon)]
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown metric window: "+payload.Horizon)
			return
		}
		r.emitter.SetHorizon(horizon)
		writeJSON(w, http.StatusOK, map[string]string{"horizon": metrics.FormatHorizon(horizon)})
	})(w, req)
}

func (r *Router) handleQueueStats(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	writeJSON(w, http.StatusOK, r.queue.Stats())
}

// rejectMutation answers any write attempt against record resources.
// Telemetry records are immutable once captured.
func (r *Router) rejectMutation(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodPost:
		writeError(w, http.StatusConflict, repository.ErrImmutable.Error())
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) respondRepoError(w http.ResponseWriter, err error, resource string) {
	switch {
	case err == nil:
		return
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, resource+" not found")
	case errors.Is(err, repository.ErrImmutable):
		writeError(w, http.StatusConflict, err.Error())
	default:
		r.logger.Error("repository error", "resource", resource, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

// auditDenied records a permission failure as a critical activity record so
// unauthorized access attempts are queryable later.
func (r *Router) auditDenied(req *http.Request, reason string) {
	if r.recorder == nil {
		return
	}
	r.recorder.RecordActivity(ingest.ActivityInput{
		Actor:        actorFromRequest(req),
		Action:       domain.ActionPermissionChange,
		Route:        req.URL.Path,
		Category:     domain.CategoryCritical,
		ErrorMessage: reason,
		Metadata: map[string]string{
			"method": req.Method,
			"ip":     clientIP(req),
		},
	})
}

func parsePage(req *http.Request) repository.Page {
	query := req.URL.Query()
	number, _ := strconv.Atoi(query.Get("page"))
	size, _ := strconv.Atoi(query.Get("page_size"))
	return repository.Page{Number: number, Size: size}.Normalize()
}

func parseFilter(req *http.Request) (repository.RecordFilter, error) {
	query := req.URL.Query()
	filter := repository.RecordFilter{
		Kind:    strings.TrimSpace(query.Get("kind")),
		ActorID: strings.TrimSpace(query.Get("actor")),
		Search:  strings.TrimSpace(query.Get("q")),
	}
	if raw := strings.TrimSpace(query.Get("from")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid %s timestamp, expected RFC3339", "from")
		}
		filter.From = parsed.UTC()
	}
	if raw := strings.TrimSpace(query.Get("to")); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return filter, fmt.Errorf("invalid %s timestamp, expected RFC3339", "to")
		}
		filter.To = parsed.UTC()
	}
	return filter, nil
}

func (r *Router) audit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w}
		start := time.Now()
		next(recorder, req)

		status := recorder.status
		if status == 0 {
			status = http.StatusOK
		}
		duration := time.Since(start)
		fields := []any{
			"method", req.Method,
			"path", req.URL.Path,
			"status", status,
			"bytes", recorder.bytes,
			"duration_ms", duration.Milliseconds(),
		}
		if ip := clientIP(req); ip != "" {
			fields = append(fields, "ip", ip)
		}
		if reqID := strings.TrimSpace(req.Header.Get("X-Request-ID")); reqID != "" {
			fields = append(fields, "request_id", reqID)
		}

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
		r.recordRequestMetrics(req.Method, req.URL.Path, status, duration)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (sr *statusRecorder) WriteHeader(code int) {
	sr.status = code
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if sr.status == 0 {
		sr.status = http.StatusOK
	}
	n, err := sr.ResponseWriter.Write(b)
	sr.bytes += n
	return n, err
}

func (sr *statusRecorder) Flush() {
	if flusher, ok := sr.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

func (r *Router) applyRateHeaders(w http.ResponseWriter, limit int, decision rateDecision) {
	if limit <= 0 {
		return
	}
	remaining := limit - decision.count
	if remaining < 0 {
		remaining = 0
	}
	headers := w.Header()
	headers.Set("X-RateLimit-Limit", strconv.Itoa(limit))
	headers.Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
	if !decision.windowEnd.IsZero() {
		headers.Set("X-RateLimit-Reset", strconv.FormatInt(decision.windowEnd.Unix(), 10))
	}
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "resource not found")
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func clientIP(req *http.Request) string {
	if fwd := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); fwd != "" {
		parts := strings.Split(fwd, ",")
		return strings.TrimSpace(parts[0])
	}
	host, _, err := net.SplitHostPort(req.RemoteAddr)
	if err != nil {
		return req.RemoteAddr
	}
	return host
}
