package httpx

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/feedbeacon/feedbeacon/internal/domain"
	"github.com/feedbeacon/feedbeacon/internal/service/appcast"
	"github.com/feedbeacon/feedbeacon/internal/service/directory"
	"github.com/feedbeacon/feedbeacon/internal/service/ingest"
	"github.com/feedbeacon/feedbeacon/internal/service/stats"
	"github.com/feedbeacon/feedbeacon/pkg/config"
)

const healthTimeout = 2 * time.Second

// Router wires the HTTP surface to the services.
type Router struct {
	mux        *http.ServeMux
	logger     *slog.Logger
	ingest     ingest.Service
	appcast    *appcast.Service
	stats      stats.Service
	directory  directory.Service
	limiter    RateLimiter
	adminToken string
	dbHealth   func(context.Context) error

	ingestLimit  int
	appcastLimit int
	rateWindow   time.Duration

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

// NewRouter builds the router. dbHealth probes storage for the health
// endpoint and may be nil in tests.
func NewRouter(
	logger *slog.Logger,
	ingestSvc ingest.Service,
	appcastSvc *appcast.Service,
	statsSvc stats.Service,
	directorySvc directory.Service,
	limiter RateLimiter,
	cfg config.ServerConfig,
	dbHealth func(context.Context) error,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}

	s := &Router{
		mux:          http.NewServeMux(),
		logger:       logger.With("component", "http"),
		ingest:       ingestSvc,
		appcast:      appcastSvc,
		stats:        statsSvc,
		directory:    directorySvc,
		limiter:      limiter,
		adminToken:   cfg.AdminToken,
		dbHealth:     dbHealth,
		ingestLimit:  cfg.IngestRateLimit,
		appcastLimit: cfg.AppcastRateLimit,
		rateWindow:   cfg.RateLimitWindow,
	}
	s.initMetrics()
	s.register()
	return s
}

func (s *Router) register() {
	s.mux.HandleFunc("/healthz", s.audit("/healthz", s.handleHealthz))
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/v1/report", s.audit("/v1/report", s.withRateLimit("/v1/report", s.ingestLimit, s.handleIngest)))
	s.mux.HandleFunc("/appcast/", s.audit("/appcast", s.withRateLimit("/appcast", s.appcastLimit, s.handleAppcast)))
	s.mux.HandleFunc("/v1/apps", s.audit("/v1/apps", s.handleApps))
	s.mux.HandleFunc("/v1/apps/", s.audit("/v1/apps/{bundleID}", s.handleAppSubroutes))
}

func (s *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	s.mux.ServeHTTP(w, req)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	n, err := r.ResponseWriter.Write(b)
	r.bytes += n
	return n, err
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// audit logs the request outcome and feeds the Prometheus counters.
func (s *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w}
		next(rec, req)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}
		elapsed := time.Since(start)
		s.recordRequestMetrics(route, req.Method, rec.status, elapsed)
		s.logger.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"bytes", rec.bytes,
			"duration_ms", elapsed.Milliseconds(),
			"client_ip", rateLimitKeyIP(req),
		)
	}
}

// forwardedClientIP extracts the original client address from proxy
// headers. Reports are keyed on this value before hashing; when no
// forwarding header is present it stays empty and the anonymizer
// substitutes its fallback.
func forwardedClientIP(req *http.Request) string {
	if xff := req.Header.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if ip := strings.TrimSpace(parts[0]); ip != "" {
			return ip
		}
	}
	if ip := strings.TrimSpace(req.Header.Get("X-Real-IP")); ip != "" {
		return ip
	}
	return ""
}

func (s *Router) requireAdmin(w http.ResponseWriter, req *http.Request) bool {
	if s.adminToken == "" {
		s.logger.Error("admin endpoint hit but ADMIN_TOKEN is not configured")
		writeError(w, http.StatusInternalServerError, "admin access not configured")
		return false
	}
	token := req.Header.Get("X-Admin-Token")
	if subtle.ConstantTimeCompare([]byte(token), []byte(s.adminToken)) != 1 {
		writeError(w, http.StatusUnauthorized, "invalid admin token")
		return false
	}
	return true
}

func (s *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if s.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthTimeout)
		defer cancel()
		if err := s.dbHealth(ctx); err != nil {
			s.logger.Error("health check failed", "error", err)
			writeError(w, http.StatusServiceUnavailable, "database unreachable")
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Router) handleIngest(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var payload ingest.Payload
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	report, err := s.ingest.Ingest(req.Context(), payload, forwardedClientIP(req))
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrMissingIdentifier):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingest.ErrUnknownApplication):
			writeError(w, http.StatusNotFound, "unknown application")
		default:
			s.logger.Error("failed to record check-in", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record check-in")
		}
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"status":     "ok",
		"receivedAt": report.ReceivedAt.UTC().Format(time.RFC3339),
	})
}

func (s *Router) handleAppcast(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	filename := strings.TrimPrefix(req.URL.Path, "/appcast/")
	if filename == "" || strings.Contains(filename, "/") {
		writeError(w, http.StatusNotFound, "not found")
		return
	}

	feed, err := s.appcast.Proxy(req.Context(), appcast.Request{
		Filename:  filename,
		Query:     req.URL.Query(),
		UserAgent: req.Header.Get("User-Agent"),
		ClientIP:  forwardedClientIP(req),
	})
	if err != nil {
		var upstreamErr *appcast.UpstreamError
		switch {
		case errors.Is(err, appcast.ErrMissingIdentifier):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, appcast.ErrApplicationNotFound):
			writeError(w, http.StatusNotFound, "application not found")
		case errors.Is(err, appcast.ErrFeedNotConfigured):
			writeError(w, http.StatusNotFound, "no appcast feed configured")
		case errors.As(err, &upstreamErr):
			s.logger.Warn("upstream feed fetch failed", "status", upstreamErr.Status, "error", err)
			writeError(w, http.StatusBadGateway, upstreamErr.Error())
		default:
			s.logger.Error("appcast proxy failed", "error", err)
			writeError(w, http.StatusInternalServerError, "appcast proxy failed")
		}
		return
	}

	contentType := feed.ContentType
	if contentType == "" {
		contentType = "application/xml; charset=utf-8"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
	w.Header().Set("X-Feedbeacon-Proxy", "1")
	if feed.LastModified != "" {
		w.Header().Set("Last-Modified", feed.LastModified)
	}
	if feed.ETag != "" {
		w.Header().Set("ETag", feed.ETag)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(feed.Body)
}

type registerAppRequest struct {
	BundleIdentifier string `json:"bundleIdentifier"`
	Name             string `json:"name"`
	ShortName        string `json:"shortName"`
	FeedURL          string `json:"feedURL"`
}

func (s *Router) handleApps(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodPost:
		s.handleRegisterApp(w, req)
	case http.MethodGet:
		s.handleListApps(w, req)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Router) handleRegisterApp(w http.ResponseWriter, req *http.Request) {
	if !s.requireAdmin(w, req) {
		return
	}

	var body registerAppRequest
	if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	app, err := s.directory.Register(req.Context(), body.BundleIdentifier, body.Name, body.ShortName, body.FeedURL)
	if err != nil {
		switch {
		case errors.Is(err, directory.ErrMissingBundleID), errors.Is(err, directory.ErrMissingName):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, directory.ErrDuplicateBundleID):
			writeError(w, http.StatusConflict, err.Error())
		default:
			s.logger.Error("failed to register application", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to register application")
		}
		return
	}

	writeJSON(w, http.StatusCreated, marshalApplication(app))
}

func (s *Router) handleListApps(w http.ResponseWriter, req *http.Request) {
	if !s.requireAdmin(w, req) {
		return
	}

	limit := queryInt(req, "limit", 50)
	offset := queryInt(req, "offset", 0)

	apps, total, err := s.directory.List(req.Context(), limit, offset)
	if err != nil {
		s.logger.Error("failed to list applications", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list applications")
		return
	}

	items := make([]map[string]any, 0, len(apps))
	for i := range apps {
		items = append(items, marshalApplication(&apps[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"applications": items,
		"total":        total,
	})
}

// handleAppSubroutes dispatches /v1/apps/{bundleID}/... paths.
func (s *Router) handleAppSubroutes(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !s.requireAdmin(w, req) {
		return
	}

	rest := strings.TrimPrefix(req.URL.Path, "/v1/apps/")
	parts := strings.Split(rest, "/")
	if len(parts) < 2 || parts[0] == "" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	bundleID := parts[0]

	switch {
	case len(parts) == 3 && parts[1] == "stats" && parts[2] == "daily":
		s.handleDailyStats(w, req, bundleID)
	case len(parts) == 3 && parts[1] == "stats" && parts[2] == "breakdown":
		s.handleBreakdown(w, req, bundleID)
	case len(parts) == 2 && parts[1] == "reports":
		s.handleRecentReports(w, req, bundleID)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (s *Router) handleDailyStats(w http.ResponseWriter, req *http.Request, bundleID string) {
	days := queryInt(req, "days", 0)

	rows, err := s.stats.Daily(req.Context(), bundleID, days)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"day":           row.Day.UTC().Format("2006-01-02"),
			"uniqueClients": row.UniqueClients,
			"reports":       row.Reports,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bundleIdentifier": bundleID,
		"daily":            items,
	})
}

func (s *Router) handleBreakdown(w http.ResponseWriter, req *http.Request, bundleID string) {
	field := domain.BreakdownField(req.URL.Query().Get("field"))
	days := queryInt(req, "days", 0)

	rows, err := s.stats.Breakdown(req.Context(), bundleID, field, days)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(rows))
	for _, row := range rows {
		items = append(items, map[string]any{
			"value": row.Value,
			"count": row.Count,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bundleIdentifier": bundleID,
		"field":            string(field),
		"breakdown":        items,
	})
}

func (s *Router) handleRecentReports(w http.ResponseWriter, req *http.Request, bundleID string) {
	limit := queryInt(req, "limit", 50)
	offset := queryInt(req, "offset", 0)

	reports, err := s.stats.RecentReports(req.Context(), bundleID, limit, offset)
	if err != nil {
		s.writeStatsError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(reports))
	for i := range reports {
		items = append(items, marshalReport(&reports[i]))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"bundleIdentifier": bundleID,
		"reports":          items,
	})
}

func (s *Router) writeStatsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, stats.ErrUnknownApplication):
		writeError(w, http.StatusNotFound, "unknown application")
	case errors.Is(err, stats.ErrUnknownField):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("stats query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "stats query failed")
	}
}

func marshalApplication(app *domain.Application) map[string]any {
	return map[string]any{
		"id":               app.ID,
		"bundleIdentifier": app.BundleID,
		"name":             app.Name,
		"shortName":        app.ShortName,
		"feedURL":          app.FeedBaseURL,
		"createdAt":        app.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func marshalReport(r *domain.UsageReport) map[string]any {
	item := map[string]any{
		"id":           r.ID,
		"clientHash":   r.ClientHash,
		"appVersion":   r.AppVersion,
		"osVersion":    r.OSVersion,
		"cpuArch":      r.CPUArch,
		"lang":         r.Language,
		"model":        r.Model,
		"identifiedBy": r.IdentifiedBy,
		"receivedAt":   r.ReceivedAt.UTC().Format(time.RFC3339),
	}
	if r.CPU64Bit != nil {
		item["cpu64bit"] = *r.CPU64Bit
	}
	if r.CPUFreqMHz != nil {
		item["cpuFreqMHz"] = *r.CPUFreqMHz
	}
	if r.NumCPU != nil {
		item["ncpu"] = *r.NumCPU
	}
	if r.RAMMB != nil {
		item["ramMB"] = *r.RAMMB
	}
	return item
}

func queryInt(req *http.Request, key string, fallback int) int {
	raw := req.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return value
}
