package httpx

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ironsupr/AutoDeployHub/internal/domain"
	"github.com/ironsupr/AutoDeployHub/internal/service/deploy"
	"github.com/ironsupr/AutoDeployHub/internal/service/logs"
	"github.com/ironsupr/AutoDeployHub/internal/service/webhook"
	"github.com/ironsupr/AutoDeployHub/internal/service/workload"
	"github.com/ironsupr/AutoDeployHub/internal/ws"
)

const (
	healthCheckTimeout = 2 * time.Second
	maxWebhookBody     = 5 << 20
)

// Images lists and removes locally built images.
type Images interface {
	ListImages(ctx context.Context, namespace string) ([]domain.Image, error)
	RemoveImage(ctx context.Context, imageID string) error
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Config carries router settings that are not services.
type Config struct {
	JWTSecret      string
	ImageNamespace string
	Registerer     prometheus.Registerer
	Gatherer       prometheus.Gatherer
	Health         map[string]HealthCheck
	Limiter        RateLimiter
}

// Router wires HTTP endpoints to services.
type Router struct {
	mux            *http.ServeMux
	logger         *slog.Logger
	workloads      workload.Service
	deploy         deploy.Service
	logs           logs.Service
	webhook        webhook.Service
	images         Images
	upgrader       websocket.Upgrader
	jwtSecret      string
	imageNamespace string
	gatherer       prometheus.Gatherer
	health         map[string]HealthCheck
	limiter        RateLimiter
	requestTotal   *prometheus.CounterVec
	requestLatency *prometheus.HistogramVec
	rateLimitHits  *prometheus.CounterVec
}

// NewRouter assembles routes with dependencies. images may be nil when no
// docker daemon is reachable. Without a limiter an in-memory one is used.
func NewRouter(logger *slog.Logger, workloadSvc workload.Service, deploySvc deploy.Service, logSvc logs.Service, webhookSvc webhook.Service, images Images, cfg Config) *Router {
	r := &Router{
		mux:       http.NewServeMux(),
		logger:    logger,
		workloads: workloadSvc,
		deploy:    deploySvc,
		logs:      logSvc,
		webhook:   webhookSvc,
		images:    images,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		jwtSecret:      cfg.JWTSecret,
		imageNamespace: cfg.ImageNamespace,
		gatherer:       cfg.Gatherer,
		health:         cfg.Health,
		limiter:        cfg.Limiter,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if r.gatherer == nil {
		r.gatherer = prometheus.DefaultGatherer
	}
	r.initMetrics(reg)
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
	r.mux.Handle("/metrics", promhttp.HandlerFor(r.gatherer, promhttp.HandlerOpts{}))
	r.mux.HandleFunc("/healthz", r.audit(r.instrument("/healthz", r.handleHealthz)))
	r.mux.HandleFunc("/workloads", r.audit(r.instrument("/workloads", r.handlerAuthRate("/workloads", rateLimitUserWrite, rateWindowDefault, r.handleWorkloads))))
	r.mux.HandleFunc("/workloads/", r.audit(r.instrument("/workloads/:id", r.handlerAuthRate("/workloads/:id", rateLimitUserWrite, rateWindowDefault, r.handleWorkloadSubroutes))))
	r.mux.HandleFunc("/attempts", r.audit(r.instrument("/attempts", r.handlerAuthRate("/attempts", rateLimitUserRead, rateWindowDefault, r.handleAttempts))))
	r.mux.HandleFunc("/attempts/", r.audit(r.instrument("/attempts/:id", r.handlerAuthRate("/attempts/:id", rateLimitUserRead, rateWindowDefault, r.handleAttempt))))
	r.mux.HandleFunc("/images", r.audit(r.instrument("/images", r.handlerAuthRate("/images", rateLimitUserRead, rateWindowDefault, r.handleImages))))
	r.mux.HandleFunc("/images/", r.audit(r.instrument("/images/:id", r.handlerAuthRate("/images/:id", rateLimitUserWrite, rateWindowDefault, r.handleImage))))
	r.mux.HandleFunc("/ws/logs", r.audit(r.handlerAuthRate("/ws/logs", rateLimitWebsocket, rateWindowRealtime, r.handleLogsWS)))
	r.mux.HandleFunc("/webhooks/github", r.audit(r.instrument("/webhooks/github", r.withRateLimit("/webhooks/github", rateLimitWebhook, rateWindowDefault, rateLimitKeyIP, r.handleGitHubWebhook))))
}

func (r *Router) handleWorkloads(w http.ResponseWriter, req *http.Request) {
	switch req.Method {
	case http.MethodGet:
		workloads, err := r.workloads.List(req.Context())
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		if workloads == nil {
			workloads = []domain.Workload{}
		}
		writeJSON(w, http.StatusOK, workloads)
	case http.MethodPost:
		var payload struct {
			Name    string `json:"name"`
			RepoURL string `json:"repo_url"`
			Branch  string `json:"branch"`
		}
		if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		created, err := r.workloads.Create(req.Context(), workload.CreateInput{
			Name:    payload.Name,
			RepoURL: payload.RepoURL,
			Branch:  payload.Branch,
		})
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleWorkloadSubroutes(w http.ResponseWriter, req *http.Request) {
	trimmed := strings.Trim(strings.TrimPrefix(req.URL.Path, "/workloads/"), "/")
	if trimmed == "" {
		r.notFound(w)
		return
	}
	parts := strings.Split(trimmed, "/")
	workloadID := parts[0]
	if len(parts) == 1 {
		r.handleWorkload(w, req, workloadID)
		return
	}
	if len(parts) > 2 {
		r.notFound(w)
		return
	}
	switch parts[1] {
	case "deploy":
		r.handleDeploy(w, req, workloadID)
	case "rollback":
		r.handleRollback(w, req, workloadID)
	case "attempts":
		r.handleWorkloadAttempts(w, req, workloadID)
	default:
		r.notFound(w)
	}
}

func (r *Router) handleWorkload(w http.ResponseWriter, req *http.Request, workloadID string) {
	switch req.Method {
	case http.MethodGet:
		found, err := r.workloads.Get(req.Context(), workloadID)
		if err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		writeJSON(w, http.StatusOK, found)
	case http.MethodDelete:
		if err := r.workloads.Delete(req.Context(), workloadID); err != nil {
			r.writeServiceError(w, req, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		r.methodNotAllowed(w)
	}
}

func (r *Router) handleDeploy(w http.ResponseWriter, req *http.Request, workloadID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		Reference string `json:"reference"`
	}
	if err := decodeOptionalJSON(req.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	attempt, err := r.deploy.Deploy(req.Context(), workloadID, payload.Reference)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeAttempt(w, attempt)
}

func (r *Router) handleRollback(w http.ResponseWriter, req *http.Request, workloadID string) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		AttemptID string `json:"attempt_id"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(payload.AttemptID) == "" {
		writeError(w, http.StatusBadRequest, "attempt_id is required")
		return
	}
	attempt, err := r.deploy.Rollback(req.Context(), workloadID, payload.AttemptID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeAttempt(w, attempt)
}

func (r *Router) handleWorkloadAttempts(w http.ResponseWriter, req *http.Request, workloadID string) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, ok := parseLimit(w, req)
	if !ok {
		return
	}
	attempts, err := r.deploy.ListByWorkload(req.Context(), workloadID, limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeAttempts(w, attempts)
}

func (r *Router) handleAttempts(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	limit, ok := parseLimit(w, req)
	if !ok {
		return
	}
	attempts, err := r.deploy.ListRecent(req.Context(), limit)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeAttempts(w, attempts)
}

func (r *Router) handleAttempt(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	attemptID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/attempts/"), "/")
	if attemptID == "" || strings.Contains(attemptID, "/") {
		r.notFound(w)
		return
	}
	attempt, err := r.deploy.Get(req.Context(), attemptID)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (r *Router) handleImages(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	if r.images == nil {
		writeError(w, http.StatusServiceUnavailable, "docker is not available")
		return
	}
	images, err := r.images.ListImages(req.Context(), r.imageNamespace)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if images == nil {
		images = []domain.Image{}
	}
	writeJSON(w, http.StatusOK, images)
}

func (r *Router) handleImage(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	if r.images == nil {
		writeError(w, http.StatusServiceUnavailable, "docker is not available")
		return
	}
	imageID := strings.Trim(strings.TrimPrefix(req.URL.Path, "/images/"), "/")
	if imageID == "" {
		r.notFound(w)
		return
	}
	if err := r.images.RemoveImage(req.Context(), imageID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "removed", "id": imageID})
}

func (r *Router) handleLogsWS(w http.ResponseWriter, req *http.Request) {
	workloadID := strings.TrimSpace(req.URL.Query().Get("workload_id"))
	if workloadID == "" {
		writeError(w, http.StatusBadRequest, "workload_id query parameter required")
		return
	}
	if _, err := r.workloads.Get(req.Context(), workloadID); err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	r.logs.Hub().Register(workloadID, client)
	go func() {
		defer func() {
			r.logs.Hub().Unregister(workloadID, client)
			client.Close()
		}()
		client.Drain()
	}()
}

func (r *Router) handleGitHubWebhook(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	body, err := io.ReadAll(io.LimitReader(req.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "could not read body")
		return
	}
	if err := r.webhook.ValidateSignature(body, req.Header.Get(webhook.HeaderSignature)); err != nil {
		writeError(w, http.StatusUnauthorized, err.Error())
		return
	}
	switch event := req.Header.Get(webhook.HeaderEvent); event {
	case webhook.EventPing:
		writeJSON(w, http.StatusOK, map[string]string{"status": "pong"})
		return
	case webhook.EventPush:
	default:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "ignored", "event": event})
		return
	}
	push, err := webhook.ParsePush(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	triggered, err := r.deploy.HandlePush(req.Context(), push)
	if err != nil {
		r.writeServiceError(w, req, err)
		return
	}
	if triggered == nil {
		triggered = []string{}
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"status": "queued", "workloads": triggered})
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	for name, check := range r.health {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		err := check(ctx)
		cancel()
		if err != nil {
			status = "degraded"
			components[name] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
			continue
		}
		components[name] = map[string]any{"status": "up"}
	}
	payload := map[string]any{
		"status":     status,
		"components": components,
		"timestamp":  time.Now().UTC().Format(time.RFC3339Nano),
	}
	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, payload)
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
		ctx := recorder.ctx
		if ctx == nil {
			ctx = req.Context()
		}
		duration := time.Since(start)
		actor := "anonymous"
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
		if info, ok := authInfoFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "subject", info.Subject)
		} else if strings.HasPrefix(req.URL.Path, "/webhooks/") {
			actor = "webhook"
		}
		fields = append(fields, "actor", actor)

		switch {
		case status >= http.StatusInternalServerError:
			r.logger.Error("http_request", fields...)
		case status >= http.StatusBadRequest:
			r.logger.Warn("http_request", fields...)
		default:
			r.logger.Info("http_request", fields...)
		}
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
	bytes  int
	ctx    context.Context
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

func (sr *statusRecorder) SetContext(ctx context.Context) {
	sr.ctx = ctx
	if setter, ok := sr.ResponseWriter.(contextSetter); ok {
		setter.SetContext(ctx)
	}
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := sr.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("hijacker not supported")
	}
	conn, rw, err := h.Hijack()
	if err == nil {
		sr.status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// clientIP prefers X-Forwarded-For and is only used for logging.
func clientIP(req *http.Request) string {
	if forwarded := strings.TrimSpace(req.Header.Get("X-Forwarded-For")); forwarded != "" {
		parts := strings.Split(forwarded, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if ip != "" {
				return ip
			}
		}
	}
	return remoteIP(req)
}

func remoteIP(req *http.Request) string {
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
}

func parseLimit(w http.ResponseWriter, req *http.Request) (int, bool) {
	raw := strings.TrimSpace(req.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

// decodeOptionalJSON accepts an empty body.
func decodeOptionalJSON(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func writeAttempts(w http.ResponseWriter, attempts []domain.Attempt) {
	if attempts == nil {
		attempts = []domain.Attempt{}
	}
	writeJSON(w, http.StatusOK, attempts)
}

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
