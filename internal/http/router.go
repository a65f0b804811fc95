package httpx

import (
	"bufio"
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

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/ramsesoriginal/sat-tool/internal/domain"
	"github.com/ramsesoriginal/sat-tool/internal/repository"
	"github.com/ramsesoriginal/sat-tool/internal/service/auth"
	"github.com/ramsesoriginal/sat-tool/internal/service/questionnaire"
	"github.com/ramsesoriginal/sat-tool/internal/ws"
)

// Router wires HTTP endpoints to services.
type Router struct {
	mux           *http.ServeMux
	handler       http.Handler
	logger        *slog.Logger
	auth          auth.Service
	questionnaire questionnaire.Service
	upgrader      websocket.Upgrader
	limiter       RateLimiter
	corsOrigin    string
	dbHealth      func(context.Context) error

	metricsOnce        sync.Once
	metricsInitialized bool
	requestTotal       *prometheus.CounterVec
	requestLatency     *prometheus.HistogramVec
	rateLimitHits      *prometheus.CounterVec
}

const (
	rateWindowDefault  = time.Minute
	rateWindowRealtime = 30 * time.Second
	rateLimitLogin     = 12
	rateLimitWrite     = 60
	rateLimitRead      = 120
	rateLimitWebsocket = 30
	healthCheckTimeout = 2 * time.Second

	genericServerError = "an error occurred during processing"
)

// NewRouter assembles routes with dependencies.
func NewRouter(logger *slog.Logger, authSvc auth.Service, questionnaireSvc questionnaire.Service, limiter RateLimiter, corsOrigin string, dbHealth func(context.Context) error) *Router {
	r := &Router{
		mux:           http.NewServeMux(),
		logger:        logger,
		auth:          authSvc,
		questionnaire: questionnaireSvc,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		limiter:    limiter,
		corsOrigin: corsOrigin,
		dbHealth:   dbHealth,
	}
	if r.limiter == nil {
		r.limiter = NewMemoryRateLimiter()
	}
	r.initMetrics()
	r.register()
	r.handler = r.withCORS(r.mux)
	return r
}

// ServeHTTP delegates to the CORS-wrapped mux.
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

// Close releases background resources.
func (r *Router) Close() {
	if r.limiter != nil {
		r.limiter.Close()
	}
}

func (r *Router) register() {
	r.mux.HandleFunc("/healthz", r.audit("healthz", r.handleHealthz))
	r.mux.Handle("/metrics", promhttp.Handler())
	r.mux.HandleFunc("/token", r.audit("token", r.withRateLimit("token", rateLimitLogin, rateWindowDefault, rateLimitKeyIP, r.handleToken)))
	r.mux.HandleFunc("/users/me", r.audit("users_me", r.handlerAuthRate("users_me", rateLimitRead, rateWindowDefault, r.handleUsersMe)))
	r.mux.HandleFunc("/create_user", r.audit("create_user", r.requireAdmin(r.withRateLimit("create_user", rateLimitWrite, rateWindowDefault, rateLimitKeyUser, r.handleCreateUser))))
	r.mux.HandleFunc("/get_data", r.audit("get_data", r.withRateLimit("get_data", rateLimitRead, rateWindowDefault, rateLimitKeyIP, r.handleGetData)))
	r.mux.HandleFunc("/update_question", r.audit("update_question", r.handlerAuthRate("update_question", rateLimitWrite, rateWindowDefault, r.handleUpdateQuestion)))
	r.mux.HandleFunc("/create_question", r.audit("create_question", r.handlerAuthRate("create_question", rateLimitWrite, rateWindowDefault, r.handleCreateQuestion)))
	r.mux.HandleFunc("/delete_question/", r.audit("delete_question", r.handlerAuthRate("delete_question", rateLimitWrite, rateWindowDefault, r.handleDeleteQuestion)))
	r.mux.HandleFunc("/ws/questionnaire", r.audit("ws_questionnaire", r.handlerAuthRate("ws_questionnaire", rateLimitWebsocket, rateWindowRealtime, r.handleChangesWS)))
}

func (r *Router) handleToken(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	if err := req.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	username := req.PostFormValue("username")
	password := req.PostFormValue("password")
	if username == "" || password == "" {
		writeError(w, http.StatusBadRequest, "username and password are required")
		return
	}
	token, err := r.auth.Login(req.Context(), username, password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthFailed) {
			writeAuthError(w, auth.ErrAuthFailed.Error())
			return
		}
		r.logger.Error("login failed unexpectedly", "error", err)
		writeError(w, http.StatusInternalServerError, genericServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"access_token": token,
		"token_type":   "bearer",
	})
}

func (r *Router) handleUsersMe(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	principal, ok := principalFromContext(req.Context())
	if !ok {
		r.logger.Error("auth context missing after guard", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	writeJSON(w, http.StatusOK, userPayload(principal))
}

func (r *Router) handleCreateUser(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var input auth.CreateUserInput
	if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	user, err := r.auth.CreateUser(req.Context(), input)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, auth.ErrUserExists):
			writeError(w, http.StatusConflict, err.Error())
		default:
			r.logger.Error("user creation failed", "error", err)
			writeError(w, http.StatusInternalServerError, genericServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, userPayload(user))
}

func (r *Router) handleGetData(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	data, err := r.questionnaire.Get(req.Context())
	if err != nil {
		r.logger.Error("questionnaire fetch failed", "error", err)
		writeError(w, http.StatusInternalServerError, genericServerError)
		return
	}
	writeJSON(w, http.StatusOK, data)
}

func (r *Router) handleUpdateQuestion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPut {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		QuestionID   int64  `json:"question_id"`
		QuestionText string `json:"question_text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.QuestionID <= 0 || strings.TrimSpace(payload.QuestionText) == "" {
		writeError(w, http.StatusBadRequest, "question_id and question_text are required")
		return
	}
	question, err := r.questionnaire.Update(req.Context(), payload.QuestionID, payload.QuestionText)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
		r.logger.Error("question update failed", "error", err)
		writeError(w, http.StatusInternalServerError, genericServerError)
		return
	}
	writeJSON(w, http.StatusOK, question)
}

func (r *Router) handleCreateQuestion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodPost {
		r.methodNotAllowed(w)
		return
	}
	var payload struct {
		GroupID      int64  `json:"group_id"`
		QuestionText string `json:"question_text"`
	}
	if err := json.NewDecoder(req.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if payload.GroupID <= 0 || strings.TrimSpace(payload.QuestionText) == "" {
		writeError(w, http.StatusBadRequest, "group_id and question_text are required")
		return
	}
	question, err := r.questionnaire.Create(req.Context(), payload.GroupID, payload.QuestionText)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question group not found")
			return
		}
		r.logger.Error("question creation failed", "error", err)
		writeError(w, http.StatusInternalServerError, genericServerError)
		return
	}
	writeJSON(w, http.StatusCreated, question)
}

func (r *Router) handleDeleteQuestion(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodDelete {
		r.methodNotAllowed(w)
		return
	}
	raw := strings.TrimPrefix(req.URL.Path, "/delete_question/")
	if raw == "" || strings.Contains(raw, "/") {
		r.notFound(w)
		return
	}
	questionID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || questionID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid question id")
		return
	}
	if err := r.questionnaire.Delete(req.Context(), questionID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			writeError(w, http.StatusNotFound, "question not found")
			return
		}
		r.logger.Error("question deletion failed", "error", err)
		writeError(w, http.StatusInternalServerError, genericServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"message": fmt.Sprintf("Question with ID %d deleted successfully", questionID),
	})
}

func (r *Router) handleChangesWS(w http.ResponseWriter, req *http.Request) {
	if _, ok := principalFromContext(req.Context()); !ok {
		r.logger.Error("auth context missing for change stream", "path", req.URL.Path)
		writeError(w, http.StatusInternalServerError, "authorization context missing")
		return
	}
	hub := r.questionnaire.Hub()
	if hub == nil {
		writeError(w, http.StatusNotFound, "change stream disabled")
		return
	}
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		r.logger.Error("websocket upgrade failed", "error", err)
		return
	}
	client := ws.NewClient(conn, r.logger)
	hub.Register(questionnaire.ChangeTopic, client)
	go func() {
		defer func() {
			hub.Unregister(questionnaire.ChangeTopic, client)
			client.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				break
			}
		}
	}()
}

func (r *Router) handleHealthz(w http.ResponseWriter, req *http.Request) {
	if req.Method != http.MethodGet {
		r.methodNotAllowed(w)
		return
	}
	components := make(map[string]any)
	status := "ok"
	if r.dbHealth != nil {
		ctx, cancel := context.WithTimeout(req.Context(), healthCheckTimeout)
		defer cancel()
		if err := r.dbHealth(ctx); err != nil {
			status = "degraded"
			components["database"] = map[string]any{
				"status": "down",
				"error":  err.Error(),
			}
		} else {
			components["database"] = map[string]any{"status": "up"}
		}
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

// userPayload shapes a user record for responses; the password hash stays out.
func userPayload(user *domain.User) map[string]any {
	return map[string]any{
		"username":   user.Username,
		"email":      user.Email,
		"is_admin":   user.IsAdmin,
		"disabled":   user.Disabled,
		"created_at": user.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func (r *Router) audit(route string, next http.HandlerFunc) http.HandlerFunc {
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
		r.recordRequestMetrics(req.Method, route, status, duration)

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
		reqID := strings.TrimSpace(req.Header.Get("X-Request-ID"))
		if reqID == "" {
			reqID = uuid.NewString()
		}
		fields = append(fields, "request_id", reqID)
		if principal, ok := principalFromContext(ctx); ok {
			actor = "user"
			fields = append(fields, "username", principal.Username)
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
}

func (sr *statusRecorder) Flush() {
	if f, ok := sr.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (sr *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := sr.ResponseWriter.(http.Hijacker); ok {
		return h.Hijack()
	}
	return nil, nil, errors.New("hijacker not supported")
}

func (sr *statusRecorder) Push(target string, opts *http.PushOptions) error {
	if p, ok := sr.ResponseWriter.(http.Pusher); ok {
		return p.Push(target, opts)
	}
	return http.ErrNotSupported
}

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
	host, _, err := net.SplitHostPort(strings.TrimSpace(req.RemoteAddr))
	if err != nil {
		return strings.TrimSpace(req.RemoteAddr)
	}
	return host
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

func (r *Router) methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (r *Router) notFound(w http.ResponseWriter) {
	writeError(w, http.StatusNotFound, "not found")
}
