// Package http implements the REST API of the schedule sync service:
// health checks, read endpoints for students and administrative sync triggers.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/unischedule/schedule-sync/internal/application/command"
	"github.com/unischedule/schedule-sync/internal/application/query"
	"github.com/unischedule/schedule-sync/internal/domain/schedule"
	"github.com/unischedule/schedule-sync/internal/infrastructure/scheduler"
	"github.com/unischedule/schedule-sync/internal/interface/http/handlers"
	"github.com/unischedule/schedule-sync/pkg/logger"
	"github.com/unischedule/schedule-sync/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Address - host:port to bind (default: ":8080").
	Address string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// MaxHeaderBytes - maximum size of request headers.
	MaxHeaderBytes int

	// RateLimitPerMinute - requests per minute per IP (0 = disabled).
	RateLimitPerMinute int

	// APIKeyHeader - header name for admin API key authentication.
	APIKeyHeader string

	// AdminAPIKeys - keys for /api/v1/sync and /api/v1/jobs. Empty = open.
	AdminAPIKeys []string

	// Version is reported by /health.
	Version string
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Address:            ":8080",
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       60 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20, // 1 MB
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// SyncService запускает синхронизацию. Реализация: command.SyncSchedulesHandler.
type SyncService interface {
	SyncAll(ctx context.Context, cmd command.SyncAllCommand) (*command.SyncAllResult, error)
	SyncSingle(ctx context.Context, scheduleID int64) (*command.SyncSingleResult, error)
}

// ScheduleService отдаёт занятия подгруппы. Реализация: query.GetScheduleHandler.
type ScheduleService interface {
	ForDate(ctx context.Context, subgroupID int64, date time.Time) (*query.ScheduleDTO, error)
	ForWeek(ctx context.Context, subgroupID int64, weekStart time.Time) (*query.ScheduleDTO, error)
	Today(ctx context.Context, subgroupID int64) (*query.ScheduleDTO, error)
	Tomorrow(ctx context.Context, subgroupID int64) (*query.ScheduleDTO, error)
	CurrentWeek(ctx context.Context, subgroupID int64) (*query.ScheduleDTO, error)
}

// BrowseService - навигация по структуре. Реализация: query.BrowseGroupsHandler.
type BrowseService interface {
	Specialities(ctx context.Context) ([]query.SpecialityDTO, error)
	Courses(ctx context.Context, specialityID int64) ([]int, error)
	Streams(ctx context.Context, specialityID int64, course int) ([]string, error)
	Groups(ctx context.Context, specialityID int64, course int, stream string) ([]query.GroupDTO, error)
	Subgroups(ctx context.Context, groupID int64) ([]query.SubgroupDTO, error)
}

// JobMonitor exposes scheduler state. Реализация: *scheduler.Scheduler.
type JobMonitor interface {
	ListJobs() []scheduler.JobInfo
	GetJobInfo(name string) (*scheduler.JobInfo, error)
	GetHistory(limit int) []scheduler.JobResult
	RunNow(ctx context.Context, name string) (*scheduler.JobResult, error)
	Metrics() scheduler.MetricsSnapshot
}

// Dependencies contains all dependencies required by HTTP handlers.
// Nil services disable their routes.
type Dependencies struct {
	Sync     SyncService
	Schedule ScheduleService
	Browse   BrowseService
	Runs     schedule.SyncRunRepository
	Jobs     JobMonitor

	Health handlers.HealthChecker
	Logger *slog.Logger
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server represents the HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	httpServer *http.Server
	router     *http.ServeMux
	logger     *slog.Logger
	auth       *handlers.APIKeyAuth
	limiter    *handlers.IPRateLimiter

	// фоновые синхронизации, запущенные через POST /api/v1/sync
	bgCtx    context.Context
	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
	syncing  atomic.Bool

	// Server state
	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with the given configuration and dependencies.
func NewServer(config Config, deps Dependencies) *Server {
	if config.Address == "" {
		config.Address = DefaultConfig().Address
	}

	s := &Server{
		config: config,
		deps:   deps,
		router: http.NewServeMux(),
		logger: logger.OrDefault(deps.Logger).With(logger.Component("http")),
		auth:   handlers.NewAPIKeyAuth(config.APIKeyHeader, config.AdminAPIKeys),
	}
	s.bgCtx, s.bgCancel = context.WithCancel(context.Background())

	if config.RateLimitPerMinute > 0 {
		s.limiter = handlers.NewIPRateLimiter(config.RateLimitPerMinute)
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           config.Address,
		Handler:        s.Handler(),
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// Handler returns the router wrapped with the middleware chain.
func (s *Server) Handler() http.Handler {
	middlewares := []handlers.MiddlewareFunc{
		s.recoveryMiddleware,
		s.requestIDMiddleware,
		s.loggingMiddleware,
		handlers.SecurityHeadersMiddleware,
	}
	if s.limiter != nil {
		middlewares = append(middlewares, s.limiter.Middleware)
	}
	return handlers.Chain(s.router, middlewares...)
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	// ─────────────────────────────────────────────────────────────────────────
	// Health & Status Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	s.router.HandleFunc("GET /health", s.handleHealth)
	s.router.HandleFunc("GET /healthz", s.handleHealth) // Kubernetes alias
	s.router.HandleFunc("GET /live", s.handleLive)

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Public Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	if s.deps.Schedule != nil {
		s.router.HandleFunc("GET /api/v1/subgroups/{id}/lessons", s.handleLessons)
		s.router.HandleFunc("GET /api/v1/subgroups/{id}/week", s.handleWeek)
	}
	if s.deps.Browse != nil {
		s.router.HandleFunc("GET /api/v1/specialities", s.handleSpecialities)
		s.router.HandleFunc("GET /api/v1/specialities/{id}/courses", s.handleCourses)
		s.router.HandleFunc("GET /api/v1/specialities/{id}/courses/{course}/streams", s.handleStreams)
		s.router.HandleFunc("GET /api/v1/specialities/{id}/courses/{course}/streams/{stream}/groups", s.handleGroups)
		s.router.HandleFunc("GET /api/v1/groups/{id}/subgroups", s.handleSubgroups)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// API v1 - Admin Endpoints
	// ─────────────────────────────────────────────────────────────────────────
	admin := func(pattern string, h http.HandlerFunc) {
		s.router.Handle(pattern, s.auth.Middleware(h))
	}
	if s.deps.Sync != nil {
		admin("POST /api/v1/sync", s.handleSyncAll)
		admin("POST /api/v1/sync/{id}", s.handleSyncSingle)
	}
	if s.deps.Runs != nil {
		admin("GET /api/v1/sync/runs", s.handleSyncRuns)
	}
	if s.deps.Jobs != nil {
		admin("GET /api/v1/jobs", s.handleJobs)
		admin("GET /api/v1/jobs/history", s.handleJobHistory)
		admin("POST /api/v1/jobs/{name}/run", s.handleRunJob)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// MIDDLEWARE
// ══════════════════════════════════════════════════════════════════════════════

// requestIDMiddleware adds a unique request ID to each request and a
// request-scoped logger to its context.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), contextKeyRequestID, requestID)
		ctx = logger.WithContext(ctx, s.logger.With(logger.RequestID(requestID)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// loggingMiddleware logs all HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		level := slog.LevelInfo
		if rw.statusCode >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		logger.FromContext(r.Context()).Log(r.Context(), level, "http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rw.statusCode),
			logger.Latency(time.Since(start)),
			slog.String("ip", handlers.ClientIP(r)),
		)
	})
}

// recoveryMiddleware recovers from panics and returns 500.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				s.logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("stack", string(debug.Stack())),
					slog.String("path", r.URL.Path),
				)
				writeJSONError(w, r, http.StatusInternalServerError, "internal_server_error", "An unexpected error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return fmt.Errorf("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("http server starting", slog.String("address", s.config.Address))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine and returns a channel for errors.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown stops accepting requests and waits for in-flight ones and for
// background syncs started over HTTP. Background syncs still running when
// ctx ends are cancelled and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	s.logger.Info("http server shutting down")
	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.bgWG.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("background syncs did not finish in time, cancelling")
		if err == nil {
			err = ctx.Err()
		}
	}
	s.bgCancel()
	return err
}

// IsRunning returns whether the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse represents a standard JSON response.
type JSONResponse struct {
	Success   bool          `json:"success"`
	Data      any           `json:"data,omitempty"`
	Error     *APIError     `json:"error,omitempty"`
	Meta      *ResponseMeta `json:"meta,omitempty"`
	RequestID string        `json:"request_id,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// ResponseMeta contains response metadata.
type ResponseMeta struct {
	Timestamp  time.Time `json:"timestamp"`
	Version    string    `json:"version,omitempty"`
	TotalCount int       `json:"total_count,omitempty"`
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, data any, meta *ResponseMeta) {
	if meta == nil {
		meta = &ResponseMeta{}
	}
	meta.Timestamp = time.Now().UTC()
	meta.Version = "v1"

	encode(w, status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		Meta:      meta,
		RequestID: getRequestID(r.Context()),
	})
}

func writeJSONError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	encode(w, status, JSONResponse{
		Success:   false,
		Error:     &APIError{Code: code, Message: message},
		Meta:      &ResponseMeta{Timestamp: time.Now().UTC()},
		RequestID: getRequestID(r.Context()),
	})
}

func encode(w http.ResponseWriter, status int, body JSONResponse) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// ══════════════════════════════════════════════════════════════════════════════
// HELPER TYPES AND FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

type contextKey string

const contextKeyRequestID contextKey = "request_id"

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func getRequestID(ctx context.Context) string {
	if id, ok := ctx.Value(contextKeyRequestID).(string); ok {
		return id
	}
	return ""
}

// pathID парсит положительный int64 из сегмента пути.
func pathID(r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue(name), 10, 64)
	return id, err == nil && id > 0
}

func queryInt(r *http.Request, key string, defaultValue int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil {
		return defaultValue
	}
	return v
}

// parseDay понимает "today", "tomorrow" и YYYY-MM-DD.
func parseDay(value string) (date time.Time, relative string, err error) {
	switch value {
	case "", "today":
		return time.Time{}, "today", nil
	case "tomorrow":
		return time.Time{}, "tomorrow", nil
	}
	date, err = timeutil.ParseDate(value)
	return date, "", err
}
