// Package http exposes the scheduled transaction API as JSON over HTTP.
package http

import (
	"context"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"ricorrenti/internal/cache"
	"ricorrenti/internal/core"
	"ricorrenti/internal/log"
	"ricorrenti/internal/middleware/ratelimit"
	"ricorrenti/internal/middleware/security"
	"ricorrenti/internal/middleware/trace"
	"ricorrenti/internal/services"
)

const (
	apiPrefix          = "/api/scheduled-transactions"
	readyCheckTimeout  = 5 * time.Second
	defaultHorizonDays = services.DefaultHorizonDays
)

// ScheduleManager is the schedule CRUD and lifecycle surface.
type ScheduleManager interface {
	List(ctx context.Context, f core.ScheduleFilter) ([]core.ScheduledTransaction, error)
	Get(ctx context.Context, id string) (core.ScheduledTransaction, error)
	Create(ctx context.Context, def core.ScheduleDefinition) (core.ScheduledTransaction, error)
	Update(ctx context.Context, id string, def core.ScheduleDefinition, asOf core.Date) (core.ScheduledTransaction, error)
	Delete(ctx context.Context, id string) error
	Pause(ctx context.Context, id string) (core.ScheduledTransaction, error)
	Resume(ctx context.Context, id string, asOf core.Date) (core.ScheduledTransaction, error)
	Cancel(ctx context.Context, id string) (core.ScheduledTransaction, error)
	ListTransactions(ctx context.Context, id string) ([]core.Transaction, error)
}

// Executor confirms manual executions.
type Executor interface {
	ConfirmExecution(ctx context.Context, id string, asOf core.Date) (core.ExecutionAttempt, error)
}

// UpcomingReader serves the upcoming view.
type UpcomingReader interface {
	GetUpcoming(ctx context.Context, horizonDays int, now core.Date) (core.UpcomingView, error)
}

// Options wires the server to its services.
type Options struct {
	Schedules ScheduleManager
	Executor  Executor
	Upcoming  UpcomingReader
	// Ready checks the backing store; nil means always ready.
	Ready func(ctx context.Context) error
	// CacheStats reports the upcoming view cache for /metrics; optional.
	CacheStats func() cache.Stats

	Logger             *log.Logger
	RateLimitPerMinute int
	HorizonDays        int
	Now                func() time.Time
}

type appMetrics struct {
	uptime           time.Time
	schedulesCreated int64
	confirmations    int64
}

type Server struct {
	http.Server

	schedules  ScheduleManager
	executor   Executor
	upcoming   UpcomingReader
	ready      func(ctx context.Context) error
	cacheStats func() cache.Stats

	logger           *log.Logger
	structured       *log.StructuredLogger
	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	horizonDays int
	now         func() time.Time
	appMetrics  appMetrics

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(addr string, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentHTTP)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	horizon := opts.HorizonDays
	if horizon <= 0 {
		horizon = defaultHorizonDays
	}

	s := &Server{
		schedules:        opts.Schedules,
		executor:         opts.Executor,
		upcoming:         opts.Upcoming,
		ready:            opts.Ready,
		cacheStats:       opts.CacheStats,
		logger:           logger,
		structured:       log.NewStructuredLogger(logger),
		securityDetector: security.NewDetector(),
		horizonDays:      horizon,
		now:              now,
		appMetrics:       appMetrics{uptime: time.Now()},
	}
	s.rateLimiter = ratelimit.NewLimiter(ratelimit.Config{
		RequestsPerMinute: opts.RateLimitPerMinute,
		Methods:           []string{http.MethodPost, http.MethodPut, http.MethodDelete},
	})
	s.traceMiddleware = trace.NewMiddleware(s.securityDetector.ExtractClientIP, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	// Schedule routes log as the schedules component.
	retag := log.ComponentMiddleware(log.ComponentSchedules)
	api := func(pattern string, h http.HandlerFunc) { mux.Handle(pattern, retag(h)) }
	api("GET "+apiPrefix, s.handleListSchedules)
	api("POST "+apiPrefix, s.handleCreateSchedule)
	api("GET "+apiPrefix+"/upcoming", s.handleUpcoming)
	api("GET "+apiPrefix+"/{id}", s.handleGetSchedule)
	api("PUT "+apiPrefix+"/{id}", s.handleUpdateSchedule)
	api("DELETE "+apiPrefix+"/{id}", s.handleDeleteSchedule)
	api("POST "+apiPrefix+"/{id}/confirm", s.handleConfirm)
	api("POST "+apiPrefix+"/{id}/pause", s.handlePause)
	api("POST "+apiPrefix+"/{id}/resume", s.handleResume)
	api("POST "+apiPrefix+"/{id}/cancel", s.handleCancel)
	api("GET "+apiPrefix+"/{id}/transactions", s.handleListTransactions)

	var handler http.Handler = mux
	handler = s.rateLimiter.Middleware(s.securityDetector.ExtractClientIP, s.onRateLimited)(handler)
	handler = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(handler)
	handler = s.securityDetector.Middleware(handler)
	handler = recovery(handler)
	handler = s.traceMiddleware.Middleware(handler)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// Shutdown gracefully shuts down the server and cleanup routines
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) today() core.Date {
	return core.DateOf(s.now())
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusTooManyRequests, errorBody{
		Error: "rate limit exceeded, retry later",
		Code:  "rate_limited",
	})
}

// recovery turns a handler panic into a 500.
func recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				if rec == http.ErrAbortHandler {
					panic(rec)
				}
				log.FromContext(r.Context()).ErrorContext(r.Context(), "Panic recovered",
					"panic", rec,
					log.FieldMethod, r.Method,
					log.FieldPath, r.URL.Path)
				writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal server error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) countCreated() {
	atomic.AddInt64(&s.appMetrics.schedulesCreated, 1)
}

func (s *Server) countConfirmation() {
	atomic.AddInt64(&s.appMetrics.confirmations, 1)
}
