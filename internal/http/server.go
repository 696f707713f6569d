package http

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"ledgercache/internal/cache"
	"ledgercache/internal/log"
	"ledgercache/internal/middleware/ratelimit"
	"ledgercache/internal/middleware/security"
	"ledgercache/internal/middleware/trace"
	"ledgercache/internal/storage"
)

var errNotReady = errors.New("cache has no snapshot yet")

// HistoryLister exposes recorded refresh runs. Nil disables the endpoint.
type HistoryLister interface {
	List(ctx context.Context, limit int) ([]storage.RunRecord, error)
}

// Options configure NewServer.
type Options struct {
	Addr             string
	History          HistoryLister
	RefreshRateLimit int
	TrustedProxies   []string
	Logger           *log.Logger
}

type Server struct {
	http.Server
	accessor *cache.Accessor
	history  HistoryLister
	limiter  *ratelimit.Limiter
	detector *security.Detector
	tracer   *trace.Middleware
	logger   *log.Logger
	now      func() time.Time

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run http.Server.
func NewServer(accessor *cache.Accessor, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = log.Nop()
	}
	logger = logger.WithComponent(log.ComponentHTTP)

	detector := security.NewDetector(logger)
	for _, cidr := range opts.TrustedProxies {
		if err := detector.AddTrustedProxy(cidr); err != nil {
			logger.Warn("Ignoring trusted proxy", "cidr", cidr, log.FieldError, err.Error())
		}
	}
	s := &Server{
		accessor: accessor,
		history:  opts.History,
		limiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RefreshRateLimit}),
		detector: detector,
		tracer:   trace.NewMiddleware(logger, detector.ExtractClientIP),
		logger:   logger,
		now:      time.Now,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /cache/health", s.handleCacheHealth)
	mux.Handle("POST /cache/refresh", s.limiter.Middleware(detector.ExtractClientIP, s.handleRateLimited)(http.HandlerFunc(s.handleRefresh)))
	mux.HandleFunc("GET /cache/refreshes", s.handleRefreshHistory)

	mux.HandleFunc("GET /categories", s.handleCategories)
	mux.HandleFunc("GET /categories/{name}", s.handleCategoryByName)
	mux.HandleFunc("GET /categories/by-id/{id}", s.handleCategoryByID)
	mux.HandleFunc("GET /payees/{name}", s.handlePayeeByName)
	mux.HandleFunc("GET /payees/by-id/{id}", s.handlePayeeByID)
	mux.HandleFunc("GET /accounts/{id}", s.handleAccount)
	mux.HandleFunc("GET /transactions", s.handleTransactions)
	mux.HandleFunc("GET /spending", s.handleSpending)
	mux.HandleFunc("GET /budgets/{categoryID}/{month}", s.handleBudget)

	headers := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	handler := s.tracer.Middleware(headers.Middleware(detector.Middleware(mux)))

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      6 * time.Minute,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleReady reports ready once a snapshot has been published.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.accessor.Snapshot().Populated() {
		writeError(w, r, errNotReady)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldPath, r.URL.Path)
	writeJSON(w, r, http.StatusTooManyRequests, errorBody{
		Error:     "rate limit exceeded",
		Kind:      "rate_limited",
		RequestID: trace.GetRequestID(r.Context()),
	})
}
