// Package server exposes the analytics and snapshot HTTP API.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/polysight/polysight/internal/datasource"
	"github.com/polysight/polysight/internal/logger"
	"github.com/polysight/polysight/internal/store"
	tradesync "github.com/polysight/polysight/internal/sync"
)

const (
	// refreshQueueSize bounds the number of pending background refreshes.
	refreshQueueSize = 64

	// refreshTimeout bounds a single background refresh run.
	refreshTimeout = 2 * time.Minute
)

// Options configures the API server.
type Options struct {
	Addr           string
	AllowedOrigins []string

	// Source serves the analytics reads (series, summary, chart).
	Source datasource.DataSource

	// Store serves the snapshot reads and sync bookkeeping. Nil in mock
	// mode; snapshot requests then return an error.
	Store *store.DuckDBStore

	// Syncer drives background refreshes. Nil disables them.
	Syncer *tradesync.Syncer

	RefreshEnabled bool

	Logger *logger.Logger

	// Now anchors range cutoffs; nil means time.Now.
	Now func() time.Time
}

// Server is the HTTP API server. Create with NewServer, run with Start, and
// stop with Shutdown.
type Server struct {
	opts       Options
	router     *mux.Router
	httpServer *http.Server
	logger     *logger.Logger
	now        func() time.Time

	refreshQueue chan string
	queued       *addressSet
	quit         chan struct{}
	stopOnce     sync.Once
	workerDone   chan struct{}
}

// NewServer creates the API server and registers its routes.
func NewServer(opts Options) *Server {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		opts:         opts,
		router:       mux.NewRouter(),
		logger:       opts.Logger,
		now:          now,
		refreshQueue: make(chan string, refreshQueueSize),
		queued:       newAddressSet(),
		quit:         make(chan struct{}),
		workerDone:   make(chan struct{}),
	}

	s.router.Use(s.corsMiddleware)

	s.router.HandleFunc("/api/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/users/{addr}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	s.router.HandleFunc("/api/users/{addr}/series", s.handleSeries).Methods(http.MethodGet)
	s.router.HandleFunc("/api/users/{addr}/summary", s.handleSummary).Methods(http.MethodGet)
	s.router.HandleFunc("/api/users/{addr}/equity.png", s.handleEquityChart).Methods(http.MethodGet)

	s.httpServer = &http.Server{
		Addr:    opts.Addr,
		Handler: s.router,
	}

	go s.refreshWorker()

	return s
}

// Handler returns the server's HTTP handler, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start runs the server until it fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("API server listening", zap.String("addr", s.opts.Addr))

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server and the background refresh worker. The
// work queue is never closed: handlers may still be draining when the context
// expires, and a late enqueue must not panic.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)

	s.stopOnce.Do(func() { close(s.quit) })

	select {
	case <-s.workerDone:
	case <-ctx.Done():
		if err == nil {
			err = ctx.Err()
		}
	}

	return err
}

// enqueueRefresh queues a background refresh for the address unless one is
// already queued. Returns true when the address will be refreshed.
func (s *Server) enqueueRefresh(addr string) bool {
	if s.opts.Syncer == nil || !s.opts.RefreshEnabled {
		return false
	}

	select {
	case <-s.quit:
		return false
	default:
	}

	if !s.queued.add(addr) {
		return true
	}

	select {
	case s.refreshQueue <- addr:
		return true
	default:
		s.queued.remove(addr)
		s.logger.Warn("Refresh queue full, dropping request", zap.String("user", addr))

		return false
	}
}

func (s *Server) refreshWorker() {
	defer close(s.workerDone)

	for {
		select {
		case <-s.quit:
			return
		case addr := <-s.refreshQueue:
			s.runRefresh(addr)
		}
	}
}

func (s *Server) runRefresh(addr string) {
	defer s.queued.remove(addr)

	if s.opts.Syncer == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
	defer cancel()

	if err := s.opts.Syncer.HeadCheckAndMaybeRefresh(ctx, addr); err != nil {
		s.logger.Error("Background refresh failed",
			zap.String("user", addr),
			zap.Error(err),
		)
	}
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")

		if allowed := s.allowOrigin(origin); allowed != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowed)
			w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)

			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) allowOrigin(origin string) string {
	for _, allowed := range s.opts.AllowedOrigins {
		if allowed == "*" {
			return "*"
		}

		if allowed == origin {
			return origin
		}
	}

	return ""
}
