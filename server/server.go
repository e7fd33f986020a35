// Package server exposes the pipeline over HTTP: upload, processing
// triggers, status, artifact streaming, catalog queries, Prometheus
// metrics and a websocket feed of tracker updates.
package server

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/vidscope/am"
	"github.com/teranos/vidscope/catalog"
	"github.com/teranos/vidscope/errors"
	"github.com/teranos/vidscope/metrics"
	"github.com/teranos/vidscope/pipeline"
	"github.com/teranos/vidscope/pulse/async"
	"github.com/teranos/vidscope/pulse/progress"
	"github.com/teranos/vidscope/storage"
)

// ServerState is the lifecycle phase of the HTTP server
type ServerState int32

const (
	ServerStateRunning ServerState = iota
	ServerStateDraining
	ServerStateStopped
)

func (st ServerState) String() string {
	switch st {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Deps are the components the server fronts. Metrics and Pool may be nil.
type Deps struct {
	Service *pipeline.Service
	Store   storage.Store
	Catalog *catalog.Store
	Tracker *progress.Tracker
	Pool    *async.WorkerPool
	Metrics *metrics.Metrics
}

// Server is the vidscope HTTP server
type Server struct {
	Deps
	cfg      am.ServerConfig
	logger   *zap.SugaredLogger
	limiter  *rate.Limiter // nil when unlimited
	upgrader websocket.Upgrader

	httpServer *http.Server
	clients    atomic.Int32
	state      atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a server. Routes are built immediately so Handler can be
// used without Start.
func New(deps Deps, cfg am.ServerConfig, logger *zap.SugaredLogger) *Server {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		Deps:   deps,
		cfg:    cfg,
		logger: logger.Named("server"),
		ctx:    ctx,
		cancel: cancel,
	}
	if cfg.RequestsPerMinute > 0 {
		// burst is one minute of budget
		s.limiter = rate.NewLimiter(rate.Limit(float64(cfg.RequestsPerMinute)/60.0), cfg.RequestsPerMinute)
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 2048,
		CheckOrigin:     s.checkOrigin,
	}
	s.httpServer = &http.Server{
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if deps.Metrics != nil {
		deps.Metrics.RegisterGauge("vidscope_progress_clients", "Connected progress websocket clients", func() float64 {
			return float64(s.clients.Load())
		})
	}
	return s
}

// Handler returns the routed handler
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// State returns the current lifecycle phase
func (s *Server) State() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(st ServerState) {
	s.state.Store(int32(st))
	s.logger.Infow("Server state changed", "new_state", st.String())
}

// ListenAndServe serves on port until Shutdown. http.ErrServerClosed is
// not reported as an error.
func (s *Server) ListenAndServe(port int) error {
	s.httpServer.Addr = fmt.Sprintf(":%d", port)
	s.setState(ServerStateRunning)
	s.logger.Infow(fmt.Sprintf("HTTP server listening on port %d", port))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return errors.Wrapf(err, "listen on port %d", port)
	}
	return nil
}

// Shutdown drains HTTP requests, closes progress feeds and waits for
// their goroutines
func (s *Server) Shutdown(ctx context.Context) error {
	s.setState(ServerStateDraining)

	err := s.httpServer.Shutdown(ctx)
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warnw("Progress feeds did not stop before shutdown deadline")
	}

	s.setState(ServerStateStopped)
	if err != nil {
		return errors.Wrap(err, "shutdown http server")
	}
	return nil
}

// checkOrigin validates websocket and CORS origins against the configured
// prefixes. Requests without an Origin header are allowed.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if strings.HasPrefix(origin, allowed) {
			return true
		}
	}
	return false
}
