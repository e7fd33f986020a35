package server

import (
	"bufio"
	"net"
	"net/http"
	"time"

	"github.com/teranos/vidscope/errors"
)

// routes configures all HTTP handlers
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/videos/available", s.HandleAvailable)
	mux.HandleFunc("POST /api/videos/upload", s.rateLimited(s.HandleUpload))
	mux.HandleFunc("GET /api/videos/process/{name}", s.rateLimited(s.HandleProcess))
	mux.HandleFunc("GET /api/videos/status/{name}", s.HandleStatus)
	mux.HandleFunc("GET /api/videos/stream/{name}", s.HandleStream)
	mux.HandleFunc("GET /api/heatmap/{name}", s.HandleHeatmap)
	mux.HandleFunc("GET /api/heatmap/download/{name}", s.HandleHeatmapDownload)
	mux.HandleFunc("GET /api/metadata/{name}", s.HandleMetadata)
	mux.HandleFunc("GET /api/metadata/search/{label}", s.HandleSearch)
	mux.HandleFunc("GET /api/metadata/objects/{name}", s.HandleObjects)
	mux.HandleFunc("GET /api/jobs", s.HandleJobs)
	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /ws/progress", s.HandleProgressWebSocket)
	if s.Metrics != nil {
		mux.Handle("GET /metrics", s.Metrics.Handler())
	}

	return s.logRequests(s.corsMiddleware(mux))
}

// corsMiddleware adds CORS headers for allowed origins and answers preflight
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// rateLimited rejects requests beyond the configured budget with 429
func (s *Server) rateLimited(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// statusRecorder captures the status code for request logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack passes through to the underlying writer for websocket upgrades
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}
