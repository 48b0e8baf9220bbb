// Package web provides the HTTP API, the LMS event webhooks and the status
// page of the sync service.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/hpsync/internal/config"
	"github.com/JonMunkholm/hpsync/internal/core"
	"github.com/JonMunkholm/hpsync/internal/web/middleware"
)

// Server is the HTTP server of the sync service.
type Server struct {
	service *core.Service
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	limiters []*rateLimiter
}

// NewServer creates a Server for service. Call Close (or Shutdown) to stop
// the rate limiter cleanup.
func NewServer(service *core.Service, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders(s.cfg.Security.EnableCSP))

	if s.cfg.Rate.Enabled {
		s.router.Use(s.newRateLimiter(s.cfg.Rate.RequestsPerMinute, time.Minute).middleware)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Group(func(r chi.Router) {
		r.Use(timeout(s.cfg.Server.RequestTimeout))
		r.Get("/", s.handleStatusPage)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(&s.cfg.Security))
		r.Use(middleware.Actor(s.service.SystemActorID()))

		// CSV uploads get the import timeout and their own rate limit.
		r.Group(func(r chi.Router) {
			r.Use(timeout(s.cfg.Import.Timeout))
			if s.cfg.Rate.Enabled {
				r.Use(s.newRateLimiter(s.cfg.Rate.ImportLimit, time.Minute).middleware)
			}
			r.Post("/imports", s.handleImport)
			r.Post("/imports/preview", s.handlePreview)
			r.Post("/imports/{importID}/run", s.handleRunImport)
		})

		r.Group(func(r chi.Router) {
			r.Use(timeout(s.cfg.Server.RequestTimeout))

			r.Get("/imports", s.handleListUnprocessed)
			r.Get("/imports/status", s.handleImportStatuses)

			r.Get("/log", s.handleQueryLog)
			r.Delete("/log", s.handlePurgeLog)

			r.Get("/settings", s.handleGetSettings)
			r.Put("/settings", s.handleUpdateSettings)

			r.Post("/events/user-created", s.handleUserCreated)
			r.Post("/events/user-enrolled", s.handleUserEnrolled)
		})
	})
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.Close()
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Close stops background goroutines without touching the listener.
func (s *Server) Close() {
	for _, l := range s.limiters {
		l.stop()
	}
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// timeout bounds request contexts; zero disables it.
func timeout(d time.Duration) func(http.Handler) http.Handler {
	if d <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return chimw.Timeout(d)
}

// securityHeaders adds security headers to all responses.
func securityHeaders(enableCSP bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// The status page only needs its own inline stylesheet.
			if enableCSP {
				w.Header().Set("Content-Security-Policy", "default-src 'none'; style-src 'unsafe-inline'; frame-ancestors 'none'")
			}

			next.ServeHTTP(w, r)
		})
	}
}

// rateLimiter implements a fixed-window limiter per client IP.
type rateLimiter struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	rate     int           // requests per window
	window   time.Duration // time window
	now      func() time.Time

	done     chan struct{}
	stopOnce sync.Once
}

type visitor struct {
	tokens    int
	lastReset time.Time
}

// newRateLimiter creates a limiter owned by s, stopped by s.Close.
func (s *Server) newRateLimiter(rate int, window time.Duration) *rateLimiter {
	rl := &rateLimiter{
		visitors: make(map[string]*visitor),
		rate:     rate,
		window:   window,
		now:      time.Now,
		done:     make(chan struct{}),
	}
	go rl.cleanup()
	s.limiters = append(s.limiters, rl)
	return rl
}

// cleanup removes stale visitor entries every window.
func (rl *rateLimiter) cleanup() {
	ticker := time.NewTicker(rl.window)
	defer ticker.Stop()
	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			for ip, v := range rl.visitors {
				if rl.now().Sub(v.lastReset) > rl.window*2 {
					delete(rl.visitors, ip)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *rateLimiter) stop() {
	rl.stopOnce.Do(func() { close(rl.done) })
}

// allow checks if the request should be allowed and consumes a token if so.
func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	v, exists := rl.visitors[ip]
	if !exists || now.Sub(v.lastReset) > rl.window {
		rl.visitors[ip] = &visitor{tokens: rl.rate - 1, lastReset: now}
		return true
	}

	if v.tokens <= 0 {
		return false
	}
	v.tokens--
	return true
}

// middleware rate limits by r.RemoteAddr, which TrustedRealIP has resolved.
func (rl *rateLimiter) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !rl.allow(r.RemoteAddr) {
			w.Header().Set("Retry-After", "60")
			writeError(w, http.StatusTooManyRequests, "RATE001", "rate limit exceeded")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// writeError writes a JSON error response for failures detected by the web
// layer itself. Service errors go through respondError.
func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: message, Message: message, Code: code})
}

// writeJSON encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
