// Package server exposes the chat pipeline over HTTP: the gated SSE chat
// endpoint, a WebSocket channel driving the orchestrator, turn insights and
// Prometheus metrics.
package server

import (
	"context"
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/ziadkadry99/chattia/internal/budget"
	"github.com/ziadkadry99/chattia/internal/corpus"
	"github.com/ziadkadry99/chattia/internal/escalate"
	"github.com/ziadkadry99/chattia/internal/gate"
	"github.com/ziadkadry99/chattia/internal/metrics"
	"github.com/ziadkadry99/chattia/internal/orchestrator"
	"github.com/ziadkadry99/chattia/internal/turnlog"
)

// PackResolver returns the corpus source for a per-request pack URL, or false
// when the URL is not allowed.
type PackResolver func(url string) (corpus.Source, bool)

// Options holds the server's collaborators. Gate, Escalator and Ledger are
// required for /api/chat; Gate and Orchestrator for /api/ws. The insights
// routes are mounted only when both Turns and AdminToken are set.
type Options struct {
	Gate      *gate.Gate
	Escalator escalate.Escalator
	Ledger    *budget.Ledger
	Corpus    corpus.Source
	Packs     PackResolver

	Orchestrator *orchestrator.Orchestrator
	Turns        *turnlog.Store
	// TurnLog records /api/chat turns when set.
	TurnLog orchestrator.TurnLogger
	// AdminToken is the bearer token for /api/insights.
	AdminToken string

	MetricsHandler http.Handler
	Metrics        *metrics.Metrics
	Logger         zerolog.Logger
}

// Server is the chattia HTTP API.
type Server struct {
	opts       Options
	router     chi.Router
	httpServer *http.Server
}

// New creates a server with all routes mounted.
func New(opts Options) *Server {
	if opts.Ledger == nil {
		opts.Ledger = budget.NewLedger(budget.DefaultLimits())
	}
	s := &Server{opts: opts}
	s.router = s.buildRouter()
	return s
}

// buildRouter creates and configures the chi router with all routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	// CORS
	origins := []string{"*"}
	if s.opts.Gate != nil && s.opts.Gate.AllowedOrigin() != "" {
		origins = []string{s.opts.Gate.AllowedOrigin()}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-CSRF", "X-Session"},
		ExposedHeaders: []string{
			"X-Provider", "X-Tokens-This-Call", "X-Provider-Tokens",
			"X-Session-Tokens", "X-Pack-Status", "X-Budget-Warning",
		},
		MaxAge: 300,
	}))

	// Health check
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok"}`))
	})

	if s.opts.Gate != nil && s.opts.Escalator != nil {
		r.HandleFunc("/api/chat", s.handleChat)
	}
	if s.opts.Gate != nil && s.opts.Orchestrator != nil {
		r.Get("/api/ws", s.handleWebSocket)
	}
	if s.opts.Turns != nil && s.opts.AdminToken != "" {
		r.Group(func(r chi.Router) {
			r.Use(requireAdmin(s.opts.AdminToken))
			turnlog.RegisterRoutes(r, s.opts.Turns)
		})
	}
	if s.opts.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", s.opts.MetricsHandler)
	}

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.opts.Logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http_request")
	})
}

// requireAdmin rejects requests without the admin bearer token.
func requireAdmin(token string) func(http.Handler) http.Handler {
	want := []byte("Bearer " + token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if subtle.ConstantTimeCompare(got, want) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Router returns the chi router for registering additional routes.
func (s *Server) Router() chi.Router { return s.router }

// Start begins listening on addr.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      180 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.opts.Logger.Info().Str("addr", addr).Msg("server_listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer != nil {
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
