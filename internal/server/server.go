// Package server is the relay: a small HTTP service that performs vendor
// calls on behalf of browser clients that can't make them cross-origin.
package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/howard-nolan/codeshui/internal/config"
	"github.com/howard-nolan/codeshui/internal/gateway"
	"github.com/howard-nolan/codeshui/internal/probe"
)

// maxBodyBytes caps a relay request body.
const maxBodyBytes = 10 << 20

// endpoints is what the 404 handler lists.
var endpoints = []string{
	"/health",
	"/api/llm-proxy",
	"/api/llm-proxy/stream",
	"/api/test-connection",
	"/api/providers",
	"/metrics",
}

// Server holds the HTTP router and all dependencies that handlers need.
type Server struct {
	router  chi.Router
	cfg     *config.Config
	gateway *gateway.Gateway
	prober  *probe.Prober
	metrics *metrics
	log     *slog.Logger

	now func() time.Time
}

// New creates a Server, wires up routes and middleware, and returns it
// ready to use as an http.Handler. client carries every upstream vendor
// call; the relay always calls vendors directly.
func New(cfg *config.Config, client *http.Client, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg: cfg,
		gateway: &gateway.Gateway{
			Client:       client,
			Host:         probe.HostContext{DirectAccess: true},
			PreferDirect: true,
			Logger:       logger,
		},
		prober:  probe.New(client),
		metrics: newMetrics(),
		log:     logger,
		now:     time.Now,
	}
	s.routes()
	return s
}

// routes builds the chi router with all middleware and route definitions.
func (s *Server) routes() {
	r := chi.NewRouter()

	// --- Global middleware ---
	// Access logs go through slog like everything else.
	r.Use(middleware.RequestLogger(&middleware.DefaultLogFormatter{
		Logger:  slog.NewLogLogger(s.log.Handler(), slog.LevelInfo),
		NoColor: true,
	}))
	r.Use(middleware.Recoverer)

	// The preflight answer is ours (200, empty body), so cors only adds
	// the headers and passes OPTIONS through.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     s.cfg.Server.AllowedOrigins,
		AllowedMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:     []string{"Content-Type", "Authorization", "x-api-key", "anthropic-version"},
		ExposedHeaders:     []string{callIDHeader},
		AllowCredentials:   true,
		OptionsPassthrough: true,
		MaxAge:             300,
	}))
	r.Use(answerPreflight)

	// --- Routes ---
	r.Get("/health", s.handleHealth)
	r.Get("/api/providers", s.handleProviders)
	r.Post("/api/llm-proxy", s.handleProxy)
	r.Post("/api/llm-proxy/stream", s.handleProxyStream)
	r.Post("/api/test-connection", s.handleTestConnection)
	r.Method(http.MethodGet, "/metrics", s.metrics.handler())

	// Unknown paths and wrong methods both get the endpoint list.
	r.NotFound(s.handleNotFound)
	r.MethodNotAllowed(s.handleNotFound)

	s.router = r
}

// answerPreflight ends every OPTIONS request with 200 and no body, on any
// path, once cors has set its headers.
func answerPreflight(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP makes Server satisfy the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
