package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mattjoyce/pulsegate/internal/auth"
	"github.com/mattjoyce/pulsegate/internal/dispatch"
	"github.com/mattjoyce/pulsegate/internal/events"
	"github.com/mattjoyce/pulsegate/internal/queue"
	"github.com/mattjoyce/pulsegate/internal/storage"
)

// CommandQueuer defines the queue operations the API exposes.
type CommandQueuer interface {
	AddItem(ctx context.Context, raw map[string]any) queue.EnqueueResult
	CancelItem(id string) bool
	ClearQueue() int
	Status() queue.StatusSummary
	Items(filter queue.Status) []*queue.Item
	ItemByID(id string) (*queue.Item, error)
	Stats() queue.Stats
}

// DispatchInfo defines the dispatch-layer introspection the API exposes.
type DispatchInfo interface {
	RateLimitStatus() dispatch.RateLimitStatus
	Stats() dispatch.Stats
}

// HistoryReader defines access to archived commands.
type HistoryReader interface {
	Recent(ctx context.Context, limit int) ([]storage.Record, error)
}

// Config holds API server configuration.
type Config struct {
	Listen string
	Tokens []auth.TokenConfig
}

// Server is the HTTP API server.
type Server struct {
	config    Config
	queue     CommandQueuer
	dispatch  DispatchInfo
	history   HistoryReader
	hub       *events.Hub
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
}

// New creates a new API server instance. history may be nil when storage is
// disabled.
func New(config Config, q CommandQueuer, d DispatchInfo, history HistoryReader, hub *events.Hub, logger *slog.Logger) *Server {
	return &Server{
		config:    config,
		queue:     q,
		dispatch:  d,
		history:   history,
		hub:       hub,
		logger:    logger,
		startedAt: time.Now(),
	}
}

// Start starts the HTTP server (blocking until ctx is cancelled).
func (s *Server) Start(ctx context.Context) error {
	router := s.setupRoutes()

	s.server = &http.Server{
		Addr:         s.config.Listen,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute, // SSE clients hold the connection
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router.
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated ops endpoint.
	r.Get("/healthz", s.handleHealthz)

	// Protected API.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.With(s.requireScopes("control")).Post("/commands", s.handleEnqueue)
		r.With(s.requireScopes("control")).Delete("/commands/{itemID}", s.handleCancel)
		r.With(s.requireScopes("control")).Delete("/commands", s.handleClear)

		r.With(s.requireScopes("read")).Get("/commands/{itemID}", s.handleGetItem)
		r.With(s.requireScopes("read")).Get("/queue", s.handleQueueStatus)
		r.With(s.requireScopes("read")).Get("/queue/items", s.handleQueueItems)
		r.With(s.requireScopes("read")).Get("/stats", s.handleStats)
		r.With(s.requireScopes("read")).Get("/dispatch/ratelimit", s.handleRateLimit)
		r.With(s.requireScopes("read")).Get("/history", s.handleHistory)
		r.With(s.requireScopes("read")).Get("/events", s.handleEvents)
	})

	return r
}

// loggingMiddleware logs HTTP requests.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// authMiddleware validates the bearer token and attaches the principal.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := auth.ExtractBearerToken(r)
		if err != nil {
			s.writeError(w, http.StatusUnauthorized, err.Error())
			return
		}

		principal, ok := auth.Authenticate(token, s.config.Tokens)
		if !ok {
			s.writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		next.ServeHTTP(w, r.WithContext(auth.WithPrincipal(r.Context(), principal)))
	})
}

// requireScopes rejects principals holding none of the required scopes.
func (s *Server) requireScopes(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, _ := auth.PrincipalFromContext(r.Context())
			if !auth.HasAnyScope(principal, scopes...) {
				s.writeError(w, http.StatusForbidden, "insufficient scope")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
