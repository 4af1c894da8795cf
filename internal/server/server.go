// Package server is the composition root: it opens the store, wires
// repositories, services, the realtime hub, and handlers into the router,
// and owns startup and graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/chirp/internal/config"
	"github.com/sakif/chirp/internal/handler"
	"github.com/sakif/chirp/internal/metrics"
	"github.com/sakif/chirp/internal/middleware"
	"github.com/sakif/chirp/internal/realtime"
	"github.com/sakif/chirp/internal/repository/sqldb"
	"github.com/sakif/chirp/internal/service"
	"github.com/sakif/chirp/internal/store"
)

// hashtagCleanupInterval is how often orphaned tags are swept.
const hashtagCleanupInterval = time.Hour

// Server owns the HTTP server and every long-lived dependency under it.
type Server struct {
	cfg    config.Config
	logger *slog.Logger
	router *chi.Mux
	st     store.Store
	hub    *realtime.Hub
	posts  *service.PostService
}

// New opens the configured store, runs migrations and the one-time mention
// backfill, and assembles the full dependency chain.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Server, error) {
	st, err := store.Open(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	repo := sqldb.New(st)
	if err := repo.Migrate(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("migrating schema: %w", err)
	}
	indexed, err := repo.Backfill(ctx)
	if err != nil {
		st.Close()
		return nil, fmt.Errorf("backfilling mention index: %w", err)
	}
	if indexed > 0 {
		logger.Info("mention index backfilled", slog.Int("mentions", indexed))
	}

	s := &Server{
		cfg:    cfg,
		logger: logger,
		router: chi.NewRouter(),
		st:     st,
	}

	// The hub needs the post service for socket submissions and the post
	// service needs the hub for fan-out; build the hub first and hand the
	// sink over afterwards.
	hub := realtime.NewHub(nil, logger)
	posts := service.NewPostService(repo, repo, repo, repo, repo, hub, logger, cfg.DuplicateWindow())
	hub.SetSink(posts)
	users := service.NewUserService(repo, repo, repo, logger)

	s.hub = hub
	s.posts = posts
	s.setupRoutes(posts, users)
	return s, nil
}

func (s *Server) setupRoutes(posts *service.PostService, users *service.UserService) {
	s.router.Use(chimiddleware.RequestID)
	s.router.Use(chimiddleware.RealIP)
	s.router.Use(chimiddleware.Recoverer)
	s.router.Use(middleware.Logger(s.logger))

	postHandler := handler.NewPostHandler(posts)
	userHandler := handler.NewUserHandler(users, posts, s.hub.SessionCount)

	apiLimiter := middleware.NewRateLimiter(s.cfg.RateLimit.APIPerSecond, s.cfg.RateLimit.APIBurst)
	postLimiter := middleware.NewRateLimiter(s.cfg.RateLimit.PostPerSecond, s.cfg.RateLimit.PostBurst)

	s.router.Get("/ws", s.hub.HandleConnection)
	s.router.Handle("/metrics", metrics.Handler())

	s.router.Route("/api", func(r chi.Router) {
		r.Use(apiLimiter.Handler)

		r.Get("/health", userHandler.HandleHealth)
		r.Get("/stats", userHandler.HandleStats)

		r.Route("/posts", func(r chi.Router) {
			// Post creation gets its own, stricter bucket on top of the
			// general API limit.
			r.With(postLimiter.Handler).Post("/", postHandler.HandleCreate)
			r.Get("/", postHandler.HandleFeed)
			r.Get("/{id}", postHandler.HandleGet)
			r.Delete("/{id}", postHandler.HandleDelete)
			r.Get("/{id}/replies", postHandler.HandleReplies)
			r.Get("/{id}/mentions", postHandler.HandleMentions)
			r.Post("/{id}/engagements", postHandler.HandleEngage)
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/register", userHandler.HandleRegister)
			r.Get("/{deviceID}", userHandler.HandleGet)
			r.Post("/{deviceID}/activity", userHandler.HandleActivity)
		})

		r.Get("/hashtags/trending", postHandler.HandleTrending)
		r.Get("/search/hashtag/{tag}", postHandler.HandleHashtagSearch)
		r.Get("/search/user/{nickname}", postHandler.HandleUserSearch)
	})
}

// Start runs the server until SIGINT/SIGTERM, then shuts down gracefully:
// stop accepting connections, drain in-flight requests, stop the hub, close
// the store.
func (s *Server) Start() error {
	defer s.st.Close()

	go s.hub.Run()
	defer s.hub.Stop()

	cleanupDone := make(chan struct{})
	go s.cleanupLoop(cleanupDone)
	defer close(cleanupDone)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Server.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
		// No WriteTimeout: it would kill long-lived websocket connections.
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.cfg.Server.Port),
			slog.String("backend", s.cfg.Store.Backend),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}

// cleanupLoop periodically drops hashtags whose posts have all been deleted.
func (s *Server) cleanupLoop(done <-chan struct{}) {
	ticker := time.NewTicker(hashtagCleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.posts.CleanupHashtags(ctx); err != nil {
				s.logger.Warn("hashtag cleanup failed", slog.String("error", err.Error()))
			}
			cancel()
		case <-done:
			return
		}
	}
}
