// Package server sets up the HTTP server, router, and all route definitions.
//
// SERVER ARCHITECTURE:
// This package is the wiring layer. It decides:
//   - which storage backend, image store and revocation store to use
//   - which URL patterns map to which handler functions
//   - what middleware runs on which routes
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	main.go: config.Load() → server.New(cfg)
//	server.New: store (sqlite | mongo) → services → handlers → routes
//
// This is the "composition root" pattern: all dependencies are wired in one
// place, and no other package reads configuration.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/sakif/threadline/internal/auth"
	"github.com/sakif/threadline/internal/config"
	"github.com/sakif/threadline/internal/handler"
	"github.com/sakif/threadline/internal/imagestore"
	"github.com/sakif/threadline/internal/middleware"
	"github.com/sakif/threadline/internal/repository"
	mongoRepo "github.com/sakif/threadline/internal/repository/mongo"
	sqliteRepo "github.com/sakif/threadline/internal/repository/sqlite"
	"github.com/sakif/threadline/internal/service"
)

// Server owns the router and every long-lived resource behind it.
//
// RESOURCE MANAGEMENT:
// Database connections and the Redis client are registered in closers as
// they are opened. Close releases them in reverse order, and New calls it
// itself when a later step fails.
type Server struct {
	router  *chi.Mux
	config  *config.Config
	logger  *slog.Logger
	closers []func() error
}

// stores is what New needs from a storage backend.
type stores struct {
	users repository.UserRepository
	posts repository.PostRepository
}

// New builds the server from cfg. It connects to every configured backend,
// so it fails fast when one is unreachable.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}

	if err := s.setup(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Handler returns the root handler. Tests drive it through httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases databases and clients in reverse order of opening.
func (s *Server) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

func (s *Server) setup(ctx context.Context) error {
	// === STORAGE ===
	st, err := s.openStores(ctx)
	if err != nil {
		return err
	}

	images, err := s.openImageStore(ctx)
	if err != nil {
		return err
	}

	revoker, err := s.openRevoker(ctx)
	if err != nil {
		return err
	}

	// === AUTH ===
	tokens, err := auth.NewTokenService(s.config.Auth.JWTSecret)
	if err != nil {
		return fmt.Errorf("creating token service: %w", err)
	}
	authn := auth.NewAuthenticator(tokens, revoker, st.users, s.logger)
	cookies := handler.CookieConfig{Secure: s.config.Server.SecureCookies, TTL: tokens.TTL()}

	// === SERVICES & HANDLERS ===
	// The handler never touches a store directly and the services never
	// touch HTTP.
	userService := service.NewUserService(st.users, tokens, auth.NewPasswordService(), revoker, s.logger)
	postService := service.NewPostService(st.posts, st.users, images, s.logger)

	users := handler.NewUserHandler(userService, authn, cookies, s.logger)
	posts := handler.NewPostHandler(postService, s.logger)

	var oauth *handler.OAuthHandler
	if s.config.Auth.GitHubEnabled() {
		gh := auth.NewGitHubProvider(s.config.Auth.GitHubClientID, s.config.Auth.GitHubClientSecret, s.config.GitHubCallback())
		oauth = handler.NewOAuthHandler(gh, userService, cookies, s.logger)
	} else {
		s.logger.Info("GitHub sign-in disabled: GITHUB_CLIENT_ID or GITHUB_CLIENT_SECRET not set")
	}

	s.routes(users, posts, oauth, authn, images)
	return nil
}

func (s *Server) openStores(ctx context.Context) (stores, error) {
	switch s.config.Database.Driver {
	case config.DriverMongo:
		db, err := mongoRepo.New(ctx, s.config.Database.MongoURI, s.config.Database.MongoDatabase)
		if err != nil {
			return stores{}, fmt.Errorf("opening mongo: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.logger.Info("using mongo store", slog.String("database", s.config.Database.MongoDatabase))
		return stores{users: db.Users(), posts: db.Posts()}, nil

	default:
		path := s.config.Database.SQLitePath
		if path != ":memory:" {
			// 0755 = owner can read/write/execute, others can read/execute.
			if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
				return stores{}, fmt.Errorf("creating database directory: %w", err)
			}
		}
		db, err := sqliteRepo.New(path)
		if err != nil {
			return stores{}, fmt.Errorf("opening database: %w", err)
		}
		s.closers = append(s.closers, db.Close)
		s.logger.Info("using sqlite store", slog.String("path", path))
		return stores{users: db.Users(), posts: db.Posts()}, nil
	}
}

func (s *Server) openImageStore(ctx context.Context) (imagestore.Store, error) {
	ic := s.config.Images
	if ic.Store == config.ImageStoreS3 {
		store, err := imagestore.NewS3Store(ctx, imagestore.S3Options{
			Region:       ic.S3.Region,
			Bucket:       ic.S3.Bucket,
			Prefix:       ic.S3.Prefix,
			Endpoint:     ic.S3.Endpoint,
			UsePathStyle: ic.S3.UsePathStyle,
			AccessKey:    ic.S3.AccessKey,
			SecretKey:    ic.S3.SecretKey,
			PublicURL:    ic.S3.PublicURL,
		})
		if err != nil {
			return nil, err
		}
		s.logger.Info("using s3 image store", slog.String("bucket", ic.S3.Bucket))
		return store, nil
	}

	store, err := imagestore.NewLocalStore(ic.LocalDir, s.config.Server.PublicURL)
	if err != nil {
		return nil, err
	}
	s.logger.Info("using local image store", slog.String("dir", ic.LocalDir))
	return store, nil
}

// openRevoker connects to Redis when an address is configured. Without one,
// revocations live in process memory and are lost on restart.
func (s *Server) openRevoker(ctx context.Context) (auth.Revoker, error) {
	rc := s.config.Redis
	if rc.Addr == "" {
		s.logger.Warn("REDIS_ADDR not set: token revocation is in-memory only")
		return auth.NewMemoryRevoker(), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})
	s.closers = append(s.closers, client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis at %s: %w", rc.Addr, err)
	}

	s.logger.Info("using redis token revocation", slog.String("addr", rc.Addr))
	return auth.NewRedisRevoker(client), nil
}

// routes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /healthz                        → liveness probe
//	GET    /uploads/*                      → local image store only
//	GET    /posts/feed                     → feed (auth)
//	GET    /posts/{id}                     → one post
//	GET    /posts/user/{username}          → a user's posts
//	POST   /posts/create                   → create (auth)
//	DELETE /posts/{id}                     → delete (auth)
//	PUT    /posts/like/{id}                → like/unlike (auth)
//	PUT    /posts/reply/{id}               → reply (auth)
//	GET    /users/profile/{query}          → profile by id or username
//	POST   /users/signup                   → signup (rate limited)
//	POST   /users/login                    → login (rate limited)
//	POST   /users/logout                   → logout
//	POST   /users/follow/{id}              → follow/unfollow (auth)
//	GET    /users/oauth/github/login       → GitHub sign-in, when configured
//	GET    /users/oauth/github/callback
//
// MIDDLEWARE ORDER MATTERS:
// Middleware executes in the order it's added:
//  1. RequestID: assigns a unique ID to each request, used by the logger
//  2. RealIP: takes the client IP from proxy headers, used by the rate
//     limiter. Only with TrustProxy; otherwise the socket peer is the client.
//  3. Recoverer: turns panics into 500s instead of crashing
//  4. Logger: logs each request with timing info
//  5. CORS: answers preflights before they reach a handler
func (s *Server) routes(users *handler.UserHandler, posts *handler.PostHandler, oauth *handler.OAuthHandler, authn *auth.Authenticator, images imagestore.Store) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	if s.config.Server.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Logger(s.logger))

	// AllowCredentials lets the browser send the session cookie cross-origin.
	// It requires explicit origins; "*" is rejected by browsers.
	r.Use(cors.New(cors.Options{
		AllowedOrigins:   s.config.Server.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	}).Handler)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	// http.StripPrefix removes "/uploads/" before the file lookup, so
	// GET /uploads/abc.jpg serves {LocalDir}/abc.jpg.
	if local, ok := images.(*imagestore.LocalStore); ok {
		r.Handle("/uploads/*", http.StripPrefix("/uploads/", local.Handler()))
	}

	limiter := middleware.NewRateLimiter(s.config.RateLimit.PerMinute, s.config.RateLimit.Burst)

	r.Route("/posts", func(r chi.Router) {
		r.Get("/user/{username}", posts.HandleUserPosts)
		r.Get("/{id}", posts.HandleGet)

		r.Group(func(r chi.Router) {
			r.Use(authn.RequireAuth)
			r.Get("/feed", posts.HandleFeed)
			r.Post("/create", posts.HandleCreate)
			r.Delete("/{id}", posts.HandleDelete)
			r.Put("/like/{id}", posts.HandleLike)
			r.Put("/reply/{id}", posts.HandleReply)
		})
	})

	r.Route("/users", func(r chi.Router) {
		r.Get("/profile/{query}", users.HandleProfile)
		r.With(limiter.Limit).Post("/signup", users.HandleSignup)
		r.With(limiter.Limit).Post("/login", users.HandleLogin)
		r.Post("/logout", users.HandleLogout)
		r.With(authn.RequireAuth).Post("/follow/{id}", users.HandleFollow)

		if oauth != nil {
			r.Get("/oauth/github/login", oauth.HandleGitHubLogin)
			r.Get("/oauth/github/callback", oauth.HandleGitHubCallback)
		}
	})
}

// Start runs the HTTP server and handles graceful shutdown.
//
// GRACEFUL SHUTDOWN:
//  1. Stop accepting new HTTP connections
//  2. Wait for in-flight requests to finish (ShutdownTimeout)
//  3. Close the stores and the Redis client
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Server.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Server.Port),
			slog.String("url", s.config.Server.PublicURL),
			slog.String("database", s.config.Database.Driver),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), s.config.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
