// Package app is the application bootstrap and dependency injection root.
// It creates and holds all shared infrastructure (DB pool, Redis client,
// Echo instance) and wires together the vault, session store, attempt
// guard, access gate, and all plugins.
package app

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/config"
	"github.com/signethq/signet/internal/guard"
	"github.com/signethq/signet/internal/middleware"
	"github.com/signethq/signet/internal/plugins/auth"
	"github.com/signethq/signet/internal/plugins/posts"
	"github.com/signethq/signet/internal/plugins/twofa"
	"github.com/signethq/signet/internal/session"
	"github.com/signethq/signet/internal/vault"
)

// App holds all shared dependencies and the Echo HTTP server instance.
// Created once at startup in main.go and used to register all routes.
type App struct {
	// Config holds the loaded application configuration.
	Config *config.Config

	// DB is the MariaDB connection pool shared by all plugins.
	DB *sql.DB

	// Redis is the Redis client shared for sessions and the attempt guard.
	Redis *redis.Client

	// Echo is the HTTP server instance.
	Echo *echo.Echo

	// AuthService doubles as the access gate's session resolver.
	AuthService auth.Service

	authHandler  *auth.Handler
	twofaHandler *twofa.Handler
	postsHandler *posts.Handler
}

// New creates a new App instance, configures the Echo server with global
// middleware and error handling, and wires every service. The only failure
// mode is a malformed encryption key, which must stop startup.
func New(cfg *config.Config, db *sql.DB, rdb *redis.Client) (*App, error) {
	v, err := vault.New(cfg.Auth.EncryptionKey)
	if err != nil {
		return nil, fmt.Errorf("initializing vault: %w", err)
	}

	e := echo.New()

	// Disable Echo's default banner and startup message -- we log our own.
	e.HideBanner = true
	e.HidePort = true

	// Configure trusted reverse proxy IPs so c.RealIP() returns the actual
	// client IP instead of the proxy's IP. The per-IP rate limiter and the
	// request log depend on it.
	middleware.TrustedProxies(e, []string{
		"127.0.0.0/8",    // Localhost
		"10.0.0.0/8",     // Docker default bridge
		"172.16.0.0/12",  // Docker bridge (alternate range)
		"192.168.0.0/16", // Common LAN
		"fd00::/8",       // IPv6 private
	})

	// --- Wire services ---
	sessions := session.NewStore(rdb, cfg.Auth.SessionTTL)
	attempts := guard.New(rdb, cfg.Auth.MaxAttempts, cfg.Auth.LockoutWindow)
	userRepo := auth.NewUserRepository(db)

	authSvc := auth.NewService(userRepo, sessions, attempts, v, cfg.Auth.SignInDelay)
	twofaSvc := twofa.NewService(userRepo, sessions, v)
	postsSvc := posts.NewService(posts.NewRepository(db), userRepo, sessions, v)

	app := &App{
		Config:       cfg,
		DB:           db,
		Redis:        rdb,
		Echo:         e,
		AuthService:  authSvc,
		authHandler:  auth.NewHandler(authSvc, cfg.Auth.SessionTTL, cfg.IsProduction()),
		twofaHandler: twofa.NewHandler(twofaSvc),
		postsHandler: posts.NewHandler(postsSvc),
	}

	// Register global middleware in order of execution.
	app.setupMiddleware()

	// Register the custom error handler that maps AppErrors to HTTP responses.
	e.HTTPErrorHandler = app.errorHandler

	return app, nil
}

// Start begins listening on the configured port. Blocks until shutdown.
func (a *App) Start() error {
	return a.Echo.Start(fmt.Sprintf(":%d", a.Config.Port))
}

// setupMiddleware registers global middleware on the Echo instance.
// Order matters: outermost (recovery) runs first.
func (a *App) setupMiddleware() {
	// Panic recovery -- must be outermost to catch panics from all other middleware.
	a.Echo.Use(middleware.Recovery())

	// Request logging -- log every request with method, path, status, latency.
	a.Echo.Use(middleware.RequestLogger())

	// Security headers -- CSP, X-Frame-Options, X-Content-Type-Options, etc.
	a.Echo.Use(middleware.SecurityHeaders())
}

// errorHandler is the custom Echo error handler. It maps domain errors
// (AppError) to JSON responses. Internal causes are logged, never sent.
func (a *App) errorHandler(err error, c echo.Context) {
	// Don't double-write if response is already committed.
	if c.Response().Committed {
		return
	}

	code := http.StatusInternalServerError
	message := "An unexpected error occurred."

	var appErr *apperror.AppError
	var echoErr *echo.HTTPError
	switch {
	case errors.As(err, &appErr):
		code = appErr.Code
		message = appErr.Message

		// Log internal errors with the underlying cause.
		if appErr.Internal != nil {
			slog.Error("internal error",
				slog.String("type", appErr.Type),
				slog.String("message", appErr.Message),
				slog.Any("internal", appErr.Internal),
				slog.String("path", c.Request().URL.Path),
			)
		}
	case errors.As(err, &echoErr):
		// Echo's built-in HTTP errors (e.g., 404 from the router).
		code = echoErr.Code
		if msg, ok := echoErr.Message.(string); ok {
			message = msg
		}
	default:
		// Truly unexpected error -- log it.
		slog.Error("unhandled error",
			slog.Any("error", err),
			slog.String("path", c.Request().URL.Path),
		)
	}

	if writeErr := c.JSON(code, map[string]string{
		"error":   http.StatusText(code),
		"message": message,
	}); writeErr != nil {
		slog.Error("writing error response", slog.Any("error", writeErr))
	}
}
