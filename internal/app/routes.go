package app

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/gate"
	"github.com/signethq/signet/internal/plugins/auth"
	"github.com/signethq/signet/internal/plugins/posts"
	"github.com/signethq/signet/internal/plugins/twofa"
)

// RegisterRoutes sets up all application routes: the gated page routes and
// each plugin's API routes.
//
// Page routes sit behind the access gate, which redirects every request to
// the step the session actually needs (sign-in, 2FA setup, 2FA
// verification) before anything else loads. API routes bypass the gate by
// prefix and validate the session per endpoint instead.
func RegisterRoutes(a *App) {
	e := a.Echo

	// The gate consults the auth service for session state on every page
	// request. /api/, /healthz, and static assets bypass it.
	e.Use(gate.Middleware(a.AuthService, gate.DefaultRoutes(), auth.CookieName))

	// --- Page routes ---
	// The frontend is a separate client; these endpoints exist so the gate
	// has concrete paths to guard and return a state document describing
	// what the client should render.
	e.GET("/", pageHandler("home"))
	e.GET("/signin", pageHandler("signin"))
	e.GET("/signup", pageHandler("signup"))
	e.GET("/setup-2fa", pageHandler("setup-2fa"))
	e.GET("/verify-2fa", pageHandler("verify-2fa"))
	e.GET("/change-password", pageHandler("change-password"))

	// Health check endpoint for Docker health monitoring.
	e.GET("/healthz", a.healthz)

	// --- Plugin routes ---
	auth.RegisterRoutes(e, a.authHandler)
	twofa.RegisterRoutes(e, a.twofaHandler)
	posts.RegisterRoutes(e, a.postsHandler)
}

// pageHandler returns a gated page endpoint. The response is a small state
// document: which page this is, and the session facts the gate resolved.
func pageHandler(page string) echo.HandlerFunc {
	return func(c echo.Context) error {
		doc := map[string]any{"page": page}
		if res := gate.GetResolution(c); res != nil {
			doc["userId"] = res.UserID
			doc["is2FAEnabled"] = res.TwoFAEnabled
			doc["is2FAVerified"] = res.TwoFAVerified
		}
		return c.JSON(http.StatusOK, doc)
	}
}

// healthz checks that both stores answer. A server that cannot reach Redis
// cannot resolve sessions, so it should fail its health check.
func (a *App) healthz(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := a.DB.PingContext(ctx); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "database": "unreachable",
		})
	}
	if err := a.Redis.Ping(ctx).Err(); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{
			"status": "degraded", "redis": "unreachable",
		})
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}
