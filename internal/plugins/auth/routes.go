package auth

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/middleware"
)

// RegisterRoutes sets up the auth API routes. These live under /api/ and
// bypass the access gate -- each handler does its own session work.
//
// Credential endpoints carry a coarse per-IP rate limit on top of the
// per-email attempt guard inside the sign-in flow itself.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/auth")

	g.POST("/signup", h.SignUp, middleware.RateLimit(5, time.Minute))
	g.POST("/signin", h.SignIn, middleware.RateLimit(10, time.Minute))
	g.POST("/signout", h.SignOut)
	g.POST("/change-password", h.ChangePassword, middleware.RateLimit(5, time.Minute))
	g.POST("/validate-session", h.ValidateSession)
}
