package twofa

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/middleware"
)

// RegisterRoutes sets up the two-factor API routes. All of them require a
// session, enforced inside the service. Code-accepting endpoints are
// rate-limited: six-digit codes are guessable if you let someone hammer.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/2fa")

	g.POST("/setup/generate", h.Generate)
	g.POST("/setup/verify", h.SetupVerify, middleware.RateLimit(10, time.Minute))
	g.POST("/verify", h.Verify, middleware.RateLimit(10, time.Minute))
}
