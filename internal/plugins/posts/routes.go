package posts

import (
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/middleware"
)

// RegisterRoutes sets up the posts API routes. Sign accepts a password, so
// it gets the same coarse per-IP limit as the credential endpoints.
func RegisterRoutes(e *echo.Echo, h *Handler) {
	g := e.Group("/api/posts")

	g.POST("", h.Create)
	g.GET("", h.List)
	g.PUT("/:id/sign", h.Sign, middleware.RateLimit(10, time.Minute))
	g.POST("/:id/verify", h.Verify)
}
