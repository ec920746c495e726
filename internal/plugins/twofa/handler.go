package twofa

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/plugins/auth"
)

// Handler handles HTTP requests for two-factor enrollment and verification.
type Handler struct {
	service Service
}

// NewHandler creates a new two-factor handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Generate offers a fresh secret (POST /api/2fa/setup/generate).
func (h *Handler) Generate(c echo.Context) error {
	resp, err := h.service.Generate(c.Request().Context(), auth.SessionToken(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, resp)
}

// SetupVerify completes enrollment (POST /api/2fa/setup/verify).
func (h *Handler) SetupVerify(c echo.Context) error {
	var req SetupVerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	if err := h.service.SetupVerify(c.Request().Context(), auth.SessionToken(c), req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Two-factor authentication enabled.",
	})
}

// Verify checks a login-time code (POST /api/2fa/verify).
func (h *Handler) Verify(c echo.Context) error {
	var req VerifyRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	if err := h.service.Verify(c.Request().Context(), auth.SessionToken(c), req); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Verified.",
	})
}
