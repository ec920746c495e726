package posts

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/plugins/auth"
)

// Handler handles HTTP requests for the posts feed.
type Handler struct {
	service Service
}

// NewHandler creates a new posts handler with the given service.
func NewHandler(service Service) *Handler {
	return &Handler{service: service}
}

// Create stores a new post (POST /api/posts).
func (h *Handler) Create(c echo.Context) error {
	var req CreateRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	post, err := h.service.Create(c.Request().Context(), auth.SessionToken(c), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, post)
}

// List returns a page of the feed (GET /api/posts?skip=&take=).
func (h *Handler) List(c echo.Context) error {
	skip, _ := strconv.Atoi(c.QueryParam("skip"))
	take, _ := strconv.Atoi(c.QueryParam("take"))

	items, err := h.service.List(c.Request().Context(), auth.SessionToken(c), skip, take)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"posts": items,
	})
}

// Sign signs a post with the author's private key (PUT /api/posts/:id/sign).
func (h *Handler) Sign(c echo.Context) error {
	var req SignRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	post, err := h.service.Sign(c.Request().Context(), auth.SessionToken(c), c.Param("id"), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, post)
}

// Verify checks a post's signature (POST /api/posts/:id/verify).
func (h *Handler) Verify(c echo.Context) error {
	resp, err := h.service.Verify(c.Request().Context(), auth.SessionToken(c), c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, resp)
}
