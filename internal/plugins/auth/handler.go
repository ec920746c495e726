package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/signethq/signet/internal/apperror"
)

// CookieName is the HTTP cookie holding the session token. Exported so the
// access gate and sibling plugins read the same cookie.
const CookieName = "session_id"

// Handler handles HTTP requests for authentication. Handlers are thin: they
// bind the request, call the service, and render the response. No business
// logic lives here.
type Handler struct {
	service       Service
	sessionTTL    time.Duration
	secureCookies bool
}

// NewHandler creates a new auth handler. secureCookies should be true in
// production so the session cookie is only sent over TLS.
func NewHandler(service Service, sessionTTL time.Duration, secureCookies bool) *Handler {
	return &Handler{
		service:       service,
		sessionTTL:    sessionTTL,
		secureCookies: secureCookies,
	}
}

// SignUp creates a new account (POST /api/auth/signup). No auto-login: the
// client is expected to sign in afterwards.
func (h *Handler) SignUp(c echo.Context) error {
	var req SignUpRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	user, err := h.service.SignUp(c.Request().Context(), req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, map[string]any{
		"user": toResponse(user),
	})
}

// SignIn authenticates and sets the session cookie (POST /api/auth/signin).
func (h *Handler) SignIn(c echo.Context) error {
	var req SignInRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	token, user, err := h.service.SignIn(c.Request().Context(), req)
	if err != nil {
		return err
	}

	h.setSessionCookie(c, token)

	return c.JSON(http.StatusOK, map[string]any{
		"user": toResponse(user),
	})
}

// SignOut destroys the session and clears the cookie (POST /api/auth/signout).
func (h *Handler) SignOut(c echo.Context) error {
	if token := SessionToken(c); token != "" {
		// Clear the cookie even if the store delete fails.
		if err := h.service.SignOut(c.Request().Context(), token); err != nil {
			h.clearSessionCookie(c)
			return err
		}
	}

	h.clearSessionCookie(c)

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Signed out.",
	})
}

// ChangePassword rotates the account password (POST /api/auth/change-password).
// Requires a session; when 2FA is enabled the session must be verified --
// an enabled-but-unverified session is still half-authenticated.
func (h *Handler) ChangePassword(c echo.Context) error {
	sess, user, err := h.service.ValidateSession(c.Request().Context(), SessionToken(c))
	if err != nil {
		return err
	}
	if user.Is2FAEnabled && !sess.Is2FAVerified {
		return apperror.NewUnauthorized("Two-factor verification required.")
	}

	var req ChangePasswordRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	if err := h.service.ChangePassword(c.Request().Context(), user.ID, req); err != nil {
		return err
	}

	// Every session for this user is gone now, including this one.
	h.clearSessionCookie(c)

	return c.JSON(http.StatusOK, map[string]string{
		"message": "Password changed. Please sign in again.",
	})
}

// ValidateSession checks a token supplied in the body rather than a cookie
// (POST /api/auth/validate-session). This is the contract used by external
// collaborators; the in-process access gate calls the service directly.
func (h *Handler) ValidateSession(c echo.Context) error {
	var req ValidateSessionRequest
	if err := c.Bind(&req); err != nil {
		return apperror.NewBadRequest("Invalid request body.")
	}

	sess, user, err := h.service.ValidateSession(c.Request().Context(), req.SessionID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"session": map[string]any{
			"is2FAVerified": sess.Is2FAVerified,
		},
		"user": map[string]any{
			"is2FAEnabled": user.Is2FAEnabled,
		},
	})
}

// --- Cookie helpers ---

// SessionToken reads the session token from the request cookie. Returns ""
// when absent. Shared by sibling plugins that need the caller's session.
func SessionToken(c echo.Context) string {
	cookie, err := c.Cookie(CookieName)
	if err != nil || cookie.Value == "" {
		return ""
	}
	return cookie.Value
}

// setSessionCookie sets the session cookie: HttpOnly (JS can't read it),
// Secure in production, SameSite=Strict, lifetime matching the server-side
// session TTL.
func (h *Handler) setSessionCookie(c echo.Context, token string) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(h.sessionTTL.Seconds()),
	})
}

// clearSessionCookie removes the session cookie by setting MaxAge to -1.
func (h *Handler) clearSessionCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   -1,
	})
}
