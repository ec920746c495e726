// Package gate is Signet's access gate: the per-request state machine that
// decides, for every page navigation, whether the request proceeds or where
// it is redirected. It sits in front of the whole login flow
// (password -> optional 2FA enrollment -> 2FA verification -> full access)
// and is deliberately read-only -- it never mutates sessions or users.
//
// The gate fails closed. Any error resolving a session -- store outage,
// timeout, corrupt record -- is treated exactly like an invalid session and
// ends in a redirect to sign-in. There is no code path from an error to
// "proceed", and the final fallback for an unrecognized state is also
// redirect-to-sign-in.
package gate

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
)

// resolveTimeout bounds the session resolution call so a hung store cannot
// hang every request behind it. Hitting it counts as failure (deny).
const resolveTimeout = 2 * time.Second

// State is the gate's classification of a request's session.
type State int

const (
	// NoSession: no session token on the request.
	NoSession State = iota

	// Unauthenticated: a token was present but resolved to nothing --
	// invalid, expired, or the lookup itself failed.
	Unauthenticated

	// NeedsSetup2FA: valid session, but the user has not enrolled in 2FA.
	NeedsSetup2FA

	// NeedsVerify2FA: valid session, user enrolled, code not yet presented
	// for this session.
	NeedsVerify2FA

	// FullyAuthenticated: valid session with 2FA verified.
	FullyAuthenticated
)

// Resolution is what the gate needs to know about a resolved session: the
// two flags that drive the state machine.
type Resolution struct {
	UserID        string
	TwoFAEnabled  bool
	TwoFAVerified bool
}

// ErrInvalidSession is returned by a SessionResolver for a token with no
// live session. Any other error from Resolve is a store failure; the gate
// treats both identically (deny), but they are logged differently.
var ErrInvalidSession = errors.New("gate: invalid session")

// SessionResolver resolves a session token to the flags the gate routes on.
// Implemented by the auth service over the session store and user store.
type SessionResolver interface {
	Resolve(ctx context.Context, token string) (*Resolution, error)
}

// Routes enumerates the path classification the gate consumes. Everything
// here is configuration: the gate itself knows nothing about what the pages
// do.
type Routes struct {
	// SignIn and SignUp are reachable without a session.
	SignIn string
	SignUp string

	// Setup2FA is the only destination for sessions without 2FA enrollment.
	Setup2FA string

	// Verify2FA is the only destination for enrolled-but-unverified sessions.
	Verify2FA string

	// Home is where fully authenticated users land when they navigate
	// somewhere they shouldn't (including back to the auth pages).
	Home string

	// Allowed is the post-authentication allow-list. Anything not in it
	// redirects Home: default-deny routing, not default-allow.
	Allowed map[string]bool

	// BypassPrefixes are path prefixes the gate ignores entirely: static
	// assets, the API (which carries its own session checks), and the
	// session-validation endpoint itself.
	BypassPrefixes []string
}

// DefaultRoutes returns Signet's route classification.
func DefaultRoutes() Routes {
	return Routes{
		SignIn:    "/signin",
		SignUp:    "/signup",
		Setup2FA:  "/setup-2fa",
		Verify2FA: "/verify-2fa",
		Home:      "/",
		Allowed: map[string]bool{
			"/":                true,
			"/change-password": true,
		},
		BypassPrefixes: []string{"/api/", "/static/", "/healthz", "/favicon.ico"},
	}
}

// contextKeyResolution stores the gate's resolution in the Echo context for
// page handlers downstream.
const contextKeyResolution = "gate_resolution"

// GetResolution returns the gate's resolution for the current request, or
// nil when the request did not pass through the gate fully authenticated.
func GetResolution(c echo.Context) *Resolution {
	res, ok := c.Get(contextKeyResolution).(*Resolution)
	if !ok {
		return nil
	}
	return res
}

// Middleware returns the gate as Echo middleware over page routes. The
// session token is read from the named cookie; its absence or invalidity is
// the sole signal driving the state machine.
func Middleware(resolver SessionResolver, routes Routes, cookieName string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			path := c.Request().URL.Path

			for _, prefix := range routes.BypassPrefixes {
				if strings.HasPrefix(path, prefix) {
					return next(c)
				}
			}

			state, resolution := classify(c, resolver, cookieName)
			if resolution != nil {
				c.Set(contextKeyResolution, resolution)
			}

			if target, redirect := decide(state, path, routes); redirect {
				return c.Redirect(http.StatusSeeOther, target)
			}
			return next(c)
		}
	}
}

// classify resolves the request's session token into a gate state. Every
// resolution failure collapses into Unauthenticated.
func classify(c echo.Context, resolver SessionResolver, cookieName string) (State, *Resolution) {
	cookie, err := c.Cookie(cookieName)
	if err != nil || cookie.Value == "" {
		return NoSession, nil
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), resolveTimeout)
	defer cancel()

	resolution, err := resolver.Resolve(ctx, cookie.Value)
	if err != nil {
		if !errors.Is(err, ErrInvalidSession) {
			// Store failure or timeout. Deny, and tell the operator -- an
			// invalid cookie is routine, an unreachable store is not.
			slog.Error("session resolution failed, denying request",
				slog.Any("error", err),
				slog.String("path", c.Request().URL.Path),
			)
		}
		return Unauthenticated, nil
	}

	switch {
	case !resolution.TwoFAEnabled:
		return NeedsSetup2FA, resolution
	case !resolution.TwoFAVerified:
		return NeedsVerify2FA, resolution
	default:
		return FullyAuthenticated, resolution
	}
}

// decide is the pure transition function: given a state and a target path it
// returns where to redirect, or redirect=false to proceed. Every branch ends
// in one or the other; the fallthrough for an unrecognized state is a
// fail-closed redirect to sign-in.
func decide(state State, path string, routes Routes) (target string, redirect bool) {
	switch state {
	case NoSession, Unauthenticated:
		if path == routes.SignIn || path == routes.SignUp {
			return "", false
		}
		return routes.SignIn, true

	case NeedsSetup2FA:
		if path == routes.Setup2FA {
			return "", false
		}
		return routes.Setup2FA, true

	case NeedsVerify2FA:
		if path == routes.Verify2FA {
			return "", false
		}
		return routes.Verify2FA, true

	case FullyAuthenticated:
		// Earlier states are unreachable once fully authenticated.
		if path == routes.SignIn || path == routes.SignUp ||
			path == routes.Setup2FA || path == routes.Verify2FA {
			return routes.Home, true
		}
		if routes.Allowed[path] {
			return "", false
		}
		return routes.Home, true
	}

	return routes.SignIn, true
}
