// Package twofa implements TOTP enrollment and verification. Enrollment is
// a two-step handshake: the server offers a secret, and only a correct code
// for that exact secret turns two-factor auth on. Stored secrets are sealed
// under the system key, never kept in plaintext.
package twofa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/plugins/auth"
	"github.com/signethq/signet/internal/session"
	"github.com/signethq/signet/internal/totp"
	"github.com/signethq/signet/internal/vault"
)

// SessionStore is the subset of the session store this service uses.
type SessionStore interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
	MarkVerified(ctx context.Context, token string) error
}

// UserStore is the user persistence surface this service needs. The auth
// repository satisfies it.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
	UpdateTOTP(ctx context.Context, id string, enabled bool, encryptedSecret *string) error
}

// Service defines the two-factor business logic contract.
type Service interface {
	Generate(ctx context.Context, token string) (*GenerateResponse, error)
	SetupVerify(ctx context.Context, token string, req SetupVerifyRequest) error
	Verify(ctx context.Context, token string, req VerifyRequest) error
}

type service struct {
	users    UserStore
	sessions SessionStore
	vault    *vault.Vault
}

// NewService creates a two-factor service with the given dependencies.
func NewService(users UserStore, sessions SessionStore, v *vault.Vault) Service {
	return &service{users: users, sessions: sessions, vault: v}
}

// Generate produces a fresh TOTP secret and provisioning URL for the
// session user. The secret is not persisted -- it only becomes the user's
// secret after SetupVerify proves the authenticator has it.
func (s *service) Generate(ctx context.Context, token string) (*GenerateResponse, error) {
	user, _, err := s.sessionUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if user.Is2FAEnabled {
		return nil, apperror.NewBadRequest("Two-factor authentication is already enabled.")
	}

	enrollment, err := totp.GenerateSecret(user.Email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating totp secret: %w", err))
	}

	return &GenerateResponse{
		Secret:     enrollment.Secret,
		OTPAuthURL: enrollment.OTPAuthURL,
	}, nil
}

// SetupVerify completes enrollment: it checks the code against the offered
// secret, then enables 2FA and marks the current session verified. If the
// session mark fails the user update is rolled back, so a user is never
// left 2FA-enabled while stuck in an unverifiable session.
func (s *service) SetupVerify(ctx context.Context, token string, req SetupVerifyRequest) error {
	if !validSecret(req.Secret) {
		return apperror.NewValidation("Invalid secret format.")
	}
	if !validCode(req.Code) {
		return apperror.NewValidation("Code must be 6 digits.")
	}

	user, _, err := s.sessionUser(ctx, token)
	if err != nil {
		return err
	}
	if user.Is2FAEnabled {
		return apperror.NewBadRequest("Two-factor authentication is already enabled.")
	}

	if !totp.Verify(req.Secret, req.Code, time.Now()) {
		return apperror.NewBadRequest("Invalid 2FA code.")
	}

	encryptedSecret, err := s.vault.Encrypt(req.Secret)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("encrypting totp secret: %w", err))
	}

	if err := s.users.UpdateTOTP(ctx, user.ID, true, &encryptedSecret); err != nil {
		return apperror.NewInternal(fmt.Errorf("enabling 2fa: %w", err))
	}

	if err := s.sessions.MarkVerified(ctx, token); err != nil {
		// Roll back the enable so sign-in state stays consistent.
		if rbErr := s.users.UpdateTOTP(ctx, user.ID, false, nil); rbErr != nil {
			slog.Error("2fa enrollment rollback failed",
				slog.String("user_id", user.ID),
				slog.Any("error", rbErr),
			)
		}
		return apperror.NewUpstream(fmt.Errorf("marking session verified: %w", err))
	}

	slog.Info("2fa enabled", slog.String("user_id", user.ID))

	return nil
}

// Verify checks a login-time code against the user's stored secret and
// marks the current session verified on success.
func (s *service) Verify(ctx context.Context, token string, req VerifyRequest) error {
	if !validCode(req.Code) {
		return apperror.NewValidation("Code must be 6 digits.")
	}

	user, _, err := s.sessionUser(ctx, token)
	if err != nil {
		return err
	}
	if !user.Is2FAEnabled || user.TOTPSecret == nil {
		return apperror.NewBadRequest("Two-factor authentication is not enabled.")
	}

	secret, err := s.vault.Decrypt(*user.TOTPSecret)
	if err != nil {
		slog.Error("stored totp secret decrypt failed",
			slog.String("user_id", user.ID),
			slog.Any("error", err),
		)
		return apperror.NewCrypto(err)
	}

	if !totp.Verify(secret, req.Code, time.Now()) {
		return apperror.NewBadRequest("Invalid 2FA code.")
	}

	if err := s.sessions.MarkVerified(ctx, token); err != nil {
		return apperror.NewUpstream(fmt.Errorf("marking session verified: %w", err))
	}

	slog.Info("2fa verified", slog.String("user_id", user.ID))

	return nil
}

// sessionUser resolves the session token to its user.
func (s *service) sessionUser(ctx context.Context, token string) (*auth.User, *session.Session, error) {
	if token == "" {
		return nil, nil, apperror.NewUnauthorized("Session expired or invalid.")
	}

	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		if err == session.ErrNotFound {
			return nil, nil, apperror.NewUnauthorized("Session expired or invalid.")
		}
		return nil, nil, apperror.NewUpstream(fmt.Errorf("validating session: %w", err))
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, nil, apperror.NewUnauthorized("Session expired or invalid.")
		}
		return nil, nil, apperror.NewInternal(fmt.Errorf("finding session user: %w", err))
	}

	return user, sess, nil
}
