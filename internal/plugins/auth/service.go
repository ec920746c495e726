// Package auth implements account lifecycle and sign-in: signup with RSA
// key provisioning, the delayed and lockout-guarded sign-in flow, sign-out,
// password changes with private-key re-encryption, and session validation
// for both the in-process access gate and external collaborators.
package auth

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/gate"
	"github.com/signethq/signet/internal/guard"
	"github.com/signethq/signet/internal/session"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/vault"
)

// SessionStore is the subset of the session store the auth service uses.
// Satisfied by *session.Store; tests substitute a mock.
type SessionStore interface {
	Create(ctx context.Context, userID string) (string, error)
	Validate(ctx context.Context, token string) (*session.Session, error)
	Delete(ctx context.Context, token string) error
	DeleteAllForUser(ctx context.Context, userID string) error
}

// AttemptGuard is the brute-force counter contract. Satisfied by *guard.Guard.
type AttemptGuard interface {
	Check(ctx context.Context, identifier string) (guard.Status, error)
	RecordFailure(ctx context.Context, identifier string) (int, error)
	Reset(ctx context.Context, identifier string) error
}

// Service defines the business logic contract for authentication.
// Handlers call these methods -- they never touch the repository directly.
type Service interface {
	SignUp(ctx context.Context, req SignUpRequest) (*User, error)
	SignIn(ctx context.Context, req SignInRequest) (token string, user *User, err error)
	SignOut(ctx context.Context, token string) error
	ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error
	ValidateSession(ctx context.Context, token string) (*session.Session, *User, error)

	// Resolve implements gate.SessionResolver so the access gate can ask
	// "who is this token" without importing this package's internals.
	Resolve(ctx context.Context, token string) (*gate.Resolution, error)
}

// service implements Service with bcrypt hashing, Redis-backed sessions,
// and the envelope vault for private-key material.
type service struct {
	repo        UserRepository
	sessions    SessionStore
	guard       AttemptGuard
	vault       *vault.Vault
	signInDelay time.Duration
}

// NewService creates a new auth service with the given dependencies.
// signInDelay is the fixed pause applied to every sign-in attempt before
// any credential work happens (timing-oracle damping).
func NewService(repo UserRepository, sessions SessionStore, g AttemptGuard, v *vault.Vault, signInDelay time.Duration) Service {
	return &service{
		repo:        repo,
		sessions:    sessions,
		guard:       g,
		vault:       v,
		signInDelay: signInDelay,
	}
}

// SignUp creates a new account. It validates the input, rejects duplicate
// emails before doing any expensive work, hashes the password with bcrypt,
// generates the user's RSA signing keypair, and seals the private key under
// the user's own password. The server can never sign on the user's behalf.
func (s *service) SignUp(ctx context.Context, req SignUpRequest) (*User, error) {
	if msg := validateSignUpRequest(&req); msg != "" {
		return nil, apperror.NewValidation(msg)
	}

	email := normalizeEmail(req.Email)

	exists, err := s.repo.EmailExists(ctx, email)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("checking email: %w", err))
	}
	if exists {
		return nil, apperror.NewBadRequest("An account with this email already exists.")
	}

	hash, err := vault.HashPassword(req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	keys, err := signing.GenerateKeyPair()
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("generating keypair: %w", err))
	}

	encryptedKey, err := s.vault.EncryptWithPassword(keys.PrivatePEM, req.Password)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("encrypting private key: %w", err))
	}

	user := &User{
		ID:                  uuid.NewString(),
		Name:                strings.TrimSpace(req.Name),
		Email:               email,
		PasswordHash:        hash,
		Is2FAEnabled:        false,
		PublicKey:           keys.PublicPEM,
		EncryptedPrivateKey: encryptedKey,
		CreatedAt:           time.Now().UTC(),
	}

	if err := s.repo.Create(ctx, user); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating user: %w", err))
	}

	slog.Info("user signed up",
		slog.String("user_id", user.ID),
		slog.String("email", user.Email),
	)

	return user, nil
}

// SignIn authenticates by email and password. Every attempt -- success or
// failure, known email or not -- pays the same fixed delay and walks the
// same code path, so response timing reveals nothing about account
// existence. Failures count toward the lockout; success resets it.
func (s *service) SignIn(ctx context.Context, req SignInRequest) (string, *User, error) {
	if s.signInDelay > 0 {
		select {
		case <-time.After(s.signInDelay):
		case <-ctx.Done():
			return "", nil, ctx.Err()
		}
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return "", nil, apperror.NewValidation("Email and password are required.")
	}

	status, err := s.guard.Check(ctx, email)
	if err != nil {
		// Counter store unreachable: refuse sign-in rather than run unguarded.
		return "", nil, apperror.NewUpstream(fmt.Errorf("attempt guard: %w", err))
	}
	if !status.Allowed {
		return "", nil, apperror.NewLocked(int(status.RetryAfter.Seconds()))
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return "", nil, s.failAttempt(ctx, email)
		}
		return "", nil, apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !vault.CheckPassword(req.Password, user.PasswordHash) {
		return "", nil, s.failAttempt(ctx, email)
	}

	if err := s.guard.Reset(ctx, email); err != nil {
		slog.Warn("failed to reset attempt counter",
			slog.String("email", email),
			slog.Any("error", err),
		)
	}

	token, err := s.sessions.Create(ctx, user.ID)
	if err != nil {
		return "", nil, apperror.NewUpstream(fmt.Errorf("creating session: %w", err))
	}

	slog.Info("user signed in",
		slog.String("user_id", user.ID),
		slog.Bool("2fa_enabled", user.Is2FAEnabled),
	)

	return token, user, nil
}

// failAttempt records a failed sign-in and returns the generic credentials
// error. Unknown email and wrong password produce byte-identical responses.
func (s *service) failAttempt(ctx context.Context, email string) error {
	remaining, err := s.guard.RecordFailure(ctx, email)
	if err != nil {
		slog.Warn("failed to record sign-in failure",
			slog.String("email", email),
			slog.Any("error", err),
		)
		return apperror.NewUnauthorized("Invalid email or password.")
	}
	return apperror.NewUnauthorized(
		fmt.Sprintf("Invalid email or password. %d attempts remaining.", remaining))
}

// SignOut destroys the session. Deleting an already-gone token is fine.
func (s *service) SignOut(ctx context.Context, token string) error {
	if err := s.sessions.Delete(ctx, token); err != nil {
		return apperror.NewUpstream(fmt.Errorf("deleting session: %w", err))
	}
	return nil
}

// ChangePassword verifies the current password, re-encrypts the private key
// under the new password, swaps hash and key in one statement, and then
// revokes every session the user has. The caller must sign in again.
func (s *service) ChangePassword(ctx context.Context, userID string, req ChangePasswordRequest) error {
	if msg := validatePassword(req.NewPassword); msg != "" {
		return apperror.NewValidation(msg)
	}
	if req.NewPassword == req.CurrentPassword {
		return apperror.NewValidation("New password must be different from the current password.")
	}

	user, err := s.repo.FindByID(ctx, userID)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("finding user: %w", err))
	}

	if !vault.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		return apperror.NewUnauthorized("Current password is incorrect.")
	}

	// The private key is sealed under the old password. If this decrypt
	// fails despite the hash matching, credential state is corrupt -- do not
	// proceed and lose the only copy of the key.
	privatePEM, err := s.vault.DecryptWithPassword(user.EncryptedPrivateKey, req.CurrentPassword)
	if err != nil {
		slog.Error("private key decrypt failed during password change",
			slog.String("user_id", userID),
			slog.Any("error", err),
		)
		return apperror.NewCrypto(err)
	}

	newHash, err := vault.HashPassword(req.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("hashing password: %w", err))
	}

	reEncryptedKey, err := s.vault.EncryptWithPassword(privatePEM, req.NewPassword)
	if err != nil {
		return apperror.NewInternal(fmt.Errorf("re-encrypting private key: %w", err))
	}

	if err := s.repo.UpdateCredentials(ctx, userID, newHash, reEncryptedKey); err != nil {
		return apperror.NewInternal(fmt.Errorf("updating credentials: %w", err))
	}

	// Old-password sessions must die with the old password.
	if err := s.sessions.DeleteAllForUser(ctx, userID); err != nil {
		return apperror.NewUpstream(fmt.Errorf("revoking sessions: %w", err))
	}

	slog.Info("password changed", slog.String("user_id", userID))

	return nil
}

// ValidateSession resolves a token to its session and owning user. Used by
// the validate-session collaborator endpoint and by API handlers that need
// the caller's account.
func (s *service) ValidateSession(ctx context.Context, token string) (*session.Session, *User, error) {
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

	user, err := s.repo.FindByID(ctx, sess.UserID)
	if err != nil {
		// Session points at a deleted account. Treat as invalid.
		if apperror.SafeCode(err) == 404 {
			return nil, nil, apperror.NewUnauthorized("Session expired or invalid.")
		}
		return nil, nil, apperror.NewInternal(fmt.Errorf("finding session user: %w", err))
	}

	return sess, user, nil
}

// Resolve adapts ValidateSession to the access gate's resolver contract.
// Invalid or expired tokens map to gate.ErrInvalidSession; anything else
// propagates so the gate can fail closed on infrastructure errors.
func (s *service) Resolve(ctx context.Context, token string) (*gate.Resolution, error) {
	sess, user, err := s.ValidateSession(ctx, token)
	if err != nil {
		if apperror.SafeCode(err) == 401 {
			return nil, gate.ErrInvalidSession
		}
		return nil, err
	}

	return &gate.Resolution{
		UserID:        user.ID,
		TwoFAEnabled:  user.Is2FAEnabled,
		TwoFAVerified: sess.Is2FAVerified,
	}, nil
}

// normalizeEmail lowercases and trims an email for lookup and storage.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
