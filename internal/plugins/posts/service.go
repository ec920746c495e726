// Package posts implements the feed: plain-text posts with optional images,
// author-only RSA signing under the author's password-sealed private key,
// and signature verification against the author's public key.
package posts

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/signethq/signet/internal/apperror"
	"github.com/signethq/signet/internal/plugins/auth"
	"github.com/signethq/signet/internal/sanitize"
	"github.com/signethq/signet/internal/session"
	"github.com/signethq/signet/internal/signing"
	"github.com/signethq/signet/internal/vault"
)

const (
	defaultTake = 10
	maxTake     = 50
)

// SessionStore is the subset of the session store this service uses.
type SessionStore interface {
	Validate(ctx context.Context, token string) (*session.Session, error)
}

// UserStore is the user lookup surface this service needs: key material for
// signing and verification. The auth repository satisfies it.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*auth.User, error)
}

// Service defines the posts business logic contract.
type Service interface {
	Create(ctx context.Context, token string, req CreateRequest) (*Post, error)
	List(ctx context.Context, token string, skip, take int) ([]ListItem, error)
	Sign(ctx context.Context, token, postID string, req SignRequest) (*Post, error)
	Verify(ctx context.Context, token, postID string) (*VerifyResponse, error)
}

type service struct {
	repo     Repository
	users    UserStore
	sessions SessionStore
	vault    *vault.Vault
}

// NewService creates a posts service with the given dependencies.
func NewService(repo Repository, users UserStore, sessions SessionStore, v *vault.Vault) Service {
	return &service{repo: repo, users: users, sessions: sessions, vault: v}
}

// Create stores a new post authored by the session user. The message is
// sanitized before validation so stripped markup counts against neither
// the length bound nor the character set.
func (s *service) Create(ctx context.Context, token string, req CreateRequest) (*Post, error) {
	user, err := s.fullyAuthedUser(ctx, token)
	if err != nil {
		return nil, err
	}

	message := sanitize.Text(req.Message)
	if msg := validateMessage(message); msg != "" {
		return nil, apperror.NewValidation(msg)
	}
	if msg := validateImage(req.Image); msg != "" {
		return nil, apperror.NewValidation(msg)
	}

	post := &Post{
		ID:        uuid.NewString(),
		UserID:    user.ID,
		Message:   message,
		CreatedAt: time.Now().UTC(),
	}
	if req.Image != "" {
		post.Image = &req.Image
	}

	if err := s.repo.Create(ctx, post); err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("creating post: %w", err))
	}

	slog.Info("post created",
		slog.String("post_id", post.ID),
		slog.String("user_id", user.ID),
	)

	return post, nil
}

// List returns a page of the feed, newest first.
func (s *service) List(ctx context.Context, token string, skip, take int) ([]ListItem, error) {
	if _, err := s.fullyAuthedUser(ctx, token); err != nil {
		return nil, err
	}

	if skip < 0 {
		skip = 0
	}
	if take <= 0 {
		take = defaultTake
	}
	if take > maxTake {
		take = maxTake
	}

	items, err := s.repo.List(ctx, skip, take)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("listing posts: %w", err))
	}

	return items, nil
}

// Sign signs a post with its author's private key. Only the author can
// sign, only unsigned posts can be signed, and the key is unlocked with the
// author's password for just this operation -- the decrypted key never
// leaves this function.
func (s *service) Sign(ctx context.Context, token, postID string, req SignRequest) (*Post, error) {
	user, err := s.fullyAuthedUser(ctx, token)
	if err != nil {
		return nil, err
	}
	if req.Password == "" {
		return nil, apperror.NewValidation("Password is required.")
	}

	post, err := s.repo.FindByID(ctx, postID)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewNotFound("Post not found.")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding post: %w", err))
	}

	if post.UserID != user.ID {
		return nil, apperror.NewForbidden("You can only sign your own posts.")
	}
	if post.Signature != nil {
		return nil, apperror.NewBadRequest("Post is already signed.")
	}

	privatePEM, err := s.vault.DecryptWithPassword(user.EncryptedPrivateKey, req.Password)
	if err != nil {
		slog.Warn("private key decrypt failed during post signing",
			slog.String("user_id", user.ID),
			slog.String("post_id", post.ID),
			slog.Any("error", err),
		)
		return nil, apperror.NewCrypto(err)
	}

	sig, err := signing.Sign(privatePEM, contentOf(post))
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("signing post: %w", err))
	}

	if err := s.repo.SetSignature(ctx, post.ID, sig); err != nil {
		if appErr, ok := err.(*apperror.AppError); ok {
			return nil, appErr
		}
		return nil, apperror.NewInternal(fmt.Errorf("storing signature: %w", err))
	}

	post.Signature = &sig

	slog.Info("post signed",
		slog.String("post_id", post.ID),
		slog.String("user_id", user.ID),
	)

	return post, nil
}

// Verify checks a post's signature against its author's public key.
// Unsigned posts are a 400; a bad signature is a 200 with valid=false --
// the request succeeded, the signature just doesn't hold.
func (s *service) Verify(ctx context.Context, token, postID string) (*VerifyResponse, error) {
	if _, err := s.fullyAuthedUser(ctx, token); err != nil {
		return nil, err
	}

	post, err := s.repo.FindByID(ctx, postID)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewNotFound("Post not found.")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding post: %w", err))
	}

	if post.Signature == nil {
		return nil, apperror.NewBadRequest("Post is not signed.")
	}

	author, err := s.users.FindByID(ctx, post.UserID)
	if err != nil {
		return nil, apperror.NewInternal(fmt.Errorf("finding post author: %w", err))
	}

	valid := signing.Verify(author.PublicKey, contentOf(post), *post.Signature)

	return &VerifyResponse{Valid: valid}, nil
}

// contentOf builds the canonical signing content for a post. A missing
// image signs as the empty string.
func contentOf(post *Post) signing.Content {
	content := signing.Content{Message: post.Message}
	if post.Image != nil {
		content.Image = *post.Image
	}
	return content
}

// fullyAuthedUser resolves the session and requires full authentication:
// a valid session whose 2FA step, when the account has one, is done.
func (s *service) fullyAuthedUser(ctx context.Context, token string) (*auth.User, error) {
	if token == "" {
		return nil, apperror.NewUnauthorized("Session expired or invalid.")
	}

	sess, err := s.sessions.Validate(ctx, token)
	if err != nil {
		if err == session.ErrNotFound {
			return nil, apperror.NewUnauthorized("Session expired or invalid.")
		}
		return nil, apperror.NewUpstream(fmt.Errorf("validating session: %w", err))
	}

	user, err := s.users.FindByID(ctx, sess.UserID)
	if err != nil {
		if apperror.SafeCode(err) == 404 {
			return nil, apperror.NewUnauthorized("Session expired or invalid.")
		}
		return nil, apperror.NewInternal(fmt.Errorf("finding session user: %w", err))
	}

	if user.Is2FAEnabled && !sess.Is2FAVerified {
		return nil, apperror.NewUnauthorized("Two-factor verification required.")
	}

	return user, nil
}
