package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/signethq/signet/internal/apperror"
)

// UserRepository defines the data access contract for user operations.
// All SQL lives in the concrete implementation -- no SQL leaks out.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	FindByID(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	EmailExists(ctx context.Context, email string) (bool, error)

	// UpdateCredentials swaps the password hash and the re-encrypted private
	// key in a single statement so the two never drift apart.
	UpdateCredentials(ctx context.Context, id, passwordHash, encryptedPrivateKey string) error

	// UpdateTOTP enables or disables two-factor auth. A nil encryptedSecret
	// clears the column (disable path / enrollment rollback).
	UpdateTOTP(ctx context.Context, id string, enabled bool, encryptedSecret *string) error
}

// userRepository implements UserRepository with hand-written MariaDB queries.
type userRepository struct {
	db *sql.DB
}

// NewUserRepository creates a new user repository backed by the given DB pool.
func NewUserRepository(db *sql.DB) UserRepository {
	return &userRepository{db: db}
}

const userColumns = `id, name, email, password_hash, is_2fa_enabled,
                     totp_secret, public_key, encrypted_private_key, created_at`

// Create inserts a new user row into the users table.
func (r *userRepository) Create(ctx context.Context, user *User) error {
	query := `INSERT INTO users (id, name, email, password_hash, is_2fa_enabled,
	                             totp_secret, public_key, encrypted_private_key, created_at)
	          VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Name,
		user.Email,
		user.PasswordHash,
		user.Is2FAEnabled,
		user.TOTPSecret,
		user.PublicKey,
		user.EncryptedPrivateKey,
		user.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting user: %w", err)
	}

	return nil
}

// FindByID retrieves a user by their UUID.
// Returns apperror.NotFound if no user exists with this ID.
func (r *userRepository) FindByID(ctx context.Context, id string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

// FindByEmail retrieves a user by their email address.
// Returns apperror.NotFound if no user exists with this email.
func (r *userRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = ?`
	return r.scanOne(r.db.QueryRowContext(ctx, query, email))
}

// EmailExists returns true if a user with the given email already exists.
// Used during signup to check for duplicates before hashing the password.
func (r *userRepository) EmailExists(ctx context.Context, email string) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM users WHERE email = ?)`

	var exists bool
	err := r.db.QueryRowContext(ctx, query, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking email existence: %w", err)
	}

	return exists, nil
}

// UpdateCredentials replaces the password hash and encrypted private key
// together. Both change on every password change, so a single UPDATE keeps
// them consistent even without a transaction.
func (r *userRepository) UpdateCredentials(ctx context.Context, id, passwordHash, encryptedPrivateKey string) error {
	query := `UPDATE users SET password_hash = ?, encrypted_private_key = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, passwordHash, encryptedPrivateKey, id)
	if err != nil {
		return fmt.Errorf("updating credentials: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}

	return nil
}

// UpdateTOTP sets the two-factor state. encryptedSecret is the system-key
// encrypted TOTP secret, or nil to clear it.
func (r *userRepository) UpdateTOTP(ctx context.Context, id string, enabled bool, encryptedSecret *string) error {
	query := `UPDATE users SET is_2fa_enabled = ?, totp_secret = ? WHERE id = ?`

	result, err := r.db.ExecContext(ctx, query, enabled, encryptedSecret, id)
	if err != nil {
		return fmt.Errorf("updating totp state: %w", err)
	}

	n, _ := result.RowsAffected()
	if n == 0 {
		return apperror.NewNotFound("user not found")
	}

	return nil
}

// scanOne reads a single user row, translating sql.ErrNoRows to NotFound.
func (r *userRepository) scanOne(row *sql.Row) (*User, error) {
	user := &User{}
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.PasswordHash,
		&user.Is2FAEnabled,
		&user.TOTPSecret,
		&user.PublicKey,
		&user.EncryptedPrivateKey,
		&user.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperror.NewNotFound("user not found")
	}
	if err != nil {
		return nil, fmt.Errorf("querying user: %w", err)
	}

	return user, nil
}
