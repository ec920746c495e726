package auth

import (
	"regexp"
	"strings"
	"time"
	"unicode"
)

// User is the domain model for a registered account. TOTPSecret and
// EncryptedPrivateKey are stored encrypted (system key and user password
// respectively) and never leave the server in any response.
type User struct {
	ID                  string     `json:"id"`
	Name                string     `json:"name"`
	Email               string     `json:"email"`
	PasswordHash        string     `json:"-"`
	Is2FAEnabled        bool       `json:"is2FAEnabled"`
	TOTPSecret          *string    `json:"-"`
	PublicKey           string     `json:"-"`
	EncryptedPrivateKey string     `json:"-"`
	CreatedAt           time.Time  `json:"createdAt"`
}

// SignUpRequest is the POST /api/auth/signup body.
type SignUpRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// SignInRequest is the POST /api/auth/signin body.
type SignInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ChangePasswordRequest is the POST /api/auth/change-password body.
type ChangePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// ValidateSessionRequest is the POST /api/auth/validate-session body used
// by external collaborators that hold a session token out of band.
type ValidateSessionRequest struct {
	SessionID string `json:"sessionId"`
}

// UserResponse is the safe subset of User returned to clients.
type UserResponse struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Email        string `json:"email"`
	Is2FAEnabled bool   `json:"is2FAEnabled"`
}

// toResponse strips credential material from a User for API output.
func toResponse(u *User) UserResponse {
	return UserResponse{
		ID:           u.ID,
		Name:         u.Name,
		Email:        u.Email,
		Is2FAEnabled: u.Is2FAEnabled,
	}
}

// --- Validation ---

var (
	nameRe  = regexp.MustCompile(`^[a-zA-Z ]+$`)
	emailRe = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
)

// validateName checks the display name: non-empty, letters and spaces only.
func validateName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "Name is required."
	}
	if len(name) > 100 {
		return "Name must be at most 100 characters."
	}
	if !nameRe.MatchString(name) {
		return "Name may only contain letters and spaces."
	}
	return ""
}

// validateEmail checks a minimal email shape. Deliverability is not our
// problem; the format gate just keeps garbage out of the unique index.
func validateEmail(email string) string {
	email = strings.TrimSpace(email)
	if email == "" {
		return "Email is required."
	}
	if len(email) > 255 {
		return "Email must be at most 255 characters."
	}
	if !emailRe.MatchString(email) {
		return "Invalid email address."
	}
	return ""
}

// validatePassword enforces the account password policy: at least 8
// characters with an uppercase letter, a lowercase letter, a digit, and a
// special character, and it must not contain the word "password".
func validatePassword(password string) string {
	if len(password) < 8 {
		return "Password must be at least 8 characters."
	}
	if len(password) > 128 {
		return "Password must be at most 128 characters."
	}

	var hasUpper, hasLower, hasDigit, hasSpecial bool
	for _, r := range password {
		switch {
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsDigit(r):
			hasDigit = true
		default:
			hasSpecial = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit || !hasSpecial {
		return "Password must contain an uppercase letter, a lowercase letter, a number, and a special character."
	}

	if strings.Contains(strings.ToLower(password), "password") {
		return "Password must not contain the word \"password\"."
	}
	return ""
}

// validateSignUpRequest runs all field validators. Returns an error message
// or empty string if the request is valid.
func validateSignUpRequest(req *SignUpRequest) string {
	if msg := validateName(req.Name); msg != "" {
		return msg
	}
	if msg := validateEmail(req.Email); msg != "" {
		return msg
	}
	return validatePassword(req.Password)
}
