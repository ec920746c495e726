package posts

import (
	"net/url"
	"strings"
	"time"
	"unicode"
)

// Post is the domain model for a feed post. Image and Signature are
// nullable: most posts carry neither. Once Signature is set, the
// (message, image) pair is immutable -- there is no edit operation.
type Post struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Message   string    `json:"message"`
	Image     *string   `json:"image"`
	Signature *string   `json:"signature"`
	CreatedAt time.Time `json:"createdAt"`
}

// ListItem is a post joined with its author's display name for the feed.
type ListItem struct {
	Post
	AuthorName string `json:"authorName"`
	Signed     bool   `json:"signed"`
}

// CreateRequest is the POST /api/posts body.
type CreateRequest struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

// SignRequest is the PUT /api/posts/:id/sign body. The password unlocks the
// author's encrypted private key for this one operation.
type SignRequest struct {
	Password string `json:"password"`
}

// VerifyResponse is the POST /api/posts/:id/verify result.
type VerifyResponse struct {
	Valid bool `json:"valid"`
}

const (
	maxMessageLen = 1000
	maxImageLen   = 2048
)

// allowedPunct is the punctuation permitted in post messages beyond
// letters, digits, and whitespace.
const allowedPunct = `.,!?'"()-_:;@#&%+=/`

// validateMessage checks the sanitized message: non-empty, bounded, and
// drawn from the permitted character set.
func validateMessage(message string) string {
	if message == "" {
		return "Message is required."
	}
	if len(message) > maxMessageLen {
		return "Message must be at most 1000 characters."
	}
	for _, r := range message {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsSpace(r) {
			continue
		}
		if strings.ContainsRune(allowedPunct, r) {
			continue
		}
		return "Message contains unsupported characters."
	}
	return ""
}

// validateImage checks the optional image URL: http(s) only, bounded length.
func validateImage(image string) string {
	if image == "" {
		return ""
	}
	if len(image) > maxImageLen {
		return "Image URL must be at most 2048 characters."
	}
	u, err := url.Parse(image)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "Image must be a valid http(s) URL."
	}
	return ""
}
