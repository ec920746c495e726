// Package sanitize strips HTML from user-supplied text before it is stored.
// Post messages are plain text on Signet, so the strict policy (no tags at
// all) is the right default everywhere.
package sanitize

import (
	"strings"
	"sync"

	"github.com/microcosm-cc/bluemonday"
)

var (
	strictOnce   sync.Once
	strictPolicy *bluemonday.Policy
)

// strict returns the shared strip-everything policy. Policies are safe for
// concurrent use once built, so a single instance serves all requests.
func strict() *bluemonday.Policy {
	strictOnce.Do(func() {
		strictPolicy = bluemonday.StrictPolicy()
	})
	return strictPolicy
}

// Text removes all HTML tags from s and trims surrounding whitespace.
// The result is what gets persisted and signed, so callers must sanitize
// before signing, never after.
func Text(s string) string {
	return strings.TrimSpace(strict().Sanitize(s))
}
