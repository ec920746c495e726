// Package totp generates and validates time-based one-time codes for
// Signet's second authentication factor. Secrets and submitted codes are
// treated as credentials: they are never logged and never appear in errors.
package totp

import (
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	// issuer is shown by authenticator apps next to the account label.
	issuer = "Signet"

	// secretSize is the raw secret length in bytes. 10 bytes encodes to
	// a 16-character base32 string, the length enrollment requests are
	// validated against.
	secretSize = 10

	// period is the code time step in seconds.
	period = 30

	// skew is the clock-skew tolerance in steps on each side of now.
	skew = 1

	// digits is the code length.
	digits = otp.DigitsSix
)

// Enrollment holds a freshly generated secret in the two shapes the setup
// flow needs: the base32 secret for manual entry and the otpauth:// URI
// authenticator apps consume as a QR code.
type Enrollment struct {
	Secret     string
	OTPAuthURL string
}

// GenerateSecret creates a new random TOTP secret for the given account
// email. The secret is returned for display only -- persisting it (encrypted)
// happens later, once the user proves their authenticator accepted it.
func GenerateSecret(accountEmail string) (*Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      issuer,
		AccountName: accountEmail,
		SecretSize:  secretSize,
		Period:      period,
		Digits:      digits,
	})
	if err != nil {
		return nil, fmt.Errorf("totp: generating secret: %w", err)
	}

	return &Enrollment{
		Secret:     key.Secret(),
		OTPAuthURL: key.URL(),
	}, nil
}

// Verify reports whether code is valid for secret at time at, accepting the
// current time step and one step on either side for clock skew. Codes
// outside that window are always rejected, as is anything that is not six
// digits after whitespace normalization.
func Verify(secret, code string, at time.Time) bool {
	code = normalize(code)
	if !sixDigits(code) {
		return false
	}

	ok, err := totp.ValidateCustom(code, secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    digits,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		// Undecodable secret or malformed input. Never valid.
		return false
	}
	return ok
}

// normalize strips the whitespace authenticator apps and users tend to
// include when copying codes.
func normalize(code string) string {
	return strings.ReplaceAll(strings.TrimSpace(code), " ", "")
}

// sixDigits reports whether code is exactly six ASCII digits.
func sixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
