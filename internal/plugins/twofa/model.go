package twofa

import "regexp"

// GenerateResponse is returned by the setup-generate endpoint. The secret
// is shown once for manual entry; the otpauth URL feeds a QR code.
type GenerateResponse struct {
	Secret     string `json:"secret"`
	OTPAuthURL string `json:"otpauthUrl"`
}

// SetupVerifyRequest carries the candidate secret back with the first code.
// Nothing is persisted until this verification succeeds.
type SetupVerifyRequest struct {
	Code   string `json:"code"`
	Secret string `json:"secret"`
}

// VerifyRequest is the login-time verification body.
type VerifyRequest struct {
	Code string `json:"code"`
}

var (
	secretRe = regexp.MustCompile(`^[A-Z2-7]{16}$`)
	codeRe   = regexp.MustCompile(`^[0-9]{6}$`)
)

// validSecret reports whether s looks like one of our base32 secrets:
// exactly 16 characters from the RFC 4648 alphabet, no padding.
func validSecret(s string) bool {
	return secretRe.MatchString(s)
}

// validCode reports whether the code is exactly six digits.
func validCode(code string) bool {
	return codeRe.MatchString(code)
}
