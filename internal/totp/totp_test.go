package totp

import (
	"testing"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// codeAt computes the expected code for secret at the given time, using the
// same parameters the engine validates with.
func codeAt(t *testing.T, secret string, at time.Time) string {
	t.Helper()
	code, err := totp.GenerateCodeCustom(secret, at, totp.ValidateOpts{
		Period:    period,
		Skew:      skew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		t.Fatalf("generating reference code: %v", err)
	}
	return code
}

func TestGenerateSecret(t *testing.T) {
	enrollment, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}

	// 10 random bytes encode to 16 base32 characters.
	if len(enrollment.Secret) != 16 {
		t.Errorf("secret length = %d, want 16", len(enrollment.Secret))
	}
	if enrollment.OTPAuthURL == "" {
		t.Fatal("empty otpauth URL")
	}
	if got := enrollment.OTPAuthURL[:15]; got != "otpauth://totp/" {
		t.Errorf("URL prefix = %q, want otpauth://totp/", got)
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	a, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	b, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	if a.Secret == b.Secret {
		t.Error("two generated secrets are identical")
	}
}

func TestVerify_SkewWindow(t *testing.T) {
	enrollment, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	secret := enrollment.Secret

	// Mid-step base time so +-29s stays within one adjacent step.
	base := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)
	code := codeAt(t, secret, base)

	cases := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"exact time", base, true},
		{"29s early", base.Add(-29 * time.Second), true},
		{"29s late", base.Add(29 * time.Second), true},
		{"three steps late", base.Add(90 * time.Second), false},
		{"three steps early", base.Add(-90 * time.Second), false},
		{"ten minutes late", base.Add(10 * time.Minute), false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Verify(secret, code, tc.at); got != tc.want {
				t.Errorf("Verify at %v = %v, want %v", tc.at, got, tc.want)
			}
		})
	}
}

func TestVerify_RejectsBadCodes(t *testing.T) {
	enrollment, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	secret := enrollment.Secret
	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)

	// An incorrect 6-digit code: derive a guaranteed-wrong one from the
	// real code by changing its first digit.
	real := codeAt(t, secret, now)
	wrong := string('0'+(real[0]-'0'+1)%10) + real[1:]

	cases := []struct {
		name string
		code string
	}{
		{"wrong 6-digit code", wrong},
		{"empty", ""},
		{"too short", "12345"},
		{"too long", "1234567"},
		{"letters", "12a456"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if Verify(secret, tc.code, now) {
				t.Errorf("Verify accepted %q", tc.code)
			}
		})
	}
}

func TestVerify_NormalizesWhitespace(t *testing.T) {
	enrollment, err := GenerateSecret("user@example.com")
	if err != nil {
		t.Fatalf("GenerateSecret: %v", err)
	}
	secret := enrollment.Secret
	now := time.Date(2025, 6, 1, 12, 0, 15, 0, time.UTC)
	code := codeAt(t, secret, now)

	spaced := " " + code[:3] + " " + code[3:] + " "
	if !Verify(secret, spaced, now) {
		t.Errorf("Verify rejected %q with copy-paste whitespace", spaced)
	}
}

func TestVerify_UndecodableSecret(t *testing.T) {
	if Verify("not-base32!!", "123456", time.Now()) {
		t.Error("Verify accepted a code against an undecodable secret")
	}
}
