// Package signing implements Signet's per-user content signatures. Every
// account gets a 2048-bit RSA keypair at signup: the public key is stored in
// clear, the private key only ever exists inside a password-derived envelope
// (internal/vault) and is decrypted for the duration of a single Sign call.
//
// Sign and Verify both serialize the signable content through the same
// canonical function. That byte-identity is the load-bearing invariant of
// the whole subsystem: any drift between the two sides silently breaks
// every signature ever made.
package signing

import (
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
)

// rsaBits is the keypair modulus size.
const rsaBits = 2048

// ErrInvalidKey reports PEM key material that cannot be parsed. For a
// private key this usually means the envelope decrypted to garbage.
var ErrInvalidKey = errors.New("signing: invalid key material")

// Content is the signable portion of a post. Field order here defines the
// canonical serialization; it must never change once signatures exist.
type Content struct {
	Message string `json:"message"`
	Image   string `json:"image"`
}

// KeyPair holds a user's PEM-encoded keypair as produced at signup. The
// private side is plaintext PKCS#8 and must be envelope-encrypted before it
// is persisted or leaves this process.
type KeyPair struct {
	PublicPEM  string
	PrivatePEM string
}

// GenerateKeyPair creates a fresh 2048-bit RSA keypair, PEM-encoded:
// PKIX/SPKI for the public key, PKCS#8 for the private key.
func GenerateKeyPair() (*KeyPair, error) {
	priv, err := rsa.GenerateKey(rand.Reader, rsaBits)
	if err != nil {
		return nil, fmt.Errorf("signing: generating keypair: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("signing: encoding public key: %w", err)
	}
	privDER, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("signing: encoding private key: %w", err)
	}

	return &KeyPair{
		PublicPEM:  string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDER})),
		PrivatePEM: string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDER})),
	}, nil
}

// Sign signs the canonical serialization of content with the given PEM
// private key and returns a base64 RSASSA-PKCS1-v1.5 SHA-256 signature.
func Sign(privatePEM string, content Content) (string, error) {
	priv, err := parsePrivateKey(privatePEM)
	if err != nil {
		return "", err
	}

	digest := sha256.Sum256(canonicalBytes(content))
	sig, err := rsa.SignPKCS1v15(rand.Reader, priv, crypto.SHA256, digest[:])
	if err != nil {
		return "", fmt.Errorf("signing: signing digest: %w", err)
	}
	return base64.StdEncoding.EncodeToString(sig), nil
}

// Verify reports whether signatureB64 is a valid signature over content's
// canonical serialization for the given PEM public key. Every mismatch --
// wrong key, altered content, undecodable signature, unparsable key --
// returns false, never an error: verification has exactly two outcomes.
func Verify(publicPEM string, content Content, signatureB64 string) bool {
	pub, err := parsePublicKey(publicPEM)
	if err != nil {
		return false
	}

	sig, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}

	digest := sha256.Sum256(canonicalBytes(content))
	return rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig) == nil
}

// canonicalBytes produces the deterministic byte serialization both Sign
// and Verify hash: a JSON object with message then image, an absent image
// represented as the empty string.
func canonicalBytes(content Content) []byte {
	// Struct field order fixes the JSON key order; marshaling a Content
	// cannot fail.
	b, _ := json.Marshal(content)
	return b
}

// parsePrivateKey decodes a PKCS#8 PEM RSA private key.
func parsePrivateKey(privatePEM string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(privatePEM))
	if block == nil {
		return nil, ErrInvalidKey
	}
	key, err := x509.ParsePKCS8PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	priv, ok := key.(*rsa.PrivateKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return priv, nil
}

// parsePublicKey decodes a PKIX PEM RSA public key.
func parsePublicKey(publicPEM string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(publicPEM))
	if block == nil {
		return nil, ErrInvalidKey
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	pub, ok := key.(*rsa.PublicKey)
	if !ok {
		return nil, ErrInvalidKey
	}
	return pub, nil
}
