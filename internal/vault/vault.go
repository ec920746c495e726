// Package vault is Signet's credential vault: password hashing and the two
// envelope-encryption flavors everything sensitive at rest goes through.
//
// The system envelope protects TOTP secrets under a process-wide key derived
// once at startup from the operator-supplied ENCRYPTION_KEY. The password
// envelope protects each user's private signing key under a key derived from
// the user's own password -- the server can never open it on its own.
//
// Both envelopes are self-describing: the randomness needed to decrypt
// (nonce, and salt for the password flavor) travels with the ciphertext as
// colon-separated hex fields.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/pbkdf2"
)

const (
	// bcryptCost is the work factor for password hashing.
	bcryptCost = 10

	// saltLength is the PBKDF2 salt size for the password envelope.
	saltLength = 16

	// pbkdf2Iterations is the PBKDF2 iteration count for deriving a
	// 256-bit envelope key from a user password. Intentionally slow.
	pbkdf2Iterations = 100_000

	// keyLength is the derived AES-256 key size.
	keyLength = 32
)

var (
	// ErrMalformed reports an envelope whose structure is broken: wrong
	// number of fields, non-hex content, or an impossible nonce size.
	// This means corrupt stored data, not a wrong password.
	ErrMalformed = errors.New("vault: malformed envelope")

	// ErrDecrypt reports an authentication failure when opening an
	// envelope. A wrong password and a tampered ciphertext are
	// deliberately indistinguishable here so the vault cannot be used
	// as a decryption oracle; callers report it as a credential failure.
	ErrDecrypt = errors.New("vault: decryption failed")
)

// Vault performs envelope encryption with a process-wide derived key. The
// key is derived once in New and is immutable for the process lifetime.
// It must never be logged or exposed.
type Vault struct {
	key []byte
}

// New derives the process-wide envelope key from the operator secret via
// SHA-256 and returns a Vault holding it. The secret must be exactly 64
// characters; anything else is a configuration error the process must not
// start with.
func New(secret string) (*Vault, error) {
	if len(secret) != 64 {
		return nil, fmt.Errorf("vault: encryption key must be 64 characters long, got %d", len(secret))
	}
	sum := sha256.Sum256([]byte(secret))
	return &Vault{key: sum[:]}, nil
}

// Encrypt seals plaintext under the process-wide key. The returned envelope
// is hex(nonce) ":" hex(ciphertext) with a fresh random nonce per call.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	return seal(v.key, []byte(plaintext))
}

// Decrypt opens a system envelope produced by Encrypt. Returns ErrMalformed
// for a structurally broken envelope and ErrDecrypt when authentication
// fails (tampered ciphertext or an envelope written under a different key).
func (v *Vault) Decrypt(envelope string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 2 {
		return "", ErrMalformed
	}
	plaintext, err := open(v.key, parts[0], parts[1])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// EncryptWithPassword seals plaintext under a key derived from password.
// The returned envelope is hex(salt) ":" hex(nonce) ":" hex(ciphertext).
// Salt and nonce are freshly random on every call -- never reused, so
// encrypting the same plaintext twice yields unrelated envelopes.
func (v *Vault) EncryptWithPassword(plaintext, password string) (string, error) {
	salt := make([]byte, saltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("vault: generating salt: %w", err)
	}

	key := deriveKey(password, salt)
	envelope, err := seal(key, []byte(plaintext))
	if err != nil {
		return "", err
	}

	return hex.EncodeToString(salt) + ":" + envelope, nil
}

// DecryptWithPassword opens a password envelope. The exact original password
// is required: any other password fails with ErrDecrypt. ErrMalformed is
// returned only for structural damage (see the package doc for why the two
// are split this way).
func (v *Vault) DecryptWithPassword(envelope, password string) (string, error) {
	parts := strings.Split(envelope, ":")
	if len(parts) != 3 {
		return "", ErrMalformed
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil || len(salt) != saltLength {
		return "", ErrMalformed
	}

	key := deriveKey(password, salt)
	plaintext, err := open(key, parts[1], parts[2])
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// HashPassword hashes a password with bcrypt. The result embeds its own
// salt and cost and is computationally infeasible to invert.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("vault: hashing password: %w", err)
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches the stored bcrypt hash.
func CheckPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// deriveKey stretches a password into an AES-256 key with PBKDF2-SHA256.
func deriveKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, pbkdf2Iterations, keyLength, sha256.New)
}

// seal encrypts plaintext with AES-256-GCM under key and returns
// hex(nonce) ":" hex(ciphertext).
func seal(key, plaintext []byte) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("vault: generating nonce: %w", err)
	}

	ciphertext := gcm.Seal(nil, nonce, plaintext, nil)
	return hex.EncodeToString(nonce) + ":" + hex.EncodeToString(ciphertext), nil
}

// open decrypts a hex nonce + hex ciphertext pair with AES-256-GCM.
func open(key []byte, nonceHex, ciphertextHex string) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce, err := hex.DecodeString(nonceHex)
	if err != nil || len(nonce) != gcm.NonceSize() {
		return nil, ErrMalformed
	}

	ciphertext, err := hex.DecodeString(ciphertextHex)
	if err != nil {
		return nil, ErrMalformed
	}

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// newGCM builds an AES-256-GCM AEAD for the given 32-byte key.
func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("vault: creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("vault: creating GCM: %w", err)
	}
	return gcm, nil
}
