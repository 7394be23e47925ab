// Package vault derives and verifies salted password hashes.
//
// Hashes are PBKDF2-HMAC-SHA256. Comparison is constant-time. A Vault holds
// only its configuration and is safe for concurrent use.
package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// SaltLength is the length of generated salts in bytes.
	SaltLength = 16
	// DefaultIterations is the PBKDF2 iteration count.
	DefaultIterations = 65536
	// DefaultKeyLength is the derived hash length in bytes (256 bits).
	DefaultKeyLength = 32
)

var (
	// ErrHashing reports an unusable key-derivation configuration or input.
	// Its message never contains the password or any derived bytes.
	ErrHashing = errors.New("vault: password hashing failed")
	// ErrSalt reports that the random source could not produce a salt.
	ErrSalt = errors.New("vault: salt generation failed")
)

// Vault hashes and verifies passwords.
type Vault struct {
	iterations int
	keyLength  int
	random     io.Reader
}

// Option configures a Vault.
type Option func(*Vault)

// WithIterations overrides the PBKDF2 iteration count.
func WithIterations(n int) Option {
	return func(v *Vault) { v.iterations = n }
}

// WithKeyLength overrides the derived hash length in bytes.
func WithKeyLength(n int) Option {
	return func(v *Vault) { v.keyLength = n }
}

// WithRandom replaces the salt source. Tests only.
func WithRandom(r io.Reader) Option {
	return func(v *Vault) { v.random = r }
}

// New returns a Vault with the default parameters and any overrides applied.
func New(opts ...Option) *Vault {
	v := &Vault{
		iterations: DefaultIterations,
		keyLength:  DefaultKeyLength,
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// GenerateSalt returns SaltLength fresh random bytes.
func (v *Vault) GenerateSalt() ([]byte, error) {
	salt := make([]byte, SaltLength)
	if _, err := io.ReadFull(v.random, salt); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSalt, err)
	}
	return salt, nil
}

// HashPassword derives the hash of password under salt. Equal inputs always
// give equal output. An empty password is refused, as VerifyPassword never
// accepts one.
func (v *Vault) HashPassword(password string, salt []byte) ([]byte, error) {
	if password == "" {
		return nil, fmt.Errorf("%w: empty password", ErrHashing)
	}
	if v.iterations < 1 {
		return nil, fmt.Errorf("%w: iteration count must be positive", ErrHashing)
	}
	if v.keyLength < 1 {
		return nil, fmt.Errorf("%w: key length must be positive", ErrHashing)
	}
	if len(salt) == 0 {
		return nil, fmt.Errorf("%w: empty salt", ErrHashing)
	}
	return pbkdf2.Key([]byte(password), salt, v.iterations, v.keyLength, sha256.New), nil
}

// VerifyPassword reports whether password hashes to expected under salt.
// Missing inputs and hashing failures are a non-match.
func (v *Vault) VerifyPassword(password string, salt, expected []byte) bool {
	if password == "" || len(salt) == 0 || len(expected) == 0 {
		return false
	}
	actual, err := v.HashPassword(password, salt)
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(actual, expected) == 1
}
