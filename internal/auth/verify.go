package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrSecretMismatch is returned by verifiers when the supplied secret does
// not match the stored one.
var ErrSecretMismatch = errors.New("auth: secret mismatch")

// SecretVerifier compares a supplied secret against the stored credential.
// The hashing scheme is a deployment decision, not the engine's.
type SecretVerifier interface {
	Verify(stored, supplied string) error
}

// PlainVerifier compares secrets in constant time. Suitable only for
// environments where the directory already stores derived secrets.
type PlainVerifier struct{}

func (PlainVerifier) Verify(stored, supplied string) error {
	if len(stored) != len(supplied) {
		return ErrSecretMismatch
	}
	if subtle.ConstantTimeCompare([]byte(stored), []byte(supplied)) != 1 {
		return ErrSecretMismatch
	}
	return nil
}

// BcryptVerifier expects the directory to store bcrypt hashes.
type BcryptVerifier struct{}

func (BcryptVerifier) Verify(stored, supplied string) error {
	if stored == "" {
		return ErrSecretMismatch
	}
	if err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(supplied)); err != nil {
		return ErrSecretMismatch
	}
	return nil
}

// HashSecret hashes a plaintext secret for storage alongside BcryptVerifier.
func HashSecret(secret string) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("secret is empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
