package auth

import (
	"errors"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidCredentials is returned for a password that does not match.
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	// ErrMissingPasswordHash is returned when no moderator password hash is configured.
	ErrMissingPasswordHash = errors.New("auth: password hash required")
	errEmptyPassword       = errors.New("auth: password must not be empty")
)

// HashPassword returns a bcrypt hash suitable for auth.moderator_password_hash.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errEmptyPassword
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// PasswordVerifier checks moderator passwords against a bcrypt hash.
type PasswordVerifier struct {
	hash []byte
}

// NewPasswordVerifier validates hash and wraps it.
func NewPasswordVerifier(hash string) (*PasswordVerifier, error) {
	trimmed := strings.TrimSpace(hash)
	if trimmed == "" {
		return nil, ErrMissingPasswordHash
	}
	if _, err := bcrypt.Cost([]byte(trimmed)); err != nil {
		return nil, err
	}
	return &PasswordVerifier{hash: []byte(trimmed)}, nil
}

// Verify returns ErrInvalidCredentials unless password matches.
func (v *PasswordVerifier) Verify(password string) error {
	if password == "" {
		return ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(v.hash, []byte(password)); err != nil {
		return ErrInvalidCredentials
	}
	return nil
}
