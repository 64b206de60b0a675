package auth

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// hashCost matches the salt generation cost factor used at registration.
const hashCost = 10

// ErrMalformedHash reports a stored hash that is not a bcrypt string.
var ErrMalformedHash = errors.New("malformed password hash")

// HashPassword returns a salted bcrypt hash of the plaintext.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("password required")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), hashCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// VerifyPassword checks a plaintext against a stored hash. A mismatch is
// reported as (false, nil); only a malformed stored hash yields an error.
func VerifyPassword(password, stored string) (bool, error) {
	if !strings.HasPrefix(stored, "$2") {
		return false, ErrMalformedHash
	}
	err := bcrypt.CompareHashAndPassword([]byte(stored), []byte(password))
	if err == nil {
		return true, nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	return false, fmt.Errorf("%w: %v", ErrMalformedHash, err)
}

// CheckPassword is VerifyPassword with malformed input folded into false.
func CheckPassword(password, stored string) bool {
	ok, err := VerifyPassword(password, stored)
	return err == nil && ok
}
