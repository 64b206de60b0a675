package auth

import (
	"errors"
	"strings"
	"testing"
)

func TestHashPasswordAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if !strings.HasPrefix(hash, "$2") {
		t.Fatalf("expected bcrypt hash, got %q", hash)
	}
	if !CheckPassword("secret123", hash) {
		t.Fatalf("expected password check to pass")
	}
	if CheckPassword("secret124", hash) {
		t.Fatalf("expected wrong password to fail")
	}
}

func TestHashPasswordSalting(t *testing.T) {
	first, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	second, err := HashPassword("secret123")
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	if first == second {
		t.Fatalf("expected distinct salts for repeated hashing")
	}
	if !CheckPassword("secret123", first) || !CheckPassword("secret123", second) {
		t.Fatalf("both hashes should verify the original password")
	}
}

func TestVerifyPasswordMalformedHash(t *testing.T) {
	if _, err := VerifyPassword("secret123", "not-a-bcrypt-hash"); !errors.Is(err, ErrMalformedHash) {
		t.Fatalf("expected ErrMalformedHash, got %v", err)
	}
	if CheckPassword("secret123", "not-a-bcrypt-hash") {
		t.Fatalf("malformed hash must never verify")
	}
}

func TestHashPasswordRejectsEmpty(t *testing.T) {
	if _, err := HashPassword(""); err == nil {
		t.Fatalf("expected error for empty password")
	}
}
