// Package auth wraps password hashing, matching the exact call pattern
// of auth-handler.go's HandleRegister/HandleLogin
// (bcrypt.GenerateFromPassword(pw, 12), bcrypt.CompareHashAndPassword).
package auth

import (
	"golang.org/x/crypto/bcrypt"

	"knowledge-hub/internal/apperr"
)

const cost = 12

func HashPassword(password string) (string, error) {
	if password == "" {
		return "", apperr.Validation("password must not be empty")
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", apperr.Upstream("hash password", err)
	}
	return string(b), nil
}

func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return apperr.AuthN("invalid credentials")
	}
	return nil
}
