// Package auth holds the admin credential helpers shared by the relay and panelctl.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

var ErrEmptyPassword = errors.New("password must not be empty")

// Hashpassword creates the bcrypt hash an operator puts in ADMIN_PASSWORD_HASH.
func Hashpassword(password string) (string, error) {
	if password == "" {
		return "", ErrEmptyPassword
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashedBytes), nil
}

// VerifyPassword checks a plaintext password against a bcrypt hash.
func VerifyPassword(hashedPassword, providedPassword string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashedPassword), []byte(providedPassword))
}

// CheckAdmin compares the user name in constant time and the password
// against its hash. The hash is always checked so timing does not reveal
// which half was wrong.
func CheckAdmin(wantUser, passwordHash, user, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(wantUser), []byte(user)) == 1
	passOK := VerifyPassword(passwordHash, password) == nil
	return userOK && passOK
}
