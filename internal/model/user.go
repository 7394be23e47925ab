package model

import (
	"errors"
	"net/mail"
	"time"
)

// User is a credential record. Salt and hash never leave the server.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordSalt []byte    `json:"-"`
	PasswordHash []byte    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// MinPasswordLength is the shortest accepted password.
const MinPasswordLength = 8

// ValidateEmail checks that email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return errors.New("invalid email address")
	}
	return nil
}

// ValidatePassword checks the password policy.
func ValidatePassword(password string) error {
	if len(password) < MinPasswordLength {
		return errors.New("password must be at least 8 characters")
	}
	return nil
}
