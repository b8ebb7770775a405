// ABOUTME: Password hashing and registration input checks
// ABOUTME: bcrypt for storage; email and password rules for new accounts

package auth

import (
	"errors"
	"net/mail"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

// MinPasswordLength is the shortest password accepted at registration.
const MinPasswordLength = 6

// ErrBadCredentials is returned when an email/password pair does not match.
var ErrBadCredentials = errors.New("incorrect email or password")

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword compares a bcrypt hash with a candidate password.
func CheckPassword(hash, password string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return ErrBadCredentials
	}
	return nil
}

// FieldError names one invalid input field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidateRegistration checks a registration request, returning every problem found.
func ValidateRegistration(email, password string) []FieldError {
	var errs []FieldError
	email = strings.TrimSpace(email)
	if email == "" {
		errs = append(errs, FieldError{Field: "email", Message: "field required"})
	} else if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		errs = append(errs, FieldError{Field: "email", Message: "value is not a valid email address"})
	}
	if password == "" {
		errs = append(errs, FieldError{Field: "password", Message: "field required"})
	} else if len(password) < MinPasswordLength {
		errs = append(errs, FieldError{Field: "password", Message: "password is too short"})
	}
	return errs
}
