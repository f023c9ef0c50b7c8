package credentials

import (
	"errors"
	"net/mail"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/Skotchmaster/shop_auth/internal/hash"
)

const (
	MinPasswordLength = 6
	MinUsernameLength = 3
	MaxUsernameLength = 100
	MaxEmailLength    = 255

	// PasswordSymbols is the fixed set a password must draw at least one symbol from.
	PasswordSymbols = "@$!%*?&"
)

var (
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordTooShort = errors.New("password must be at least 6 characters long")
	ErrPasswordTooLong  = errors.New("password must be at most 72 bytes long")
	ErrPasswordClasses  = errors.New("password must contain at least one uppercase, one lowercase, one digit, and one special character (@$!%*?&)")
	ErrPasswordMismatch = errors.New("password and confirmation password do not match")
	ErrUsernameLength   = errors.New("username must be between 3 and 100 characters")
	ErrUsernameBlank    = errors.New("username must not contain whitespace")
	ErrUsernameIsEmail  = errors.New("username must not be an email address")
	ErrEmailInvalid     = errors.New("invalid email format")
)

// IsEmail is a purely syntactic check: the input must parse as a bare address.
func IsEmail(s string) bool {
	if s == "" || len(s) > MaxEmailLength {
		return false
	}
	addr, err := mail.ParseAddress(s)
	if err != nil {
		return false
	}
	return addr.Address == s
}

func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func ValidatePassword(password, confirm string) error {
	if password == "" {
		return ErrPasswordRequired
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	if len(password) > hash.MaxPasswordBytes {
		return ErrPasswordTooLong
	}

	var lower, upper, digit, symbol bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			lower = true
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsDigit(r):
			digit = true
		case strings.ContainsRune(PasswordSymbols, r):
			symbol = true
		}
	}
	if !lower || !upper || !digit || !symbol {
		return ErrPasswordClasses
	}
	if password != confirm {
		return ErrPasswordMismatch
	}
	return nil
}

func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	if n < MinUsernameLength || n > MaxUsernameLength {
		return ErrUsernameLength
	}
	if strings.IndexFunc(username, unicode.IsSpace) >= 0 {
		return ErrUsernameBlank
	}
	// A username shaped like an address would be ambiguous at login.
	if IsEmail(username) {
		return ErrUsernameIsEmail
	}
	return nil
}

func ValidateEmail(email string) error {
	if !IsEmail(email) {
		return ErrEmailInvalid
	}
	return nil
}
