package services

import (
	"net/mail"
	"regexp"
	"strings"
	"unicode"

	"shopflow/internal/apperr"
)

const (
	minPasswordLen = 8
	// bcrypt молча обрезает всё, что длиннее 72 байт
	maxPasswordBytes = 72
	minUsernameLen   = 3
	maxUsernameLen   = 32
	maxNameLen       = 64
)

var usernameRe = regexp.MustCompile(`^[a-z0-9_]+$`)

// ValidatePassword: ≥8 символов, заглавная, строчная, цифра и спецсимвол.
func ValidatePassword(password string) error {
	if len(password) > maxPasswordBytes {
		return apperr.New(apperr.KindValidation, "password must be at most 72 bytes")
	}
	var upper, lower, digit, symbol bool
	n := 0
	for _, r := range password {
		n++
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		case unicode.IsPunct(r) || unicode.IsSymbol(r):
			symbol = true
		}
	}
	if n < minPasswordLen || !upper || !lower || !digit || !symbol {
		return apperr.New(apperr.KindWeakPassword,
			"password must be at least 8 characters and contain an uppercase letter, a lowercase letter, a digit and a symbol")
	}
	return nil
}

func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func ValidateUsername(username string) error {
	if len(username) < minUsernameLen || len(username) > maxUsernameLen {
		return apperr.New(apperr.KindValidation, "username must be between 3 and 32 characters")
	}
	if !usernameRe.MatchString(username) {
		return apperr.New(apperr.KindValidation, "username may contain only lowercase letters, digits and underscores")
	}
	return nil
}

// ValidateEmail принимает только голый адрес, без display name.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email[strings.LastIndex(email, "@")+1:], ".") {
		return apperr.New(apperr.KindValidation, "email address is invalid")
	}
	return nil
}

func ValidateName(field, value string, required bool) error {
	v := strings.TrimSpace(value)
	if required && v == "" {
		return apperr.New(apperr.KindValidation, field+" is required")
	}
	if len([]rune(v)) > maxNameLen {
		return apperr.New(apperr.KindValidation, field+" is too long")
	}
	return nil
}

// NormalizeIdentifier — логин принимает username или email, оба хранятся в нижнем регистре.
func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func trimmed(s string) string { return strings.TrimSpace(s) }
