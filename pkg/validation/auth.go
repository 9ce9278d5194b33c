package validation

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	emailPattern    = regexp.MustCompile(`^[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}$`)
)

// ErrInvalidCredentials is returned for malformed register or login input
var ErrInvalidCredentials = errors.New("invalid credentials")

// Credentials is the body of the register and login endpoints
type Credentials struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password"`
}

// Normalize trims surrounding whitespace from the username and email.
// Passwords are left untouched.
func (c *Credentials) Normalize() {
	c.Username = strings.TrimSpace(c.Username)
	c.Email = strings.ToLower(strings.TrimSpace(c.Email))
}

// ValidateUsername checks length and the allowed character set
func ValidateUsername(username string) error {
	n := utf8.RuneCountInString(username)
	switch {
	case n == 0:
		return invalid(ErrInvalidCredentials, "username cannot be empty")
	case n < 3:
		return invalid(ErrInvalidCredentials, "username must be at least 3 characters long, got %d", n)
	case n > 50:
		return invalid(ErrInvalidCredentials, "username must be at most 50 characters long, got %d", n)
	case !usernamePattern.MatchString(username):
		return invalid(ErrInvalidCredentials, "username can only contain letters, numbers, underscores, and hyphens")
	}
	return nil
}

// ValidatePassword checks password length. bcrypt ignores bytes past 72,
// so the upper bound is in bytes.
func ValidatePassword(password string) error {
	switch {
	case password == "":
		return invalid(ErrInvalidCredentials, "password cannot be empty")
	case utf8.RuneCountInString(password) < 6:
		return invalid(ErrInvalidCredentials, "password must be at least 6 characters long")
	case len(password) > 72:
		return invalid(ErrInvalidCredentials, "password must be at most 72 bytes long, got %d", len(password))
	}
	return nil
}

// ValidateEmail accepts an empty email; it is optional at registration
func ValidateEmail(email string) error {
	if email == "" {
		return nil
	}
	if len(email) > 255 {
		return invalid(ErrInvalidCredentials, "email must be at most 255 characters long, got %d", len(email))
	}
	if !emailPattern.MatchString(email) {
		return invalid(ErrInvalidCredentials, "invalid email format")
	}
	return nil
}

// ValidateLogin only checks presence; wrong values are reported as
// unauthorized by the handler, not as validation failures.
func ValidateLogin(c Credentials) error {
	if c.Username == "" || c.Password == "" {
		return &ValidationError{Kind: ErrMissingFields, Detail: "username and password are required"}
	}
	return nil
}

// ValidateRegistration checks every field of a registration
func ValidateRegistration(c Credentials) error {
	if c.Username == "" || c.Password == "" {
		return &ValidationError{Kind: ErrMissingFields, Detail: "username and password are required"}
	}
	for _, check := range []func() error{
		func() error { return ValidateUsername(c.Username) },
		func() error { return ValidateEmail(c.Email) },
		func() error { return ValidatePassword(c.Password) },
	} {
		if err := check(); err != nil {
			return fmt.Errorf("registration: %w", err)
		}
	}
	return nil
}
