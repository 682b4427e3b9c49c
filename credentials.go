package vinylauth

import (
	"fmt"
	"regexp"
)

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{3,20}$`)

// Credentials are what a user submits to sign up.
type Credentials struct {
	Username string
	Email    *string // optional, enters the verification flow when set
	Password string
}

// SignupValidator validates credentials during signup.
type SignupValidator func(creds *Credentials) error

// NewSignupValidator enforces the username format, the minimum password
// length and, when given, the email format. It normalizes the email.
func NewSignupValidator(minPasswordLength int) SignupValidator {
	return func(creds *Credentials) error {
		if creds.Username == "" {
			return NewAuthError(ErrMalformed, ErrCodeMissingField, "Username is required", "username")
		}
		if !usernamePattern.MatchString(creds.Username) {
			return NewAuthError(ErrMalformed, ErrCodeInvalidUsername,
				"Username must be 3-20 characters and contain only letters, numbers, underscores, and hyphens", "username")
		}
		if creds.Email != nil {
			email := NormalizeEmail(*creds.Email)
			if email == "" {
				creds.Email = nil
			} else {
				if err := validateEmail(email); err != nil {
					return err
				}
				creds.Email = &email
			}
		}
		if creds.Password == "" {
			return NewAuthError(ErrMalformed, ErrCodeMissingField, "Password is required", "password")
		}
		return checkPasswordStrength(creds.Password, minPasswordLength, "password")
	}
}

func (c *Credentials) String() string {
	return fmt.Sprintf("Credentials{Username: %q}", c.Username)
}
