package vinylauth

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

var emailPattern = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)

// NormalizeEmail trims and lowercases an address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string) error {
	if email == "" {
		return NewAuthError(ErrMalformed, ErrCodeMissingField, "Email is required", "email")
	}
	if !emailPattern.MatchString(email) {
		return NewAuthError(ErrMalformed, ErrCodeInvalidEmail, "Invalid email format", "email")
	}
	return nil
}

// EmailVerifier runs the add-email and verify-email lifecycle. A user has
// at most one outstanding verification token.
type EmailVerifier struct {
	Users UserStore
}

// RequestEmailAdd attaches an unverified email to a user that has none and
// returns the token that proves ownership.
func (v *EmailVerifier) RequestEmailAdd(ctx context.Context, userID int64, email string) (string, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	user, err := v.Users.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.EmailValue() != "" {
		return "", errEmailAlreadySet
	}
	if other, err := v.Users.GetUserByEmail(ctx, email); err == nil && other.ID != userID {
		return "", errEmailInUse
	} else if err != nil && !errors.Is(err, ErrNotFound) {
		return "", err
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	_, err = v.Users.UpdateUser(ctx, userID, func(u *User) error {
		if u.EmailValue() != "" {
			return errEmailAlreadySet
		}
		u.Email = StringPtr(email)
		u.EmailVerified = false
		u.EmailVerificationToken = StringPtr(token)
		return nil
	})
	if err != nil {
		// A bare store conflict means the unique email index won a race.
		var authErr *AuthError
		if errors.Is(err, ErrConflict) && !errors.As(err, &authErr) {
			return "", errEmailInUse
		}
		return "", err
	}
	return token, nil
}

// ResendVerification rotates the outstanding token of an unverified email.
func (v *EmailVerifier) ResendVerification(ctx context.Context, userID int64) (email, token string, err error) {
	token, err = GenerateSecureToken()
	if err != nil {
		return "", "", err
	}
	user, err := v.Users.UpdateUser(ctx, userID, func(u *User) error {
		if u.EmailValue() == "" {
			return NewAuthError(ErrNotFound, ErrCodeNotFound, "No email on this account", "email")
		}
		if u.EmailVerified {
			return NewAuthError(ErrConflict, ErrCodeEmailAlreadySet, "Email is already verified", "email")
		}
		u.EmailVerificationToken = StringPtr(token)
		return nil
	})
	if err != nil {
		return "", "", err
	}
	return user.EmailValue(), token, nil
}

// ConsumeVerification marks the email verified. Each token works once; an
// already verified user is left alone.
func (v *EmailVerifier) ConsumeVerification(ctx context.Context, token string) error {
	if token == "" {
		return NewAuthError(ErrMalformed, ErrCodeMissingField, "Token required", "token")
	}
	user, err := v.Users.GetUserByEmailVerificationToken(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return errInvalidVerificationToken
		}
		return err
	}
	if user.EmailVerified {
		return nil
	}
	_, err = v.Users.UpdateUser(ctx, user.ID, func(u *User) error {
		// Another request may have consumed the token since the lookup.
		if u.EmailVerificationToken == nil || !tokensEqual(*u.EmailVerificationToken, token) {
			return errInvalidVerificationToken
		}
		u.EmailVerified = true
		u.EmailVerificationToken = nil
		return nil
	})
	return err
}

var (
	errEmailAlreadySet          = NewAuthError(ErrConflict, ErrCodeEmailAlreadySet, "Email already set", "email")
	errEmailInUse               = NewAuthError(ErrConflict, ErrCodeEmailExists, "Email is already in use", "email")
	errInvalidVerificationToken = NewAuthError(ErrNotFound, ErrCodeInvalidToken, "Invalid or expired verification token", "token")
)
