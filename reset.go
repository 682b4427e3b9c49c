package vinylauth

import (
	"context"
	"errors"
	"time"
)

// PasswordResets issues and consumes password reset tokens.
type PasswordResets struct {
	Users             UserStore
	Hasher            PasswordHasher
	TTL               time.Duration
	MinPasswordLength int

	now func() time.Time
}

func NewPasswordResets(users UserStore, hasher PasswordHasher, cfg Config) *PasswordResets {
	cfg.EnsureDefaults()
	return &PasswordResets{
		Users:             users,
		Hasher:            hasher,
		TTL:               cfg.PasswordResetTTL,
		MinPasswordLength: cfg.MinPasswordLength,
		now:               time.Now,
	}
}

func (p *PasswordResets) clock() time.Time {
	if p.now == nil {
		return time.Now()
	}
	return p.now()
}

// RequestReset stores a fresh token for the account owning email and
// returns it. An unknown email yields an empty token and no error, so the
// caller can respond identically either way.
func (p *PasswordResets) RequestReset(ctx context.Context, email string) (string, error) {
	email = NormalizeEmail(email)
	if err := validateEmail(email); err != nil {
		return "", err
	}
	user, err := p.Users.GetUserByEmail(ctx, email)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	expires := p.clock().Add(p.TTL)
	_, err = p.Users.UpdateUser(ctx, user.ID, func(u *User) error {
		u.PasswordResetToken = StringPtr(token)
		u.PasswordResetExpires = &expires
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return token, nil
}

// ResetPassword consumes a reset token. The token works once and only
// before its expiry; an expired token is cleared as a side effect.
func (p *PasswordResets) ResetPassword(ctx context.Context, token, newPassword string) error {
	if token == "" {
		return NewAuthError(ErrMalformed, ErrCodeMissingField, "Token required", "token")
	}
	if err := checkPasswordStrength(newPassword, p.MinPasswordLength, "password"); err != nil {
		return err
	}
	user, err := p.Users.GetUserByPasswordResetToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		return errInvalidResetToken
	}
	if err != nil {
		return err
	}
	hash, err := p.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	var expired bool
	_, err = p.Users.UpdateUser(ctx, user.ID, func(u *User) error {
		if u.PasswordResetToken == nil || !tokensEqual(*u.PasswordResetToken, token) {
			return errInvalidResetToken
		}
		u.PasswordResetToken = nil
		if u.PasswordResetExpires == nil || !p.clock().Before(*u.PasswordResetExpires) {
			// Expired: clear the token but keep the old password.
			expired = true
			u.PasswordResetExpires = nil
			return nil
		}
		u.PasswordResetExpires = nil
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}
	if expired {
		return errExpiredResetToken
	}
	return nil
}

var (
	errInvalidResetToken = NewAuthError(ErrNotFound, ErrCodeInvalidToken, "Invalid or expired reset token", "token")
	errExpiredResetToken = NewAuthError(ErrExpired, ErrCodeTokenExpired, "Invalid or expired reset token", "token")
)
