package vinylauth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// DeleteConfirmationPhrase must be typed verbatim to delete an account.
const DeleteConfirmationPhrase = "DELETE"

// AccountService holds the password-gated operations on an existing account.
type AccountService struct {
	Users             UserStore
	Hasher            PasswordHasher
	MinPasswordLength int
	Logger            *slog.Logger
}

func NewAccountService(users UserStore, hasher PasswordHasher, cfg Config) *AccountService {
	cfg.EnsureDefaults()
	return &AccountService{
		Users:             users,
		Hasher:            hasher,
		MinPasswordLength: cfg.MinPasswordLength,
		Logger:            slog.Default(),
	}
}

// ChangePassword replaces the password hash after checking the current
// password. The stored hash is untouched on any failure.
func (s *AccountService) ChangePassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	if currentPassword == "" {
		return NewAuthError(ErrMalformed, ErrCodeMissingField, "Current password is required", "currentPassword")
	}
	if err := checkPasswordStrength(newPassword, s.MinPasswordLength, "newPassword"); err != nil {
		return err
	}
	user, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Hasher.Compare(user.PasswordHash, currentPassword); err != nil {
		return NewAuthError(ErrInvalidCredential, ErrCodeInvalidCreds, "Current password is incorrect", "currentPassword")
	}
	hash, err := s.Hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	_, err = s.Users.UpdateUser(ctx, userID, func(u *User) error {
		// Reject if the password changed underneath us since the check.
		if u.PasswordHash != user.PasswordHash {
			return NewAuthError(ErrConflict, ErrCodeConcurrentUpdate, "Password was changed concurrently", "")
		}
		u.PasswordHash = hash
		return nil
	})
	if err != nil {
		return err
	}
	s.Logger.Info("password changed", "user_id", userID)
	return nil
}

// DeleteAccount permanently removes the user and everything it owns. Both
// the password and the literal confirmation phrase are required.
func (s *AccountService) DeleteAccount(ctx context.Context, userID int64, password, confirmation string) error {
	if password == "" {
		return NewAuthError(ErrBadRequest, ErrCodeMissingField, "Password is required", "password")
	}
	if confirmation != DeleteConfirmationPhrase {
		return NewAuthError(ErrBadRequest, ErrCodeConfirmation,
			fmt.Sprintf("Type %s to confirm account deletion", DeleteConfirmationPhrase), "confirmation")
	}
	user, err := s.Users.GetUserByID(ctx, userID)
	if err != nil {
		return err
	}
	if err := s.Hasher.Compare(user.PasswordHash, password); err != nil {
		return NewAuthError(ErrInvalidCredential, ErrCodeInvalidCreds, "Password is incorrect", "password")
	}
	if err := s.Users.DeleteUser(ctx, userID); err != nil {
		if errors.Is(err, ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete account: %w", err)
	}
	s.Logger.Info("account deleted", "user_id", userID)
	return nil
}

func checkPasswordStrength(password string, minLen int, field string) error {
	if len(password) < minLen {
		return NewAuthError(ErrMalformed, ErrCodeWeakPassword,
			fmt.Sprintf("Password must be at least %d characters", minLen), field)
	}
	return nil
}
