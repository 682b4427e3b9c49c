package vinylauth_test

import (
	"context"
	"errors"
	"testing"

	va "github.com/vascoliveira2511/vinylauth"
)

func newAccounts(t *testing.T) (*va.AccountService, va.PasswordHasher, va.UserStore) {
	t.Helper()
	users := newTestStore(t)
	hasher := va.NewBcryptHasher(4)
	accounts := va.NewAccountService(users, hasher, testConfig())
	accounts.Logger = quietLogger()
	return accounts, hasher, users
}

func TestChangePassword(t *testing.T) {
	accounts, hasher, users := newAccounts(t)
	ctx := context.Background()
	user := createTestUser(t, users, "alice", "old-password", "")

	if err := accounts.ChangePassword(ctx, user.ID, "old-password", "new-password"); err != nil {
		t.Fatalf("ChangePassword() error = %v", err)
	}
	updated, _ := users.GetUserByID(ctx, user.ID)
	if err := hasher.Compare(updated.PasswordHash, "new-password"); err != nil {
		t.Error("new password should match")
	}
	if err := hasher.Compare(updated.PasswordHash, "old-password"); err == nil {
		t.Error("old password should no longer match")
	}
}

func TestChangePasswordFailuresLeaveHashAlone(t *testing.T) {
	accounts, _, users := newAccounts(t)
	ctx := context.Background()
	user := createTestUser(t, users, "alice", "old-password", "")

	tests := []struct {
		name     string
		current  string
		next     string
		wantKind error
		field    string
	}{
		{"missing current", "", "new-password", va.ErrMalformed, "currentPassword"},
		{"wrong current", "not-it", "new-password", va.ErrInvalidCredential, "currentPassword"},
		{"weak new password", "old-password", "abc", va.ErrMalformed, "newPassword"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := accounts.ChangePassword(ctx, user.ID, tt.current, tt.next)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("error = %v, want %v", err, tt.wantKind)
			}
			var authErr *va.AuthError
			if !errors.As(err, &authErr) || authErr.Field != tt.field {
				t.Errorf("field = %+v, want %q", authErr, tt.field)
			}
			after, _ := users.GetUserByID(ctx, user.ID)
			if after.PasswordHash != user.PasswordHash {
				t.Error("hash changed on failure")
			}
		})
	}
}

func TestChangePasswordUnknownUser(t *testing.T) {
	accounts, _, _ := newAccounts(t)
	err := accounts.ChangePassword(context.Background(), 404, "whatever", "new-password")
	if !errors.Is(err, va.ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAccount(t *testing.T) {
	accounts, _, _ := newAccounts(t)
	users := newTestStore(t)
	accounts.Users = users
	ctx := context.Background()

	var cascaded []int64
	users.OnDelete = append(users.OnDelete, func(ctx context.Context, id int64) error {
		cascaded = append(cascaded, id)
		return nil
	})
	user := createTestUser(t, users, "alice", "password123", "alice@example.com")
	keep := createTestUser(t, users, "bob", "password123", "")

	if err := accounts.DeleteAccount(ctx, user.ID, "password123", va.DeleteConfirmationPhrase); err != nil {
		t.Fatalf("DeleteAccount() error = %v", err)
	}
	if _, err := users.GetUserByID(ctx, user.ID); !errors.Is(err, va.ErrNotFound) {
		t.Errorf("deleted user still found: %v", err)
	}
	if _, err := users.GetUserByEmail(ctx, "alice@example.com"); !errors.Is(err, va.ErrNotFound) {
		t.Errorf("email still resolves: %v", err)
	}
	if len(cascaded) != 1 || cascaded[0] != user.ID {
		t.Errorf("owned records cascade = %v, want [%d]", cascaded, user.ID)
	}
	if _, err := users.GetUserByID(ctx, keep.ID); err != nil {
		t.Errorf("other user affected: %v", err)
	}

	// Username is free again.
	createTestUser(t, users, "alice", "password123", "")
}

func TestDeleteAccountRejections(t *testing.T) {
	accounts, _, users := newAccounts(t)
	ctx := context.Background()
	user := createTestUser(t, users, "alice", "password123", "")

	tests := []struct {
		name         string
		password     string
		confirmation string
		wantKind     error
	}{
		{"missing password", "", "DELETE", va.ErrBadRequest},
		{"missing confirmation", "password123", "", va.ErrBadRequest},
		{"lowercase confirmation", "password123", "delete", va.ErrBadRequest},
		{"wrong password", "nope", "DELETE", va.ErrInvalidCredential},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := accounts.DeleteAccount(ctx, user.ID, tt.password, tt.confirmation)
			if !errors.Is(err, tt.wantKind) {
				t.Errorf("error = %v, want %v", err, tt.wantKind)
			}
			if _, err := users.GetUserByID(ctx, user.ID); err != nil {
				t.Errorf("user removed after a rejected delete: %v", err)
			}
		})
	}

	if err := accounts.DeleteAccount(ctx, 999, "password123", "DELETE"); !errors.Is(err, va.ErrNotFound) {
		t.Errorf("unknown user error = %v, want ErrNotFound", err)
	}
}

func TestDeleteAccountCascadeFailureKeepsUser(t *testing.T) {
	accounts, _, _ := newAccounts(t)
	users := newTestStore(t)
	accounts.Users = users
	ctx := context.Background()
	users.OnDelete = append(users.OnDelete, func(context.Context, int64) error {
		return errors.New("collections unavailable")
	})
	user := createTestUser(t, users, "alice", "password123", "")

	if err := accounts.DeleteAccount(ctx, user.ID, "password123", "DELETE"); err == nil {
		t.Fatal("DeleteAccount() should fail when owned records cannot be removed")
	}
	if _, err := users.GetUserByID(ctx, user.ID); err != nil {
		t.Errorf("user should survive a failed cascade: %v", err)
	}
}

// racingStore changes the password hash just before the caller's update runs.
type racingStore struct {
	va.UserStore
}

func (s racingStore) UpdateUser(ctx context.Context, id int64, mutate func(u *va.User) error) (*va.User, error) {
	return s.UserStore.UpdateUser(ctx, id, func(u *va.User) error {
		u.PasswordHash = "changed-elsewhere"
		return mutate(u)
	})
}

func TestChangePasswordConcurrentChange(t *testing.T) {
	users := newTestStore(t)
	user := createTestUser(t, users, "alice", "old-password", "")
	accounts := va.NewAccountService(racingStore{users}, va.NewBcryptHasher(4), testConfig())
	accounts.Logger = quietLogger()

	err := accounts.ChangePassword(context.Background(), user.ID, "old-password", "new-password")
	if !errors.Is(err, va.ErrConflict) {
		t.Fatalf("error = %v, want ErrConflict", err)
	}
	var authErr *va.AuthError
	if !errors.As(err, &authErr) || authErr.Code != va.ErrCodeConcurrentUpdate {
		t.Errorf("error = %#v, want code %q", err, va.ErrCodeConcurrentUpdate)
	}
	if got := va.StatusFor(err); got != 409 {
		t.Errorf("StatusFor() = %d, want 409", got)
	}
}
