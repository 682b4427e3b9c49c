//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	va "github.com/vascoliveira2511/vinylauth"
)

var _ va.UserStore = (*UserStore)(nil)

// newStore needs the Datastore emulator:
//
//	gcloud beta emulators datastore start --no-store-on-disk
//	$(gcloud beta emulators datastore env-init)
func newStore(t *testing.T) *UserStore {
	t.Helper()
	if os.Getenv("DATASTORE_EMULATOR_HOST") == "" {
		t.Skip("DATASTORE_EMULATOR_HOST not set")
	}
	ctx := context.Background()
	client, err := datastore.NewClient(ctx, "vinylauth-test")
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })
	return NewUserStore(client, fmt.Sprintf("test-%d", time.Now().UnixNano()))
}

func TestEntityRoundTrip(t *testing.T) {
	expires := time.Now().Add(time.Hour).UTC()
	u := &va.User{
		Username:             "alice",
		PasswordHash:         "hash",
		Email:                va.StringPtr("alice@example.com"),
		PasswordResetToken:   va.StringPtr("reset"),
		PasswordResetExpires: &expires,
	}
	got := UserToEntity(u, datastore.IDKey(KindUser, 7, nil)).ToUser()
	assert.Equal(t, int64(7), got.ID)
	assert.Equal(t, "alice@example.com", *got.Email)
	assert.Nil(t, got.EmailVerificationToken)
	assert.Nil(t, got.DiscogsUsername)
	require.NotNil(t, got.PasswordResetExpires)
	assert.True(t, expires.Equal(*got.PasswordResetExpires))
}

func TestCreateAndLookup(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	alice, err := store.CreateUser(ctx, &va.User{Username: "alice", PasswordHash: "h", Email: va.StringPtr("alice@example.com")})
	require.NoError(t, err)
	assert.NotZero(t, alice.ID)

	got, err := store.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	got, err = store.GetUserByEmail(ctx, "ALICE@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = store.CreateUser(ctx, &va.User{Username: "alice", PasswordHash: "h"})
	assert.ErrorIs(t, err, va.ErrConflict)
	_, err = store.CreateUser(ctx, &va.User{Username: "other", PasswordHash: "h", Email: va.StringPtr("alice@example.com")})
	assert.ErrorIs(t, err, va.ErrConflict)
}

func TestUpdateMovesEmailReservation(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	alice, err := store.CreateUser(ctx, &va.User{Username: "alice", PasswordHash: "h", Email: va.StringPtr("old@example.com")})
	require.NoError(t, err)

	_, err = store.UpdateUser(ctx, alice.ID, func(u *va.User) error {
		u.Email = va.StringPtr("new@example.com")
		return nil
	})
	require.NoError(t, err)

	_, err = store.GetUserByEmail(ctx, "old@example.com")
	assert.ErrorIs(t, err, va.ErrNotFound)
	got, err := store.GetUserByEmail(ctx, "new@example.com")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)
}

func TestDeleteReleasesReservations(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	alice, err := store.CreateUser(ctx, &va.User{Username: "alice", PasswordHash: "h", Email: va.StringPtr("a@example.com")})
	require.NoError(t, err)
	require.NoError(t, store.DeleteUser(ctx, alice.ID))

	_, err = store.GetUserByID(ctx, alice.ID)
	assert.ErrorIs(t, err, va.ErrNotFound)

	_, err = store.CreateUser(ctx, &va.User{Username: "alice", PasswordHash: "h", Email: va.StringPtr("a@example.com")})
	assert.NoError(t, err)
}
