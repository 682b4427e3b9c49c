//go:build !wasm
// +build !wasm

package gae

import (
	"time"

	"cloud.google.com/go/datastore"

	va "github.com/vascoliveira2511/vinylauth"
)

// UserEntity is the Datastore entity for users. Credentials are never
// indexed; the two single use tokens are, since they are looked up.
type UserEntity struct {
	Key          *datastore.Key `datastore:"__key__"`
	Username     string         `datastore:"username"`
	PasswordHash string         `datastore:"password_hash,noindex"`
	CreatedAt    time.Time      `datastore:"created_at"`
	UpdatedAt    time.Time      `datastore:"updated_at"`

	Email                  string `datastore:"email"`
	EmailVerified          bool   `datastore:"email_verified"`
	EmailVerificationToken string `datastore:"email_verification_token"`

	PasswordResetToken   string    `datastore:"password_reset_token"`
	PasswordResetExpires time.Time `datastore:"password_reset_expires,noindex"`

	DiscogsAccessToken       string `datastore:"discogs_access_token,noindex"`
	DiscogsAccessTokenSecret string `datastore:"discogs_access_token_secret,noindex"`
	DiscogsUsername          string `datastore:"discogs_username,noindex"`
}

// ReservationEntity claims a unique value (username or email) for a user.
type ReservationEntity struct {
	Key       *datastore.Key `datastore:"__key__"`
	UserID    int64          `datastore:"user_id"`
	CreatedAt time.Time      `datastore:"created_at,noindex"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func value(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (e *UserEntity) ToUser() *va.User {
	u := &va.User{
		ID:                       e.Key.ID,
		Username:                 e.Username,
		PasswordHash:             e.PasswordHash,
		CreatedAt:                e.CreatedAt,
		UpdatedAt:                e.UpdatedAt,
		Email:                    optional(e.Email),
		EmailVerified:            e.EmailVerified,
		EmailVerificationToken:   optional(e.EmailVerificationToken),
		PasswordResetToken:       optional(e.PasswordResetToken),
		DiscogsAccessToken:       optional(e.DiscogsAccessToken),
		DiscogsAccessTokenSecret: optional(e.DiscogsAccessTokenSecret),
		DiscogsUsername:          optional(e.DiscogsUsername),
	}
	if !e.PasswordResetExpires.IsZero() {
		t := e.PasswordResetExpires
		u.PasswordResetExpires = &t
	}
	return u
}

func UserToEntity(u *va.User, key *datastore.Key) *UserEntity {
	e := &UserEntity{
		Key:                      key,
		Username:                 u.Username,
		PasswordHash:             u.PasswordHash,
		CreatedAt:                u.CreatedAt,
		UpdatedAt:                u.UpdatedAt,
		Email:                    value(u.Email),
		EmailVerified:            u.EmailVerified,
		EmailVerificationToken:   value(u.EmailVerificationToken),
		PasswordResetToken:       value(u.PasswordResetToken),
		DiscogsAccessToken:       value(u.DiscogsAccessToken),
		DiscogsAccessTokenSecret: value(u.DiscogsAccessTokenSecret),
		DiscogsUsername:          value(u.DiscogsUsername),
	}
	if u.PasswordResetExpires != nil {
		e.PasswordResetExpires = *u.PasswordResetExpires
	}
	return e
}
