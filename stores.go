package vinylauth

import (
	"context"
	"time"
)

// User is the slice of the user record the auth core reads and writes.
// Optional columns are pointers so that unique indexes on them admit any
// number of unset rows.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`

	Email                  *string `json:"email,omitempty"`
	EmailVerified          bool    `json:"email_verified"`
	EmailVerificationToken *string `json:"email_verification_token,omitempty"`

	PasswordResetToken   *string    `json:"password_reset_token,omitempty"`
	PasswordResetExpires *time.Time `json:"password_reset_expires,omitempty"`

	DiscogsAccessToken       *string `json:"discogs_access_token,omitempty"`
	DiscogsAccessTokenSecret *string `json:"discogs_access_token_secret,omitempty"`
	DiscogsUsername          *string `json:"discogs_username,omitempty"`
}

// DiscogsLinked reports whether all three linked-account fields are set.
func (u *User) DiscogsLinked() bool {
	return u.DiscogsAccessToken != nil && u.DiscogsAccessTokenSecret != nil && u.DiscogsUsername != nil
}

// EmailValue returns the email or "" when none is set.
func (u *User) EmailValue() string {
	if u.Email == nil {
		return ""
	}
	return *u.Email
}

// Clone returns a deep copy so mutations never leak into a store's cache.
func (u *User) Clone() *User {
	out := *u
	out.Email = cloneString(u.Email)
	out.EmailVerificationToken = cloneString(u.EmailVerificationToken)
	out.PasswordResetToken = cloneString(u.PasswordResetToken)
	out.DiscogsAccessToken = cloneString(u.DiscogsAccessToken)
	out.DiscogsAccessTokenSecret = cloneString(u.DiscogsAccessTokenSecret)
	out.DiscogsUsername = cloneString(u.DiscogsUsername)
	if u.PasswordResetExpires != nil {
		t := *u.PasswordResetExpires
		out.PasswordResetExpires = &t
	}
	return &out
}

// UserProfile is the public view of a user returned by the API.
type UserProfile struct {
	ID              int64   `json:"id"`
	Username        string  `json:"username"`
	Email           *string `json:"email,omitempty"`
	EmailVerified   bool    `json:"emailVerified"`
	DiscogsUsername *string `json:"discogsUsername,omitempty"`
}

func (u *User) Profile() UserProfile {
	return UserProfile{
		ID:              u.ID,
		Username:        u.Username,
		Email:           u.Email,
		EmailVerified:   u.EmailVerified,
		DiscogsUsername: u.DiscogsUsername,
	}
}

// UserStore is the credential store adapter. Implementations live under
// stores/. Lookups of a missing record return an error wrapping ErrNotFound;
// violations of the username or email uniqueness return ErrConflict.
type UserStore interface {
	// CreateUser inserts u and assigns its ID.
	CreateUser(ctx context.Context, u *User) (*User, error)

	GetUserByID(ctx context.Context, id int64) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)
	GetUserByEmail(ctx context.Context, email string) (*User, error)
	GetUserByEmailVerificationToken(ctx context.Context, token string) (*User, error)
	GetUserByPasswordResetToken(ctx context.Context, token string) (*User, error)

	// UpdateUser loads the user, applies mutate and writes the result back
	// as one atomic step. Concurrent updates of the same user are
	// serialized. If mutate returns an error nothing is written and that
	// error is returned unchanged.
	UpdateUser(ctx context.Context, id int64, mutate func(u *User) error) (*User, error)

	// DeleteUser removes the user together with every record it owns.
	DeleteUser(ctx context.Context, id int64) error
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

// StringPtr is a small helper for the optional columns.
func StringPtr(s string) *string { return &s }
