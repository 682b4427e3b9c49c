//go:build !wasm
// +build !wasm

package gorm

import (
	"time"

	va "github.com/vascoliveira2511/vinylauth"
)

// UserModel maps the auth columns of the users table. The table may carry
// other columns owned by the rest of the application; they are left alone.
type UserModel struct {
	ID           int64  `gorm:"primaryKey;autoIncrement"`
	Username     string `gorm:"size:64;not null;uniqueIndex"`
	PasswordHash string `gorm:"column:password_hash;size:255;not null"`

	Email                  *string `gorm:"size:255;uniqueIndex"`
	EmailVerified          bool    `gorm:"not null;default:false"`
	EmailVerificationToken *string `gorm:"size:128;uniqueIndex"`

	PasswordResetToken   *string `gorm:"size:128;uniqueIndex"`
	PasswordResetExpires *time.Time

	DiscogsAccessToken       *string `gorm:"size:255"`
	DiscogsAccessTokenSecret *string `gorm:"size:255"`
	DiscogsUsername          *string `gorm:"size:255"`

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

func (UserModel) TableName() string {
	return "users"
}

func (m *UserModel) ToUser() *va.User {
	return &va.User{
		ID:                       m.ID,
		Username:                 m.Username,
		PasswordHash:             m.PasswordHash,
		CreatedAt:                m.CreatedAt,
		UpdatedAt:                m.UpdatedAt,
		Email:                    m.Email,
		EmailVerified:            m.EmailVerified,
		EmailVerificationToken:   m.EmailVerificationToken,
		PasswordResetToken:       m.PasswordResetToken,
		PasswordResetExpires:     m.PasswordResetExpires,
		DiscogsAccessToken:       m.DiscogsAccessToken,
		DiscogsAccessTokenSecret: m.DiscogsAccessTokenSecret,
		DiscogsUsername:          m.DiscogsUsername,
	}
}

func UserToModel(u *va.User) *UserModel {
	return &UserModel{
		ID:                       u.ID,
		Username:                 u.Username,
		PasswordHash:             u.PasswordHash,
		CreatedAt:                u.CreatedAt,
		UpdatedAt:                u.UpdatedAt,
		Email:                    u.Email,
		EmailVerified:            u.EmailVerified,
		EmailVerificationToken:   u.EmailVerificationToken,
		PasswordResetToken:       u.PasswordResetToken,
		PasswordResetExpires:     u.PasswordResetExpires,
		DiscogsAccessToken:       u.DiscogsAccessToken,
		DiscogsAccessTokenSecret: u.DiscogsAccessTokenSecret,
		DiscogsUsername:          u.DiscogsUsername,
	}
}

// OwnedTable names a table whose rows belong to a user through Column.
type OwnedTable struct {
	Table  string
	Column string
}

// DefaultOwnedTables lists the vinyl collection tables that reference users.
// Children come before parents.
var DefaultOwnedTables = []OwnedTable{
	{Table: "favorites", Column: "user_id"},
	{Table: "comments", Column: "user_id"},
	{Table: "friendships", Column: "user_id"},
	{Table: "friendships", Column: "friend_id"},
	{Table: "vinyls", Column: "user_id"},
	{Table: "collections", Column: "user_id"},
}
