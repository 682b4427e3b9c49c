//go:build !wasm
// +build !wasm

package gorm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	va "github.com/vascoliveira2511/vinylauth"
)

// AutoMigrate runs database migrations for the auth columns of users.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&UserModel{})
}

// UserStore implements vinylauth.UserStore using GORM.
type UserStore struct {
	db *gorm.DB

	// Tables cleared by DeleteUser. Defaults to DefaultOwnedTables.
	OwnedTables []OwnedTable
}

func NewUserStore(db *gorm.DB) *UserStore {
	return &UserStore{db: db, OwnedTables: DefaultOwnedTables}
}

// translate maps GORM errors onto the vinylauth kinds.
func translate(err error, what string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%w: %s", va.ErrNotFound, what)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%w: %s: %v", va.ErrConflict, what, err)
	}
	return err
}

func (s *UserStore) CreateUser(ctx context.Context, u *va.User) (*va.User, error) {
	model := UserToModel(u)
	model.ID = 0
	if err := s.db.WithContext(ctx).Create(model).Error; err != nil {
		return nil, translate(err, "create user")
	}
	return model.ToUser(), nil
}

func (s *UserStore) first(ctx context.Context, what string, query string, args ...any) (*va.User, error) {
	var model UserModel
	if err := s.db.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		return nil, translate(err, what)
	}
	return model.ToUser(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*va.User, error) {
	return s.first(ctx, fmt.Sprintf("user %d", id), "id = ?", id)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*va.User, error) {
	return s.first(ctx, "user", "username = ?", username)
}

// GetUserByEmail expects emails to be stored lower case, which
// vinylauth.NormalizeEmail guarantees.
func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*va.User, error) {
	return s.first(ctx, "user", "email = ?", strings.ToLower(email))
}

func (s *UserStore) GetUserByEmailVerificationToken(ctx context.Context, token string) (*va.User, error) {
	if token == "" {
		return nil, va.ErrNotFound
	}
	return s.first(ctx, "verification token", "email_verification_token = ?", token)
}

func (s *UserStore) GetUserByPasswordResetToken(ctx context.Context, token string) (*va.User, error) {
	if token == "" {
		return nil, va.ErrNotFound
	}
	return s.first(ctx, "reset token", "password_reset_token = ?", token)
}

// UpdateUser locks the row for the duration of mutate. SQLite has no row
// locks and serializes the whole transaction instead.
func (s *UserStore) UpdateUser(ctx context.Context, id int64, mutate func(u *va.User) error) (*va.User, error) {
	var updated *UserModel
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current UserModel
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&current, "id = ?", id).Error; err != nil {
			return translate(err, fmt.Sprintf("user %d", id))
		}

		u := current.ToUser()
		if err := mutate(u); err != nil {
			return err
		}
		model := UserToModel(u)
		model.ID = current.ID
		model.CreatedAt = current.CreatedAt
		if err := tx.Save(model).Error; err != nil {
			return translate(err, "update user")
		}
		updated = model
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.ToUser(), nil
}

func (s *UserStore) DeleteUser(ctx context.Context, id int64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current UserModel
		if err := tx.Select("id").First(&current, "id = ?", id).Error; err != nil {
			return translate(err, fmt.Sprintf("user %d", id))
		}

		migrator := tx.Migrator()
		for _, owned := range s.OwnedTables {
			if !migrator.HasTable(owned.Table) {
				continue
			}
			if err := tx.Exec("DELETE FROM ? WHERE ? = ?",
				clause.Table{Name: owned.Table}, clause.Column{Name: owned.Column}, id).Error; err != nil {
				return fmt.Errorf("failed to delete %s of user %d: %w", owned.Table, id, err)
			}
		}
		return tx.Delete(&UserModel{}, id).Error
	})
}
