//go:build !wasm
// +build !wasm

package gae

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"google.golang.org/api/iterator"

	va "github.com/vascoliveira2511/vinylauth"
)

// Kind constants for Datastore entities
const (
	KindUser     = "User"
	KindUsername = "Username"
	KindEmail    = "Email"
)

// OwnedKind names a kind whose entities belong to a user through Field.
type OwnedKind struct {
	Kind  string
	Field string
}

// DefaultOwnedKinds lists the vinyl collection kinds that reference users.
var DefaultOwnedKinds = []OwnedKind{
	{Kind: "Favorite", Field: "user_id"},
	{Kind: "Comment", Field: "user_id"},
	{Kind: "Friendship", Field: "user_id"},
	{Kind: "Friendship", Field: "friend_id"},
	{Kind: "Vinyl", Field: "user_id"},
	{Kind: "Collection", Field: "user_id"},
}

// UserStore implements vinylauth.UserStore using Google Cloud Datastore
type UserStore struct {
	client    *datastore.Client
	namespace string

	// Kinds cleared by DeleteUser. Defaults to DefaultOwnedKinds.
	OwnedKinds []OwnedKind
}

// NewUserStore creates a new Datastore-backed UserStore
func NewUserStore(client *datastore.Client, namespace string) *UserStore {
	return &UserStore{
		client:     client,
		namespace:  namespace,
		OwnedKinds: DefaultOwnedKinds,
	}
}

func (s *UserStore) userKey(id int64) *datastore.Key {
	key := datastore.IDKey(KindUser, id, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) namespacedKey(kind, name string) *datastore.Key {
	key := datastore.NameKey(kind, name, nil)
	key.Namespace = s.namespace
	return key
}

func (s *UserStore) query(kind string) *datastore.Query {
	query := datastore.NewQuery(kind)
	if s.namespace != "" {
		query = query.Namespace(s.namespace)
	}
	return query
}

func emailName(email string) string {
	return strings.ToLower(email)
}

// reserve claims name of kind for userID inside tx.
func (s *UserStore) reserve(tx *datastore.Transaction, kind, name string, userID int64) error {
	key := s.namespacedKey(kind, name)
	var existing ReservationEntity
	err := tx.Get(key, &existing)
	if err == nil {
		if existing.UserID == userID {
			return nil
		}
		return fmt.Errorf("%w: %s already taken", va.ErrConflict, strings.ToLower(kind))
	}
	if err != datastore.ErrNoSuchEntity {
		return err
	}
	_, err = tx.Put(key, &ReservationEntity{Key: key, UserID: userID, CreatedAt: time.Now()})
	return err
}

func (s *UserStore) release(tx *datastore.Transaction, kind, name string) error {
	return tx.Delete(s.namespacedKey(kind, name))
}

func (s *UserStore) CreateUser(ctx context.Context, u *va.User) (*va.User, error) {
	incomplete := datastore.IncompleteKey(KindUser, nil)
	incomplete.Namespace = s.namespace
	keys, err := s.client.AllocateIDs(ctx, []*datastore.Key{incomplete})
	if err != nil {
		return nil, fmt.Errorf("failed to allocate user id: %w", err)
	}
	key := keys[0]

	now := time.Now()
	entity := UserToEntity(u, key)
	entity.CreatedAt = now
	entity.UpdatedAt = now

	_, err = s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		if err := s.reserve(tx, KindUsername, entity.Username, key.ID); err != nil {
			return err
		}
		if entity.Email != "" {
			if err := s.reserve(tx, KindEmail, emailName(entity.Email), key.ID); err != nil {
				return err
			}
		}
		_, err := tx.Put(key, entity)
		return err
	})
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByID(ctx context.Context, id int64) (*va.User, error) {
	var entity UserEntity
	if err := s.client.Get(ctx, s.userKey(id), &entity); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, fmt.Errorf("%w: user %d", va.ErrNotFound, id)
		}
		return nil, err
	}
	return entity.ToUser(), nil
}

// byReservation follows a reservation to its user, which keeps username
// and email lookups strongly consistent.
func (s *UserStore) byReservation(ctx context.Context, kind, name string) (*va.User, error) {
	var res ReservationEntity
	if err := s.client.Get(ctx, s.namespacedKey(kind, name), &res); err != nil {
		if err == datastore.ErrNoSuchEntity {
			return nil, va.ErrNotFound
		}
		return nil, err
	}
	return s.GetUserByID(ctx, res.UserID)
}

func (s *UserStore) GetUserByUsername(ctx context.Context, username string) (*va.User, error) {
	return s.byReservation(ctx, KindUsername, username)
}

func (s *UserStore) GetUserByEmail(ctx context.Context, email string) (*va.User, error) {
	return s.byReservation(ctx, KindEmail, emailName(email))
}

func (s *UserStore) byField(ctx context.Context, field, token string) (*va.User, error) {
	if token == "" {
		return nil, va.ErrNotFound
	}
	it := s.client.Run(ctx, s.query(KindUser).FilterField(field, "=", token).Limit(1))
	var entity UserEntity
	_, err := it.Next(&entity)
	if err == iterator.Done {
		return nil, va.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return entity.ToUser(), nil
}

func (s *UserStore) GetUserByEmailVerificationToken(ctx context.Context, token string) (*va.User, error) {
	return s.byField(ctx, "email_verification_token", token)
}

func (s *UserStore) GetUserByPasswordResetToken(ctx context.Context, token string) (*va.User, error) {
	return s.byField(ctx, "password_reset_token", token)
}

func (s *UserStore) UpdateUser(ctx context.Context, id int64, mutate func(u *va.User) error) (*va.User, error) {
	key := s.userKey(id)
	var updated *UserEntity
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current UserEntity
		if err := tx.Get(key, &current); err != nil {
			if err == datastore.ErrNoSuchEntity {
				return fmt.Errorf("%w: user %d", va.ErrNotFound, id)
			}
			return err
		}

		u := current.ToUser()
		if err := mutate(u); err != nil {
			return err
		}
		next := UserToEntity(u, key)
		next.CreatedAt = current.CreatedAt
		next.UpdatedAt = time.Now()

		if next.Username != current.Username {
			if err := s.reserve(tx, KindUsername, next.Username, id); err != nil {
				return err
			}
			if err := s.release(tx, KindUsername, current.Username); err != nil {
				return err
			}
		}
		if emailName(next.Email) != emailName(current.Email) {
			if next.Email != "" {
				if err := s.reserve(tx, KindEmail, emailName(next.Email), id); err != nil {
					return err
				}
			}
			if current.Email != "" {
				if err := s.release(tx, KindEmail, emailName(current.Email)); err != nil {
					return err
				}
			}
		}

		if _, err := tx.Put(key, next); err != nil {
			return err
		}
		updated = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated.ToUser(), nil
}

// DeleteUser removes owned entities first so that a failure leaves the
// account in place and the delete can be retried.
func (s *UserStore) DeleteUser(ctx context.Context, id int64) error {
	if _, err := s.GetUserByID(ctx, id); err != nil {
		return err
	}
	for _, owned := range s.OwnedKinds {
		keys, err := s.client.GetAll(ctx, s.query(owned.Kind).FilterField(owned.Field, "=", id).KeysOnly(), nil)
		if err != nil {
			return fmt.Errorf("failed to list %s of user %d: %w", owned.Kind, id, err)
		}
		if len(keys) == 0 {
			continue
		}
		if err := s.client.DeleteMulti(ctx, keys); err != nil {
			return fmt.Errorf("failed to delete %s of user %d: %w", owned.Kind, id, err)
		}
	}

	key := s.userKey(id)
	_, err := s.client.RunInTransaction(ctx, func(tx *datastore.Transaction) error {
		var current UserEntity
		if err := tx.Get(key, &current); err != nil {
			if errors.Is(err, datastore.ErrNoSuchEntity) {
				return fmt.Errorf("%w: user %d", va.ErrNotFound, id)
			}
			return err
		}
		if err := s.release(tx, KindUsername, current.Username); err != nil {
			return err
		}
		if current.Email != "" {
			if err := s.release(tx, KindEmail, emailName(current.Email)); err != nil {
				return err
			}
		}
		return tx.Delete(key)
	})
	return err
}
