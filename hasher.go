package vinylauth

import (
	"errors"
	"fmt"
	"sync"

	"golang.org/x/crypto/bcrypt"
)

// PasswordHasher hashes and checks passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Compare returns nil on a match and ErrInvalidCredential otherwise.
	Compare(hash, password string) error
}

// BcryptHasher is the default PasswordHasher.
type BcryptHasher struct {
	Cost int

	dummyOnce sync.Once
	dummyHash string
}

func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{Cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.Cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Compare(hash, password string) error {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	if err == nil {
		return nil
	}
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return ErrInvalidCredential
	}
	return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
}

// CompareDummy burns the same time as a real comparison. Login calls it
// when the username is unknown so response timing does not reveal which
// usernames exist.
func (h *BcryptHasher) CompareDummy(password string) {
	h.dummyOnce.Do(func() {
		hash, err := bcrypt.GenerateFromPassword([]byte("vinylauth-dummy-password"), h.Cost)
		if err == nil {
			h.dummyHash = string(hash)
		}
	})
	if h.dummyHash != "" {
		bcrypt.CompareHashAndPassword([]byte(h.dummyHash), []byte(password))
	}
}
