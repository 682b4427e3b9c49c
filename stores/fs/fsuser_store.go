package fs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	va "github.com/vascoliveira2511/vinylauth"
)

// userFile is the on-disk layout of users.json.
type userFile struct {
	NextID int64              `json:"next_id"`
	Users  map[string]*va.User `json:"users"`
}

// FSUserStore implements vinylauth.UserStore on top of a single JSON file.
//
// # File Structure
//
//	{StoragePath}/
//	└── users.json    # {"next_id": 3, "users": {"1": {...}, "2": {...}}}
//
// # Concurrency Model
//
// All operations hold one mutex and every write rewrites users.json
// atomically (temp file + rename). This gives UpdateUser the
// read-modify-write atomicity the core relies on within one process.
// Several processes sharing a directory are not supported; use
// stores/gorm for that.
type FSUserStore struct {
	StoragePath string

	// OnDelete hooks run before a user is removed, so that records owned
	// by the user elsewhere can be dropped. A hook error aborts the delete.
	OnDelete []func(ctx context.Context, userID int64) error

	mu     sync.Mutex
	loaded bool
	data   userFile
}

// NewUserStore creates a filesystem-backed UserStore rooted at storagePath.
func NewUserStore(storagePath string) *FSUserStore {
	return &FSUserStore{StoragePath: storagePath}
}

func (s *FSUserStore) path() string {
	return filepath.Join(s.StoragePath, "users.json")
}

// load reads users.json once. Callers hold s.mu.
func (s *FSUserStore) load() error {
	if s.loaded {
		return nil
	}
	s.data = userFile{NextID: 1, Users: map[string]*va.User{}}
	raw, err := os.ReadFile(s.path())
	if err != nil {
		if os.IsNotExist(err) {
			s.loaded = true
			return nil
		}
		return fmt.Errorf("failed to read users: %w", err)
	}
	if err := json.Unmarshal(raw, &s.data); err != nil {
		return fmt.Errorf("failed to parse users: %w", err)
	}
	if s.data.Users == nil {
		s.data.Users = map[string]*va.User{}
	}
	if s.data.NextID < 1 {
		s.data.NextID = 1
	}
	s.loaded = true
	return nil
}

// save writes the given snapshot and installs it as current state.
func (s *FSUserStore) save(next userFile) error {
	raw, err := json.MarshalIndent(next, "", "  ")
	if err != nil {
		return err
	}
	if err := writeAtomicFile(s.path(), raw); err != nil {
		return err
	}
	s.data = next
	return nil
}

// snapshot returns a shallow copy of the map so a failed write leaves the
// cached state untouched.
func (s *FSUserStore) snapshot() userFile {
	users := make(map[string]*va.User, len(s.data.Users))
	for k, v := range s.data.Users {
		users[k] = v
	}
	return userFile{NextID: s.data.NextID, Users: users}
}

func key(id int64) string {
	return fmt.Sprintf("%d", id)
}

// checkUnique reports a conflict when another user holds u's username or
// email. Emails compare case-insensitively.
func checkUnique(users map[string]*va.User, u *va.User) error {
	for _, other := range users {
		if other.ID == u.ID {
			continue
		}
		if other.Username == u.Username {
			return fmt.Errorf("%w: username %q already taken", va.ErrConflict, u.Username)
		}
		if u.Email != nil && other.Email != nil && strings.EqualFold(*other.Email, *u.Email) {
			return fmt.Errorf("%w: email already registered", va.ErrConflict)
		}
	}
	return nil
}

func (s *FSUserStore) CreateUser(ctx context.Context, u *va.User) (*va.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}

	created := u.Clone()
	created.ID = s.data.NextID
	now := time.Now()
	if created.CreatedAt.IsZero() {
		created.CreatedAt = now
	}
	created.UpdatedAt = now
	if err := checkUnique(s.data.Users, created); err != nil {
		return nil, err
	}

	next := s.snapshot()
	next.Users[key(created.ID)] = created
	next.NextID++
	if err := s.save(next); err != nil {
		return nil, err
	}
	return created.Clone(), nil
}

func (s *FSUserStore) GetUserByID(ctx context.Context, id int64) (*va.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	u, ok := s.data.Users[key(id)]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", va.ErrNotFound, id)
	}
	return u.Clone(), nil
}

// find returns the first user matching, in ID order.
func (s *FSUserStore) find(match func(u *va.User) bool) (*va.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(s.data.Users))
	for _, u := range s.data.Users {
		ids = append(ids, u.ID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		u := s.data.Users[key(id)]
		if match(u) {
			return u.Clone(), nil
		}
	}
	return nil, va.ErrNotFound
}

func (s *FSUserStore) GetUserByUsername(ctx context.Context, username string) (*va.User, error) {
	return s.find(func(u *va.User) bool { return u.Username == username })
}

func (s *FSUserStore) GetUserByEmail(ctx context.Context, email string) (*va.User, error) {
	return s.find(func(u *va.User) bool {
		return u.Email != nil && strings.EqualFold(*u.Email, email)
	})
}

func (s *FSUserStore) GetUserByEmailVerificationToken(ctx context.Context, token string) (*va.User, error) {
	if token == "" {
		return nil, va.ErrNotFound
	}
	return s.find(func(u *va.User) bool {
		return u.EmailVerificationToken != nil && *u.EmailVerificationToken == token
	})
}

func (s *FSUserStore) GetUserByPasswordResetToken(ctx context.Context, token string) (*va.User, error) {
	if token == "" {
		return nil, va.ErrNotFound
	}
	return s.find(func(u *va.User) bool {
		return u.PasswordResetToken != nil && *u.PasswordResetToken == token
	})
}

func (s *FSUserStore) UpdateUser(ctx context.Context, id int64, mutate func(u *va.User) error) (*va.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return nil, err
	}
	current, ok := s.data.Users[key(id)]
	if !ok {
		return nil, fmt.Errorf("%w: user %d", va.ErrNotFound, id)
	}

	updated := current.Clone()
	if err := mutate(updated); err != nil {
		return nil, err
	}
	updated.ID = id
	updated.CreatedAt = current.CreatedAt
	updated.UpdatedAt = time.Now()
	if err := checkUnique(s.data.Users, updated); err != nil {
		return nil, err
	}

	next := s.snapshot()
	next.Users[key(id)] = updated
	if err := s.save(next); err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (s *FSUserStore) DeleteUser(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.load(); err != nil {
		return err
	}
	if _, ok := s.data.Users[key(id)]; !ok {
		return fmt.Errorf("%w: user %d", va.ErrNotFound, id)
	}
	for _, hook := range s.OnDelete {
		if err := hook(ctx, id); err != nil {
			return fmt.Errorf("failed to delete records owned by user %d: %w", id, err)
		}
	}

	next := s.snapshot()
	delete(next.Users, key(id))
	return s.save(next)
}
