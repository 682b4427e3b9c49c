// Package fs keeps vinylauth client sessions in a JSON file under the
// user's config directory, one entry per server.
package fs

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/vascoliveira2511/vinylauth/client"
)

const (
	DefaultAppName  = "vinylauth"
	credentialsFile = "credentials.json"
	fileVersion     = 1
)

// FSCredentialStore implements client.CredentialStore. Changes are kept in
// memory until Save.
type FSCredentialStore struct {
	mu    sync.RWMutex
	path  string
	creds map[string]client.ServerCredential
	dirty bool
}

type credentialFile struct {
	Version int                                 `json:"version"`
	Servers map[string]client.ServerCredential `json:"servers"`
}

// DefaultPath is <user config dir>/<appName>/credentials.json.
func DefaultPath(appName string) (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		home, herr := os.UserHomeDir()
		if herr != nil {
			return "", fmt.Errorf("could not determine config directory: %w", errors.Join(err, herr))
		}
		dir = filepath.Join(home, ".config")
	}
	if appName == "" {
		appName = DefaultAppName
	}
	return filepath.Join(dir, appName, credentialsFile), nil
}

// NewFSCredentialStore opens the store at path, or at DefaultPath(appName)
// when path is empty. A missing file is an empty store.
func NewFSCredentialStore(path string, appName string) (*FSCredentialStore, error) {
	if path == "" {
		p, err := DefaultPath(appName)
		if err != nil {
			return nil, err
		}
		path = p
	}
	s := &FSCredentialStore{path: path, creds: map[string]client.ServerCredential{}}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *FSCredentialStore) load() error {
	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read credentials: %w", err)
	}
	var file credentialFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("failed to parse credentials file: %w", err)
	}
	if file.Version > fileVersion {
		return fmt.Errorf("credentials file version %d is newer than supported %d", file.Version, fileVersion)
	}
	for key, cred := range file.Servers {
		s.creds[key] = cred
	}
	return nil
}

// serverKey reduces a server URL to scheme://host[:port]. Paths are
// ignored, default ports dropped, and a missing scheme means https.
func serverKey(serverURL string) (string, error) {
	raw := strings.TrimSpace(serverURL)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid server URL: %w", err)
	}
	if u.Host == "" {
		return "", fmt.Errorf("invalid server URL %q: no host", serverURL)
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Hostname())
	port := u.Port()
	if (scheme == "https" && port == "443") || (scheme == "http" && port == "80") {
		port = ""
	}
	if port != "" {
		host += ":" + port
	}
	return scheme + "://" + host, nil
}

// GetCredential returns a copy of the stored credential, or nil, nil.
func (s *FSCredentialStore) GetCredential(serverURL string) (*client.ServerCredential, error) {
	key, err := serverKey(serverURL)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	cred, ok := s.creds[key]
	if !ok {
		return nil, nil
	}
	return &cred, nil
}

func (s *FSCredentialStore) SetCredential(serverURL string, cred *client.ServerCredential) error {
	if cred == nil {
		return s.RemoveCredential(serverURL)
	}
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.creds[key] = *cred
	s.dirty = true
	return nil
}

func (s *FSCredentialStore) RemoveCredential(serverURL string) error {
	key, err := serverKey(serverURL)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.creds[key]; ok {
		delete(s.creds, key)
		s.dirty = true
	}
	return nil
}

// ListServers returns the stored server keys in sorted order.
func (s *FSCredentialStore) ListServers() ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.creds))
	for key := range s.creds {
		out = append(out, key)
	}
	sort.Strings(out)
	return out, nil
}

// PruneExpired drops credentials that expired before cutoff. Sessions can
// still be refreshed for a while after expiry, so callers pass a cutoff
// well in the past rather than time.Now().
func (s *FSCredentialStore) PruneExpired(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for key, cred := range s.creds {
		if cred.ExpiresAt.Before(cutoff) {
			delete(s.creds, key)
			removed++
		}
	}
	if removed > 0 {
		s.dirty = true
	}
	return removed
}

// Save writes pending changes. The file is replaced atomically and is only
// readable by its owner.
func (s *FSCredentialStore) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.dirty {
		return nil
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	raw, err := json.MarshalIndent(credentialFile{Version: fileVersion, Servers: s.creds}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize credentials: %w", err)
	}

	// CreateTemp opens with 0600.
	tmp, err := os.CreateTemp(dir, ".credentials-*")
	if err != nil {
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	_, werr := tmp.Write(raw)
	cerr := tmp.Close()
	if err := errors.Join(werr, cerr); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write credentials: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to replace credentials: %w", err)
	}
	s.dirty = false
	return nil
}

func (s *FSCredentialStore) Path() string {
	return s.path
}
