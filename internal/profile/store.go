// File: internal/profile/store.go
package profile

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang-jwt/jwt/v5"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// ErrBadPassword is returned when the password offered at logout does not
// match the one the session was opened with.
var ErrBadPassword = errors.New("profile: password does not match active session")

// ErrNoActiveProfile is returned when an operation requires a logged-in
// supervised profile and none exists.
var ErrNoActiveProfile = errors.New("profile: no active profile")

// Record is the durable on-disk state. The credential is a signed token
// derived from the login password, so ending supervision requires knowing
// that password; deleting the file is the only other way out, and the file
// lives in the guardian's account directory.
type Record struct {
	Version    int       `json:"version"`
	Username   string    `json:"username,omitempty"`
	Credential string    `json:"credential,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Active reports whether a supervised profile is logged in.
func (r Record) Active() bool { return r.Username != "" && r.Credential != "" }

// Store owns the durable profile record. All mutation goes through it; the
// watcher folds in external edits (another process, a restored backup) so a
// long-running watch session never acts on a stale identity.
type Store struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	record Record

	watcher *fsnotify.Watcher
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewStore loads (or initializes) the record at path.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{
		path:   path,
		logger: logger.Named("profile"),
		done:   make(chan struct{}),
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	return s, nil
}

// Login opens a supervised session for username. The password never touches
// disk; only a token signed with a key derived from it does.
func (s *Store) Login(username, password string) error {
	username = strings.TrimSpace(username)
	if username == "" {
		return fmt.Errorf("profile: username is required")
	}
	if password == "" {
		return fmt.Errorf("profile: password is required")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": username,
		"iat": time.Now().Unix(),
	})
	credential, err := token.SignedString(derivedKey(password))
	if err != nil {
		return fmt.Errorf("profile: signing session credential: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.record.Version++
	s.record.Username = username
	s.record.Credential = credential
	s.record.UpdatedAt = time.Now()
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("Supervised profile logged in.", zap.String("username", username))
	return nil
}

// Logout ends the supervised session. The offered password must verify the
// stored credential's signature.
func (s *Store) Logout(password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.record.Active() {
		return ErrNoActiveProfile
	}

	parsed, err := jwt.Parse(s.record.Credential, func(*jwt.Token) (interface{}, error) {
		return derivedKey(password), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !parsed.Valid {
		return ErrBadPassword
	}

	username := s.record.Username
	s.record.Version++
	s.record.Username = ""
	s.record.Credential = ""
	s.record.UpdatedAt = time.Now()
	if err := s.persistLocked(); err != nil {
		return err
	}
	s.logger.Info("Supervised profile logged out.", zap.String("username", username))
	return nil
}

// Snapshot returns a copy of the current record.
func (s *Store) Snapshot() Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record
}

// ActiveUsername returns the supervised username and whether a session is
// active. The audit logger gates on this.
func (s *Store) ActiveUsername() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.record.Username, s.record.Active()
}

// Watch starts folding in external modifications of the record file.
// It is optional; Close is safe either way.
func (s *Store) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("profile: starting watcher: %w", err)
	}
	// Watch the directory, not the file: atomic saves replace the inode.
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("profile: watching %s: %w", filepath.Dir(s.path), err)
	}
	s.watcher = watcher

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-s.done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != s.path {
					continue
				}
				if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
					continue
				}
				if err := s.load(); err != nil {
					s.logger.Warn("Failed to reload profile record.", zap.Error(err))
					continue
				}
				s.logger.Debug("Profile record reloaded from disk.")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warn("Profile watcher error.", zap.Error(err))
			}
		}
	}()
	return nil
}

// Close stops the watcher, if one is running.
func (s *Store) Close() {
	close(s.done)
	if s.watcher != nil {
		s.watcher.Close()
	}
	s.wg.Wait()
}

func (s *Store) load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("profile: reading %s: %w", s.path, err)
	}

	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return fmt.Errorf("profile: parsing %s: %w", s.path, err)
	}

	s.mu.Lock()
	// External edits only win when they carry a newer version; our own
	// atomic save triggers the watcher too, and must not double-apply.
	if rec.Version >= s.record.Version {
		s.record = rec
	}
	s.mu.Unlock()
	return nil
}

// persistLocked writes the record atomically. Caller must hold s.mu.
func (s *Store) persistLocked() error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("profile: creating state directory: %w", err)
	}
	data, err := json.MarshalIndent(s.record, "", "  ")
	if err != nil {
		return fmt.Errorf("profile: encoding record: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("profile: writing record: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("profile: committing record: %w", err)
	}
	return nil
}

// derivedKey stretches the password into a signing key. The credential only
// gates the logout flow, so a single hash round is sufficient here.
func derivedKey(password string) []byte {
	sum := sha256.Sum256([]byte("guardian-profile:" + password))
	return sum[:]
}
