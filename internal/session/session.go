package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"tradeflow/internal/models"
	"tradeflow/logger"
)

// Store persists the single current-user session record: written on login,
// cleared on logout, read once at startup to decide whether to connect and
// hydrate.
type Store struct {
	path string
	log  *logger.Entry
}

// NewStore creates a session store at path. An empty path resolves to
// tradeflow/session.json under the user's config directory.
func NewStore(path string) (*Store, error) {
	if path == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			return nil, fmt.Errorf("session: resolve config dir: %w", err)
		}
		path = filepath.Join(dir, "tradeflow", "session.json")
	}
	return &Store{
		path: path,
		log:  logger.GetLogger().WithComponent("session"),
	}, nil
}

// Save writes the session record. The write is atomic so a crash never
// leaves a torn file behind.
func (s *Store) Save(user models.User) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("session: create dir: %w", err)
	}

	data, err := json.MarshalIndent(user, "", "  ")
	if err != nil {
		return fmt.Errorf("session: encode: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("session: write: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("session: replace: %w", err)
	}

	s.log.WithField("user", user.Name).Info("session saved")
	return nil
}

// Load reads the persisted session. The second return value reports whether
// a session exists; an unreadable or corrupt file counts as absent and is
// logged.
func (s *Store) Load() (models.User, bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return models.User{}, false, nil
		}
		return models.User{}, false, fmt.Errorf("session: read: %w", err)
	}

	var user models.User
	if err := json.Unmarshal(data, &user); err != nil {
		s.log.WithError(err).Warn("discarding corrupt session file")
		return models.User{}, false, nil
	}
	return user, true, nil
}

// Clear removes the persisted session. No-op when absent.
func (s *Store) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("session: clear: %w", err)
	}
	return nil
}
