package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/matchclock-protocol/matchclock-go/pkg/session"
	"github.com/matchclock-protocol/matchclock-go/pkg/timer"
)

// StateVersion is the current version of the state file format.
const StateVersion = 1

// settingsFile wraps timer settings with file format metadata.
type settingsFile struct {
	Version  int            `json:"version"`
	SavedAt  time.Time      `json:"saved_at"`
	Settings timer.Settings `json:"settings"`
}

// SettingsStore persists timer settings to a JSON file and streams saved
// values to watchers.
type SettingsStore struct {
	mu       sync.Mutex
	path     string
	watchers []chan timer.Settings
}

// NewSettingsStore creates a settings store backed by the given file.
func NewSettingsStore(path string) *SettingsStore {
	return &SettingsStore{path: path}
}

// Load reads the settings from disk. A missing file returns the defaults.
func (s *SettingsStore) Load() (timer.Settings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return timer.DefaultSettings(), nil
	}
	if err != nil {
		return timer.Settings{}, err
	}

	var file settingsFile
	if err := json.Unmarshal(data, &file); err != nil {
		return timer.Settings{}, err
	}
	return file.Settings, nil
}

// Save persists the settings and notifies watchers.
func (s *SettingsStore) Save(settings timer.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := writeJSON(s.path, settingsFile{
		Version:  StateVersion,
		SavedAt:  time.Now(),
		Settings: settings,
	}); err != nil {
		return err
	}

	for _, ch := range s.watchers {
		select {
		case ch <- settings:
		default:
			// Watcher is behind; it will pick up the next save.
		}
	}
	return nil
}

// Watch returns a channel that receives every saved settings value.
func (s *SettingsStore) Watch() <-chan timer.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan timer.Settings, 1)
	s.watchers = append(s.watchers, ch)
	return ch
}

// sessionFile wraps session state with file format metadata.
type sessionFile struct {
	Version int           `json:"version"`
	SavedAt time.Time     `json:"saved_at"`
	Session session.State `json:"session"`
}

// SessionStore persists session state to a JSON file. It satisfies
// session.Store.
type SessionStore struct {
	mu   sync.Mutex
	path string
}

// NewSessionStore creates a session store backed by the given file.
func NewSessionStore(path string) *SessionStore {
	return &SessionStore{path: path}
}

// LoadSession reads the session from disk. A missing file returns the zero
// state (no session configured).
func (s *SessionStore) LoadSession() (session.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return session.State{}, nil
	}
	if err != nil {
		return session.State{}, err
	}

	var file sessionFile
	if err := json.Unmarshal(data, &file); err != nil {
		return session.State{}, err
	}
	return file.Session, nil
}

// SaveSession persists the session state.
func (s *SessionStore) SaveSession(state session.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return writeJSON(s.path, sessionFile{
		Version: StateVersion,
		SavedAt: time.Now(),
		Session: state,
	})
}

// ClearSession removes the session file. Clearing an absent file succeeds.
func (s *SessionStore) ClearSession() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// writeJSON writes v to path, creating parent directories as needed.
func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Compile-time interface satisfaction check.
var _ session.Store = (*SessionStore)(nil)
