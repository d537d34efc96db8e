package asset

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
)

// Store errors.
var (
	ErrInvalidAudioType = errors.New("unknown audio type")
)

// Store keeps the device's sound cue files on disk, one file per cue slot.
type Store struct {
	mu  sync.Mutex
	dir string
	log zerolog.Logger
}

// NewStore creates an asset store rooted at dir.
func NewStore(dir string, logger zerolog.Logger) *Store {
	return &Store{dir: dir, log: logger}
}

// Save validates the upload and writes it to the slot for audioType,
// replacing any previous cue. Returns the stored path and measured duration.
func (s *Store) Save(audioType AudioType, fileName string, data []byte) (string, Info, error) {
	if !audioType.IsValid() {
		return "", Info{}, ErrInvalidAudioType
	}

	info, err := Validate(fileName, data)
	if err != nil {
		return "", Info{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return "", Info{}, fmt.Errorf("create asset dir: %w", err)
	}

	path := s.slotPath(audioType)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", Info{}, fmt.Errorf("write asset: %w", err)
	}

	s.log.Info().Str("audio_type", string(audioType)).Int("size", info.Size).Int("duration_s", info.DurationSeconds).Msg("audio asset saved")
	return path, info, nil
}

// Delete removes the cue for audioType. Deleting an absent cue succeeds.
func (s *Store) Delete(audioType AudioType) error {
	if !audioType.IsValid() {
		return ErrInvalidAudioType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.slotPath(audioType))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// DurationSeconds re-measures the stored cue for audioType.
// Returns 0 if no cue is stored.
func (s *Store) DurationSeconds(audioType AudioType) (int, error) {
	if !audioType.IsValid() {
		return 0, ErrInvalidAudioType
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.slotPath(audioType))
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	seconds, err := decodeDuration(data)
	if err != nil {
		return 0, err
	}
	return seconds, nil
}

// Path returns the slot path for audioType without checking existence.
func (s *Store) Path(audioType AudioType) string {
	return s.slotPath(audioType)
}

func (s *Store) slotPath(audioType AudioType) string {
	return filepath.Join(s.dir, string(audioType)+".mp3")
}
