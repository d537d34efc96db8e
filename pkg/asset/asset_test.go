package asset

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
)

// silentMP3 builds a valid MPEG-1 layer III stream out of empty frames
// (128 kbit/s, 44.1 kHz stereo, 1152 samples per frame, about 26 ms each).
func silentMP3(frames int) []byte {
	frame := make([]byte, 417)
	frame[0], frame[1], frame[2], frame[3] = 0xFF, 0xFB, 0x90, 0x00
	return bytes.Repeat(frame, frames)
}

func TestValidateRejectsNonMP3Extension(t *testing.T) {
	for _, name := range []string{"whistle.wav", "whistle.ogg", "whistle", "whistle.mp3.txt"} {
		if _, err := Validate(name, []byte("data")); !errors.Is(err, ErrNotMP3) {
			t.Errorf("Validate(%q) error = %v, want ErrNotMP3", name, err)
		}
	}
}

func TestValidateAcceptsUppercaseExtension(t *testing.T) {
	// Still fails on content, but must get past the extension check.
	_, err := Validate("WHISTLE.MP3", []byte("garbage"))
	if errors.Is(err, ErrFileTooLarge) || errors.Is(err, ErrDurationExceeded) {
		t.Errorf("Validate() error = %v, want a decode failure", err)
	}
	if err == nil {
		t.Error("Validate() error = nil for garbage content")
	}
}

func TestValidateRejectsOversizedFile(t *testing.T) {
	data := make([]byte, MaxFileSize+1)

	if _, err := Validate("big.mp3", data); !errors.Is(err, ErrFileTooLarge) {
		t.Errorf("Validate() error = %v, want ErrFileTooLarge", err)
	}
}

func TestValidateRejectsUndecodableContent(t *testing.T) {
	if _, err := Validate("fake.mp3", []byte("this is not mpeg audio")); !errors.Is(err, ErrNotMP3) {
		t.Errorf("Validate() error = %v, want ErrNotMP3", err)
	}
}

func TestValidateMeasuresDuration(t *testing.T) {
	info, err := Validate("cue.mp3", silentMP3(10))
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if info.DurationSeconds <= 0 || info.DurationSeconds > MaxDurationSeconds {
		t.Errorf("DurationSeconds = %d, want within (0, %d]", info.DurationSeconds, MaxDurationSeconds)
	}
	if info.Size != 10*417 {
		t.Errorf("Size = %d, want %d", info.Size, 10*417)
	}
}

func TestValidateRejectsOverlongAudio(t *testing.T) {
	// 800 frames is just under 21 seconds, over the ceiling.
	if _, err := Validate("anthem.mp3", silentMP3(800)); !errors.Is(err, ErrDurationExceeded) {
		t.Errorf("Validate() error = %v, want ErrDurationExceeded", err)
	}
}

func TestAudioTypeIsValid(t *testing.T) {
	if !AudioStart.IsValid() || !AudioEnd.IsValid() {
		t.Error("start/end cue slots must be valid")
	}
	if AudioType("halftime").IsValid() {
		t.Error("unknown cue slot reported valid")
	}
}

func TestStoreSaveRejectsUnknownSlot(t *testing.T) {
	store := NewStore(t.TempDir(), zerolog.Nop())

	if _, _, err := store.Save(AudioType("halftime"), "a.mp3", nil); !errors.Is(err, ErrInvalidAudioType) {
		t.Errorf("Save() error = %v, want ErrInvalidAudioType", err)
	}
}

func TestStoreSaveRejectsInvalidContent(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zerolog.Nop())

	if _, _, err := store.Save(AudioStart, "a.mp3", []byte("garbage")); err == nil {
		t.Fatal("Save() error = nil for garbage content")
	}

	// A rejected upload must leave no file behind.
	if _, err := os.Stat(store.Path(AudioStart)); !os.IsNotExist(err) {
		t.Error("rejected upload left a file in the slot")
	}
}

func TestStoreDeleteIsIdempotent(t *testing.T) {
	store := NewStore(t.TempDir(), zerolog.Nop())

	if err := store.Delete(AudioEnd); err != nil {
		t.Errorf("Delete() on empty slot error = %v", err)
	}
	if err := store.Delete(AudioEnd); err != nil {
		t.Errorf("second Delete() error = %v", err)
	}
}

func TestStoreDurationSecondsEmptySlot(t *testing.T) {
	store := NewStore(t.TempDir(), zerolog.Nop())

	seconds, err := store.DurationSeconds(AudioStart)
	if err != nil {
		t.Fatalf("DurationSeconds() error = %v", err)
	}
	if seconds != 0 {
		t.Errorf("DurationSeconds() = %d, want 0 for empty slot", seconds)
	}
}

func TestStorePathIsPerSlot(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir, zerolog.Nop())

	start := store.Path(AudioStart)
	end := store.Path(AudioEnd)

	if start == end {
		t.Error("start and end cues share a path")
	}
	if filepath.Dir(start) != dir {
		t.Errorf("Path() dir = %s, want %s", filepath.Dir(start), dir)
	}
}
