package asset

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/hajimehoshi/go-mp3"
)

// Validation ceilings.
const (
	// MaxFileSize is the upload size ceiling.
	MaxFileSize = 5 * 1024 * 1024

	// MaxDurationSeconds is the decoded duration ceiling.
	MaxDurationSeconds = 20
)

// Validation errors.
var (
	ErrNotMP3           = errors.New("only MP3 audio is supported")
	ErrFileTooLarge     = fmt.Errorf("file exceeds %d bytes", MaxFileSize)
	ErrDurationExceeded = fmt.Errorf("audio exceeds %d seconds", MaxDurationSeconds)
)

// AudioType names a sound cue slot on the device.
type AudioType string

const (
	// AudioStart plays when a phase starts.
	AudioStart AudioType = "start"

	// AudioEnd plays when a phase ends.
	AudioEnd AudioType = "end"
)

// IsValid reports whether t names a known cue slot.
func (t AudioType) IsValid() bool {
	return t == AudioStart || t == AudioEnd
}

// Info describes a validated audio asset.
type Info struct {
	DurationSeconds int
	Size            int
}

// Validate checks an uploaded file against the MP3/size/duration rules and
// measures its duration by decoding it. No network access is performed.
func Validate(fileName string, data []byte) (Info, error) {
	if !strings.EqualFold(ext(fileName), ".mp3") {
		return Info{}, ErrNotMP3
	}
	if len(data) > MaxFileSize {
		return Info{}, ErrFileTooLarge
	}

	seconds, err := decodeDuration(data)
	if err != nil {
		return Info{}, fmt.Errorf("%w: %s", ErrNotMP3, err)
	}
	if seconds > MaxDurationSeconds {
		return Info{}, ErrDurationExceeded
	}

	return Info{DurationSeconds: seconds, Size: len(data)}, nil
}

// decodeDuration decodes the MP3 stream and derives its length from the
// PCM sample count. The decoder always outputs 16-bit stereo, i.e. four
// bytes per sample frame.
func decodeDuration(data []byte) (int, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return 0, err
	}

	var pcmBytes int64
	buf := make([]byte, 32*1024)
	for {
		n, err := dec.Read(buf)
		pcmBytes += int64(n)
		if err == io.EOF {
			break
		}
		if err != nil {
			return 0, err
		}
	}

	rate := int64(dec.SampleRate())
	if rate <= 0 {
		return 0, errors.New("invalid sample rate")
	}

	// Round up so a 20.4s file does not pass a 20s ceiling.
	frames := pcmBytes / 4
	seconds := (frames + rate - 1) / rate
	return int(seconds), nil
}

func ext(name string) string {
	if i := strings.LastIndexByte(name, '.'); i >= 0 {
		return name[i:]
	}
	return ""
}
