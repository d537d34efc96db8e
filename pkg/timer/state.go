package timer

import (
	"errors"
	"fmt"
)

// Phase represents the current segment of a match.
type Phase uint8

const (
	// PhaseWarmup is the pre-match warmup countdown.
	PhaseWarmup Phase = iota

	// PhaseMatch is the match itself.
	PhaseMatch

	// PhaseBreak is the post-match break.
	PhaseBreak
)

// String returns the phase name as used on the wire.
func (p Phase) String() string {
	switch p {
	case PhaseWarmup:
		return "WARMUP"
	case PhaseMatch:
		return "MATCH"
	case PhaseBreak:
		return "BREAK"
	default:
		return "UNKNOWN"
	}
}

// ParsePhase parses a wire phase name.
func ParsePhase(s string) (Phase, error) {
	switch s {
	case "WARMUP":
		return PhaseWarmup, nil
	case "MATCH":
		return PhaseMatch, nil
	case "BREAK":
		return PhaseBreak, nil
	default:
		return PhaseWarmup, fmt.Errorf("unknown phase %q", s)
	}
}

// State is an immutable snapshot of the clock.
// IsRunning and IsPaused are never both true.
type State struct {
	Phase           Phase
	TimeLeftSeconds int
	IsRunning       bool
	IsPaused        bool
}

// Settings holds the per-device clock configuration. Font and color fields
// are display-only and never interpreted by the protocol core.
type Settings struct {
	WarmupMinutes int `json:"warmup_minutes" yaml:"warmup_minutes"`
	MatchMinutes  int `json:"match_minutes" yaml:"match_minutes"`
	BreakMinutes  int `json:"break_minutes" yaml:"break_minutes"`

	StartSoundURI             string `json:"start_sound_uri,omitempty" yaml:"start_sound_uri"`
	EndSoundURI               string `json:"end_sound_uri,omitempty" yaml:"end_sound_uri"`
	StartSoundDurationSeconds int    `json:"start_sound_duration_seconds,omitempty" yaml:"start_sound_duration_seconds"`
	EndSoundDurationSeconds   int    `json:"end_sound_duration_seconds,omitempty" yaml:"end_sound_duration_seconds"`

	TimerFontSize   int    `json:"timer_font_size,omitempty" yaml:"timer_font_size"`
	PhaseFontSize   int    `json:"phase_font_size,omitempty" yaml:"phase_font_size"`
	TimerColor      string `json:"timer_color,omitempty" yaml:"timer_color"`
	BackgroundColor string `json:"background_color,omitempty" yaml:"background_color"`
}

// Settings errors.
var (
	ErrInvalidDuration = errors.New("phase duration must be at least 1 minute")
	ErrNegativeSound   = errors.New("sound duration must not be negative")
)

// DefaultSettings returns the factory clock configuration.
func DefaultSettings() Settings {
	return Settings{
		WarmupMinutes: 5,
		MatchMinutes:  30,
		BreakMinutes:  5,
		TimerFontSize: 120,
		PhaseFontSize: 48,
	}
}

// Validate checks the settings invariants.
func (s Settings) Validate() error {
	if s.WarmupMinutes < 1 || s.MatchMinutes < 1 || s.BreakMinutes < 1 {
		return ErrInvalidDuration
	}
	if s.StartSoundDurationSeconds < 0 || s.EndSoundDurationSeconds < 0 {
		return ErrNegativeSound
	}
	return nil
}

// PhaseSeconds returns the configured duration of a phase in seconds.
func (s Settings) PhaseSeconds(p Phase) int {
	switch p {
	case PhaseWarmup:
		return s.WarmupMinutes * 60
	case PhaseMatch:
		return s.MatchMinutes * 60
	case PhaseBreak:
		return s.BreakMinutes * 60
	default:
		return 0
	}
}
