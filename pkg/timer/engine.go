package timer

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// TickInterval is the countdown resolution.
const TickInterval = 1 * time.Second

// Engine errors.
var (
	ErrInvalidEmergencyTime = errors.New("emergency time must not be negative")
)

// Subscriber receives a state snapshot on every tick and every mutation.
// Callbacks run outside the engine lock and must not block for long.
type Subscriber func(State)

// EngineConfig configures a match clock engine.
type EngineConfig struct {
	// Settings is the initial clock configuration.
	Settings Settings

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger for engine events (optional).
	Logger zerolog.Logger
}

// Engine is the authoritative local countdown for one device.
type Engine struct {
	mu sync.Mutex

	settings Settings
	phase    Phase
	timeLeft int
	running  bool
	paused   bool

	subs  []Subscriber
	clock clockwork.Clock
	log   zerolog.Logger

	wg sync.WaitGroup
}

// NewEngine creates a stopped engine primed with the warmup duration.
func NewEngine(config EngineConfig) (*Engine, error) {
	if err := config.Settings.Validate(); err != nil {
		return nil, err
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	return &Engine{
		settings: config.Settings,
		phase:    PhaseWarmup,
		timeLeft: config.Settings.PhaseSeconds(PhaseWarmup),
		clock:    config.Clock,
		log:      config.Logger,
	}, nil
}

// Run drives the countdown until ctx is cancelled. The tick loop runs at a
// fixed period regardless of how many subscribers or connections exist.
func (e *Engine) Run(ctx context.Context) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		ticker := e.clock.NewTicker(TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.Chan():
				e.tick()
			}
		}
	}()
}

// Wait blocks until the tick loop has exited.
func (e *Engine) Wait() {
	e.wg.Wait()
}

// State returns a snapshot of the clock.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot()
}

// Settings returns the current clock configuration.
func (e *Engine) Settings() Settings {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.settings
}

// Subscribe registers a callback for state snapshots.
func (e *Engine) Subscribe(fn Subscriber) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.subs = append(e.subs, fn)
}

// Start begins the countdown. Starting a running clock is a no-op.
func (e *Engine) Start() {
	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.paused = false
	if e.timeLeft <= 0 {
		e.timeLeft = e.settings.PhaseSeconds(e.phase)
	}
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Str("phase", state.Phase.String()).Int("time_left", state.TimeLeftSeconds).Msg("timer started")
	notify(subs, state)
}

// Pause suspends the countdown. Pausing a stopped clock is a no-op.
func (e *Engine) Pause() {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return
	}
	e.running = false
	e.paused = true
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Msg("timer paused")
	notify(subs, state)
}

// Resume continues a paused countdown.
func (e *Engine) Resume() {
	e.mu.Lock()
	if !e.paused {
		e.mu.Unlock()
		return
	}
	e.running = true
	e.paused = false
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Msg("timer resumed")
	notify(subs, state)
}

// Restart resets the clock to the start of warmup and begins counting.
func (e *Engine) Restart() {
	e.mu.Lock()
	e.phase = PhaseWarmup
	e.timeLeft = e.settings.PhaseSeconds(PhaseWarmup)
	e.running = true
	e.paused = false
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Msg("timer restarted")
	notify(subs, state)
}

// SetEmergencyTime overrides the remaining time without changing the phase
// or the run state.
func (e *Engine) SetEmergencyTime(minutes, seconds int) error {
	if minutes < 0 || seconds < 0 {
		return ErrInvalidEmergencyTime
	}

	e.mu.Lock()
	e.timeLeft = minutes*60 + seconds
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Int("time_left", state.TimeLeftSeconds).Msg("emergency time set")
	notify(subs, state)
	return nil
}

// ApplySync overwrites the clock from a master snapshot. Used to reconcile a
// follower device; a synced clock is never left in the paused state.
func (e *Engine) ApplySync(phase Phase, timeLeftSeconds int, isRunning bool) {
	if timeLeftSeconds < 0 {
		timeLeftSeconds = 0
	}

	e.mu.Lock()
	e.phase = phase
	e.timeLeft = timeLeftSeconds
	e.running = isRunning
	e.paused = false
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	e.log.Debug().Str("phase", phase.String()).Int("time_left", timeLeftSeconds).Bool("running", isRunning).Msg("state synced from master")
	notify(subs, state)
}

// UpdateSettings replaces the clock configuration. If the clock is stopped,
// the remaining time is re-primed from the current phase's new duration.
func (e *Engine) UpdateSettings(s Settings) error {
	if err := s.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	e.settings = s
	if !e.running && !e.paused {
		e.timeLeft = s.PhaseSeconds(e.phase)
	}
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	notify(subs, state)
	return nil
}

// tick advances the countdown by one interval.
func (e *Engine) tick() {
	e.mu.Lock()
	if !e.running {
		state, subs := e.snapshot(), e.subscribers()
		e.mu.Unlock()
		// Idle ticks still broadcast so late joiners see current state.
		notify(subs, state)
		return
	}

	e.timeLeft--
	if e.timeLeft <= 0 {
		e.advancePhase()
	}
	state, subs := e.snapshot(), e.subscribers()
	e.mu.Unlock()

	notify(subs, state)
}

// advancePhase moves to the next phase, stopping after the break.
// Caller must hold the lock.
func (e *Engine) advancePhase() {
	switch e.phase {
	case PhaseWarmup:
		e.phase = PhaseMatch
		e.timeLeft = e.settings.PhaseSeconds(PhaseMatch)
	case PhaseMatch:
		e.phase = PhaseBreak
		e.timeLeft = e.settings.PhaseSeconds(PhaseBreak)
	case PhaseBreak:
		e.timeLeft = 0
		e.running = false
	}
}

// snapshot builds a State. Caller must hold the lock.
func (e *Engine) snapshot() State {
	return State{
		Phase:           e.phase,
		TimeLeftSeconds: e.timeLeft,
		IsRunning:       e.running,
		IsPaused:        e.paused,
	}
}

// subscribers copies the subscriber list. Caller must hold the lock.
func (e *Engine) subscribers() []Subscriber {
	out := make([]Subscriber, len(e.subs))
	copy(out, e.subs)
	return out
}

// notify invokes callbacks outside the lock to prevent deadlock.
func notify(subs []Subscriber, state State) {
	for _, fn := range subs {
		fn(state)
	}
}
