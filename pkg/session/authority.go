package session

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Authority errors. These map 1:1 to wire error codes.
var (
	ErrNoActiveSession = errors.New("no active session")
	ErrInvalidPassword = errors.New("invalid password")
	ErrRateLimited     = errors.New("too many authentication attempts")
)

// State is the authorization record for a device. The password itself is
// never stored, only its SHA-256 hex digest.
type State struct {
	SessionID             string    `json:"session_id"`
	Active                bool      `json:"active"`
	Protected             bool      `json:"protected"`
	PasswordHash          string    `json:"password_hash,omitempty"`
	CreatedAt             time.Time `json:"created_at"`
	AuthorizedControllers []string  `json:"authorized_controllers,omitempty"`
	Owner                 string    `json:"owner,omitempty"`
}

// Store persists session state across device restarts.
type Store interface {
	LoadSession() (State, error)
	SaveSession(State) error
	ClearSession() error
}

// AuthorityConfig configures a session authority.
type AuthorityConfig struct {
	// Store is the durable session store. Required.
	Store Store

	// MaxAttempts overrides the rate limit attempt count (default 5).
	MaxAttempts int

	// Window overrides the rate limit window (default 60s).
	Window time.Duration

	// Clock is the time source. Defaults to the real clock.
	Clock clockwork.Clock

	// Logger for authorization events (optional).
	Logger zerolog.Logger
}

// Authority owns the session lifecycle, the authorized-controller set and
// the authentication rate limiter for one device.
type Authority struct {
	mu sync.Mutex

	state   State
	store   Store
	limiter *limiter
	clock   clockwork.Clock
	log     zerolog.Logger
}

// NewAuthority creates an authority, restoring any persisted session.
func NewAuthority(config AuthorityConfig) (*Authority, error) {
	if config.Store == nil {
		return nil, errors.New("store is required")
	}
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultWindow
	}
	if config.Clock == nil {
		config.Clock = clockwork.NewRealClock()
	}

	state, err := config.Store.LoadSession()
	if err != nil {
		return nil, err
	}

	return &Authority{
		state:   state,
		store:   config.Store,
		limiter: newLimiter(config.MaxAttempts, config.Window, config.Clock),
		clock:   config.Clock,
		log:     config.Logger,
	}, nil
}

// Create starts a new session, overwriting any prior one. A blank password
// creates an unprotected session with open access.
func (a *Authority) Create(password, owner string) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := State{
		SessionID: uuid.NewString(),
		Active:    true,
		CreatedAt: a.clock.Now(),
		Owner:     owner,
	}
	if strings.TrimSpace(password) != "" {
		state.Protected = true
		state.PasswordHash = hashPassword(password)
		state.AuthorizedControllers = []string{}
	}

	if err := a.store.SaveSession(state); err != nil {
		return State{}, err
	}
	a.state = state

	a.log.Info().Str("session_id", state.SessionID).Bool("protected", state.Protected).Msg("session created")
	return state, nil
}

// Authenticate evaluates a controller's credentials against the active
// session. Failed password attempts, and only those, count against the
// rate limit.
func (a *Authority) Authenticate(controllerID, password string) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.limiter.allowed(controllerID) {
		a.log.Warn().Str("controller_id", controllerID).Msg("authentication rate limited")
		return State{}, ErrRateLimited
	}
	if !a.state.Active {
		return State{}, ErrNoActiveSession
	}
	if !a.state.Protected {
		return a.state, nil
	}
	if hashPassword(password) != a.state.PasswordHash {
		a.limiter.record(controllerID)
		a.log.Warn().Str("controller_id", controllerID).Msg("invalid password")
		return State{}, ErrInvalidPassword
	}

	if !containsController(a.state.AuthorizedControllers, controllerID) {
		a.state.AuthorizedControllers = append(a.state.AuthorizedControllers, controllerID)
		sort.Strings(a.state.AuthorizedControllers)
		if err := a.store.SaveSession(a.state); err != nil {
			return State{}, err
		}
	}

	a.log.Info().Str("controller_id", controllerID).Msg("controller authorized")
	return a.state, nil
}

// IsAuthorized reports whether the controller may issue commands. With no
// active session there is no access control configured, so everyone is
// authorized; likewise for an unprotected session.
func (a *Authority) IsAuthorized(controllerID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.Active || !a.state.Protected {
		return true
	}
	return containsController(a.state.AuthorizedControllers, controllerID)
}

// Revoke removes a controller from the authorized set.
func (a *Authority) Revoke(controllerID string) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.state.Active {
		return State{}, ErrNoActiveSession
	}

	kept := a.state.AuthorizedControllers[:0]
	for _, id := range a.state.AuthorizedControllers {
		if id != controllerID {
			kept = append(kept, id)
		}
	}
	a.state.AuthorizedControllers = kept

	if err := a.store.SaveSession(a.state); err != nil {
		return State{}, err
	}
	return a.state, nil
}

// End destroys the session and clears rate limiter bookkeeping so a
// deliberate reset does not keep punishing legitimate use.
func (a *Authority) End() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.state = State{}
	a.limiter.reset()

	if err := a.store.ClearSession(); err != nil {
		return err
	}
	a.log.Info().Msg("session ended")
	return nil
}

// Status returns a snapshot of the session state.
func (a *Authority) Status() State {
	a.mu.Lock()
	defer a.mu.Unlock()

	state := a.state
	state.AuthorizedControllers = append([]string(nil), a.state.AuthorizedControllers...)
	return state
}

func hashPassword(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

func containsController(ids []string, id string) bool {
	for _, have := range ids {
		if have == id {
			return true
		}
	}
	return false
}
