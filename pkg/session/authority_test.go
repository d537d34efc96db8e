package session

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memStore is an in-memory Store for tests.
type memStore struct {
	state State
	saves int
}

func (s *memStore) LoadSession() (State, error) { return s.state, nil }
func (s *memStore) SaveSession(state State) error {
	s.state = state
	s.saves++
	return nil
}
func (s *memStore) ClearSession() error {
	s.state = State{}
	return nil
}

func newTestAuthority(t *testing.T, clock clockwork.Clock) (*Authority, *memStore) {
	t.Helper()
	store := &memStore{}
	a, err := NewAuthority(AuthorityConfig{Store: store, Clock: clock})
	require.NoError(t, err)
	return a, store
}

func TestCreateUnprotectedSession(t *testing.T) {
	a, store := newTestAuthority(t, nil)

	state, err := a.Create("", "referee")
	require.NoError(t, err)

	assert.True(t, state.Active)
	assert.False(t, state.Protected)
	assert.Empty(t, state.PasswordHash)
	assert.NotEmpty(t, state.SessionID)
	assert.Equal(t, "referee", state.Owner)
	assert.Equal(t, state, store.state)
}

func TestCreateProtectedSessionStoresDigestOnly(t *testing.T) {
	a, store := newTestAuthority(t, nil)

	state, err := a.Create("court-secret", "")
	require.NoError(t, err)

	assert.True(t, state.Protected)

	sum := sha256.Sum256([]byte("court-secret"))
	assert.Equal(t, hex.EncodeToString(sum[:]), state.PasswordHash)
	assert.NotContains(t, store.state.PasswordHash, "court-secret")
}

func TestCreateBlankPaddedPasswordIsUnprotected(t *testing.T) {
	a, _ := newTestAuthority(t, nil)

	state, err := a.Create("   ", "")
	require.NoError(t, err)
	assert.False(t, state.Protected)
}

func TestAuthenticateNoActiveSession(t *testing.T) {
	a, _ := newTestAuthority(t, nil)

	_, err := a.Authenticate("ctl-1", "whatever")
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestAuthenticateUnprotectedSessionAcceptsAnyone(t *testing.T) {
	a, _ := newTestAuthority(t, nil)
	_, err := a.Create("", "")
	require.NoError(t, err)

	state, err := a.Authenticate("ctl-1", "")
	require.NoError(t, err)
	assert.True(t, state.Active)

	// No enrollment happens either.
	assert.Empty(t, a.Status().AuthorizedControllers)
	assert.True(t, a.IsAuthorized("anyone"))
}

func TestAuthenticateCorrectPassword(t *testing.T) {
	a, _ := newTestAuthority(t, nil)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	assert.False(t, a.IsAuthorized("ctl-1"))

	state, err := a.Authenticate("ctl-1", "pw")
	require.NoError(t, err)
	assert.Contains(t, state.AuthorizedControllers, "ctl-1")
	assert.True(t, a.IsAuthorized("ctl-1"))
	assert.False(t, a.IsAuthorized("ctl-2"))
}

func TestAuthenticateIsIdempotentPerController(t *testing.T) {
	a, store := newTestAuthority(t, nil)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	savesAfterCreate := store.saves
	_, err = a.Authenticate("ctl-1", "pw")
	require.NoError(t, err)
	_, err = a.Authenticate("ctl-1", "pw")
	require.NoError(t, err)

	assert.Len(t, a.Status().AuthorizedControllers, 1)
	// The second authenticate changes nothing and must not rewrite the store.
	assert.Equal(t, savesAfterCreate+1, store.saves)
}

func TestAuthenticateInvalidPassword(t *testing.T) {
	a, _ := newTestAuthority(t, nil)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	_, err = a.Authenticate("ctl-1", "wrong")
	assert.ErrorIs(t, err, ErrInvalidPassword)
	assert.False(t, a.IsAuthorized("ctl-1"))
}

func TestRateLimitBlocksAfterMaxFailures(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthority(t, clock)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, err = a.Authenticate("ctl-1", "wrong")
		assert.ErrorIs(t, err, ErrInvalidPassword)
	}

	// The sixth attempt is refused before the password is even looked at.
	_, err = a.Authenticate("ctl-1", "pw")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestRateLimitWindowExpires(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthority(t, clock)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, _ = a.Authenticate("ctl-1", "wrong")
	}
	_, err = a.Authenticate("ctl-1", "pw")
	require.ErrorIs(t, err, ErrRateLimited)

	clock.Advance(DefaultWindow + time.Second)

	state, err := a.Authenticate("ctl-1", "pw")
	require.NoError(t, err)
	assert.Contains(t, state.AuthorizedControllers, "ctl-1")
}

func TestRateLimitIsPerController(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthority(t, clock)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, _ = a.Authenticate("ctl-1", "wrong")
	}

	// Another controller is unaffected.
	_, err = a.Authenticate("ctl-2", "pw")
	assert.NoError(t, err)
}

func TestOnlyInvalidPasswordCountsAgainstLimit(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, _ := newTestAuthority(t, clock)

	// No session: attempts fail but never count.
	for i := 0; i < DefaultMaxAttempts*2; i++ {
		_, err := a.Authenticate("ctl-1", "pw")
		assert.ErrorIs(t, err, ErrNoActiveSession)
	}

	_, err := a.Create("pw", "")
	require.NoError(t, err)
	_, err = a.Authenticate("ctl-1", "pw")
	assert.NoError(t, err)
}

func TestRevoke(t *testing.T) {
	a, _ := newTestAuthority(t, nil)
	_, err := a.Create("pw", "")
	require.NoError(t, err)
	_, err = a.Authenticate("ctl-1", "pw")
	require.NoError(t, err)

	state, err := a.Revoke("ctl-1")
	require.NoError(t, err)
	assert.NotContains(t, state.AuthorizedControllers, "ctl-1")
	assert.False(t, a.IsAuthorized("ctl-1"))
}

func TestEndClearsSessionAndLimiter(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a, store := newTestAuthority(t, clock)
	_, err := a.Create("pw", "")
	require.NoError(t, err)

	for i := 0; i < DefaultMaxAttempts; i++ {
		_, _ = a.Authenticate("ctl-1", "wrong")
	}

	require.NoError(t, a.End())
	assert.False(t, a.Status().Active)
	assert.False(t, store.state.Active)

	// A fresh session does not inherit the old limiter state.
	_, err = a.Create("pw", "")
	require.NoError(t, err)
	_, err = a.Authenticate("ctl-1", "pw")
	assert.NoError(t, err)
}

func TestNoSessionMeansOpenAccess(t *testing.T) {
	a, _ := newTestAuthority(t, nil)

	assert.True(t, a.IsAuthorized("anyone"))
}

func TestAuthorityRestoresPersistedSession(t *testing.T) {
	store := &memStore{state: State{
		SessionID:             "persisted",
		Active:                true,
		Protected:             true,
		PasswordHash:          hashPassword("pw"),
		AuthorizedControllers: []string{"ctl-1"},
	}}

	a, err := NewAuthority(AuthorityConfig{Store: store})
	require.NoError(t, err)

	assert.True(t, a.IsAuthorized("ctl-1"))
	assert.False(t, a.IsAuthorized("ctl-2"))
	assert.Equal(t, "persisted", a.Status().SessionID)
}
