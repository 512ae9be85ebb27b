package shell

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
	"absences/internal/domain/view"
)

func TestArbitrate(t *testing.T) {
	session := &identity.Session{UserID: "u1"}
	none := recovery.Signal{Kind: recovery.KindNone}
	requested := recovery.Signal{Kind: recovery.KindRequested, Hint: recovery.HintExchangeCode}

	login := view.Flags{}
	reset := view.Flags{ResetPassword: true}
	dashboard := view.Flags{Authenticated: true}
	recoveryErr := view.Flags{RecoveryError: true, RecoveryMessage: recovery.MessageExpired}

	tests := []struct {
		name   string
		flags  view.Flags
		event  identity.Event
		signal recovery.Signal
		want   view.Kind
	}{
		{"recovery event from dashboard", dashboard, identity.Event{Kind: identity.EventPasswordRecovery, Session: session}, none, view.KindResetPassword},
		{"recovery event from login", login, identity.Event{Kind: identity.EventPasswordRecovery}, none, view.KindResetPassword},
		{"sign-in on plain page", login, identity.Event{Kind: identity.EventSignedIn, Session: session}, none, view.KindAuthenticated},
		{"sign-in while location requests recovery", login, identity.Event{Kind: identity.EventSignedIn, Session: session}, requested, view.KindLogin},
		{"sign-in while resetting", reset, identity.Event{Kind: identity.EventSignedIn, Session: session}, none, view.KindResetPassword},
		{"sign-out from dashboard", dashboard, identity.Event{Kind: identity.EventSignedOut}, none, view.KindLogin},
		{"sign-out from reset", reset, identity.Event{Kind: identity.EventSignedOut}, requested, view.KindLogin},
		{"sign-out from recovery error", recoveryErr, identity.Event{Kind: identity.EventSignedOut}, none, view.KindLogin},
		{"refresh with session", login, identity.Event{Kind: identity.EventTokenRefreshed, Session: session}, none, view.KindAuthenticated},
		{"refresh without session", dashboard, identity.Event{Kind: identity.EventTokenRefreshed}, none, view.KindLogin},
		{"refresh during reset", reset, identity.Event{Kind: identity.EventTokenRefreshed, Session: session}, none, view.KindResetPassword},
		{"refresh while location requests recovery", login, identity.Event{Kind: identity.EventTokenRefreshed, Session: session}, requested, view.KindLogin},
		{"user updated with session", login, identity.Event{Kind: identity.EventUserUpdated, Session: session}, none, view.KindAuthenticated},
		{"user updated during reset", reset, identity.Event{Kind: identity.EventUserUpdated, Session: session}, none, view.KindResetPassword},
		{"initial session without session", dashboard, identity.Event{Kind: identity.EventInitialSession}, none, view.KindAuthenticated},
		{"unknown event without session", login, identity.Event{Kind: "MFA_CHALLENGE_VERIFIED"}, none, view.KindLogin},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := arbitrate(tt.flags, tt.event, tt.signal)
			assert.Equal(t, tt.want, got.Resolve())
		})
	}
}

func TestArbitrate_SignedOutClearsEverything(t *testing.T) {
	all := view.Flags{RecoveryError: true, RecoveryMessage: "x", ResetPassword: true, Authenticated: true, Registering: true}
	got := arbitrate(all, identity.Event{Kind: identity.EventSignedOut}, recovery.Signal{})
	assert.Equal(t, view.Flags{}, got)
}

func TestListener_ReplayIsIdempotent(t *testing.T) {
	m := NewMachine()
	m.finishLoading()
	l := NewListener(m, NewMemoryLocation("https://app/"))

	ev := identity.Event{Kind: identity.EventSignedIn, Session: &identity.Session{UserID: "u1"}}
	l.Handle(ev)
	version := m.Snapshot().Version
	l.Handle(ev)
	l.Handle(ev)
	assert.Equal(t, version, m.Snapshot().Version)
	assert.Equal(t, view.KindAuthenticated, m.View())
}

func TestListener_ReclassifiesCurrentLocation(t *testing.T) {
	m := NewMachine()
	m.finishLoading()
	loc := NewMemoryLocation("https://app/?code=xyz")
	l := NewListener(m, loc)

	ev := identity.Event{Kind: identity.EventSignedIn, Session: &identity.Session{UserID: "u1"}}
	l.Handle(ev)
	assert.Equal(t, view.KindLogin, m.View())

	loc.Replace("https://app/")
	l.Handle(ev)
	assert.Equal(t, view.KindAuthenticated, m.View())
}

func TestListener_SubscribeOnce(t *testing.T) {
	p := newFakeProvider()
	l := NewListener(NewMachine(), NewMemoryLocation("https://app/"))

	require.NoError(t, l.Subscribe(p))
	assert.ErrorIs(t, l.Subscribe(p), ErrAlreadySubscribed)
	assert.Equal(t, 1, p.subscribers())
}

func TestListener_CloseReleasesExactlyOnce(t *testing.T) {
	p := newFakeProvider()
	l := NewListener(NewMachine(), NewMemoryLocation("https://app/"))
	require.NoError(t, l.Subscribe(p))

	l.Close()
	l.Close()
	assert.Equal(t, 1, p.unsubscribes)
	assert.Zero(t, p.subscribers())
	assert.ErrorIs(t, l.Subscribe(p), ErrListenerClosed)
}

func TestListener_SubscribeFailure(t *testing.T) {
	p := newFakeProvider()
	p.subscribeErr = errors.New("channel closed")
	l := NewListener(NewMachine(), NewMemoryLocation("https://app/"))

	err := l.Subscribe(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, p.subscribeErr)
	l.Close()
}
