package shell

import (
	"context"
	"errors"
	"testing"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"absences/internal/application/orchestrators"
	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
	"absences/internal/domain/view"
)

func startApp(t *testing.T, p Provider, href string) (*App, *MemoryLocation, *clockwork.FakeClock) {
	t.Helper()
	clk := clockwork.NewFakeClock()
	loc := NewMemoryLocation(href)
	a := NewApp(p, loc, clk, Config{RedirectTo: "https://app/"})
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(a.Close)
	return a, loc, clk
}

// settle lets a recovery visit's settle delay pass.
func settle(t *testing.T, a *App, clk *clockwork.FakeClock) {
	t.Helper()
	clk.BlockUntil(1)
	clk.Advance(DefaultSettleDelay)
	waitBooted(t, a)
}

// implicitDetect behaves like a hosted client finding an access token in
// the fragment: a session, then SIGNED_IN, then PASSWORD_RECOVERY.
func implicitDetect(p *fakeProvider, _ string) {
	s := recoverySession()
	p.setSession(s)
	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: s})
	p.emit(identity.Event{Kind: identity.EventPasswordRecovery, Session: s})
}

func TestApp_ImplicitRecoveryToDashboard(t *testing.T) {
	p := &detectingProvider{fakeProvider: newFakeProvider(), detect: implicitDetect}
	a, loc, clk := startApp(t, p, "https://app/#type=recovery&access_token=abc")

	settle(t, a, clk)
	assert.Equal(t, view.KindResetPassword, a.Snapshot().View)
	assert.Equal(t, recovery.HintTypeRecovery, a.Signal().Hint)

	assert.Equal(t, ResetStatusForm, a.ResetScreen(context.Background()).Status)
	require.NoError(t, a.SubmitReset(context.Background(), "secret1", "secret1"))

	assert.Equal(t, "https://app/", loc.Href())
	assert.Equal(t, view.KindAuthenticated, a.Snapshot().View)
}

func TestApp_ExpiredLinkShowsErrorThenScrubs(t *testing.T) {
	p := newFakeProvider()
	a, loc, clk := startApp(t, p, "https://app/#error=access_denied&error_code=otp_expired")
	waitBooted(t, a)

	snap := a.Snapshot()
	assert.Equal(t, view.KindRecoveryError, snap.View)
	assert.Contains(t, snap.Message, "expired")

	clk.Advance(DefaultErrorScrubDelay)
	requireLocation(t, loc, "https://app/")
	assert.Zero(t, p.sessionCalls())
}

func TestApp_PlainVisitWithoutSession(t *testing.T) {
	a, _, _ := startApp(t, newFakeProvider(), "https://app/")
	waitBooted(t, a)
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
}

func TestApp_ExchangeCodeSignInDoesNotSkipReset(t *testing.T) {
	p := &detectingProvider{fakeProvider: newFakeProvider(), detect: func(p *fakeProvider, _ string) {
		s := recoverySession()
		p.setSession(s)
		p.emit(identity.Event{Kind: identity.EventSignedIn, Session: s})
	}}
	a, _, clk := startApp(t, p, "https://app/?code=xyz")
	settle(t, a, clk)

	p.emit(identity.Event{Kind: identity.EventSignedIn, Session: recoverySession()})
	p.emit(identity.Event{Kind: identity.EventTokenRefreshed, Session: recoverySession()})
	assert.Equal(t, view.KindResetPassword, a.Snapshot().View)
}

func TestApp_DeadLinkReturnsToLogin(t *testing.T) {
	p := newFakeProvider()
	a, loc, clk := startApp(t, p, "https://app/?code=used")
	settle(t, a, clk)

	screen := a.ResetScreen(context.Background())
	require.Equal(t, ResetStatusInvalid, screen.Status)

	a.ReturnToLogin(context.Background())
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
	assert.Equal(t, "https://app/", loc.Href())
	assert.Zero(t, p.signOuts, "nothing to sign out")
}

func TestApp_ReturnToLoginDropsRecoverySession(t *testing.T) {
	p := &detectingProvider{fakeProvider: newFakeProvider(), detect: implicitDetect}
	a, _, clk := startApp(t, p, "https://app/#type=recovery&access_token=abc")
	settle(t, a, clk)
	require.Equal(t, ResetStatusForm, a.ResetScreen(context.Background()).Status)

	a.ReturnToLogin(context.Background())
	assert.Equal(t, 1, p.signOuts)
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
}

func TestApp_SubscribeFailureIsDegraded(t *testing.T) {
	p := newFakeProvider()
	p.subscribeErr = errors.New("realtime unavailable")
	p.setSession(&identity.Session{UserID: "u1"})
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)
	assert.Equal(t, view.KindAuthenticated, a.Snapshot().View)
}

func TestApp_CloseReleasesOnce(t *testing.T) {
	p := newFakeProvider()
	a, _, _ := startApp(t, p, "https://app/#type=recovery")
	require.Equal(t, 1, p.subscribers())

	a.Close()
	a.Close()
	waitBooted(t, a)
	assert.Equal(t, 1, p.unsubscribes)
	assert.Zero(t, p.subscribers())
}

func TestApp_StartOnce(t *testing.T) {
	a, _, _ := startApp(t, newFakeProvider(), "https://app/")
	assert.ErrorIs(t, a.Start(context.Background()), ErrAlreadyStarted)
}

func TestApp_LoginLogout(t *testing.T) {
	p := newFakeProvider()
	p.signIn = &identity.Session{UserID: "u1"}
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)

	require.NoError(t, a.Login(context.Background(), "teacher@school.test", "secret1"))
	assert.Equal(t, view.KindAuthenticated, a.Snapshot().View)

	require.NoError(t, a.Logout(context.Background()))
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
}

func TestApp_LoginFailureKeepsLoginScreen(t *testing.T) {
	p := newFakeProvider()
	p.signInErr = identity.ErrInvalidCredentials
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)

	err := a.Login(context.Background(), "teacher@school.test", "wrong")
	assert.ErrorIs(t, err, orchestrators.ErrInvalidCredentials)
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
}

func TestApp_RegisterFlow(t *testing.T) {
	p := newFakeProvider()
	p.signUp = identity.SignUpResult{User: identity.User{ID: "u1"}, Session: &identity.Session{UserID: "u1"}}
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)

	a.GoToRegister()
	assert.Equal(t, view.KindRegistering, a.Snapshot().View)
	a.GoToLogin()
	assert.Equal(t, view.KindLogin, a.Snapshot().View)

	a.GoToRegister()
	require.NoError(t, a.Register(context.Background(), "new@school.test", "secret1", "secret1"))
	assert.Equal(t, view.KindAuthenticated, a.Snapshot().View)
	assert.False(t, a.Snapshot().Flags.Registering)
}

func TestApp_SignOutElsewhereReturnsToLogin(t *testing.T) {
	p := newFakeProvider()
	p.setSession(&identity.Session{UserID: "u1"})
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)
	require.Equal(t, view.KindAuthenticated, a.Snapshot().View)

	p.emit(identity.Event{Kind: identity.EventSignedOut})
	assert.Equal(t, view.KindLogin, a.Snapshot().View)
}

func TestApp_ForgotPassword(t *testing.T) {
	p := newFakeProvider()
	a, _, _ := startApp(t, p, "https://app/")
	waitBooted(t, a)

	require.NoError(t, a.ForgotPassword(context.Background(), "teacher@school.test"))
	assert.Equal(t, []string{"teacher@school.test"}, p.resets)
}
