package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/jonboulle/clockwork"

	"absences/internal/application/orchestrators"
	"absences/internal/domain/account"
	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
)

// ErrAlreadyStarted is returned when Start is called a second time.
var ErrAlreadyStarted = errors.New("shell: app already started")

// Config holds the per-deployment settings of a page session.
type Config struct {
	Timing            Timing
	MinPasswordLength int
	// RedirectTo is where emailed links send the user back to.
	RedirectTo string
}

// App is one page session: the composition root that owns the view state
// machine, the page location and the identity handle it was given.
type App struct {
	provider Provider
	location Location
	cfg      Config

	machine  *Machine
	listener *Listener
	boot     *Bootstrapper
	reset    *ResetController

	ctx    context.Context
	cancel context.CancelFunc

	booted   chan struct{}
	detected chan struct{}

	mu      sync.Mutex
	started bool
	closed  bool
	signal  recovery.Signal
}

// NewApp wires a page session. Nothing runs until Start.
func NewApp(provider Provider, loc Location, clk clockwork.Clock, cfg Config) *App {
	if cfg.Timing == (Timing{}) {
		cfg.Timing = DefaultTiming()
	}
	if cfg.MinPasswordLength <= 0 {
		cfg.MinPasswordLength = account.MinPasswordLength
	}
	if clk == nil {
		clk = clockwork.NewRealClock()
	}

	m := NewMachine()
	return &App{
		provider: provider,
		location: loc,
		cfg:      cfg,
		machine:  m,
		listener: NewListener(m, loc),
		boot:     NewBootstrapper(m, loc, provider, clk, cfg.Timing),
		reset:    NewResetController(m, loc, provider, cfg.MinPasswordLength),
		booted:   make(chan struct{}),
		detected: make(chan struct{}),
	}
}

// Start subscribes to identity events, hands the location to the provider's
// own URL processing when it has any, then bootstraps the view.
// PRE: called once
// POST: Bootstrapped is closed once the initial view has settled
// INVARIANT: the subscription exists before the bootstrapper runs
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return ErrAlreadyStarted
	}
	a.started = true
	a.ctx, a.cancel = context.WithCancel(ctx)
	a.mu.Unlock()

	if err := a.listener.Subscribe(a.provider); err != nil {
		// Degraded: the bootstrapper alone still settles the view.
		slog.Warn("auth_subscribe_failed", "error", err)
	}

	href := a.location.Href()
	if detector, ok := a.provider.(URLDetector); ok {
		go func() {
			defer close(a.detected)
			if err := detector.DetectSessionInURL(a.ctx, href); err != nil {
				slog.Warn("detect_session_in_url_failed", "error", err)
			}
		}()
	} else {
		close(a.detected)
	}

	go func() {
		defer close(a.booted)
		signal, err := a.boot.Run(a.ctx)
		if err != nil {
			slog.Warn("bootstrap_failed", "error", err)
			return
		}
		a.mu.Lock()
		a.signal = signal
		a.mu.Unlock()
	}()
	return nil
}

// Bootstrapped is closed once the initial view has settled.
func (a *App) Bootstrapped() <-chan struct{} {
	return a.booted
}

// Signal returns what the location said at boot.
func (a *App) Signal() recovery.Signal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.signal
}

// Close releases the subscription and any pending timer. Safe to call more
// than once.
func (a *App) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	cancel := a.cancel
	a.mu.Unlock()

	a.listener.Close()
	a.boot.Stop()
	if cancel != nil {
		cancel()
	}
	slog.Debug("page_session_closed")
}

// Snapshot returns the current view state.
func (a *App) Snapshot() Snapshot {
	return a.machine.Snapshot()
}

// Wait long-polls for a view state newer than since.
func (a *App) Wait(ctx context.Context, since uint64) (Snapshot, error) {
	return a.machine.Wait(ctx, since)
}

// Location returns the page's current address.
func (a *App) Location() string {
	return a.location.Href()
}

// Session returns the provider's current session, if any.
func (a *App) Session(ctx context.Context) (*identity.Session, error) {
	return a.provider.GetCurrentSession(ctx)
}

// GoToRegister shows the registration screen.
func (a *App) GoToRegister() {
	a.machine.GoToRegister()
}

// GoToLogin leaves registration for the login screen.
func (a *App) GoToLogin() {
	a.machine.GoToLogin()
}

// ReturnToLogin leaves a recovery screen for the login screen. The location
// is scrubbed so a refresh does not re-enter recovery, and a session that
// only exists to reset the password is dropped.
func (a *App) ReturnToLogin(ctx context.Context) {
	if session, err := a.provider.GetCurrentSession(ctx); err == nil && session != nil && session.Recovery {
		if err := a.provider.SignOut(ctx); err != nil {
			slog.Warn("recovery_signout_failed", "error", err)
		}
	}
	a.scrubLocation()
	a.reset.Unmount()
	a.machine.GoToLogin()
}

// Login signs in and shows the dashboard.
func (a *App) Login(ctx context.Context, email, password string) error {
	if _, err := orchestrators.ExecuteLogin(ctx, orchestrators.LoginInput{
		Email:    email,
		Password: password,
	}, orchestrators.LoginDeps{Provider: a.provider}); err != nil {
		return err
	}
	a.machine.LoginSucceeded()
	return nil
}

// Register creates an account. When the account can be used straight away
// the dashboard shows; otherwise ErrConfirmationPending is returned.
func (a *App) Register(ctx context.Context, email, password, confirmPassword string) error {
	if _, err := orchestrators.ExecuteRegister(ctx, orchestrators.RegisterInput{
		Email:           email,
		Password:        password,
		ConfirmPassword: confirmPassword,
	}, orchestrators.RegisterDeps{
		Provider:          a.provider,
		RedirectTo:        a.cfg.RedirectTo,
		MinPasswordLength: a.cfg.MinPasswordLength,
	}); err != nil {
		return err
	}
	a.machine.RegistrationSucceeded()
	return nil
}

// ForgotPassword emails a recovery link.
func (a *App) ForgotPassword(ctx context.Context, email string) error {
	return orchestrators.ExecuteForgotPassword(ctx, orchestrators.ForgotPasswordInput{Email: email},
		orchestrators.ForgotPasswordDeps{Provider: a.provider, RedirectTo: a.cfg.RedirectTo})
}

// Logout signs out. The login screen shows even if the provider fails.
func (a *App) Logout(ctx context.Context) error {
	err := a.provider.SignOut(ctx)
	if err != nil {
		slog.Warn("auth_event", "event", "logout_failed", "error", err)
	} else {
		slog.Info("auth_event", "event", "logout")
	}
	a.machine.SignedOut()
	return err
}

// ResetScreen mounts the reset screen once the provider has finished its
// own URL processing, so a session still being established is not taken
// for a dead link.
func (a *App) ResetScreen(ctx context.Context) ResetScreen {
	select {
	case <-a.detected:
	case <-ctx.Done():
		return a.reset.Screen()
	}
	return a.reset.Mount(ctx)
}

// SubmitReset sets a new password from the reset screen.
func (a *App) SubmitReset(ctx context.Context, newPassword, confirmPassword string) error {
	select {
	case <-a.detected:
	case <-ctx.Done():
		return ctx.Err()
	}
	return a.reset.Submit(ctx, newPassword, confirmPassword)
}

func (a *App) scrubLocation() {
	href := a.location.Href()
	if clean := recovery.Scrub(href); clean != href {
		a.location.Replace(clean)
	}
}
