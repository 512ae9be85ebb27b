package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
	"absences/internal/domain/view"
)

// Default timing. Both delays exist only to sidestep the provider's own
// asynchronous URL processing and to keep an error readable; neither is
// part of any protocol.
const (
	DefaultSettleDelay     = 500 * time.Millisecond
	DefaultErrorScrubDelay = 5 * time.Second
)

// ErrAlreadyBootstrapped is returned when Run is called a second time.
var ErrAlreadyBootstrapped = errors.New("shell: bootstrap already ran")

// Timing holds the named delays used during bootstrap.
type Timing struct {
	// SettleDelay is how long a recovery visit waits before leaving Loading.
	SettleDelay time.Duration
	// ErrorScrubDelay is how long a recovery-link error stays in the
	// address bar before it is scrubbed.
	ErrorScrubDelay time.Duration
}

// DefaultTiming returns the default delays.
func DefaultTiming() Timing {
	return Timing{SettleDelay: DefaultSettleDelay, ErrorScrubDelay: DefaultErrorScrubDelay}
}

// SessionGetter is the part of the provider the bootstrapper may use.
type SessionGetter interface {
	GetCurrentSession(ctx context.Context) (*identity.Session, error)
}

// Bootstrapper makes the one start-up decision of a page session.
type Bootstrapper struct {
	machine  *Machine
	location Location
	sessions SessionGetter
	clock    clockwork.Clock
	timing   Timing

	mu         sync.Mutex
	ran        bool
	stopped    bool
	scrubTimer clockwork.Timer
}

// NewBootstrapper wires a bootstrapper to its collaborators.
func NewBootstrapper(m *Machine, loc Location, sessions SessionGetter, clk clockwork.Clock, timing Timing) *Bootstrapper {
	return &Bootstrapper{
		machine:  m,
		location: loc,
		sessions: sessions,
		clock:    clk,
		timing:   timing,
	}
}

// Run classifies the location once and settles the initial view.
// PRE: called once per page session
// POST: Loading is false on every path, including provider failure
// INVARIANT: the provider is never asked for a session on a recovery visit
func (b *Bootstrapper) Run(ctx context.Context) (recovery.Signal, error) {
	b.mu.Lock()
	if b.ran {
		b.mu.Unlock()
		return recovery.Signal{}, ErrAlreadyBootstrapped
	}
	b.ran = true
	b.mu.Unlock()

	defer b.machine.finishLoading()

	signal := recovery.Classify(b.location.Href())
	switch signal.Kind {
	case recovery.KindRequested:
		b.machine.Update(view.Flags.EnterRecovery)
		slog.Info("bootstrap", "branch", "recovery", "hint", signal.Hint)
		select {
		case <-b.clock.After(b.timing.SettleDelay):
		case <-ctx.Done():
		}

	case recovery.KindError:
		b.machine.Update(func(f view.Flags) view.Flags {
			return f.EnterRecoveryError(signal.Message)
		})
		slog.Info("bootstrap", "branch", "recovery_error", "code", signal.Code)
		b.scheduleScrub()

	default:
		session, err := b.sessions.GetCurrentSession(ctx)
		if err != nil {
			slog.Warn("bootstrap_session_failed", "error", err)
			session = nil
		}
		if session != nil {
			b.machine.Update(view.Flags.LoginSucceeded)
		}
		slog.Info("bootstrap", "branch", "session_check", "has_session", session != nil)
	}
	return signal, nil
}

// Stop cancels a pending error scrub. Safe to call more than once.
func (b *Bootstrapper) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopped = true
	if b.scrubTimer != nil {
		b.scrubTimer.Stop()
		b.scrubTimer = nil
	}
}

func (b *Bootstrapper) scheduleScrub() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.scrubTimer = b.clock.AfterFunc(b.timing.ErrorScrubDelay, func() {
		href := b.location.Href()
		clean := recovery.Scrub(href)
		if clean != href {
			b.location.Replace(clean)
			slog.Info("recovery_error_scrubbed")
		}
	})
}
