package shell

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
	"absences/internal/domain/view"
)

// Listener errors
var (
	ErrAlreadySubscribed = errors.New("shell: auth listener already subscribed")
	ErrListenerClosed    = errors.New("shell: auth listener closed")
)

// EventSource is the part of the provider the listener subscribes to.
type EventSource interface {
	SubscribeToAuthEvents(handler func(identity.Event)) (unsubscribe func(), err error)
}

// Listener feeds identity events into the machine for the lifetime of a
// page session.
type Listener struct {
	machine  *Machine
	location Location

	mu          sync.Mutex
	unsubscribe func()
	closed      bool
}

// NewListener creates an unsubscribed listener.
func NewListener(m *Machine, loc Location) *Listener {
	return &Listener{machine: m, location: loc}
}

// Subscribe attaches the listener to src.
// PRE: no live subscription
// POST: Events from src reach Handle until Close
func (l *Listener) Subscribe(src EventSource) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrListenerClosed
	}
	if l.unsubscribe != nil {
		return ErrAlreadySubscribed
	}

	unsubscribe, err := src.SubscribeToAuthEvents(l.Handle)
	if err != nil {
		return fmt.Errorf("subscribe to auth events: %w", err)
	}
	if unsubscribe == nil {
		unsubscribe = func() {}
	}
	l.unsubscribe = unsubscribe
	return nil
}

// Close releases the subscription exactly once.
func (l *Listener) Close() {
	l.mu.Lock()
	unsubscribe := l.unsubscribe
	l.unsubscribe = nil
	l.closed = true
	l.mu.Unlock()

	if unsubscribe != nil {
		unsubscribe()
	}
}

// Handle applies one event. The location is classified again on every event
// because it may have been scrubbed since boot.
func (l *Listener) Handle(ev identity.Event) {
	signal := recovery.Classify(l.location.Href())
	_, changed := l.machine.Update(func(f view.Flags) view.Flags {
		return arbitrate(f, ev, signal)
	})
	slog.Debug("auth_event_received", "event", ev.Kind, "has_session", ev.HasSession(), "changed", changed)
}

// arbitrate is the one table deciding what an identity event does to the view.
func arbitrate(f view.Flags, ev identity.Event, signal recovery.Signal) view.Flags {
	switch ev.Kind {
	case identity.EventPasswordRecovery:
		return f.EnterRecovery()

	case identity.EventSignedOut:
		return f.SignedOut()

	case identity.EventSignedIn:
		return signIn(f, signal)

	case identity.EventTokenRefreshed:
		if signal.IsRequested() || f.InRecovery() {
			return f
		}
		f.Authenticated = ev.HasSession()
		return f

	default:
		if !ev.HasSession() {
			return f
		}
		return signIn(f, signal)
	}
}

// signIn ignores sign-ins that are side effects of a recovery token exchange.
func signIn(f view.Flags, signal recovery.Signal) view.Flags {
	if signal.IsRequested() || f.ResetPassword {
		return f
	}
	return f.LoginSucceeded()
}
