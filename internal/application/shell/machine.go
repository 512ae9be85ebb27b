package shell

import (
	"context"
	"log/slog"
	"sync"

	"absences/internal/domain/view"
)

// Snapshot is a consistent read of the view state.
type Snapshot struct {
	View    view.Kind
	Message string
	Flags   view.Flags
	Version uint64
}

// Machine is the single owner of the view state. All mutations go through
// Update, which serialises them; Version only moves when the flags change,
// so replaying an identical event is a no-op.
type Machine struct {
	mu      sync.Mutex
	flags   view.Flags
	version uint64
	changed chan struct{}
}

// NewMachine creates a machine in the Loading state.
func NewMachine() *Machine {
	return &Machine{
		flags:   view.Initial(),
		changed: make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

// View returns the screen that should be rendered now.
func (m *Machine) View() view.Kind {
	return m.Snapshot().View
}

// Update applies fn to the current flags under the machine's lock.
// PRE: fn does not call back into the machine
// POST: Version is bumped and waiters are woken iff the flags changed
func (m *Machine) Update(fn func(view.Flags) view.Flags) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	before := m.flags
	after := fn(before)
	if after == before {
		return m.snapshotLocked(), false
	}

	m.flags = after
	m.version++
	close(m.changed)
	m.changed = make(chan struct{})

	slog.Debug("view_transition", "from", before.Resolve(), "to", after.Resolve(), "version", m.version)
	return m.snapshotLocked(), true
}

// Wait blocks until the version moves past since or ctx is done, and returns
// the latest snapshot either way.
func (m *Machine) Wait(ctx context.Context, since uint64) (Snapshot, error) {
	for {
		m.mu.Lock()
		if m.version > since {
			snap := m.snapshotLocked()
			m.mu.Unlock()
			return snap, nil
		}
		changed := m.changed
		m.mu.Unlock()

		select {
		case <-changed:
		case <-ctx.Done():
			return m.Snapshot(), ctx.Err()
		}
	}
}

// GoToRegister shows the registration screen.
func (m *Machine) GoToRegister() {
	m.Update(view.Flags.GoToRegister)
}

// GoToLogin shows the login screen.
func (m *Machine) GoToLogin() {
	m.Update(view.Flags.GoToLogin)
}

// RegistrationSucceeded shows the dashboard after sign-up.
func (m *Machine) RegistrationSucceeded() {
	m.Update(view.Flags.RegistrationSucceeded)
}

// LoginSucceeded shows the dashboard after sign-in.
func (m *Machine) LoginSucceeded() {
	m.Update(view.Flags.LoginSucceeded)
}

// ResetSucceeded leaves the reset form for the dashboard. Only the reset
// controller calls this, after the location has been scrubbed.
func (m *Machine) ResetSucceeded() {
	m.Update(view.Flags.ResetSucceeded)
}

// SignedOut returns to the login screen.
func (m *Machine) SignedOut() {
	m.Update(view.Flags.SignedOut)
}

func (m *Machine) finishLoading() {
	m.Update(func(f view.Flags) view.Flags {
		f.Loading = false
		return f
	})
}

func (m *Machine) snapshotLocked() Snapshot {
	return Snapshot{
		View:    m.flags.Resolve(),
		Message: m.flags.Message(),
		Flags:   m.flags,
		Version: m.version,
	}
}
