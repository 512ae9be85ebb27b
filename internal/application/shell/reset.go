package shell

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"absences/internal/domain/account"
	"absences/internal/domain/identity"
	"absences/internal/domain/recovery"
)

// ErrRecoveryLinkInvalid is returned when the reset screen has no recovery
// session to update, because the link never produced one or it expired.
var ErrRecoveryLinkInvalid = errors.New("recovery link is invalid or has expired")

// MessageRecoveryLinkInvalid is what the dead-end reset screen shows.
const MessageRecoveryLinkInvalid = "This recovery link is invalid or has expired. Please request a new one."

// ResetErrorKind classifies a failed reset submission.
type ResetErrorKind string

const (
	ResetProvider    ResetErrorKind = "provider"
	ResetInvalidLink ResetErrorKind = "invalid_link"
)

// ResetError is a reset failure that did not come from local validation.
// Its message is the underlying message, verbatim.
type ResetError struct {
	Kind ResetErrorKind
	Err  error
}

func (e *ResetError) Error() string { return e.Err.Error() }

func (e *ResetError) Unwrap() error { return e.Err }

// ResetStatus is what the reset screen renders.
type ResetStatus string

const (
	ResetStatusUnmounted ResetStatus = "unmounted"
	ResetStatusForm      ResetStatus = "form"
	ResetStatusInvalid   ResetStatus = "invalid"
)

// ResetScreen is the reset screen's render state.
type ResetScreen struct {
	Status ResetStatus
	Error  string
}

// PasswordUpdater is the part of the provider the reset screen uses.
type PasswordUpdater interface {
	GetCurrentSession(ctx context.Context) (*identity.Session, error)
	UpdatePassword(ctx context.Context, newPassword string) error
}

// ResetController owns the reset form: the only write in the recovery flow.
type ResetController struct {
	machine   *Machine
	location  Location
	provider  PasswordUpdater
	minLength int

	mu     sync.Mutex
	screen ResetScreen
}

// NewResetController creates an unmounted controller.
func NewResetController(m *Machine, loc Location, p PasswordUpdater, minLength int) *ResetController {
	if minLength <= 0 {
		minLength = account.MinPasswordLength
	}
	return &ResetController{
		machine:   m,
		location:  loc,
		provider:  p,
		minLength: minLength,
		screen:    ResetScreen{Status: ResetStatusUnmounted},
	}
}

// Mount checks once whether the recovery link produced a recovery session.
// Without one the screen becomes a dead end offering only a way back to
// login; it is not retried. An ordinary session left on the device does not
// count.
// POST: Status is form or invalid
func (c *ResetController) Mount(ctx context.Context) ResetScreen {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen.Status != ResetStatusUnmounted {
		return c.screen
	}

	session, err := c.provider.GetCurrentSession(ctx)
	if err != nil {
		slog.Warn("reset_mount_session_failed", "error", err)
	}
	if session == nil || !session.Recovery {
		reason := "no_session"
		if session != nil {
			reason = "not_recovery"
		}
		c.screen = ResetScreen{Status: ResetStatusInvalid, Error: MessageRecoveryLinkInvalid}
		slog.Info("reset_screen", "status", ResetStatusInvalid, "reason", reason)
		return c.screen
	}
	c.screen.Status = ResetStatusForm
	return c.screen
}

// Unmount forgets the screen so the next entry into the reset view checks
// the session again.
func (c *ResetController) Unmount() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.screen = ResetScreen{Status: ResetStatusUnmounted}
}

// Screen returns the current render state.
func (c *ResetController) Screen() ResetScreen {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.screen
}

// Submit sets a new password.
// PRE: the reset view is showing
// POST: on success the location is scrubbed, then the view becomes Authenticated;
// on failure the view and location are unchanged
func (c *ResetController) Submit(ctx context.Context, newPassword, confirmPassword string) error {
	if err := account.ValidateNewPassword(newPassword, confirmPassword, c.minLength); err != nil {
		c.setError(err)
		return err
	}

	if screen := c.Mount(ctx); screen.Status == ResetStatusInvalid {
		return &ResetError{Kind: ResetInvalidLink, Err: ErrRecoveryLinkInvalid}
	}

	if err := c.provider.UpdatePassword(ctx, newPassword); err != nil {
		perr := &ResetError{Kind: ResetProvider, Err: err}
		c.setError(perr)
		slog.Info("auth_event", "event", "password_reset_failed", "error", err)
		return perr
	}

	c.location.Replace(recovery.Scrub(c.location.Href()))
	c.machine.ResetSucceeded()
	c.Unmount()

	slog.Info("auth_event", "event", "password_reset")
	return nil
}

func (c *ResetController) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.screen.Status == ResetStatusInvalid {
		return
	}
	c.screen.Error = err.Error()
}
