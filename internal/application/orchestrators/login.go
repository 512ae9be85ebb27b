package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"absences/internal/domain/identity"
)

// SessionProviderForLogin defines the provider interface needed by Login.
type SessionProviderForLogin interface {
	GetCurrentSession(ctx context.Context) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignOut(ctx context.Context) error
}

// LoginInput carries input for the login orchestrator.
type LoginInput struct {
	Email    string
	Password string
}

// LoginDeps holds dependencies for Login.
type LoginDeps struct {
	Provider SessionProviderForLogin
}

var (
	ErrInvalidCredentials = errors.New("Invalid email or password. Check your credentials.")
	ErrEmailNotConfirmed  = errors.New("Please confirm your email before signing in. Check your inbox (and spam).")
	ErrNoSession          = errors.New("Could not create a session. Please check that your email was confirmed.")
	ErrMissingCredentials = errors.New("Email and password are required.")
)

// ExecuteLogin signs the page session in with email and password.
// PRE: Email and password provided
// POST: Returns the new session; any earlier session on the device is gone
// INVARIANT: Provider failures other than bad credentials and unconfirmed
// email are returned unchanged
func ExecuteLogin(ctx context.Context, input LoginInput, deps LoginDeps) (*identity.Session, error) {
	email := strings.TrimSpace(input.Email)
	if email == "" || input.Password == "" {
		return nil, ErrMissingCredentials
	}

	// A stale session must not survive a login as someone else
	current, err := deps.Provider.GetCurrentSession(ctx)
	if err != nil {
		slog.Warn("login_session_check_failed", "error", err)
	}
	if current != nil {
		if err := deps.Provider.SignOut(ctx); err != nil {
			slog.Warn("login_stale_signout_failed", "error", err)
		}
	}

	session, err := deps.Provider.SignInWithPassword(ctx, email, input.Password)
	if err != nil {
		switch {
		case providerSays(err, identity.ErrInvalidCredentials):
			slog.Info("auth_event", "event", "login_failed", "email", email, "reason", "invalid_credentials")
			return nil, ErrInvalidCredentials
		case providerSays(err, identity.ErrEmailNotConfirmed) || strings.Contains(err.Error(), "email_not_confirmed"):
			slog.Info("auth_event", "event", "login_blocked", "email", email, "reason", "email_not_confirmed")
			return nil, ErrEmailNotConfirmed
		default:
			slog.Info("auth_event", "event", "login_failed", "email", email, "reason", err.Error())
			return nil, err
		}
	}
	if session == nil {
		slog.Info("auth_event", "event", "login_failed", "email", email, "reason", "no_session")
		return nil, ErrNoSession
	}

	slog.Info("auth_event", "event", "login_success", "email", email)
	return session, nil
}

// providerSays reports whether err is, or reads like, the provider error target.
func providerSays(err, target error) bool {
	return errors.Is(err, target) || strings.Contains(err.Error(), target.Error())
}
