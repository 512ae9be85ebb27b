package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"absences/internal/domain/account"
	"absences/internal/domain/identity"
)

// SessionProviderForRegister defines the provider interface needed by Register.
type SessionProviderForRegister interface {
	SignUpWithPassword(ctx context.Context, email, password string, opts identity.RedirectOptions) (identity.SignUpResult, error)
}

// RegisterInput carries input for the register orchestrator.
type RegisterInput struct {
	Email           string
	Password        string
	ConfirmPassword string
}

// RegisterDeps holds dependencies for Register.
type RegisterDeps struct {
	Provider          SessionProviderForRegister
	RedirectTo        string
	MinPasswordLength int
}

var (
	ErrRegisterRateLimited = errors.New("Too many attempts. Please wait a few minutes before trying again.")
	ErrEmailTaken          = errors.New("This email is already registered. Sign in or use another email.")
	// ErrConfirmationPending is not a failure: the account exists but has to
	// be confirmed by email before it can sign in.
	ErrConfirmationPending = errors.New("Account created! Please check your email to confirm your registration before signing in.")
)

// ExecuteRegister creates an account through the identity provider.
// PRE: Passwords match and meet the minimum length
// POST: Returns a session when the account can be used straight away
func ExecuteRegister(ctx context.Context, input RegisterInput, deps RegisterDeps) (*identity.Session, error) {
	minLength := deps.MinPasswordLength
	if minLength <= 0 {
		minLength = account.MinPasswordLength
	}
	if err := account.ValidateNewPassword(input.Password, input.ConfirmPassword, minLength); err != nil {
		return nil, err
	}

	email := strings.TrimSpace(input.Email)
	result, err := deps.Provider.SignUpWithPassword(ctx, email, input.Password, identity.RedirectOptions{RedirectTo: deps.RedirectTo})
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "rate limit"):
			slog.Info("auth_event", "event", "register_failed", "email", email, "reason", "rate_limited")
			return nil, ErrRegisterRateLimited
		case providerSays(err, identity.ErrUserExists):
			slog.Info("auth_event", "event", "register_failed", "email", email, "reason", "exists")
			return nil, ErrEmailTaken
		default:
			slog.Info("auth_event", "event", "register_failed", "email", email, "reason", err.Error())
			return nil, err
		}
	}

	if result.Session == nil {
		slog.Info("auth_event", "event", "account_registered", "email", email, "confirmed", false)
		return nil, ErrConfirmationPending
	}

	slog.Info("auth_event", "event", "account_registered", "email", email, "confirmed", true)
	return result.Session, nil
}
