package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"absences/internal/domain/identity"
)

// SessionProviderForForgotPassword defines the provider interface needed by ForgotPassword.
type SessionProviderForForgotPassword interface {
	RequestPasswordReset(ctx context.Context, email string, opts identity.RedirectOptions) error
}

// ForgotPasswordInput carries input for the forgot-password orchestrator.
type ForgotPasswordInput struct {
	Email string
}

// ForgotPasswordDeps holds dependencies for ForgotPassword.
type ForgotPasswordDeps struct {
	Provider   SessionProviderForForgotPassword
	RedirectTo string
}

var (
	ErrResetRateLimited = errors.New("Too many requests in a short time. Wait a few minutes.")
	ErrResetNotSent     = errors.New("Could not send the email. Check the address you entered.")
)

// ExecuteForgotPassword asks the provider to email a recovery link.
// PRE: RedirectTo is the page the link should land on
// POST: Returns nil once the request is accepted, whether or not the
// address belongs to an account
func ExecuteForgotPassword(ctx context.Context, input ForgotPasswordInput, deps ForgotPasswordDeps) error {
	email := strings.TrimSpace(input.Email)
	if email == "" {
		return ErrResetNotSent
	}

	err := deps.Provider.RequestPasswordReset(ctx, email, identity.RedirectOptions{RedirectTo: deps.RedirectTo})
	if err == nil {
		slog.Info("auth_event", "event", "password_reset_requested", "email", email)
		return nil
	}

	slog.Info("auth_event", "event", "password_reset_request_failed", "email", email, "error", err)
	switch {
	case strings.Contains(err.Error(), "rate limit"):
		return ErrResetRateLimited
	case err.Error() != "":
		return err
	default:
		return ErrResetNotSent
	}
}
