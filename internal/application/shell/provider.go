package shell

import (
	"context"

	"absences/internal/domain/identity"
)

// Provider is the identity collaborator a page session is built on. Every
// App is handed its own Provider at construction.
type Provider interface {
	GetCurrentSession(ctx context.Context) (*identity.Session, error)
	SignInWithPassword(ctx context.Context, email, password string) (*identity.Session, error)
	SignUpWithPassword(ctx context.Context, email, password string, opts identity.RedirectOptions) (identity.SignUpResult, error)
	RequestPasswordReset(ctx context.Context, email string, opts identity.RedirectOptions) error
	UpdatePassword(ctx context.Context, newPassword string) error
	SignOut(ctx context.Context) error
	SubscribeToAuthEvents(handler func(identity.Event)) (unsubscribe func(), err error)
}

// URLDetector is implemented by providers that process credentials found
// in the page location on their own, concurrently with the bootstrapper.
type URLDetector interface {
	DetectSessionInURL(ctx context.Context, location string) error
}
