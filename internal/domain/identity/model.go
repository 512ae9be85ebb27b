package identity

import (
	"errors"
	"fmt"
	"time"
)

// EventKind names an auth state change emitted by the identity provider.
type EventKind string

const (
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventUserUpdated      EventKind = "USER_UPDATED"
	EventInitialSession   EventKind = "INITIAL_SESSION"
)

// DeliveryMode is how recovery credentials reach the page.
type DeliveryMode string

const (
	// DeliveryImplicit puts an access token in the URL fragment.
	DeliveryImplicit DeliveryMode = "implicit"
	// DeliveryPKCE puts a one-time exchange code in the query string.
	DeliveryPKCE DeliveryMode = "pkce"
)

// ParseDeliveryMode validates a configured delivery mode.
func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case DeliveryImplicit, DeliveryPKCE:
		return DeliveryMode(s), nil
	}
	return "", fmt.Errorf("unknown delivery mode %q (want implicit or pkce)", s)
}

// Session is an authenticated session as seen by the application. Only
// UserID is meant to be consumed outside the identity adapter.
type Session struct {
	UserID      string
	Email       string
	AccessToken string
	ExpiresAt   time.Time

	// Recovery is true while the session was established by a recovery
	// link and the password has not been updated yet.
	Recovery bool
}

// IsExpired returns true if the access token has expired.
// INVARIANT: Session fields are not mutated
func (s *Session) IsExpired(now time.Time) bool {
	return !now.Before(s.ExpiresAt)
}

// Event is one notification from the identity provider. Session is nil when
// the event carries no session.
type Event struct {
	Kind    EventKind
	Session *Session
}

// HasSession reports whether the event carries session presence.
func (e Event) HasSession() bool {
	return e.Session != nil
}

// User identifies an account.
type User struct {
	ID    string
	Email string
}

// SignUpResult is returned by sign-up. Session is nil when the account
// needs confirmation before it can sign in.
type SignUpResult struct {
	User    User
	Session *Session
}

// Provider errors. Their messages mirror what hosted identity services
// return so that screens can surface them verbatim.
var (
	ErrInvalidCredentials = errors.New("Invalid login credentials")
	ErrEmailNotConfirmed  = errors.New("Email not confirmed")
	ErrUserExists         = errors.New("User already registered")
	ErrWeakPassword       = errors.New("Password should be at least 6 characters.")
	ErrSamePassword       = errors.New("New password should be different from the old password.")
	ErrSessionMissing     = errors.New("Auth session missing!")
	ErrRateLimited        = errors.New("email rate limit exceeded")
	ErrAccountLocked      = errors.New("Too many failed attempts. Try again later.")
	ErrInvalidEmail       = errors.New("Unable to validate email address: invalid format")
	ErrRedirectNotAllowed = errors.New("redirect target is not allowed")
	ErrLinkInvalid        = errors.New("Email link is invalid or has expired")
)

// RedirectOptions carries where an emailed link should send the user back to.
type RedirectOptions struct {
	RedirectTo string
}
