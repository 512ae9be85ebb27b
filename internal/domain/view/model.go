package view

// Kind identifies the screen the application shows.
type Kind string

const (
	KindLoading       Kind = "loading"
	KindRecoveryError Kind = "recovery_error"
	KindResetPassword Kind = "reset_password"
	KindAuthenticated Kind = "authenticated"
	KindRegistering   Kind = "registering"
	KindLogin         Kind = "login"
)

// String returns the string representation of the kind.
func (k Kind) String() string {
	return string(k)
}

// IsRecovery returns true for the screens that belong to a recovery visit.
func (k Kind) IsRecovery() bool {
	return k == KindResetPassword || k == KindRecoveryError
}

// Flags is the raw view state. Several flags may be set at once; Resolve
// picks the one screen that is shown.
type Flags struct {
	Loading         bool
	RecoveryError   bool
	RecoveryMessage string
	ResetPassword   bool
	Authenticated   bool
	Registering     bool
}

// Initial returns the state every page session starts in.
func Initial() Flags {
	return Flags{Loading: true}
}

// Resolve returns the screen to render, most specific first.
// INVARIANT: Flags are not mutated
func (f Flags) Resolve() Kind {
	switch {
	case f.Loading:
		return KindLoading
	case f.RecoveryError:
		return KindRecoveryError
	case f.ResetPassword:
		return KindResetPassword
	case f.Authenticated:
		return KindAuthenticated
	case f.Registering:
		return KindRegistering
	default:
		return KindLogin
	}
}

// InRecovery reports whether a recovery screen is active.
func (f Flags) InRecovery() bool {
	return f.ResetPassword || f.RecoveryError
}

// Message returns the text shown with the resolved screen.
func (f Flags) Message() string {
	if f.Resolve() == KindRecoveryError {
		return f.RecoveryMessage
	}
	return ""
}

// EnterRecovery shows the reset form and drops any dashboard access.
func (f Flags) EnterRecovery() Flags {
	f.ResetPassword = true
	f.Authenticated = false
	return f
}

// EnterRecoveryError shows the recovery-link error screen.
func (f Flags) EnterRecoveryError(message string) Flags {
	f.RecoveryError = true
	f.RecoveryMessage = message
	f.ResetPassword = false
	f.Authenticated = false
	return f
}

// SignedOut clears every screen flag so the login screen shows.
// Loading is owned by the bootstrapper and is left alone.
func (f Flags) SignedOut() Flags {
	return Flags{Loading: f.Loading}
}

// GoToRegister shows the registration screen.
func (f Flags) GoToRegister() Flags {
	f.Registering = true
	return f
}

// GoToLogin leaves registration and any recovery screen for the login screen.
func (f Flags) GoToLogin() Flags {
	f.Registering = false
	f.ResetPassword = false
	f.RecoveryError = false
	f.RecoveryMessage = ""
	return f
}

// LoginSucceeded shows the dashboard.
func (f Flags) LoginSucceeded() Flags {
	f.Authenticated = true
	return f
}

// RegistrationSucceeded leaves registration for the dashboard.
func (f Flags) RegistrationSucceeded() Flags {
	f.Registering = false
	f.Authenticated = true
	return f
}

// ResetSucceeded leaves the reset form for the dashboard.
func (f Flags) ResetSucceeded() Flags {
	f.ResetPassword = false
	f.Authenticated = true
	return f
}
