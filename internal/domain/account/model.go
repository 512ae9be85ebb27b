package account

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// Max length constants for user-editable fields.
const (
	MaxEmailLength = 254
)

// MinPasswordLength is the shortest password the application accepts.
const MinPasswordLength = 6

// BcryptCost is the hashing cost for new passwords. Tests lower this.
var BcryptCost = 12

// Role constants
const (
	RoleAdmin   = "admin"
	RoleTeacher = "teacher"
)

// Lockout policy
const (
	MaxFailedLogins = 5
	LockoutDuration = 15 * time.Minute
)

// ValidRoles contains all valid role values.
var ValidRoles = []string{RoleAdmin, RoleTeacher}

// Domain errors
var (
	ErrInvalidEmail     = errors.New("email must contain '@'")
	ErrEmptyEmail       = errors.New("email cannot be empty")
	ErrEmailTooLong     = errors.New("email cannot exceed 254 characters")
	ErrInvalidRole      = errors.New("role must be one of: admin, teacher")
	ErrEmptyPassword    = errors.New("password cannot be empty")
	ErrPasswordTooShort = errors.New("password is too short")
	ErrPasswordMismatch = errors.New("passwords do not match")
	ErrWrongPassword    = errors.New("incorrect password")
)

// Account holds state for the Account concept.
type Account struct {
	ID           string
	Email        string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
	FailedLogins int
	LockedUntil  time.Time
}

// TokenKind separates emailed recovery links from the credentials they
// are traded for.
type TokenKind string

const (
	TokenRecoveryLink  TokenKind = "recovery_link"
	TokenExchangeCode  TokenKind = "exchange_code"
	TokenRecoveryGrant TokenKind = "recovery_grant" // jti of a fragment access token
)

// AuthToken is a one-time, time-limited credential. Only a hash of the
// token is ever stored.
type AuthToken struct {
	ID        string
	AccountID string
	Kind      TokenKind
	Hash      string
	ExpiresAt time.Time
	Used      bool
	CreatedAt time.Time
}

// DeviceSession is the session a browser device holds, shared by all of its tabs.
type DeviceSession struct {
	DeviceID    string
	AccountID   string
	Email       string
	AccessToken string
	ExpiresAt   time.Time
	Recovery    bool
	UpdatedAt   time.Time
}

// Validate checks if the Account has valid data.
// PRE: Account struct is populated
// POST: Returns nil if valid, error otherwise
func (a *Account) Validate() error {
	if strings.TrimSpace(a.Email) == "" {
		return ErrEmptyEmail
	}
	if len(a.Email) > MaxEmailLength {
		return ErrEmailTooLong
	}
	if !strings.Contains(a.Email, "@") {
		return ErrInvalidEmail
	}
	if !isValidRole(a.Role) {
		return ErrInvalidRole
	}
	return nil
}

// NormalizeEmail trims and lower-cases an email address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// ValidateNewPassword checks a new password and its confirmation before any
// remote call is made.
// PRE: minLength > 0
// POST: Returns ErrPasswordMismatch, ErrPasswordTooShort (wrapped) or nil
func ValidateNewPassword(password, confirm string, minLength int) error {
	if password != confirm {
		return ErrPasswordMismatch
	}
	if len(password) < minLength {
		return &TooShortError{Min: minLength}
	}
	return nil
}

// TooShortError reports the minimum a password failed to reach.
type TooShortError struct {
	Min int
}

func (e *TooShortError) Error() string {
	return fmt.Sprintf("password must be at least %d characters", e.Min)
}

// Is makes errors.Is(err, ErrPasswordTooShort) hold.
func (e *TooShortError) Is(target error) bool {
	return target == ErrPasswordTooShort
}

// SetPassword hashes and stores a password using bcrypt.
// PRE: plaintext is non-empty and >= MinPasswordLength characters
// POST: PasswordHash is set to bcrypt hash
func (a *Account) SetPassword(plaintext string) error {
	if plaintext == "" {
		return ErrEmptyPassword
	}
	if len(plaintext) < MinPasswordLength {
		return &TooShortError{Min: MinPasswordLength}
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(plaintext), BcryptCost)
	if err != nil {
		return err
	}
	a.PasswordHash = string(hash)
	return nil
}

// CheckPassword verifies a plaintext password against the stored hash.
// PRE: PasswordHash is set
// INVARIANT: Account fields are not mutated
func (a *Account) CheckPassword(plaintext string) error {
	if a.PasswordHash == "" {
		return ErrWrongPassword
	}
	err := bcrypt.CompareHashAndPassword([]byte(a.PasswordHash), []byte(plaintext))
	if err != nil {
		return ErrWrongPassword
	}
	return nil
}

// IsLocked returns true if the account is currently locked out.
// INVARIANT: Account fields are not mutated
func (a *Account) IsLocked(now time.Time) bool {
	if a.LockedUntil.IsZero() {
		return false
	}
	return now.Before(a.LockedUntil)
}

// RecordFailedLogin increments the failed login counter and locks the account
// after MaxFailedLogins failures.
// PRE: Account exists
// POST: FailedLogins incremented; LockedUntil set if >= MaxFailedLogins failures
func (a *Account) RecordFailedLogin(now time.Time) {
	a.FailedLogins++
	if a.FailedLogins >= MaxFailedLogins {
		a.LockedUntil = now.Add(LockoutDuration)
	}
}

// ResetFailedLogins clears the failed login counter and lock.
// PRE: Account exists
// POST: FailedLogins is 0, LockedUntil is zero
func (a *Account) ResetFailedLogins() {
	a.FailedLogins = 0
	a.LockedUntil = time.Time{}
}

// IsAdmin returns true if the account has admin role.
// INVARIANT: Account fields are not mutated
func (a *Account) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// IsExpired returns true if the token has expired.
// INVARIANT: Token fields are not mutated
func (t *AuthToken) IsExpired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// IsRedeemable returns true if the token is unused and unexpired.
// INVARIANT: Token fields are not mutated
func (t *AuthToken) IsRedeemable(now time.Time) bool {
	return !t.Used && !t.IsExpired(now)
}

// Invalidate marks the token as used.
// PRE: Token exists
// POST: Used is set to true
func (t *AuthToken) Invalidate() {
	t.Used = true
}

func isValidRole(role string) bool {
	for _, r := range ValidRoles {
		if r == role {
			return true
		}
	}
	return false
}
