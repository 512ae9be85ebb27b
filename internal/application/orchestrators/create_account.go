package orchestrators

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"absences/internal/domain/account"

	"github.com/google/uuid"
)

// AccountStoreForCreate defines the store interface needed by CreateAccount.
type AccountStoreForCreate interface {
	GetByEmail(ctx context.Context, email string) (account.Account, error)
	Save(ctx context.Context, a account.Account) error
	Count(ctx context.Context) (int, error)
}

// CreateAccountInput carries input for the orchestrator.
type CreateAccountInput struct {
	Email    string
	Password string
	Role     string
}

// CreateAccountDeps holds dependencies for CreateAccount.
type CreateAccountDeps struct {
	AccountStore AccountStoreForCreate
	Now          func() time.Time
}

var ErrEmailAlreadyExists = errors.New("an account with this email already exists")

// ExecuteCreateAccount creates an account directly in the store, bypassing
// the identity provider. Used by the admin CLI and the startup seed.
// PRE: Valid email, password >= MinPasswordLength chars, valid role
// POST: Account created with hashed password
// INVARIANT: Email must be unique
func ExecuteCreateAccount(ctx context.Context, input CreateAccountInput, deps CreateAccountDeps) (string, error) {
	email := account.NormalizeEmail(input.Email)
	if email == "" {
		return "", account.ErrEmptyEmail
	}
	if input.Password == "" {
		return "", account.ErrEmptyPassword
	}
	if input.Role == "" {
		input.Role = account.RoleTeacher
	}

	if _, err := deps.AccountStore.GetByEmail(ctx, email); err == nil {
		return "", ErrEmailAlreadyExists
	}

	now := time.Now
	if deps.Now != nil {
		now = deps.Now
	}
	acct := account.Account{
		ID:        uuid.New().String(),
		Email:     email,
		Role:      input.Role,
		CreatedAt: now(),
	}

	if err := acct.Validate(); err != nil {
		return "", err
	}
	if err := acct.SetPassword(input.Password); err != nil {
		return "", err
	}
	if err := deps.AccountStore.Save(ctx, acct); err != nil {
		return "", err
	}

	slog.Info("auth_event", "event", "account_created", "email", email, "role", input.Role)
	return acct.ID, nil
}

// ExecuteSeedAdmin creates a default admin account if no accounts exist.
// PRE: Database is migrated
// POST: Admin account created if count == 0
func ExecuteSeedAdmin(ctx context.Context, deps CreateAccountDeps, email, password string) error {
	count, err := deps.AccountStore.Count(ctx)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}

	if _, err := ExecuteCreateAccount(ctx, CreateAccountInput{
		Email:    email,
		Password: password,
		Role:     account.RoleAdmin,
	}, deps); err != nil {
		return err
	}

	slog.Info("auth_event", "event", "admin_seeded", "email", email)
	return nil
}
