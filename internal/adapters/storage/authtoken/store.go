package authtoken

import (
	"context"
	"errors"
	"time"

	domain "absences/internal/domain/account"
)

// ErrNotFound is returned when no token matches.
var ErrNotFound = errors.New("auth token not found")

// Store persists one-time tokens. Tokens are looked up by hash; the
// plaintext is never stored.
type Store interface {
	Save(ctx context.Context, token domain.AuthToken) error
	GetByHash(ctx context.Context, kind domain.TokenKind, hash string) (domain.AuthToken, error)
	// Redeem marks an unused token as used. It returns ErrNotFound if the
	// token was already used, so concurrent redemptions cannot both succeed.
	Redeem(ctx context.Context, id string) error
	LatestForAccount(ctx context.Context, accountID string, kind domain.TokenKind) (domain.AuthToken, error)
	InvalidateForAccount(ctx context.Context, accountID string, kind domain.TokenKind) error
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
