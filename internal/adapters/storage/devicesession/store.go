package devicesession

import (
	"context"
	"errors"

	domain "absences/internal/domain/account"
)

// ErrNotFound is returned when the device holds no session.
var ErrNotFound = errors.New("device session not found")

// Store persists the session each browser device holds.
type Store interface {
	Get(ctx context.Context, deviceID string) (domain.DeviceSession, error)
	Save(ctx context.Context, session domain.DeviceSession) error
	Delete(ctx context.Context, deviceID string) error
	DeleteForAccount(ctx context.Context, accountID string) ([]string, error)
}
