package devicesession

import (
	"context"
	"database/sql"
	"errors"

	"absences/internal/adapters/storage"
	domain "absences/internal/domain/account"
)

const sessionColumns = "device_id, account_id, email, access_token, expires_at, recovery, updated_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new device session store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Get retrieves the session held by a device.
// POST: Returns the session or ErrNotFound
func (s *SQLiteStore) Get(ctx context.Context, deviceID string) (domain.DeviceSession, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+sessionColumns+" FROM device_session WHERE device_id = ?", deviceID)

	var ds domain.DeviceSession
	var expiresAt, updatedAt string
	err := row.Scan(&ds.DeviceID, &ds.AccountID, &ds.Email, &ds.AccessToken, &expiresAt, &ds.Recovery, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.DeviceSession{}, ErrNotFound
	}
	if err != nil {
		return domain.DeviceSession{}, err
	}
	ds.ExpiresAt, _ = storage.ParseTime(expiresAt)
	ds.UpdatedAt, _ = storage.ParseTime(updatedAt)
	return ds, nil
}

// Save stores the session for a device, replacing any previous one.
// PRE: DeviceID and AccountID are non-empty
// POST: The device holds exactly this session
func (s *SQLiteStore) Save(ctx context.Context, ds domain.DeviceSession) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO device_session ("+sessionColumns+") VALUES (?, ?, ?, ?, ?, ?, ?) "+
			"ON CONFLICT(device_id) DO UPDATE SET account_id=excluded.account_id, email=excluded.email, "+
			"access_token=excluded.access_token, expires_at=excluded.expires_at, recovery=excluded.recovery, "+
			"updated_at=excluded.updated_at",
		ds.DeviceID,
		ds.AccountID,
		ds.Email,
		ds.AccessToken,
		ds.ExpiresAt.UTC().Format(storage.TimeFormat),
		ds.Recovery,
		ds.UpdatedAt.UTC().Format(storage.TimeFormat),
	)
	return err
}

// Delete drops the session held by a device. Deleting a missing session is not an error.
func (s *SQLiteStore) Delete(ctx context.Context, deviceID string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM device_session WHERE device_id = ?", deviceID)
	return err
}

// DeleteForAccount drops every device session of an account and returns the
// affected device ids.
// POST: No device holds a session for accountID
func (s *SQLiteStore) DeleteForAccount(ctx context.Context, accountID string) ([]string, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, "SELECT device_id FROM device_session WHERE account_id = ?", accountID)
	if err != nil {
		return nil, err
	}
	var devices []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		devices = append(devices, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM device_session WHERE account_id = ?", accountID); err != nil {
		return nil, err
	}
	return devices, tx.Commit()
}
