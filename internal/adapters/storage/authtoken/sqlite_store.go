package authtoken

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"absences/internal/adapters/storage"
	domain "absences/internal/domain/account"
)

const tokenColumns = "id, account_id, kind, hash, expires_at, used, created_at"

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db storage.SQLDB
}

// NewSQLiteStore creates a new token store.
func NewSQLiteStore(db storage.SQLDB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

// Save inserts a token.
// PRE: token.Hash is a hash, never a plaintext token
// POST: Token is persisted
func (s *SQLiteStore) Save(ctx context.Context, token domain.AuthToken) error {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO auth_token ("+tokenColumns+") VALUES (?, ?, ?, ?, ?, ?, ?)",
		token.ID,
		token.AccountID,
		string(token.Kind),
		token.Hash,
		token.ExpiresAt.UTC().Format(storage.TimeFormat),
		token.Used,
		token.CreatedAt.UTC().Format(storage.TimeFormat),
	)
	return err
}

// GetByHash retrieves a token of the given kind by its hash.
// POST: Returns the token or ErrNotFound
func (s *SQLiteStore) GetByHash(ctx context.Context, kind domain.TokenKind, hash string) (domain.AuthToken, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM auth_token WHERE kind = ? AND hash = ?", string(kind), hash)
	return scanOne(row)
}

// Redeem marks an unused token as used.
// POST: Returns ErrNotFound unless this call flipped the token to used
func (s *SQLiteStore) Redeem(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE auth_token SET used = 1 WHERE id = ? AND used = 0", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// LatestForAccount returns the most recently issued token of a kind.
// POST: Returns the token or ErrNotFound
func (s *SQLiteStore) LatestForAccount(ctx context.Context, accountID string, kind domain.TokenKind) (domain.AuthToken, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM auth_token WHERE account_id = ? AND kind = ? ORDER BY created_at DESC LIMIT 1",
		accountID, string(kind))
	return scanOne(row)
}

// InvalidateForAccount marks every token of a kind for the account as used.
// POST: No token of that kind can be redeemed for the account
func (s *SQLiteStore) InvalidateForAccount(ctx context.Context, accountID string, kind domain.TokenKind) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE auth_token SET used = 1 WHERE account_id = ? AND kind = ?", accountID, string(kind))
	return err
}

// DeleteExpired removes tokens that expired before now.
func (s *SQLiteStore) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"DELETE FROM auth_token WHERE expires_at < ?", now.UTC().Format(storage.TimeFormat))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func scanOne(row *sql.Row) (domain.AuthToken, error) {
	var token domain.AuthToken
	var kind, expiresAt, createdAt string
	err := row.Scan(&token.ID, &token.AccountID, &kind, &token.Hash, &expiresAt, &token.Used, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.AuthToken{}, ErrNotFound
	}
	if err != nil {
		return domain.AuthToken{}, err
	}
	token.Kind = domain.TokenKind(kind)
	token.ExpiresAt, _ = storage.ParseTime(expiresAt)
	token.CreatedAt, _ = storage.ParseTime(createdAt)
	return token, nil
}
