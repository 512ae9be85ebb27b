package devicesession

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"absences/internal/adapters/storage"
	accountStore "absences/internal/adapters/storage/account"
	domain "absences/internal/domain/account"
)

var base = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

func openStoreDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "absences.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := storage.MigrateDB(context.Background(), db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	accounts := accountStore.NewSQLiteStore(db)
	for _, id := range []string{"a1", "a2"} {
		acct := domain.Account{ID: id, Email: id + "@school.test", PasswordHash: "h", Role: domain.RoleTeacher, CreatedAt: base}
		if err := accounts.Save(context.Background(), acct); err != nil {
			t.Fatalf("seed account: %v", err)
		}
	}
	return db
}

func session(device, accountID string) domain.DeviceSession {
	return domain.DeviceSession{
		DeviceID:    device,
		AccountID:   accountID,
		Email:       accountID + "@school.test",
		AccessToken: "jwt-" + device,
		ExpiresAt:   base.Add(time.Hour),
		UpdatedAt:   base,
	}
}

// TestSQLiteStore_SaveReplaces verifies one session per device.
func TestSQLiteStore_SaveReplaces(t *testing.T) {
	store := NewSQLiteStore(openStoreDB(t))
	ctx := context.Background()

	first := session("d1", "a1")
	first.Recovery = true
	if err := store.Save(ctx, first); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := store.Get(ctx, "d1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !got.Recovery || got.AccessToken != "jwt-d1" || !got.ExpiresAt.Equal(base.Add(time.Hour)) {
		t.Errorf("unexpected session %+v", got)
	}

	if err := store.Save(ctx, session("d1", "a2")); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, _ = store.Get(ctx, "d1")
	if got.AccountID != "a2" || got.Recovery {
		t.Errorf("session not replaced: %+v", got)
	}
}

// TestSQLiteStore_Delete verifies removal and the not-found sentinel.
func TestSQLiteStore_Delete(t *testing.T) {
	store := NewSQLiteStore(openStoreDB(t))
	ctx := context.Background()
	store.Save(ctx, session("d1", "a1"))

	if err := store.Delete(ctx, "d1"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := store.Delete(ctx, "d1"); err != nil {
		t.Fatalf("second Delete: %v", err)
	}
	if _, err := store.Get(ctx, "d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}

// TestSQLiteStore_DeleteForAccount verifies every device of one account is signed out.
func TestSQLiteStore_DeleteForAccount(t *testing.T) {
	store := NewSQLiteStore(openStoreDB(t))
	ctx := context.Background()
	store.Save(ctx, session("d1", "a1"))
	store.Save(ctx, session("d2", "a1"))
	store.Save(ctx, session("d3", "a2"))

	devices, err := store.DeleteForAccount(ctx, "a1")
	if err != nil {
		t.Fatalf("DeleteForAccount: %v", err)
	}
	sort.Strings(devices)
	if len(devices) != 2 || devices[0] != "d1" || devices[1] != "d2" {
		t.Errorf("devices = %v, want [d1 d2]", devices)
	}
	if _, err := store.Get(ctx, "d3"); err != nil {
		t.Errorf("other account's device removed: %v", err)
	}
}
