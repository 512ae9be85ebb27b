package storage

import (
	"context"
	"database/sql"
	"sync/atomic"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTimedTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("CREATE TABLE test (id TEXT PRIMARY KEY, val TEXT)"); err != nil {
		t.Fatalf("create table: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// countingObserver counts observed queries.
type countingObserver struct {
	n atomic.Int64
}

func (c *countingObserver) observe(string, time.Duration) { c.n.Add(1) }

// TestTimedDB_ObservesEveryCall verifies each wrapped call is observed once.
func TestTimedDB_ObservesEveryCall(t *testing.T) {
	obs := &countingObserver{}
	tdb := NewTimedDB(openTimedTestDB(t), 0, obs.observe)
	ctx := context.Background()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err != nil {
		t.Fatalf("ExecContext: %v", err)
	}
	rows, err := tdb.QueryContext(ctx, "SELECT id, val FROM test")
	if err != nil {
		t.Fatalf("QueryContext: %v", err)
	}
	rows.Close()

	var val string
	if err := tdb.QueryRowContext(ctx, "SELECT val FROM test WHERE id = ?", "1").Scan(&val); err != nil {
		t.Fatalf("QueryRowContext: %v", err)
	}
	if val != "hello" {
		t.Errorf("val = %q, want hello", val)
	}

	tx, err := tdb.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("BeginTx: %v", err)
	}
	tx.Rollback()

	if got := obs.n.Load(); got != 4 {
		t.Errorf("observed = %d, want 4", got)
	}
}

// TestTimedDB_ErrorPassthrough verifies SQL errors are returned unchanged and still observed.
func TestTimedDB_ErrorPassthrough(t *testing.T) {
	obs := &countingObserver{}
	tdb := NewTimedDB(openTimedTestDB(t), 0, obs.observe)

	if _, err := tdb.ExecContext(context.Background(), "INSERT INTO nonexistent_table VALUES (?)", 1); err == nil {
		t.Fatal("expected error from invalid SQL, got nil")
	}
	var val string
	err := tdb.QueryRowContext(context.Background(), "SELECT val FROM test WHERE id = ?", "missing").Scan(&val)
	if err != sql.ErrNoRows {
		t.Errorf("expected sql.ErrNoRows, got %v", err)
	}
	if got := obs.n.Load(); got != 2 {
		t.Errorf("observed = %d, want 2", got)
	}
}

// TestTimedDB_CancelledContext verifies a cancelled context fails the call.
func TestTimedDB_CancelledContext(t *testing.T) {
	tdb := NewTimedDB(openTimedTestDB(t), 0, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := tdb.ExecContext(ctx, "INSERT INTO test (id, val) VALUES (?, ?)", "1", "hello"); err == nil {
		t.Fatal("expected error from cancelled context, got nil")
	}
}

// TestTimedDB_RawDB verifies RawDB returns the original *sql.DB.
func TestTimedDB_RawDB(t *testing.T) {
	db := openTimedTestDB(t)
	tdb := NewTimedDB(db, time.Second, nil)
	if tdb.RawDB() != db {
		t.Error("RawDB() should return the original *sql.DB")
	}
	if tdb.threshold != time.Second {
		t.Errorf("threshold = %v, want 1s", tdb.threshold)
	}
	if NewTimedDB(db, 0, nil).threshold != DefaultSlowQuery {
		t.Error("zero threshold should fall back to DefaultSlowQuery")
	}
}

// BenchmarkTimedDB_OverheadIsolation compares TimedDB against raw *sql.DB for the same query.
func BenchmarkTimedDB_OverheadIsolation(b *testing.B) {
	db, _ := sql.Open("sqlite", ":memory:")
	defer db.Close()
	db.SetMaxOpenConns(1)
	db.Exec("CREATE TABLE bench (id INTEGER PRIMARY KEY, val TEXT)")
	db.Exec("INSERT INTO bench VALUES (1, 'x')")
	ctx := context.Background()

	b.Run("RawDB", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			db.QueryRowContext(ctx, "SELECT val FROM bench WHERE id = 1")
		}
	})

	tdb := NewTimedDB(db, 0, nil)
	b.Run("TimedDB", func(b *testing.B) {
		b.ReportAllocs()
		for i := 0; i < b.N; i++ {
			tdb.QueryRowContext(ctx, "SELECT val FROM bench WHERE id = 1")
		}
	})
}
