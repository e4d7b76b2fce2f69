package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/sqlward/sqlward/pkg/engine"
)

func TestNew_Defaults(t *testing.T) {
	a, err := New(engine.Target{Name: "prod", Engine: engine.Postgres, URI: "postgres://localhost/flipr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := a.Target().Registry; got != DefaultRegistry {
		t.Errorf("Registry = %q, want %q", got, DefaultRegistry)
	}
	if got := a.Target().LockTimeout; got != engine.DefaultLockTimeout {
		t.Errorf("LockTimeout = %v, want %v", got, engine.DefaultLockTimeout)
	}
}

func TestNew_RequiresURI(t *testing.T) {
	if _, err := New(engine.Target{Name: "prod", Engine: engine.Postgres}); err == nil {
		t.Fatal("expected error for empty URI")
	}
}

func TestRebind(t *testing.T) {
	a, err := New(engine.Target{Name: "prod", Engine: engine.Postgres, URI: "postgres://localhost/flipr"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tests := []struct {
		in   string
		want string
	}{
		{
			"INSERT INTO changes (change_id, change) VALUES (?, ?)",
			"INSERT INTO changes (change_id, change) VALUES ($1, $2)",
		},
		{
			"SELECT 1 WHERE note = 'what?' AND change = ?",
			"SELECT 1 WHERE note = 'what?' AND change = $1",
		},
		{
			`SELECT "odd?col" FROM t WHERE a = ? AND b = ?`,
			`SELECT "odd?col" FROM t WHERE a = $1 AND b = $2`,
		},
		{"SELECT 1", "SELECT 1"},
	}
	for _, tt := range tests {
		if got := a.Rebind(tt.in); got != tt.want {
			t.Errorf("Rebind(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

type lockRow struct {
	got bool
	err error
}

func (r lockRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*bool)) = r.got
	return nil
}

// lockQuerier grants the advisory lock after a fixed number of denials.
type lockQuerier struct {
	denials int
	calls   int
}

func (q *lockQuerier) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	q.calls++
	return lockRow{got: q.calls > q.denials}
}

func TestWaitForLock_GrantedAfterRetry(t *testing.T) {
	q := &lockQuerier{denials: 2}
	if err := waitForLock(context.Background(), q, 42, "prod", 2*time.Second); err != nil {
		t.Fatalf("waitForLock: %v", err)
	}
	if q.calls != 3 {
		t.Errorf("calls = %d, want 3", q.calls)
	}
}

func TestWaitForLock_Timeout(t *testing.T) {
	q := &lockQuerier{denials: 1 << 30}
	err := waitForLock(context.Background(), q, 42, "prod", 50*time.Millisecond)
	if !engine.IsLockHeld(err) {
		t.Fatalf("waitForLock error = %v, want lock held", err)
	}
}

func TestWaitForLock_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	q := &lockQuerier{denials: 1 << 30}
	err := waitForLock(ctx, q, 42, "prod", time.Minute)
	if err != context.Canceled {
		t.Fatalf("waitForLock error = %v, want context.Canceled", err)
	}
}

func TestLockKey_StablePerRegistry(t *testing.T) {
	if lockKey("sqlward") != lockKey("sqlward") {
		t.Error("lock key not stable")
	}
	if lockKey("sqlward") == lockKey("other") {
		t.Error("distinct registries share a lock key")
	}
}
