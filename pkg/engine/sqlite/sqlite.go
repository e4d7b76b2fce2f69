// Package sqlite implements the engine adapter for SQLite databases
// using the pure-Go modernc.org driver.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"

	// SQLite driver
	_ "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/sqlward/sqlward/pkg/engine"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// minVersion is the oldest SQLite release the adapter accepts. Older
// builds lack the WITHOUT ROWID and partial-index behavior the registry
// relies on.
var minVersion = [3]int{3, 8, 6}

const lockName = "sqlward"

func init() {
	engine.Register(engine.SQLite, func(t engine.Target) (engine.Adapter, error) {
		return New(t)
	})
}

// Adapter is the SQLite engine adapter. One Adapter owns one database
// handle for the duration of a run.
type Adapter struct {
	target    engine.Target
	db        *sql.DB
	lockOwner string
}

// New validates the target and returns an unconnected adapter.
func New(target engine.Target) (*Adapter, error) {
	if target.URI == "" {
		return nil, fmt.Errorf("sqlite: target %q has no database path", target.Name)
	}
	if target.LockTimeout == 0 {
		target.LockTimeout = engine.DefaultLockTimeout
	}
	return &Adapter{target: target}, nil
}

func (a *Adapter) Kind() engine.Kind     { return engine.SQLite }
func (a *Adapter) Target() engine.Target { return a.target }

// Connect opens the database file, verifies the engine version and
// enables foreign keys for the session.
func (a *Adapter) Connect(ctx context.Context) error {
	path := strings.TrimPrefix(a.target.URI, "sqlite:")
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return &engine.ConnectionError{Engine: engine.SQLite, Target: a.target.Name, Err: err}
	}

	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return &engine.ConnectionError{Engine: engine.SQLite, Target: a.target.Name, Err: err}
	}

	var version string
	if err := db.QueryRowContext(ctx, "SELECT sqlite_version()").Scan(&version); err != nil {
		_ = db.Close()
		return &engine.ConnectionError{Engine: engine.SQLite, Target: a.target.Name, Err: err}
	}
	if !versionAtLeast(version, minVersion) {
		_ = db.Close()
		return &engine.UnsupportedVersionError{
			Engine:  engine.SQLite,
			Version: version,
			Minimum: fmt.Sprintf("%d.%d.%d", minVersion[0], minVersion[1], minVersion[2]),
		}
	}

	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return &engine.ConnectionError{Engine: engine.SQLite, Target: a.target.Name, Err: err}
	}

	a.db = db
	return nil
}

// Close closes the database handle.
func (a *Adapter) Close() error {
	if a.db == nil {
		return nil
	}
	err := a.db.Close()
	a.db = nil
	return err
}

// Begin starts a serializable transaction.
func (a *Adapter) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := a.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx}, nil
}

// Exec runs a statement on the session, outside any transaction.
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) error {
	_, err := a.db.ExecContext(ctx, query, args...)
	return err
}

// Query runs a query on the session, outside any transaction.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	return a.db.QueryContext(ctx, query, args...)
}

// Rebind is the identity for SQLite; '?' is its native placeholder.
func (a *Adapter) Rebind(query string) string { return query }

// RunScript executes the script at path statement by statement. SQLite
// scripts may contain trigger bodies, so BEGIN...END blocks are kept
// whole when splitting.
func (a *Adapter) RunScript(ctx context.Context, tx engine.Tx, path string, vars map[string]string) error {
	script, err := engine.ReadScript(path, vars)
	if err != nil {
		return err
	}
	for _, stmt := range engine.SplitStatements(script, engine.SplitOptions{BeginEnd: true}) {
		if tx != nil {
			err = tx.Exec(ctx, stmt)
		} else {
			err = a.Exec(ctx, stmt)
		}
		if err != nil {
			return &engine.ScriptError{Script: path, Err: err}
		}
	}
	return nil
}

// AcquireLock takes the registry lock by inserting an owner row, polling
// until timeout. SQLite has no advisory locks, so the lock lives in a
// table beside the registry.
func (a *Adapter) AcquireLock(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = a.target.LockTimeout
	}

	const ddl = `CREATE TABLE IF NOT EXISTS locks (
		name      TEXT     PRIMARY KEY,
		owner     TEXT     NOT NULL,
		locked_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`
	if err := a.Exec(ctx, ddl); err != nil {
		return err
	}

	owner := uuid.New().String()
	deadline := time.Now().Add(timeout)
	for {
		err := a.Exec(ctx, "INSERT INTO locks (name, owner) VALUES (?, ?)", lockName, owner)
		if err == nil {
			a.lockOwner = owner
			return nil
		}
		if !lockContended(err) {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if time.Now().After(deadline) {
			return &engine.LockHeldError{Target: a.target.Name, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// lockContended reports whether the lock insert lost to an existing
// owner row. Only a primary-key constraint violation means contention;
// anything else is a real failure and must surface immediately. The
// low byte of the result code strips extended detail such as
// SQLITE_CONSTRAINT_PRIMARYKEY.
func lockContended(err error) bool {
	var coded interface{ Code() int }
	return errors.As(err, &coded) && coded.Code()&0xff == sqlite3lib.SQLITE_CONSTRAINT
}

// ReleaseLock removes the lock row if this adapter holds it.
func (a *Adapter) ReleaseLock(ctx context.Context) error {
	if a.lockOwner == "" {
		return nil
	}
	err := a.Exec(ctx, "DELETE FROM locks WHERE name = ? AND owner = ?", lockName, a.lockOwner)
	if err == nil {
		a.lockOwner = ""
	}
	return err
}

// InitializeRegistry creates the registry tables through embedded
// migrations. Running it against an initialized database is a no-op.
func (a *Adapter) InitializeRegistry(ctx context.Context) error {
	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(a.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RegistryExists reports whether the registry tables are present.
func (a *Adapter) RegistryExists(ctx context.Context) (bool, error) {
	var n int
	err := a.db.QueryRowContext(ctx,
		"SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'changes'").Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// sqlTx adapts *sql.Tx to the engine transaction surface.
type sqlTx struct {
	tx *sql.Tx
}

func (t *sqlTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.ExecContext(ctx, query, args...)
	return err
}

func (t *sqlTx) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	return t.tx.QueryContext(ctx, query, args...)
}

func (t *sqlTx) Commit(context.Context) error   { return t.tx.Commit() }
func (t *sqlTx) Rollback(context.Context) error { return t.tx.Rollback() }

// versionAtLeast compares a dotted version string against a minimum.
func versionAtLeast(version string, min [3]int) bool {
	parts := strings.Split(version, ".")
	for i := 0; i < 3; i++ {
		v := 0
		if i < len(parts) {
			v, _ = strconv.Atoi(parts[i])
		}
		if v != min[i] {
			return v > min[i]
		}
	}
	return true
}
