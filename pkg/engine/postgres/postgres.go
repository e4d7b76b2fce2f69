// Package postgres implements the engine adapter for PostgreSQL using
// pgx connection pools. Registry state lives in its own schema,
// selected through search_path on every pooled connection.
package postgres

import (
	"context"
	_ "embed"
	"fmt"
	"hash/fnv"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sqlward/sqlward/pkg/engine"
)

//go:embed registry.sql
var registryDDL string

// minVersionNum is PostgreSQL 8.4 in server_version_num form, the
// oldest release with working advisory lock functions.
const minVersionNum = 80400

// DefaultRegistry is the schema used when a target names none.
const DefaultRegistry = "sqlward"

func init() {
	engine.Register(engine.Postgres, func(t engine.Target) (engine.Adapter, error) {
		return New(t)
	})
}

// Adapter is the PostgreSQL engine adapter.
type Adapter struct {
	target   engine.Target
	pool     *pgxpool.Pool
	lockID   int64
	lockConn *pgxpool.Conn
}

// New validates the target and returns an unconnected adapter.
func New(target engine.Target) (*Adapter, error) {
	if target.URI == "" {
		return nil, fmt.Errorf("pg: target %q has no connection string", target.Name)
	}
	if target.Registry == "" {
		target.Registry = DefaultRegistry
	}
	if target.LockTimeout == 0 {
		target.LockTimeout = engine.DefaultLockTimeout
	}
	return &Adapter{target: target, lockID: lockKey(target.Registry)}, nil
}

func (a *Adapter) Kind() engine.Kind     { return engine.Postgres }
func (a *Adapter) Target() engine.Target { return a.target }

// Connect establishes the pool, pins search_path to the registry schema
// on every connection and verifies the server version.
func (a *Adapter) Connect(ctx context.Context) error {
	poolConfig, err := pgxpool.ParseConfig(a.target.URI)
	if err != nil {
		return &engine.ConnectionError{Engine: engine.Postgres, Target: a.target.Name, Err: err}
	}

	registry := a.target.Registry
	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, fmt.Sprintf("SET search_path = %s, public", quoteIdent(registry)))
		return err
	}

	poolConfig.MaxConns = 5
	poolConfig.MinConns = 1
	poolConfig.MaxConnLifetime = 30 * time.Minute
	poolConfig.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return &engine.ConnectionError{Engine: engine.Postgres, Target: a.target.Name, Err: err}
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return &engine.ConnectionError{Engine: engine.Postgres, Target: a.target.Name, Err: err}
	}

	var versionNum int
	if err := pool.QueryRow(ctx, "SELECT current_setting('server_version_num')::int").Scan(&versionNum); err != nil {
		pool.Close()
		return &engine.ConnectionError{Engine: engine.Postgres, Target: a.target.Name, Err: err}
	}
	if versionNum < minVersionNum {
		pool.Close()
		return &engine.UnsupportedVersionError{
			Engine:  engine.Postgres,
			Version: strconv.Itoa(versionNum),
			Minimum: strconv.Itoa(minVersionNum),
		}
	}

	a.pool = pool
	return nil
}

// Close closes the connection pool.
func (a *Adapter) Close() error {
	if a.lockConn != nil {
		a.lockConn.Release()
		a.lockConn = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return nil
}

// Begin starts a transaction on a pooled connection.
func (a *Adapter) Begin(ctx context.Context) (engine.Tx, error) {
	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &pgTx{tx: tx}, nil
}

// Exec runs a statement on the pool, outside any transaction.
func (a *Adapter) Exec(ctx context.Context, query string, args ...any) error {
	_, err := a.pool.Exec(ctx, query, args...)
	return err
}

// Query runs a query on the pool, outside any transaction.
func (a *Adapter) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{rows: rows}, nil
}

// Rebind translates '?' placeholders to the $1, $2 style, skipping
// quoted regions.
func (a *Adapter) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	var quote byte
	for i := 0; i < len(query); i++ {
		c := query[i]
		switch {
		case quote != 0:
			b.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
			b.WriteByte(c)
		case c == '?':
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

// RunScript executes the script at path statement by statement.
// Function bodies use dollar quoting, so those regions are kept whole
// when splitting.
func (a *Adapter) RunScript(ctx context.Context, tx engine.Tx, path string, vars map[string]string) error {
	script, err := engine.ReadScript(path, vars)
	if err != nil {
		return err
	}
	for _, stmt := range engine.SplitStatements(script, engine.SplitOptions{DollarQuoting: true}) {
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

// rowQuerier is the single-row query surface shared by pooled
// connections and the pool itself.
type rowQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// AcquireLock takes a session advisory lock keyed on the registry
// schema, polling until timeout. Advisory locks are bound to the
// session that took them, so the lock lives on one dedicated
// connection held out of the pool until ReleaseLock; pool recycling
// can never drop the lock mid-run.
func (a *Adapter) AcquireLock(ctx context.Context, timeout time.Duration) error {
	if timeout == 0 {
		timeout = a.target.LockTimeout
	}
	conn, err := a.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	if err := waitForLock(ctx, conn, a.lockID, a.target.Name, timeout); err != nil {
		conn.Release()
		return err
	}
	a.lockConn = conn
	return nil
}

func waitForLock(ctx context.Context, q rowQuerier, lockID int64, target string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		var got bool
		if err := q.QueryRow(ctx, "SELECT pg_try_advisory_lock($1)", lockID).Scan(&got); err != nil {
			return err
		}
		if got {
			return nil
		}
		if time.Now().After(deadline) {
			return &engine.LockHeldError{Target: target, Timeout: timeout}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// ReleaseLock releases the advisory lock on the connection that took
// it and returns that connection to the pool.
func (a *Adapter) ReleaseLock(ctx context.Context) error {
	if a.lockConn == nil {
		return nil
	}
	var released bool
	err := a.lockConn.QueryRow(ctx, "SELECT pg_advisory_unlock($1)", a.lockID).Scan(&released)
	a.lockConn.Release()
	a.lockConn = nil
	return err
}

// InitializeRegistry creates the registry schema and tables in one
// transaction. Running it against an initialized target is a no-op.
func (a *Adapter) InitializeRegistry(ctx context.Context) error {
	exists, err := a.RegistryExists(ctx)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	tx, err := a.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", quoteIdent(a.target.Registry))); err != nil {
		return fmt.Errorf("failed to create registry schema: %w", err)
	}
	for _, stmt := range engine.SplitStatements(registryDDL, engine.SplitOptions{DollarQuoting: true}) {
		if _, err := tx.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create registry tables: %w", err)
		}
	}
	return tx.Commit(ctx)
}

// RegistryExists reports whether the registry tables are present.
func (a *Adapter) RegistryExists(ctx context.Context) (bool, error) {
	var n int
	err := a.pool.QueryRow(ctx,
		"SELECT count(*) FROM information_schema.tables WHERE table_schema = $1 AND table_name = 'changes'",
		a.target.Registry).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// pgTx adapts pgx.Tx to the engine transaction surface.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Exec(ctx context.Context, query string, args ...any) error {
	_, err := t.tx.Exec(ctx, query, args...)
	return err
}

func (t *pgTx) Query(ctx context.Context, query string, args ...any) (engine.Rows, error) {
	rows, err := t.tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return &pgRows{rows: rows}, nil
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

// pgRows adapts pgx.Rows, whose Close returns nothing.
type pgRows struct {
	rows pgx.Rows
}

func (r *pgRows) Next() bool             { return r.rows.Next() }
func (r *pgRows) Scan(dest ...any) error { return r.rows.Scan(dest...) }
func (r *pgRows) Err() error             { return r.rows.Err() }
func (r *pgRows) Close() error           { r.rows.Close(); return nil }

// quoteIdent double-quotes a schema identifier.
func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

// lockKey derives a stable advisory lock key from the registry name.
func lockKey(registry string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte("sqlward:" + registry))
	return int64(h.Sum64())
}
