package engine

import (
	"context"
	"time"
)

// Kind identifies a supported database engine. The enumeration is fixed;
// adapters exist for a subset of it.
type Kind string

const (
	SQLite    Kind = "sqlite"
	Postgres  Kind = "pg"
	MySQL     Kind = "mysql"
	Oracle    Kind = "oracle"
	Snowflake Kind = "snowflake"
	Vertica   Kind = "vertica"
	Exasol    Kind = "exasol"
	Firebird  Kind = "firebird"
)

// Kinds returns the fixed set of engine names, adapters or not.
func Kinds() []Kind {
	return []Kind{SQLite, Postgres, MySQL, Oracle, Snowflake, Vertica, Exasol, Firebird}
}

// ParseKind validates an engine name from configuration.
func ParseKind(s string) (Kind, bool) {
	for _, k := range Kinds() {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Target names one deployment destination: an engine, a connection
// descriptor and the registry the deployment state is kept in. Targets
// come from configuration; the plan does not own them.
type Target struct {
	Name     string
	Engine   Kind
	URI      string // connection descriptor, engine-specific
	Registry string // registry schema name (pg) or ignored (sqlite)

	// Variables are substituted into scripts as raw text.
	Variables map[string]string

	// LockTimeout bounds how long a run waits for the target's
	// exclusive lock before failing with LockHeldError.
	LockTimeout time.Duration
}

// DefaultLockTimeout applies when a target does not configure one.
const DefaultLockTimeout = 60 * time.Second

// Rows is the minimal result-set surface the registry store needs.
// database/sql rows satisfy it directly; pgx rows are wrapped.
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close() error
}

// Tx is one open transaction on the target. Statements execute with the
// adapter's native placeholder style; use Adapter.Rebind to translate
// from the registry's portable '?' form.
type Tx interface {
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Adapter is the capability set a database backend implements. One
// adapter owns one session against one target for the duration of an
// orchestrator run; Connect performs the engine's minimum-version check
// and fails fast with UnsupportedVersionError.
type Adapter interface {
	Kind() Kind
	Target() Target

	Connect(ctx context.Context) error
	Close() error

	Begin(ctx context.Context) (Tx, error)

	// Exec and Query run outside any transaction, on the session.
	Exec(ctx context.Context, query string, args ...any) error
	Query(ctx context.Context, query string, args ...any) (Rows, error)

	// Rebind translates '?' placeholders to the engine's native style.
	Rebind(query string) string

	// RunScript reads, substitutes and executes the script at path,
	// splitting statements per the engine's delimiter conventions. With a
	// nil tx the statements run on the session instead.
	RunScript(ctx context.Context, tx Tx, path string, vars map[string]string) error

	// AcquireLock takes the target's exclusive advisory lock, waiting at
	// most timeout, and fails with LockHeldError rather than queuing.
	AcquireLock(ctx context.Context, timeout time.Duration) error
	ReleaseLock(ctx context.Context) error

	// InitializeRegistry idempotently creates the registry tables. It
	// never drops or alters existing data.
	InitializeRegistry(ctx context.Context) error
	RegistryExists(ctx context.Context) (bool, error)
}
