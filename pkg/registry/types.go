package registry

import (
	"context"
	"time"

	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/plan"
)

// EventType classifies a registry event.
type EventType string

const (
	EventDeploy EventType = "deploy"
	EventRevert EventType = "revert"
	EventFail   EventType = "fail"
)

// Actor identifies who performs a run. Recorded as the committer on
// every change and event.
type Actor struct {
	Name  string
	Email string
}

// DeployedChange is one row of deployment state: a change that is
// currently live on the target.
type DeployedChange struct {
	ID             string
	ScriptHash     string
	Name           string
	Project        string
	Note           string
	CommittedAt    time.Time
	CommitterName  string
	CommitterEmail string
	PlannedAt      time.Time
	PlannerName    string
	PlannerEmail   string
	Tags           []string
}

// Event is one row of the append-only history: every deploy, revert
// and failure, in commit order.
type Event struct {
	Type           EventType
	ChangeID       string
	Change         string
	Project        string
	Note           string
	Requires       []string
	Conflicts      []string
	Tags           []string
	CommittedAt    time.Time
	CommitterName  string
	CommitterEmail string
	PlannedAt      time.Time
	PlannerName    string
	PlannerEmail   string
}

// EventFilter narrows an event search. Zero values mean no constraint;
// events come back newest first unless Ascending is set.
type EventFilter struct {
	Type      EventType
	Change    string
	Limit     int
	Ascending bool
}

// State summarizes the registry: the most recently deployed change, or
// nil when nothing is deployed.
type State struct {
	Project       string
	ChangeID      string
	Change        string
	CommittedAt   time.Time
	CommitterName string
	Tags          []string
}

// Store is the registry persistence surface. RecordDeploy and
// RecordRevert run inside the caller's change transaction so state and
// schema commit atomically; RecordFailure opens its own transaction
// because the change transaction has already been rolled back.
type Store interface {
	// Initialize creates the registry structures if absent and
	// registers the project. It fails when the project name is already
	// registered with a different URI.
	Initialize(ctx context.Context) error

	RecordDeploy(ctx context.Context, tx engine.Tx, change *plan.Change, tags []*plan.Tag, scriptHash string) error
	RecordRevert(ctx context.Context, tx engine.Tx, change *plan.Change) error
	RecordFailure(ctx context.Context, change *plan.Change) error

	// DeployedChanges returns live changes in commit order.
	DeployedChanges(ctx context.Context) ([]DeployedChange, error)
	CurrentState(ctx context.Context) (*State, error)
	Events(ctx context.Context, filter EventFilter) ([]Event, error)
}
