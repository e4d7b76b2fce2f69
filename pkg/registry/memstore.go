package registry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/plan"
)

// MemStore keeps registry state in memory. It implements Store for
// tests and dry inspection; the tx arguments are ignored because there
// is nothing transactional to join.
type MemStore struct {
	mu       sync.Mutex
	project  string
	actor    Actor
	deployed []DeployedChange
	events   []Event
	clock    int
}

// NewMemStore returns an empty in-memory registry for one project.
func NewMemStore(project string, actor Actor) *MemStore {
	return &MemStore{project: project, actor: actor}
}

func (m *MemStore) Initialize(context.Context) error { return nil }

func (m *MemStore) RecordDeploy(_ context.Context, _ engine.Tx, change *plan.Change, tags []*plan.Tag, scriptHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, d := range m.deployed {
		if d.ID == change.ID() {
			return fmt.Errorf("change %q is already deployed", change.Name)
		}
	}
	tagNames := make([]string, 0, len(tags))
	for _, t := range tags {
		tagNames = append(tagNames, t.Name)
	}
	m.deployed = append(m.deployed, DeployedChange{
		ID:             change.ID(),
		ScriptHash:     scriptHash,
		Name:           change.Name,
		Project:        m.project,
		Note:           change.Note,
		CommittedAt:    m.tick(),
		CommitterName:  m.actor.Name,
		CommitterEmail: m.actor.Email,
		PlannedAt:      change.Timestamp,
		PlannerName:    change.PlannerName,
		PlannerEmail:   change.PlannerEmail,
		Tags:           tagNames,
	})
	m.appendEvent(EventDeploy, change)
	return nil
}

func (m *MemStore) RecordRevert(_ context.Context, _ engine.Tx, change *plan.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, d := range m.deployed {
		if d.ID == change.ID() {
			m.deployed = append(m.deployed[:i], m.deployed[i+1:]...)
			m.appendEvent(EventRevert, change)
			return nil
		}
	}
	return fmt.Errorf("change %q is not deployed", change.Name)
}

func (m *MemStore) RecordFailure(_ context.Context, change *plan.Change) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appendEvent(EventFail, change)
	return nil
}

func (m *MemStore) DeployedChanges(context.Context) ([]DeployedChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DeployedChange, len(m.deployed))
	copy(out, m.deployed)
	return out, nil
}

func (m *MemStore) CurrentState(context.Context) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.deployed) == 0 {
		return nil, nil
	}
	last := m.deployed[len(m.deployed)-1]
	return &State{
		Project:       last.Project,
		ChangeID:      last.ID,
		Change:        last.Name,
		CommittedAt:   last.CommittedAt,
		CommitterName: last.CommitterName,
		Tags:          last.Tags,
	}, nil
}

func (m *MemStore) Events(_ context.Context, filter EventFilter) ([]Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Event
	for _, e := range m.events {
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.Change != "" && e.Change != filter.Change {
			continue
		}
		out = append(out, e)
	}
	if !filter.Ascending {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (m *MemStore) appendEvent(typ EventType, change *plan.Change) {
	var requires, conflicts []string
	for _, d := range change.Requires() {
		requires = append(requires, depName(d))
	}
	for _, d := range change.Conflicts() {
		conflicts = append(conflicts, depName(d))
	}
	m.events = append(m.events, Event{
		Type:           typ,
		ChangeID:       change.ID(),
		Change:         change.Name,
		Project:        m.project,
		Note:           change.Note,
		Requires:       requires,
		Conflicts:      conflicts,
		Tags:           change.Tags,
		CommittedAt:    m.tick(),
		CommitterName:  m.actor.Name,
		CommitterEmail: m.actor.Email,
		PlannedAt:      change.Timestamp,
		PlannerName:    change.PlannerName,
		PlannerEmail:   change.PlannerEmail,
	})
}

// tick produces strictly increasing commit stamps so ordering is
// deterministic even within one wall-clock instant.
func (m *MemStore) tick() time.Time {
	m.clock++
	return time.Now().UTC().Add(time.Duration(m.clock) * time.Microsecond)
}
