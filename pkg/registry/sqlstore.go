package registry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/plan"
)

// committedAtFormat keeps registry timestamps lexicographically
// ordered as text, with enough precision to keep the events primary
// key unique across a fast deploy/revert cycle.
const committedAtFormat = "2006-01-02T15:04:05.000000Z"

// SQLStore implements Store against an engine adapter. All statements
// use '?' placeholders and go through the adapter's Rebind.
type SQLStore struct {
	adapter engine.Adapter
	project string
	uri     string
	actor   Actor
}

// NewStore returns a store recording state for one project on the
// adapter's target.
func NewStore(adapter engine.Adapter, project, uri string, actor Actor) *SQLStore {
	return &SQLStore{adapter: adapter, project: project, uri: uri, actor: actor}
}

// Initialize creates the registry structures if absent and registers
// the project row.
func (s *SQLStore) Initialize(ctx context.Context) error {
	if err := s.adapter.InitializeRegistry(ctx); err != nil {
		return err
	}

	rows, err := s.adapter.Query(ctx,
		s.adapter.Rebind("SELECT uri FROM projects WHERE project = ?"), s.project)
	if err != nil {
		return err
	}
	defer func() { _ = rows.Close() }()

	if rows.Next() {
		var uri *string
		if err := rows.Scan(&uri); err != nil {
			return err
		}
		recorded := ""
		if uri != nil {
			recorded = *uri
		}
		if recorded != s.uri {
			return fmt.Errorf("project %q is registered with URI %q, not %q", s.project, recorded, s.uri)
		}
		return rows.Err()
	}
	if err := rows.Err(); err != nil {
		return err
	}

	var uri any
	if s.uri != "" {
		uri = s.uri
	}
	return s.adapter.Exec(ctx, s.adapter.Rebind(
		"INSERT INTO projects (project, uri, created_at, creator_name, creator_email) VALUES (?, ?, ?, ?, ?)"),
		s.project, uri, now(), s.actor.Name, s.actor.Email)
}

// RecordDeploy writes the change row, its dependencies, any tags
// recorded against it and the deploy event, all inside tx.
func (s *SQLStore) RecordDeploy(ctx context.Context, tx engine.Tx, change *plan.Change, tags []*plan.Tag, scriptHash string) error {
	committed := now()

	var hash any
	if scriptHash != "" {
		hash = scriptHash
	}
	err := tx.Exec(ctx, s.adapter.Rebind(
		`INSERT INTO changes (change_id, script_hash, change, project, note,
		 committed_at, committer_name, committer_email, planned_at, planner_name, planner_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		change.ID(), hash, change.Name, s.project, change.Note,
		committed, s.actor.Name, s.actor.Email,
		change.Timestamp.UTC().Format(plan.TimeFormat), change.PlannerName, change.PlannerEmail)
	if err != nil {
		return err
	}

	for _, dep := range change.Dependencies {
		depType := "require"
		if dep.Conflict {
			depType = "conflict"
		}
		depID, err := s.lookupChangeID(ctx, tx, dep)
		if err != nil {
			return err
		}
		err = tx.Exec(ctx, s.adapter.Rebind(
			"INSERT INTO dependencies (change_id, type, dependency, dependency_id) VALUES (?, ?, ?, ?)"),
			change.ID(), depType, depName(dep), depID)
		if err != nil {
			return err
		}
	}

	for _, tag := range tags {
		err = tx.Exec(ctx, s.adapter.Rebind(
			`INSERT INTO tags (tag_id, tag, project, change_id, note,
			 committed_at, committer_name, committer_email, planned_at, planner_name, planner_email)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
			tag.ID(), tag.Name, s.project, change.ID(), tag.Note,
			committed, s.actor.Name, s.actor.Email,
			tag.Timestamp.UTC().Format(plan.TimeFormat), tag.PlannerName, tag.PlannerEmail)
		if err != nil {
			return err
		}
	}

	return s.insertEvent(ctx, tx, EventDeploy, change, committed)
}

// RecordRevert removes the change's state rows and writes the revert
// event, all inside tx.
func (s *SQLStore) RecordRevert(ctx context.Context, tx engine.Tx, change *plan.Change) error {
	for _, q := range []string{
		"DELETE FROM tags WHERE change_id = ?",
		"DELETE FROM dependencies WHERE change_id = ?",
		"DELETE FROM changes WHERE change_id = ?",
	} {
		if err := tx.Exec(ctx, s.adapter.Rebind(q), change.ID()); err != nil {
			return err
		}
	}
	return s.insertEvent(ctx, tx, EventRevert, change, now())
}

// RecordFailure writes a fail event in its own transaction. The change
// transaction is already rolled back when this runs.
func (s *SQLStore) RecordFailure(ctx context.Context, change *plan.Change) error {
	tx, err := s.adapter.Begin(ctx)
	if err != nil {
		return err
	}
	if err := s.insertEvent(ctx, tx, EventFail, change, now()); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// DeployedChanges returns live changes in commit order, tags attached.
func (s *SQLStore) DeployedChanges(ctx context.Context) ([]DeployedChange, error) {
	rows, err := s.adapter.Query(ctx, s.adapter.Rebind(
		`SELECT change_id, script_hash, change, project, note,
		 committed_at, committer_name, committer_email, planned_at, planner_name, planner_email
		 FROM changes WHERE project = ? ORDER BY committed_at ASC`), s.project)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []DeployedChange
	for rows.Next() {
		var (
			c                     DeployedChange
			hash                  *string
			committed, plannedRaw string
		)
		err := rows.Scan(&c.ID, &hash, &c.Name, &c.Project, &c.Note,
			&committed, &c.CommitterName, &c.CommitterEmail,
			&plannedRaw, &c.PlannerName, &c.PlannerEmail)
		if err != nil {
			return nil, err
		}
		if hash != nil {
			c.ScriptHash = *hash
		}
		if c.CommittedAt, err = parseStamp(committed); err != nil {
			return nil, err
		}
		if c.PlannedAt, err = parseStamp(plannedRaw); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	tags, err := s.tagsByChange(ctx)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Tags = tags[out[i].ID]
	}
	return out, nil
}

// CurrentState returns the most recently deployed change, or nil when
// the registry is empty.
func (s *SQLStore) CurrentState(ctx context.Context) (*State, error) {
	deployed, err := s.DeployedChanges(ctx)
	if err != nil {
		return nil, err
	}
	if len(deployed) == 0 {
		return nil, nil
	}
	last := deployed[len(deployed)-1]
	return &State{
		Project:       last.Project,
		ChangeID:      last.ID,
		Change:        last.Name,
		CommittedAt:   last.CommittedAt,
		CommitterName: last.CommitterName,
		Tags:          last.Tags,
	}, nil
}

// Events searches the history.
func (s *SQLStore) Events(ctx context.Context, filter EventFilter) ([]Event, error) {
	query := `SELECT event, change_id, change, project, note, requires, conflicts, tags,
		 committed_at, committer_name, committer_email, planned_at, planner_name, planner_email
		 FROM events WHERE project = ?`
	args := []any{s.project}
	if filter.Type != "" {
		query += " AND event = ?"
		args = append(args, string(filter.Type))
	}
	if filter.Change != "" {
		query += " AND change = ?"
		args = append(args, filter.Change)
	}
	if filter.Ascending {
		query += " ORDER BY committed_at ASC"
	} else {
		query += " ORDER BY committed_at DESC"
	}
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.adapter.Query(ctx, s.adapter.Rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var (
			e                         Event
			typ                       string
			requires, conflicts, tags string
			committed, plannedRaw     string
		)
		err := rows.Scan(&typ, &e.ChangeID, &e.Change, &e.Project, &e.Note,
			&requires, &conflicts, &tags,
			&committed, &e.CommitterName, &e.CommitterEmail,
			&plannedRaw, &e.PlannerName, &e.PlannerEmail)
		if err != nil {
			return nil, err
		}
		e.Type = EventType(typ)
		e.Requires = strings.Fields(requires)
		e.Conflicts = strings.Fields(conflicts)
		e.Tags = strings.Fields(tags)
		if e.CommittedAt, err = parseStamp(committed); err != nil {
			return nil, err
		}
		if e.PlannedAt, err = parseStamp(plannedRaw); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *SQLStore) insertEvent(ctx context.Context, tx engine.Tx, typ EventType, change *plan.Change, committed string) error {
	var requires, conflicts []string
	for _, d := range change.Requires() {
		requires = append(requires, depName(d))
	}
	for _, d := range change.Conflicts() {
		conflicts = append(conflicts, depName(d))
	}
	return tx.Exec(ctx, s.adapter.Rebind(
		`INSERT INTO events (event, change_id, change, project, note, requires, conflicts, tags,
		 committed_at, committer_name, committer_email, planned_at, planner_name, planner_email)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		string(typ), change.ID(), change.Name, s.project, change.Note,
		strings.Join(requires, " "), strings.Join(conflicts, " "), strings.Join(change.Tags, " "),
		committed, s.actor.Name, s.actor.Email,
		change.Timestamp.UTC().Format(plan.TimeFormat), change.PlannerName, change.PlannerEmail)
}

// lookupChangeID finds the deployed id of an internal dependency.
// External dependencies and conflicts that are not deployed stay NULL.
func (s *SQLStore) lookupChangeID(ctx context.Context, tx engine.Tx, dep plan.Dependency) (any, error) {
	project := s.project
	if dep.External() {
		project = dep.Project
	}
	rows, err := tx.Query(ctx, s.adapter.Rebind(
		"SELECT change_id FROM changes WHERE project = ? AND change = ?"), project, dep.Name)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return nil, rows.Err()
	}
	var id string
	if err := rows.Scan(&id); err != nil {
		return nil, err
	}
	return id, rows.Err()
}

func (s *SQLStore) tagsByChange(ctx context.Context) (map[string][]string, error) {
	rows, err := s.adapter.Query(ctx, s.adapter.Rebind(
		"SELECT change_id, tag FROM tags WHERE project = ? ORDER BY committed_at ASC"), s.project)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	out := make(map[string][]string)
	for rows.Next() {
		var changeID, tag string
		if err := rows.Scan(&changeID, &tag); err != nil {
			return nil, err
		}
		out[changeID] = append(out[changeID], tag)
	}
	return out, rows.Err()
}

// depName renders a dependency without the conflict marker; the type
// column carries that.
func depName(d plan.Dependency) string {
	if d.External() {
		return d.Project + ":" + d.Name
	}
	return d.Name
}

func now() string {
	return time.Now().UTC().Format(committedAtFormat)
}

func parseStamp(s string) (time.Time, error) {
	for _, layout := range []string{committedAtFormat, plan.TimeFormat, time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("malformed registry timestamp %q", s)
}
