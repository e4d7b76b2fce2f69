package deploy

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/sqlward/sqlward/pkg/engine"
	"github.com/sqlward/sqlward/pkg/plan"
	"github.com/sqlward/sqlward/pkg/registry"
	"github.com/sqlward/sqlward/pkg/telemetry"
)

// State names what an orchestrator is currently doing. Only one
// operation runs at a time; a second caller gets a StateError.
type State string

const (
	StateIdle      State = "idle"
	StateDeploying State = "deploying"
	StateReverting State = "reverting"
	StateVerifying State = "verifying"
)

// ScriptResolver maps a change name to its script paths. Paths for
// missing optional scripts are still returned; existence decides
// whether they run.
type ScriptResolver interface {
	DeployScript(change string) string
	RevertScript(change string) string
	VerifyScript(change string) string
}

// DeployOptions tune a deploy run.
type DeployOptions struct {
	// NoVerify skips running each change's verify script inside the
	// deploy transaction.
	NoVerify bool
}

// RevertOptions tune a revert run.
type RevertOptions struct{}

// VerifyOptions tune a verify run.
type VerifyOptions struct {
	// Parallel bounds concurrent verifications. Zero means serial.
	Parallel int
}

// ChangeEvent is one per-change outcome within a run.
type ChangeEvent struct {
	Change string
	Action string // "deploy", "revert", "verify" or "fail"
	Err    error
}

const (
	ActionDeploy = "deploy"
	ActionRevert = "revert"
	ActionVerify = "verify"
	ActionFail   = "fail"
)

// Result reports what a run did, change by change, in execution order.
type Result struct {
	RunID  string
	Events []ChangeEvent
}

// Orchestrator drives runs for one plan against one target.
type Orchestrator struct {
	adapter engine.Adapter
	store   registry.Store
	plan    *plan.Plan
	scripts ScriptResolver

	mu    sync.Mutex
	state State
}

// New builds an orchestrator. The plan must be resolved and the
// adapter connected before any run starts.
func New(adapter engine.Adapter, store registry.Store, p *plan.Plan, scripts ScriptResolver) *Orchestrator {
	return &Orchestrator{
		adapter: adapter,
		store:   store,
		plan:    p,
		scripts: scripts,
		state:   StateIdle,
	}
}

// State returns what the orchestrator is currently doing.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Deploy runs every pending change up to and including upTo, which
// names a change, a tag, or nothing for the whole plan. The first
// failure rolls back its own transaction, records a fail event and
// stops the run; earlier changes stay committed.
func (o *Orchestrator) Deploy(ctx context.Context, upTo string, opts DeployOptions) (*Result, error) {
	if !o.plan.Resolved() {
		return nil, fmt.Errorf("plan %s has not been resolved", o.plan.File)
	}
	if err := o.begin(StateDeploying); err != nil {
		return nil, err
	}
	defer o.end()

	res := &Result{RunID: uuid.New().String()}
	log := o.runLogger(ctx, res.RunID)

	if err := o.adapter.AcquireLock(ctx, o.adapter.Target().LockTimeout); err != nil {
		return res, err
	}
	defer func() { _ = o.adapter.ReleaseLock(context.WithoutCancel(ctx)) }()

	if err := o.store.Initialize(ctx); err != nil {
		return res, err
	}

	deployed, err := o.store.DeployedChanges(ctx)
	if err != nil {
		return res, err
	}
	if err := o.checkIntegrity(deployed); err != nil {
		return res, err
	}

	pending, err := o.pending(deployed, upTo)
	if err != nil {
		return res, err
	}
	if len(pending) == 0 {
		log.Info("nothing to deploy")
		return res, nil
	}
	log.Infof("deploying %d change(s)", len(pending))

	liveNames := make(map[string]bool, len(deployed))
	for _, d := range deployed {
		liveNames[d.Name] = true
	}

	for _, c := range pending {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		clog := log.WithChange(c.Name)

		if err := o.checkConflicts(c, liveNames); err != nil {
			clog.WithError(err).Error("deploy failed")
			res.Events = append(res.Events, ChangeEvent{Change: c.Name, Action: ActionFail, Err: err})
			o.recordFailure(ctx, clog, c)
			return res, &FailedAtChange{Change: c.Name, Cause: err}
		}

		clog.Info("deploying change")
		if err := o.deployOne(ctx, c, opts); err != nil {
			clog.WithError(err).Error("deploy failed")
			res.Events = append(res.Events, ChangeEvent{Change: c.Name, Action: ActionFail, Err: err})
			o.recordFailure(ctx, clog, c)
			return res, &FailedAtChange{Change: c.Name, Cause: err}
		}

		res.Events = append(res.Events, ChangeEvent{Change: c.Name, Action: ActionDeploy})
		liveNames[c.Name] = true
	}

	log.Info("deploy complete")
	return res, nil
}

// Revert undoes deployed changes newer than downTo, newest first.
// downTo names the change or tag that stays deployed; empty reverts
// everything. Failure stops the run without redoing anything.
func (o *Orchestrator) Revert(ctx context.Context, downTo string, _ RevertOptions) (*Result, error) {
	if !o.plan.Resolved() {
		return nil, fmt.Errorf("plan %s has not been resolved", o.plan.File)
	}
	if err := o.begin(StateReverting); err != nil {
		return nil, err
	}
	defer o.end()

	res := &Result{RunID: uuid.New().String()}
	log := o.runLogger(ctx, res.RunID)

	if err := o.adapter.AcquireLock(ctx, o.adapter.Target().LockTimeout); err != nil {
		return res, err
	}
	defer func() { _ = o.adapter.ReleaseLock(context.WithoutCancel(ctx)) }()

	deployed, err := o.store.DeployedChanges(ctx)
	if err != nil {
		return res, err
	}
	if err := o.checkIntegrity(deployed); err != nil {
		return res, err
	}

	toRevert, err := o.revertList(deployed, downTo)
	if err != nil {
		return res, err
	}
	if len(toRevert) == 0 {
		log.Info("nothing to revert")
		return res, nil
	}
	log.Infof("reverting %d change(s)", len(toRevert))

	for i := len(toRevert) - 1; i >= 0; i-- {
		d := toRevert[i]
		if err := ctx.Err(); err != nil {
			return res, err
		}

		c := o.plan.GetChange(d.ID)
		if c == nil {
			err := fmt.Errorf("deployed change %q is not in the plan; no revert script", d.Name)
			return res, &FailedAtChange{Change: d.Name, Cause: err}
		}

		clog := log.WithChange(c.Name)
		clog.Info("reverting change")
		if err := o.revertOne(ctx, c); err != nil {
			clog.WithError(err).Error("revert failed")
			res.Events = append(res.Events, ChangeEvent{Change: c.Name, Action: ActionFail, Err: err})
			return res, &FailedAtChange{Change: c.Name, Cause: err}
		}
		res.Events = append(res.Events, ChangeEvent{Change: c.Name, Action: ActionRevert})
	}

	log.Info("revert complete")
	return res, nil
}

// StatusReport summarizes a target against the plan.
type StatusReport struct {
	Project string
	// State is the most recently deployed change, nil when the target
	// is empty.
	State      *registry.State
	Deployed   []registry.DeployedChange
	Divergence registry.Divergence
}

// Status reads deployment state and compares it with the plan. Read
// only; takes no lock.
func (o *Orchestrator) Status(ctx context.Context) (*StatusReport, error) {
	deployed, err := o.store.DeployedChanges(ctx)
	if err != nil {
		return nil, err
	}
	state, err := o.store.CurrentState(ctx)
	if err != nil {
		return nil, err
	}
	return &StatusReport{
		Project:    o.plan.Project,
		State:      state,
		Deployed:   deployed,
		Divergence: registry.Diverge(deployed, o.plan),
	}, nil
}

func (o *Orchestrator) deployOne(ctx context.Context, c *plan.Change, opts DeployOptions) error {
	vars := o.adapter.Target().Variables
	deployScript := o.scripts.DeployScript(c.Name)
	revertScript := o.scripts.RevertScript(c.Name)
	verifyScript := o.scripts.VerifyScript(c.Name)

	tx, err := o.adapter.Begin(ctx)
	if err != nil {
		return err
	}

	if err := o.adapter.RunScript(ctx, tx, deployScript, vars); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	// Verify in the same transaction: a change that cannot be verified
	// is not deployed.
	if !opts.NoVerify && fileExists(verifyScript) {
		if err := o.adapter.RunScript(ctx, tx, verifyScript, vars); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
	}

	hash, err := registry.ScriptHash(deployScript, revertScript, verifyScript)
	if err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := o.store.RecordDeploy(ctx, tx, c, o.tagsFor(c), hash); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

func (o *Orchestrator) revertOne(ctx context.Context, c *plan.Change) error {
	tx, err := o.adapter.Begin(ctx)
	if err != nil {
		return err
	}
	if err := o.adapter.RunScript(ctx, tx, o.scripts.RevertScript(c.Name), o.adapter.Target().Variables); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := o.store.RecordRevert(ctx, tx, c); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}

// checkIntegrity compares recorded change ids against the recomputed
// chain before any script runs.
func (o *Orchestrator) checkIntegrity(deployed []registry.DeployedChange) error {
	recorded := make(map[string]string, len(deployed))
	for _, d := range deployed {
		recorded[d.Name] = d.ID
	}
	return plan.VerifyChain(o.plan, recorded)
}

// checkConflicts fails a change whose declared conflict is live.
// External conflicts are checked by name within this registry.
func (o *Orchestrator) checkConflicts(c *plan.Change, liveNames map[string]bool) error {
	for _, d := range c.Conflicts() {
		if !d.External() && liveNames[d.Name] {
			return &ConflictError{Change: c.Name, Deployed: d.Name}
		}
	}
	return nil
}

// pending returns plan changes not yet deployed, in plan order, up to
// and including the upTo boundary.
func (o *Orchestrator) pending(deployed []registry.DeployedChange, upTo string) ([]*plan.Change, error) {
	var cut *plan.Change
	if upTo != "" {
		var err error
		if cut, err = o.resolveBoundary(upTo); err != nil {
			return nil, err
		}
	}

	live := make(map[string]bool, len(deployed))
	for _, d := range deployed {
		live[d.ID] = true
	}

	var out []*plan.Change
	for _, c := range o.plan.Changes() {
		if !live[c.ID()] {
			out = append(out, c)
		}
		if cut != nil && c == cut {
			break
		}
	}
	return out, nil
}

// revertList returns the deployed records newer than the downTo
// boundary, in commit order.
func (o *Orchestrator) revertList(deployed []registry.DeployedChange, downTo string) ([]registry.DeployedChange, error) {
	if downTo == "" {
		return deployed, nil
	}
	cut, err := o.resolveBoundary(downTo)
	if err != nil {
		return nil, err
	}
	for i, d := range deployed {
		if d.ID == cut.ID() {
			return deployed[i+1:], nil
		}
	}
	return nil, fmt.Errorf("change %q is not deployed", cut.Name)
}

// resolveBoundary maps a change name, tag name or @tag to the plan
// change it denotes.
func (o *Orchestrator) resolveBoundary(name string) (*plan.Change, error) {
	if strings.HasPrefix(name, "@") {
		if t := o.plan.GetTag(name); t != nil {
			return t.Change, nil
		}
		return nil, &UnknownTargetError{Name: name}
	}
	if c := o.plan.GetChange(name); c != nil {
		return c, nil
	}
	if t := o.plan.GetTag(name); t != nil {
		return t.Change, nil
	}
	return nil, &UnknownTargetError{Name: name}
}

func (o *Orchestrator) tagsFor(c *plan.Change) []*plan.Tag {
	var out []*plan.Tag
	for _, t := range o.plan.Tags() {
		if t.Change == c {
			out = append(out, t)
		}
	}
	return out
}

func (o *Orchestrator) recordFailure(ctx context.Context, log *telemetry.Logger, c *plan.Change) {
	// The change transaction is already rolled back; the fail event
	// gets its own.
	if err := o.store.RecordFailure(context.WithoutCancel(ctx), c); err != nil {
		log.WithError(err).Warn("could not record failure event")
	}
}

func (o *Orchestrator) runLogger(ctx context.Context, runID string) *telemetry.Logger {
	return telemetry.FromContext(ctx).
		NewComponentLogger("deploy").
		WithRunID(runID).
		WithTarget(o.adapter.Target().Name, string(o.adapter.Kind())).
		WithProject(o.plan.Project)
}

func (o *Orchestrator) begin(s State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state != StateIdle {
		return &StateError{Active: o.state}
	}
	o.state = s
	return nil
}

func (o *Orchestrator) end() {
	o.mu.Lock()
	o.state = StateIdle
	o.mu.Unlock()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
