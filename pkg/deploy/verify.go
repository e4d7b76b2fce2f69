package deploy

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/sqlward/sqlward/pkg/plan"
	"github.com/sqlward/sqlward/pkg/registry"
)

// Verify runs verify scripts for the deployed changes between from and
// to (inclusive; either may be empty to extend the range). Every
// failure is collected rather than stopping at the first; the
// aggregated VerificationError lists failures in plan order. Read
// only; takes no lock and writes nothing to the registry.
func (o *Orchestrator) Verify(ctx context.Context, from, to string, opts VerifyOptions) (*Result, error) {
	if !o.plan.Resolved() {
		return nil, fmt.Errorf("plan %s has not been resolved", o.plan.File)
	}
	if err := o.begin(StateVerifying); err != nil {
		return nil, err
	}
	defer o.end()

	res := &Result{RunID: uuid.New().String()}
	log := o.runLogger(ctx, res.RunID)

	deployed, err := o.store.DeployedChanges(ctx)
	if err != nil {
		return res, err
	}

	work, failures, err := o.verifyRange(deployed, from, to)
	if err != nil {
		return res, err
	}
	log.Infof("verifying %d change(s)", len(work))

	failures = append(failures, o.verifyParallel(ctx, work, opts.Parallel)...)

	order := make(map[string]int, len(o.plan.Changes()))
	for i, c := range o.plan.Changes() {
		order[c.Name] = i
	}
	sort.SliceStable(failures, func(i, j int) bool {
		oi, iOK := order[failures[i].Change]
		oj, jOK := order[failures[j].Change]
		if iOK != jOK {
			return jOK // orphans sort last
		}
		return oi < oj
	})

	for _, c := range work {
		ev := ChangeEvent{Change: c.Name, Action: ActionVerify}
		for _, f := range failures {
			if f.Change == c.Name {
				ev.Err = f.Err
				break
			}
		}
		res.Events = append(res.Events, ev)
	}

	if len(failures) > 0 {
		log.Errorf("%d change(s) failed verification", len(failures))
		return res, &VerificationError{Failures: failures}
	}
	log.Info("verify complete")
	return res, nil
}

// verifyRange selects the deployed plan changes between from and to.
// Deployed changes missing from the plan fail immediately; they have
// no verify script to run.
func (o *Orchestrator) verifyRange(deployed []registry.DeployedChange, from, to string) ([]*plan.Change, []VerifyFailure, error) {
	changes := o.plan.Changes()
	lo, hi := 0, len(changes)-1
	if from != "" {
		c, err := o.resolveBoundary(from)
		if err != nil {
			return nil, nil, err
		}
		lo = planIndex(changes, c)
	}
	if to != "" {
		c, err := o.resolveBoundary(to)
		if err != nil {
			return nil, nil, err
		}
		hi = planIndex(changes, c)
	}
	if lo > hi {
		return nil, nil, fmt.Errorf("verify range is inverted: %q is after %q", from, to)
	}

	live := make(map[string]bool, len(deployed))
	var failures []VerifyFailure
	for _, d := range deployed {
		live[d.ID] = true
		if full := from == "" && to == ""; full && o.plan.GetChange(d.ID) == nil {
			failures = append(failures, VerifyFailure{
				Change: d.Name,
				Err:    fmt.Errorf("deployed change %q is not in the plan", d.Name),
			})
		}
	}

	var work []*plan.Change
	for _, c := range changes[lo : hi+1] {
		if live[c.ID()] {
			work = append(work, c)
		}
	}
	return work, failures, nil
}

// verifyParallel fans verification out over a bounded worker pool and
// collects every failure.
func (o *Orchestrator) verifyParallel(ctx context.Context, work []*plan.Change, parallel int) []VerifyFailure {
	if len(work) == 0 {
		return nil
	}
	workerCount := parallel
	if workerCount < 1 {
		workerCount = 1
	}
	if len(work) < workerCount {
		workerCount = len(work)
	}

	queue := make(chan *plan.Change, len(work))
	for _, c := range work {
		queue <- c
	}
	close(queue)

	var wg sync.WaitGroup
	failChan := make(chan VerifyFailure, len(work))
	vars := o.adapter.Target().Variables

	for i := 0; i < workerCount; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for c := range queue {
				if err := ctx.Err(); err != nil {
					failChan <- VerifyFailure{Change: c.Name, Err: err}
					continue
				}
				script := o.scripts.VerifyScript(c.Name)
				if !fileExists(script) {
					continue
				}
				if err := o.adapter.RunScript(ctx, nil, script, vars); err != nil {
					failChan <- VerifyFailure{Change: c.Name, Err: err}
				}
			}
		}()
	}
	wg.Wait()
	close(failChan)

	var failures []VerifyFailure
	for f := range failChan {
		failures = append(failures, f)
	}
	return failures
}

func planIndex(changes []*plan.Change, c *plan.Change) int {
	for i, x := range changes {
		if x == c {
			return i
		}
	}
	return 0
}
