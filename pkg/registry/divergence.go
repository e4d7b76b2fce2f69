package registry

import (
	"github.com/sqlward/sqlward/pkg/plan"
)

// Divergence compares deployed state against a resolved plan. A change
// matches only by id, so editing released history makes the old entry
// an orphan and the rewritten one pending.
type Divergence struct {
	// Pending holds plan changes not yet deployed, in plan order.
	Pending []*plan.Change
	// Orphans holds deployed changes whose ids no longer appear in the
	// plan, in commit order.
	Orphans []DeployedChange
}

// InSync reports whether target and plan agree exactly.
func (d Divergence) InSync() bool {
	return len(d.Pending) == 0 && len(d.Orphans) == 0
}

// Diverge computes the divergence of deployed state from a resolved
// plan. Pure comparison; no database contact.
func Diverge(deployed []DeployedChange, p *plan.Plan) Divergence {
	planned := make(map[string]bool, len(p.Changes()))
	for _, c := range p.Changes() {
		planned[c.ID()] = true
	}
	live := make(map[string]bool, len(deployed))
	for _, d := range deployed {
		live[d.ID] = true
	}

	var out Divergence
	for _, c := range p.Changes() {
		if !live[c.ID()] {
			out.Pending = append(out.Pending, c)
		}
	}
	for _, d := range deployed {
		if !planned[d.ID] {
			out.Orphans = append(out.Orphans, d)
		}
	}
	return out
}
