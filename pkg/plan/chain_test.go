package plan

import (
	"regexp"
	"testing"
)

var sha1Hex = regexp.MustCompile(`^[a-f0-9]{40}$`)

func mustParse(t *testing.T, content string) *Plan {
	t.Helper()
	p, err := Parse("test.plan", content)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return p
}

func mustResolve(t *testing.T, content string) *Plan {
	t.Helper()
	p := mustParse(t, content)
	if err := Resolve(p); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	return p
}

const chainPlan = `%project=flipr
users 2012-07-16T17:24:07Z Ann <ann@example.com> # users table
posts [users] 2012-07-16T18:07:26Z Ann <ann@example.com> # posts table
@v1.0.0 2012-07-16T18:09:12Z Ann <ann@example.com>
comments [posts] 2012-07-17T10:00:00Z Ann <ann@example.com>
`

func TestResolve_AssignsChainedIDs(t *testing.T) {
	p := mustResolve(t, chainPlan)

	seen := make(map[string]bool)
	for _, e := range p.Entries() {
		id := e.EntryID()
		if !sha1Hex.MatchString(id) {
			t.Errorf("Entry %s has malformed id %q", e.EntryName(), id)
		}
		if seen[id] {
			t.Errorf("Entry %s repeats id %s", e.EntryName(), id)
		}
		seen[id] = true
	}
}

func TestResolve_ChainProperty(t *testing.T) {
	// Identical plans except the posts note differs: ids before posts
	// match, ids from posts onward all differ.
	altered := `%project=flipr
users 2012-07-16T17:24:07Z Ann <ann@example.com> # users table
posts [users] 2012-07-16T18:07:26Z Ann <ann@example.com> # posts table v2
@v1.0.0 2012-07-16T18:09:12Z Ann <ann@example.com>
comments [posts] 2012-07-17T10:00:00Z Ann <ann@example.com>
`
	a := mustResolve(t, chainPlan)
	b := mustResolve(t, altered)

	ae, be := a.Entries(), b.Entries()
	if len(ae) != len(be) {
		t.Fatalf("Plans differ in length: %d vs %d", len(ae), len(be))
	}
	if ae[0].EntryID() != be[0].EntryID() {
		t.Error("Entry before the edit should keep its id")
	}
	for i := 1; i < len(ae); i++ {
		if ae[i].EntryID() == be[i].EntryID() {
			t.Errorf("Entry %s at position %d should have a new id after an upstream edit", ae[i].EntryName(), i)
		}
	}
}

func TestResolve_DeterministicAcrossRuns(t *testing.T) {
	a := mustResolve(t, chainPlan)
	b := mustResolve(t, chainPlan)
	for i := range a.Entries() {
		if a.Entries()[i].EntryID() != b.Entries()[i].EntryID() {
			t.Fatalf("Ids are not deterministic at position %d", i)
		}
	}
}

func TestResolve_UnknownDependency(t *testing.T) {
	p := mustParse(t, `%project=flipr
posts [users] 2012-07-16T18:07:26Z Ann <ann@example.com>
`)
	err := Resolve(p)
	if err == nil {
		t.Fatal("Expected DependencyError, got nil")
	}
	if !IsDependencyError(err) {
		t.Fatalf("Expected *DependencyError, got %T", err)
	}
	derr := err.(*DependencyError)
	if derr.Change != "posts" || derr.Missing != "users" {
		t.Errorf("Unexpected error fields: %+v", derr)
	}
}

func TestResolve_ForwardReferenceRejected(t *testing.T) {
	// posts depends on a change declared after it in the plan.
	p := mustParse(t, `%project=flipr
posts [users] 2012-07-16T18:07:26Z Ann <ann@example.com>
users 2012-07-16T18:08:00Z Ann <ann@example.com>
`)
	if err := Resolve(p); !IsDependencyError(err) {
		t.Fatalf("Expected *DependencyError for forward reference, got %v", err)
	}
}

func TestResolve_ExternalDependencyStaysOpaque(t *testing.T) {
	p := mustResolve(t, `%project=flipr
users [infra:roles] 2012-07-16T17:24:07Z Ann <ann@example.com>
`)
	if id := p.GetChange("users").ID(); !sha1Hex.MatchString(id) {
		t.Errorf("Change with external dependency should still resolve, got id %q", id)
	}
}

func TestVerifyChain_DetectsTampering(t *testing.T) {
	p := mustResolve(t, chainPlan)

	recorded := make(map[string]string)
	for _, e := range p.Entries() {
		recorded[e.EntryName()] = e.EntryID()
	}

	// Out-of-band edit of the users note after its id was recorded.
	tampered := mustParse(t, `%project=flipr
users 2012-07-16T17:24:07Z Ann <ann@example.com> # users table, edited
posts [users] 2012-07-16T18:07:26Z Ann <ann@example.com> # posts table
@v1.0.0 2012-07-16T18:09:12Z Ann <ann@example.com>
comments [posts] 2012-07-17T10:00:00Z Ann <ann@example.com>
`)
	err := VerifyChain(tampered, recorded)
	if !IsIntegrityError(err) {
		t.Fatalf("Expected *IntegrityError, got %v", err)
	}
	ierr := err.(*IntegrityError)
	if ierr.Entry != "users" {
		t.Errorf("IntegrityError should reference users, got %q", ierr.Entry)
	}
}

func TestVerifyChain_PassesOnUntouchedPlan(t *testing.T) {
	p := mustResolve(t, chainPlan)
	recorded := map[string]string{
		"users": p.GetChange("users").ID(),
		"posts": p.GetChange("posts").ID(),
	}
	fresh := mustParse(t, chainPlan)
	if err := VerifyChain(fresh, recorded); err != nil {
		t.Fatalf("VerifyChain failed on identical content: %v", err)
	}
}
