package plan

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const basicPlan = `%syntax-version=1.0.0
%project=flipr
%uri=https://github.com/example/flipr

# Core schema.
users 2012-07-16T17:24:07Z Marge N. O'Vera <marge@example.com> # Creates users table
posts [users] 2012-07-16T18:07:26Z Marge N. O'Vera <marge@example.com> # Adds posts
@v1.0.0 2012-07-16T18:09:12Z Marge N. O'Vera <marge@example.com> # First release
`

func TestParse_Basic(t *testing.T) {
	p, err := Parse("flipr.plan", basicPlan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if p.Project != "flipr" {
		t.Errorf("Expected project flipr, got %q", p.Project)
	}
	if p.URI != "https://github.com/example/flipr" {
		t.Errorf("Unexpected URI %q", p.URI)
	}
	if p.SyntaxVersion != "1.0.0" {
		t.Errorf("Unexpected syntax version %q", p.SyntaxVersion)
	}

	changes := p.Changes()
	if len(changes) != 2 {
		t.Fatalf("Expected 2 changes, got %d", len(changes))
	}
	if changes[0].Name != "users" || changes[1].Name != "posts" {
		t.Errorf("Unexpected change order: %s, %s", changes[0].Name, changes[1].Name)
	}
	if changes[0].Note != "Creates users table" {
		t.Errorf("Unexpected note %q", changes[0].Note)
	}
	if changes[0].PlannerName != "Marge N. O'Vera" {
		t.Errorf("Unexpected planner name %q", changes[0].PlannerName)
	}
	if changes[0].PlannerEmail != "marge@example.com" {
		t.Errorf("Unexpected planner email %q", changes[0].PlannerEmail)
	}

	deps := changes[1].Dependencies
	if len(deps) != 1 || deps[0].Name != "users" || deps[0].Conflict {
		t.Errorf("Unexpected dependencies for posts: %+v", deps)
	}

	tags := p.Tags()
	if len(tags) != 1 {
		t.Fatalf("Expected 1 tag, got %d", len(tags))
	}
	if tags[0].Name != "v1.0.0" {
		t.Errorf("Unexpected tag name %q", tags[0].Name)
	}
	if tags[0].Change != changes[1] {
		t.Errorf("Tag should mark the posts change")
	}
	if len(changes[1].Tags) != 1 || changes[1].Tags[0] != "v1.0.0" {
		t.Errorf("posts should carry tag v1.0.0, got %v", changes[1].Tags)
	}
}

func TestParse_ConflictAndCrossProjectDeps(t *testing.T) {
	content := `%project=flipr
users 2012-07-16T17:24:07Z Ann <ann@example.com>
posts [users !legacy_posts infra:roles] 2012-07-16T18:07:26Z Ann <ann@example.com>
`
	p, err := Parse("flipr.plan", content)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	posts := p.GetChange("posts")
	if posts == nil {
		t.Fatal("posts change not found")
	}
	if len(posts.Dependencies) != 3 {
		t.Fatalf("Expected 3 dependencies, got %d", len(posts.Dependencies))
	}

	conflicts := posts.Conflicts()
	if len(conflicts) != 1 || conflicts[0].Name != "legacy_posts" {
		t.Errorf("Unexpected conflicts: %+v", conflicts)
	}

	requires := posts.Requires()
	if len(requires) != 2 {
		t.Fatalf("Expected 2 requires, got %d", len(requires))
	}
	if !requires[1].External() || requires[1].Project != "infra" || requires[1].Name != "roles" {
		t.Errorf("Unexpected cross-project dependency: %+v", requires[1])
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing project pragma",
			content: "users 2012-07-16T17:24:07Z Ann <ann@example.com>\n",
			want:    "%project",
		},
		{
			name:    "pragma after entry",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann <ann@example.com>\n%uri=x\n",
			want:    "after first entry",
		},
		{
			name:    "tag before any change",
			content: "%project=p\n@v1 2012-07-16T17:24:07Z Ann <ann@example.com>\n",
			want:    "before any change",
		},
		{
			name:    "malformed timestamp",
			content: "%project=p\nusers 2012-07-16 Ann <ann@example.com>\n",
			want:    "invalid timestamp",
		},
		{
			name:    "unbalanced brackets",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann <ann@example.com>\nposts [users 2012-07-16T18:00:00Z Ann <ann@example.com>\n",
			want:    "unbalanced",
		},
		{
			name:    "duplicate change name",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann <ann@example.com>\nusers 2012-07-16T18:00:00Z Ann <ann@example.com>\n",
			want:    "duplicate change",
		},
		{
			name:    "duplicate tag name",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann <ann@example.com>\n@v1 2012-07-16T18:00:00Z Ann <ann@example.com>\n@v1 2012-07-16T18:01:00Z Ann <ann@example.com>\n",
			want:    "duplicate tag",
		},
		{
			name:    "missing email",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann\n",
			want:    "invalid change line",
		},
		{
			name:    "timestamp regression",
			content: "%project=p\nusers 2012-07-16T17:24:07Z Ann <ann@example.com>\nposts 2012-07-16T12:00:00Z Ann <ann@example.com>\n",
			want:    "planned earlier",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse("test.plan", tt.content)
			if err == nil {
				t.Fatal("Expected a parse error, got nil")
			}
			if !IsParseError(err) {
				t.Errorf("Expected *ParseError, got %T", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Error %q does not mention %q", err.Error(), tt.want)
			}
		})
	}
}

func TestParse_BlankLinesAndCommentsPreserved(t *testing.T) {
	p, err := Parse("flipr.plan", basicPlan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	out := p.Format()
	if out != basicPlan {
		t.Errorf("Round trip not byte-identical.\nwant:\n%q\ngot:\n%q", basicPlan, out)
	}
}

func TestFormat_RoundTripTwice(t *testing.T) {
	p, err := Parse("flipr.plan", basicPlan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	again, err := Parse("flipr.plan", p.Format())
	if err != nil {
		t.Fatalf("Reparse failed: %v", err)
	}
	if again.Format() != p.Format() {
		t.Error("Formatting is not a fixed point")
	}
}

func TestPlan_Tagged(t *testing.T) {
	content := `%project=p
users 2012-07-16T17:24:07Z Ann <ann@example.com>
@v1 2012-07-16T18:00:00Z Ann <ann@example.com>
widgets 2012-07-17T09:00:00Z Ann <ann@example.com>
`
	p, err := Parse("p.plan", content)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if !p.Tagged(p.GetChange("users")) {
		t.Error("users precedes @v1 and should be immutable")
	}
	if p.Tagged(p.GetChange("widgets")) {
		t.Error("widgets follows the last tag and should be mutable")
	}
}

func TestParseDependency_Forms(t *testing.T) {
	d, err := ParseDependency("!other:legacy")
	if err != nil {
		t.Fatalf("ParseDependency failed: %v", err)
	}
	if !d.Conflict || d.Project != "other" || d.Name != "legacy" {
		t.Errorf("Unexpected dependency %+v", d)
	}
	if d.String() != "!other:legacy" {
		t.Errorf("Unexpected string form %q", d.String())
	}

	if _, err := ParseDependency("bad name"); err == nil {
		t.Error("Expected error for invalid dependency name")
	}
}

func TestAddTag_AppendsAndChains(t *testing.T) {
	p, err := Parse("flipr.plan", basicPlan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if err := Resolve(p); err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	when := time.Date(2012, 8, 1, 12, 0, 0, 0, time.UTC)
	tag, err := p.AddTag("@v1.1.0", "Second release", "Marge N. O'Vera", "marge@example.com", when)
	if err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}

	if tag.Change == nil || tag.Change.Name != "posts" {
		t.Errorf("Tag bound to %+v, want the posts change", tag.Change)
	}
	if p.GetTag("v1.1.0") != tag {
		t.Error("New tag not reachable through GetTag")
	}
	if len(tag.ID()) != 40 {
		t.Errorf("Tag has no chained identity: %q", tag.ID())
	}
	if got := tag.Change.Tags; len(got) != 2 || got[1] != "v1.1.0" {
		t.Errorf("Change tag names = %v, want [v1.0.0 v1.1.0]", got)
	}
	if !p.Tagged(p.GetChange("posts")) {
		t.Error("posts should be released history after tagging")
	}

	line := "@v1.1.0 2012-08-01T12:00:00Z Marge N. O'Vera <marge@example.com> # Second release"
	if !strings.Contains(p.Format(), line+"\n") {
		t.Errorf("Formatted plan missing %q:\n%s", line, p.Format())
	}

	// The manifest must survive a reparse with identical identities.
	again, err := Parse("flipr.plan", p.Format())
	if err != nil {
		t.Fatalf("Reparse failed: %v", err)
	}
	if err := Resolve(again); err != nil {
		t.Fatalf("Resolve of reparse failed: %v", err)
	}
	if got := again.GetTag("v1.1.0").ID(); got != tag.ID() {
		t.Errorf("Reparsed tag id = %s, want %s", got, tag.ID())
	}
}

func TestAddTag_Rejections(t *testing.T) {
	p, err := Parse("flipr.plan", basicPlan)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	now := time.Now()
	if _, err := p.AddTag("v1.0.0", "", "x", "x@example.com", now); err == nil {
		t.Error("Expected error for duplicate tag name")
	}
	if _, err := p.AddTag("bad name", "", "x", "x@example.com", now); err == nil {
		t.Error("Expected error for invalid tag name")
	}

	empty, err := Parse("e.plan", "%project=empty\n")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if _, err := empty.AddTag("v1", "", "x", "x@example.com", now); err == nil {
		t.Error("Expected error tagging a plan with no changes")
	}
}

func TestSave_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flipr.plan")
	if err := os.WriteFile(path, []byte(basicPlan), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if _, err := p.AddTag("v1.1.0", "", "Marge N. O'Vera", "marge@example.com", time.Now()); err != nil {
		t.Fatalf("AddTag failed: %v", err)
	}
	if err := p.Save(); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load after Save failed: %v", err)
	}
	if reloaded.GetTag("v1.1.0") == nil {
		t.Error("Saved plan lost the new tag")
	}
	if got, want := len(reloaded.Entries()), len(p.Entries()); got != want {
		t.Errorf("Reloaded plan has %d entries, want %d", got, want)
	}
}
