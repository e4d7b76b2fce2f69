package plan

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// TimeFormat is the timestamp layout used in plan files. All timestamps
// are UTC.
const TimeFormat = "2006-01-02T15:04:05Z"

var (
	changeNamePattern  = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	tagNamePattern     = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
	projectNamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]+$`)
)

// Dependency is a reference from a change to another change, by name.
// A reference with Project set resolves in another project's registry and
// is treated as opaque here. Conflict references declare changes that must
// not be deployed alongside the declaring change.
type Dependency struct {
	Conflict bool
	Project  string
	Name     string
}

// ParseDependency parses the plan-file form of a dependency reference:
// "name", "project:name", or either prefixed with "!" for a conflict.
func ParseDependency(s string) (Dependency, error) {
	var d Dependency
	if strings.HasPrefix(s, "!") {
		d.Conflict = true
		s = s[1:]
	}
	if i := strings.IndexByte(s, ':'); i >= 0 {
		d.Project = s[:i]
		s = s[i+1:]
		if !projectNamePattern.MatchString(d.Project) {
			return d, fmt.Errorf("invalid project name %q in dependency", d.Project)
		}
	}
	if !changeNamePattern.MatchString(s) {
		return d, fmt.Errorf("invalid change name %q in dependency", s)
	}
	d.Name = s
	return d, nil
}

// External reports whether the dependency resolves in another project.
func (d Dependency) External() bool { return d.Project != "" }

// String renders the dependency in plan-file form.
func (d Dependency) String() string {
	var b strings.Builder
	if d.Conflict {
		b.WriteByte('!')
	}
	if d.Project != "" {
		b.WriteString(d.Project)
		b.WriteByte(':')
	}
	b.WriteString(d.Name)
	return b.String()
}

// Change is a named, atomic schema modification with deploy, revert and
// verify scripts. Once a later tag has been recorded the change is
// released and must not be edited; rework requires a new change.
type Change struct {
	Name         string
	Note         string
	Dependencies []Dependency // declared order, requires and conflicts interleaved
	Timestamp    time.Time
	PlannerName  string
	PlannerEmail string

	// Tags holds the names of tags recorded against this change, in
	// plan order.
	Tags []string

	id string
}

// ID returns the chained content identity assigned by Resolve, or the
// empty string before resolution.
func (c *Change) ID() string { return c.id }

// Requires returns the non-conflict dependencies in declared order.
func (c *Change) Requires() []Dependency {
	var out []Dependency
	for _, d := range c.Dependencies {
		if !d.Conflict {
			out = append(out, d)
		}
	}
	return out
}

// Conflicts returns the conflict references in declared order.
func (c *Change) Conflicts() []Dependency {
	var out []Dependency
	for _, d := range c.Dependencies {
		if d.Conflict {
			out = append(out, d)
		}
	}
	return out
}

// Tag marks a change as released. Everything at or before a tag is
// immutable history.
type Tag struct {
	Name         string
	Note         string
	Timestamp    time.Time
	PlannerName  string
	PlannerEmail string

	// Change is the change this tag marks: the nearest preceding change
	// in the plan.
	Change *Change

	id string
}

// ID returns the chained content identity assigned by Resolve, or the
// empty string before resolution.
func (t *Tag) ID() string { return t.id }

// Entry is a plan entry: a *Change or a *Tag.
type Entry interface {
	EntryName() string
	EntryID() string
	Planned() time.Time
}

func (c *Change) EntryName() string { return c.Name }
func (c *Change) EntryID() string   { return c.id }
func (c *Change) Planned() time.Time {
	return c.Timestamp
}

func (t *Tag) EntryName() string { return "@" + t.Name }
func (t *Tag) EntryID() string   { return t.id }
func (t *Tag) Planned() time.Time {
	return t.Timestamp
}

// lineKind distinguishes the physical line types of a plan file. Blank
// and comment lines carry no semantics but are kept for round-trip
// output fidelity.
type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	linePragma
	lineChange
	lineTag
)

type line struct {
	kind    lineKind
	raw     string // blank and comment lines only
	pragma  string // pragma lines: key
	value   string // pragma lines: value
	change  *Change
	tag     *Tag
}

// Plan is an ordered manifest of changes and tags for one project.
// Insertion order is deployment order. A parsed, resolved Plan is
// immutable and safe for concurrent reads.
type Plan struct {
	File          string
	Project       string
	URI           string
	SyntaxVersion string

	entries []Entry
	lines   []line

	changeIndex map[string]*Change
	tagIndex    map[string]*Tag
	resolved    bool
}

// Entries returns the plan entries in deployment order.
func (p *Plan) Entries() []Entry { return p.entries }

// Changes returns only the change entries, in deployment order.
func (p *Plan) Changes() []*Change {
	out := make([]*Change, 0, len(p.entries))
	for _, e := range p.entries {
		if c, ok := e.(*Change); ok {
			out = append(out, c)
		}
	}
	return out
}

// Tags returns only the tag entries, in plan order.
func (p *Plan) Tags() []*Tag {
	out := make([]*Tag, 0)
	for _, e := range p.entries {
		if t, ok := e.(*Tag); ok {
			out = append(out, t)
		}
	}
	return out
}

// GetChange looks a change up by name, or by ID if the plan has been
// resolved.
func (p *Plan) GetChange(identifier string) *Change {
	if c, ok := p.changeIndex[identifier]; ok {
		return c
	}
	if p.resolved {
		for _, c := range p.Changes() {
			if c.id == identifier {
				return c
			}
		}
	}
	return nil
}

// GetTag looks a tag up by name, with or without the leading "@".
func (p *Plan) GetTag(name string) *Tag {
	return p.tagIndex[strings.TrimPrefix(name, "@")]
}

// AddTag records a tag against the most recent change and appends it
// to the manifest. The name may carry a leading "@" and must be unused;
// the plan must already contain a change. Identities are reassigned so
// the new tag joins the chain.
func (p *Plan) AddTag(name, note, plannerName, plannerEmail string, timestamp time.Time) (*Tag, error) {
	name = strings.TrimPrefix(name, "@")
	if !tagNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid tag name %q", name)
	}
	if _, ok := p.tagIndex[name]; ok {
		return nil, fmt.Errorf("tag %q already exists", name)
	}
	changes := p.Changes()
	if len(changes) == 0 {
		return nil, fmt.Errorf("cannot tag an empty plan")
	}

	last := changes[len(changes)-1]
	tag := &Tag{
		Name:         name,
		Note:         note,
		Timestamp:    timestamp.UTC(),
		PlannerName:  plannerName,
		PlannerEmail: plannerEmail,
		Change:       last,
	}
	last.Tags = append(last.Tags, name)
	p.entries = append(p.entries, tag)
	p.lines = append(p.lines, line{kind: lineTag, tag: tag})
	p.tagIndex[name] = tag

	if err := Resolve(p); err != nil {
		return nil, err
	}
	return tag, nil
}

// Resolved reports whether Resolve has assigned identities.
func (p *Plan) Resolved() bool { return p.resolved }

// Tagged reports whether the change sits at or before a tag in the plan,
// which makes it immutable released history.
func (p *Plan) Tagged(c *Change) bool {
	seen := false
	for i := len(p.entries) - 1; i >= 0; i-- {
		if _, ok := p.entries[i].(*Tag); ok {
			seen = true
			continue
		}
		if p.entries[i] == c {
			return seen
		}
	}
	return false
}

func (p *Plan) index() {
	p.changeIndex = make(map[string]*Change)
	p.tagIndex = make(map[string]*Tag)
	for _, e := range p.entries {
		switch v := e.(type) {
		case *Change:
			p.changeIndex[v.Name] = v
		case *Tag:
			p.tagIndex[v.Name] = v
		}
	}
}
