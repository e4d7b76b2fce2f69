package plan

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"
)

var tagLinePattern = regexp.MustCompile(`^@(\S+)\s+(\S+)\s+(.+?)\s+<([^>]+)>\s*(?:#\s*(.*))?$`)

// Load reads and parses the plan file at path.
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{File: path, Reason: err.Error()}
	}
	return Parse(path, string(data))
}

// Parse parses plan manifest text. The file argument is used for error
// reporting only. Parsing is purely syntactic: dependency targets are not
// resolved and no identities are computed; call Resolve for that.
func Parse(file, content string) (*Plan, error) {
	p := &Plan{File: file, SyntaxVersion: "1.0.0"}

	fail := func(n int, format string, args ...any) error {
		return &ParseError{File: file, Line: n, Reason: fmt.Sprintf(format, args...)}
	}

	rawLines := strings.Split(content, "\n")
	// A trailing newline produces one empty trailing element; it is the
	// line terminator, not a blank line.
	if n := len(rawLines); n > 0 && rawLines[n-1] == "" {
		rawLines = rawLines[:n-1]
	}

	seenEntry := false
	for i, raw := range rawLines {
		num := i + 1
		trimmed := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))

		switch {
		case trimmed == "":
			p.lines = append(p.lines, line{kind: lineBlank})

		case strings.HasPrefix(trimmed, "#"):
			p.lines = append(p.lines, line{kind: lineComment, raw: trimmed})

		case strings.HasPrefix(trimmed, "%"):
			if seenEntry {
				return nil, fail(num, "pragma %q after first entry", trimmed)
			}
			key, value, ok := strings.Cut(trimmed[1:], "=")
			if !ok {
				return nil, fail(num, "invalid pragma %q", trimmed)
			}
			key, value = strings.TrimSpace(key), strings.TrimSpace(value)
			switch key {
			case "syntax-version":
				p.SyntaxVersion = value
			case "project":
				if !projectNamePattern.MatchString(value) {
					return nil, fail(num, "invalid project name %q", value)
				}
				p.Project = value
			case "uri":
				p.URI = value
			default:
				// Unknown pragmas are ignored for forward compatibility,
				// but preserved on output.
			}
			p.lines = append(p.lines, line{kind: linePragma, pragma: key, value: value})

		case strings.HasPrefix(trimmed, "@"):
			tag, err := parseTagLine(trimmed)
			if err != nil {
				return nil, fail(num, "%v", err)
			}
			changes := p.Changes()
			if len(changes) == 0 {
				return nil, fail(num, "tag %q declared before any change", tag.Name)
			}
			last := changes[len(changes)-1]
			tag.Change = last
			last.Tags = append(last.Tags, tag.Name)
			p.entries = append(p.entries, tag)
			p.lines = append(p.lines, line{kind: lineTag, tag: tag})
			seenEntry = true

		default:
			change, err := parseChangeLine(trimmed)
			if err != nil {
				return nil, fail(num, "%v", err)
			}
			p.entries = append(p.entries, change)
			p.lines = append(p.lines, line{kind: lineChange, change: change})
			seenEntry = true
		}
	}

	if p.Project == "" {
		return nil, fail(0, "missing %%project pragma")
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	p.index()
	return p, nil
}

func parseTagLine(s string) (*Tag, error) {
	m := tagLinePattern.FindStringSubmatch(s)
	if m == nil {
		return nil, fmt.Errorf("invalid tag line %q", s)
	}
	name := m[1]
	if !tagNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid tag name %q", name)
	}
	ts, err := parseTimestamp(m[2])
	if err != nil {
		return nil, fmt.Errorf("tag %q: %v", name, err)
	}
	return &Tag{
		Name:         name,
		Timestamp:    ts,
		PlannerName:  strings.TrimSpace(m[3]),
		PlannerEmail: m[4],
		Note:         m[5],
	}, nil
}

func parseChangeLine(s string) (*Change, error) {
	note := ""
	if body, n, ok := strings.Cut(s, "#"); ok {
		s = strings.TrimSpace(body)
		note = strings.TrimSpace(n)
	}

	parts := strings.Fields(s)
	if len(parts) < 4 {
		return nil, fmt.Errorf("invalid change line %q", s)
	}

	name := parts[0]
	if !changeNamePattern.MatchString(name) {
		return nil, fmt.Errorf("invalid change name %q", name)
	}

	var deps []Dependency
	idx := 1
	if idx < len(parts) && strings.HasPrefix(parts[idx], "[") {
		depth := 0
		var tokens []string
		for idx < len(parts) {
			part := parts[idx]
			depth += strings.Count(part, "[") - strings.Count(part, "]")
			tokens = append(tokens, strings.Trim(part, "[]"))
			idx++
			if depth == 0 {
				break
			}
		}
		if depth != 0 {
			return nil, fmt.Errorf("unbalanced dependency brackets in change %q", name)
		}
		for _, tok := range tokens {
			if tok == "" {
				continue
			}
			dep, err := ParseDependency(tok)
			if err != nil {
				return nil, fmt.Errorf("change %q: %v", name, err)
			}
			deps = append(deps, dep)
		}
	}

	rest := parts[idx:]
	if len(rest) < 3 {
		return nil, fmt.Errorf("missing timestamp or planner in change %q", name)
	}
	ts, err := parseTimestamp(rest[0])
	if err != nil {
		return nil, fmt.Errorf("change %q: %v", name, err)
	}

	planner := strings.Join(rest[1:], " ")
	open := strings.IndexByte(planner, '<')
	end := strings.IndexByte(planner, '>')
	if open < 0 || end < open {
		return nil, fmt.Errorf("missing planner email in change %q", name)
	}

	return &Change{
		Name:         name,
		Note:         note,
		Dependencies: deps,
		Timestamp:    ts,
		PlannerName:  strings.TrimSpace(planner[:open]),
		PlannerEmail: planner[open+1 : end],
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q", s)
	}
	return ts.UTC(), nil
}

// validate performs the cheap syntactic checks the parser owns: duplicate
// names and timestamp ordering. Dependency resolution is Resolve's job.
func (p *Plan) validate() error {
	changeNames := make(map[string]bool)
	tagNames := make(map[string]bool)
	var prev time.Time
	var prevName string

	for _, l := range p.lines {
		switch l.kind {
		case lineChange:
			c := l.change
			if changeNames[c.Name] {
				return &ParseError{File: p.File, Reason: fmt.Sprintf("duplicate change name %q", c.Name)}
			}
			changeNames[c.Name] = true
			if !prev.IsZero() && c.Timestamp.Before(prev) {
				return &ParseError{File: p.File,
					Reason: fmt.Sprintf("change %q is planned earlier than preceding entry %q", c.Name, prevName)}
			}
			prev, prevName = c.Timestamp, c.Name
		case lineTag:
			t := l.tag
			if tagNames[t.Name] {
				return &ParseError{File: p.File, Reason: fmt.Sprintf("duplicate tag name %q", t.Name)}
			}
			tagNames[t.Name] = true
		}
	}
	return nil
}
