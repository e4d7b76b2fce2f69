package plan

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
)

// ChainSeed is the parent identity of the first plan entry.
const ChainSeed = "0000000000000000000000000000000000000000"

// Resolve binds every dependency reference to a concrete prior entry and
// assigns each entry its chained SHA-1 identity. A bare dependency name
// binds to the nearest preceding change with that name; a project:name
// reference is external and stays opaque. Changing any field of an entry
// changes its identity and the identity of every entry after it.
func Resolve(p *Plan) error {
	seen := make(map[string]*Change)
	prev := ChainSeed

	for _, e := range p.entries {
		switch v := e.(type) {
		case *Change:
			depIDs := make([]string, len(v.Dependencies))
			for i, d := range v.Dependencies {
				if d.External() {
					// Contributes its literal reference to the hash; the
					// target project's registry resolves it at deploy time.
					depIDs[i] = d.Project + ":" + d.Name
					continue
				}
				target, ok := seen[d.Name]
				if !ok {
					return &DependencyError{Change: v.Name, Missing: d.Name}
				}
				depIDs[i] = target.id
			}
			v.id = entryID(p.Project, "change", v.Name, v.Timestamp.UTC().Format(TimeFormat),
				v.PlannerName, v.PlannerEmail, v.Note, depIDs, prev)
			seen[v.Name] = v
			prev = v.id

		case *Tag:
			v.id = entryID(p.Project, "tag", v.Name, v.Timestamp.UTC().Format(TimeFormat),
				v.PlannerName, v.PlannerEmail, v.Note, nil, prev)
			prev = v.id
		}
	}

	p.resolved = true
	return nil
}

// entryID computes the content identity of one plan entry. The encoding
// is length-prefix free but unambiguous: every field is newline-delimited
// and dependency ids are fixed-width hashes.
func entryID(project, kind, name, timestamp, planner, email, note string, depIDs []string, parent string) string {
	h := sha1.New()
	fmt.Fprintf(h, "project %s\n", project)
	fmt.Fprintf(h, "%s %s\n", kind, name)
	fmt.Fprintf(h, "planner %s <%s>\n", planner, email)
	fmt.Fprintf(h, "date %s\n", timestamp)
	for _, id := range depIDs {
		fmt.Fprintf(h, "requires %s\n", id)
	}
	fmt.Fprintf(h, "parent %s\n", parent)
	io.WriteString(h, note)
	return hex.EncodeToString(h.Sum(nil))
}

// VerifyChain recomputes the identity chain and compares it against
// previously recorded identities, keyed by entry name (tags prefixed with
// "@"). The first mismatch is reported as an IntegrityError. Entries
// without a recorded identity are ignored; they are pending work, not
// tampering.
func VerifyChain(p *Plan, recorded map[string]string) error {
	if !p.resolved {
		if err := Resolve(p); err != nil {
			return err
		}
	}
	for _, e := range p.entries {
		want, ok := recorded[e.EntryName()]
		if !ok {
			continue
		}
		if got := e.EntryID(); got != want {
			return &IntegrityError{Entry: e.EntryName(), Recorded: want, Computed: got}
		}
	}
	return nil
}
