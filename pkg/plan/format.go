package plan

import (
	"io"
	"os"
	"strings"
)

// Format renders the plan in canonical manifest form. Parsing a canonical
// manifest and formatting it again yields byte-identical text; blank
// lines and full-line comments are emitted in their original positions.
func (p *Plan) Format() string {
	var b strings.Builder
	for _, l := range p.lines {
		switch l.kind {
		case lineBlank:
			// nothing before the newline
		case lineComment:
			b.WriteString(l.raw)
		case linePragma:
			b.WriteByte('%')
			b.WriteString(l.pragma)
			b.WriteByte('=')
			b.WriteString(l.value)
		case lineChange:
			b.WriteString(formatChange(l.change))
		case lineTag:
			b.WriteString(formatTag(l.tag))
		}
		b.WriteByte('\n')
	}
	return b.String()
}

// WriteTo writes the canonical manifest to w.
func (p *Plan) WriteTo(w io.Writer) (int64, error) {
	n, err := io.WriteString(w, p.Format())
	return int64(n), err
}

// Save writes the canonical manifest back to the plan's file.
func (p *Plan) Save() error {
	f, err := os.Create(p.File)
	if err != nil {
		return err
	}
	if _, err := p.WriteTo(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func formatChange(c *Change) string {
	var b strings.Builder
	b.WriteString(c.Name)
	if len(c.Dependencies) > 0 {
		b.WriteString(" [")
		for i, d := range c.Dependencies {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteString(d.String())
		}
		b.WriteByte(']')
	}
	b.WriteByte(' ')
	b.WriteString(c.Timestamp.UTC().Format(TimeFormat))
	b.WriteByte(' ')
	b.WriteString(c.PlannerName)
	b.WriteString(" <")
	b.WriteString(c.PlannerEmail)
	b.WriteByte('>')
	if c.Note != "" {
		b.WriteString(" # ")
		b.WriteString(c.Note)
	}
	return b.String()
}

func formatTag(t *Tag) string {
	var b strings.Builder
	b.WriteByte('@')
	b.WriteString(t.Name)
	b.WriteByte(' ')
	b.WriteString(t.Timestamp.UTC().Format(TimeFormat))
	b.WriteByte(' ')
	b.WriteString(t.PlannerName)
	b.WriteString(" <")
	b.WriteString(t.PlannerEmail)
	b.WriteByte('>')
	if t.Note != "" {
		b.WriteString(" # ")
		b.WriteString(t.Note)
	}
	return b.String()
}
