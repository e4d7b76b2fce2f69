package engine

import (
	"os"
	"regexp"
	"sort"
	"strings"
)

// ReadScript loads a script file and applies raw variable substitution.
// Tokens of the form :name are replaced when name is present in vars;
// quoting is the script author's concern.
func ReadScript(path string, vars map[string]string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", &ScriptError{Script: path, Err: err}
	}
	return SubstituteVariables(string(data), vars), nil
}

// SubstituteVariables replaces :name tokens with their values. Longer
// names are substituted first so :foobar is never clobbered by :foo.
func SubstituteVariables(script string, vars map[string]string) string {
	if len(vars) == 0 {
		return script
	}
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})
	for _, name := range names {
		re := regexp.MustCompile(`:` + regexp.QuoteMeta(name) + `\b`)
		script = re.ReplaceAllString(script, vars[name])
	}
	return script
}

// SplitOptions selects the delimiter conventions of an engine.
type SplitOptions struct {
	// DollarQuoting honors PostgreSQL $tag$ ... $tag$ bodies.
	DollarQuoting bool

	// BeginEnd keeps BEGIN ... END blocks (trigger bodies and the like)
	// in one statement, as SQLite and MySQL require.
	BeginEnd bool
}

var dollarTag = regexp.MustCompile(`^\$[A-Za-z_]*\$`)

// SplitStatements splits a script into executable statements on
// semicolons, honoring single and double quotes, line and block
// comments, and the engine conventions selected in opts. Empty
// statements are dropped.
func SplitStatements(script string, opts SplitOptions) []string {
	var (
		stmts []string
		b     strings.Builder
		depth int  // BEGIN...END nesting
		prev  byte // last byte copied, for word boundaries
		i     int
	)

	flush := func() {
		s := strings.TrimSpace(b.String())
		b.Reset()
		prev = 0
		if s != "" {
			stmts = append(stmts, s)
		}
	}

	write := func(s string) {
		b.WriteString(s)
		if len(s) > 0 {
			prev = s[len(s)-1]
		}
	}

	for i < len(script) {
		rest := script[i:]

		switch {
		case strings.HasPrefix(rest, "--"):
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			write(rest[:end])
			i += end

		case strings.HasPrefix(rest, "/*"):
			end := strings.Index(rest, "*/")
			if end < 0 {
				end = len(rest)
			} else {
				end += 2
			}
			write(rest[:end])
			i += end

		case rest[0] == '\'' || rest[0] == '"':
			q := rest[0]
			end := 1
			for end < len(rest) {
				if rest[end] == q {
					// Doubled quote is an escaped quote, not a close.
					if end+1 < len(rest) && rest[end+1] == q {
						end += 2
						continue
					}
					end++
					break
				}
				end++
			}
			write(rest[:end])
			i += end

		case opts.DollarQuoting && rest[0] == '$':
			if tag := dollarTag.FindString(rest); tag != "" {
				body := strings.Index(rest[len(tag):], tag)
				end := len(rest)
				if body >= 0 {
					end = len(tag) + body + len(tag)
				}
				write(rest[:end])
				i += end
				break
			}
			write("$")
			i++

		case opts.BeginEnd && !isWordByte(prev) && hasKeyword(rest, "BEGIN"):
			depth++
			write(rest[:5])
			i += 5

		case opts.BeginEnd && depth > 0 && !isWordByte(prev) && hasKeyword(rest, "END"):
			depth--
			write(rest[:3])
			i += 3

		case rest[0] == ';' && depth == 0:
			flush()
			i++

		default:
			write(rest[:1])
			i++
		}
	}
	flush()
	return stmts
}

// hasKeyword reports whether s starts with the keyword as a whole word,
// case-insensitively, at a word boundary on both sides.
func hasKeyword(s, kw string) bool {
	if len(s) < len(kw) || !strings.EqualFold(s[:len(kw)], kw) {
		return false
	}
	if len(s) > len(kw) && isWordByte(s[len(kw)]) {
		return false
	}
	return true
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}
