package ignore

import (
	"regexp"
	"strings"
)

// Matcher decides which vault paths take part in snapshots.
// It is immutable once compiled and safe for concurrent use.
type Matcher struct {
	folder   string
	raw      string
	patterns []string
	compiled []*regexp.Regexp
}

// Compile builds a Matcher from the snapshot folder and a comma-separated
// list of prefix patterns where `*` matches any run of characters.
func Compile(snapshotFolder, patterns string) *Matcher {
	m := &Matcher{
		folder: CleanPath(snapshotFolder),
		raw:    patterns,
	}

	for _, pat := range splitPatterns(patterns) {
		m.patterns = append(m.patterns, pat)
		m.compiled = append(m.compiled, compilePattern(pat))
	}

	return m
}

// splitPatterns splits the comma-separated pattern string, trimming whitespace
// and leading slashes and dropping empty entries.
func splitPatterns(patterns string) []string {
	var out []string
	for _, part := range strings.Split(patterns, ",") {
		part = strings.TrimLeft(strings.TrimSpace(part), "/")
		if part == "" {
			continue
		}
		out = append(out, part)
	}
	return out
}

// CleanPath converts a folder setting into the vault-relative form used for matching
func CleanPath(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, "\\", "/"))
	p = strings.TrimPrefix(p, "./")
	return strings.Trim(p, "/")
}

// compilePattern anchors the pattern at the start of the path; every
// character other than `*` is literal, so a malformed pattern still compiles.
func compilePattern(pat string) *regexp.Regexp {
	parts := strings.Split(pat, "*")
	for i, part := range parts {
		parts[i] = regexp.QuoteMeta(part)
	}
	return regexp.MustCompile("^" + strings.Join(parts, ".*"))
}

// IsIgnored returns true if the path must not be tracked
func (m *Matcher) IsIgnored(path string) bool {
	path = strings.TrimLeft(path, "/")

	if m.folder != "" && (path == m.folder || strings.HasPrefix(path, m.folder+"/")) {
		return true
	}

	for _, re := range m.compiled {
		if re.MatchString(path) {
			return true
		}
	}

	return false
}

// Folder returns the snapshot folder that is always ignored
func (m *Matcher) Folder() string {
	return m.folder
}

// Patterns returns the parsed user patterns
func (m *Matcher) Patterns() []string {
	out := make([]string, len(m.patterns))
	copy(out, m.patterns)
	return out
}

// Matches reports whether the matcher was compiled from the given settings
func (m *Matcher) Matches(snapshotFolder, patterns string) bool {
	return m.folder == CleanPath(snapshotFolder) && m.raw == patterns
}
