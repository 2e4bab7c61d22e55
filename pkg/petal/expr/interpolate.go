package expr

import "regexp"

// Match describes one inline expression marker found in literal text.
type Match struct {
	Start      int    // byte offset of the marker
	End        int    // byte offset just past the marker
	Expression string // the marker's expression text
}

var interpolationRE = regexp.MustCompile(
	`\$(\{(?P<expression>[^}]*)\}|(?P<variable>[A-Za-z_][A-Za-z0-9_]*))`)

// Interpolate scans text for the first inline expression marker, either
// ${expression} or $variable. It returns nil when no marker remains.
func Interpolate(text string) *Match {
	loc := interpolationRE.FindStringSubmatchIndex(text)
	if loc == nil {
		return nil
	}

	m := &Match{Start: loc[0], End: loc[1]}
	if loc[4] >= 0 {
		m.Expression = text[loc[4]:loc[5]]
	} else {
		m.Expression = text[loc[6]:loc[7]]
	}
	return m
}
