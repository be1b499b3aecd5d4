package ruleset

import "strings"

// Format renders rs in canonical rule-file form: one header line per
// rule, prerequisites space-separated after the colon, each command on
// its own tab-indented line, blocks separated by a blank line. Parsing
// the result yields an equal RuleSet (multi-target headers are expanded
// to one block per target, which parses back to the same rules).
func (rs *RuleSet) Format() string {
	var b strings.Builder
	for i, r := range rs.Rules {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(r.Target)
		b.WriteByte(':')
		for _, p := range r.Prerequisites {
			b.WriteByte(' ')
			b.WriteString(p)
		}
		b.WriteByte('\n')
		for _, c := range r.Commands {
			b.WriteByte('\t')
			b.WriteString(c)
			b.WriteByte('\n')
		}
	}
	return b.String()
}
