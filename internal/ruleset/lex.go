package ruleset

import "strings"

// lineKind classifies a single physical line of a rule file. Comment-ness
// is checked before indentation, so a "#" comment may appear indented
// inside a rule block without being mistaken for a command.
type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineHeader
	lineCommand
	lineOther // non-blank, non-comment, non-indented, no ':' — malformed at top level
)

func classify(text string) lineKind {
	trimmed := strings.TrimLeft(text, " \t")
	if trimmed == "" {
		return lineBlank
	}
	if trimmed[0] == '#' {
		return lineComment
	}
	if text[0] == '\t' || text[0] == ' ' {
		return lineCommand
	}
	if strings.Contains(text, ":") {
		return lineHeader
	}
	return lineOther
}

// commandBody strips the indentation from a command line: exactly one
// leading tab if the line was tab-indented, or the full run of leading
// whitespace if it was space-indented.
func commandBody(text string) string {
	if text[0] == '\t' {
		return text[1:]
	}
	i := 0
	for i < len(text) && (text[i] == ' ' || text[i] == '\t') {
		i++
	}
	return text[i:]
}

// splitHeader separates a header line into its target list and prerequisite
// list at the first ':'. Names on either side are whitespace-separated
// runs of non-whitespace characters (NAME in the grammar).
func splitHeader(text string) (targets, prereqs []string) {
	left, right, _ := strings.Cut(text, ":")
	targets = strings.Fields(left)
	if fields := strings.Fields(right); len(fields) > 0 {
		prereqs = fields
	}
	return targets, prereqs
}
