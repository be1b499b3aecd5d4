package ruleset

import (
	"io"
	"os"
	"strconv"

	"github.com/parallel-make/pmk/internal/builderr"
)

// parser walks the classified lines of one rule file, accumulating rules
// into a RuleSet. Parsing is driven by state functions: a state is
// simultaneously "what we're looking for" and "the code that looks for
// it". The grammar has no tokens below the line level, so states consume
// whole lines.
type parser struct {
	lines []sourceLine
	rs    *RuleSet
	seen  map[string]int // target -> line it was first declared on
}

// parseState is the parser's current expectation. It inspects the line at
// idx and returns the state to resume with and the absolute index of the
// next unconsumed line.
type parseState func(p *parser, idx int) (next parseState, nextIdx int, err error)

// ParseFile opens path and parses it as a rule file.
func ParseFile(path string) (*RuleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, builderr.Io(path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads a rule file from r and returns the rules it defines together
// with the default target (the first header's first target), or a
// *builderr.SyntaxError / wrapped I/O error.
func Parse(r io.Reader) (*RuleSet, error) {
	lines, err := readLines(r)
	if err != nil {
		return nil, builderr.Io("<rules>", err)
	}

	p := &parser{
		lines: lines,
		rs:    &RuleSet{},
		seen:  make(map[string]int),
	}

	state := parseTopLevel
	for i := 0; i < len(p.lines); {
		next, nextIdx, err := state(p, i)
		if err != nil {
			return nil, err
		}
		if nextIdx <= i {
			nextIdx = i + 1
		}
		i = nextIdx
		state = next
	}
	return p.rs, nil
}

// parseTopLevel expects blank lines, comments, or a rule header. A command
// line here (an indented line with no preceding header) is the
// "Command before target" syntax error.
func parseTopLevel(p *parser, idx int) (parseState, int, error) {
	line := p.lines[idx]
	switch classify(line.text) {
	case lineBlank, lineComment:
		return parseTopLevel, idx + 1, nil
	case lineCommand:
		return nil, 0, builderr.Syntax(line.num, "command before target")
	case lineHeader:
		return p.beginRuleBlock(idx)
	default:
		return nil, 0, builderr.Syntax(line.num, "expected a rule, found neither a target nor a comment")
	}
}

// beginRuleBlock parses one header line into one Rule per target named on
// it (all sharing the same prerequisite list), registers them, records the
// default target if this is the file's first header, and hands off to
// parseRuleBody to collect the shared command block.
func (p *parser) beginRuleBlock(idx int) (parseState, int, error) {
	line := p.lines[idx]
	targets, prereqs := splitHeader(line.text)
	if len(targets) == 0 {
		return nil, 0, builderr.Syntax(line.num, "rule has no target")
	}

	rules := make([]*Rule, len(targets))
	for i, t := range targets {
		if prior, dup := p.seen[t]; dup {
			return nil, 0, builderr.Syntax(line.num, "duplicate target \""+t+"\" (first defined on line "+strconv.Itoa(prior)+")")
		}
		p.seen[t] = line.num
		r := &Rule{Target: t, Prerequisites: prereqs, Line: line.num}
		rules[i] = r
		p.rs.Rules = append(p.rs.Rules, r)
	}
	if p.rs.DefaultTarget == "" {
		p.rs.DefaultTarget = rules[0].Target
	}

	return p.parseRuleBody(rules, idx+1)
}

// parseRuleBody consumes every line that belongs to the rule block started
// at idx: commands are appended to every rule the header named, blank
// lines and comments are skipped, and the block ends at EOF or at the next
// non-blank, non-comment, non-indented line (re-dispatched at top level).
func (p *parser) parseRuleBody(rules []*Rule, idx int) (parseState, int, error) {
	for idx < len(p.lines) {
		line := p.lines[idx]
		switch classify(line.text) {
		case lineBlank, lineComment:
			idx++
		case lineCommand:
			cmd := commandBody(line.text)
			for _, r := range rules {
				r.Commands = append(r.Commands, cmd)
			}
			idx++
		default:
			return parseTopLevel, idx, nil
		}
	}
	return parseTopLevel, idx, nil
}
