package ruleset

import (
	"bufio"
	"io"
)

// sourceLine is one physical line of a rule file, still carrying its
// leading whitespace so the parser can classify it.
type sourceLine struct {
	text string
	num  int
}

// readLines slurps a rule file into sourceLines, tracking line numbers
// for diagnostics. The grammar has no quoting and no continuation
// escapes, so no rune-level lookahead is needed.
func readLines(r io.Reader) ([]sourceLine, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var lines []sourceLine
	n := 0
	for scanner.Scan() {
		n++
		lines = append(lines, sourceLine{text: scanner.Text(), num: n})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}
