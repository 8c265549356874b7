// Package truncate provides the head/tail truncation-with-marker
// convention used by the bash tool and the evaluator's stdout capture,
// grounded on the teacher's limitedBuffer (exec/manager.go) and
// read-tool truncation flag (files/read.go) idioms.
package truncate

import "fmt"

// DefaultMaxBytes is the default ceiling applied to tool output and
// captured stdout before it is handed back to a worker's prompt.
const DefaultMaxBytes = 50_000

// Result is a truncated byte string plus bookkeeping about what was cut.
type Result struct {
	Text      string
	Truncated bool
	TotalLen  int
}

// Bytes truncates s to at most max bytes, keeping the head and a small
// tail and inserting an omitted-byte-count marker between them, so a
// worker can tell at a glance that it is looking at a partial view.
func Bytes(s string, max int) Result {
	if max <= 0 {
		max = DefaultMaxBytes
	}
	if len(s) <= max {
		return Result{Text: s, Truncated: false, TotalLen: len(s)}
	}
	tail := max / 5
	if tail > 2000 {
		tail = 2000
	}
	head := max - tail
	if head < 0 {
		head = max
		tail = 0
	}
	omitted := len(s) - head - tail
	marker := fmt.Sprintf("\n...(%d bytes omitted)...\n", omitted)
	return Result{
		Text:      s[:head] + marker + s[len(s)-tail:],
		Truncated: true,
		TotalLen:  len(s),
	}
}

// Lines truncates a slice of lines to at most max entries, keeping the
// head and tail with an omitted-count marker in between. The grep, glob
// and ls tools do not call it: they cut their result lists to a fixed
// count and set a truncated flag instead.
func Lines(lines []string, max int) (out []string, truncated bool, total int) {
	total = len(lines)
	if max <= 0 || len(lines) <= max {
		return lines, false, total
	}
	tail := max / 5
	head := max - tail
	out = make([]string, 0, max+1)
	out = append(out, lines[:head]...)
	out = append(out, fmt.Sprintf("...(%d lines omitted)...", total-head-tail))
	out = append(out, lines[total-tail:]...)
	return out, true, total
}
