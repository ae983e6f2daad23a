package contextpack

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// contextLines is how many unchanged lines are kept around each change.
const contextLines = 3

type line struct {
	op   diffmatchpatch.Operation
	text string
}

// Unified renders a line-level diff between before and after in unified
// style. Long unchanged stretches are collapsed to an "@@" marker. Equal
// inputs produce an empty string.
func Unified(path, before, after string) string {
	if before == after {
		return ""
	}
	dmp := diffmatchpatch.New()
	a, b, index := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), index)

	var lines []line
	for _, d := range diffs {
		for _, l := range splitLines(d.Text) {
			lines = append(lines, line{op: d.Type, text: l})
		}
	}

	var sb strings.Builder
	sb.WriteString("--- a/" + path + "\n")
	sb.WriteString("+++ b/" + path + "\n")
	skipped := false
	for i, l := range lines {
		if l.op == diffmatchpatch.DiffEqual && !nearChange(lines, i) {
			if !skipped {
				sb.WriteString("@@\n")
				skipped = true
			}
			continue
		}
		skipped = false
		switch l.op {
		case diffmatchpatch.DiffInsert:
			sb.WriteString("+")
		case diffmatchpatch.DiffDelete:
			sb.WriteString("-")
		case diffmatchpatch.DiffEqual:
			sb.WriteString(" ")
		}
		sb.WriteString(l.text)
		sb.WriteString("\n")
	}
	return sb.String()
}

func nearChange(lines []line, i int) bool {
	lo, hi := max(0, i-contextLines), min(len(lines)-1, i+contextLines)
	for j := lo; j <= hi; j++ {
		if lines[j].op != diffmatchpatch.DiffEqual {
			return true
		}
	}
	return false
}

// splitLines splits s into lines without their terminators. A missing final
// newline still yields the last line.
func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	s = strings.TrimSuffix(s, "\n")
	return strings.Split(s, "\n")
}
