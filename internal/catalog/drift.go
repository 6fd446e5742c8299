package catalog

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"

	"novelhub/pkg/models"
)

// HasLostContent reports whether updated drops any volume header or chapter line
// present in stored. Pure additions are not loss; a moved line shows up as a
// deletion plus an insertion and is reported. Neither catalog is modified.
func HasLostContent(stored, updated models.Catalog, titles models.TitleIndex) bool {
	for _, d := range LineDiff(Flatten(stored, titles), Flatten(updated, titles)) {
		if d.Type == diffmatchpatch.DiffDelete {
			return true
		}
	}
	return false
}

// LineDiff runs a line-level Myers diff. Every distinct line is encoded as a
// single rune, so no edit can split or join lines. The returned diffs carry
// newline-terminated line text.
func LineDiff(oldText, newText string) []diffmatchpatch.Diff {
	enc := lineEncoder{index: make(map[string]rune)}
	a := enc.encode(oldText)
	b := enc.encode(newText)

	dmp := diffmatchpatch.New()
	dmp.DiffTimeout = 0
	diffs := dmp.DiffMainRunes(a, b, false)
	for i := range diffs {
		diffs[i].Text = enc.decode(diffs[i].Text)
	}
	return diffs
}

// lineEncoder assigns one rune per distinct line, skipping the surrogate
// range, which is not valid in a Go string.
type lineEncoder struct {
	index map[string]rune
	lines []string
}

func (e *lineEncoder) encode(text string) []rune {
	if text == "" {
		return nil
	}
	text = strings.TrimSuffix(text, "\n")
	parts := strings.Split(text, "\n")
	out := make([]rune, 0, len(parts))
	for _, line := range parts {
		r, ok := e.index[line]
		if !ok {
			r = rune(len(e.lines) + 1)
			if r >= 0xD800 {
				r += 0x800
			}
			e.index[line] = r
			e.lines = append(e.lines, line)
		}
		out = append(out, r)
	}
	return out
}

func (e *lineEncoder) decode(s string) string {
	var b strings.Builder
	for _, r := range s {
		n := int(r)
		if r >= 0xE000 {
			n -= 0x800
		}
		b.WriteString(e.lines[n-1])
		b.WriteByte('\n')
	}
	return b.String()
}
