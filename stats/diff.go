package stats

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

type Change struct {
	Key string
	Old string
	New string
}

// Fields diffs the two renderings of the row field by field.
func (c Change) Fields() []diffmatchpatch.Diff {
	dmp := diffmatchpatch.New()
	a, b, fields := dmp.DiffLinesToChars(fieldLines(c.Old), fieldLines(c.New))
	diffs := dmp.DiffMain(a, b, false)
	return dmp.DiffCharsToLines(diffs, fields)
}

// Pretty renders the row with removed fields as [-old-] and added fields
// as {+new+}.
func (c Change) Pretty() string {
	var sb strings.Builder
	for _, d := range c.Fields() {
		for _, f := range splitLines(d.Text) {
			if sb.Len() > 0 {
				sb.WriteString("\t")
			}
			switch d.Type {
			case diffmatchpatch.DiffDelete:
				sb.WriteString("[-" + f + "-]")
			case diffmatchpatch.DiffInsert:
				sb.WriteString("{+" + f + "+}")
			default:
				sb.WriteString(f)
			}
		}
	}
	return sb.String()
}

// Changes lists what happened to the rows between two snapshots.
type Changes struct {
	Added     []string
	Removed   []string
	Changed   []Change
	Unchanged int
}

// Diff compares two snapshots key by key. Added and Changed follow the row
// order of to, Removed the row order of from.
func Diff(from, to *Snapshot) *Changes {
	c := &Changes{}

	var oldLine, newLine strings.Builder
	for _, key := range to.keys {
		if _, ok := from.rows[key]; !ok {
			c.Added = append(c.Added, key)
			continue
		}
		oldLine.Reset()
		newLine.Reset()
		from.writeLine(&oldLine, key)
		to.writeLine(&newLine, key)
		if oldLine.String() == newLine.String() {
			c.Unchanged++
			continue
		}
		c.Changed = append(c.Changed, Change{Key: key, Old: oldLine.String(), New: newLine.String()})
	}

	for _, key := range from.keys {
		if _, ok := to.rows[key]; !ok {
			c.Removed = append(c.Removed, key)
		}
	}
	return c
}

// fieldLines puts every field of a row on its own line, the unit the line
// mode of diffmatchpatch works on.
func fieldLines(row string) string {
	return strings.ReplaceAll(row, "\t", "\n") + "\n"
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}
