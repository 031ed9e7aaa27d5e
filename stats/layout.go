package stats

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Policy decides how an incoming value is combined with the stored one.
type Policy int

const (
	// Overwrite replaces the stored value when the incoming table has one.
	Overwrite Policy = iota
	// Accumulate adds the incoming value to the stored one, NF counting as zero.
	Accumulate
)

func (p Policy) String() string {
	switch p {
	case Overwrite:
		return "overwrite"
	case Accumulate:
		return "accumulate"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "overwrite":
		return Overwrite, nil
	case "accumulate":
		return Accumulate, nil
	default:
		return 0, errors.Errorf("unknown merge policy %q", s)
	}
}

type Column struct {
	Name   string
	Policy Policy
}

// Layout is the ordered column set of one statistics file. Column order is
// the order of the values after the article name in every row.
type Layout struct {
	cols  []Column
	index map[string]int
}

func NewLayout(cols ...Column) (*Layout, error) {
	if len(cols) == 0 {
		return nil, errors.New("layout needs at least one column")
	}
	l := &Layout{
		cols:  make([]Column, len(cols)),
		index: make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c.Name == "" {
			return nil, errors.Errorf("column %d has no name", i)
		}
		if _, dup := l.index[c.Name]; dup {
			return nil, errors.Errorf("duplicate column %q", c.Name)
		}
		if c.Policy != Overwrite && c.Policy != Accumulate {
			return nil, errors.Errorf("column %q: invalid %s", c.Name, c.Policy)
		}
		l.cols[i] = c
		l.index[c.Name] = i
	}
	return l, nil
}

func (l *Layout) Len() int {
	return len(l.cols)
}

func (l *Layout) Columns() []Column {
	out := make([]Column, len(l.cols))
	copy(out, l.cols)
	return out
}

func (l *Layout) Index(name string) (int, bool) {
	i, ok := l.index[name]
	return i, ok
}

func (l *Layout) Names() []string {
	names := make([]string, len(l.cols))
	for i, c := range l.cols {
		names[i] = c.Name
	}
	return names
}

func (l *Layout) emptyRow() []Value {
	row := make([]Value, len(l.cols))
	for i := range row {
		row[i] = NotFound
	}
	return row
}
