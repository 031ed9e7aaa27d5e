package stats

import (
	"math"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Source feeds one column of a merge. Either Table or Predicate is set.
//
// A predicate source computes the value from the article key. It is applied
// to the keys of Table when one is given, otherwise to every key already in
// the working snapshot.
type Source struct {
	Column    string
	Table     *Table
	Predicate func(key string) (int64, bool)
}

type MergeStats struct {
	// Carried counts previous rows no source touched.
	Carried int
	// Added counts keys that were not in the previous snapshot.
	Added int
	// Applied counts values merged into the working snapshot.
	Applied map[string]int
	// Dropped counts incoming lines ignored because the value was not an integer.
	Dropped map[string]int
}

// Merge combines prev with the sources in the given order and returns a new
// snapshot; prev itself is not modified. Rows of prev come first in their
// original order, keys first seen in a source are appended, pre-filled with
// NF. A value that is not an integer is dropped for that key and column only.
func Merge(prev *Snapshot, sources []Source) (*Snapshot, *MergeStats, error) {
	if prev == nil {
		return nil, nil, errors.New("merge: no previous snapshot")
	}
	layout := prev.layout

	cols := make([]int, len(sources))
	for i, src := range sources {
		idx, ok := layout.Index(src.Column)
		if !ok {
			return nil, nil, errors.Errorf("merge: unknown column %q", src.Column)
		}
		if src.Table == nil && src.Predicate == nil {
			return nil, nil, errors.Errorf("merge: column %q has no table and no predicate", src.Column)
		}
		cols[i] = idx
	}

	work := prev.Clone()
	ms := &MergeStats{
		Applied: make(map[string]int, len(sources)),
		Dropped: make(map[string]int, len(sources)),
	}
	touched := make(map[string]struct{})

	for i, src := range sources {
		col := layout.cols[cols[i]]
		apply := func(key string, n int64) {
			row, ok := work.rows[key]
			if !ok {
				row = layout.emptyRow()
				work.set(key, row)
				ms.Added++
			}
			touched[key] = struct{}{}
			delete(work.raw, key)
			row[cols[i]] = combine(col.Policy, row[cols[i]], n)
			ms.Applied[col.Name]++
		}

		if src.Predicate != nil {
			keys := work.Keys()
			if src.Table != nil {
				keys = src.Table.Keys()
			}
			for _, key := range keys {
				if n, ok := src.Predicate(key); ok {
					apply(key, n)
				}
			}
			continue
		}

		for _, e := range src.Table.entries {
			n, err := strconv.ParseInt(strings.TrimSpace(e.Value), 10, 64)
			if err != nil {
				ms.Dropped[col.Name]++
				continue
			}
			apply(e.Key, n)
		}
	}

	for _, key := range prev.keys {
		if _, ok := touched[key]; !ok {
			ms.Carried++
		}
	}

	return work, ms, nil
}

// combine applies the column policy. Accumulated sums saturate at the int64
// bounds instead of wrapping.
func combine(p Policy, stored Value, n int64) Value {
	if p == Accumulate {
		if prev, ok := stored.Int64(); ok {
			return Int(addSaturated(prev, n))
		}
	}
	return Int(n)
}

func addSaturated(a, b int64) int64 {
	sum := a + b
	switch {
	case a > 0 && b > 0 && sum < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && sum >= 0:
		return math.MinInt64
	}
	return sum
}
