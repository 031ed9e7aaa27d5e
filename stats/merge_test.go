package stats

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func statsLayout(t *testing.T) *Layout {
	l, err := NewLayout(
		Column{Name: "backlinks", Policy: Overwrite},
		Column{Name: "pageviews", Policy: Accumulate},
		Column{Name: "primary_sense", Policy: Overwrite},
	)
	require.Nil(t, err)
	return l
}

func snapshotOf(t *testing.T, l *Layout, text string) *Snapshot {
	s, err := ReadSnapshot(strings.NewReader(text), l)
	require.Nil(t, err)
	return s
}

func tableOf(t *testing.T, text string) *Table {
	tbl, err := ReadTable(strings.NewReader(text))
	require.Nil(t, err)
	return tbl
}

func render(t *testing.T, s *Snapshot) string {
	var buf bytes.Buffer
	_, err := s.WriteTo(&buf)
	require.Nil(t, err)
	return buf.String()
}

func TestMerge(t *testing.T) {
	t.Run("accumulate into a two column layout", func(t *testing.T) {
		l, err := NewLayout(
			Column{Name: "backlinks", Policy: Overwrite},
			Column{Name: "pageviews", Policy: Accumulate},
		)
		require.Nil(t, err)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t5\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "Dog\t3\nCat\t7\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t10\t8\nCat\tNF\t7\n", render(t, out))
		assert.Equal(t, 1, ms.Added)
		assert.Equal(t, 0, ms.Carried)
		assert.Equal(t, 2, ms.Applied["pageviews"])
	})

	t.Run("accumulate into the default three column layout", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t5\t1\n")

		out, _, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "Dog\t3\nCat\t7\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t10\t8\t1\nCat\tNF\t7\tNF\n", render(t, out))
	})

	t.Run("accumulate saturates instead of wrapping", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t9223372036854775800\t1\nCat\t1\t-9223372036854775800\t1\n")

		out, _, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "Dog\t100\nCat\t-100\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t10\t9223372036854775807\t1\nCat\t1\t-9223372036854775808\t1\n", render(t, out))
	})

	t.Run("untouched rows keep their source text", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t5\t1\textra\r\nCat\t2\t3\t1\textra\r\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "Dog\t42\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t42\t5\t1\nCat\t2\t3\t1\textra\r\n", render(t, out))
		assert.Equal(t, 1, ms.Carried)
	})

	t.Run("spaced titles match underscored keys", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nNew_York_City\t10\t5\t1\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, " New York City \t4\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nNew_York_City\t10\t9\t1\n", render(t, out))
		assert.Equal(t, 0, ms.Added)
	})

	t.Run("accumulate onto NF takes the incoming value", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\tNF\t1\n")

		out, _, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "Dog\t4\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t10\t4\t1\n", render(t, out))
	})

	t.Run("overwrite replaces and leaves other keys alone", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t5\t1\nCat\t2\t3\t1\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "Dog\t42\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nDog\t42\t5\t1\nCat\t2\t3\t1\n", render(t, out))
		assert.Equal(t, 1, ms.Carried)
		assert.Equal(t, 0, ms.Added)
	})

	t.Run("non numeric value is dropped", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nFish\t1\t2\t1\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "Fish\tabc\nShark\tabc\nEel\tNF\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nFish\t1\t2\t1\n", render(t, out))
		_, ok := out.Get("Shark")
		assert.False(t, ok)
		assert.Equal(t, 3, ms.Dropped["backlinks"])
	})

	t.Run("line without a value is dropped", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\n")

		out, ms, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "Lonely\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, 0, out.Len())
		assert.Equal(t, 1, ms.Dropped["backlinks"])
	})

	t.Run("new keys are appended in source order", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nA\t1\t1\t1\n")

		out, _, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "C\t1\nB\t2\n")},
			{Column: "pageviews", Table: tableOf(t, "D\t5\nB\t6\n")},
			{Column: "primary_sense", Table: tableOf(t, "E\t0\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, []string{"A", "C", "B", "D", "E"}, out.Keys())
		assert.Equal(t, "H\n\nA\t1\t1\t1\nC\t1\tNF\tNF\nB\t2\t6\tNF\nD\tNF\t5\tNF\nE\tNF\tNF\t0\n", render(t, out))
	})

	t.Run("repeated key inside one accumulate table sums", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\n")

		out, _, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "A\t1\nA\t2\n")},
			{Column: "backlinks", Table: tableOf(t, "A\t1\nA\t9\n")},
		})
		require.Nil(t, err)

		row, ok := out.Get("A")
		require.True(t, ok)
		assert.Equal(t, "9", row[0].String())
		assert.Equal(t, "3", row[1].String())
	})

	t.Run("predicate source over all working keys", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nParis\t1\t1\tNF\nParis_(Texas)\t1\t1\tNF\n")

		out, _, err := Merge(prev, []Source{
			{Column: "backlinks", Table: tableOf(t, "Lyon,_France\t3\n")},
			{Column: "primary_sense", Predicate: primaryFlag},
		})
		require.Nil(t, err)

		assert.Equal(t,
			"H\n\nParis\t1\t1\t1\nParis_(Texas)\t1\t1\t0\nLyon,_France\t3\tNF\t0\n",
			render(t, out))
	})

	t.Run("predicate source restricted to a key table", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nOld\t1\t1\tNF\n")

		out, _, err := Merge(prev, []Source{
			{Column: "primary_sense", Table: tableOf(t, "New\t\n"), Predicate: primaryFlag},
		})
		require.Nil(t, err)

		assert.Equal(t, "H\n\nOld\t1\t1\tNF\nNew\tNF\tNF\t1\n", render(t, out))
	})

	t.Run("previous snapshot is not modified", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, "H\n\nDog\t10\t5\t1\n")
		before := render(t, prev)

		_, _, err := Merge(prev, []Source{
			{Column: "pageviews", Table: tableOf(t, "Dog\t3\nCat\t1\n")},
		})
		require.Nil(t, err)

		assert.Equal(t, before, render(t, prev))
	})

	t.Run("unknown column", func(t *testing.T) {
		l := statsLayout(t)
		_, _, err := Merge(NewSnapshot("H\n\n", l), []Source{
			{Column: "nope", Table: NewTable()},
		})
		assert.EqualError(t, err, `merge: unknown column "nope"`)
	})

	t.Run("source without data", func(t *testing.T) {
		l := statsLayout(t)
		_, _, err := Merge(NewSnapshot("H\n\n", l), []Source{{Column: "backlinks"}})
		require.NotNil(t, err)
	})

	t.Run("missing previous snapshot", func(t *testing.T) {
		_, _, err := Merge(nil, nil)
		require.NotNil(t, err)
	})
}

func TestMergeProperties(t *testing.T) {
	prevText := "HEAD line\nsecond\n\nDog\t10\t5\t1\nCat\t007\tNF\t0\nKeep\t 3\tx\t1\n"

	t.Run("overwrite is idempotent", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, prevText)
		src := []Source{{Column: "backlinks", Table: tableOf(t, "Dog\t11\nNew\t2\n")}}

		once, _, err := Merge(prev, src)
		require.Nil(t, err)
		twice, _, err := Merge(once, src)
		require.Nil(t, err)
		inOneRun, _, err := Merge(prev, append(src, src...))
		require.Nil(t, err)

		assert.Equal(t, render(t, once), render(t, twice))
		assert.Equal(t, render(t, once), render(t, inOneRun))
	})

	t.Run("accumulate is additive over disjoint windows", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, prevText)
		t1 := tableOf(t, "Dog\t3\nNew\t4\n")
		t2 := tableOf(t, "Dog\t5\nCat\t6\nOther\t1\n")
		sum := tableOf(t, "Dog\t8\nNew\t4\nCat\t6\nOther\t1\n")

		a, _, err := Merge(prev, []Source{{Column: "pageviews", Table: t1}})
		require.Nil(t, err)
		a, _, err = Merge(a, []Source{{Column: "pageviews", Table: t2}})
		require.Nil(t, err)

		b, _, err := Merge(prev, []Source{{Column: "pageviews", Table: t2}})
		require.Nil(t, err)
		b, _, err = Merge(b, []Source{{Column: "pageviews", Table: t1}})
		require.Nil(t, err)

		c, _, err := Merge(prev, []Source{{Column: "pageviews", Table: sum}})
		require.Nil(t, err)

		for _, key := range c.Keys() {
			want, _ := c.Get(key)
			gotA, ok := a.Get(key)
			require.True(t, ok, key)
			gotB, ok := b.Get(key)
			require.True(t, ok, key)
			assert.Equal(t, want[1].String(), gotA[1].String(), key)
			assert.Equal(t, want[1].String(), gotB[1].String(), key)
		}
	})

	t.Run("untouched rows are carried byte for byte", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, prevText)

		out, ms, err := Merge(prev, []Source{{Column: "backlinks", Table: tableOf(t, "Dog\t1\n")}})
		require.Nil(t, err)

		lines := strings.Split(render(t, out), "\n")
		assert.Contains(t, lines, "Cat\t007\tNF\t0")
		assert.Contains(t, lines, "Keep\t 3\tx\t1")
		assert.Equal(t, 2, ms.Carried)
	})

	t.Run("head is preserved", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, prevText)

		out, _, err := Merge(prev, []Source{{Column: "pageviews", Table: tableOf(t, "Zebra\t1\n")}})
		require.Nil(t, err)

		assert.True(t, strings.HasPrefix(render(t, out), "HEAD line\nsecond\n\n"))
		assert.Equal(t, prev.Head, out.Head)
	})

	t.Run("accumulate over a literal token restarts the count", func(t *testing.T) {
		l := statsLayout(t)
		prev := snapshotOf(t, l, prevText)

		out, _, err := Merge(prev, []Source{{Column: "pageviews", Table: tableOf(t, "Keep\t9\n")}})
		require.Nil(t, err)

		line, ok := out.Line("Keep")
		require.True(t, ok)
		assert.Equal(t, "Keep\t 3\t9\t1", line)
	})
}

func primaryFlag(key string) (int64, bool) {
	if strings.Contains(key, "(") || strings.Contains(key, ",_") {
		return 0, true
	}
	return 1, true
}
