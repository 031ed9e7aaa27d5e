package kb

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikistats/stats"
)

func layout(t *testing.T) *stats.Layout {
	l, err := stats.NewLayout(
		stats.Column{Name: "backlinks", Policy: stats.Overwrite},
		stats.Column{Name: "pageviews", Policy: stats.Accumulate},
		stats.Column{Name: "primary_sense", Policy: stats.Overwrite},
	)
	require.Nil(t, err)
	return l
}

func TestStatsHead(t *testing.T) {
	h := StatsHead(layout(t))
	assert.Equal(t, StatsType, h.Type)
	assert.Equal(t, []string{"WIKI BACKLINKS", "WIKI HITS", "WIKI PRIMARY SENSE"}, h.Columns)

	l, err := stats.NewLayout(stats.Column{Name: "edit_count"})
	require.Nil(t, err)
	assert.Equal(t, []string{"WIKI EDIT COUNT"}, StatsHead(l).Columns)
}

func TestSnapshotHead(t *testing.T) {
	head := SnapshotHead(layout(t))

	assert.True(t, strings.HasPrefix(head, "<__generic__>ID\tTYPE\tNAME\t"))
	assert.True(t, strings.HasSuffix(head, "<__stats__>WIKI BACKLINKS\tWIKI HITS\tWIKI PRIMARY SENSE\t\n\n"))
	assert.Equal(t, 8, strings.Count(head, "\n")-1)

	s, err := stats.ReadSnapshot(strings.NewReader(head), layout(t))
	require.Nil(t, err)
	assert.Equal(t, head, s.Head)
	assert.Equal(t, 0, s.Len())
}

func record(id, url string) string {
	return id + "\tperson\tName\t\t\t\t\t0\t" + url + "\t\t\t"
}

func TestJoin(t *testing.T) {
	snap, err := stats.ReadSnapshot(strings.NewReader("H\n\nPrague\t10\t100\t1\nBrno\t5\tNF\t1\n"), layout(t))
	require.Nil(t, err)

	kbText := "<__generic__>ID\tTYPE\t\n<person>GENDER\t\n\n" +
		record("1", "https://cs.wikipedia.org/wiki/Prague") + "\n" +
		record("2", "https://cs.wikipedia.org/wiki/Olomouc") + "\n" +
		"\n" +
		record("3", "") + "\n" +
		record("4", "https://cs.wikipedia.org/wiki/Brno")

	var out bytes.Buffer
	js, err := Join(strings.NewReader(kbText), snap, &out)
	require.Nil(t, err)

	want := "<__generic__>ID\tTYPE\t\n<person>GENDER\t\n" +
		"<__stats__>WIKI BACKLINKS\tWIKI HITS\tWIKI PRIMARY SENSE\t\n\n" +
		record("1", "https://cs.wikipedia.org/wiki/Prague") + "\t10\t100\t1\n" +
		record("2", "https://cs.wikipedia.org/wiki/Olomouc") + "\tNF\tNF\tNF\n" +
		"\n" +
		record("3", "") + "\tNF\tNF\tNF\n" +
		record("4", "https://cs.wikipedia.org/wiki/Brno") + "\t5\tNF\t1\n"
	assert.Equal(t, want, out.String())
	assert.Equal(t, &JoinStats{Records: 4, Matched: 2, Unmatched: 2}, js)
}

func TestJoinAlreadyPresent(t *testing.T) {
	snap := stats.NewSnapshot("H\n\n", layout(t))
	kbText := "<__generic__>ID\t\n<__stats__>WIKI HITS\t\n\n1\tx\n"

	var out bytes.Buffer
	js, err := Join(strings.NewReader(kbText), snap, &out)
	require.Nil(t, err)

	assert.True(t, js.AlreadyPresent)
	assert.Equal(t, kbText, out.String())
}
