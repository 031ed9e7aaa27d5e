package primary

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikistats/stats"
)

func TestIsPrimary(t *testing.T) {
	assert.True(t, IsPrimary("Paris"))
	assert.True(t, IsPrimary("Paris,Texas"))
	assert.False(t, IsPrimary("Paris_(Texas)"))
	assert.False(t, IsPrimary("Paris,_Texas"))

	n, ok := Flag("Mercury_(planet)")
	assert.True(t, ok)
	assert.Equal(t, int64(0), n)
}

func TestFromTitles(t *testing.T) {
	tbl := FromTitles([]string{"Dog", "Dog_(film)"})
	assert.Equal(t, []stats.Entry{{Key: "Dog", Value: "1"}, {Key: "Dog_(film)", Value: "0"}}, tbl.Entries())
}

func TestFromKB(t *testing.T) {
	kb := strings.Join([]string{
		"p:1\ttype\ta\tb\tc\td\te\tf\thttps://en.wikipedia.org/wiki/Prague\tx",
		"p:2\ttype\ta\tb\tc\td\te\tf\thttps://en.wikipedia.org/wiki/Brno,_Moravia",
		"p:3\ttype\ta\tb\tc\td\te\tf\t",
		"short\trecord",
		"",
		"p:4\ttype\ta\tb\tc\td\te\tf\thttps://cs.wikipedia.org/wiki/Lev_(zv%C3%AD%C5%99e)",
	}, "\n")

	tbl, err := FromKB(strings.NewReader(kb))
	require.Nil(t, err)

	assert.Equal(t, []stats.Entry{
		{Key: "Prague", Value: "1"},
		{Key: "Brno,_Moravia", Value: "0"},
		{Key: "Lev_(zvíře)", Value: "0"},
	}, tbl.Entries())
}
