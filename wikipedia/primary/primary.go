// Package primary decides whether an article title names the primary sense
// of a term or a disambiguated variant of it.
package primary

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"wikistats/stats"
	"wikistats/wikipedia"
)

// KBURLColumn is the column of a knowledge base record holding the
// Wikipedia URL of the entity.
const KBURLColumn = 8

// IsPrimary reports whether title is free of disambiguation markers: a
// parenthesised qualifier or a comma qualifier such as Paris,_Texas.
func IsPrimary(title string) bool {
	return !strings.Contains(title, "(") && !strings.Contains(title, ",_")
}

// Flag is IsPrimary as a column value, usable as a merge predicate.
func Flag(title string) (int64, bool) {
	if IsPrimary(title) {
		return 1, true
	}
	return 0, true
}

// FromTitles tags every title.
func FromTitles(titles []string) *stats.Table {
	t := stats.NewTable()
	for _, title := range titles {
		n, _ := Flag(title)
		t.AddInt(title, n)
	}
	return t
}

// FromKB tags the articles referenced by a knowledge base TSV. Records
// without a URL column or with an empty URL are skipped.
func FromKB(r io.Reader) (*stats.Table, error) {
	t := stats.NewTable()
	br := bufio.NewReaderSize(r, 1<<20)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); line != "" {
			fields := strings.Split(line, "\t")
			if len(fields) > KBURLColumn && strings.TrimSpace(fields[KBURLColumn]) != "" {
				title := wikipedia.ArticleFromURL(fields[KBURLColumn])
				n, _ := Flag(title)
				t.AddInt(title, n)
			}
		}
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read kb")
		}
	}
}
