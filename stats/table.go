package stats

import (
	"bufio"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

type Entry struct {
	Key   string
	Value string
}

// Table is a per-signal extractor output: ARTICLE\tVALUE lines without a
// header. Entries keep file order and duplicates; the merge policy decides
// what a repeated key means.
type Table struct {
	entries []Entry
}

func NewTable() *Table {
	return &Table{}
}

func (t *Table) Add(key, value string) {
	t.entries = append(t.entries, Entry{Key: key, Value: value})
}

func (t *Table) AddInt(key string, n int64) {
	t.Add(key, strconv.FormatInt(n, 10))
}

func (t *Table) Entries() []Entry {
	return t.entries
}

func (t *Table) Len() int {
	return len(t.entries)
}

// Keys returns the distinct keys in order of first appearance.
func (t *Table) Keys() []string {
	seen := make(map[string]struct{}, len(t.entries))
	keys := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		if _, ok := seen[e.Key]; ok {
			continue
		}
		seen[e.Key] = struct{}{}
		keys = append(keys, e.Key)
	}
	return keys
}

// ReadTable reads ARTICLE\tVALUE lines. Keys go through NormalizeKey so
// that tables written with spaced titles match the stored rows.
func ReadTable(r io.Reader) (*Table, error) {
	t := NewTable()
	br := bufio.NewReaderSize(r, 1<<16)
	for {
		line, err := br.ReadString('\n')
		if line = strings.TrimRight(line, "\r\n"); strings.TrimSpace(line) != "" {
			fields := strings.SplitN(line, "\t", 3)
			var value string
			if len(fields) > 1 {
				value = strings.TrimSpace(fields[1])
			}
			t.Add(NormalizeKey(fields[0]), value)
		}
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, "read table")
		}
	}
}

func (t *Table) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 1<<16)
	for _, e := range t.entries {
		bw.WriteString(e.Key)
		bw.WriteString("\t")
		bw.WriteString(e.Value)
		bw.WriteString("\n")
	}
	if err := bw.Flush(); err != nil {
		return cw.n, errors.Wrap(err, "write table")
	}
	return cw.n, nil
}
