package stats

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"
)

// Snapshot is one statistics file: an opaque head block followed by one
// row per article. Rows keep the order in which their keys first appeared.
type Snapshot struct {
	// Head is echoed verbatim, including its terminating blank line.
	Head string

	layout  *Layout
	keys    []string
	rows    map[string][]Value
	skipped int
	// raw holds the source text of rows read from a file that would not
	// render back identically: extra fields, a carriage return, padding
	// around the key. Any update of the row drops it.
	raw map[string]string
}

func NewSnapshot(head string, layout *Layout) *Snapshot {
	return &Snapshot{
		Head:   head,
		layout: layout,
		rows:   make(map[string][]Value),
		raw:    make(map[string]string),
	}
}

// ReadSnapshot parses a statistics file. Everything up to and including the
// first blank line is the head. Rows with fewer fields than the layout needs
// are skipped and counted, see Skipped.
func ReadSnapshot(r io.Reader, layout *Layout) (*Snapshot, error) {
	s := NewSnapshot("", layout)
	br := bufio.NewReaderSize(r, 1<<16)

	var head strings.Builder
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if strings.TrimSpace(line) == "" && (line != "" || err == nil) {
			break
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read head")
		}
	}
	s.Head = head.String()

	width := layout.Len() + 1
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			s.parseRow(line, width)
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read rows")
		}
	}

	return s, nil
}

func (s *Snapshot) parseRow(line string, width int) {
	src := strings.TrimSuffix(line, "\n")
	line = strings.TrimRight(line, "\r\n")
	if strings.TrimSpace(line) == "" {
		return
	}
	fields := strings.Split(line, "\t")
	if len(fields) < width {
		s.skipped++
		return
	}
	key := strings.TrimSpace(fields[0])
	values := make([]Value, width-1)
	for i := range values {
		values[i] = ParseValue(fields[i+1])
	}
	s.set(key, values)
	if src != line || len(fields) > width || key != fields[0] {
		s.raw[key] = src
	}
}

func (s *Snapshot) set(key string, values []Value) {
	if _, ok := s.rows[key]; !ok {
		s.keys = append(s.keys, key)
	}
	s.rows[key] = values
	delete(s.raw, key)
}

// Set stores a full row, appending key if it is new.
func (s *Snapshot) Set(key string, values []Value) error {
	if len(values) != s.layout.Len() {
		return errors.Errorf("row %q has %d values, layout has %d columns",
			key, len(values), s.layout.Len())
	}
	row := make([]Value, len(values))
	copy(row, values)
	s.set(key, row)
	return nil
}

func (s *Snapshot) Layout() *Layout {
	return s.layout
}

func (s *Snapshot) Get(key string) ([]Value, bool) {
	row, ok := s.rows[key]
	if !ok {
		return nil, false
	}
	out := make([]Value, len(row))
	copy(out, row)
	return out, true
}

func (s *Snapshot) Keys() []string {
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

func (s *Snapshot) Len() int {
	return len(s.keys)
}

// Skipped is the number of malformed rows dropped while reading.
func (s *Snapshot) Skipped() int {
	return s.skipped
}

func (s *Snapshot) Clone() *Snapshot {
	c := &Snapshot{
		Head:   s.Head,
		layout: s.layout,
		keys:   make([]string, len(s.keys)),
		rows:   make(map[string][]Value, len(s.rows)),
		raw:    make(map[string]string, len(s.raw)),
	}
	copy(c.keys, s.keys)
	for k, line := range s.raw {
		c.raw[k] = line
	}
	for k, row := range s.rows {
		dup := make([]Value, len(row))
		copy(dup, row)
		c.rows[k] = dup
	}
	return c
}

// Line renders the row stored under key the way WriteTo writes it, without
// the trailing newline.
func (s *Snapshot) Line(key string) (string, bool) {
	if _, ok := s.rows[key]; !ok {
		return "", false
	}
	var sb strings.Builder
	s.writeLine(&sb, key)
	return sb.String(), true
}

func (s *Snapshot) writeLine(w io.StringWriter, key string) {
	if line, ok := s.raw[key]; ok {
		w.WriteString(line)
		return
	}
	writeRow(w, key, s.rows[key])
}

func writeRow(w io.StringWriter, key string, row []Value) {
	w.WriteString(key)
	for _, v := range row {
		w.WriteString("\t")
		w.WriteString(v.String())
	}
}

// WriteTo writes the head, a blank separator line if the head does not
// already end with one, and every row in insertion order.
func (s *Snapshot) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	bw := bufio.NewWriterSize(cw, 1<<16)

	bw.WriteString(s.Head)
	switch {
	case s.Head == "":
		bw.WriteString("\n")
	case !strings.HasSuffix(s.Head, "\n"):
		bw.WriteString("\n\n")
	case strings.TrimSpace(lastLine(s.Head)) != "":
		bw.WriteString("\n")
	}

	for _, key := range s.keys {
		s.writeLine(bw, key)
		bw.WriteString("\n")
	}

	if err := bw.Flush(); err != nil {
		return cw.n, errors.Wrap(err, "write snapshot")
	}
	return cw.n, nil
}

// lastLine returns the final line of a newline terminated block.
func lastLine(block string) string {
	trimmed := strings.TrimSuffix(block, "\n")
	if i := strings.LastIndexByte(trimmed, '\n'); i >= 0 {
		return trimmed[i+1:]
	}
	return trimmed
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
