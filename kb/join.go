package kb

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"wikistats/stats"
	"wikistats/wikipedia"
	"wikistats/wikipedia/primary"
)

type JoinStats struct {
	Records   int
	Matched   int
	Unmatched int
	// AlreadyPresent is set when the head already had a stats section; the
	// knowledge base is then copied unchanged.
	AlreadyPresent bool
}

// Join appends the statistics columns of snap to every record of the
// knowledge base read from kbR, looking records up by their Wikipedia URL.
// Records without statistics get NF in every column.
func Join(kbR io.Reader, snap *stats.Snapshot, w io.Writer) (*JoinStats, error) {
	br := bufio.NewReaderSize(kbR, 1<<20)
	bw := bufio.NewWriterSize(w, 1<<20)
	js := new(JoinStats)

	var head []string
	for {
		line, err := br.ReadString('\n')
		if err != nil && err != io.EOF {
			return nil, errors.Wrap(err, "read kb head")
		}
		if strings.TrimSpace(line) == "" {
			break
		}
		head = append(head, line)
		if strings.HasPrefix(line, StatsType) {
			js.AlreadyPresent = true
		}
		if err == io.EOF {
			break
		}
	}

	for _, line := range head {
		bw.WriteString(line)
	}
	if n := len(head); n > 0 && !strings.HasSuffix(head[n-1], "\n") {
		bw.WriteString("\n")
	}

	if js.AlreadyPresent {
		bw.WriteString("\n")
		if _, err := io.Copy(bw, br); err != nil {
			return nil, errors.Wrap(err, "copy kb")
		}
		return js, errors.Wrap(bw.Flush(), "write kb")
	}

	writeSection(bw, StatsHead(snap.Layout()))
	bw.WriteString("\n")

	missing := strings.Repeat("\t"+stats.NF, snap.Layout().Len())
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			record := strings.TrimRight(line, "\r\n")
			if strings.TrimSpace(record) == "" {
				bw.WriteString(line)
			} else {
				js.Records++
				bw.WriteString(record)
				bw.WriteString(statsFor(snap, record, missing, js))
				bw.WriteString("\n")
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, "read kb")
		}
	}

	return js, errors.Wrap(bw.Flush(), "write kb")
}

func statsFor(snap *stats.Snapshot, record, missing string, js *JoinStats) string {
	fields := strings.Split(record, "\t")
	if len(fields) <= primary.KBURLColumn || fields[primary.KBURLColumn] == "" {
		js.Unmatched++
		return missing
	}
	key := wikipedia.ArticleFromURL(fields[primary.KBURLColumn])
	row, ok := snap.Get(key)
	if !ok {
		js.Unmatched++
		return missing
	}
	js.Matched++
	var sb strings.Builder
	for _, v := range row {
		sb.WriteString("\t")
		sb.WriteString(v.String())
	}
	return sb.String()
}
