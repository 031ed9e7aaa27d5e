// Package kb joins statistics into knowledge base files.
package kb

import (
	"bufio"
	"io"
	"strings"

	"github.com/pkg/errors"

	"wikistats/stats"
)

const StatsType = "<__stats__>"

// HeadSection is one line of a knowledge base head: the record type and
// the names of its columns.
type HeadSection struct {
	Type    string
	Columns []string
}

var HeadTemplate = []HeadSection{
	{Type: "<__generic__>", Columns: []string{
		"ID",
		"TYPE",
		"NAME",
		"DISAMBIGUATION NAME",
		"{m}ALIASES",
		"DESCRIPTION",
		"{m}ROLES",
		"FICTIONAL",
		"{u}WIKIPEDIA URL",
		"{u}WIKIDATA URL",
		"{u}DBPEDIA URL",
		"{gm[http://athena3.fit.vutbr.cz/kb/images/]}IMAGES",
	}},
	{Type: "<person>", Columns: []string{
		"GENDER",
		"{e}DATE OF BIRTH",
		"PLACE OF BIRTH",
		"{e}DATE OF DEATH",
		"PLACE OF DEATH",
		"{m}NATIONALITIES",
	}},
	{Type: "<group>", Columns: []string{
		"{m}INDIVIDUAL NAMES",
		"{m}GENDERS",
		"{em}DATES OF BIRTH",
		"{m}PLACES OF BIRTH",
		"{em}DATES OF DEATH",
		"{m}PLACES OF DEATH",
		"{m}NATIONALITIES",
	}},
	{Type: "<artist>", Columns: []string{
		"{m}ART FORMS",
		"{m}INFLUENCERS",
		"{m}INFLUENCEES",
		"ULAN ID",
		"{mu}OTHER URLS",
	}},
	{Type: "<geographical>", Columns: []string{
		"LATITUDE",
		"LONGITUDE",
		"{m}SETTLEMENT TYPES",
		"COUNTRY",
		"POPULATION",
		"ELEVATION",
		"AREA",
		"{m}TIMEZONES",
		"FEATURE CODE",
		"{m}GEONAMES IDS",
	}},
	{Type: "<event>", Columns: []string{
		"{e}START DATE",
		"{e}END DATE",
		"{m}LOCATIONS",
		"EVENT TYPE",
	}},
	{Type: "<organization>", Columns: []string{
		"{e}FOUNDED",
		"{e}CANCELLED",
		"LOCATION",
		"ORGANIZATION TYPE",
	}},
}

var statsColumnNames = map[string]string{
	"backlinks":     "WIKI BACKLINKS",
	"pageviews":     "WIKI HITS",
	"primary_sense": "WIKI PRIMARY SENSE",
}

// StatsHead names the columns of a statistics layout the way the knowledge
// base does.
func StatsHead(layout *stats.Layout) HeadSection {
	s := HeadSection{Type: StatsType}
	for _, name := range layout.Names() {
		kbName, ok := statsColumnNames[name]
		if !ok {
			kbName = "WIKI " + strings.ToUpper(strings.ReplaceAll(name, "_", " "))
		}
		s.Columns = append(s.Columns, kbName)
	}
	return s
}

func writeSection(w *bufio.Writer, s HeadSection) {
	w.WriteString(s.Type)
	for _, col := range s.Columns {
		w.WriteString(col)
		w.WriteString("\t")
	}
	w.WriteString("\n")
}

// WriteHead writes the sections followed by the blank line that ends a head.
func WriteHead(w io.Writer, sections []HeadSection) error {
	bw := bufio.NewWriter(w)
	for _, s := range sections {
		writeSection(bw, s)
	}
	bw.WriteString("\n")
	return errors.Wrap(bw.Flush(), "write kb head")
}

// SnapshotHead is the head a new statistics file of the given layout
// starts with.
func SnapshotHead(layout *stats.Layout) string {
	var sb strings.Builder
	sections := append(append([]HeadSection{}, HeadTemplate...), StatsHead(layout))
	WriteHead(&sb, sections)
	return sb.String()
}
