// Package dump finds and reads Wikipedia pages-articles dumps.
package dump

import (
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var ErrNoDump = errors.New("no dump found")

// DateFormat is the date part of a dump file name.
const DateFormat = "20060102"

type Dump struct {
	Project string
	Path    string
	Name    string
	Date    time.Time
}

// Timestamp is the dump date as seconds since the epoch, midnight UTC.
func (d Dump) Timestamp() int64 {
	return d.Date.Unix()
}

func (d Dump) Compressed() bool {
	return strings.HasSuffix(d.Name, ".bz2")
}

// ParseDate reads the date out of a name like enwiki-20240301-pages-articles.xml.
func ParseDate(name string) (time.Time, error) {
	parts := strings.SplitN(name, "-", 3)
	if len(parts) < 3 {
		return time.Time{}, errors.Errorf("dump name %q has no date", name)
	}
	t, err := time.Parse(DateFormat, parts[1])
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "dump name %q", name)
	}
	return t, nil
}

// Latest returns the newest dump of project in dir. Names are matched
// against pattern with any .bz2 suffix removed; the lexicographically
// greatest match wins, which is the newest because the date is fixed width.
// An uncompressed dump is preferred over its .bz2 twin.
func Latest(dir, project string, pattern *regexp.Regexp) (Dump, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return Dump{}, errors.Wrap(err, "read dump dir")
	}

	prefix := project + "wiki-"
	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		plain := strings.TrimSuffix(name, ".bz2")
		if !strings.HasPrefix(plain, prefix) || !pattern.MatchString(plain) {
			continue
		}
		names = append(names, name)
	}
	if len(names) == 0 {
		return Dump{}, errors.Wrapf(ErrNoDump, "%s in %s", project, dir)
	}

	sort.Slice(names, func(i, j int) bool {
		a, b := strings.TrimSuffix(names[i], ".bz2"), strings.TrimSuffix(names[j], ".bz2")
		if a != b {
			return a < b
		}
		return len(names[i]) > len(names[j])
	})
	name := names[len(names)-1]

	date, err := ParseDate(name)
	if err != nil {
		return Dump{}, err
	}
	return Dump{
		Project: project,
		Path:    filepath.Join(dir, name),
		Name:    name,
		Date:    date,
	}, nil
}
