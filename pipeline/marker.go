package pipeline

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// LoadMarker reads the last update time, stored as unix seconds on the
// first line of the data file.
func LoadMarker(path string) (time.Time, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrPrecondition, "data file: %v", err)
	}
	line, _, _ := strings.Cut(string(data), "\n")
	secs, err := strconv.ParseInt(strings.TrimSpace(line), 10, 64)
	if err != nil {
		return time.Time{}, errors.Wrapf(ErrPrecondition, "data file %s: not a timestamp: %q", path, line)
	}
	return time.Unix(secs, 0).UTC(), nil
}

// SaveMarker replaces the data file with t.
func SaveMarker(path string, t time.Time) error {
	tmp := filepath.Join(filepath.Dir(path), "."+filepath.Base(path)+".tmp")
	if err := os.WriteFile(tmp, []byte(strconv.FormatInt(t.Unix(), 10)), 0o644); err != nil {
		return errors.Wrap(err, "write data file")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "replace data file")
	}
	return nil
}
