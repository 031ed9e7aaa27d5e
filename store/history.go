package store

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

var historyKey = []byte("history")

// dbTimeout bounds the wait for the history database when a process working
// on another project of the same category has it open.
const dbTimeout = 10 * time.Second

// History names the snapshot files the three pointers refer to. Names are
// relative to the category directory unless they are absolute paths; an
// empty name means the pointer is unset.
type History struct {
	Latest         string `json:"latest"`
	Previous       string `json:"previous"`
	SecondPrevious string `json:"second_previous"`
}

func (h History) Get(p Pointer) string {
	switch p {
	case Latest:
		return h.Latest
	case Previous:
		return h.Previous
	case SecondPrevious:
		return h.SecondPrevious
	}
	return ""
}

func (h History) IsEmpty() bool {
	return h.Latest == "" && h.Previous == "" && h.SecondPrevious == ""
}

// References reports whether any pointer refers to name.
func (h History) References(name string) bool {
	return name != "" && (h.Latest == name || h.Previous == name || h.SecondPrevious == name)
}

// rotate shifts every pointer one step back and points latest at name.
func (h History) rotate(name string) History {
	return History{
		Latest:         name,
		Previous:       h.Latest,
		SecondPrevious: h.Previous,
	}
}

func (s *Store) openDB(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.Paths().History, 0o600, &bolt.Options{
		Timeout:  dbTimeout,
		ReadOnly: readOnly,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "open history %s", s.Paths().History)
	}
	return db, nil
}

func (s *Store) loadRecord(db *bolt.DB) (History, bool, error) {
	var (
		hist  History
		found bool
	)
	err := db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(s.project))
		if b == nil {
			return nil
		}
		data := b.Get(historyKey)
		if len(data) == 0 {
			return nil
		}
		found = true
		return json.Unmarshal(data, &hist)
	})
	if err != nil {
		return History{}, false, errors.Wrap(err, "load history record")
	}
	return hist, found, nil
}

func (s *Store) saveRecord(db *bolt.DB, hist History) error {
	data, err := json.Marshal(hist)
	if err != nil {
		return errors.Wrap(err, "marshal history record")
	}
	err = db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists([]byte(s.project))
		if err != nil {
			return err
		}
		return b.Put(historyKey, data)
	})
	return errors.Wrap(err, "save history record")
}

// peek reads the pointers without changing anything on disk. Without a
// history record the pointers come from the legacy symlinks.
func (s *Store) peek() (History, error) {
	if _, err := os.Stat(s.Paths().History); os.IsNotExist(err) {
		return s.legacy(false)
	}
	db, err := s.openDB(true)
	if err != nil {
		return History{}, err
	}
	defer db.Close()

	hist, found, err := s.loadRecord(db)
	if err != nil || found {
		return hist, err
	}
	return s.legacy(false)
}

// loadOrImport returns the pointers, seeding the history record from legacy
// symlinks the first time the store is used. Callers hold the exclusive lock.
func (s *Store) loadOrImport() (History, error) {
	db, err := s.openDB(false)
	if err != nil {
		return History{}, err
	}
	defer db.Close()

	hist, found, err := s.loadRecord(db)
	if err != nil || found {
		return hist, err
	}

	hist, err = s.legacy(true)
	if err != nil {
		return History{}, err
	}
	if hist.IsEmpty() {
		return hist, nil
	}
	if err := s.saveRecord(db, hist); err != nil {
		return History{}, err
	}
	s.log.WithField("history", hist).Info("imported legacy symlink history")
	return hist, nil
}

// legacy resolves the latest_/previous_/second_previous_ paths. Symlinks
// resolve to their targets. A regular file in place of a link is a snapshot
// nobody named; with adopt set it is renamed to a timestamped name so that
// refreshing the links cannot overwrite it.
func (s *Store) legacy(adopt bool) (History, error) {
	var names [3]string
	for i, link := range s.Paths().Links {
		fi, err := os.Lstat(link)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return History{}, errors.Wrap(err, "inspect legacy link")
		}

		if fi.Mode()&os.ModeSymlink == 0 {
			if !adopt {
				names[i] = filepath.Base(link)
				continue
			}
			name := s.SnapshotName(fi.ModTime())
			if _, err := os.Stat(s.Path(name)); err == nil {
				name = s.SnapshotName(fi.ModTime().Add(time.Duration(i+1) * time.Second))
			}
			if err := os.Rename(link, s.Path(name)); err != nil {
				return History{}, errors.Wrap(err, "adopt legacy snapshot")
			}
			names[i] = name
			continue
		}

		target, err := os.Readlink(link)
		if err != nil {
			return History{}, errors.Wrap(err, "read legacy link")
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(s.dir, target)
		}
		if _, err := os.Stat(target); err != nil {
			s.log.WithField("link", link).Warn("legacy link points to a missing file, ignored")
			continue
		}
		if filepath.Dir(target) == filepath.Clean(s.dir) {
			target = filepath.Base(target)
		}
		names[i] = target
	}

	return History{Latest: names[0], Previous: names[1], SecondPrevious: names[2]}, nil
}
