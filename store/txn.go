package store

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"

	"wikistats/flock"
	"wikistats/stats"
)

// Txn is an exclusive hold on one store, see Store.Begin.
type Txn struct {
	store *Store
	lock  *flock.Lock
	hist  History
}

func (t *Txn) History() History {
	return t.hist
}

// Latest reads the snapshot the latest pointer refers to. A store without
// one fails with ErrNoSnapshot.
func (t *Txn) Latest(layout *stats.Layout) (*stats.Snapshot, error) {
	if t.lock == nil {
		return nil, errors.New("transaction already released")
	}
	return t.store.read(t.hist.Latest, layout)
}

// Publish writes snap as a new timestamped snapshot and rotates the history:
// the new file is written and synced first, then the pointers are updated
// in one database transaction, and only then is the file the old second
// previous pointer referred to removed.
func (t *Txn) Publish(snap *stats.Snapshot) (string, error) {
	if t.lock == nil {
		return "", errors.New("transaction already released")
	}
	s := t.store

	name := s.SnapshotName(s.now())
	path := s.Path(name)
	if t.hist.References(name) {
		return "", errors.Wrapf(ErrSnapshotExists, "%s is still referenced", name)
	}
	if _, err := os.Lstat(path); err == nil {
		return "", errors.Wrapf(ErrSnapshotExists, "%s", path)
	}

	if err := writeDurable(path, snap); err != nil {
		return "", err
	}

	next := t.hist.rotate(name)
	db, err := s.openDB(false)
	if err != nil {
		os.Remove(path)
		return "", err
	}
	err = s.saveRecord(db, next)
	db.Close()
	if err != nil {
		os.Remove(path)
		return "", err
	}

	dropped := t.hist.SecondPrevious
	t.hist = next

	if dropped != "" && !next.References(dropped) {
		if err := os.Remove(s.Path(dropped)); err != nil && !os.IsNotExist(err) {
			s.log.WithError(err).WithField("file", dropped).Warn("could not remove old snapshot")
		}
	}

	if s.links {
		if err := s.refreshLinks(next); err != nil {
			s.log.WithError(err).Warn("could not refresh history links")
		}
	}

	s.log.WithField("file", name).Info("published snapshot")
	return path, nil
}

// Init publishes snap as the first version of an empty history.
func (t *Txn) Init(snap *stats.Snapshot) (string, error) {
	if !t.hist.IsEmpty() {
		return "", errors.Wrapf(ErrSnapshotExists, "%s/%s already has history",
			t.store.category, t.store.project)
	}
	return t.Publish(snap)
}

// Release gives up the lock. It is safe to call more than once.
func (t *Txn) Release() error {
	if t.lock == nil {
		return nil
	}
	l := t.lock
	t.lock = nil
	return l.Release()
}

func writeDurable(path string, snap *stats.Snapshot) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.Wrap(err, "create snapshot")
	}

	if _, err := snap.WriteTo(f); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "sync snapshot")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close snapshot")
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "rename snapshot")
	}
	return syncDir(filepath.Dir(path))
}

func syncDir(dir string) error {
	d, err := os.Open(dir)
	if err != nil {
		return errors.Wrap(err, "open dir")
	}
	defer d.Close()
	return errors.Wrap(d.Sync(), "sync dir")
}

// refreshLinks repoints the compatibility symlinks, oldest pointer first.
// Every link is replaced by renaming a fresh link over it.
func (s *Store) refreshLinks(h History) error {
	links := s.Paths().Links
	for _, p := range []Pointer{SecondPrevious, Previous, Latest} {
		link := links[p]
		name := h.Get(p)
		if name == "" {
			if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
				return errors.Wrapf(err, "remove %s", link)
			}
			continue
		}

		tmp := link + ".new"
		os.Remove(tmp)
		if err := os.Symlink(name, tmp); err != nil {
			return errors.Wrapf(err, "link %s", link)
		}
		if err := os.Rename(tmp, link); err != nil {
			os.Remove(tmp)
			return errors.Wrapf(err, "link %s", link)
		}
	}
	return nil
}
