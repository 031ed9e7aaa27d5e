// Package store keeps the versioned statistics files of one project and
// category: immutable timestamped snapshots plus a small history record that
// points at the latest, previous and second previous snapshot.
package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wikistats/flock"
	"wikistats/stats"
)

var (
	// ErrLocked means another invocation holds the statistics file.
	ErrLocked = errors.New("statistics file is locked")
	// ErrNoSnapshot means the history has no usable latest snapshot.
	ErrNoSnapshot = errors.New("no snapshot")
	// ErrSnapshotExists is returned when a snapshot file name is already taken
	// or when initialising a history that already has versions.
	ErrSnapshotExists = errors.New("snapshot already exists")
)

// TimestampFormat is the timestamp part of snapshot file names.
const TimestampFormat = "2006-01-02_15-04-05"

type Pointer int

const (
	Latest Pointer = iota
	Previous
	SecondPrevious
)

var pointerNames = [...]string{"latest", "previous", "second_previous"}

func (p Pointer) String() string {
	if p < Latest || p > SecondPrevious {
		return fmt.Sprintf("pointer(%d)", int(p))
	}
	return pointerNames[p]
}

func ParsePointer(s string) (Pointer, error) {
	for i, name := range pointerNames {
		if s == name {
			return Pointer(i), nil
		}
	}
	return 0, errors.Errorf("unknown history pointer %q", s)
}

type Option func(*Store)

func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

func WithLogger(logger logrus.FieldLogger) Option {
	return func(s *Store) {
		s.log = logger
	}
}

// WithLinks keeps latest_/previous_/second_previous_ symlinks next to the
// snapshots in sync with the history record, for readers that still open
// those paths.
func WithLinks(enabled bool) Option {
	return func(s *Store) {
		s.links = enabled
	}
}

type Store struct {
	dir      string
	category string
	project  string

	now   func() time.Time
	log   logrus.FieldLogger
	links bool
}

// New returns the store of project in statsDir/category. Nothing is touched
// on disk until a transaction begins.
func New(statsDir, category, project string, opts ...Option) *Store {
	s := &Store{
		dir:      filepath.Join(statsDir, category),
		category: category,
		project:  project,
		now:      time.Now,
		log:      logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.log = s.log.WithFields(logrus.Fields{
		"project":  project,
		"category": category,
	})
	return s
}

type Paths struct {
	Dir     string
	Lock    string
	History string
	Links   [3]string
}

func (s *Store) Paths() Paths {
	p := Paths{
		Dir:     s.dir,
		Lock:    filepath.Join(s.dir, fmt.Sprintf(".%s_%s.lock", s.project, s.category)),
		History: filepath.Join(s.dir, "history.db"),
	}
	for i, name := range pointerNames {
		p.Links[i] = filepath.Join(s.dir, fmt.Sprintf("%s_%s_%s.tsv", name, s.project, s.category))
	}
	return p
}

func (s *Store) Project() string {
	return s.project
}

func (s *Store) Category() string {
	return s.category
}

// SnapshotName is the file name of a snapshot published at t.
func (s *Store) SnapshotName(t time.Time) string {
	return fmt.Sprintf("%s_%s_%s.tsv", t.UTC().Format(TimestampFormat), s.project, s.category)
}

// Path resolves a history entry to a file path.
func (s *Store) Path(name string) string {
	if name == "" || filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(s.dir, name)
}

func (s *Store) lock(ctx context.Context, mode flock.Mode, timeout time.Duration) (*flock.Lock, error) {
	if _, err := os.Stat(s.dir); err != nil {
		return nil, errors.Wrapf(err, "stats dir %s", s.dir)
	}
	l, err := flock.Acquire(ctx, s.Paths().Lock, mode, timeout)
	if errors.Is(err, flock.ErrTimeout) {
		return nil, errors.Wrapf(ErrLocked, "%s/%s: %v", s.category, s.project, err)
	}
	return l, err
}

// Begin takes the exclusive lock of the store and holds it until Release, so
// the read, the merge and the publish of one run cannot interleave with
// another invocation.
func (s *Store) Begin(ctx context.Context, timeout time.Duration) (*Txn, error) {
	l, err := s.lock(ctx, flock.Exclusive, timeout)
	if err != nil {
		return nil, err
	}

	hist, err := s.loadOrImport()
	if err != nil {
		l.Release()
		return nil, err
	}

	return &Txn{store: s, lock: l, hist: hist}, nil
}

// History returns the current pointers under a shared lock.
func (s *Store) History(ctx context.Context, timeout time.Duration) (History, error) {
	l, err := s.lock(ctx, flock.Shared, timeout)
	if err != nil {
		return History{}, err
	}
	defer l.Release()

	return s.peek()
}

// Snapshot reads the snapshot a pointer refers to under a shared lock.
func (s *Store) Snapshot(ctx context.Context, timeout time.Duration, layout *stats.Layout, p Pointer) (*stats.Snapshot, error) {
	l, err := s.lock(ctx, flock.Shared, timeout)
	if err != nil {
		return nil, err
	}
	defer l.Release()

	hist, err := s.peek()
	if err != nil {
		return nil, err
	}
	return s.read(hist.Get(p), layout)
}

func (s *Store) read(name string, layout *stats.Layout) (*stats.Snapshot, error) {
	if name == "" {
		return nil, errors.Wrapf(ErrNoSnapshot, "%s/%s", s.category, s.project)
	}
	f, err := os.Open(s.Path(name))
	if os.IsNotExist(err) {
		return nil, errors.Wrapf(ErrNoSnapshot, "%s/%s: %s is missing", s.category, s.project, name)
	}
	if err != nil {
		return nil, errors.Wrap(err, "open snapshot")
	}
	defer f.Close()

	snap, err := stats.ReadSnapshot(f, layout)
	if err != nil {
		return nil, errors.Wrapf(err, "read snapshot %s", name)
	}
	if n := snap.Skipped(); n > 0 {
		s.log.WithField("file", name).Warnf("skipped %d malformed rows", n)
	}
	return snap, nil
}
