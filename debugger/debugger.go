package debugger

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Debugger records failures that were recovered from: skipped rows, dropped
// values, files that could not be unpacked. The run goes on, the file keeps
// the trail.
type Debugger struct {
	fileName string
	f        *os.File
	log      *logrus.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewDebugger opens dir/debug.<unix>.txt. An empty dir means ./logs.
func NewDebugger(dir string) (*Debugger, error) {
	nano := time.Now().Unix()

	if dir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		dir = filepath.Join(wd, "logs")
	}

	fName := filepath.Join(dir, fmt.Sprintf("debug.%d.txt", nano))
	err := os.MkdirAll(dir, 0700)
	if err != nil {
		return nil, err
	}

	f, err := os.OpenFile(fName, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}

	log := logrus.New()
	log.SetOutput(f)
	log.SetFormatter(&logrus.JSONFormatter{})
	log.SetLevel(logrus.DebugLevel)

	return &Debugger{
		fileName: fName,
		f:        f,
		log:      log,
		counts:   make(map[string]int),
	}, nil
}

func (s *Debugger) FileName() string {
	return s.fileName
}

// Debugf records a free-form note of kind "debug".
func (s *Debugger) Debugf(format string, args ...interface{}) {
	s.Record("debug", nil, fmt.Sprintf(format, args...))
}

// Record writes one event of the given kind. A nil Debugger drops it.
func (s *Debugger) Record(kind string, fields logrus.Fields, msg string) {
	if s == nil {
		return
	}
	s.mu.Lock()
	s.counts[kind]++
	s.mu.Unlock()

	s.log.WithField("kind", kind).WithFields(fields).Debug(msg)
}

// Counts returns how many events of each kind were recorded.
func (s *Debugger) Counts() map[string]int {
	out := make(map[string]int)
	if s == nil {
		return out
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, v := range s.counts {
		out[k] = v
	}
	return out
}

func (s *Debugger) Close() error {
	if s == nil || s.f == nil {
		return nil
	}
	return s.f.Close()
}
