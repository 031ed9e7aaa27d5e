package dump

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wikistats/debugger"
)

type Metrics struct {
	FilesUnpacked int `json:"Files Unpacked"`
	FilesSkipped  int `json:"Files Skipped"`
	Attempts      int `json:"Attempts"`
}

// Decompressor unpacks .bz2 dumps into a working directory. A file that
// still fails after the retries is skipped and reported, it does not stop
// the others.
type Decompressor struct {
	rootDir string
	retries uint64
	delay   time.Duration

	log      logrus.FieldLogger
	debugger *debugger.Debugger
	metrics  *Metrics
}

func NewDecompressor(rootDir string, retries uint64, delay time.Duration,
	logger logrus.FieldLogger, debugger *debugger.Debugger,
) *Decompressor {
	return &Decompressor{
		rootDir:  rootDir,
		retries:  retries,
		delay:    delay,
		log:      logger,
		debugger: debugger,
		metrics:  new(Metrics),
	}
}

func (s *Decompressor) Metrics() Metrics {
	return *s.metrics
}

// Run returns the paths to read the given dumps from, in input order.
// Uncompressed dumps are passed through. The error lists skipped files.
func (s *Decompressor) Run(ctx context.Context, dumps []Dump) ([]string, error) {
	if err := os.MkdirAll(s.rootDir, 0700); err != nil {
		return nil, errors.Wrap(err, "create unpack dir")
	}

	var (
		out     []string
		skipped *multierror.Error
	)
	for _, d := range dumps {
		path := d.Path
		if !d.Compressed() {
			out = append(out, path)
			continue
		}

		dst := filepath.Join(s.rootDir, strings.TrimSuffix(filepath.Base(path), ".bz2"))
		policy := backoff.WithContext(
			backoff.WithMaxRetries(backoff.NewConstantBackOff(s.delay), s.retries), ctx)

		err := backoff.Retry(func() error {
			s.metrics.Attempts++
			err := unpack(path, dst)
			if err != nil && ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			if err != nil {
				s.log.WithError(err).WithField("path", path).Warn("unpack failed, retrying")
			}
			return err
		}, policy)

		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		if err != nil {
			s.metrics.FilesSkipped++
			s.debugger.Record("skipped_file", logrus.Fields{"path": path}, err.Error())
			skipped = multierror.Append(skipped, errors.Wrapf(err, "skipped %s", path))
			continue
		}

		s.metrics.FilesUnpacked++
		s.log.WithField("path", dst).Info("unpacked dump")
		out = append(out, dst)
	}

	return out, skipped.ErrorOrNil()
}

func unpack(src, dst string) error {
	in, err := Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".part"
	outF, err := os.Create(tmp)
	if err != nil {
		return errors.Wrap(err, "create unpacked file")
	}

	if _, err := io.Copy(outF, in); err != nil {
		outF.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "unpack")
	}
	if err := outF.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "close unpacked file")
	}
	return errors.Wrap(os.Rename(tmp, dst), "rename unpacked file")
}
