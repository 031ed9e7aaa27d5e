// Package pipeline runs a statistics job end to end: it finds the newest
// dumps, extracts the per-article signals, merges them into the latest
// snapshot of every project and publishes the results.
package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"wikistats/config"
	"wikistats/debugger"
	"wikistats/kb"
	"wikistats/stats"
	"wikistats/store"
	"wikistats/wikipedia"
	"wikistats/wikipedia/backlinks"
	"wikistats/wikipedia/dump"
	"wikistats/wikipedia/pageviews"
	"wikistats/wikipedia/primary"
)

var (
	// ErrPrecondition means a directory, dump or data file the job needs is
	// missing or unreadable. Nothing has been written.
	ErrPrecondition = errors.New("precondition failed")
	// ErrNotAllDumps means some projects have a new dump and others do not.
	ErrNotAllDumps = errors.New("new dumps are not available for every project")
)

const day = 24 * time.Hour

// PageviewSource looks up the pageviews of articles, see pageviews.Client.
type PageviewSource interface {
	Fetch(ctx context.Context, req pageviews.Request, articles []string) (*stats.Table, error)
}

type Option func(*Runner)

// WithClock sets the clock that names published snapshots.
func WithClock(now func() time.Time) Option {
	return func(r *Runner) {
		r.now = now
	}
}

// WithPageviews replaces the pageviews API client of every project.
func WithPageviews(src PageviewSource) Option {
	return func(r *Runner) {
		r.pageviews = src
	}
}

func WithMetrics(m *Metrics) Option {
	return func(r *Runner) {
		r.metrics = m
	}
}

type Runner struct {
	cfg       config.Config
	pattern   *regexp.Regexp
	now       func() time.Time
	pageviews PageviewSource
	metrics   *Metrics

	log      logrus.FieldLogger
	debugger *debugger.Debugger
}

func New(cfg config.Config, logger logrus.FieldLogger, debugger *debugger.Debugger, opts ...Option) (*Runner, error) {
	pattern, err := regexp.Compile(cfg.DumpPattern)
	if err != nil {
		return nil, errors.Wrap(err, "dump pattern")
	}
	r := &Runner{
		cfg:      cfg,
		pattern:  pattern,
		now:      time.Now,
		log:      logger,
		debugger: debugger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = NewMetrics()
	}
	return r, nil
}

func (r *Runner) Metrics() *Metrics {
	return r.metrics
}

// Store opens the history of one project of a category.
func (r *Runner) Store(category, project string) *store.Store {
	return store.New(r.cfg.StatsDir, category, project,
		store.WithClock(r.now),
		store.WithLogger(r.log),
		store.WithLinks(r.cfg.Links),
	)
}

// Window is the closed range of days pageviews are summed over.
type Window struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w Window) Request(cfg config.Pageviews, project string) pageviews.Request {
	return pageviews.Request{
		Project:     wikipedia.Domain(project),
		Access:      cfg.Access,
		Agent:       cfg.Agent,
		Granularity: cfg.Granularity,
		Start:       w.Start.Format(dump.DateFormat),
		End:         w.End.Format(dump.DateFormat),
	}
}

// pageviewWindow starts the day after the previous window ended and ends
// the day before the oldest dump. Nil means there is no full day to add.
func pageviewWindow(marker time.Time, dumps []dump.Dump) *Window {
	end := windowEnd(dumps)
	start := marker.UTC().Truncate(day).Add(day)
	if lowest, err := time.Parse(dump.DateFormat, wikipedia.LOWEST_TIMESTAMP); err == nil && start.Before(lowest) {
		start = lowest
	}
	if start.After(end) {
		return nil
	}
	return &Window{Start: start, End: end}
}

func windowEnd(dumps []dump.Dump) time.Time {
	end := dumps[0].Date
	for _, d := range dumps[1:] {
		if d.Date.Before(end) {
			end = d.Date
		}
	}
	return end.Add(-day)
}

// fresh reports whether d was published after the run that wrote marker.
// The marker holds the day before the oldest dump of that run, so the dump
// of that day itself is not new.
func fresh(d dump.Dump, marker time.Time) bool {
	return d.Timestamp() > marker.Add(day).Unix()
}

func gated(cols []config.Column) bool {
	for _, col := range cols {
		if col.Source == config.SourcePageviews {
			return true
		}
	}
	return false
}

// observeMerge exports the merge counters and records dropped values.
func (r *Runner) observeMerge(category, project string, ms *stats.MergeStats) {
	r.metrics.observeMerge(category, project, ms)
	for col, n := range ms.Dropped {
		if n > 0 {
			r.debugger.Debugf("%s/%s: dropped %d non-integer values of column %s", category, project, n, col)
		}
	}
}

func (r *Runner) checkDirs(category string, needMarker bool) error {
	dir := filepath.Join(r.cfg.StatsDir, category)
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return errors.Wrapf(ErrPrecondition, "statistics dir %s does not exist", dir)
	}
	for _, p := range r.cfg.Projects {
		dir := r.cfg.DumpDirFor(p)
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			return errors.Wrapf(ErrPrecondition, "dump dir %s does not exist", dir)
		}
	}
	if needMarker {
		if _, err := os.Stat(r.cfg.DataFile); err != nil {
			return errors.Wrapf(ErrPrecondition, "data file %s does not exist", r.cfg.DataFile)
		}
	}
	if err := os.MkdirAll(r.cfg.TmpDir, 0o755); err != nil {
		return errors.Wrapf(ErrPrecondition, "tmp dir: %v", err)
	}
	return nil
}

func (r *Runner) discover() ([]dump.Dump, error) {
	dumps := make([]dump.Dump, 0, len(r.cfg.Projects))
	for _, p := range r.cfg.Projects {
		d, err := dump.Latest(r.cfg.DumpDirFor(p), p.Code, r.pattern)
		if err != nil {
			return nil, errors.Wrapf(ErrPrecondition, "project %s: %v", p.Code, err)
		}
		r.log.WithFields(logrus.Fields{"project": p.Code, "dump": d.Name}).Info("latest dump")
		dumps = append(dumps, d)
	}
	return dumps, nil
}

// Run executes the job of one category. Every project is merged and
// published, or none is: all project locks are taken before the first
// snapshot is written. The data file is only advanced after every project
// has been published.
func (r *Runner) Run(ctx context.Context, category string) (*Report, error) {
	started := time.Now()
	report := &Report{Category: category}

	layout, err := r.cfg.Layout(category)
	if err != nil {
		return nil, errors.Wrapf(ErrPrecondition, "%v", err)
	}
	cols := r.cfg.Columns(category)
	isGated := gated(cols)

	if err := r.checkDirs(category, isGated); err != nil {
		return nil, err
	}
	dumps, err := r.discover()
	if err != nil {
		return nil, err
	}

	var marker time.Time
	if isGated {
		marker, err = LoadMarker(r.cfg.DataFile)
		if err != nil {
			return nil, err
		}
		var stale []string
		for i, d := range dumps {
			if !fresh(d, marker) {
				stale = append(stale, r.cfg.Projects[i].Code)
			}
		}
		if len(stale) == len(dumps) {
			r.log.WithField("category", category).Info("everything up to date")
			report.UpToDate = true
			return report, nil
		}
		if len(stale) > 0 {
			return nil, errors.Wrapf(ErrNotAllDumps, "no new dump for %v", stale)
		}
		report.Window = pageviewWindow(marker, dumps)
		if report.Window == nil {
			r.log.WithField("marker", marker).Warn("no complete day since the last update, skipping pageviews")
		} else {
			r.log.WithFields(logrus.Fields{
				"start": report.Window.Start.Format(dump.DateFormat),
				"end":   report.Window.End.Format(dump.DateFormat),
			}).Info("pageviews window")
		}
	}

	workDir, err := os.MkdirTemp(r.cfg.TmpDir, "ws_")
	if err != nil {
		return nil, errors.Wrap(err, "create work dir")
	}
	defer os.RemoveAll(workDir)

	unpacker := dump.NewDecompressor(filepath.Join(workDir, "dumps"),
		r.cfg.Unpack.Retries, r.cfg.Unpack.RetryDelay, r.log, r.debugger)
	paths, err := unpacker.Run(ctx, dumps)
	r.metrics.SkippedFiles.Set(float64(unpacker.Metrics().FilesSkipped))
	if err != nil {
		return nil, errors.Wrap(err, "unpack dumps")
	}

	sources := make([][]stats.Source, len(dumps))
	for i, p := range r.cfg.Projects {
		pr := &ProjectReport{Project: p.Code, Dump: dumps[i].Name}
		report.Projects = append(report.Projects, pr)

		sources[i], err = r.extract(ctx, p, paths[i], cols, report.Window, filepath.Join(workDir, p.Code), pr)
		if err != nil {
			return nil, errors.Wrapf(err, "project %s", p.Code)
		}
	}

	txns := make([]*store.Txn, 0, len(r.cfg.Projects))
	defer func() {
		for _, txn := range txns {
			txn.Release()
		}
	}()
	for _, p := range r.cfg.Projects {
		txn, err := r.Store(category, p.Code).Begin(ctx, r.cfg.LockTimeout)
		if err != nil {
			return nil, errors.Wrapf(err, "project %s", p.Code)
		}
		txns = append(txns, txn)
	}

	merged := make([]*stats.Snapshot, len(txns))
	for i, txn := range txns {
		prev, err := txn.Latest(layout)
		if err != nil {
			return nil, errors.Wrapf(err, "project %s", r.cfg.Projects[i].Code)
		}
		next, ms, err := stats.Merge(prev, sources[i])
		if err != nil {
			return nil, errors.Wrapf(err, "project %s", r.cfg.Projects[i].Code)
		}
		merged[i] = next
		report.Projects[i].Merge = ms
		r.observeMerge(category, r.cfg.Projects[i].Code, ms)
	}

	for i, txn := range txns {
		path, err := txn.Publish(merged[i])
		if err != nil {
			return nil, errors.Wrapf(err, "project %s", r.cfg.Projects[i].Code)
		}
		report.Projects[i].Snapshot = filepath.Base(path)
	}

	if isGated {
		next := windowEnd(dumps)
		if err := SaveMarker(r.cfg.DataFile, next); err != nil {
			return nil, err
		}
		report.Marker = next
	}

	report.Duration = time.Since(started)
	r.metrics.RunDuration.WithLabelValues(category).Set(report.Duration.Seconds())
	r.metrics.LastSuccess.WithLabelValues(category).Set(float64(r.now().Unix()))
	return report, nil
}

// extract produces the merge sources of one project in column order. The
// tables are also written to dir for inspection while the run lasts.
func (r *Runner) extract(ctx context.Context, p config.Project, dumpPath string,
	cols []config.Column, window *Window, dir string, pr *ProjectReport,
) ([]stats.Source, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "create work dir")
	}

	res, err := r.Backlinks(ctx, r.NewExtractor(), dumpPath)
	if err != nil {
		return nil, err
	}
	pr.Pages = len(res.Titles)
	if err := writeTable(filepath.Join(dir, "backlinks.tsv"), res.Backlinks); err != nil {
		return nil, err
	}

	var out []stats.Source
	for _, col := range cols {
		switch col.Source {
		case config.SourceBacklinks:
			out = append(out, stats.Source{Column: col.Name, Table: res.Backlinks})

		case config.SourcePrimaryTags:
			tags := primary.FromTitles(res.Titles)
			if err := writeTable(filepath.Join(dir, "prtags.tsv"), tags); err != nil {
				return nil, err
			}
			out = append(out, stats.Source{Column: col.Name, Table: tags})

		case config.SourcePrimaryPredicate:
			out = append(out, stats.Source{Column: col.Name, Predicate: primary.Flag})

		case config.SourcePageviews:
			if window == nil {
				continue
			}
			src, err := r.PageviewSource(p.Code)
			if err != nil {
				return nil, err
			}
			views, err := r.Pageviews(ctx, src, p.Code, window.Request(r.cfg.Pageviews, p.Code), res.Titles, pr)
			if err != nil {
				return nil, err
			}
			if err := writeTable(filepath.Join(dir, "pageviews.tsv"), views); err != nil {
				return nil, err
			}
			out = append(out, stats.Source{Column: col.Name, Table: views})
		}
	}
	return out, nil
}

func (r *Runner) NewExtractor() *backlinks.Extractor {
	return backlinks.NewExtractor(r.log, r.debugger)
}

// Backlinks reads a pages-articles dump, compressed or not, with ex.
func (r *Runner) Backlinks(ctx context.Context, ex *backlinks.Extractor, path string) (*backlinks.Result, error) {
	f, err := dump.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r.log.WithField("dump", path).Info("extracting backlinks")
	res, err := ex.Run(ctx, dump.NewReader(f))
	if err != nil {
		return nil, errors.Wrap(err, "extract backlinks")
	}
	m := ex.Metrics()
	r.log.WithFields(logrus.Fields{
		"pages":     m.PagesRead,
		"articles":  m.ArticlesFound,
		"redirects": m.Redirects,
	}).Info("backlinks extracted")
	return res, nil
}

// PageviewSource returns the source given by WithPageviews, or a client
// built from the configuration.
func (r *Runner) PageviewSource(project string) (PageviewSource, error) {
	if r.pageviews != nil {
		return r.pageviews, nil
	}
	pv := r.cfg.Pageviews
	return pageviews.NewClient(pageviews.Config{
		URL:         pv.URL,
		UserAgent:   pv.UserAgent,
		Concurrency: pv.Concurrency,
		Rate:        pv.Rate,
		Retries:     pv.Retries,
		RetryDelay:  pv.RetryDelay,
		Timeout:     pv.Timeout,
	}, r.log.WithField("project", project), r.debugger)
}

// Pageviews fetches the pageviews of articles from src. pr may be nil.
func (r *Runner) Pageviews(ctx context.Context, src PageviewSource, project string, req pageviews.Request,
	articles []string, pr *ProjectReport,
) (*stats.Table, error) {
	r.log.WithFields(logrus.Fields{"project": project, "articles": len(articles)}).Info("fetching pageviews")
	views, err := src.Fetch(ctx, req, articles)
	if client, ok := src.(*pageviews.Client); ok {
		m := client.Metrics()
		r.metrics.observePageviews(project, m)
		if pr != nil {
			pr.Pageviews = &m
		}
	}
	if err != nil {
		return nil, errors.Wrap(err, "pageviews")
	}
	return views, nil
}

// Init creates the first snapshot of a project: an empty table under the
// knowledge base head of the category.
func (r *Runner) Init(ctx context.Context, category, project string) (string, error) {
	layout, err := r.cfg.Layout(category)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Join(r.cfg.StatsDir, category), 0o755); err != nil {
		return "", errors.Wrap(err, "create statistics dir")
	}
	txn, err := r.Store(category, project).Begin(ctx, r.cfg.LockTimeout)
	if err != nil {
		return "", err
	}
	defer txn.Release()
	return txn.Init(stats.NewSnapshot(kb.SnapshotHead(layout), layout))
}

// Input names the table file merged into one column.
type Input struct {
	Column string
	Path   string
}

// Merge folds already extracted tables into the latest snapshot of one
// project and publishes the result.
func (r *Runner) Merge(ctx context.Context, category, project string, inputs []Input) (*ProjectReport, error) {
	layout, err := r.cfg.Layout(category)
	if err != nil {
		return nil, err
	}

	sources := make([]stats.Source, 0, len(inputs))
	for _, in := range inputs {
		if _, ok := layout.Index(in.Column); !ok {
			return nil, errors.Errorf("category %s has no column %q", category, in.Column)
		}
		t, err := readTable(in.Path)
		if err != nil {
			return nil, err
		}
		sources = append(sources, stats.Source{Column: in.Column, Table: t})
	}

	txn, err := r.Store(category, project).Begin(ctx, r.cfg.LockTimeout)
	if err != nil {
		return nil, err
	}
	defer txn.Release()

	prev, err := txn.Latest(layout)
	if err != nil {
		return nil, err
	}
	next, ms, err := stats.Merge(prev, sources)
	if err != nil {
		return nil, err
	}
	path, err := txn.Publish(next)
	if err != nil {
		return nil, err
	}
	r.observeMerge(category, project, ms)
	return &ProjectReport{Project: project, Snapshot: filepath.Base(path), Merge: ms}, nil
}

// Diff compares two versions of a project history.
func (r *Runner) Diff(ctx context.Context, category, project string, from, to store.Pointer) (*stats.Changes, error) {
	layout, err := r.cfg.Layout(category)
	if err != nil {
		return nil, err
	}
	s := r.Store(category, project)
	a, err := s.Snapshot(ctx, r.cfg.LockTimeout, layout, from)
	if err != nil {
		return nil, err
	}
	b, err := s.Snapshot(ctx, r.cfg.LockTimeout, layout, to)
	if err != nil {
		return nil, err
	}
	return stats.Diff(a, b), nil
}

func readTable(path string) (*stats.Table, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open table")
	}
	defer f.Close()
	t, err := stats.ReadTable(f)
	return t, errors.Wrapf(err, "read table %s", path)
}

func writeTable(path string, t *stats.Table) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create table")
	}
	if _, err := t.WriteTo(f); err != nil {
		f.Close()
		return errors.Wrapf(err, "write table %s", path)
	}
	return errors.Wrapf(f.Close(), "write table %s", path)
}
