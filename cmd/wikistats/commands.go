package main

import (
	"bufio"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"wikistats/kb"
	"wikistats/pipeline"
	"wikistats/stats"
	"wikistats/store"
	"wikistats/wikipedia"
	"wikistats/wikipedia/dump"
	"wikistats/wikipedia/pageviews"
	"wikistats/wikipedia/primary"
)

func categoryFlag() cli.Flag {
	return &cli.StringFlag{Name: "category", Value: "stats", Usage: "statistics category"}
}

func projectFlag() cli.Flag {
	return &cli.StringFlag{Name: "project", Aliases: []string{"p"}, Usage: "project code, e.g. en"}
}

func metricsFlag() cli.Flag {
	return &cli.BoolFlag{Name: "metrics", Usage: "print the extraction metrics"}
}

func outFlag() cli.Flag {
	return &cli.StringFlag{Name: "out", Aliases: []string{"o"}, Value: "-", Usage: "output file, - for stdout"}
}

func (a *app) runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "merge the newest dumps into every project of a category",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "job", Value: "stats", Usage: "category to update"},
			&cli.BoolFlag{Name: "metrics", Usage: "print the run report"},
		},
		Action: func(c *cli.Context) error {
			report, err := a.runner.Run(c.Context, c.String("job"))
			if err != nil {
				return fail(err)
			}
			if report.UpToDate {
				a.log.Info("everything up to date")
				return nil
			}
			for _, p := range report.Projects {
				a.log.WithFields(logrus.Fields{
					"project":  p.Project,
					"snapshot": p.Snapshot,
					"added":    p.Merge.Added,
					"carried":  p.Merge.Carried,
				}).Info("project updated")
			}
			if c.Bool("metrics") {
				return report.PrintMetrics()
			}
			return nil
		},
	}
}

// projects returns the project named by --project, or every configured one.
func (a *app) projects(c *cli.Context) ([]string, error) {
	if code := c.String("project"); code != "" {
		if _, ok := a.cfg.Project(code); !ok {
			return nil, errors.Errorf("unknown project %q", code)
		}
		return []string{code}, nil
	}
	codes := make([]string, 0, len(a.cfg.Projects))
	for _, p := range a.cfg.Projects {
		codes = append(codes, p.Code)
	}
	return codes, nil
}

func (a *app) initCommand() *cli.Command {
	return &cli.Command{
		Name:  "init",
		Usage: "create the first, empty snapshot of a category",
		Flags: []cli.Flag{categoryFlag(), projectFlag()},
		Action: func(c *cli.Context) error {
			codes, err := a.projects(c)
			if err != nil {
				return fail(err)
			}
			for _, code := range codes {
				path, err := a.runner.Init(c.Context, c.String("category"), code)
				if err != nil {
					return fail(errors.Wrapf(err, "project %s", code))
				}
				a.log.WithField("file", path).Info("initialised")
			}
			return nil
		},
	}
}

func (a *app) mergeCommand() *cli.Command {
	return &cli.Command{
		Name:      "merge",
		Usage:     "merge extracted tables into the latest snapshot of one project",
		ArgsUsage: "column=table.tsv...",
		Flags:     []cli.Flag{categoryFlag(), projectFlag()},
		Action: func(c *cli.Context) error {
			if c.String("project") == "" || c.NArg() == 0 {
				return cli.Exit("merge needs --project and at least one column=table.tsv", 1)
			}
			var inputs []pipeline.Input
			for _, arg := range c.Args().Slice() {
				col, path, ok := strings.Cut(arg, "=")
				if !ok || col == "" || path == "" {
					return cli.Exit("bad table argument "+arg, 1)
				}
				inputs = append(inputs, pipeline.Input{Column: col, Path: path})
			}

			pr, err := a.runner.Merge(c.Context, c.String("category"), c.String("project"), inputs)
			if err != nil {
				return fail(err)
			}
			a.log.WithFields(logrus.Fields{
				"snapshot": pr.Snapshot,
				"added":    pr.Merge.Added,
				"carried":  pr.Merge.Carried,
				"applied":  pr.Merge.Applied,
				"dropped":  pr.Merge.Dropped,
			}).Info("merged")
			return nil
		},
	}
}

func (a *app) historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "show the snapshots a project history points to",
		Flags: []cli.Flag{categoryFlag(), projectFlag()},
		Action: func(c *cli.Context) error {
			codes, err := a.projects(c)
			if err != nil {
				return fail(err)
			}
			w := bufio.NewWriter(os.Stdout)
			defer w.Flush()
			for _, code := range codes {
				h, err := a.runner.Store(c.String("category"), code).History(c.Context, a.cfg.LockTimeout)
				if err != nil {
					return fail(err)
				}
				for _, p := range []store.Pointer{store.Latest, store.Previous, store.SecondPrevious} {
					name := h.Get(p)
					if name == "" {
						name = "-"
					}
					w.WriteString(code + "\t" + p.String() + "\t" + name + "\n")
				}
			}
			return nil
		},
	}
}

func (a *app) diffCommand() *cli.Command {
	return &cli.Command{
		Name:  "diff",
		Usage: "compare two versions of a project history",
		Flags: []cli.Flag{
			categoryFlag(), projectFlag(),
			&cli.StringFlag{Name: "from", Value: "previous"},
			&cli.StringFlag{Name: "to", Value: "latest"},
			&cli.BoolFlag{Name: "rows", Usage: "print every changed row"},
		},
		Action: func(c *cli.Context) error {
			from, err := store.ParsePointer(c.String("from"))
			if err != nil {
				return fail(err)
			}
			to, err := store.ParsePointer(c.String("to"))
			if err != nil {
				return fail(err)
			}
			if c.String("project") == "" {
				return cli.Exit("diff needs --project", 1)
			}

			ch, err := a.runner.Diff(c.Context, c.String("category"), c.String("project"), from, to)
			if err != nil {
				return fail(err)
			}
			a.log.WithFields(logrus.Fields{
				"added":     len(ch.Added),
				"removed":   len(ch.Removed),
				"changed":   len(ch.Changed),
				"unchanged": ch.Unchanged,
			}).Info("diff")

			if c.Bool("rows") {
				w := bufio.NewWriter(os.Stdout)
				defer w.Flush()
				for _, key := range ch.Added {
					w.WriteString("+\t" + key + "\n")
				}
				for _, key := range ch.Removed {
					w.WriteString("-\t" + key + "\n")
				}
				for _, change := range ch.Changed {
					w.WriteString("~\t" + change.Pretty() + "\n")
				}
			}
			return nil
		},
	}
}

func (a *app) backlinksCommand() *cli.Command {
	return &cli.Command{
		Name:      "backlinks",
		Usage:     "count the inbound links of every article of a dump",
		ArgsUsage: "DUMP",
		Flags:     []cli.Flag{outFlag(), metricsFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("backlinks needs a dump file", 1)
			}
			ex := a.runner.NewExtractor()
			res, err := a.runner.Backlinks(c.Context, ex, c.Args().First())
			if err != nil {
				return fail(err)
			}
			if err := writeOut(c.String("out"), res.Backlinks); err != nil {
				return fail(err)
			}
			if c.Bool("metrics") {
				return fail(ex.PrintMetrics())
			}
			return nil
		},
	}
}

func (a *app) primaryCommand() *cli.Command {
	return &cli.Command{
		Name:      "primary",
		Usage:     "tag articles of a dump or a knowledge base as primary senses",
		ArgsUsage: "FILE",
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "kb", Usage: "FILE is a knowledge base TSV, not a dump"},
			outFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return cli.Exit("primary needs an input file", 1)
			}
			path := c.Args().First()

			if c.Bool("kb") {
				f, err := os.Open(path)
				if err != nil {
					return fail(err)
				}
				defer f.Close()
				t, err := primary.FromKB(f)
				if err != nil {
					return fail(err)
				}
				return fail(writeOut(c.String("out"), t))
			}

			res, err := a.runner.Backlinks(c.Context, a.runner.NewExtractor(), path)
			if err != nil {
				return fail(err)
			}
			return fail(writeOut(c.String("out"), primary.FromTitles(res.Titles)))
		},
	}
}

func (a *app) pageviewsCommand() *cli.Command {
	return &cli.Command{
		Name:      "pageviews",
		Usage:     "look up the pageviews of the articles listed one per line",
		ArgsUsage: "ARTICLES",
		Flags: []cli.Flag{
			projectFlag(),
			&cli.StringFlag{Name: "start", Required: true, Usage: "YYYYMMDD"},
			&cli.StringFlag{Name: "end", Required: true, Usage: "YYYYMMDD"},
			outFlag(), metricsFlag(),
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 || c.String("project") == "" {
				return cli.Exit("pageviews needs --project and an article list", 1)
			}
			articles, err := readLines(c.Args().First())
			if err != nil {
				return fail(err)
			}
			start, err := time.Parse(dump.DateFormat, c.String("start"))
			if err != nil {
				return fail(errors.Wrap(err, "start"))
			}
			end, err := time.Parse(dump.DateFormat, c.String("end"))
			if err != nil {
				return fail(errors.Wrap(err, "end"))
			}

			project := c.String("project")
			w := pipeline.Window{Start: start, End: end}
			src, err := a.runner.PageviewSource(project)
			if err != nil {
				return fail(err)
			}
			t, err := a.runner.Pageviews(c.Context, src, project, w.Request(a.cfg.Pageviews, project), articles, nil)
			if err != nil {
				return fail(err)
			}
			if err := writeOut(c.String("out"), t); err != nil {
				return fail(err)
			}
			if client, ok := src.(*pageviews.Client); ok && c.Bool("metrics") {
				return fail(client.PrintMetrics())
			}
			return nil
		},
	}
}

func (a *app) kbCommand() *cli.Command {
	return &cli.Command{
		Name:      "kb",
		Usage:     "append the statistics of the latest snapshot to a knowledge base",
		ArgsUsage: "KB",
		Flags: []cli.Flag{
			categoryFlag(), projectFlag(), outFlag(),
			&cli.BoolFlag{Name: "head", Usage: "print only the head of a new statistics file"},
		},
		Action: func(c *cli.Context) error {
			category := c.String("category")
			layout, err := a.cfg.Layout(category)
			if err != nil {
				return fail(err)
			}
			if c.Bool("head") {
				return fail(writeString(c.String("out"), kb.SnapshotHead(layout)))
			}
			if c.NArg() != 1 || c.String("project") == "" {
				return cli.Exit("kb needs --project and a knowledge base file", 1)
			}

			snap, err := a.runner.Store(category, c.String("project")).
				Snapshot(c.Context, a.cfg.LockTimeout, layout, store.Latest)
			if err != nil {
				return fail(err)
			}

			in, err := os.Open(c.Args().First())
			if err != nil {
				return fail(err)
			}
			defer in.Close()

			out, closeOut, err := create(c.String("out"))
			if err != nil {
				return fail(err)
			}
			js, err := kb.Join(in, snap, out)
			if cerr := closeOut(); err == nil {
				err = cerr
			}
			if err != nil {
				return fail(err)
			}
			a.log.WithFields(logrus.Fields{
				"records":   js.Records,
				"matched":   js.Matched,
				"unmatched": js.Unmatched,
				"unchanged": js.AlreadyPresent,
			}).Info("knowledge base joined")
			return nil
		},
	}
}

func create(path string) (io.Writer, func() error, error) {
	if path == "-" || path == "" {
		return os.Stdout, func() error { return nil }, nil
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, err
	}
	return f, f.Close, nil
}

func writeOut(path string, t *stats.Table) error {
	w, closeOut, err := create(path)
	if err != nil {
		return err
	}
	if _, err := t.WriteTo(w); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

func writeString(path, s string) error {
	w, closeOut, err := create(path)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(w, s); err != nil {
		closeOut()
		return err
	}
	return closeOut()
}

// readLines reads article names, one per line, as wiki keys.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, wikipedia.Canonical(line))
		}
	}
	return out, errors.Wrap(sc.Err(), "read articles")
}
