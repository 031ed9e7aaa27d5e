package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"wikistats/config"
	"wikistats/debugger"
	"wikistats/pipeline"
	"wikistats/store"
)

type app struct {
	cfg      config.Config
	log      *logrus.Logger
	debugger *debugger.Debugger
	runner   *pipeline.Runner
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	code := run(ctx, os.Args)
	stop()
	os.Exit(code)
}

// run executes the command line and returns the exit status. Errors come
// back through RunContext so that teardown always runs before the process
// exits.
func run(ctx context.Context, args []string) int {
	a := &app{}
	err := a.cli().RunContext(ctx, args)
	if err == nil {
		return 0
	}
	if msg := err.Error(); msg != "" {
		fmt.Fprintln(os.Stderr, msg)
	}
	var exit cli.ExitCoder
	if errors.As(err, &exit) && exit.ExitCode() != 0 {
		return exit.ExitCode()
	}
	return 1
}

func (a *app) cli() *cli.App {
	return &cli.App{
		Name:  "wikistats",
		Usage: "keep per-article Wikipedia statistics up to date",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML configuration file",
				EnvVars: []string{"WIKISTATS_CONFIG"},
			},
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "override log.level",
			},
			&cli.StringFlag{
				Name:  "log-format",
				Usage: "text or json",
			},
		},
		Before: a.setup,
		After:  a.teardown,
		// Exit codes are mapped by run, after teardown.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			a.runCommand(),
			a.initCommand(),
			a.mergeCommand(),
			a.historyCommand(),
			a.diffCommand(),
			a.backlinksCommand(),
			a.primaryCommand(),
			a.pageviewsCommand(),
			a.kbCommand(),
		},
	}
}

func (a *app) setup(c *cli.Context) error {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	if v := c.String("log-level"); v != "" {
		cfg.Log.Level = v
	}
	if v := c.String("log-format"); v != "" {
		cfg.Log.Format = v
	}
	a.cfg = cfg

	a.log, err = newLogger(cfg.Log)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}

	a.debugger, err = debugger.NewDebugger(cfg.Log.Dir)
	if err != nil {
		return cli.Exit(errors.Wrap(err, "open debug log").Error(), 1)
	}

	a.runner, err = pipeline.New(cfg, a.log, a.debugger)
	if err != nil {
		return cli.Exit(err.Error(), 1)
	}
	return nil
}

func (a *app) teardown(c *cli.Context) error {
	if a.debugger == nil {
		return nil
	}
	if counts := a.debugger.Counts(); len(counts) > 0 {
		a.log.WithField("file", a.debugger.FileName()).WithField("events", counts).Warn("recovered failures were recorded")
	}
	if path := a.cfg.Metrics.Textfile; path != "" && a.runner != nil {
		if err := a.runner.Metrics().WriteTextfile(path); err != nil {
			a.log.WithError(err).Warn("could not write metrics")
		}
	}
	return a.debugger.Close()
}

func newLogger(cfg config.Log) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, errors.Wrap(err, "log level")
	}
	log.SetLevel(level)

	switch cfg.Format {
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	default:
		return nil, errors.Errorf("unknown log format %q", cfg.Format)
	}
	return log, nil
}

// fail maps an error onto the exit status. A held lock is reported on its
// own so that cron wrappers can tell it apart.
func fail(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, store.ErrLocked) {
		return cli.Exit("locked: "+err.Error(), 1)
	}
	return cli.Exit(err.Error(), 1)
}
