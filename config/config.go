// Package config holds the settings of a wikistats deployment: where the
// statistics and dumps live, which projects are tracked and how the columns
// of every statistics category are merged.
package config

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"wikistats/stats"
)

// Column sources. A table source reads a per-signal table produced by an
// extractor; the predicate source derives the value from the article name.
const (
	SourceBacklinks        = "backlinks"
	SourcePageviews        = "pageviews"
	SourcePrimaryTags      = "primary_tags"
	SourcePrimaryPredicate = "primary_predicate"
)

var knownSources = map[string]bool{
	SourceBacklinks:        true,
	SourcePageviews:        true,
	SourcePrimaryTags:      true,
	SourcePrimaryPredicate: true,
}

type Config struct {
	BaseDir     string        `yaml:"base_dir"`
	StatsDir    string        `yaml:"stats_dir"`
	DataFile    string        `yaml:"data_file"`
	DumpDir     string        `yaml:"dump_dir"`
	DumpPattern string        `yaml:"dump_pattern"`
	TmpDir      string        `yaml:"tmp_dir"`
	LockTimeout time.Duration `yaml:"lock_timeout"`
	// Links keeps latest_/previous_/second_previous_ symlinks for readers
	// of the old layout.
	Links bool `yaml:"links"`

	Projects   []Project           `yaml:"projects"`
	Categories map[string][]Column `yaml:"categories"`

	Pageviews Pageviews `yaml:"pageviews"`
	Unpack    Unpack    `yaml:"unpack"`
	Log       Log       `yaml:"log"`
	Metrics   Metrics   `yaml:"metrics"`
}

type Project struct {
	Code     string `yaml:"code"`
	Language string `yaml:"language"`
}

type Column struct {
	Name   string `yaml:"name"`
	Policy string `yaml:"policy"`
	Source string `yaml:"source"`
}

type Pageviews struct {
	URL         string        `yaml:"url"`
	UserAgent   string        `yaml:"user_agent"`
	Access      string        `yaml:"access"`
	Agent       string        `yaml:"agent"`
	Granularity string        `yaml:"granularity"`
	Concurrency int           `yaml:"concurrency"`
	Rate        int           `yaml:"rate"`
	// Retries follow the first request, 2 means three attempts in total.
	Retries     uint64        `yaml:"retries"`
	RetryDelay  time.Duration `yaml:"retry_delay"`
	Timeout     time.Duration `yaml:"timeout"`
}

type Unpack struct {
	Retries    uint64        `yaml:"retries"`
	RetryDelay time.Duration `yaml:"retry_delay"`
}

type Log struct {
	Dir    string `yaml:"dir"`
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type Metrics struct {
	// Textfile, when set, receives the run metrics in the Prometheus text
	// format after every run.
	Textfile string `yaml:"textfile"`
}

func Defaults() Config {
	return Config{
		BaseDir:     "/mnt/minerva1/nlp-in/wikipedia-statistics",
		DumpDir:     "/mnt/minerva1/nlp/corpora_datasets/monolingual/{language}/wikipedia",
		DumpPattern: `^(?:cs|en|sk)wiki-\d{8}-pages-articles\.xml$`,
		TmpDir:      os.TempDir(),
		LockTimeout: 5 * time.Minute,
		Projects: []Project{
			{Code: "en", Language: "english"},
			{Code: "cs", Language: "czech"},
			{Code: "sk", Language: "slovak"},
		},
		Categories: map[string][]Column{
			"stats": {
				{Name: "backlinks", Policy: "overwrite", Source: SourceBacklinks},
				{Name: "pageviews", Policy: "accumulate", Source: SourcePageviews},
				{Name: "primary_sense", Policy: "overwrite", Source: SourcePrimaryTags},
			},
			"bps": {
				{Name: "backlinks", Policy: "overwrite", Source: SourceBacklinks},
				{Name: "primary_sense", Policy: "overwrite", Source: SourcePrimaryPredicate},
			},
		},
		Pageviews: Pageviews{
			URL:         "https://wikimedia.org/api/rest_v1/metrics/pageviews/per-article",
			UserAgent:   "wikistats/1.0 (https://nlp.fit.vutbr.cz)",
			Access:      "all-access",
			Agent:       "user",
			Granularity: "daily",
			Concurrency: 8,
			Rate:        50,
			Retries:     2,
			RetryDelay:  2 * time.Second,
			Timeout:     30 * time.Second,
		},
		Unpack: Unpack{
			Retries:    3,
			RetryDelay: 5 * time.Second,
		},
		Log: Log{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads the YAML file at path on top of the defaults, applies the
// environment and validates the result. An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, errors.Wrap(err, "read config")
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.Wrapf(err, "parse config %s", path)
		}
	}

	if err := FromEnv(&cfg); err != nil {
		return cfg, errors.Wrap(err, "config from environment")
	}
	cfg.resolve()

	return cfg, cfg.Validate()
}

// resolve fills the paths derived from BaseDir.
func (c *Config) resolve() {
	if c.StatsDir == "" {
		c.StatsDir = filepath.Join(c.BaseDir, "stats")
	}
	if c.DataFile == "" {
		c.DataFile = filepath.Join(c.BaseDir, "data", "last_update")
	}
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.BaseDir, "logs")
	}
}

func (c Config) Validate() error {
	if len(c.Projects) == 0 {
		return errors.New("no projects configured")
	}
	seen := make(map[string]bool, len(c.Projects))
	for _, p := range c.Projects {
		if p.Code == "" || p.Language == "" {
			return errors.Errorf("project %+v needs a code and a language", p)
		}
		if seen[p.Code] {
			return errors.Errorf("project %q listed twice", p.Code)
		}
		seen[p.Code] = true
	}

	if _, err := regexp.Compile(c.DumpPattern); err != nil {
		return errors.Wrap(err, "dump_pattern")
	}
	if !strings.Contains(c.DumpDir, "{language}") && len(c.Projects) > 1 {
		return errors.New("dump_dir must contain {language} when more than one project is tracked")
	}
	if c.LockTimeout < 0 {
		return errors.New("lock_timeout must not be negative")
	}

	if len(c.Categories) == 0 {
		return errors.New("no categories configured")
	}
	for name := range c.Categories {
		if _, err := c.Layout(name); err != nil {
			return err
		}
	}

	if c.Pageviews.Concurrency < 1 {
		return errors.New("pageviews.concurrency must be at least 1")
	}
	if c.Pageviews.Rate < 0 {
		return errors.New("pageviews.rate must not be negative")
	}
	return nil
}

// Layout builds the column layout of a category.
func (c Config) Layout(category string) (*stats.Layout, error) {
	cols, ok := c.Categories[category]
	if !ok {
		return nil, errors.Errorf("unknown category %q", category)
	}
	out := make([]stats.Column, 0, len(cols))
	for _, col := range cols {
		p, err := stats.ParsePolicy(col.Policy)
		if err != nil {
			return nil, errors.Wrapf(err, "category %s, column %s", category, col.Name)
		}
		if !knownSources[col.Source] {
			return nil, errors.Errorf("category %s, column %s: unknown source %q", category, col.Name, col.Source)
		}
		out = append(out, stats.Column{Name: col.Name, Policy: p})
	}
	l, err := stats.NewLayout(out...)
	if err != nil {
		return nil, errors.Wrapf(err, "category %s", category)
	}
	return l, nil
}

// Columns returns the column settings of a category in file order.
func (c Config) Columns(category string) []Column {
	return c.Categories[category]
}

// DumpDirFor returns the dump directory of a project.
func (c Config) DumpDirFor(p Project) string {
	return strings.ReplaceAll(c.DumpDir, "{language}", p.Language)
}

func (c Config) Project(code string) (Project, bool) {
	for _, p := range c.Projects {
		if p.Code == code {
			return p, true
		}
	}
	return Project{}, false
}
