package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wikistats/stats"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("")
	require.Nil(t, err)

	assert.Equal(t, "/mnt/minerva1/nlp-in/wikipedia-statistics/stats", cfg.StatsDir)
	assert.Equal(t, "/mnt/minerva1/nlp-in/wikipedia-statistics/data/last_update", cfg.DataFile)
	assert.Equal(t, 5*time.Minute, cfg.LockTimeout)
	assert.Equal(t, uint64(2), cfg.Pageviews.Retries)
	require.Len(t, cfg.Projects, 3)

	cs, ok := cfg.Project("cs")
	require.True(t, ok)
	assert.Equal(t, "/mnt/minerva1/nlp/corpora_datasets/monolingual/czech/wikipedia", cfg.DumpDirFor(cs))

	l, err := cfg.Layout("stats")
	require.Nil(t, err)
	assert.Equal(t, []string{"backlinks", "pageviews", "primary_sense"}, l.Names())
	idx, _ := l.Index("pageviews")
	assert.Equal(t, stats.Accumulate, l.Columns()[idx].Policy)

	l, err = cfg.Layout("bps")
	require.Nil(t, err)
	assert.Equal(t, 2, l.Len())
	assert.Equal(t, SourcePrimaryPredicate, cfg.Columns("bps")[1].Source)
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "wikistats.yaml")
	data := `
base_dir: /srv/ws
lock_timeout: 30s
projects:
  - code: sk
    language: slovak
categories:
  views:
    - name: pageviews
      policy: accumulate
      source: pageviews
pageviews:
  concurrency: 2
`
	require.Nil(t, os.WriteFile(path, []byte(data), 0o644))

	cfg, err := Load(path)
	require.Nil(t, err)

	assert.Equal(t, "/srv/ws/stats", cfg.StatsDir)
	assert.Equal(t, 30*time.Second, cfg.LockTimeout)
	assert.Equal(t, []Project{{Code: "sk", Language: "slovak"}}, cfg.Projects)
	assert.Equal(t, 2, cfg.Pageviews.Concurrency)
	assert.Equal(t, "daily", cfg.Pageviews.Granularity)

	_, err = cfg.Layout("views")
	assert.Nil(t, err)
	_, err = cfg.Layout("stats")
	assert.Nil(t, err)
	_, err = cfg.Layout("other")
	assert.NotNil(t, err)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("WIKISTATS_STATS_DIR", "/tmp/stats")
	t.Setenv("WIKISTATS_LOCK_TIMEOUT", "1m")
	t.Setenv("WIKISTATS_PROJECTS", "en, sk")
	t.Setenv("WIKISTATS_LINKS", "on")
	t.Setenv("WIKISTATS_PAGEVIEWS_CONCURRENCY", "3")

	cfg, err := Load("")
	require.Nil(t, err)

	assert.Equal(t, "/tmp/stats", cfg.StatsDir)
	assert.Equal(t, time.Minute, cfg.LockTimeout)
	assert.True(t, cfg.Links)
	assert.Equal(t, 3, cfg.Pageviews.Concurrency)
	require.Len(t, cfg.Projects, 2)
	assert.Equal(t, "sk", cfg.Projects[1].Code)
}

func TestFromEnvErrors(t *testing.T) {
	t.Run("bad duration", func(t *testing.T) {
		t.Setenv("WIKISTATS_LOCK_TIMEOUT", "soon")
		_, err := Load("")
		assert.NotNil(t, err)
	})

	t.Run("unknown project", func(t *testing.T) {
		t.Setenv("WIKISTATS_PROJECTS", "de")
		_, err := Load("")
		assert.NotNil(t, err)
	})
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no projects", func(c *Config) { c.Projects = nil }},
		{"duplicate project", func(c *Config) { c.Projects = append(c.Projects, c.Projects[0]) }},
		{"bad pattern", func(c *Config) { c.DumpPattern = "(" }},
		{"dump dir without placeholder", func(c *Config) { c.DumpDir = "/dumps" }},
		{"bad policy", func(c *Config) {
			c.Categories["stats"] = []Column{{Name: "a", Policy: "sum", Source: SourceBacklinks}}
		}},
		{"bad source", func(c *Config) {
			c.Categories["stats"] = []Column{{Name: "a", Policy: "overwrite", Source: "wikidata"}}
		}},
		{"duplicate column", func(c *Config) {
			c.Categories["stats"] = []Column{
				{Name: "a", Policy: "overwrite", Source: SourceBacklinks},
				{Name: "a", Policy: "overwrite", Source: SourcePageviews},
			}
		}},
		{"no concurrency", func(c *Config) { c.Pageviews.Concurrency = 0 }},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			cfg := Defaults()
			test.mutate(&cfg)
			assert.NotNil(t, cfg.Validate())
		})
	}

	assert.Nil(t, Defaults().Validate())
}
