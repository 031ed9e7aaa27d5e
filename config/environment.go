package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

// FromEnv overrides config values with WIKISTATS_* environment variables.
func FromEnv(config *Config) error {
	if v := os.Getenv("WIKISTATS_BASE_DIR"); v != "" {
		config.BaseDir = v
	}

	if v := os.Getenv("WIKISTATS_STATS_DIR"); v != "" {
		config.StatsDir = v
	}

	if v := os.Getenv("WIKISTATS_DATA_FILE"); v != "" {
		config.DataFile = v
	}

	if v := os.Getenv("WIKISTATS_DUMP_DIR"); v != "" {
		config.DumpDir = v
	}

	if v := os.Getenv("WIKISTATS_TMP_DIR"); v != "" {
		config.TmpDir = v
	}

	if v := os.Getenv("WIKISTATS_LOCK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return errors.Wrapf(err, "parse WIKISTATS_LOCK_TIMEOUT as duration")
		}
		config.LockTimeout = d
	}

	if v := os.Getenv("WIKISTATS_LINKS"); v != "" {
		config.Links = enabled(v)
	}

	// WIKISTATS_PROJECTS narrows the tracked projects to a comma separated
	// list of codes.
	if v := os.Getenv("WIKISTATS_PROJECTS"); v != "" {
		var keep []Project
		for _, code := range strings.Split(v, ",") {
			code = strings.TrimSpace(code)
			p, ok := config.Project(code)
			if !ok {
				return errors.Errorf("WIKISTATS_PROJECTS: unknown project %q", code)
			}
			keep = append(keep, p)
		}
		config.Projects = keep
	}

	if v := os.Getenv("WIKISTATS_PAGEVIEWS_URL"); v != "" {
		config.Pageviews.URL = v
	}

	if v := os.Getenv("WIKISTATS_PAGEVIEWS_CONCURRENCY"); v != "" {
		asInt, err := strconv.Atoi(v)
		if err != nil {
			return errors.Wrapf(err, "parse WIKISTATS_PAGEVIEWS_CONCURRENCY as int")
		}
		config.Pageviews.Concurrency = asInt
	}

	if v := os.Getenv("WIKISTATS_LOG_DIR"); v != "" {
		config.Log.Dir = v
	}

	if v := os.Getenv("WIKISTATS_LOG_LEVEL"); v != "" {
		config.Log.Level = v
	}

	if v := os.Getenv("WIKISTATS_METRICS_TEXTFILE"); v != "" {
		config.Metrics.Textfile = v
	}

	return nil
}

func enabled(value string) bool {
	switch strings.ToLower(value) {
	case "on", "enabled", "1", "true":
		return true
	}
	return false
}
