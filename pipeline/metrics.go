package pipeline

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"wikistats/stats"
	"wikistats/wikipedia/pageviews"
)

type Metrics struct {
	registry *prometheus.Registry

	RowsCarried   *prometheus.GaugeVec
	RowsAdded     *prometheus.GaugeVec
	ValuesApplied *prometheus.GaugeVec
	ValuesDropped *prometheus.GaugeVec
	Pageviews     *prometheus.GaugeVec
	SkippedFiles  prometheus.Gauge
	LastSuccess   *prometheus.GaugeVec
	RunDuration   *prometheus.GaugeVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return &Metrics{
		registry: reg,
		RowsCarried: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_rows_carried",
			Help: "Rows of the previous snapshot no source touched",
		}, []string{"category", "project"}),
		RowsAdded: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_rows_added",
			Help: "Rows new in the published snapshot",
		}, []string{"category", "project"}),
		ValuesApplied: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_values_applied",
			Help: "Incoming values merged per column",
		}, []string{"category", "project", "column"}),
		ValuesDropped: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_values_dropped",
			Help: "Incoming values ignored because they were not integers",
		}, []string{"category", "project", "column"}),
		Pageviews: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_pageview_articles",
			Help: "Articles looked up in the pageviews API by result",
		}, []string{"project", "result"}), // result: found/not_found/failed
		SkippedFiles: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "wikistats_skipped_files",
			Help: "Files skipped after the retries ran out",
		}),
		LastSuccess: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_last_success_timestamp_seconds",
			Help: "Time of the last successful run",
		}, []string{"category"}),
		RunDuration: promauto.With(reg).NewGaugeVec(prometheus.GaugeOpts{
			Name: "wikistats_run_duration_seconds",
			Help: "Duration of the last run",
		}, []string{"category"}),
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) observeMerge(category, project string, ms *stats.MergeStats) {
	m.RowsCarried.WithLabelValues(category, project).Set(float64(ms.Carried))
	m.RowsAdded.WithLabelValues(category, project).Set(float64(ms.Added))
	for col, n := range ms.Applied {
		m.ValuesApplied.WithLabelValues(category, project, col).Set(float64(n))
	}
	for col, n := range ms.Dropped {
		m.ValuesDropped.WithLabelValues(category, project, col).Set(float64(n))
	}
}

func (m *Metrics) observePageviews(project string, pm pageviews.Metrics) {
	m.Pageviews.WithLabelValues(project, "found").Set(float64(pm.Found))
	m.Pageviews.WithLabelValues(project, "not_found").Set(float64(pm.NotFound))
	m.Pageviews.WithLabelValues(project, "failed").Set(float64(pm.Failed))
}

// WriteTextfile writes the registry for the node exporter textfile collector.
func (m *Metrics) WriteTextfile(path string) error {
	return errors.Wrap(prometheus.WriteToTextfile(path, m.registry), "write metrics")
}
