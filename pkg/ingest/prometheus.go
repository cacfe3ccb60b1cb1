package ingest

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/nicktill/tinylog/pkg/record"
)

// promSample is one line of the exposition: name{labels} value
type promSample struct {
	labels map[string]string
	value  float64
}

// promFamily is a metric name with its HELP, TYPE and samples
type promFamily struct {
	name    string
	help    string
	typ     string
	samples []promSample
}

// HandlePrometheusMetrics exports pipeline counters in Prometheus text format
// so external scrapers can watch queue depth, flush and purge activity.
//
// Format: https://prometheus.io/docs/instrumenting/exposition_formats/
func (h *Handler) HandlePrometheusMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	writeFamilies(w, h.metricFamilies())
}

func (h *Handler) metricFamilies() []promFamily {
	accepted := promFamily{
		name: "tinylog_ingest_accepted_total",
		help: "Records accepted by the ingest endpoint",
		typ:  "counter",
	}
	for lvl := record.LevelTrace; lvl < record.LevelNone; lvl++ {
		accepted.samples = append(accepted.samples, promSample{
			labels: map[string]string{"level": lvl.String()},
			value:  float64(h.accepted[lvl].Load()),
		})
	}

	families := []promFamily{
		gauge("tinylog_queue_depth", "Records buffered and waiting for a flush", float64(h.queue.Len())),
		accepted,
		counter("tinylog_ingest_rejected_total", "Records rejected by validation or cardinality limits", float64(h.rejected.Load())),
		counter("tinylog_ingest_filtered_total", "Records dropped by the minimum level filter", float64(h.filtered.Load())),
		gauge("tinylog_sources", "Distinct host/category pairs seen in the last day", float64(h.sources.Stats().TotalSources)),
	}

	if h.pipeline != nil {
		s := h.pipeline.Stats()
		families = append(families,
			counter("tinylog_flush_ticks_total", "Flush cycles started", float64(s.Ticks)),
			counter("tinylog_flush_skipped_total", "Flush ticks skipped because a cycle was still draining", float64(s.SkippedTicks)),
			counter("tinylog_records_persisted_total", "Records persisted to storage", float64(s.Persisted)),
			counter("tinylog_records_failed_total", "Records dropped after a failed persist", float64(s.Failed)),
			counter("tinylog_records_cancelled_total", "Records whose persist was cancelled by shutdown", float64(s.Cancelled)),
			counter("tinylog_records_dropped_total", "Records still buffered when the worker closed", float64(s.Dropped)),
			counter("tinylog_purges_total", "Purge cycles run", float64(s.Purges)),
			counter("tinylog_purge_failures_total", "Purge cycles that failed", float64(s.PurgeFailures)),
			counter("tinylog_records_purged_total", "Records removed by retention", float64(s.Purged)),
		)
	}
	return families
}

func gauge(name, help string, v float64) promFamily {
	return promFamily{name: name, help: help, typ: "gauge", samples: []promSample{{value: v}}}
}

func counter(name, help string, v float64) promFamily {
	return promFamily{name: name, help: help, typ: "counter", samples: []promSample{{value: v}}}
}

func writeFamilies(w io.Writer, families []promFamily) {
	for _, f := range families {
		fmt.Fprintf(w, "# HELP %s %s\n", f.name, f.help)
		fmt.Fprintf(w, "# TYPE %s %s\n", f.name, f.typ)
		for _, s := range f.samples {
			fmt.Fprintf(w, "%s%s %v\n", f.name, formatPrometheusLabels(s.labels), s.value)
		}
	}
}

// formatPrometheusLabels formats labels in Prometheus format: {key="value",key2="value2"}
func formatPrometheusLabels(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf(`%s="%s"`, k, escapePrometheusValue(labels[k])))
	}

	return "{" + strings.Join(pairs, ",") + "}"
}

// escapePrometheusValue escapes backslash, double-quote and line feed in label values
func escapePrometheusValue(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `"`, `\"`)
	s = strings.ReplaceAll(s, "\n", `\n`)
	return s
}
