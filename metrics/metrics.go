// Package metrics exposes Prometheus collectors for pipeline observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles the pipeline's collectors. Construct one per process and
// inject it; nothing here registers globals beyond the default registry.
type Metrics struct {
	IssuesFound    *prometheus.CounterVec
	LinkChecks     *prometheus.CounterVec
	AnalyzerErrors *prometheus.CounterVec
	FilesAnalyzed  prometheus.Counter
	LLMTokens      *prometheus.CounterVec
	RunDuration    prometheus.Histogram
}

// New creates and registers the collectors with reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		IssuesFound: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsqa_issues_found_total",
			Help: "Issues found, by rule code and severity.",
		}, []string{"rule_code", "severity"}),

		LinkChecks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsqa_link_checks_total",
			Help: "Link checks performed, by outcome.",
		}, []string{"outcome"}),

		AnalyzerErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsqa_analyzer_errors_total",
			Help: "Analyzer failures, by analyzer.",
		}, []string{"analyzer"}),

		FilesAnalyzed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docsqa_files_analyzed_total",
			Help: "Documentation files analyzed.",
		}),

		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docsqa_llm_tokens_total",
			Help: "LLM tokens consumed, by direction (prompt or completion).",
		}, []string{"direction"}),

		RunDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docsqa_run_duration_seconds",
			Help:    "Wall time of complete analysis runs.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
	}
}
