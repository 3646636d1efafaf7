package internal

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

var _metricsNamespace = "otzovist"

// NewMetrics creates a new Prometheus registry with default collectors
// already registered.
func NewMetrics() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
			Namespace: _metricsNamespace,
		}),
		collectors.NewBuildInfoCollector(),
	)
	return reg
}

type engineMetrics struct {
	pages    prometheus.Counter
	reviews  prometheus.Counter
	dupes    prometheus.Counter
	passes   *prometheus.CounterVec
	captchas *prometheus.CounterVec
}

func newEngineMetrics(reg *prometheus.Registry) *engineMetrics {
	m := &engineMetrics{
		pages: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Name:      "pages_fetched_total",
			Help:      "Review pages fetched from the upstream.",
		}),
		reviews: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Name:      "reviews_fetched_total",
			Help:      "Unique reviews accumulated across all passes.",
		}),
		dupes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Name:      "reviews_deduped_total",
			Help:      "Reviews dropped as duplicates.",
		}),
		passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Name:      "passes_total",
			Help:      "Pagination passes run, by endpoint.",
		}, []string{"endpoint"}),
		captchas: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: _metricsNamespace,
			Name:      "captchas_total",
			Help:      "Captcha challenges, by outcome.",
		}, []string{"outcome"}),
	}
	if reg != nil {
		reg.MustRegister(m.pages, m.reviews, m.dupes, m.passes, m.captchas)
	}
	return m
}

func (m *engineMetrics) pageFetched() {
	if m != nil {
		m.pages.Inc()
	}
}

func (m *engineMetrics) reviewKept() {
	if m != nil {
		m.reviews.Inc()
	}
}

func (m *engineMetrics) reviewDuped() {
	if m != nil {
		m.dupes.Inc()
	}
}

func (m *engineMetrics) passRun(endpoint string) {
	if m != nil {
		m.passes.WithLabelValues(endpoint).Inc()
	}
}

func (m *engineMetrics) captcha(outcome string) {
	if m != nil {
		m.captchas.WithLabelValues(outcome).Inc()
	}
}
