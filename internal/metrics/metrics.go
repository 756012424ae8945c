package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}

// QueryMetrics counts register queries against the inverter.
type QueryMetrics struct {
	Queries  *prometheus.CounterVec   // labels: mnemonic, result
	Duration *prometheus.HistogramVec // labels: mnemonic
}

func NewQueryMetrics(reg prometheus.Registerer) *QueryMetrics {
	m := &QueryMetrics{
		Queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "solarmax_queries_total",
			Help: "Register queries sent to the inverter.",
		}, []string{"mnemonic", "result"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "solarmax_query_duration_seconds",
			Help:    "Time from request write to decoded response.",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5},
		}, []string{"mnemonic"}),
	}
	reg.MustRegister(m.Queries, m.Duration)
	return m
}

func (m *QueryMetrics) Observe(mnemonic, result string, d time.Duration) {
	m.Queries.WithLabelValues(mnemonic, result).Inc()
	m.Duration.WithLabelValues(mnemonic).Observe(d.Seconds())
}
