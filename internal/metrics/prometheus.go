package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"bias-aggregator/internal/version"
)

// Recorder records aggregation pass and event metrics in Prometheus.
type Recorder struct {
	registry *prometheus.Registry
	passes   *prometheus.CounterVec
	events   *prometheus.CounterVec
	duration *prometheus.HistogramVec
	bias     *prometheus.GaugeVec
	build    *prometheus.GaugeVec
}

// New creates a recorder on its own registry, with the Go and process
// collectors attached.
func New() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		passes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bias_passes_total",
				Help: "Aggregation passes by outcome",
			},
			[]string{"outcome"},
		),
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bias_events_total",
				Help: "Scored events handled by aggregation passes, by resulting status",
			},
			[]string{"status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bias_pass_duration_seconds",
				Help:    "Duration of aggregation passes in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"outcome"},
		),
		bias: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bias_percentage",
				Help: "Latest composite bias percentage per symbol",
			},
			[]string{"symbol"},
		),
		build: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "bias_build_info",
				Help: "Build metadata of the running binary, always 1",
			},
			[]string{"version", "commit", "goversion"},
		),
	}
}

// SetBuildInfo publishes info as the labels of bias_build_info.
func (r *Recorder) SetBuildInfo(info version.Info) {
	r.build.Reset()
	r.build.WithLabelValues(info.Version, info.Commit, info.GoVersion).Set(1)
}

// ObservePass records one pass outcome and its duration.
func (r *Recorder) ObservePass(outcome string, seconds float64) {
	r.passes.WithLabelValues(outcome).Inc()
	r.duration.WithLabelValues(outcome).Observe(seconds)
}

// ObserveEvent counts an event leaving the queue with status.
func (r *Recorder) ObserveEvent(status string) {
	r.events.WithLabelValues(status).Inc()
}

// ObserveBias records the latest root percentage of symbol.
func (r *Recorder) ObserveBias(symbol string, percentage float64) {
	r.bias.WithLabelValues(symbol).Set(percentage)
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
