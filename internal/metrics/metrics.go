package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the ingest counters. Labels: transport is "mq" or "http",
// kind is the report kind.
type Metrics struct {
	registry *prometheus.Registry

	ReportsTotal    *prometheus.CounterVec
	ReportsRejected *prometheus.CounterVec
	EventsAppended  prometheus.Counter
}

// New creates the metric set on its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		ReportsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outlet_telemetry",
			Name:      "reports_total",
			Help:      "Device reports accepted, by transport and kind.",
		}, []string{"transport", "kind"}),
		ReportsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "outlet_telemetry",
			Name:      "reports_rejected_total",
			Help:      "Device reports rejected before ingestion, by transport.",
		}, []string{"transport"}),
		EventsAppended: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "outlet_telemetry",
			Name:      "events_appended_total",
			Help:      "Usage events appended to the ledger.",
		}),
	}
}

// Handler exposes the registry for the /metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
