package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	TransportRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "click_transport_requests_total",
		Help: "Requests issued to the click configuration surface",
	}, []string{"backend", "op", "result"})

	ConfigParseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "click_config_parse_duration_seconds",
		Help:    "Time taken to walk every element handler",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	})

	TopologyRebuilds = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "click_topology_rebuilds_total",
		Help: "Topology rebuild attempts by result",
	}, []string{"result"})

	TopologyVertices = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "click_topology_vertices",
		Help: "Vertices in the last published element and router graphs",
	}, []string{"graph"})

	LinkOperations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "click_linkctl_operations_total",
		Help: "Link control mutations by operation and result",
	}, []string{"op", "result"})

	RouteFlapToggles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "click_route_flap_toggles_total",
		Help: "Route flap phases applied",
	})
)

// Result maps an error to the result label value.
func Result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}
