package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type promMetrics struct {
	requests        *prometheus.CounterVec
	picks           *prometheus.CounterVec
	pickFailures    prometheus.Counter
	forwardDuration *prometheus.HistogramVec
	forwardStatus   *prometheus.CounterVec
	instanceUp      *prometheus.GaugeVec
}

func newPromMetrics(reg prometheus.Registerer) *promMetrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &promMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edge_router",
				Name:      "requests_total",
				Help:      "Total number of inbound requests by route",
			},
			[]string{"route"},
		),
		picks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edge_router",
				Subsystem: "pool",
				Name:      "picks_total",
				Help:      "Total number of times each instance was picked",
			},
			[]string{"instance"},
		),
		pickFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "edge_router",
				Subsystem: "pool",
				Name:      "pick_failures_total",
				Help:      "Total number of picks the pool could not resolve",
			},
		),
		forwardDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "edge_router",
				Subsystem: "forward",
				Name:      "duration_seconds",
				Help:      "Duration of forwarded requests in seconds",
				Buckets: []float64{
					.001, .005, .01, .025,
					.05, .1, .25, .5,
					1, 2.5, 5, 10,
				},
			},
			[]string{"instance"},
		),
		forwardStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "edge_router",
				Subsystem: "forward",
				Name:      "responses_total",
				Help:      "Total number of forwarded responses by instance and status code",
			},
			[]string{"instance", "code"},
		),
		instanceUp: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "edge_router",
				Subsystem: "pool",
				Name:      "instance_running",
				Help:      "1 while the instance container is running, 0 once it sleeps",
			},
			[]string{"instance"},
		),
	}
}

func (p *promMetrics) observe(event MetricEvent) {
	if p == nil {
		return
	}

	switch event.Type {
	case EventRequestRouted:
		p.requests.WithLabelValues(event.Route).Inc()
	case EventInstancePicked:
		p.picks.WithLabelValues(event.Instance).Inc()
	case EventPickFailed:
		p.pickFailures.Inc()
	case EventForwardCompleted:
		p.forwardDuration.WithLabelValues(event.Instance).Observe(event.Duration.Seconds())
		p.forwardStatus.WithLabelValues(event.Instance, strconv.Itoa(event.StatusCode)).Inc()
	case EventInstanceStarted:
		p.instanceUp.WithLabelValues(event.Instance).Set(1)
	case EventInstanceSlept:
		p.instanceUp.WithLabelValues(event.Instance).Set(0)
	}
}
