package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/BaSui01/flowkit/hub"
)

// MetricsCollector holds the Prometheus instruments a metrics channel
// updates from the event stream.
type MetricsCollector struct {
	eventsTotal   *prometheus.CounterVec
	flowsTotal    *prometheus.CounterVec
	flowDuration  *prometheus.HistogramVec
	nodesTotal    *prometheus.CounterVec
	nodeDuration  *prometheus.HistogramVec
	nodeRetries   *prometheus.CounterVec
	sessionPauses prometheus.Counter
}

// NewMetricsCollector registers the instruments with the given registerer
// (nil uses the default registry).
func NewMetricsCollector(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &MetricsCollector{
		eventsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_total",
				Help:      "Total number of events emitted, by type",
			},
			[]string{"type"},
		),
		flowsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "flow_runs_total",
				Help:      "Total number of completed flow runs, by outcome",
			},
			[]string{"flow", "result"},
		),
		flowDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "flow_duration_seconds",
				Help:      "Flow run duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"flow"},
		),
		nodesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_executions_total",
				Help:      "Total number of node executions, by type and outcome",
			},
			[]string{"node_type", "result"},
		),
		nodeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "node_duration_seconds",
				Help:      "Node execution duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"node_type"},
		),
		nodeRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "node_retries_total",
				Help:      "Total number of node retry attempts",
			},
			[]string{"node_id"},
		),
		sessionPauses: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "session_pauses_total",
				Help:      "Total number of resumable pauses",
			},
		),
	}
}

// NewMetricsChannel builds a channel that feeds the collector from the
// event stream.
func NewMetricsChannel(collector *MetricsCollector) hub.ChannelDefinition {
	return hub.ChannelDefinition{
		Name: "metrics",
		On: map[string]hub.ChannelHandler{
			"*": func(cc hub.ChannelContext) error {
				collector.eventsTotal.WithLabelValues(cc.Event.Type()).Inc()
				return nil
			},
			"flow:complete": func(cc hub.ChannelContext) error {
				ev, ok := cc.Event.Event.(hub.FlowCompleted)
				if !ok {
					return nil
				}
				result := "success"
				if !ev.Success {
					result = "failure"
				}
				collector.flowsTotal.WithLabelValues(ev.FlowName, result).Inc()
				collector.flowDuration.WithLabelValues(ev.FlowName).Observe(float64(ev.DurationMs) / 1000)
				return nil
			},
			"node:complete": func(cc hub.ChannelContext) error {
				ev, ok := cc.Event.Event.(hub.NodeCompleted)
				if !ok {
					return nil
				}
				collector.nodesTotal.WithLabelValues(ev.NodeType, "success").Inc()
				collector.nodeDuration.WithLabelValues(ev.NodeType).Observe(float64(ev.DurationMs) / 1000)
				return nil
			},
			"node:failed": func(cc hub.ChannelContext) error {
				ev, ok := cc.Event.Event.(hub.NodeFailed)
				if !ok {
					return nil
				}
				collector.nodesTotal.WithLabelValues(ev.NodeType, "failure").Inc()
				return nil
			},
			"node:retry": func(cc hub.ChannelContext) error {
				ev, ok := cc.Event.Event.(hub.NodeRetrying)
				if !ok {
					return nil
				}
				collector.nodeRetries.WithLabelValues(ev.NodeID).Inc()
				return nil
			},
			"session:paused": func(cc hub.ChannelContext) error {
				collector.sessionPauses.Inc()
				return nil
			},
		},
	}
}
