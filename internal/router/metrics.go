package router

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics counts mesh traffic as it moves through the router.
type Metrics struct {
	PacketsReceived *prometheus.CounterVec
	DecodeErrors    prometheus.Counter
	PacketsSent     *prometheus.CounterVec
	AcksReceived    prometheus.Counter
	NacksReceived   prometheus.Counter
	RequestTimeouts prometheus.Counter
	MessagesStored  prometheus.Counter
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PacketsReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "packets_received_total",
			Help:      "Mesh packets received, by application port.",
		}, []string{"port"}),
		DecodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "decode_errors_total",
			Help:      "Payloads that failed protobuf decoding.",
		}),
		PacketsSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "packets_sent_total",
			Help:      "Mesh packets queued for the radio, by application port.",
		}, []string{"port"}),
		AcksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "acks_received_total",
			Help:      "Routing acknowledgements received.",
		}),
		NacksReceived: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "nacks_received_total",
			Help:      "Routing errors received.",
		}),
		RequestTimeouts: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "request_timeouts_total",
			Help:      "Tracked requests that expired without a response.",
		}),
		MessagesStored: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "meshmonitor",
			Subsystem: "router",
			Name:      "messages_stored_total",
			Help:      "Text messages written to the store.",
		}),
	}
}
