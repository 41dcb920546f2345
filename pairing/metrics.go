package pairing

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics of the session controller
type Metrics struct {
	// Call request metrics
	CallRequests       *prometheus.CounterVec
	DecodeFailures     *prometheus.CounterVec
	ProposalsPublished prometheus.Counter

	// Session metrics
	ConnectAttempts  *prometheus.CounterVec
	SessionConnected prometheus.Gauge
}

// NewMetrics registers the metrics with the default registry
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(nil)
}

// NewMetricsWithRegistry registers the metrics with a custom registry
func NewMetricsWithRegistry(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(registry)

	return &Metrics{
		CallRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletlink_call_requests_total",
				Help: "The total number of call requests received from the peer wallet",
			},
			[]string{"method"}, // eth_sendTransaction or other
		),
		DecodeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletlink_call_decode_failures_total",
				Help: "The total number of call requests that failed to decode, by step",
			},
			[]string{"step"},
		),
		ProposalsPublished: factory.NewCounter(prometheus.CounterOpts{
			Name: "walletlink_proposals_published_total",
			Help: "The total number of transaction proposals published",
		}),
		ConnectAttempts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "walletlink_connect_attempts_total",
				Help: "The total number of connect attempts, by result",
			},
			[]string{"result"},
		),
		SessionConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "walletlink_session_connected",
			Help: "1 while a peer wallet session is connected",
		}),
	}
}

func (m *Metrics) setConnected(connected bool) {
	if connected {
		m.SessionConnected.Set(1)
		return
	}
	m.SessionConnected.Set(0)
}

// methodLabel keeps peer-chosen method names out of label values.
func methodLabel(method string) string {
	if method == MethodSendTransaction {
		return MethodSendTransaction
	}
	return "other"
}
