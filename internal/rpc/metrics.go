package rpc

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	callsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbroker_rpc_calls_total",
		Help: "Total number of RPC calls by method and outcome.",
	}, []string{"method", "status"})

	callDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "authbroker_rpc_call_duration_seconds",
		Help:    "RPC call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	loginsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "authbroker_logins_total",
		Help: "Explicit login attempts by method and result.",
	}, []string{"method", "result"})
)

func init() {
	prometheus.MustRegister(callsTotal, callDuration, loginsTotal)
}

// StateSource exposes the live counts reported as gauges.
type StateSource interface {
	ActiveSessions() int
	ActiveTokens() int
	DroppedEvents() uint64
}

// RegisterStateMetrics registers gauges that read src at scrape time.
func RegisterStateMetrics(reg prometheus.Registerer, src StateSource) error {
	collectors := []prometheus.Collector{
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authbroker_active_sessions",
			Help: "Number of authenticated sessions.",
		}, func() float64 { return float64(src.ActiveSessions()) }),
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "authbroker_active_tokens",
			Help: "Number of tokens held in the registry, including expired ones not yet purged.",
		}, func() float64 { return float64(src.ActiveTokens()) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Name: "authbroker_events_dropped_total",
			Help: "Lifecycle events discarded because a subscriber was full.",
		}, func() float64 { return float64(src.DroppedEvents()) }),
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// MetricsHandler returns the Prometheus metrics HTTP handler.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func loginResult(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}
