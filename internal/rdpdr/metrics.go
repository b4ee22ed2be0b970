package rdpdr

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rcarmo/go-rdpdr/internal/protocol/rdpefs"
)

// Metrics are the engine's prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	pending     prometheus.Gauge
	devices     prometheus.Gauge
	requests    *prometheus.CounterVec
	completions *prometheus.CounterVec
	aborts      prometheus.Counter
}

// NewMetrics creates the collectors and registers them on reg when it is not nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdpdr_pending_requests",
			Help: "The number of device I/O requests waiting in the scheduler.",
		}),
		devices: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rdpdr_registered_devices",
			Help: "The number of devices registered for redirection.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpdr_io_requests_total",
			Help: "The total number of device I/O requests received, by major function.",
		}, []string{"major"}),
		completions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rdpdr_completions_total",
			Help: "The total number of device I/O completions sent, by status.",
		}, []string{"result"}),
		aborts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rdpdr_aborts_total",
			Help: "The total number of pending requests aborted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.pending, m.devices, m.requests, m.completions, m.aborts)
	}
	return m
}

func (m *Metrics) setPending(n int) {
	if m != nil {
		m.pending.Set(float64(n))
	}
}

func (m *Metrics) setDevices(n int) {
	if m != nil {
		m.devices.Set(float64(n))
	}
}

func (m *Metrics) request(major rdpefs.MajorFunction) {
	if m != nil {
		m.requests.WithLabelValues(major.String()).Inc()
	}
}

func (m *Metrics) completion(status rdpefs.NTStatus) {
	if m == nil {
		return
	}
	result := "success"
	switch {
	case status == rdpefs.StatusIOTimeout:
		result = "timeout"
	case status == rdpefs.StatusCancelled:
		result = "cancelled"
	case status.IsFailure():
		result = "failure"
	}
	m.completions.WithLabelValues(result).Inc()
}

func (m *Metrics) abort() {
	if m != nil {
		m.aborts.Inc()
	}
}
