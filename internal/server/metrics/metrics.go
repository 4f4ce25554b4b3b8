// Package metrics defines the Prometheus metrics of the registry.
//
// All Observe methods accept a nil receiver, so components built without
// metrics need no guards.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	metricPrefix = "fleetkeeper_"

	resultSuccess = "success"
	resultError   = "error"
)

// Metrics bundles registry metrics.
type Metrics struct {
	UploadsTotal    *prometheus.CounterVec
	UploadBytes     prometheus.Counter
	FanOutDevices   prometheus.Histogram
	AdvanceSteps    prometheus.Counter
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
}

// New constructs the metrics and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		UploadsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "version_uploads_total",
				Help: "Total version uploads by entity kind and result",
			},
			[]string{"kind", "result"},
		),
		UploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "version_upload_bytes_total",
			Help: "Total payload bytes stored",
		}),
		FanOutDevices: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    metricPrefix + "group_fanout_devices",
			Help:    "Member devices that received a group version",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100, 250},
		}),
		AdvanceSteps: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metricPrefix + "advance_steps_total",
			Help: "Total current-version advances",
		}),
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "http_requests_total",
				Help: "Total HTTP requests by route pattern, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "http_request_duration_seconds",
				Help:    "HTTP request latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
	}
	reg.MustRegister(
		m.UploadsTotal,
		m.UploadBytes,
		m.FanOutDevices,
		m.AdvanceSteps,
		m.RequestsTotal,
		m.RequestDuration,
	)
	return m
}

func result(err error) string {
	if err != nil {
		return resultError
	}
	return resultSuccess
}

// ObserveUpload records one upload attempt for an entity kind.
func (m *Metrics) ObserveUpload(kind string, size int64, err error) {
	if m == nil {
		return
	}
	m.UploadsTotal.WithLabelValues(kind, result(err)).Inc()
	if err == nil {
		m.UploadBytes.Add(float64(size))
	}
}

// ObserveFanOut records how many member devices a group upload reached.
func (m *Metrics) ObserveFanOut(devices int) {
	if m == nil {
		return
	}
	m.FanOutDevices.Observe(float64(devices))
}

func (m *Metrics) ObserveAdvance(steps int) {
	if m == nil || steps <= 0 {
		return
	}
	m.AdvanceSteps.Add(float64(steps))
}

func (m *Metrics) ObserveRequest(route, method string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, method, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route, method).Observe(elapsed.Seconds())
}
