package vscope

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics collects transport counters. A nil *Metrics records nothing.
type Metrics struct {
	operations    *prometheus.CounterVec
	roundTrip     prometheus.Histogram
	discarded     prometheus.Counter
	falseSyncs    prometheus.Counter
	crcErrors     prometheus.Counter
	bytesSent     prometheus.Counter
	bytesReceived prometheus.Counter
	openHandles   prometheus.Gauge
}

// NewMetrics creates unregistered collectors in the vscope namespace.
func NewMetrics() *Metrics {
	return &Metrics{
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "vscope",
				Subsystem: "serial",
				Name:      "operations_total",
				Help:      "Device operations by outcome.",
			},
			[]string{"op", "outcome"},
		),
		roundTrip: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "round_trip_seconds",
			Help:      "Duration of send requests from write to decoded response.",
			Buckets:   []float64{.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		discarded: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "resync_discarded_bytes_total",
			Help:      "Bytes skipped while searching for a sync byte.",
		}),
		falseSyncs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "false_syncs_total",
			Help:      "Sync bytes followed by an out of range length.",
		}),
		crcErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "crc_errors_total",
			Help:      "Frames received with a checksum mismatch.",
		}),
		bytesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "sent_bytes_total",
			Help:      "Frame bytes written to devices.",
		}),
		bytesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "received_payload_bytes_total",
			Help:      "Payload bytes of decoded response frames.",
		}),
		openHandles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "vscope",
			Subsystem: "serial",
			Name:      "open_handles",
			Help:      "Connections currently registered.",
		}),
	}
}

// Collectors returns all collectors for registration.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.operations, m.roundTrip, m.discarded, m.falseSyncs,
		m.crcErrors, m.bytesSent, m.bytesReceived, m.openHandles,
	}
}

// Register adds the collectors to reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return KindOf(err).String()
}

func (m *Metrics) observeOp(op string, err error) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(op, outcomeOf(err)).Inc()
}

func (m *Metrics) observeExchange(sent, received int, stats decodeStats, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.bytesSent.Add(float64(sent))
	m.bytesReceived.Add(float64(received))
	m.discarded.Add(float64(stats.Discarded))
	m.falseSyncs.Add(float64(stats.FalseSyncs))
	m.crcErrors.Add(float64(stats.CrcErrors))
	m.roundTrip.Observe(elapsed.Seconds())
}

func (m *Metrics) setOpen(n int) {
	if m == nil {
		return
	}
	m.openHandles.Set(float64(n))
}
