package metric

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains all relay-level metrics (not connection-specific)
type Metrics struct {
	// Connection metrics
	ConnectionsActive prometheus.Gauge
	ConnectionsTotal  prometheus.Counter
	FramesSent        prometheus.Counter
	FramesDropped     *prometheus.CounterVec

	// Command metrics
	CommandsTotal *prometheus.CounterVec
	CommandErrors *prometheus.CounterVec

	// Fan-out metrics
	BusMessages     *prometheus.CounterVec
	BusDropped      *prometheus.CounterVec
	FanoutDuration  prometheus.Histogram
	SubscribedPeers prometheus.Gauge

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all relay metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ConnectionsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "georelay",
				Subsystem: "connections",
				Name:      "active",
				Help:      "Number of websocket connections currently open",
			},
		),

		ConnectionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "connections",
				Name:      "total",
				Help:      "Total number of websocket connections accepted",
			},
		),

		FramesSent: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "frames",
				Name:      "sent_total",
				Help:      "Total number of frames written to clients",
			},
		),

		FramesDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "frames",
				Name:      "dropped_total",
				Help:      "Total number of frames dropped because a connection queue was full",
			},
			[]string{"channel"},
		),

		CommandsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "commands",
				Name:      "total",
				Help:      "Total number of commands dispatched",
			},
			[]string{"command"},
		),

		CommandErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "commands",
				Name:      "errors_total",
				Help:      "Total number of command handler errors by class",
			},
			[]string{"class"},
		),

		BusMessages: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "bus",
				Name:      "messages_total",
				Help:      "Total number of messages received from the channel bus",
			},
			[]string{"channel"},
		),

		BusDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "bus",
				Name:      "dropped_total",
				Help:      "Total number of bus messages dropped before fan-out",
			},
			[]string{"channel"},
		),

		FanoutDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "georelay",
				Subsystem: "fanout",
				Name:      "duration_seconds",
				Help:      "Time to fan one bus message out to all subscribed connections",
				Buckets:   prometheus.DefBuckets,
			},
		),

		SubscribedPeers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "georelay",
				Subsystem: "fanout",
				Name:      "subscribed_peers",
				Help:      "Number of connections holding at least one channel subscription",
			},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "georelay",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "NATS connection status (0=disconnected, 1=connected)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "georelay",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total number of NATS reconnections",
			},
		),
	}
}

// RecordConnectionOpened tracks a newly accepted connection
func (c *Metrics) RecordConnectionOpened() {
	c.ConnectionsTotal.Inc()
	c.ConnectionsActive.Inc()
}

// RecordConnectionClosed tracks a closed connection
func (c *Metrics) RecordConnectionClosed() {
	c.ConnectionsActive.Dec()
}

// RecordFrameSent increments the sent frame counter
func (c *Metrics) RecordFrameSent() {
	c.FramesSent.Inc()
}

// RecordFrameDropped increments the dropped frame counter for a channel
func (c *Metrics) RecordFrameDropped(channel string) {
	c.FramesDropped.WithLabelValues(channel).Inc()
}

// RecordCommand increments the dispatch counter for a command name
func (c *Metrics) RecordCommand(command string) {
	c.CommandsTotal.WithLabelValues(command).Inc()
}

// RecordCommandError increments the error counter for an error class
func (c *Metrics) RecordCommandError(class string) {
	c.CommandErrors.WithLabelValues(class).Inc()
}

// RecordBusMessage increments the bus message counter for a channel
func (c *Metrics) RecordBusMessage(channel string) {
	c.BusMessages.WithLabelValues(channel).Inc()
}

// RecordBusDropped increments the dropped bus message counter for a channel
func (c *Metrics) RecordBusDropped(channel string) {
	c.BusDropped.WithLabelValues(channel).Inc()
}

// RecordFanoutDuration records one fan-out pass
func (c *Metrics) RecordFanoutDuration(duration time.Duration) {
	c.FanoutDuration.Observe(duration.Seconds())
}

// RecordSubscribedPeers updates the subscribed connection count
func (c *Metrics) RecordSubscribedPeers(count int) {
	c.SubscribedPeers.Set(float64(count))
}

// RecordNATSStatus updates NATS connection status
func (c *Metrics) RecordNATSStatus(connected bool) {
	value := 0.0
	if connected {
		value = 1.0
	}
	c.NATSConnected.Set(value)
}

// RecordNATSReconnect increments the reconnection counter
func (c *Metrics) RecordNATSReconnect() {
	c.NATSReconnects.Inc()
}
