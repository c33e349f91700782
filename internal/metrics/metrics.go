// Package metrics exposes node counters in Prometheus format
package metrics

import (
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/somash07/PyroAlert/internal/central"
	"github.com/somash07/PyroAlert/internal/dispatch"
)

// Metrics holds all node metrics
type Metrics struct {
	// Frame loop counters
	FramesReceived    atomic.Uint64
	FramesMalformed   atomic.Uint64
	DetectionsVisible atomic.Uint64
	Candidates        atomic.Uint64
	AlertsSuppressed  atomic.Uint64
	AlertsDropped     atomic.Uint64

	// Latency tracking
	ProcessLatencyUs atomic.Uint64 // Last frame processing time in µs
	LastFrameUnix    atomic.Int64

	alertsAdmitted *prometheus.CounterVec
	centralInbound *prometheus.CounterVec

	// Prometheus collectors
	registry *prometheus.Registry
}

// New creates a Metrics instance with its own registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		alertsAdmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyroalert_alerts_admitted_total",
				Help: "Alerts that passed the cooldown gate, by class",
			},
			[]string{"class"},
		),
		centralInbound: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pyroalert_channel_inbound_total",
				Help: "Messages received from the backend channel, by message type",
			},
			[]string{"type"},
		),
	}

	m.registerFrameMetrics()
	return m
}

func (m *Metrics) counter(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewCounterFunc(
		prometheus.CounterOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) gauge(name, help string, fn func() float64) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{Name: name, Help: help},
		fn,
	))
}

func (m *Metrics) registerFrameMetrics() {
	m.registry.MustRegister(m.alertsAdmitted, m.centralInbound)

	m.counter("pyroalert_frames_received_total", "Total detection frames received",
		func() float64 { return float64(m.FramesReceived.Load()) })
	m.counter("pyroalert_frames_malformed_total", "Total frames that failed to decode",
		func() float64 { return float64(m.FramesMalformed.Load()) })
	m.counter("pyroalert_detections_visible_total", "Total fire/smoke detections above the display threshold",
		func() float64 { return float64(m.DetectionsVisible.Load()) })
	m.counter("pyroalert_alert_candidates_total", "Total alert candidates above the alert threshold",
		func() float64 { return float64(m.Candidates.Load()) })
	m.counter("pyroalert_alerts_suppressed_total", "Total frames whose alert was suppressed by cooldown",
		func() float64 { return float64(m.AlertsSuppressed.Load()) })
	m.counter("pyroalert_alerts_dropped_total", "Total admitted alerts dropped because the queue was full",
		func() float64 { return float64(m.AlertsDropped.Load()) })

	m.gauge("pyroalert_frame_process_latency_us", "Processing time of the last frame in microseconds",
		func() float64 { return float64(m.ProcessLatencyUs.Load()) })
	m.gauge("pyroalert_last_frame_timestamp_seconds", "Unix time the last frame was received",
		func() float64 { return float64(m.LastFrameUnix.Load()) })
}

// ObserveFrame records one processed frame
func (m *Metrics) ObserveFrame(received time.Time) {
	m.FramesReceived.Add(1)
	m.LastFrameUnix.Store(received.Unix())
	m.ProcessLatencyUs.Store(uint64(time.Since(received).Microseconds()))
}

// AlertAdmitted counts an alert that passed the gate
func (m *Metrics) AlertAdmitted(class string) {
	m.alertsAdmitted.WithLabelValues(class).Inc()
}

// maxTypeLabel bounds the label value taken from backend messages
const maxTypeLabel = 32

// CentralMessage counts an inbound channel message by its "type" field.
// Messages that are not JSON objects or carry no type count as "unknown".
func (m *Metrics) CentralMessage(msg []byte) {
	var envelope struct {
		Type string `json:"type"`
	}
	kind := "unknown"
	if err := json.Unmarshal(msg, &envelope); err == nil && envelope.Type != "" {
		kind = envelope.Type
		if len(kind) > maxTypeLabel {
			kind = kind[:maxTypeLabel]
		}
	}
	m.centralInbound.WithLabelValues(kind).Inc()
}

// WatchChannel exports the persistent channel's stats
func (m *Metrics) WatchChannel(stats func() central.Stats) {
	m.gauge("pyroalert_channel_connected", "Persistent channel connected (0/1)",
		func() float64 {
			if stats().State == central.StateConnected.String() {
				return 1
			}
			return 0
		})
	m.counter("pyroalert_channel_connects_total", "Total successful channel connections",
		func() float64 { return float64(stats().Connects) })
	m.counter("pyroalert_channel_connect_failures_total", "Total failed channel connection attempts",
		func() float64 { return float64(stats().ConnectFailures) })
	m.counter("pyroalert_channel_messages_sent_total", "Total messages sent over the channel",
		func() float64 { return float64(stats().MessagesSent) })
	m.counter("pyroalert_channel_send_errors_total", "Total channel send failures",
		func() float64 { return float64(stats().SendErrors) })
	m.counter("pyroalert_channel_messages_received_total", "Total messages received from the backend",
		func() float64 { return float64(stats().MessagesReceived) })
}

// WatchDispatcher exports the delivery pool's stats
func (m *Metrics) WatchDispatcher(stats func() dispatch.Stats) {
	m.gauge("pyroalert_dispatch_queued", "Alerts waiting for a worker",
		func() float64 { return float64(stats().Queued) })
	m.gauge("pyroalert_dispatch_in_flight", "Alerts being delivered",
		func() float64 { return float64(stats().InFlight) })
	m.counter("pyroalert_dispatch_submitted_total", "Total alerts accepted by the backend",
		func() float64 { return float64(stats().Submitted) })
	m.counter("pyroalert_dispatch_submit_failures_total", "Total failed backend submissions",
		func() float64 { return float64(stats().SubmitFailures) })
	m.counter("pyroalert_dispatch_broadcasts_total", "Total live broadcasts sent",
		func() float64 { return float64(stats().Broadcasts) })
	m.counter("pyroalert_dispatch_broadcast_skipped_total", "Total broadcasts skipped while disconnected",
		func() float64 { return float64(stats().BroadcastSkipped) })
	m.counter("pyroalert_dispatch_acks_total", "Total acknowledgements relayed over the channel",
		func() float64 { return float64(stats().Acks) })
	m.counter("pyroalert_dispatch_panics_total", "Total recovered worker panics",
		func() float64 { return float64(stats().Panics) })
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns the Prometheus HTTP handler
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
