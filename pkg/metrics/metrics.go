// Package metrics exposes prometheus instrumentation for watch sessions.
package metrics

import (
	"net/http"
	"sync"

	"github.com/holon-run/livetap/pkg/live"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registerOnce sync.Once

	connectAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livetap",
			Subsystem: "session",
			Name:      "connect_attempts_total",
			Help:      "Connect procedures by outcome.",
		},
		[]string{"result"},
	)
	disconnects = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livetap",
			Subsystem: "session",
			Name:      "disconnects_total",
			Help:      "Disconnect procedures by stop-session outcome.",
		},
		[]string{"stop"},
	)
	eventsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livetap",
			Subsystem: "events",
			Name:      "received_total",
			Help:      "Events reconciled from the event channel.",
		},
		[]string{"event"},
	)
	historyEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "livetap",
			Subsystem: "history",
			Name:      "evictions_total",
			Help:      "Entries evicted from bounded histories.",
		},
		[]string{"history"},
	)
	viewerCount = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "livetap",
			Subsystem: "session",
			Name:      "viewer_count",
			Help:      "Last reported viewer count.",
		},
	)
	status = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "livetap",
			Subsystem: "session",
			Name:      "status",
			Help:      "1 for the current session status, 0 otherwise.",
		},
		[]string{"status"},
	)
)

var allStatuses = []live.Status{
	live.StatusDisconnected,
	live.StatusConnecting,
	live.StatusConnected,
	live.StatusError,
}

// RegisterMetrics registers collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(connectAttempts, disconnects, eventsReceived, historyEvictions, viewerCount, status)
		for _, s := range allStatuses {
			status.WithLabelValues(string(s)).Set(0)
		}
		status.WithLabelValues(string(live.StatusDisconnected)).Set(1)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}

func RecordConnect(result string) {
	RegisterMetrics()
	connectAttempts.WithLabelValues(result).Inc()
}

func RecordDisconnect(stopOK bool) {
	RegisterMetrics()
	label := "ok"
	if !stopOK {
		label = "failed"
	}
	disconnects.WithLabelValues(label).Inc()
}

func RecordEvent(name live.EventName) {
	RegisterMetrics()
	eventsReceived.WithLabelValues(string(name)).Inc()
}

func RecordEviction(history string) {
	RegisterMetrics()
	historyEvictions.WithLabelValues(history).Inc()
}

func SetViewerCount(n int) {
	RegisterMetrics()
	viewerCount.Set(float64(n))
}

func SetStatus(current live.Status) {
	RegisterMetrics()
	for _, s := range allStatuses {
		v := 0.0
		if s == current {
			v = 1
		}
		status.WithLabelValues(string(s)).Set(v)
	}
}
