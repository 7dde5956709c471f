// instrument.go - Prometheus instrumentation.
// SPDX-FileCopyrightText: © 2026 Tavolo Authors
// SPDX-License-Identifier: AGPL-3.0-only

// Package instrument exposes Prometheus metrics for the relay messaging
// core.
package instrument

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	publishes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tavolo_relay_publishes_total",
			Help: "Number of per-relay publish outcomes",
		},
		[]string{"outcome"},
	)
	reconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavolo_relay_reconnects_total",
			Help: "Number of relay reconnect attempts",
		},
	)
	connectedRelays = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tavolo_relay_connected",
			Help: "Number of currently connected relays",
		},
	)
	decryptFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavolo_wrap_decrypt_failures_total",
			Help: "Number of inbound wraps that failed to unwrap or unseal",
		},
	)
	correlationTimeouts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tavolo_correlation_timeouts_total",
			Help: "Number of reply waits that hit their deadline",
		},
	)
)

func init() {
	prometheus.MustRegister(publishes)
	prometheus.MustRegister(reconnects)
	prometheus.MustRegister(connectedRelays)
	prometheus.MustRegister(decryptFailures)
	prometheus.MustRegister(correlationTimeouts)
}

// PublishOutcome records one per-relay publish outcome.
func PublishOutcome(success bool) {
	if success {
		publishes.With(prometheus.Labels{"outcome": "success"}).Inc()
	} else {
		publishes.With(prometheus.Labels{"outcome": "failure"}).Inc()
	}
}

// Reconnect records a relay reconnect attempt.
func Reconnect() {
	reconnects.Inc()
}

// RelayConnected tracks the connected-relay gauge.
func RelayConnected(up bool) {
	if up {
		connectedRelays.Inc()
	} else {
		connectedRelays.Dec()
	}
}

// DecryptFailure records an inbound wrap that could not be opened.
func DecryptFailure() {
	decryptFailures.Inc()
}

// CorrelationTimeout records a reply wait that hit its deadline.
func CorrelationTimeout() {
	correlationTimeouts.Inc()
}

// StartMetricsServer serves the Prometheus scrape endpoint on addr.
func StartMetricsServer(addr string) {
	http.Handle("/metrics", promhttp.Handler())
	go func() {
		_ = http.ListenAndServe(addr, nil)
	}()
}
