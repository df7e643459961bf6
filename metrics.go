/************************************************************************************
 *
 * ember, A Lightweight Go library for Discord-style gateway/HTTP clients
 *
 * SPDX-License-Identifier: BSD-3-Clause
 *
 * Copyright 2025 Marouane Souiri
 *
 * Licensed under the BSD 3-Clause License.
 * See the LICENSE file for details.
 *
 ************************************************************************************/

package ember

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors for the rate-limit coordinator,
// HTTP request engine, and gateway shards. A nil *Metrics disables
// collection entirely; every method on Metrics is a nil-safe no-op so
// callers never need to guard their call sites.
type Metrics struct {
	rateLimitWaitSeconds prometheus.Histogram
	globalLockSeconds    prometheus.Histogram
	requestsTotal        *prometheus.CounterVec
	requestDuration      *prometheus.HistogramVec
	requestRetries       prometheus.Counter
	heartbeatLatencyMs   *prometheus.GaugeVec
	shardState           *prometheus.GaugeVec
}

// NewMetrics constructs a Metrics instance and registers its collectors
// with reg. Pass prometheus.NewRegistry() for an isolated registry, or
// prometheus.DefaultRegisterer to expose via the default /metrics handler.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		rateLimitWaitSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "ratelimit",
			Name:      "acquire_wait_seconds",
			Help:      "Time spent waiting to acquire a rate-limit bucket or the global gate.",
			Buckets:   prometheus.DefBuckets,
		}),
		globalLockSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "ratelimit",
			Name:      "global_lock_seconds",
			Help:      "Duration the global gate was closed for, per lock_global call.",
			Buckets:   prometheus.DefBuckets,
		}),
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "HTTP requests completed, labeled by outcome class.",
		}, []string{"outcome"}),
		requestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ember",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "End-to-end duration of a request() call including retries.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method"}),
		requestRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ember",
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Number of retry attempts issued across all requests.",
		}),
		heartbeatLatencyMs: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "gateway",
			Name:      "heartbeat_latency_ms",
			Help:      "Most recent heartbeat round-trip latency per shard.",
		}, []string{"shard_id"}),
		shardState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ember",
			Subsystem: "gateway",
			Name:      "shard_state",
			Help:      "Current shard state machine state (see ShardState consts) per shard.",
		}, []string{"shard_id"}),
	}

	if reg != nil {
		reg.MustRegister(
			m.rateLimitWaitSeconds,
			m.globalLockSeconds,
			m.requestsTotal,
			m.requestDuration,
			m.requestRetries,
			m.heartbeatLatencyMs,
			m.shardState,
		)
	}
	return m
}

func (m *Metrics) observeRateLimitWait(d time.Duration) {
	if m == nil {
		return
	}
	m.rateLimitWaitSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeGlobalLock(d time.Duration) {
	if m == nil {
		return
	}
	m.globalLockSeconds.Observe(d.Seconds())
}

func (m *Metrics) observeRequest(method, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(outcome).Inc()
	m.requestDuration.WithLabelValues(method).Observe(d.Seconds())
}

func (m *Metrics) incRetry() {
	if m == nil {
		return
	}
	m.requestRetries.Inc()
}

func (m *Metrics) setHeartbeatLatency(shardID int, ms int64) {
	if m == nil {
		return
	}
	m.heartbeatLatencyMs.WithLabelValues(shardIDLabel(shardID)).Set(float64(ms))
}

func (m *Metrics) setShardState(shardID int, state ShardState) {
	if m == nil {
		return
	}
	m.shardState.WithLabelValues(shardIDLabel(shardID)).Set(float64(state))
}

func shardIDLabel(shardID int) string {
	return strconv.Itoa(shardID)
}
