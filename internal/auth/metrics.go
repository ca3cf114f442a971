// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 StoreAuth Contributors

package auth

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus collectors recorded by Service and Sweeper.
// A nil *Metrics records nothing.
type Metrics struct {
	Logins        *prometheus.CounterVec
	Registrations *prometheus.CounterVec
	Resets        *prometheus.CounterVec
	SweepDeleted  *prometheus.CounterVec
	Duration      *prometheus.HistogramVec
}

// NewMetrics creates and registers the auth metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_logins_total",
			Help: "Total number of login attempts by result",
		}, []string{"result"}),
		Registrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_registrations_total",
			Help: "Total number of registration attempts by result",
		}, []string{"result"}),
		Resets: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_password_resets_total",
			Help: "Total number of password reset operations by stage and result",
		}, []string{"stage", "result"}),
		SweepDeleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storeauth_sweep_deleted_total",
			Help: "Total number of expired rows removed by the sweeper",
		}, []string{"table"}),
		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storeauth_operation_duration_seconds",
			Help:    "Latency of auth operations in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"operation"}),
	}

	reg.MustRegister(m.Logins, m.Registrations, m.Resets, m.SweepDeleted, m.Duration)
	return m
}

func (m *Metrics) login(result string) {
	if m != nil {
		m.Logins.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) registration(result string) {
	if m != nil {
		m.Registrations.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) reset(stage, result string) {
	if m != nil {
		m.Resets.WithLabelValues(stage, result).Inc()
	}
}

func (m *Metrics) swept(table string, n int64) {
	if m != nil && n > 0 {
		m.SweepDeleted.WithLabelValues(table).Add(float64(n))
	}
}

func (m *Metrics) observe(operation string, start time.Time) {
	if m != nil {
		m.Duration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
	}
}

// resultLabel maps an operation error onto a low-cardinality label.
func resultLabel(err error) string {
	if err == nil {
		return "success"
	}
	return KindOf(err).String()
}
