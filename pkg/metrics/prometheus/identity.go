// Package prometheus implements the metrics contracts on the Prometheus
// client library. Importing this package registers its constructors with
// pkg/metrics.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/fedid/fedid/pkg/metrics"
)

func init() {
	metrics.RegisterStoreMetricsConstructor(func() metrics.StoreMetrics {
		return NewStoreMetrics()
	})
}

// storeMetrics is the Prometheus implementation of metrics.StoreMetrics.
type storeMetrics struct {
	operations      *prometheus.CounterVec
	operationTime   *prometheus.HistogramVec
	authentications *prometheus.CounterVec
	compensations   *prometheus.CounterVec
}

// NewStoreMetrics creates a Prometheus-backed store metrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called).
func NewStoreMetrics() *storeMetrics {
	if !metrics.IsEnabled() {
		return nil
	}

	reg := metrics.GetRegistry()

	return &storeMetrics{
		operations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedid_store_operations_total",
				Help: "Total virtual store operations by operation, domain and error kind",
			},
			[]string{"operation", "domain", "error_kind"},
		),
		operationTime: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "fedid_store_operation_duration_seconds",
				Help:    "Virtual store operation latency by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
		authentications: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedid_authentications_total",
				Help: "Authentication attempts by domain and result",
			},
			[]string{"domain", "result"},
		),
		compensations: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "fedid_compensations_total",
				Help: "Compensation runs after partial write failures by connector and result",
			},
			[]string{"connector", "result"},
		),
	}
}

// RecordOperation records a completed store operation.
func (m *storeMetrics) RecordOperation(operation, domainName string, duration time.Duration, errorKind string) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, domainName, errorKind).Inc()
	m.operationTime.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordAuthentication records an authentication attempt.
func (m *storeMetrics) RecordAuthentication(domainName string, success bool) {
	if m == nil {
		return
	}
	result := "failure"
	if success {
		result = "success"
	}
	m.authentications.WithLabelValues(domainName, result).Inc()
}

// RecordCompensation records a compensation run against a connector.
func (m *storeMetrics) RecordCompensation(connectorID string, failed bool) {
	if m == nil {
		return
	}
	result := "ok"
	if failed {
		result = "failed"
	}
	m.compensations.WithLabelValues(connectorID, result).Inc()
}
