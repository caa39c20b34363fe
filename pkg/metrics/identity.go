package metrics

import "time"

// StoreMetrics provides observability for virtual store operations.
//
// This interface is optional - pass nil to disable metrics collection with
// zero overhead. The Prometheus implementation lives in
// pkg/metrics/prometheus.
type StoreMetrics interface {
	// RecordOperation records a completed store operation with its
	// duration and outcome. errorKind is empty on success.
	RecordOperation(operation string, domainName string, duration time.Duration, errorKind string)

	// RecordAuthentication records an authentication attempt against a
	// domain.
	RecordAuthentication(domainName string, success bool)

	// RecordCompensation records a compensation run against a connector
	// after a partial write failure.
	RecordCompensation(connectorID string, failed bool)
}

// NewStoreMetrics creates a Prometheus-backed StoreMetrics instance.
//
// Returns nil if metrics are not enabled (InitRegistry not called). When nil
// is returned, callers should pass nil to the virtual store, which results in
// zero overhead.
func NewStoreMetrics() StoreMetrics {
	if !IsEnabled() {
		return nil
	}
	return newPrometheusStoreMetrics()
}

// newPrometheusStoreMetrics is implemented in pkg/metrics/prometheus.
// This indirection avoids import cycles while keeping the API clean.
var newPrometheusStoreMetrics func() StoreMetrics

// RegisterStoreMetricsConstructor registers the Prometheus store metrics
// constructor. Called by pkg/metrics/prometheus during package
// initialization.
func RegisterStoreMetricsConstructor(constructor func() StoreMetrics) {
	newPrometheusStoreMetrics = constructor
}
