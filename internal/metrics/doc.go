// Package metrics defines the Prometheus metrics exported by the
// conversion engine. Metrics are registered via promauto at package
// initialization and served by the status server's /metrics endpoint.
package metrics
