// Package metrics exports HTTP, action and mint submission metrics in the
// Prometheus exposition format.
package metrics
