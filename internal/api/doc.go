// Package api exposes the REST surface of the daemon: submitting and
// querying token action invocations, listing the action catalog and
// configured chains, issuing API tokens and serving Prometheus metrics.
package api
