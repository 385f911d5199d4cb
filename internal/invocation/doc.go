// Package invocation persists and queues action invocations and runs each of
// them exactly once through the plugin dispatcher. Failed invocations are
// recorded with their error code and are never re-enqueued.
package invocation
