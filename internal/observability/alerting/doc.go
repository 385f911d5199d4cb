// Package alerting fans out alert events for ambiguous mint submissions and
// other critical failures to the configured channels.
package alerting
