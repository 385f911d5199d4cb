// Package action sequences address resolution, the chain read or write call
// and result formatting for a single token action invocation.
package action
