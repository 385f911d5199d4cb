// Package mysql opens MySQL connection pools and applies the embedded schema
// migrations that back the invocation store.
package mysql
