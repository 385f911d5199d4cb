// Package auth issues HS256 bearer tokens for configured accounts and guards
// the HTTP API. Minting requires the actions:mint permission; balance queries
// may be served anonymously.
package auth
