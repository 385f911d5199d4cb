// Package config loads the TokenAction runtime configuration from a JSON file,
// with secrets indirected through environment variables and an optional .env
// file.
package config
