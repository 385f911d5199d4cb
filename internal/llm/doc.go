// Package llm defines the text-extraction capability used to pull a wallet
// address out of free-form chat input. Provider adapters live in the
// openai and pythonbridge subpackages.
package llm
