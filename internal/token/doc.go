// Package token implements the typed read and write paths against an
// ERC-20-like contract: balance lookups via eth_call and signed mint
// submissions via eth_sendRawTransaction.
//
// Both clients validate every precondition before touching the network and
// never retry. Submission failures are classified so a caller can tell a clean
// rejection from an outcome that is unknown.
package token
