// Package web3 houses the chain-facing vocabulary shared by the token action
// core: account addresses, chain configuration, contract call descriptors,
// typed call results and the narrow backend interfaces that the go-ethereum
// client (see package ethereum) and test doubles implement.
package web3
