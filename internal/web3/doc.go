// Package web3 holds chain connectivity: YAML chain definitions keyed by
// chain selector name, the Client contract implemented by the EVM adapter in
// web3/ethereum, and the provider registry that routes calls by chain.
package web3
