// Package web3 houses EVM connectivity used by the payment rail: chain
// definitions loaded from YAML, a client interface covering balances and
// transfers of native coins and ERC-20 tokens, and decimal/base-unit
// conversion helpers.
package web3
