// Package payment moves stablecoin or native funds on behalf of the agent.
//
// Service.Pay decides how an amount is split (referral, savings or direct),
// executes every leg on a Rail and returns a Receipt whose text carries one
// "tx_hash:" line per leg. Wallet.CheckBalance reads balances under a hard
// timeout and fails closed.
package payment
