// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"maps"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/fhesession/crypto/fhe"
)

// Config names the chain/provider pair an engine instance is bound to.
// Provider is opaque to this package and is only forwarded to the resolver.
type Config struct {
	// Provider is the RPC endpoint or client used to reach the chain.
	Provider any

	// ChainID is the EVM chain id to bind the engine to.
	ChainID uint64

	// MockChains optionally maps chain ids to mock gateway addresses for
	// local development networks.
	MockChains map[uint64]string
}

// Equal reports whether two configs would produce an equivalent engine.
// Only the primitive fields that affect resolution are compared; the opaque
// provider is deliberately excluded because its identity may change without
// its meaning changing.
func (c Config) Equal(other Config) bool {
	return c.ChainID == other.ChainID && maps.Equal(c.MockChains, other.MockChains)
}

// Resolver constructs an engine instance from a configuration. Resolution
// may take multiple network round-trips; the context is the cancellation
// token and onStatus receives human readable progress strings as resolution
// advances.
type Resolver interface {
	Resolve(ctx context.Context, cfg Config, onStatus func(string)) (fhe.Engine, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, cfg Config, onStatus func(string)) (fhe.Engine, error)

func (f ResolverFunc) Resolve(ctx context.Context, cfg Config, onStatus func(string)) (fhe.Engine, error) {
	return f(ctx, cfg, onStatus)
}

// AuthorizationRequest is the typed-data payload a wallet signs to grant
// time-boxed decryption rights over a contract set. Field layout follows the
// EIP-712 message the decryption service verifies.
type AuthorizationRequest struct {
	PublicKey         hexutil.Bytes    `json:"publicKey"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	ContractsChainID  uint64           `json:"contractsChainId"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      uint64           `json:"durationDays"`
}

// Signer is the wallet-like signing capability. It is treated as a
// capability, not a concrete implementation: anything that can report its
// address and produce a typed-data signature over an authorization payload
// qualifies.
type Signer interface {
	// Address returns the user address the signer controls.
	Address() common.Address

	// SignAuthorization produces a typed-data signature over the payload.
	SignAuthorization(ctx context.Context, req *AuthorizationRequest) ([]byte, error)
}
