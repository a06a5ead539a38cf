// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

// Package fhe defines the boundary to the external homomorphic encryption
// engine. The engine is opaque to the session layer: it is obtained from a
// provider/chain resolver, accumulates typed plaintexts into encrypted
// inputs, and decrypts ciphertext handles on behalf of an authorized user.
package fhe

import (
	"context"
	"errors"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
)

// Handle is an opaque reference to an on-chain ciphertext value, rendered
// as a lowercase 0x-prefixed hex string.
type Handle = string

// Engine is an opaque handle to the cryptographic engine, scoped to a
// chain/provider pair. All calls that may hit the network take a context.
type Engine interface {
	// ChainID returns the EVM chain id the engine instance is bound to.
	ChainID() uint64

	// CreateEncryptedInput opens a new input accumulator scoped to the
	// given contract/user pair.
	CreateEncryptedInput(contract, user common.Address) (EncryptedInput, error)

	// GenerateKeypair produces a fresh keypair for user decryption.
	GenerateKeypair() (Keypair, error)

	// UserDecrypt recovers the plaintexts behind the requested handles.
	// The result map is keyed by handle; a handle absent from the map is
	// distinct from a handle mapped to a zero value.
	UserDecrypt(
		ctx context.Context,
		requests []DecryptionRequest,
		privateKey []byte,
		publicKey []byte,
		signature []byte,
		contracts []common.Address,
		user common.Address,
		startTimestamp int64,
		durationDays uint64,
	) (map[Handle]any, error)
}

// EncryptedInput accumulates typed plaintext values in order. The order of
// adds is semantically significant: the handles returned by Encrypt are
// positional.
type EncryptedInput interface {
	// AddBool appends an encrypted boolean.
	AddBool(v bool) error

	// AddUint appends an unsigned integer of the given bit width
	// (8, 16, 32, 64, 128 or 256). The value must fit the width.
	AddUint(bits uint, v *uint256.Int) error

	// AddAddress appends a 20-byte EVM address.
	AddAddress(addr common.Address) error

	// Encrypt produces the batch ciphertext and its zero-knowledge input
	// proof in a single engine call.
	Encrypt(ctx context.Context) (*CiphertextBundle, error)
}

// CiphertextBundle is the result of encrypting an accumulated input batch.
// Handles are positional: Handles[i] refers to the i-th added value.
type CiphertextBundle struct {
	Handles    [][]byte
	InputProof []byte
}

// Keypair is the key material a decryption authorization is bound to.
type Keypair struct {
	PublicKey  hexutil.Bytes `json:"publicKey"`
	PrivateKey hexutil.Bytes `json:"privateKey"`
}

// DecryptionRequest names one ciphertext handle and the contract that owns it.
type DecryptionRequest struct {
	Handle          Handle
	ContractAddress common.Address
}

// ErrUnsupportedWidth is returned when an accumulator is asked for a bit
// width the engine does not support.
var ErrUnsupportedWidth = errors.New("unsupported integer width")
