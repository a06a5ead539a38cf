// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"fmt"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"

	"github.com/luxfi/fhesession/crypto/fhe"
)

// InputBuilder accumulates typed plaintext values for one contract/user
// pair and encrypts them as a single batch. Adds are chainable; the first
// validation failure makes the builder sticky-failed: later adds become
// no-ops and Encrypt returns the recorded error. A rejected add never
// touches the accumulator.
type InputBuilder struct {
	input    fhe.EncryptedInput
	contract common.Address
	user     common.Address
	count    int
	err      error
}

// HexCiphertexts is a CiphertextBundle rendered as lowercase 0x-prefixed
// hex, two digits per byte, leading zero bytes preserved. Downstream
// contract call encoders require this exact textual form.
type HexCiphertexts struct {
	Handles    []string
	InputProof string
}

// NewInputBuilder opens a new accumulator on the engine, scoped to the
// given contract/user pair.
func NewInputBuilder(engine fhe.Engine, contract, user common.Address) (*InputBuilder, error) {
	input, err := engine.CreateEncryptedInput(contract, user)
	if err != nil {
		return nil, newError(CodeEncryption, "failed to open encrypted input", err)
	}
	return &InputBuilder{
		input:    input,
		contract: contract,
		user:     user,
	}, nil
}

// AddBool appends an encrypted boolean.
func (b *InputBuilder) AddBool(v bool) *InputBuilder {
	if b.err != nil {
		return b
	}
	if err := b.input.AddBool(v); err != nil {
		b.err = newError(CodeEncryption, "engine rejected boolean input", err)
		return b
	}
	b.count++
	return b
}

// AddUint8 appends an unsigned 8-bit integer. Values outside [0, 255] are
// rejected with a validation error, never clamped.
func (b *InputBuilder) AddUint8(v uint64) *InputBuilder {
	return b.addUint(8, uint256.NewInt(v))
}

// AddUint16 appends an unsigned 16-bit integer.
func (b *InputBuilder) AddUint16(v uint64) *InputBuilder {
	return b.addUint(16, uint256.NewInt(v))
}

// AddUint32 appends an unsigned 32-bit integer.
func (b *InputBuilder) AddUint32(v uint64) *InputBuilder {
	return b.addUint(32, uint256.NewInt(v))
}

// AddUint64 appends an unsigned 64-bit integer.
func (b *InputBuilder) AddUint64(v uint64) *InputBuilder {
	return b.addUint(64, uint256.NewInt(v))
}

// AddUint128 appends an unsigned 128-bit integer.
func (b *InputBuilder) AddUint128(v *uint256.Int) *InputBuilder {
	return b.addUint(128, v)
}

// AddUint256 appends an unsigned 256-bit integer.
func (b *InputBuilder) AddUint256(v *uint256.Int) *InputBuilder {
	return b.addUint(256, v)
}

// AddAddress appends a 20-byte EVM address given in hex form.
func (b *InputBuilder) AddAddress(addr string) *InputBuilder {
	if b.err != nil {
		return b
	}
	if !common.IsHexAddress(addr) {
		b.err = newError(CodeValidation, fmt.Sprintf("%q is not a valid address", addr), ErrInvalidAddress)
		return b
	}
	if err := b.input.AddAddress(common.HexToAddress(addr)); err != nil {
		b.err = newError(CodeEncryption, "engine rejected address input", err)
		return b
	}
	b.count++
	return b
}

// AddMultiple applies a caller-supplied sequence of adds in one chained
// call. It is sugar, not concurrency: fn runs synchronously on b.
func (b *InputBuilder) AddMultiple(fn func(*InputBuilder)) *InputBuilder {
	if b.err != nil {
		return b
	}
	fn(b)
	return b
}

// Len returns the number of values accepted so far.
func (b *InputBuilder) Len() int {
	return b.count
}

// Err returns the first recorded validation or engine error, if any.
func (b *InputBuilder) Err() error {
	return b.err
}

// Encrypt invokes the engine once over the whole accumulated batch. The
// returned handles are positional, aligned with the order values were
// added. Calling Encrypt again simply re-invokes the engine over the same
// accumulated state; the engine is the source of truth for reuse.
func (b *InputBuilder) Encrypt(ctx context.Context) (*fhe.CiphertextBundle, error) {
	if b.err != nil {
		return nil, b.err
	}
	bundle, err := b.input.Encrypt(ctx)
	if err != nil {
		return nil, newError(CodeEncryption, "engine rejected encrypted input batch", err)
	}
	return bundle, nil
}

// EncryptToHex is Encrypt with every handle and the proof rendered as
// lowercase 0x-prefixed hex strings.
func (b *InputBuilder) EncryptToHex(ctx context.Context) (*HexCiphertexts, error) {
	bundle, err := b.Encrypt(ctx)
	if err != nil {
		return nil, err
	}
	out := &HexCiphertexts{
		Handles:    make([]string, len(bundle.Handles)),
		InputProof: hexutil.Encode(bundle.InputProof),
	}
	for i, handle := range bundle.Handles {
		out.Handles[i] = hexutil.Encode(handle)
	}
	return out, nil
}

func (b *InputBuilder) addUint(bits uint, v *uint256.Int) *InputBuilder {
	if b.err != nil {
		return b
	}
	if v == nil {
		b.err = newError(CodeValidation, fmt.Sprintf("nil value for uint%d", bits), ErrValueOutOfRange)
		return b
	}
	if bits < 256 && uint(v.BitLen()) > bits {
		b.err = newError(
			CodeValidation,
			fmt.Sprintf("value %s does not fit uint%d", v.Dec(), bits),
			ErrValueOutOfRange,
		)
		return b
	}
	if err := b.input.AddUint(bits, v); err != nil {
		b.err = newError(CodeEncryption, fmt.Sprintf("engine rejected uint%d input", bits), err)
		return b
	}
	b.count++
	return b
}
