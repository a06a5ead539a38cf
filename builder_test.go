// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/stretchr/testify/require"
)

var (
	testContract = common.HexToAddress("0x00000000000000000000000000000000000000c1")
	testUser     = common.HexToAddress("0x00000000000000000000000000000000000000a1")
)

func newTestBuilder(t *testing.T) (*FakeEngine, *InputBuilder) {
	t.Helper()
	engine := NewFakeEngine(1)
	builder, err := NewInputBuilder(engine, testContract, testUser)
	require.NoError(t, err)
	return engine, builder
}

func TestBuilderOrdering(t *testing.T) {
	_, builder := newTestBuilder(t)

	bundle, err := builder.
		AddBool(true).
		AddUint8(42).
		AddAddress(testUser.Hex()).
		Encrypt(context.Background())
	require.NoError(t, err)
	require.NoError(t, builder.Err())
	require.Equal(t, 3, builder.Len())
	require.Len(t, bundle.Handles, 3)
	require.NotEmpty(t, bundle.InputProof)

	// Handles are positional and distinct.
	seen := make(map[string]struct{})
	for _, handle := range bundle.Handles {
		require.Len(t, handle, 32)
		seen[string(handle)] = struct{}{}
	}
	require.Len(t, seen, 3)
}

func TestBuilderUintValidation(t *testing.T) {
	overflow128 := new(uint256.Int).Lsh(uint256.NewInt(1), 128)

	tests := []struct {
		name    string
		add     func(*InputBuilder) *InputBuilder
		wantErr bool
	}{
		{
			name: "uint8 max",
			add:  func(b *InputBuilder) *InputBuilder { return b.AddUint8(255) },
		},
		{
			name:    "uint8 overflow",
			add:     func(b *InputBuilder) *InputBuilder { return b.AddUint8(256) },
			wantErr: true,
		},
		{
			name:    "uint16 overflow",
			add:     func(b *InputBuilder) *InputBuilder { return b.AddUint16(1 << 16) },
			wantErr: true,
		},
		{
			name:    "uint32 overflow",
			add:     func(b *InputBuilder) *InputBuilder { return b.AddUint32(1 << 32) },
			wantErr: true,
		},
		{
			name: "uint64 max",
			add:  func(b *InputBuilder) *InputBuilder { return b.AddUint64(^uint64(0)) },
		},
		{
			name:    "uint128 overflow",
			add:     func(b *InputBuilder) *InputBuilder { return b.AddUint128(overflow128) },
			wantErr: true,
		},
		{
			name: "uint256 max",
			add: func(b *InputBuilder) *InputBuilder {
				max := new(uint256.Int).SubUint64(new(uint256.Int), 1)
				return b.AddUint256(max)
			},
		},
		{
			name:    "nil value",
			add:     func(b *InputBuilder) *InputBuilder { return b.AddUint256(nil) },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, builder := newTestBuilder(t)
			tt.add(builder)
			if tt.wantErr {
				require.ErrorIs(t, builder.Err(), ErrValueOutOfRange)
				require.Equal(t, CodeValidation, ErrorCode(builder.Err()))
				// A rejected value never touches the accumulator.
				require.Zero(t, builder.Len())
			} else {
				require.NoError(t, builder.Err())
				require.Equal(t, 1, builder.Len())
			}
		})
	}
}

func TestBuilderAddressValidation(t *testing.T) {
	_, builder := newTestBuilder(t)

	builder.AddAddress("not-an-address")
	require.ErrorIs(t, builder.Err(), ErrInvalidAddress)
	require.Equal(t, CodeValidation, ErrorCode(builder.Err()))
	require.Zero(t, builder.Len())
}

func TestBuilderStickyError(t *testing.T) {
	_, builder := newTestBuilder(t)

	builder.
		AddUint8(7).
		AddUint8(999).
		AddBool(true).
		AddUint64(1)

	firstErr := builder.Err()
	require.ErrorIs(t, firstErr, ErrValueOutOfRange)
	// Adds after the failure are no-ops.
	require.Equal(t, 1, builder.Len())

	_, err := builder.Encrypt(context.Background())
	require.Same(t, firstErr, err)
}

func TestBuilderAddMultiple(t *testing.T) {
	_, builder := newTestBuilder(t)

	builder.AddMultiple(func(b *InputBuilder) {
		b.AddUint32(1).AddUint32(2).AddUint32(3)
	})
	require.NoError(t, builder.Err())
	require.Equal(t, 3, builder.Len())
}

func TestBuilderEncryptToHex(t *testing.T) {
	_, builder := newTestBuilder(t)

	hexed, err := builder.AddUint8(200).AddBool(false).EncryptToHex(context.Background())
	require.NoError(t, err)
	require.Len(t, hexed.Handles, 2)

	for _, handle := range hexed.Handles {
		require.True(t, strings.HasPrefix(handle, "0x"))
		require.Equal(t, strings.ToLower(handle), handle)
		// 32 handle bytes render to exactly 64 hex digits.
		require.Len(t, handle, 2+64)

		decoded, err := hexutil.Decode(handle)
		require.NoError(t, err)
		require.Equal(t, handle, hexutil.Encode(decoded))
	}
	require.True(t, strings.HasPrefix(hexed.InputProof, "0x"))
}

func TestBuilderEncryptDeterministic(t *testing.T) {
	_, builder := newTestBuilder(t)
	builder.AddUint64(1234)

	first, err := builder.Encrypt(context.Background())
	require.NoError(t, err)
	second, err := builder.Encrypt(context.Background())
	require.NoError(t, err)
	require.Equal(t, first.Handles, second.Handles)
}

func TestBuilderEncryptWrapsEngineError(t *testing.T) {
	engine, builder := newTestBuilder(t)
	boom := errors.New("proving key unavailable")
	engine.EncryptErr = boom

	_, err := builder.AddBool(true).Encrypt(context.Background())
	require.ErrorIs(t, err, boom)
	require.Equal(t, CodeEncryption, ErrorCode(err))
}
