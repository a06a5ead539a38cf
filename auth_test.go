// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"testing"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/fhesession/crypto/fhe"
)

func TestAuthorizationCacheKeyOrderIndependent(t *testing.T) {
	user := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	c1 := common.HexToAddress("0x00000000000000000000000000000000000000c1")
	c2 := common.HexToAddress("0x00000000000000000000000000000000000000c2")
	c3 := common.HexToAddress("0x00000000000000000000000000000000000000c3")
	publicKey := []byte{0x01, 0x02, 0x03}

	base := AuthorizationCacheKey(user, []common.Address{c1, c2, c3}, publicKey)
	require.Equal(t, base, AuthorizationCacheKey(user, []common.Address{c3, c1, c2}, publicKey))
	// Duplicates collapse into the same set.
	require.Equal(t, base, AuthorizationCacheKey(user, []common.Address{c2, c1, c3, c1, c2}, publicKey))

	require.NotEqual(t, base, AuthorizationCacheKey(user, []common.Address{c1, c2}, publicKey))
	require.NotEqual(t, base, AuthorizationCacheKey(user, []common.Address{c1, c2, c3}, []byte{0x04}))
	other := common.HexToAddress("0x00000000000000000000000000000000000000a2")
	require.NotEqual(t, base, AuthorizationCacheKey(other, []common.Address{c1, c2, c3}, publicKey))
}

func TestAuthorizationValidity(t *testing.T) {
	auth := &Authorization{
		StartTimestamp: time.Now().Unix(),
		DurationDays:   1,
	}
	require.True(t, auth.IsValid())

	expiry := auth.ExpiresAt()
	require.True(t, auth.ValidAt(expiry.Add(-time.Second)))
	// No grace period: the expiry instant itself is already invalid.
	require.False(t, auth.ValidAt(expiry))
	require.False(t, auth.ValidAt(expiry.Add(time.Second)))

	stale := &Authorization{
		StartTimestamp: time.Now().Add(-25 * time.Hour).Unix(),
		DurationDays:   1,
	}
	require.False(t, stale.IsValid())
}

func TestAuthorizationRoundTrip(t *testing.T) {
	auth := &Authorization{
		PublicKey:         []byte{0x01},
		PrivateKey:        []byte{0x02},
		Signature:         []byte{0x03, 0x04},
		ContractAddresses: []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000c1")},
		UserAddress:       common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		StartTimestamp:    1700000000,
		DurationDays:      7,
	}

	serialized, err := MarshalAuthorization(auth)
	require.NoError(t, err)
	parsed, err := UnmarshalAuthorization(serialized)
	require.NoError(t, err)
	require.Equal(t, auth, parsed)

	_, err = UnmarshalAuthorization("{not json")
	require.Error(t, err)
}

func TestLoadOrSignCachesSignature(t *testing.T) {
	engine := NewFakeEngine(1)
	signer := &FakeSigner{Addr: common.HexToAddress("0x00000000000000000000000000000000000000a1")}
	storage := NewMemoryStorage()
	keypair, err := fhe.GenerateBoxKeypair()
	require.NoError(t, err)
	contracts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000c1")}

	first, err := loadOrSign(context.Background(), engine, contracts, signer, storage, keypair, 10, log.NewNoOpLogger())
	require.NoError(t, err)
	require.Equal(t, 1, signer.SignCalls())
	require.True(t, first.IsValid())
	require.Equal(t, signer.Addr, first.UserAddress)

	second, err := loadOrSign(context.Background(), engine, contracts, signer, storage, keypair, 10, log.NewNoOpLogger())
	require.NoError(t, err)
	// The persisted authorization is reused verbatim.
	require.Equal(t, 1, signer.SignCalls())
	require.Equal(t, first, second)
}

func TestLoadOrSignReplacesExpired(t *testing.T) {
	engine := NewFakeEngine(1)
	signer := &FakeSigner{Addr: common.HexToAddress("0x00000000000000000000000000000000000000a1")}
	storage := NewMemoryStorage()
	keypair, err := fhe.GenerateBoxKeypair()
	require.NoError(t, err)
	contracts := []common.Address{common.HexToAddress("0x00000000000000000000000000000000000000c1")}

	expired := &Authorization{
		PublicKey:         keypair.PublicKey,
		PrivateKey:        keypair.PrivateKey,
		Signature:         []byte{0xff},
		ContractAddresses: contracts,
		UserAddress:       signer.Addr,
		StartTimestamp:    time.Now().Add(-48 * time.Hour).Unix(),
		DurationDays:      1,
	}
	serialized, err := MarshalAuthorization(expired)
	require.NoError(t, err)
	key := AuthorizationCacheKey(signer.Addr, contracts, keypair.PublicKey)
	require.NoError(t, storage.SetItem(key, serialized))

	fresh, err := loadOrSign(context.Background(), engine, contracts, signer, storage, keypair, 10, log.NewNoOpLogger())
	require.NoError(t, err)
	require.Equal(t, 1, signer.SignCalls())
	require.True(t, fresh.IsValid())
	require.NotEqual(t, expired.Signature, fresh.Signature)
}

func TestLoadOrSignSignerFailure(t *testing.T) {
	engine := NewFakeEngine(1)
	boom := context.DeadlineExceeded
	signer := &FakeSigner{
		Addr:    common.HexToAddress("0x00000000000000000000000000000000000000a1"),
		SignErr: boom,
	}
	keypair, err := fhe.GenerateBoxKeypair()
	require.NoError(t, err)

	_, err = loadOrSign(
		context.Background(),
		engine,
		[]common.Address{common.HexToAddress("0x00000000000000000000000000000000000000c1")},
		signer,
		NewMemoryStorage(),
		keypair,
		10,
		log.NewNoOpLogger(),
	)
	require.ErrorIs(t, err, boom)
	require.Equal(t, CodeAuthorization, ErrorCode(err))
}
