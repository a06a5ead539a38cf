// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/crypto"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/fhesession/crypto/fhe"
)

// DefaultDurationDays is the validity window granted to new authorizations.
const DefaultDurationDays uint64 = 10

const authKeyPrefix = "fhesession:auth:"

// Authorization is a time-boxed, signed grant permitting decryption of
// ciphertexts for a given user and contract set. It is persisted in the
// pluggable storage backend under a key derived from the user address, the
// sorted contract set, and the public key it is bound to.
type Authorization struct {
	PublicKey         hexutil.Bytes    `json:"publicKey"`
	PrivateKey        hexutil.Bytes    `json:"privateKey"`
	Signature         hexutil.Bytes    `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      uint64           `json:"durationDays"`
}

// ExpiresAt returns the instant the authorization stops being valid.
func (a *Authorization) ExpiresAt() time.Time {
	return time.Unix(a.StartTimestamp, 0).Add(time.Duration(a.DurationDays) * 24 * time.Hour)
}

// ValidAt reports whether the authorization is valid at t. There is no
// grace period: one tick past expiry is invalid.
func (a *Authorization) ValidAt(t time.Time) bool {
	return t.Before(a.ExpiresAt())
}

// IsValid reports whether the authorization is valid now.
func (a *Authorization) IsValid() bool {
	return a.ValidAt(time.Now())
}

// MarshalAuthorization serializes an authorization for storage.
func MarshalAuthorization(a *Authorization) (string, error) {
	b, err := json.Marshal(a)
	if err != nil {
		return "", fmt.Errorf("failed to marshal authorization: %w", err)
	}
	return string(b), nil
}

// UnmarshalAuthorization parses a stored authorization.
func UnmarshalAuthorization(s string) (*Authorization, error) {
	a := &Authorization{}
	if err := json.Unmarshal([]byte(s), a); err != nil {
		return nil, fmt.Errorf("failed to unmarshal authorization: %w", err)
	}
	return a, nil
}

// AuthorizationCacheKey derives the storage key for an authorization. The
// contract set is deduplicated and byte-sorted first, so any permutation of
// the same set produces the same key.
func AuthorizationCacheKey(user common.Address, contracts []common.Address, publicKey []byte) string {
	sorted := sortedUniqueAddresses(contracts)
	buf := make([]byte, 0, common.AddressLength*(len(sorted)+1)+len(publicKey))
	buf = append(buf, user.Bytes()...)
	for _, addr := range sorted {
		buf = append(buf, addr.Bytes()...)
	}
	buf = append(buf, publicKey...)
	return authKeyPrefix + common.Bytes2Hex(crypto.Keccak256(buf))
}

// sortedUniqueAddresses deduplicates and byte-sorts a contract address set.
func sortedUniqueAddresses(addrs []common.Address) []common.Address {
	unique := set.Of(addrs...)
	sorted := unique.List()
	slices.SortFunc(sorted, func(a, b common.Address) int {
		return bytes.Compare(a[:], b[:])
	})
	return sorted
}

// loadOrSign returns a usable authorization for the contract set: a valid
// cached one when present, otherwise a freshly signed one persisted under
// the derived key. Storage read/write failures degrade to a signing prompt
// and a warning; they never block the decrypt path.
func loadOrSign(
	ctx context.Context,
	engine fhe.Engine,
	contracts []common.Address,
	signer Signer,
	storage Storage,
	keypair fhe.Keypair,
	durationDays uint64,
	logger log.Logger,
) (*Authorization, error) {
	user := signer.Address()
	key := AuthorizationCacheKey(user, contracts, keypair.PublicKey)

	raw, ok, err := storage.GetItem(key)
	if err != nil {
		logger.Warn("authorization cache lookup failed", log.Err(err))
	} else if ok {
		auth, err := UnmarshalAuthorization(raw)
		if err != nil {
			logger.Warn("dropping corrupt cached authorization", log.Err(err))
		} else if auth.IsValid() {
			return auth, nil
		}
	}

	sorted := sortedUniqueAddresses(contracts)
	start := time.Now().Unix()
	req := &AuthorizationRequest{
		PublicKey:         keypair.PublicKey,
		ContractAddresses: sorted,
		ContractsChainID:  engine.ChainID(),
		StartTimestamp:    start,
		DurationDays:      durationDays,
	}

	signature, err := signer.SignAuthorization(ctx, req)
	if err != nil {
		return nil, newError(CodeAuthorization, "failed to sign decryption authorization", err)
	}

	auth := &Authorization{
		PublicKey:         keypair.PublicKey,
		PrivateKey:        keypair.PrivateKey,
		Signature:         signature,
		ContractAddresses: sorted,
		UserAddress:       user,
		StartTimestamp:    start,
		DurationDays:      durationDays,
	}

	serialized, err := MarshalAuthorization(auth)
	if err != nil {
		return nil, newError(CodeAuthorization, "failed to serialize authorization", err)
	}
	if err := storage.SetItem(key, serialized); err != nil {
		// The signature is still usable for this call; only persistence
		// across calls is lost.
		logger.Warn("failed to persist authorization", log.Err(err))
	}

	return auth, nil
}
