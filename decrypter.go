// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/geth/common"
	"github.com/luxfi/log"
	"github.com/luxfi/math/set"

	"github.com/luxfi/fhesession/cache"
	"github.com/luxfi/fhesession/crypto/fhe"
)

const defaultPlaintextCacheSize = 1024

// DecrypterOptions tunes a Decrypter. The zero value is usable: in-memory
// storage, an engine-generated keypair, the default validity window, and a
// no-op logger.
type DecrypterOptions struct {
	// Storage persists authorizations across coordinator instances. The
	// backend may be shared; writes of the same key are idempotent.
	Storage Storage

	// Keypair, when set, is used for every authorization instead of an
	// engine-generated one.
	Keypair *fhe.Keypair

	// DurationDays overrides the validity window of new authorizations.
	DurationDays uint64

	// PlaintextCacheSize bounds the LRU of decrypted values.
	PlaintextCacheSize int

	Log log.Logger
}

// Decrypter recovers plaintext values behind on-chain ciphertext handles on
// behalf of an authenticated user. It owns its authorization cache handle
// exclusively; only the storage backend may be shared with other
// decrypters.
type Decrypter struct {
	engine       fhe.Engine
	signer       Signer
	storage      Storage
	durationDays uint64
	log          log.Logger

	mu      sync.Mutex
	keypair *fhe.Keypair

	// auths deduplicates concurrent signing per cache key and keeps
	// authorizations in memory until their own expiry.
	auths *cache.TTLCache[string, *Authorization]

	// plaintexts caches decrypted values. A handle always decrypts to the
	// same value, so entries never expire, only evict.
	plaintexts *cache.LRUCache[fhe.Handle, any]
}

// NewDecrypter creates a decryption coordinator bound to a live engine
// instance and a signing capability.
func NewDecrypter(engine fhe.Engine, signer Signer, opts DecrypterOptions) (*Decrypter, error) {
	storage := opts.Storage
	if storage == nil {
		storage = NewMemoryStorage()
	}
	durationDays := opts.DurationDays
	if durationDays == 0 {
		durationDays = DefaultDurationDays
	}
	cacheSize := opts.PlaintextCacheSize
	if cacheSize == 0 {
		cacheSize = defaultPlaintextCacheSize
	}
	logger := opts.Log
	if logger == nil {
		logger = log.NewNoOpLogger()
	}

	plaintexts, err := cache.NewLRUCache[fhe.Handle, any](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create plaintext cache: %w", err)
	}

	d := &Decrypter{
		engine:       engine,
		signer:       signer,
		storage:      storage,
		durationDays: durationDays,
		log:          logger,
		auths: cache.NewTTLCache[string, *Authorization](func(a *Authorization) time.Time {
			return a.ExpiresAt()
		}),
		plaintexts: plaintexts,
	}
	if opts.Keypair != nil {
		kp := *opts.Keypair
		d.keypair = &kp
	}
	return d, nil
}

// Decrypt recovers the plaintext behind a single handle. A handle mapped to
// a zero value (false, 0) succeeds; a handle absent from the engine's
// result map fails with a MISSING_RESULT error.
func (d *Decrypter) Decrypt(ctx context.Context, request fhe.DecryptionRequest) (any, error) {
	results, err := d.DecryptMany(ctx, []fhe.DecryptionRequest{request})
	if err != nil {
		return nil, err
	}
	value, ok := results[request.Handle]
	if !ok {
		return nil, newError(
			CodeMissingResult,
			fmt.Sprintf("no decryption result for handle %s", request.Handle),
			ErrMissingResult,
		)
	}
	return value, nil
}

// DecryptMany decrypts a batch of handles in one engine call and returns a
// map keyed by handle. An empty request list resolves to an empty map
// without touching the signer or the engine. Handles already present in the
// plaintext cache are served from it; if everything is cached, no
// authorization is requested at all.
func (d *Decrypter) DecryptMany(ctx context.Context, requests []fhe.DecryptionRequest) (map[fhe.Handle]any, error) {
	results := make(map[fhe.Handle]any, len(requests))
	if len(requests) == 0 {
		return results, nil
	}

	var missing []fhe.DecryptionRequest
	queued := set.Of[fhe.Handle]()
	for _, req := range requests {
		if _, ok := results[req.Handle]; ok {
			continue
		}
		if value, ok := d.plaintexts.Get(req.Handle); ok {
			results[req.Handle] = value
			continue
		}
		if queued.Contains(req.Handle) {
			continue
		}
		queued.Add(req.Handle)
		missing = append(missing, req)
	}
	if len(missing) == 0 {
		return results, nil
	}

	auth, err := d.authorize(ctx, contractSet(requests))
	if err != nil {
		return nil, err
	}

	decrypted, err := d.engine.UserDecrypt(
		ctx,
		missing,
		auth.PrivateKey,
		auth.PublicKey,
		auth.Signature,
		auth.ContractAddresses,
		auth.UserAddress,
		auth.StartTimestamp,
		auth.DurationDays,
	)
	if err != nil {
		return nil, newError(CodeDecryption, "engine failed to decrypt batch", err)
	}

	for handle, value := range decrypted {
		d.plaintexts.Add(handle, value)
	}
	for _, req := range missing {
		if value, ok := decrypted[req.Handle]; ok {
			results[req.Handle] = value
		}
	}
	return results, nil
}

// DecryptManyOrdered decrypts a batch and re-projects the results into the
// caller's request order. Any requested handle absent from the result map
// fails the whole call with a MISSING_RESULT error.
func (d *Decrypter) DecryptManyOrdered(ctx context.Context, requests []fhe.DecryptionRequest) ([]any, error) {
	results, err := d.DecryptMany(ctx, requests)
	if err != nil {
		return nil, err
	}
	ordered := make([]any, len(requests))
	for i, req := range requests {
		value, ok := results[req.Handle]
		if !ok {
			return nil, newError(
				CodeMissingResult,
				fmt.Sprintf("no decryption result for handle %s", req.Handle),
				ErrMissingResult,
			)
		}
		ordered[i] = value
	}
	return ordered, nil
}

// PreloadSignature forces creation and caching of an authorization for the
// contract set without decrypting anything, so a later time-sensitive
// operation does not stop for a wallet prompt.
func (d *Decrypter) PreloadSignature(ctx context.Context, contracts []common.Address) error {
	_, err := d.authorize(ctx, contracts)
	return err
}

// HasValidSignature reports whether a usable authorization for the contract
// set is already cached. The probe is advisory: any lookup failure degrades
// to false rather than propagating.
func (d *Decrypter) HasValidSignature(contracts []common.Address) bool {
	keypair, ok := d.currentKeypair()
	if !ok {
		return false
	}
	key := AuthorizationCacheKey(d.signer.Address(), contracts, keypair.PublicKey)
	raw, ok, err := d.storage.GetItem(key)
	if err != nil {
		d.log.Debug("signature probe failed", log.Err(err))
		return false
	}
	if !ok {
		return false
	}
	auth, err := UnmarshalAuthorization(raw)
	if err != nil {
		d.log.Debug("signature probe found corrupt entry", log.Err(err))
		return false
	}
	return auth.IsValid()
}

// ClearSignatureCache removes the cached authorization for exactly this
// contract set and key pair. Storage failures are logged, not propagated.
func (d *Decrypter) ClearSignatureCache(contracts []common.Address) {
	keypair, ok := d.currentKeypair()
	if !ok {
		return
	}
	key := AuthorizationCacheKey(d.signer.Address(), contracts, keypair.PublicKey)
	d.auths.Remove(key)
	if err := d.storage.RemoveItem(key); err != nil {
		d.log.Warn("failed to clear cached authorization", log.Err(err))
	}
}

// ClearAllSignatures clears the whole backing store when the backend
// supports bulk clearing; otherwise it only drops the in-memory layer.
func (d *Decrypter) ClearAllSignatures() {
	d.auths.Purge()
	clearer, ok := d.storage.(Clearer)
	if !ok {
		d.log.Debug("storage backend does not support bulk clear")
		return
	}
	if err := clearer.Clear(); err != nil {
		d.log.Warn("failed to clear authorization storage", log.Err(err))
	}
}

// authorize obtains a valid authorization for the contract set, signing a
// new one when the cache misses or the cached one has expired. Concurrent
// calls for the same cache key share a single signing prompt.
func (d *Decrypter) authorize(ctx context.Context, contracts []common.Address) (*Authorization, error) {
	keypair, err := d.ensureKeypair()
	if err != nil {
		return nil, err
	}
	key := AuthorizationCacheKey(d.signer.Address(), contracts, keypair.PublicKey)
	fetch := func(string) (*Authorization, error) {
		return loadOrSign(ctx, d.engine, contracts, d.signer, d.storage, keypair, d.durationDays, d.log)
	}

	auth, err := d.auths.Get(key, fetch, false)
	if err != nil {
		return nil, err
	}
	if auth.IsValid() {
		return auth, nil
	}

	// Expired: evict both layers and sign a fresh one.
	if err := d.storage.RemoveItem(key); err != nil {
		d.log.Warn("failed to evict expired authorization", log.Err(err))
	}
	auth, err = d.auths.Get(key, fetch, true)
	if err != nil {
		return nil, err
	}
	if !auth.IsValid() {
		return nil, newError(
			CodeExpired,
			"freshly signed authorization is already expired",
			ErrAuthorizationExpired,
		)
	}
	return auth, nil
}

func (d *Decrypter) ensureKeypair() (fhe.Keypair, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keypair != nil {
		return *d.keypair, nil
	}
	keypair, err := d.engine.GenerateKeypair()
	if err != nil {
		return fhe.Keypair{}, newError(CodeAuthorization, "failed to generate decryption keypair", err)
	}
	d.keypair = &keypair
	return keypair, nil
}

func (d *Decrypter) currentKeypair() (fhe.Keypair, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.keypair == nil {
		return fhe.Keypair{}, false
	}
	return *d.keypair, true
}

func contractSet(requests []fhe.DecryptionRequest) []common.Address {
	addrs := make([]common.Address, len(requests))
	for i, req := range requests {
		addrs[i] = req.ContractAddress
	}
	return sortedUniqueAddresses(addrs)
}
