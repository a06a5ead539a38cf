// Copyright (C) 2019-2025, Lux Partners Limited. All rights reserved.
// See the file LICENSE for licensing terms.

package fhesession

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/holiman/uint256"
	"github.com/luxfi/geth/common"
	"github.com/luxfi/geth/common/hexutil"
	"github.com/luxfi/crypto"
	"github.com/luxfi/ids"

	"github.com/luxfi/fhesession/crypto/fhe"
)

// FakeEngine is a test implementation of fhe.Engine. Encrypting an input
// registers its plaintexts under the produced handles, so a later
// UserDecrypt over those handles recovers them: the loop is closed without
// any real cryptography. Handles are deterministic keccak digests of the
// accumulated entries.
type FakeEngine struct {
	chainID uint64

	mu           sync.Mutex
	plaintexts   map[fhe.Handle]any
	decryptCalls int

	// DecryptErr, EncryptErr, and KeypairErr inject failures.
	DecryptErr error
	EncryptErr error
	KeypairErr error
}

var _ fhe.Engine = (*FakeEngine)(nil)

// NewFakeEngine creates a fake engine bound to the given chain id.
func NewFakeEngine(chainID uint64) *FakeEngine {
	return &FakeEngine{
		chainID:    chainID,
		plaintexts: make(map[fhe.Handle]any),
	}
}

func (e *FakeEngine) ChainID() uint64 {
	return e.chainID
}

func (e *FakeEngine) CreateEncryptedInput(contract, user common.Address) (fhe.EncryptedInput, error) {
	return &fakeInput{
		engine:   e,
		contract: contract,
		user:     user,
	}, nil
}

func (e *FakeEngine) GenerateKeypair() (fhe.Keypair, error) {
	if e.KeypairErr != nil {
		return fhe.Keypair{}, e.KeypairErr
	}
	return fhe.GenerateBoxKeypair()
}

func (e *FakeEngine) UserDecrypt(
	ctx context.Context,
	requests []fhe.DecryptionRequest,
	privateKey []byte,
	publicKey []byte,
	signature []byte,
	contracts []common.Address,
	user common.Address,
	startTimestamp int64,
	durationDays uint64,
) (map[fhe.Handle]any, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.decryptCalls++
	if e.DecryptErr != nil {
		return nil, e.DecryptErr
	}

	results := make(map[fhe.Handle]any, len(requests))
	for _, req := range requests {
		if value, ok := e.plaintexts[req.Handle]; ok {
			results[req.Handle] = value
		}
	}
	return results, nil
}

// SetPlaintext registers the value UserDecrypt returns for handle.
func (e *FakeEngine) SetPlaintext(handle fhe.Handle, value any) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.plaintexts[handle] = value
}

// DecryptCalls returns how many times UserDecrypt was invoked.
func (e *FakeEngine) DecryptCalls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.decryptCalls
}

type fakeInput struct {
	engine   *FakeEngine
	contract common.Address
	user     common.Address
	entries  [][]byte
	values   []any
}

func (in *fakeInput) AddBool(v bool) error {
	entry := []byte{0x00, 0x00}
	if v {
		entry[1] = 0x01
	}
	in.entries = append(in.entries, entry)
	in.values = append(in.values, v)
	return nil
}

func (in *fakeInput) AddUint(bits uint, v *uint256.Int) error {
	switch bits {
	case 8, 16, 32, 64, 128, 256:
	default:
		return fmt.Errorf("%w: uint%d", fhe.ErrUnsupportedWidth, bits)
	}
	b32 := v.Bytes32()
	entry := append([]byte{byte(bits / 8)}, b32[:]...)
	in.entries = append(in.entries, entry)
	if bits <= 64 {
		in.values = append(in.values, v.Uint64())
	} else {
		in.values = append(in.values, v.Clone())
	}
	return nil
}

func (in *fakeInput) AddAddress(addr common.Address) error {
	entry := append([]byte{0xaa}, addr.Bytes()...)
	in.entries = append(in.entries, entry)
	in.values = append(in.values, addr)
	return nil
}

func (in *fakeInput) Encrypt(_ context.Context) (*fhe.CiphertextBundle, error) {
	if in.engine.EncryptErr != nil {
		return nil, in.engine.EncryptErr
	}

	handles := make([][]byte, len(in.entries))
	proofMaterial := make([]byte, 0, 32*len(in.entries))
	for i, entry := range in.entries {
		digest := crypto.Keccak256(
			in.contract.Bytes(),
			in.user.Bytes(),
			[]byte{byte(i)},
			entry,
		)
		id, err := ids.ToID(digest)
		if err != nil {
			return nil, err
		}
		handles[i] = id[:]
		proofMaterial = append(proofMaterial, id[:]...)
		in.engine.SetPlaintext(hexutil.Encode(id[:]), in.values[i])
	}

	return &fhe.CiphertextBundle{
		Handles:    handles,
		InputProof: crypto.Keccak256(proofMaterial),
	}, nil
}

// FakeSigner is a test implementation of Signer producing deterministic
// pseudo signatures and counting prompts.
type FakeSigner struct {
	Addr common.Address

	mu        sync.Mutex
	signCalls int

	// SignErr injects a signing failure.
	SignErr error

	// SignDelay simulates the wallet prompt round-trip.
	SignDelay time.Duration
}

var _ Signer = (*FakeSigner)(nil)

func (s *FakeSigner) Address() common.Address {
	return s.Addr
}

func (s *FakeSigner) SignAuthorization(_ context.Context, req *AuthorizationRequest) ([]byte, error) {
	s.mu.Lock()
	s.signCalls++
	err := s.SignErr
	delay := s.SignDelay
	s.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	payload, merr := json.Marshal(req)
	if merr != nil {
		return nil, merr
	}
	digest := crypto.Keccak256(s.Addr.Bytes(), payload)
	sig := make([]byte, 0, 65)
	sig = append(sig, digest...)
	sig = append(sig, crypto.Keccak256(digest)...)
	return append(sig, 0x1b), nil
}

// SignCalls returns how many times the signer was prompted.
func (s *FakeSigner) SignCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signCalls
}

// FakeResolver is a test implementation of Resolver. Resolution can be
// delayed, gated per chain id for deterministic ordering in concurrency
// tests, or failed outright.
type FakeResolver struct {
	// Steps are emitted through onStatus before resolution completes.
	Steps []string

	// Delay postpones completion; cancellation is honored while waiting.
	Delay time.Duration

	// Err makes resolution fail after Steps and any Delay or gate.
	Err error

	mu           sync.Mutex
	gates        map[uint64]chan struct{}
	resolveCalls int
}

var _ Resolver = (*FakeResolver)(nil)

// Gate installs a release gate for chainID: Resolve blocks until the
// returned channel is closed (or the attempt is cancelled).
func (r *FakeResolver) Gate(chainID uint64) chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.gates == nil {
		r.gates = make(map[uint64]chan struct{})
	}
	gate := make(chan struct{})
	r.gates[chainID] = gate
	return gate
}

func (r *FakeResolver) Resolve(ctx context.Context, cfg Config, onStatus func(string)) (fhe.Engine, error) {
	r.mu.Lock()
	r.resolveCalls++
	gate := r.gates[cfg.ChainID]
	r.mu.Unlock()

	for _, step := range r.Steps {
		onStatus(step)
	}

	if gate != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-gate:
		}
	} else if r.Delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.Delay):
		}
	}

	if r.Err != nil {
		return nil, r.Err
	}
	return NewFakeEngine(cfg.ChainID), nil
}

// ResolveCalls returns how many resolution attempts were started.
func (r *FakeResolver) ResolveCalls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.resolveCalls
}
