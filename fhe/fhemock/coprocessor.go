// Copyright 2026 Blink Labs Software
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package fhemock is an in-process stand-in for the homomorphic encryption
// network. Values are kept in the clear behind handles, an access list
// decides who may decrypt them, and decryption results are sealed to the
// requester's ephemeral key exactly as the real network does.
package fhemock

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/box"
)

// MaxDurationDays is the longest authorization window accepted
const MaxDurationDays = 365

// ErrInvalidProof is returned when an input proof does not verify
var ErrInvalidProof = errors.New("fhemock: invalid input proof")

type record struct {
	value    *big.Int
	contract common.Address
	allowed  map[common.Address]bool
}

// CoProcessor implements fhe.Backend in memory
type CoProcessor struct {
	mu                sync.Mutex
	publicKey         [32]byte
	privateKey        [32]byte
	signer            *ecdsa.PrivateKey
	chainID           *big.Int
	verifyingContract common.Address
	records           map[fhe.Handle]*record
	now               func() time.Time
	decryptDelay      time.Duration
	unavailable       atomic.Bool
	paramFetches      atomic.Int64
	decryptCalls      atomic.Int64
}

// Option configures a CoProcessor
type Option func(*CoProcessor)

// WithChainID sets the chain id reported to clients
func WithChainID(id int64) Option {
	return func(c *CoProcessor) {
		c.chainID = big.NewInt(id)
	}
}

// WithVerifyingContract sets the EIP-712 verifying contract
func WithVerifyingContract(addr common.Address) Option {
	return func(c *CoProcessor) {
		c.verifyingContract = addr
	}
}

// WithClock overrides the time source used for authorization windows
func WithClock(now func() time.Time) Option {
	return func(c *CoProcessor) {
		if now != nil {
			c.now = now
		}
	}
}

// New returns a co-processor with fresh network keys
func New(opts ...Option) (*CoProcessor, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate network key: %w", err)
	}
	signer, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate proof signer: %w", err)
	}
	c := &CoProcessor{
		publicKey:         *pub,
		privateKey:        *priv,
		signer:            signer,
		chainID:           big.NewInt(31337),
		verifyingContract: common.HexToAddress("0x00000000000000000000000000000000000d0c"),
		records:           make(map[fhe.Handle]*record),
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// SetUnavailable makes every call fail with fhe.ErrRelayerUnavailable
func (c *CoProcessor) SetUnavailable(v bool) {
	c.unavailable.Store(v)
}

// SetDecryptDelay delays user decryption answers by d
func (c *CoProcessor) SetDecryptDelay(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.decryptDelay = d
}

// ParamFetches returns how many times parameters were fetched
func (c *CoProcessor) ParamFetches() int64 {
	return c.paramFetches.Load()
}

// DecryptCalls returns how many user decryptions were requested
func (c *CoProcessor) DecryptCalls() int64 {
	return c.decryptCalls.Load()
}

// ProofSigner returns the address that signs input proofs
func (c *CoProcessor) ProofSigner() common.Address {
	return crypto.PubkeyToAddress(c.signer.PublicKey)
}

// FetchParams implements fhe.Backend
func (c *CoProcessor) FetchParams(ctx context.Context) (*fhe.NetworkParams, error) {
	if c.unavailable.Load() {
		return nil, fhe.ErrRelayerUnavailable
	}
	c.paramFetches.Add(1)
	return &fhe.NetworkParams{
		PublicKey:         c.publicKey,
		ChainID:           new(big.Int).Set(c.chainID),
		VerifyingContract: c.verifyingContract,
	}, nil
}

func deriveHandle(
	ct []byte,
	contract common.Address,
	user common.Address,
	index int,
	chainID *big.Int,
) fhe.Handle {
	var chain [32]byte
	chainID.FillBytes(chain[:])
	return fhe.Handle(crypto.Keccak256Hash(
		ct,
		contract.Bytes(),
		user.Bytes(),
		[]byte{byte(index)},
		chain[:],
	))
}

func proofDigest(
	handles []fhe.Handle,
	contract common.Address,
	user common.Address,
) []byte {
	buf := make([]byte, 0, 1+len(handles)*fhe.HandleSize+2*common.AddressLength)
	buf = append(buf, byte(len(handles)))
	for _, h := range handles {
		buf = append(buf, h[:]...)
	}
	buf = append(buf, contract.Bytes()...)
	buf = append(buf, user.Bytes()...)
	return crypto.Keccak256(buf)
}

// InputProof implements fhe.Backend. The proof is the handle count, the
// handles and a signature binding them to the contract and user.
func (c *CoProcessor) InputProof(
	ctx context.Context,
	req *fhe.InputProofRequest,
) (*fhe.EncryptedInput, error) {
	if c.unavailable.Load() {
		return nil, fhe.ErrRelayerUnavailable
	}
	if len(req.Ciphertexts) == 0 || len(req.Ciphertexts) > 255 {
		return nil, fmt.Errorf("%w: invalid ciphertext count", fhe.ErrEncryption)
	}
	if req.ChainID != nil && req.ChainID.Cmp(c.chainID) != 0 {
		return nil, fmt.Errorf("%w: wrong chain id", fhe.ErrEncryption)
	}
	handles := make([]fhe.Handle, 0, len(req.Ciphertexts))
	values := make([]*big.Int, 0, len(req.Ciphertexts))
	for i, ct := range req.Ciphertexts {
		plain, ok := box.OpenAnonymous(nil, ct, &c.publicKey, &c.privateKey)
		if !ok || len(plain) != fhe.ValueSize {
			return nil, fmt.Errorf("%w: ciphertext %d is malformed", fhe.ErrEncryption, i)
		}
		handles = append(handles, deriveHandle(ct, req.Contract, req.User, i, c.chainID))
		values = append(values, new(big.Int).SetBytes(plain))
	}
	sig, err := crypto.Sign(proofDigest(handles, req.Contract, req.User), c.signer)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", fhe.ErrEncryption, err)
	}
	c.mu.Lock()
	for i, h := range handles {
		if _, ok := c.records[h]; !ok {
			c.records[h] = &record{
				value:    values[i],
				contract: req.Contract,
				allowed:  make(map[common.Address]bool),
			}
		}
	}
	c.mu.Unlock()

	proof := make([]byte, 0, 1+len(handles)*fhe.HandleSize+len(sig))
	proof = append(proof, byte(len(handles)))
	for _, h := range handles {
		proof = append(proof, h[:]...)
	}
	proof = append(proof, sig...)
	return &fhe.EncryptedInput{Handles: handles, InputProof: proof}, nil
}

// VerifyInputProof checks a proof produced by InputProof for the given
// contract and user and returns the handles it covers.
func (c *CoProcessor) VerifyInputProof(
	proof []byte,
	contract common.Address,
	user common.Address,
) ([]fhe.Handle, error) {
	if len(proof) < 1 {
		return nil, ErrInvalidProof
	}
	count := int(proof[0])
	want := 1 + count*fhe.HandleSize + crypto.SignatureLength
	if count == 0 || len(proof) != want {
		return nil, ErrInvalidProof
	}
	handles := make([]fhe.Handle, count)
	for i := range handles {
		off := 1 + i*fhe.HandleSize
		handles[i] = fhe.Handle(proof[off : off+fhe.HandleSize])
	}
	sig := proof[1+count*fhe.HandleSize:]
	pub, err := crypto.SigToPub(proofDigest(handles, contract, user), sig)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidProof, err)
	}
	if crypto.PubkeyToAddress(*pub) != c.ProofSigner() {
		return nil, fmt.Errorf("%w: signed by unknown key", ErrInvalidProof)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, h := range handles {
		rec, ok := c.records[h]
		if !ok || rec.contract != contract {
			return nil, fmt.Errorf("%w: unknown handle %s", ErrInvalidProof, h)
		}
	}
	return handles, nil
}

// Allow grants addr permission to decrypt h
func (c *CoProcessor) Allow(h fhe.Handle, addr common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[h]
	if !ok {
		return fmt.Errorf("fhemock: unknown handle %s", h)
	}
	rec.allowed[addr] = true
	return nil
}

// Disallow revokes addr's permission to decrypt h
func (c *CoProcessor) Disallow(h fhe.Handle, addr common.Address) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rec, ok := c.records[h]; ok {
		delete(rec.allowed, addr)
	}
}

// IsAllowed reports whether addr may decrypt h
func (c *CoProcessor) IsAllowed(h fhe.Handle, addr common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[h]
	return ok && rec.allowed[addr]
}

// Plaintext returns the value behind h
func (c *CoProcessor) Plaintext(h fhe.Handle) (*big.Int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.records[h]
	if !ok {
		return nil, false
	}
	return new(big.Int).Set(rec.value), true
}

func (c *CoProcessor) params() fhe.NetworkParams {
	return fhe.NetworkParams{
		PublicKey:         c.publicKey,
		ChainID:           c.chainID,
		VerifyingContract: c.verifyingContract,
	}
}

func (c *CoProcessor) authorize(req *fhe.DecryptionRequest) error {
	typed := fhe.NewUserDecryptTypedData(
		c.params(),
		req.PublicKey,
		req.ContractAddresses,
		req.StartTimestamp,
		req.DurationDays,
	)
	digest, err := fhe.TypedDataHash(typed)
	if err != nil {
		return fmt.Errorf("%w: %w", fhe.ErrAuthorizationDenied, err)
	}
	if len(req.Signature) != crypto.SignatureLength {
		return fmt.Errorf("%w: malformed signature", fhe.ErrAuthorizationDenied)
	}
	sig := slices.Clone(req.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(digest, sig)
	if err != nil {
		return fmt.Errorf("%w: %w", fhe.ErrAuthorizationDenied, err)
	}
	if crypto.PubkeyToAddress(*pub) != req.User {
		return fmt.Errorf("%w: signature does not match user", fhe.ErrAuthorizationDenied)
	}
	if req.DurationDays <= 0 || req.DurationDays > MaxDurationDays {
		return fmt.Errorf("%w: invalid validity window", fhe.ErrAuthorizationDenied)
	}
	now := c.now().Unix()
	end := req.StartTimestamp + req.DurationDays*24*60*60
	if now < req.StartTimestamp || now >= end {
		return fmt.Errorf("%w: authorization outside validity window", fhe.ErrAuthorizationDenied)
	}
	if !slices.Contains(req.ContractAddresses, req.Contract) {
		return fmt.Errorf("%w: contract not authorized", fhe.ErrAuthorizationDenied)
	}
	return nil
}

// UserDecrypt implements fhe.Backend
func (c *CoProcessor) UserDecrypt(
	ctx context.Context,
	req *fhe.DecryptionRequest,
) (map[fhe.Handle][]byte, error) {
	if c.unavailable.Load() {
		return nil, fhe.ErrRelayerUnavailable
	}
	c.decryptCalls.Add(1)
	c.mu.Lock()
	delay := c.decryptDelay
	c.mu.Unlock()
	if delay > 0 {
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
	if err := c.authorize(req); err != nil {
		return nil, err
	}
	c.mu.Lock()
	values := make(map[fhe.Handle]*big.Int, len(req.Handles))
	for _, h := range req.Handles {
		rec, ok := c.records[h]
		if !ok || rec.contract != req.Contract {
			c.mu.Unlock()
			return nil, fmt.Errorf("%w: unknown handle %s", fhe.ErrAuthorizationDenied, h)
		}
		if !rec.allowed[req.User] || !rec.allowed[req.Contract] {
			c.mu.Unlock()
			return nil, fmt.Errorf(
				"%w: %s may not decrypt %s",
				fhe.ErrAuthorizationDenied,
				req.User.Hex(),
				h,
			)
		}
		values[h] = rec.value
	}
	c.mu.Unlock()

	ret := make(map[fhe.Handle][]byte, len(values))
	for h, v := range values {
		var buf [fhe.ValueSize]byte
		v.FillBytes(buf[:])
		sealed, err := box.SealAnonymous(nil, buf[:], &req.PublicKey, rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("seal result: %w", err)
		}
		ret[h] = sealed
	}
	return ret, nil
}
