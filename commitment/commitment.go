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

// Package commitment turns a sealed blob into the values recorded on the
// ledger: the blob's Keccak-256 hash and encrypted handles for the hash and
// the seal key and nonce, all covered by one validity proof.
package commitment

import (
	"context"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/ethereum/go-ethereum/common"
)

// InstanceProvider hands out the initialized encryption capability
type InstanceProvider interface {
	Instance(ctx context.Context) (*fhe.Instance, error)
}

// Commitment is everything the ledger stores about a sealed blob
type Commitment struct {
	Hash        common.Hash
	HashHandle  fhe.Handle
	KeyHandle   fhe.Handle
	NonceHandle fhe.Handle
	InputProof  []byte
}

// Encoder builds commitments
type Encoder struct {
	provider InstanceProvider
}

// NewEncoder returns an encoder that obtains its capability from provider
func NewEncoder(provider InstanceProvider) *Encoder {
	return &Encoder{provider: provider}
}

// Commit hashes blob and encrypts the hash for contract on behalf of
// submitter.
func (e *Encoder) Commit(
	ctx context.Context,
	blob []byte,
	contract common.Address,
	submitter common.Address,
) (common.Hash, fhe.Handle, []byte, error) {
	hash := seal.Hash(blob)
	inst, err := e.provider.Instance(ctx)
	if err != nil {
		return common.Hash{}, fhe.Handle{}, nil, err
	}
	enc, err := inst.CreateEncryptedInput(contract, submitter).
		Add256(new(big.Int).SetBytes(hash[:])).
		Encrypt(ctx)
	if err != nil {
		return common.Hash{}, fhe.Handle{}, nil, fmt.Errorf("encrypt commitment: %w", err)
	}
	return hash, enc.Handles[0], enc.InputProof, nil
}

// CommitSealed is Commit plus the seal key and nonce, encrypted in the same
// input so a single proof covers all three handles.
func (e *Encoder) CommitSealed(
	ctx context.Context,
	blob []byte,
	key seal.Key,
	nonce seal.Nonce,
	contract common.Address,
	submitter common.Address,
) (*Commitment, error) {
	hash := seal.Hash(blob)
	inst, err := e.provider.Instance(ctx)
	if err != nil {
		return nil, err
	}
	enc, err := inst.CreateEncryptedInput(contract, submitter).
		Add256(new(big.Int).SetBytes(hash[:])).
		Add256(key.Scalar()).
		Add256(nonce.Scalar()).
		Encrypt(ctx)
	if err != nil {
		return nil, fmt.Errorf("encrypt commitment: %w", err)
	}
	return &Commitment{
		Hash:        hash,
		HashHandle:  enc.Handles[0],
		KeyHandle:   enc.Handles[1],
		NonceHandle: enc.Handles[2],
		InputProof:  enc.InputProof,
	}, nil
}
