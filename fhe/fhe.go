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

// Package fhe is the client side of the homomorphic encryption network.
// It encrypts 256-bit values for a contract, builds user decryption
// authorizations and opens the re-encrypted results. The network itself is
// reached through a Backend.
package fhe

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	// ErrInitialization is returned when the client capability cannot be set up
	ErrInitialization = errors.New("fhe: initialization failed")
	// ErrRelayerUnavailable is returned when the relayer cannot be reached.
	// Callers may retry later.
	ErrRelayerUnavailable = errors.New("fhe: relayer unavailable")
	// ErrEncryption is returned when a value cannot be encrypted or proven
	ErrEncryption = errors.New("fhe: encryption failed")
	// ErrAuthorizationDenied is returned when the network refuses a
	// decryption request
	ErrAuthorizationDenied = errors.New("fhe: authorization denied")
	// ErrTimedOut is returned when decryption does not finish in time
	ErrTimedOut = errors.New("fhe: decryption timed out")
	// ErrMalformedResponse is returned when a relayer answer cannot be used
	ErrMalformedResponse = errors.New("fhe: malformed relayer response")
)

// HandleSize is the length of an encrypted value handle
const HandleSize = 32

// Handle references a ciphertext held by the network
type Handle [HandleSize]byte

// Hex returns the 0x-prefixed hex form of the handle
func (h Handle) Hex() string {
	return hexutil.Encode(h[:])
}

func (h Handle) String() string {
	return h.Hex()
}

// IsZero reports whether the handle is unset
func (h Handle) IsZero() bool {
	return h == Handle{}
}

// ParseHandle parses a 0x-prefixed 32-byte hex handle
func ParseHandle(s string) (Handle, error) {
	raw, err := hexutil.Decode(s)
	if err != nil {
		return Handle{}, fmt.Errorf("parse handle %q: %w", s, err)
	}
	if len(raw) != HandleSize {
		return Handle{}, fmt.Errorf(
			"parse handle %q: expected %d bytes, got %d",
			s,
			HandleSize,
			len(raw),
		)
	}
	return Handle(raw), nil
}

// EncryptedInput is the result of encrypting a batch of values for one
// contract and user. The proof covers every handle in the batch.
type EncryptedInput struct {
	Handles    []Handle
	InputProof []byte
}

// NetworkParams are the public parameters published by the network
type NetworkParams struct {
	// PublicKey is the network key values are encrypted to
	PublicKey [32]byte
	ChainID   *big.Int
	// VerifyingContract is the EIP-712 verifying contract for decryption
	// authorizations
	VerifyingContract common.Address
}

// InputProofRequest asks the network to register encrypted values and
// prove they are well formed.
type InputProofRequest struct {
	Contract    common.Address
	User        common.Address
	ChainID     *big.Int
	Ciphertexts [][]byte
}

// DecryptionRequest asks the network to re-encrypt the plaintexts behind
// Handles to PublicKey. Signature is the user's EIP-712 signature over the
// authorization.
type DecryptionRequest struct {
	Handles           []Handle
	Contract          common.Address
	User              common.Address
	PublicKey         [32]byte
	Signature         []byte
	ContractAddresses []common.Address
	StartTimestamp    int64
	DurationDays      int64
}

// Backend is the network boundary
type Backend interface {
	FetchParams(ctx context.Context) (*NetworkParams, error)
	InputProof(ctx context.Context, req *InputProofRequest) (*EncryptedInput, error)
	// UserDecrypt returns, per handle, the plaintext sealed to the request
	// public key.
	UserDecrypt(ctx context.Context, req *DecryptionRequest) (map[Handle][]byte, error)
}
