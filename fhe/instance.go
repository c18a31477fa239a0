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

package fhe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"golang.org/x/crypto/nacl/box"
)

// ValueSize is the byte width of an encrypted 256-bit value
const ValueSize = 32

var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// Instance is an initialized client capability. Obtain one from a Provider.
type Instance struct {
	backend Backend
	params  NetworkParams
	rand    io.Reader
}

// Params returns the network parameters the instance was initialized with
func (i *Instance) Params() NetworkParams {
	return i.params
}

// CreateEncryptedInput starts a batch of values encrypted for contract on
// behalf of user.
func (i *Instance) CreateEncryptedInput(
	contract common.Address,
	user common.Address,
) *InputBuilder {
	return &InputBuilder{
		inst:     i,
		contract: contract,
		user:     user,
	}
}

// GenerateKeypair creates an ephemeral keypair for a user decryption
func (i *Instance) GenerateKeypair() (*Keypair, error) {
	return generateKeypair(i.rand)
}

// CreateEIP712 returns the authorization document for a user decryption
func (i *Instance) CreateEIP712(
	publicKey [32]byte,
	contracts []common.Address,
	start int64,
	durationDays int64,
) apitypes.TypedData {
	return NewUserDecryptTypedData(
		i.params,
		publicKey,
		contracts,
		start,
		durationDays,
	)
}

// UserDecryptRequest is a signed request to decrypt Handles held by
// Contract. The keypair never leaves the process; only its public half is
// sent.
type UserDecryptRequest struct {
	Handles           []Handle
	Contract          common.Address
	User              common.Address
	Keypair           *Keypair
	Signature         []byte
	ContractAddresses []common.Address
	StartTimestamp    int64
	DurationDays      int64
}

// UserDecrypt asks the network to re-encrypt the requested handles to the
// request keypair and returns the opened plaintexts.
func (i *Instance) UserDecrypt(
	ctx context.Context,
	req *UserDecryptRequest,
) (map[Handle]*big.Int, error) {
	if req == nil || req.Keypair == nil {
		return nil, errors.New("fhe: user decrypt request requires a keypair")
	}
	if len(req.Handles) == 0 {
		return map[Handle]*big.Int{}, nil
	}
	sealed, err := i.backend.UserDecrypt(ctx, &DecryptionRequest{
		Handles:           req.Handles,
		Contract:          req.Contract,
		User:              req.User,
		PublicKey:         req.Keypair.Public,
		Signature:         req.Signature,
		ContractAddresses: req.ContractAddresses,
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
	})
	if err != nil {
		return nil, err
	}
	ret := make(map[Handle]*big.Int, len(req.Handles))
	for _, h := range req.Handles {
		value, ok := sealed[h]
		if !ok {
			return nil, fmt.Errorf(
				"%w: no value for handle %s",
				ErrMalformedResponse,
				h,
			)
		}
		plain, err := req.Keypair.Open(value)
		if err != nil {
			return nil, err
		}
		if len(plain) != ValueSize {
			return nil, fmt.Errorf(
				"%w: handle %s opened to %d bytes",
				ErrMalformedResponse,
				h,
				len(plain),
			)
		}
		ret[h] = new(big.Int).SetBytes(plain)
	}
	return ret, nil
}

// InputBuilder accumulates values for one encrypted input
type InputBuilder struct {
	inst     *Instance
	contract common.Address
	user     common.Address
	values   []*big.Int
	err      error
}

// Add256 appends an unsigned 256-bit value
func (b *InputBuilder) Add256(v *big.Int) *InputBuilder {
	if b.err != nil {
		return b
	}
	if v == nil || v.Sign() < 0 || v.Cmp(maxUint256) > 0 {
		b.err = fmt.Errorf("%w: value out of uint256 range", ErrEncryption)
		return b
	}
	b.values = append(b.values, new(big.Int).Set(v))
	return b
}

// Encrypt seals every value to the network key and obtains handles plus a
// single validity proof covering them.
func (b *InputBuilder) Encrypt(ctx context.Context) (*EncryptedInput, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.values) == 0 {
		return nil, fmt.Errorf("%w: no values added", ErrEncryption)
	}
	pub := b.inst.params.PublicKey
	cts := make([][]byte, 0, len(b.values))
	for _, v := range b.values {
		var buf [ValueSize]byte
		v.FillBytes(buf[:])
		ct, err := box.SealAnonymous(nil, buf[:], &pub, b.inst.rand)
		clear(buf[:])
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
		}
		cts = append(cts, ct)
	}
	res, err := b.inst.backend.InputProof(ctx, &InputProofRequest{
		Contract:    b.contract,
		User:        b.user,
		ChainID:     b.inst.params.ChainID,
		Ciphertexts: cts,
	})
	if err != nil {
		if errors.Is(err, ErrRelayerUnavailable) ||
			errors.Is(err, ErrEncryption) ||
			ctx.Err() != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrEncryption, err)
	}
	if len(res.Handles) != len(b.values) {
		return nil, fmt.Errorf(
			"%w: expected %d handles, got %d",
			ErrEncryption,
			len(b.values),
			len(res.Handles),
		)
	}
	if len(res.InputProof) == 0 {
		return nil, fmt.Errorf("%w: empty input proof", ErrEncryption)
	}
	return res, nil
}
