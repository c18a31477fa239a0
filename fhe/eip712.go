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
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DecryptionPrimaryType is the EIP-712 primary type of a user
	// decryption authorization
	DecryptionPrimaryType = "UserDecryptRequestVerification"

	domainName    = "Decryption"
	domainVersion = "1"
)

// NewUserDecryptTypedData builds the EIP-712 document a user signs to
// authorize re-encryption of their values to publicKey. Handles from every
// contract in contracts may be decrypted during the window starting at
// start (unix seconds) and lasting durationDays.
func NewUserDecryptTypedData(
	params NetworkParams,
	publicKey [32]byte,
	contracts []common.Address,
	start int64,
	durationDays int64,
) apitypes.TypedData {
	chainID := params.ChainID
	if chainID == nil {
		chainID = new(big.Int)
	}
	addrs := make([]any, 0, len(contracts))
	for _, c := range contracts {
		addrs = append(addrs, c.Hex())
	}
	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": []apitypes.Type{
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			DecryptionPrimaryType: []apitypes.Type{
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
			},
		},
		PrimaryType: DecryptionPrimaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              domainName,
			Version:           domainVersion,
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).Set(chainID)),
			VerifyingContract: params.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         hexutil.Encode(publicKey[:]),
			"contractAddresses": addrs,
			"startTimestamp":    strconv.FormatInt(start, 10),
			"durationDays":      strconv.FormatInt(durationDays, 10),
		},
	}
}

// TypedDataHash returns the digest a signer signs for typed
func TypedDataHash(typed apitypes.TypedData) ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, err
	}
	return hash, nil
}
