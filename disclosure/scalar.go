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

package disclosure

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/blinklabs-io/privabuild/seal"
	"github.com/ethereum/go-ethereum/common"
)

// ErrScalarRange is returned when a decrypted value does not fit the target
var ErrScalarRange = errors.New("disclosure: scalar out of range")

// ScalarToBytes returns v as big-endian bytes left-padded to size
func ScalarToBytes(v *big.Int, size int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative or missing value", ErrScalarRange)
	}
	if (v.BitLen()+7)/8 > size {
		return nil, fmt.Errorf(
			"%w: %d bits does not fit in %d bytes",
			ErrScalarRange,
			v.BitLen(),
			size,
		)
	}
	out := make([]byte, size)
	v.FillBytes(out)
	return out, nil
}

// KeyFromScalar rebuilds a seal key from its decrypted scalar
func KeyFromScalar(v *big.Int) (seal.Key, error) {
	b, err := ScalarToBytes(v, seal.KeySize)
	if err != nil {
		return seal.Key{}, err
	}
	return seal.Key(b), nil
}

// NonceFromScalar rebuilds a seal nonce from its decrypted scalar
func NonceFromScalar(v *big.Int) (seal.Nonce, error) {
	b, err := ScalarToBytes(v, seal.NonceSize)
	if err != nil {
		return seal.Nonce{}, err
	}
	return seal.Nonce(b), nil
}

// HashFromScalar rebuilds a commitment hash from its decrypted scalar
func HashFromScalar(v *big.Int) (common.Hash, error) {
	b, err := ScalarToBytes(v, common.HashLength)
	if err != nil {
		return common.Hash{}, err
	}
	return common.Hash(b), nil
}
