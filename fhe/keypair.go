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
	"crypto/rand"
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"golang.org/x/crypto/nacl/box"
)

// Keypair is an ephemeral X25519 keypair the network re-encrypts
// plaintexts to. It lives for a single disclosure.
type Keypair struct {
	Public  [32]byte
	Private [32]byte
}

// GenerateKeypair creates a fresh ephemeral keypair
func GenerateKeypair() (*Keypair, error) {
	return generateKeypair(rand.Reader)
}

func generateKeypair(r io.Reader) (*Keypair, error) {
	pub, priv, err := box.GenerateKey(r)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	return &Keypair{Public: *pub, Private: *priv}, nil
}

// PublicKeyHex returns the public key as 0x-prefixed hex
func (k *Keypair) PublicKeyHex() string {
	return hexutil.Encode(k.Public[:])
}

// Open decrypts a value sealed to this keypair
func (k *Keypair) Open(sealed []byte) ([]byte, error) {
	out, ok := box.OpenAnonymous(nil, sealed, &k.Public, &k.Private)
	if !ok {
		return nil, fmt.Errorf("%w: sealed value did not open", ErrMalformedResponse)
	}
	return out, nil
}

// Zero overwrites the private key
func (k *Keypair) Zero() {
	if k == nil {
		return
	}
	clear(k.Private[:])
}
