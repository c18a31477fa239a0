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

// Package seal implements the symmetric sealing engine used to protect
// submission payloads before they leave the submitter. Payloads are sealed
// with NaCl secretbox (XSalsa20-Poly1305) under a one-time key and nonce.
package seal

import (
	"bytes"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	// KeySize is the length of a seal key in bytes
	KeySize = 32
	// NonceSize is the length of a seal nonce in bytes
	NonceSize = 24
)

// ErrIntegrity is returned when a sealed blob fails authentication. It is
// never returned for transport failures.
var ErrIntegrity = errors.New("seal: ciphertext failed authentication")

// Key is a one-time secretbox key
type Key [KeySize]byte

// Nonce is a one-time secretbox nonce
type Nonce [NonceSize]byte

// Scalar returns the key as an unsigned big-endian integer, the form used
// when the key is encrypted as a 256-bit value.
func (k Key) Scalar() *big.Int {
	return new(big.Int).SetBytes(k[:])
}

// Zero overwrites the key material
func (k *Key) Zero() {
	clear(k[:])
}

// Scalar returns the nonce as an unsigned big-endian integer
func (n Nonce) Scalar() *big.Int {
	return new(big.Int).SetBytes(n[:])
}

// Zero overwrites the nonce
func (n *Nonce) Zero() {
	clear(n[:])
}

// randReader is swapped in tests to simulate an unusable entropy source
var randReader io.Reader = rand.Reader

// Seal encrypts payload under a freshly generated key and nonce. The caller
// owns the returned key and nonce; they cannot be recovered from the
// ciphertext.
func Seal(payload []byte) ([]byte, Key, Nonce, error) {
	var key Key
	var nonce Nonce
	if _, err := io.ReadFull(randReader, key[:]); err != nil {
		return nil, Key{}, Nonce{}, fmt.Errorf("generate seal key: %w", err)
	}
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		key.Zero()
		return nil, Key{}, Nonce{}, fmt.Errorf("generate seal nonce: %w", err)
	}
	return SealWith(payload, key, nonce), key, nonce, nil
}

// SealWith encrypts payload under the given key and nonce. Sealing is
// deterministic for a fixed key and nonce.
func SealWith(payload []byte, key Key, nonce Nonce) []byte {
	k := [KeySize]byte(key)
	n := [NonceSize]byte(nonce)
	return secretbox.Seal(nil, payload, &n, &k)
}

// Open authenticates and decrypts ciphertext. A wrong key, wrong nonce or
// modified ciphertext all yield ErrIntegrity.
func Open(ciphertext []byte, key Key, nonce Nonce) ([]byte, error) {
	if len(ciphertext) < secretbox.Overhead {
		return nil, fmt.Errorf(
			"%w: ciphertext shorter than authenticator (%d bytes)",
			ErrIntegrity,
			len(ciphertext),
		)
	}
	k := [KeySize]byte(key)
	n := [NonceSize]byte(nonce)
	payload, ok := secretbox.Open(nil, ciphertext, &n, &k)
	if !ok {
		return nil, ErrIntegrity
	}
	return payload, nil
}

// Hash returns the commitment hash (Keccak-256) of a sealed blob
func Hash(ciphertext []byte) common.Hash {
	return crypto.Keccak256Hash(ciphertext)
}

// Verify re-seals payload with the given key and nonce and reports whether
// the hash of the result matches expected.
func Verify(
	payload []byte,
	expected common.Hash,
	key Key,
	nonce Nonce,
) bool {
	actual := Hash(SealWith(payload, key, nonce))
	return bytes.Equal(actual[:], expected[:])
}
