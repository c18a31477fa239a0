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

// Package keystore holds the local wallet key. It signs ledger
// transactions and EIP-712 disclosure authorizations.
package keystore

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

var (
	ErrInsecureFileMode = errors.New("insecure file permissions")
	ErrInvalidKey       = errors.New("invalid wallet key")
	ErrBadPassphrase    = errors.New("wrong wallet passphrase")
	ErrClosed           = errors.New("wallet closed")
)

// Wallet signs with a single secp256k1 key
type Wallet struct {
	mu      sync.RWMutex
	key     *ecdsa.PrivateKey
	address common.Address
	logger  *slog.Logger
}

// Option configures a Wallet
type Option func(*Wallet)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(w *Wallet) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New wraps an existing key
func New(key *ecdsa.PrivateKey, opts ...Option) *Wallet {
	w := &Wallet{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		logger:  slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = w.logger.With("component", "keystore", "address", w.address.Hex())
	return w
}

// Generate returns a wallet with a fresh random key
func Generate(opts ...Option) (*Wallet, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generate wallet key: %w", err)
	}
	return New(key, opts...), nil
}

// LoadFromFile reads a wallet file. Files with group or other access are
// rejected with ErrInsecureFileMode. The passphrase is only used for JSON
// keystore files.
func LoadFromFile(path string, passphrase string, opts ...Option) (*Wallet, error) {
	data, err := readKeyFile(path)
	if err != nil {
		return nil, err
	}
	key, err := parseKey(data, passphrase)
	if err != nil {
		return nil, fmt.Errorf("load wallet file %q: %w", path, err)
	}
	w := New(key, opts...)
	w.logger.Info("loaded wallet key", "path", path)
	return w, nil
}

// SaveToFile writes the key as hex with owner-only permissions
func (w *Wallet) SaveToFile(path string) error {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return ErrClosed
	}
	return writeKeyFile(path, w.key)
}

// Address returns the wallet address
func (w *Wallet) Address() common.Address {
	return w.address
}

// SignTypedData signs EIP-712 typed data. The recovery byte of the
// returned signature is 27 or 28.
func (w *Wallet) SignTypedData(ctx context.Context, typed apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return nil, ErrClosed
	}
	hash, _, err := apitypes.TypedDataAndHash(typed)
	if err != nil {
		return nil, fmt.Errorf("hash typed data: %w", err)
	}
	sig, err := crypto.Sign(hash, w.key)
	if err != nil {
		return nil, fmt.Errorf("sign typed data: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27
	w.logger.Debug("signed typed data", "primary_type", typed.PrimaryType)
	return sig, nil
}

// TransactOpts returns transaction signing options for chainID
func (w *Wallet) TransactOpts(chainID *big.Int) (*bind.TransactOpts, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.key == nil {
		return nil, ErrClosed
	}
	opts, err := bind.NewKeyedTransactorWithChainID(w.key, chainID)
	if err != nil {
		return nil, fmt.Errorf("create transactor: %w", err)
	}
	return opts, nil
}

// Close wipes the private key
func (w *Wallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.key == nil {
		return
	}
	w.key.D.SetInt64(0)
	w.key = nil
}
