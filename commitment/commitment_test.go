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

package commitment

import (
	"context"
	"errors"
	"testing"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/fhemock"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	testContract  = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testSubmitter = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

type failingProvider struct {
	err error
}

func (p failingProvider) Instance(context.Context) (*fhe.Instance, error) {
	return nil, p.err
}

func newEncoder(t *testing.T) (*Encoder, *fhemock.CoProcessor) {
	t.Helper()
	cop, err := fhemock.New()
	require.NoError(t, err)
	return NewEncoder(fhe.NewProvider(cop)), cop
}

func TestCommitHashesBlob(t *testing.T) {
	enc, cop := newEncoder(t)
	blob := []byte("sealed blob C")

	hash, handle, proof, err := enc.Commit(
		context.Background(),
		blob,
		testContract,
		testSubmitter,
	)
	require.NoError(t, err)
	assert.Equal(t, crypto.Keccak256Hash(blob), hash)
	assert.False(t, handle.IsZero())
	assert.NotEmpty(t, proof)

	value, ok := cop.Plaintext(handle)
	require.True(t, ok)
	assert.Equal(t, 0, hash.Big().Cmp(value))
}

func TestCommitSealedConsistency(t *testing.T) {
	enc, cop := newEncoder(t)
	payload := []byte(`{"website":"https://x.io","github":"https://github.com/x/y","video":""}`)
	ct, key, nonce, err := seal.Seal(payload)
	require.NoError(t, err)

	c, err := enc.CommitSealed(
		context.Background(),
		ct,
		key,
		nonce,
		testContract,
		testSubmitter,
	)
	require.NoError(t, err)
	assert.Equal(t, seal.Hash(ct), c.Hash)

	handles, err := cop.VerifyInputProof(c.InputProof, testContract, testSubmitter)
	require.NoError(t, err)
	assert.Equal(t, []fhe.Handle{c.HashHandle, c.KeyHandle, c.NonceHandle}, handles)

	h, _ := cop.Plaintext(c.HashHandle)
	k, _ := cop.Plaintext(c.KeyHandle)
	n, _ := cop.Plaintext(c.NonceHandle)
	assert.Equal(t, 0, c.Hash.Big().Cmp(h))
	assert.Equal(t, 0, key.Scalar().Cmp(k))
	assert.Equal(t, 0, nonce.Scalar().Cmp(n))

	assert.True(t, seal.Verify(payload, c.Hash, key, nonce))
}

func TestCommitInitializationFailure(t *testing.T) {
	sentinel := errors.New("boom")
	enc := NewEncoder(failingProvider{err: errors.Join(fhe.ErrInitialization, sentinel)})
	_, _, _, err := enc.Commit(context.Background(), []byte("x"), testContract, testSubmitter)
	require.ErrorIs(t, err, fhe.ErrInitialization)
	_, err = enc.CommitSealed(
		context.Background(),
		[]byte("x"),
		seal.Key{},
		seal.Nonce{},
		testContract,
		testSubmitter,
	)
	require.ErrorIs(t, err, fhe.ErrInitialization)
}

func TestCommitRelayerUnavailable(t *testing.T) {
	enc, cop := newEncoder(t)
	cop.SetUnavailable(true)
	_, _, _, err := enc.Commit(context.Background(), []byte("x"), testContract, testSubmitter)
	require.ErrorIs(t, err, fhe.ErrRelayerUnavailable)
}
