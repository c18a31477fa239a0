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

package fhe_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/fhemock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("no entropy")
}

func newUser(t *testing.T) (*ecdsa.PrivateKey, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key, crypto.PubkeyToAddress(key.PublicKey)
}

func signAuthorization(
	t *testing.T,
	inst *fhe.Instance,
	key *ecdsa.PrivateKey,
	kp *fhe.Keypair,
	start int64,
	days int64,
) []byte {
	t.Helper()
	typed := inst.CreateEIP712(kp.Public, []common.Address{testContract}, start, days)
	digest, err := fhe.TypedDataHash(typed)
	require.NoError(t, err)
	sig, err := crypto.Sign(digest, key)
	require.NoError(t, err)
	sig[crypto.RecoveryIDOffset] += 27
	return sig
}

func newInstance(t *testing.T) (*fhe.Instance, *fhemock.CoProcessor) {
	t.Helper()
	cop, err := fhemock.New()
	require.NoError(t, err)
	inst, err := fhe.NewProvider(cop).Instance(context.Background())
	require.NoError(t, err)
	return inst, cop
}

func TestProviderMemoizes(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	p := fhe.NewProvider(cop)

	var wg sync.WaitGroup
	instances := make([]*fhe.Instance, 16)
	for i := range instances {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := p.Instance(context.Background())
			if err != nil {
				t.Errorf("instance: %v", err)
				return
			}
			instances[i] = inst
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(1), cop.ParamFetches())
	for _, inst := range instances {
		assert.Same(t, instances[0], inst)
	}
	assert.True(t, p.Initialized())
}

func TestProviderFailureNotMemoized(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	p := fhe.NewProvider(cop)

	cop.SetUnavailable(true)
	_, err = p.Instance(context.Background())
	require.ErrorIs(t, err, fhe.ErrRelayerUnavailable)
	assert.False(t, p.Initialized())

	cop.SetUnavailable(false)
	inst, err := p.Instance(context.Background())
	require.NoError(t, err)
	require.NotNil(t, inst)
	assert.Equal(t, int64(1), cop.ParamFetches())

	p.Reset()
	assert.False(t, p.Initialized())
	_, err = p.Instance(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), cop.ParamFetches())
}

// gatedBackend blocks FetchParams until released
type gatedBackend struct {
	fhe.Backend
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (g *gatedBackend) FetchParams(ctx context.Context) (*fhe.NetworkParams, error) {
	g.once.Do(func() { close(g.entered) })
	select {
	case <-g.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return g.Backend.FetchParams(ctx)
}

func TestProviderCallerCancelDoesNotFailOthers(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	backend := &gatedBackend{
		Backend: cop,
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	p := fhe.NewProvider(backend)

	ctxA, cancelA := context.WithCancel(context.Background())
	errA := make(chan error, 1)
	go func() {
		_, err := p.Instance(ctxA)
		errA <- err
	}()
	select {
	case <-backend.entered:
	case <-time.After(2 * time.Second):
		t.Fatal("initialization did not start")
	}

	type result struct {
		inst *fhe.Instance
		err  error
	}
	resB := make(chan result, 1)
	go func() {
		inst, err := p.Instance(context.Background())
		resB <- result{inst, err}
	}()

	cancelA()
	select {
	case err := <-errA:
		require.ErrorIs(t, err, context.Canceled)
		require.NotErrorIs(t, err, fhe.ErrInitialization)
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(backend.release)
	select {
	case res := <-resB:
		require.NoError(t, res.err)
		require.NotNil(t, res.inst)
	case <-time.After(2 * time.Second):
		t.Fatal("second caller did not return")
	}
	assert.True(t, p.Initialized())
	assert.Equal(t, int64(1), cop.ParamFetches())
}

func TestProviderCancelledCallerGetsContextError(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = fhe.NewProvider(cop).Instance(ctx)
	require.ErrorIs(t, err, context.Canceled)
	require.NotErrorIs(t, err, fhe.ErrInitialization)
}

func TestProviderEntropyFailure(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	p := fhe.NewProvider(cop, fhe.WithEntropySource(failingReader{}))
	_, err = p.Instance(context.Background())
	require.ErrorIs(t, err, fhe.ErrInitialization)
	assert.Equal(t, int64(0), cop.ParamFetches())
}

func TestProviderNilBackend(t *testing.T) {
	_, err := fhe.NewProvider(nil).Instance(context.Background())
	require.ErrorIs(t, err, fhe.ErrInitialization)
}

func TestEncryptAndUserDecrypt(t *testing.T) {
	inst, cop := newInstance(t)
	key, user := newUser(t)

	values := []*big.Int{
		big.NewInt(0),
		new(big.Int).Lsh(big.NewInt(1), 255),
		big.NewInt(123456789),
	}
	b := inst.CreateEncryptedInput(testContract, user)
	for _, v := range values {
		b.Add256(v)
	}
	enc, err := b.Encrypt(context.Background())
	require.NoError(t, err)
	require.Len(t, enc.Handles, 3)
	require.NotEmpty(t, enc.InputProof)

	handles, err := cop.VerifyInputProof(enc.InputProof, testContract, user)
	require.NoError(t, err)
	assert.Equal(t, enc.Handles, handles)

	for _, h := range enc.Handles {
		require.NoError(t, cop.Allow(h, user))
		require.NoError(t, cop.Allow(h, testContract))
	}

	kp, err := inst.GenerateKeypair()
	require.NoError(t, err)
	start := time.Now().Unix()
	sig := signAuthorization(t, inst, key, kp, start, 10)

	got, err := inst.UserDecrypt(context.Background(), &fhe.UserDecryptRequest{
		Handles:           enc.Handles,
		Contract:          testContract,
		User:              user,
		Keypair:           kp,
		Signature:         sig,
		ContractAddresses: []common.Address{testContract},
		StartTimestamp:    start,
		DurationDays:      10,
	})
	require.NoError(t, err)
	for i, h := range enc.Handles {
		assert.Equal(t, 0, values[i].Cmp(got[h]), "value %d", i)
	}
}

func TestUserDecryptDenied(t *testing.T) {
	inst, cop := newInstance(t)
	ownerKey, owner := newUser(t)
	strangerKey, stranger := newUser(t)

	enc, err := inst.CreateEncryptedInput(testContract, owner).
		Add256(big.NewInt(7)).
		Encrypt(context.Background())
	require.NoError(t, err)
	h := enc.Handles[0]
	require.NoError(t, cop.Allow(h, owner))
	require.NoError(t, cop.Allow(h, testContract))

	start := time.Now().Unix()
	tests := []struct {
		name  string
		key   *ecdsa.PrivateKey
		user  common.Address
		start int64
	}{
		{name: "not on access list", key: strangerKey, user: stranger, start: start},
		{name: "signature from another key", key: strangerKey, user: owner, start: start},
		{name: "window expired", key: ownerKey, user: owner, start: start - 11*24*60*60},
		{name: "window not started", key: ownerKey, user: owner, start: start + 3600},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			kp, err := inst.GenerateKeypair()
			require.NoError(t, err)
			_, err = inst.UserDecrypt(context.Background(), &fhe.UserDecryptRequest{
				Handles:           []fhe.Handle{h},
				Contract:          testContract,
				User:              tc.user,
				Keypair:           kp,
				Signature:         signAuthorization(t, inst, tc.key, kp, tc.start, 10),
				ContractAddresses: []common.Address{testContract},
				StartTimestamp:    tc.start,
				DurationDays:      10,
			})
			require.ErrorIs(t, err, fhe.ErrAuthorizationDenied)
		})
	}
}

func TestAdd256Range(t *testing.T) {
	inst, _ := newInstance(t)
	_, user := newUser(t)

	tooBig := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := inst.CreateEncryptedInput(testContract, user).
		Add256(tooBig).
		Encrypt(context.Background())
	require.ErrorIs(t, err, fhe.ErrEncryption)

	_, err = inst.CreateEncryptedInput(testContract, user).
		Add256(big.NewInt(-1)).
		Encrypt(context.Background())
	require.ErrorIs(t, err, fhe.ErrEncryption)

	_, err = inst.CreateEncryptedInput(testContract, user).
		Encrypt(context.Background())
	require.ErrorIs(t, err, fhe.ErrEncryption)
}

func TestEncryptRelayerUnavailable(t *testing.T) {
	inst, cop := newInstance(t)
	_, user := newUser(t)
	cop.SetUnavailable(true)
	_, err := inst.CreateEncryptedInput(testContract, user).
		Add256(big.NewInt(1)).
		Encrypt(context.Background())
	require.ErrorIs(t, err, fhe.ErrRelayerUnavailable)
}

func TestProofBoundToUser(t *testing.T) {
	inst, cop := newInstance(t)
	_, user := newUser(t)
	_, other := newUser(t)
	enc, err := inst.CreateEncryptedInput(testContract, user).
		Add256(big.NewInt(1)).
		Encrypt(context.Background())
	require.NoError(t, err)
	_, err = cop.VerifyInputProof(enc.InputProof, testContract, other)
	require.ErrorIs(t, err, fhemock.ErrInvalidProof)
}

func TestKeypairZero(t *testing.T) {
	kp, err := fhe.GenerateKeypair()
	require.NoError(t, err)
	kp.Zero()
	assert.Equal(t, [32]byte{}, kp.Private)
	assert.NotEqual(t, [32]byte{}, kp.Public)
}

func TestParseHandle(t *testing.T) {
	var h fhe.Handle
	h[0] = 0xab
	h[31] = 0x01
	parsed, err := fhe.ParseHandle(h.Hex())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)

	_, err = fhe.ParseHandle("0x1234")
	require.Error(t, err)
	_, err = fhe.ParseHandle("zz")
	require.Error(t, err)
}

func TestTypedDataShape(t *testing.T) {
	inst, _ := newInstance(t)
	kp, err := fhe.GenerateKeypair()
	require.NoError(t, err)
	typed := inst.CreateEIP712(kp.Public, []common.Address{testContract}, 1700000000, 10)
	assert.Equal(t, fhe.DecryptionPrimaryType, typed.PrimaryType)
	assert.Equal(t, "Decryption", typed.Domain.Name)
	assert.Equal(t, "10", typed.Message["durationDays"])
	assert.Equal(t, "1700000000", typed.Message["startTimestamp"])

	a, err := fhe.TypedDataHash(typed)
	require.NoError(t, err)
	other := inst.CreateEIP712(kp.Public, []common.Address{testContract}, 1700000000, 11)
	b, err := fhe.TypedDataHash(other)
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}
