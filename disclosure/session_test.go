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
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/fhemock"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

var testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")

type keySigner struct {
	key *ecdsa.PrivateKey
}

func newKeySigner(t *testing.T) keySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return keySigner{key: key}
}

func (k keySigner) Address() common.Address {
	return crypto.PubkeyToAddress(k.key.PublicKey)
}

func (k keySigner) SignTypedData(
	_ context.Context,
	typed apitypes.TypedData,
) ([]byte, error) {
	digest, err := fhe.TypedDataHash(typed)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest, k.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}

type rejectingSigner struct{}

func (rejectingSigner) Address() common.Address { return common.Address{} }

func (rejectingSigner) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	return nil, errors.New("user rejected request")
}

// stubDecrypter answers UserDecrypt with a caller-supplied function
type stubDecrypter struct {
	decrypt func(ctx context.Context, req *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error)
}

func (stubDecrypter) GenerateKeypair() (*fhe.Keypair, error) {
	return fhe.GenerateKeypair()
}

func (stubDecrypter) CreateEIP712(
	pub [32]byte,
	contracts []common.Address,
	start int64,
	days int64,
) apitypes.TypedData {
	return fhe.NewUserDecryptTypedData(
		fhe.NetworkParams{ChainID: big.NewInt(1)},
		pub,
		contracts,
		start,
		days,
	)
}

func (d stubDecrypter) UserDecrypt(
	ctx context.Context,
	req *fhe.UserDecryptRequest,
) (map[fhe.Handle]*big.Int, error) {
	return d.decrypt(ctx, req)
}

func signedSession(
	t *testing.T,
	dec Decrypter,
	signer Signer,
	opts ...Option,
) *Session {
	t.Helper()
	s := NewSession(dec, testContract, opts...)
	require.NoError(t, s.GenerateKeypair())
	_, err := s.BuildAuthorizationRequest()
	require.NoError(t, err)
	require.NoError(t, s.Sign(context.Background(), signer))
	require.Equal(t, StateSigned, s.State())
	return s
}

func TestSessionCompletesWithBatchedHandles(t *testing.T) {
	cop, err := fhemock.New()
	require.NoError(t, err)
	inst, err := fhe.NewProvider(cop).Instance(context.Background())
	require.NoError(t, err)
	signer := newKeySigner(t)

	enc, err := inst.CreateEncryptedInput(testContract, signer.Address()).
		Add256(big.NewInt(1)).
		Add256(big.NewInt(2)).
		Add256(big.NewInt(3)).
		Encrypt(context.Background())
	require.NoError(t, err)
	for _, h := range enc.Handles {
		require.NoError(t, cop.Allow(h, signer.Address()))
		require.NoError(t, cop.Allow(h, testContract))
	}

	s := signedSession(t, inst, signer)
	got, err := s.RequestDecryption(context.Background(), enc.Handles)
	require.NoError(t, err)
	assert.Equal(t, StateComplete, s.State())
	assert.Equal(t, int64(1), cop.DecryptCalls())
	for i, h := range enc.Handles {
		assert.Equal(t, int64(i+1), got[h].Int64())
	}
	assert.Len(t, s.Results(), 3)
}

func TestSessionRejectsOutOfOrderCalls(t *testing.T) {
	s := NewSession(stubDecrypter{}, testContract)
	_, err := s.BuildAuthorizationRequest()
	require.ErrorIs(t, err, ErrInvalidTransition)
	require.ErrorIs(t, s.Sign(context.Background(), newKeySigner(t)), ErrInvalidTransition)
	_, err = s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StateUninitialized, s.State())

	require.NoError(t, s.GenerateKeypair())
	require.ErrorIs(t, s.GenerateKeypair(), ErrInvalidTransition)
	assert.Equal(t, StateKeypairReady, s.State())
}

func TestSessionAuthorizationWindow(t *testing.T) {
	fixed := time.Unix(1700000000, 0)
	s := NewSession(
		stubDecrypter{},
		testContract,
		WithClock(func() time.Time { return fixed }),
		WithValidityDays(3),
	)
	require.NoError(t, s.GenerateKeypair())
	typed, err := s.BuildAuthorizationRequest()
	require.NoError(t, err)
	assert.Equal(t, "1700000000", typed.Message["startTimestamp"])
	assert.Equal(t, "3", typed.Message["durationDays"])
}

func TestSessionSignFailureIsRetryable(t *testing.T) {
	s := NewSession(stubDecrypter{}, testContract)
	require.NoError(t, s.GenerateKeypair())
	_, err := s.BuildAuthorizationRequest()
	require.NoError(t, err)

	require.Error(t, s.Sign(context.Background(), rejectingSigner{}))
	assert.Equal(t, StateRequestBuilt, s.State())
	require.NoError(t, s.Sign(context.Background(), newKeySigner(t)))
	assert.Equal(t, StateSigned, s.State())
}

func TestSessionDenied(t *testing.T) {
	dec := stubDecrypter{
		decrypt: func(context.Context, *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error) {
			return nil, fhe.ErrAuthorizationDenied
		},
	}
	s := signedSession(t, dec, newKeySigner(t))
	_, err := s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
	require.ErrorIs(t, err, fhe.ErrAuthorizationDenied)
	assert.Equal(t, StateDenied, s.State())

	// terminal: no further transitions
	_, err = s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
	require.ErrorIs(t, err, ErrInvalidTransition)
	assert.False(t, s.Cancel())
	assert.Equal(t, StateDenied, s.State())
}

func TestSessionTimesOut(t *testing.T) {
	defer goleak.VerifyNone(t)
	dec := stubDecrypter{
		decrypt: func(ctx context.Context, _ *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := signedSession(t, dec, newKeySigner(t), WithTimeout(20*time.Millisecond))
	_, err := s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
	require.ErrorIs(t, err, fhe.ErrTimedOut)
	assert.Equal(t, StateTimedOut, s.State())
}

func TestSessionFailure(t *testing.T) {
	dec := stubDecrypter{
		decrypt: func(context.Context, *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error) {
			return map[fhe.Handle]*big.Int{}, nil
		},
	}
	s := signedSession(t, dec, newKeySigner(t))
	_, err := s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
	require.ErrorIs(t, err, ErrFailed)
	assert.Equal(t, StateFailed, s.State())
}

func TestSessionCancelDiscardsLateResult(t *testing.T) {
	defer goleak.VerifyNone(t)
	started := make(chan struct{})
	release := make(chan struct{})
	var seenKey [32]byte
	dec := stubDecrypter{
		decrypt: func(_ context.Context, req *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error) {
			seenKey = req.Keypair.Private
			close(started)
			<-release
			return map[fhe.Handle]*big.Int{{1}: big.NewInt(99)}, nil
		},
	}
	s := signedSession(t, dec, newKeySigner(t))

	type result struct {
		values map[fhe.Handle]*big.Int
		err    error
	}
	done := make(chan result, 1)
	go func() {
		v, err := s.RequestDecryption(context.Background(), []fhe.Handle{{1}})
		done <- result{values: v, err: err}
	}()

	<-started
	assert.Equal(t, StatePending, s.State())
	require.True(t, s.Cancel())
	assert.Equal(t, StateCancelled, s.State())
	close(release)

	res := <-done
	require.ErrorIs(t, res.err, ErrCancelled)
	assert.Nil(t, res.values)
	assert.Nil(t, s.Results())
	assert.NotEqual(t, [32]byte{}, seenKey)

	s.Close()
	assert.Equal(t, StateUninitialized, s.State())
	require.NoError(t, s.GenerateKeypair())
}

func TestSessionCancelBeforeRequest(t *testing.T) {
	s := NewSession(stubDecrypter{}, testContract)
	require.NoError(t, s.GenerateKeypair())
	require.True(t, s.Cancel())
	assert.Equal(t, StateCancelled, s.State())
	require.ErrorIs(t, s.Err(), ErrCancelled)
	_, err := s.BuildAuthorizationRequest()
	require.ErrorIs(t, err, ErrInvalidTransition)

	s.Reset()
	assert.Equal(t, StateUninitialized, s.State())
	assert.NoError(t, s.Err())
}

func TestSessionParentContextCancelled(t *testing.T) {
	dec := stubDecrypter{
		decrypt: func(ctx context.Context, _ *fhe.UserDecryptRequest) (map[fhe.Handle]*big.Int, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	s := signedSession(t, dec, newKeySigner(t))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := s.RequestDecryption(ctx, []fhe.Handle{{1}})
	require.ErrorIs(t, err, ErrCancelled)
	assert.Equal(t, StateCancelled, s.State())
}

func TestStateTerminal(t *testing.T) {
	for _, st := range []State{StateComplete, StateTimedOut, StateDenied, StateFailed, StateCancelled} {
		assert.True(t, st.Terminal(), st.String())
	}
	for _, st := range []State{StateUninitialized, StateKeypairReady, StateRequestBuilt, StateSigned, StatePending} {
		assert.False(t, st.Terminal(), st.String())
	}
	assert.Equal(t, "unknown", State(99).String())
}
