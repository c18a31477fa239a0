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

// Package disclosure drives a single user decryption: an ephemeral
// keypair, a signed authorization and one batched decryption request. The
// session is an explicit state machine that only moves forward.
package disclosure

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"math/big"
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

const (
	// DefaultTimeout bounds a single decryption request
	DefaultTimeout = 30 * time.Second
	// DefaultValidityDays is the authorization window length
	DefaultValidityDays = 10
)

var (
	// ErrInvalidTransition is returned when an operation is not valid in
	// the current state
	ErrInvalidTransition = errors.New("disclosure: invalid state transition")
	// ErrCancelled is returned to callers whose session was cancelled
	// while they waited
	ErrCancelled = errors.New("disclosure: session cancelled")
	// ErrFailed is returned when decryption failed for a reason other
	// than denial or timeout
	ErrFailed = errors.New("disclosure: decryption failed")
)

// Signer produces EIP-712 signatures for one address
type Signer interface {
	Address() common.Address
	SignTypedData(ctx context.Context, typed apitypes.TypedData) ([]byte, error)
}

// Decrypter is the part of the encryption capability a session needs.
// *fhe.Instance implements it.
type Decrypter interface {
	GenerateKeypair() (*fhe.Keypair, error)
	CreateEIP712(
		publicKey [32]byte,
		contracts []common.Address,
		start int64,
		durationDays int64,
	) apitypes.TypedData
	UserDecrypt(
		ctx context.Context,
		req *fhe.UserDecryptRequest,
	) (map[fhe.Handle]*big.Int, error)
}

// Option configures a Session
type Option func(*Session)

// WithTimeout overrides the decryption timeout
func WithTimeout(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithValidityDays overrides the authorization window
func WithValidityDays(days int64) Option {
	return func(s *Session) {
		if days > 0 {
			s.validityDays = days
		}
	}
}

// WithClock overrides the time source for the authorization start
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Session is one disclosure attempt against a single contract
type Session struct {
	mu           sync.Mutex
	state        State
	generation   uint64
	dec          Decrypter
	contract     common.Address
	timeout      time.Duration
	validityDays int64
	now          func() time.Time
	logger       *slog.Logger
	keypair      *fhe.Keypair
	typed        apitypes.TypedData
	start        int64
	signature    []byte
	user         common.Address
	cancel       context.CancelFunc
	results      map[fhe.Handle]*big.Int
	err          error
}

// NewSession creates a session decrypting handles held by contract
func NewSession(dec Decrypter, contract common.Address, opts ...Option) *Session {
	s := &Session{
		dec:          dec,
		contract:     contract,
		timeout:      DefaultTimeout,
		validityDays: DefaultValidityDays,
		now:          time.Now,
		logger:       slog.New(slog.NewJSONHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "disclosure")
	return s
}

// State returns the current state
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Err returns the error that moved the session to a failure state
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Results returns the decrypted values once the session is complete
func (s *Session) Results() map[fhe.Handle]*big.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.results)
}

func (s *Session) expect(want State) error {
	if s.state != want {
		return fmt.Errorf(
			"%w: %s requires %s",
			ErrInvalidTransition,
			s.state,
			want,
		)
	}
	return nil
}

func (s *Session) transition(to State) {
	s.logger.Debug(
		"session transition",
		"from", s.state.String(),
		"to", to.String(),
	)
	s.state = to
}

// GenerateKeypair creates the ephemeral keypair
func (s *Session) GenerateKeypair() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateUninitialized); err != nil {
		return err
	}
	kp, err := s.dec.GenerateKeypair()
	if err != nil {
		return fmt.Errorf("generate keypair: %w", err)
	}
	s.keypair = kp
	s.transition(StateKeypairReady)
	return nil
}

// BuildAuthorizationRequest returns the typed data the user must sign. The
// window starts now and covers the session's contract.
func (s *Session) BuildAuthorizationRequest() (apitypes.TypedData, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.expect(StateKeypairReady); err != nil {
		return apitypes.TypedData{}, err
	}
	s.start = s.now().Unix()
	s.typed = s.dec.CreateEIP712(
		s.keypair.Public,
		[]common.Address{s.contract},
		s.start,
		s.validityDays,
	)
	s.transition(StateRequestBuilt)
	return s.typed, nil
}

// Sign obtains the user's signature over the authorization. A signing
// failure leaves the session in RequestBuilt so signing can be retried.
func (s *Session) Sign(ctx context.Context, signer Signer) error {
	s.mu.Lock()
	if err := s.expect(StateRequestBuilt); err != nil {
		s.mu.Unlock()
		return err
	}
	gen := s.generation
	typed := s.typed
	s.mu.Unlock()

	sig, err := signer.SignTypedData(ctx, typed)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		return ErrCancelled
	}
	if err := s.expect(StateRequestBuilt); err != nil {
		return err
	}
	if err != nil {
		return fmt.Errorf("sign authorization: %w", err)
	}
	s.signature = sig
	s.user = signer.Address()
	s.transition(StateSigned)
	return nil
}

// RequestDecryption submits every handle under the one authorization and
// waits up to the session timeout for the plaintexts.
func (s *Session) RequestDecryption(
	ctx context.Context,
	handles []fhe.Handle,
) (map[fhe.Handle]*big.Int, error) {
	s.mu.Lock()
	if err := s.expect(StateSigned); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if len(handles) == 0 {
		s.mu.Unlock()
		return nil, errors.New("disclosure: no handles to decrypt")
	}
	reqCtx, cancel := context.WithTimeout(ctx, s.timeout)
	s.cancel = cancel
	gen := s.generation
	// The request owns a copy so Cancel can wipe the session's keypair
	// while the call is still running
	kp := *s.keypair
	defer kp.Zero()
	req := &fhe.UserDecryptRequest{
		Handles:           handles,
		Contract:          s.contract,
		User:              s.user,
		Keypair:           &kp,
		Signature:         s.signature,
		ContractAddresses: []common.Address{s.contract},
		StartTimestamp:    s.start,
		DurationDays:      s.validityDays,
	}
	s.transition(StatePending)
	s.mu.Unlock()

	results, err := s.dec.UserDecrypt(reqCtx, req)
	deadlineHit := errors.Is(reqCtx.Err(), context.DeadlineExceeded)
	cancel()

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.generation {
		// Cancelled while waiting; the late result is dropped
		return nil, ErrCancelled
	}
	s.cancel = nil
	s.keypair.Zero()
	if err != nil {
		switch {
		case errors.Is(err, fhe.ErrAuthorizationDenied):
			s.err = err
			s.transition(StateDenied)
		case errors.Is(err, fhe.ErrTimedOut) ||
			(deadlineHit && ctx.Err() == nil):
			s.err = fmt.Errorf("%w after %s", fhe.ErrTimedOut, s.timeout)
			s.transition(StateTimedOut)
		case ctx.Err() != nil:
			s.err = fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
			s.transition(StateCancelled)
		default:
			s.err = fmt.Errorf("%w: %w", ErrFailed, err)
			s.transition(StateFailed)
		}
		return nil, s.err
	}
	for _, h := range handles {
		if _, ok := results[h]; !ok {
			s.err = fmt.Errorf("%w: no plaintext for handle %s", ErrFailed, h)
			s.transition(StateFailed)
			return nil, s.err
		}
	}
	s.results = maps.Clone(results)
	s.transition(StateComplete)
	return maps.Clone(results), nil
}

// Cancel moves a non-terminal session to Cancelled, aborts any in-flight
// request and wipes key material. It reports whether a transition happened.
func (s *Session) Cancel() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelLocked()
}

func (s *Session) cancelLocked() bool {
	if s.state.Terminal() {
		return false
	}
	s.generation++
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.wipeLocked()
	s.err = ErrCancelled
	s.transition(StateCancelled)
	return true
}

func (s *Session) wipeLocked() {
	s.keypair.Zero()
	s.keypair = nil
	clear(s.signature)
	s.signature = nil
	s.typed = apitypes.TypedData{}
}

// Reset returns the session to Uninitialized for a fresh attempt. A
// session that is still in progress is cancelled first.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelLocked()
	s.generation++
	s.wipeLocked()
	s.results = nil
	s.err = nil
	s.start = 0
	s.user = common.Address{}
	s.transition(StateUninitialized)
}

// Close discards the session. Any late result is dropped and the session
// is left Uninitialized.
func (s *Session) Close() {
	s.Reset()
}
