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

// Package ledgermock is an in-memory submission registry. It checks input
// proofs and maintains access lists through an fhemock co-processor so the
// whole seal and disclose flow can run in one process.
package ledgermock

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/fhe/fhemock"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
)

// DefaultAddress is the registry address used when none is configured
var DefaultAddress = common.HexToAddress("0x000000000000000000000000000000000000c0de")

var (
	// ErrNotOwner is returned when a non-owner changes an access list
	ErrNotOwner = errors.New("ledgermock: caller is not the submission owner")
	// ErrInvalidRequest is returned for malformed writes
	ErrInvalidRequest = errors.New("ledgermock: invalid request")
)

// EventQuery is one recorded GetSubmissionEvents call
type EventQuery struct {
	From uint64
	To   uint64
}

type submission struct {
	meta      ledger.SubmissionMeta
	handles   [3]fhe.Handle
	reviewers map[common.Address]bool
}

// Registry holds the shared contract state. Use Session to act as a
// particular caller.
type Registry struct {
	mu          sync.Mutex
	address     common.Address
	coproc      *fhemock.CoProcessor
	now         func() time.Time
	block       uint64
	txCount     uint64
	submissions map[ledger.SubmissionID]*submission
	order       []ledger.SubmissionID
	events      []ledger.SubmissionEvent
	queries     []EventQuery
	queryHook   func(from, to uint64) error
	feed        event.Feed
}

// Option configures a Registry
type Option func(*Registry)

// WithAddress sets the registry contract address
func WithAddress(addr common.Address) Option {
	return func(r *Registry) {
		r.address = addr
	}
}

// WithClock sets the time source for submission timestamps
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithStartBlock sets the initial block height
func WithStartBlock(n uint64) Option {
	return func(r *Registry) {
		r.block = n
	}
}

// New returns an empty registry backed by coproc
func New(coproc *fhemock.CoProcessor, opts ...Option) *Registry {
	r := &Registry{
		address:     DefaultAddress,
		coproc:      coproc,
		now:         time.Now,
		submissions: make(map[ledger.SubmissionID]*submission),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Address returns the registry contract address
func (r *Registry) Address() common.Address {
	return r.address
}

// Session returns a ledger.Ledger that sends writes from caller
func (r *Registry) Session(caller common.Address) *Session {
	return &Session{Registry: r, caller: caller}
}

// Mine advances the chain by n empty blocks
func (r *Registry) Mine(n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.block += n
}

// SetEventQueryHook installs a function consulted by every
// GetSubmissionEvents call. A non-nil return fails that call.
func (r *Registry) SetEventQueryHook(hook func(from, to uint64) error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.queryHook = hook
}

// EventQueries returns the ranges queried so far
func (r *Registry) EventQueries() []EventQuery {
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]EventQuery, len(r.queries))
	copy(ret, r.queries)
	return ret
}

// Len returns the number of recorded submissions
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.submissions)
}

// IsReviewer reports whether addr is on the access list of id
func (r *Registry) IsReviewer(id ledger.SubmissionID, addr common.Address) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	return ok && sub.reviewers[addr]
}

// BlockNumber returns the current block height
func (r *Registry) BlockNumber(ctx context.Context) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.block, nil
}

// GetSubmissionMeta returns the record for id
func (r *Registry) GetSubmissionMeta(
	ctx context.Context,
	id ledger.SubmissionID,
) (*ledger.SubmissionMeta, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	meta := sub.meta
	return &meta, nil
}

// GetAllSubmissionIDs lists ids in creation order
func (r *Registry) GetAllSubmissionIDs(ctx context.Context) ([]ledger.SubmissionID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	ret := make([]ledger.SubmissionID, len(r.order))
	copy(ret, r.order)
	return ret, nil
}

// GetSubmissionEvents returns creation events in [from, to]
func (r *Registry) GetSubmissionEvents(
	ctx context.Context,
	from uint64,
	to uint64,
) ([]ledger.SubmissionEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.queries = append(r.queries, EventQuery{From: from, To: to})
	hook := r.queryHook
	r.mu.Unlock()
	if hook != nil {
		if err := hook(from, to); err != nil {
			return nil, err
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var ret []ledger.SubmissionEvent
	for _, ev := range r.events {
		if ev.BlockNumber >= from && ev.BlockNumber <= to {
			ret = append(ret, ev)
		}
	}
	return ret, nil
}

func (r *Registry) handle(id ledger.SubmissionID, idx int) (fhe.Handle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok {
		return fhe.Handle{}, fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())
	}
	return sub.handles[idx], nil
}

// GetEncryptedHashHandle returns the commitment hash handle
func (r *Registry) GetEncryptedHashHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	if err := ctx.Err(); err != nil {
		return fhe.Handle{}, err
	}
	return r.handle(id, 0)
}

// GetEncryptedKeyHandle returns the seal key handle
func (r *Registry) GetEncryptedKeyHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	if err := ctx.Err(); err != nil {
		return fhe.Handle{}, err
	}
	return r.handle(id, 1)
}

// GetEncryptedNonceHandle returns the seal nonce handle
func (r *Registry) GetEncryptedNonceHandle(ctx context.Context, id ledger.SubmissionID) (fhe.Handle, error) {
	if err := ctx.Err(); err != nil {
		return fhe.Handle{}, err
	}
	return r.handle(id, 2)
}

// WatchSubmissions delivers creation events to sink as they are recorded
func (r *Registry) WatchSubmissions(
	ctx context.Context,
	sink chan<- ledger.SubmissionEvent,
) (event.Subscription, error) {
	inner := r.feed.Subscribe(sink)
	return event.NewSubscription(func(quit <-chan struct{}) error {
		defer inner.Unsubscribe()
		select {
		case <-quit:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case err := <-inner.Err():
			return err
		}
	}), nil
}

func (r *Registry) nextTx(caller common.Address) common.Hash {
	r.txCount++
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], r.txCount)
	return crypto.Keccak256Hash(r.address.Bytes(), caller.Bytes(), n[:])
}

func (r *Registry) submit(
	ctx context.Context,
	caller common.Address,
	req *ledger.SubmitRequest,
) (ledger.SubmissionID, error) {
	if err := ctx.Err(); err != nil {
		return ledger.SubmissionID{}, &ledger.WriteError{Op: "submit", Err: err}
	}
	if req == nil || req.Name == "" || req.CID == "" {
		return ledger.SubmissionID{}, &ledger.WriteError{Op: "submit", Err: ErrInvalidRequest}
	}
	handles, err := r.coproc.VerifyInputProof(req.InputProof, r.address, caller)
	if err != nil {
		return ledger.SubmissionID{}, &ledger.WriteError{Op: "submit", Err: err}
	}
	want := [3]fhe.Handle{req.HashHandle, req.KeyHandle, req.NonceHandle}
	if len(handles) != len(want) {
		return ledger.SubmissionID{}, &ledger.WriteError{
			Op:  "submit",
			Err: fmt.Errorf("%w: proof covers %d handles", ErrInvalidRequest, len(handles)),
		}
	}
	for i := range want {
		if handles[i] != want[i] {
			return ledger.SubmissionID{}, &ledger.WriteError{
				Op:  "submit",
				Err: fmt.Errorf("%w: handle %d not covered by proof", ErrInvalidRequest, i),
			}
		}
	}

	r.mu.Lock()
	r.block++
	txHash := r.nextTx(caller)
	id := crypto.Keccak256Hash(caller.Bytes(), []byte(req.Name), []byte(req.CID), txHash.Bytes())
	sub := &submission{
		meta: ledger.SubmissionMeta{
			Name:      req.Name,
			CID:       req.CID,
			Timestamp: uint64(r.now().Unix()), //nolint:gosec // clock is after the epoch
			Builder:   caller,
		},
		handles:   want,
		reviewers: map[common.Address]bool{caller: true},
	}
	grantees := []common.Address{r.address, caller}
	if req.Reviewer != (common.Address{}) {
		sub.reviewers[req.Reviewer] = true
		grantees = append(grantees, req.Reviewer)
	}
	for _, h := range want {
		for _, addr := range grantees {
			if err := r.coproc.Allow(h, addr); err != nil {
				r.mu.Unlock()
				return ledger.SubmissionID{}, &ledger.WriteError{Op: "submit", TxHash: txHash, Err: err}
			}
		}
	}
	r.submissions[id] = sub
	r.order = append(r.order, id)
	ev := ledger.SubmissionEvent{
		ID:          id,
		Builder:     caller,
		Name:        req.Name,
		CID:         req.CID,
		Timestamp:   sub.meta.Timestamp,
		BlockNumber: r.block,
		TxHash:      txHash,
	}
	r.events = append(r.events, ev)
	r.mu.Unlock()

	r.feed.Send(ev)
	return id, nil
}

func (r *Registry) setAccess(
	ctx context.Context,
	op string,
	caller common.Address,
	id ledger.SubmissionID,
	reviewer common.Address,
	grant bool,
) error {
	if err := ctx.Err(); err != nil {
		return &ledger.WriteError{Op: op, Err: err}
	}
	if reviewer == (common.Address{}) {
		return &ledger.WriteError{Op: op, Err: fmt.Errorf("%w: zero reviewer", ErrInvalidRequest)}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	sub, ok := r.submissions[id]
	if !ok {
		return &ledger.WriteError{Op: op, Err: fmt.Errorf("%w: %s", ledger.ErrNotFound, id.Hex())}
	}
	if sub.meta.Builder != caller {
		return &ledger.WriteError{Op: op, Err: ErrNotOwner}
	}
	if !grant && reviewer == sub.meta.Builder {
		return &ledger.WriteError{Op: op, Err: fmt.Errorf("%w: cannot revoke owner", ErrInvalidRequest)}
	}
	r.block++
	r.nextTx(caller)
	for _, h := range sub.handles {
		if grant {
			if err := r.coproc.Allow(h, reviewer); err != nil {
				return &ledger.WriteError{Op: op, Err: err}
			}
		} else {
			r.coproc.Disallow(h, reviewer)
		}
	}
	if grant {
		sub.reviewers[reviewer] = true
	} else {
		delete(sub.reviewers, reviewer)
	}
	return nil
}

// Session is the registry seen by one caller
type Session struct {
	*Registry
	caller common.Address
}

// Caller returns the address writes are sent from
func (s *Session) Caller() common.Address {
	return s.caller
}

// Submit records a submission owned by the session caller
func (s *Session) Submit(ctx context.Context, req *ledger.SubmitRequest) (ledger.SubmissionID, error) {
	return s.submit(ctx, s.caller, req)
}

// GrantAccess adds reviewer to the access list of id
func (s *Session) GrantAccess(ctx context.Context, id ledger.SubmissionID, reviewer common.Address) error {
	return s.setAccess(ctx, "grantAccess", s.caller, id, reviewer, true)
}

// RevokeAccess removes reviewer from the access list of id
func (s *Session) RevokeAccess(ctx context.Context, id ledger.SubmissionID, reviewer common.Address) error {
	return s.setAccess(ctx, "revokeAccess", s.caller, id, reviewer, false)
}
