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

// Package ledger defines the boundary to the submission registry contract.
// Implementations live in ledger/evm (a deployed contract reached over
// JSON-RPC) and ledger/ledgermock (in memory).
package ledger

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/event"
)

var (
	// ErrNotFound is returned for unknown submission ids
	ErrNotFound = errors.New("ledger: submission not found")
	// ErrLedgerWrite matches every *WriteError
	ErrLedgerWrite = errors.New("ledger: write failed")
	// ErrInvalidID is returned for malformed submission ids
	ErrInvalidID = errors.New("ledger: invalid submission id")
	// ErrReadOnly is returned by writes on a ledger without a signer
	ErrReadOnly = errors.New("ledger: no transactor configured")
)

// SubmissionID identifies a submission on the ledger
type SubmissionID = common.Hash

var idPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ParseSubmissionID parses a 0x-prefixed 32-byte hex id
func ParseSubmissionID(s string) (SubmissionID, error) {
	if !idPattern.MatchString(s) {
		return SubmissionID{}, fmt.Errorf("%w: %q", ErrInvalidID, s)
	}
	return common.HexToHash(s), nil
}

// SubmissionMeta is the canonical public record of a submission
type SubmissionMeta struct {
	Name      string
	CID       string
	Timestamp uint64
	Builder   common.Address
}

// Time returns the submission time
func (m SubmissionMeta) Time() time.Time {
	return time.Unix(int64(m.Timestamp), 0).UTC() //nolint:gosec // ledger timestamps fit in int64
}

// SubmissionEvent is a decoded SubmissionCreated log
type SubmissionEvent struct {
	ID          SubmissionID
	Builder     common.Address
	Name        string
	CID         string
	Timestamp   uint64
	BlockNumber uint64
	TxHash      common.Hash
}

// SubmitRequest carries everything recorded by a submission
type SubmitRequest struct {
	Name        string
	CID         string
	HashHandle  fhe.Handle
	KeyHandle   fhe.Handle
	NonceHandle fhe.Handle
	InputProof  []byte
	// Reviewer is granted access at creation. The zero address means none.
	Reviewer common.Address
}

// Reader is the read side of the registry
type Reader interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GetSubmissionMeta(ctx context.Context, id SubmissionID) (*SubmissionMeta, error)
	GetAllSubmissionIDs(ctx context.Context) ([]SubmissionID, error)
	// GetSubmissionEvents returns creation events in [from, to], inclusive
	GetSubmissionEvents(ctx context.Context, from uint64, to uint64) ([]SubmissionEvent, error)
	GetEncryptedHashHandle(ctx context.Context, id SubmissionID) (fhe.Handle, error)
	GetEncryptedKeyHandle(ctx context.Context, id SubmissionID) (fhe.Handle, error)
	GetEncryptedNonceHandle(ctx context.Context, id SubmissionID) (fhe.Handle, error)
	// WatchSubmissions delivers new creation events to sink until the
	// subscription is closed or ctx is done.
	WatchSubmissions(ctx context.Context, sink chan<- SubmissionEvent) (event.Subscription, error)
}

// Writer is the write side of the registry. Every method waits for the
// transaction to be mined.
type Writer interface {
	Submit(ctx context.Context, req *SubmitRequest) (SubmissionID, error)
	GrantAccess(ctx context.Context, id SubmissionID, reviewer common.Address) error
	RevokeAccess(ctx context.Context, id SubmissionID, reviewer common.Address) error
}

// Ledger is a registry contract at a fixed address
type Ledger interface {
	Reader
	Writer
	Address() common.Address
}

// WriteError reports a failed or reverted transaction
type WriteError struct {
	Op     string
	TxHash common.Hash
	Err    error
}

func (e *WriteError) Error() string {
	if e.TxHash != (common.Hash{}) {
		return fmt.Sprintf("ledger: %s (tx %s) failed: %v", e.Op, e.TxHash.Hex(), e.Err)
	}
	return fmt.Sprintf("ledger: %s failed: %v", e.Op, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}

// Is matches ErrLedgerWrite
func (e *WriteError) Is(target error) bool {
	return target == ErrLedgerWrite
}
