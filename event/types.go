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

package event

import (
	"github.com/ethereum/go-ethereum/common"
)

const (
	SubmissionIndexedEventType   = Type("submission.indexed")
	SubmissionSealedEventType    = Type("submission.sealed")
	DisclosureCompletedEventType = Type("disclosure.completed")
)

// IndexSource says how an entry reached the index
type IndexSource string

const (
	SourceBackfill IndexSource = "backfill"
	SourceLive     IndexSource = "live"
)

// SubmissionIndexedEvent is published when an entry is added to or
// updated in the submission index.
type SubmissionIndexedEvent struct {
	ID          common.Hash
	Builder     common.Address
	Name        string
	CID         string
	Timestamp   uint64
	BlockNumber uint64
	Source      IndexSource
}

// SubmissionSealedEvent is published after a sealed submission is recorded
// on the ledger.
type SubmissionSealedEvent struct {
	ID      common.Hash
	Builder common.Address
	Name    string
	CID     string
	// Cached reports whether key material was stored in the local cache
	Cached bool
}

// DisclosureCompletedEvent is published when a disclosure finishes. It
// never carries plaintext.
type DisclosureCompletedEvent struct {
	ID       common.Hash
	Reviewer common.Address
	// Verified reports whether the payload matched the on-chain commitment
	Verified bool
	// FromCache reports whether key material came from the local cache
	FromCache bool
}
