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

// Package index keeps an in-memory table of submissions built from ledger
// creation events, both historical (Backfiller) and live (Subscribe).
package index

import (
	"bytes"
	"slices"
	"sync"

	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
)

// Entry is one indexed submission
type Entry struct {
	ID          common.Hash
	Name        string
	Submitter   common.Address
	CID         string
	Timestamp   uint64
	BlockNumber uint64
}

// EntryFromEvent converts a creation event without consulting the ledger
func EntryFromEvent(ev ledger.SubmissionEvent) Entry {
	return Entry{
		ID:          ev.ID,
		Name:        ev.Name,
		Submitter:   ev.Builder,
		CID:         ev.CID,
		Timestamp:   ev.Timestamp,
		BlockNumber: ev.BlockNumber,
	}
}

// Enrich overlays canonical metadata on an event. Non-empty ledger values
// win and event values fill the gaps. A nil meta yields the event as is.
func Enrich(ev ledger.SubmissionEvent, meta *ledger.SubmissionMeta) Entry {
	e := EntryFromEvent(ev)
	if meta == nil {
		return e
	}
	if meta.Name != "" {
		e.Name = meta.Name
	}
	if meta.CID != "" {
		e.CID = meta.CID
	}
	if meta.Timestamp != 0 {
		e.Timestamp = meta.Timestamp
	}
	if meta.Builder != (common.Address{}) {
		e.Submitter = meta.Builder
	}
	return e
}

// Merge returns a new table with entries upserted into table. Later
// entries for the same id replace earlier ones. The input map is not
// modified.
func Merge(table map[common.Hash]Entry, entries []Entry) map[common.Hash]Entry {
	ret := make(map[common.Hash]Entry, len(table)+len(entries))
	for id, e := range table {
		ret[id] = e
	}
	mergeInto(ret, entries)
	return ret
}

// mergeInto upserts entries into dst in order
func mergeInto(dst map[common.Hash]Entry, entries []Entry) {
	for _, e := range entries {
		dst[e.ID] = e
	}
}

// Sorted lists table newest first. Equal timestamps are ordered by id so
// the result is deterministic.
func Sorted(table map[common.Hash]Entry) []Entry {
	ret := make([]Entry, 0, len(table))
	for _, e := range table {
		ret = append(ret, e)
	}
	slices.SortFunc(ret, compareEntries)
	return ret
}

func compareEntries(a, b Entry) int {
	switch {
	case a.Timestamp > b.Timestamp:
		return -1
	case a.Timestamp < b.Timestamp:
		return 1
	}
	return bytes.Compare(a.ID[:], b.ID[:])
}

// Table is a concurrency-safe index keyed by submission id
type Table struct {
	mu      sync.RWMutex
	entries map[common.Hash]Entry
}

// NewTable returns an empty table
func NewTable() *Table {
	return &Table{entries: make(map[common.Hash]Entry)}
}

// Upsert inserts or replaces entries and returns the new size
func (t *Table) Upsert(entries ...Entry) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	mergeInto(t.entries, entries)
	return len(t.entries)
}

// Get returns the entry for id
func (t *Table) Get(id common.Hash) (Entry, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.entries[id]
	return e, ok
}

// List returns every entry, newest first
func (t *Table) List() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Sorted(t.entries)
}

// ListBySubmitter returns the entries of one submitter, newest first
func (t *Table) ListBySubmitter(submitter common.Address) []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ret := make([]Entry, 0)
	for _, e := range t.entries {
		if e.Submitter == submitter {
			ret = append(ret, e)
		}
	}
	slices.SortFunc(ret, compareEntries)
	return ret
}

// Len returns the number of entries
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}
