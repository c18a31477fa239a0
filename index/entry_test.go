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

package index

import (
	"reflect"
	"testing"

	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"
)

func genEntry() *rapid.Generator[Entry] {
	return rapid.Custom(func(t *rapid.T) Entry {
		return Entry{
			ID:        common.Hash{byte(rapid.IntRange(0, 15).Draw(t, "id"))},
			Name:      rapid.StringMatching(`[a-z]{1,6}`).Draw(t, "name"),
			Submitter: common.Address{byte(rapid.IntRange(0, 3).Draw(t, "submitter"))},
			CID:       rapid.StringMatching(`baf[a-z2-7]{4}`).Draw(t, "cid"),
			Timestamp: rapid.Uint64Range(0, 20).Draw(t, "ts"),
		}
	})
}

func genTable(t *rapid.T, label string) map[common.Hash]Entry {
	return Merge(nil, rapid.SliceOf(genEntry()).Draw(t, label))
}

func TestMergeIdempotent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := genTable(t, "base")
		batch := rapid.SliceOf(genEntry()).Draw(t, "batch")
		once := Merge(base, batch)
		twice := Merge(once, batch)
		if !reflect.DeepEqual(Sorted(once), Sorted(twice)) {
			t.Fatalf("merge not idempotent")
		}
	})
}

func TestMergeOrderIndependentForDistinctIDs(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := genTable(t, "base")
		a := rapid.SliceOfDistinct(genEntry(), func(e Entry) common.Hash { return e.ID }).Draw(t, "a")
		seen := make(map[common.Hash]bool, len(a))
		for _, e := range a {
			seen[e.ID] = true
		}
		var b []Entry
		for _, e := range rapid.SliceOfDistinct(genEntry(), func(e Entry) common.Hash { return e.ID }).Draw(t, "b") {
			if !seen[e.ID] {
				b = append(b, e)
			}
		}
		ab := Sorted(Merge(Merge(base, a), b))
		ba := Sorted(Merge(Merge(base, b), a))
		if !reflect.DeepEqual(ab, ba) {
			t.Fatalf("merge order dependent")
		}
	})
}

func TestMergeDoesNotModifyInput(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		base := genTable(t, "base")
		before := Sorted(base)
		Merge(base, rapid.SliceOf(genEntry()).Draw(t, "batch"))
		if !reflect.DeepEqual(before, Sorted(base)) {
			t.Fatalf("input table modified")
		}
	})
}

func TestSortedNewestFirst(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		list := Sorted(genTable(t, "table"))
		for i := 1; i < len(list); i++ {
			if list[i-1].Timestamp < list[i].Timestamp {
				t.Fatalf("entry %d newer than entry %d", i, i-1)
			}
		}
	})
}

func TestMergeLaterWins(t *testing.T) {
	id := common.Hash{1}
	table := Merge(nil, []Entry{
		{ID: id, Name: "old", Timestamp: 1},
		{ID: id, Name: "new", Timestamp: 2},
	})
	assert.Len(t, table, 1)
	assert.Equal(t, "new", table[id].Name)
}

func TestEnrichLedgerWins(t *testing.T) {
	ev := ledger.SubmissionEvent{
		ID:          common.Hash{1},
		Builder:     common.Address{2},
		Name:        "event-name",
		CID:         "event-cid",
		Timestamp:   10,
		BlockNumber: 7,
	}
	e := Enrich(ev, &ledger.SubmissionMeta{Name: "ledger-name", Timestamp: 11})
	assert.Equal(t, "ledger-name", e.Name)
	assert.Equal(t, "event-cid", e.CID)
	assert.Equal(t, uint64(11), e.Timestamp)
	assert.Equal(t, common.Address{2}, e.Submitter)
	assert.Equal(t, uint64(7), e.BlockNumber)

	assert.Equal(t, EntryFromEvent(ev), Enrich(ev, nil))
}

func TestTable(t *testing.T) {
	tbl := NewTable()
	alice := common.Address{0xa}
	bob := common.Address{0xb}
	assert.Equal(t, 2, tbl.Upsert(
		Entry{ID: common.Hash{1}, Submitter: alice, Timestamp: 5},
		Entry{ID: common.Hash{2}, Submitter: bob, Timestamp: 9},
	))
	assert.Equal(t, 3, tbl.Upsert(Entry{ID: common.Hash{3}, Submitter: alice, Timestamp: 7}))
	assert.Equal(t, 3, tbl.Upsert(Entry{ID: common.Hash{1}, Submitter: alice, Timestamp: 6}))

	list := tbl.List()
	assert.Equal(t, []common.Hash{{2}, {3}, {1}}, []common.Hash{list[0].ID, list[1].ID, list[2].ID})

	mine := tbl.ListBySubmitter(alice)
	assert.Len(t, mine, 2)
	assert.Equal(t, common.Hash{3}, mine[0].ID)
	assert.Empty(t, tbl.ListBySubmitter(common.Address{0xc}))

	e, ok := tbl.Get(common.Hash{1})
	assert.True(t, ok)
	assert.Equal(t, uint64(6), e.Timestamp)
	assert.Equal(t, 3, tbl.Len())
}

func TestTableUpsertMatchesMerge(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		batches := rapid.SliceOfN(rapid.SliceOf(genEntry()), 1, 5).Draw(t, "batches")
		table := NewTable()
		var want map[common.Hash]Entry
		for _, batch := range batches {
			size := table.Upsert(batch...)
			want = Merge(want, batch)
			if size != len(want) {
				t.Fatalf("size %d, want %d", size, len(want))
			}
		}
		if !reflect.DeepEqual(table.List(), Sorted(want)) {
			t.Fatalf("table %v, want %v", table.List(), Sorted(want))
		}
	})
}
