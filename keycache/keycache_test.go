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

package keycache

import (
	"testing"
	"time"

	"github.com/blinklabs-io/privabuild/seal"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testMaterial(b byte) (seal.Key, seal.Nonce) {
	var key seal.Key
	var nonce seal.Nonce
	for i := range key {
		key[i] = b
	}
	for i := range nonce {
		nonce[i] = b + 1
	}
	return key, nonce
}

func TestPutGet(t *testing.T) {
	fixed := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	c := newTestCache(t, WithClock(func() time.Time { return fixed }))
	id := common.Hash{0x01}
	key, nonce := testMaterial(7)

	require.NoError(t, c.Put(id, key, nonce))
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, nonce, got.Nonce)
	assert.True(t, fixed.Equal(got.CachedAt))

	key2, nonce2 := testMaterial(9)
	require.NoError(t, c.Put(id, key2, nonce2))
	got, err = c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, key2, got.Key)
}

func TestGetMissing(t *testing.T) {
	c := newTestCache(t)
	_, err := c.Get(common.Hash{0xee})
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAndIDs(t *testing.T) {
	c := newTestCache(t)
	key, nonce := testMaterial(1)
	ids := []common.Hash{{0x01}, {0x02}, {0x03}}
	for _, id := range ids {
		require.NoError(t, c.Put(id, key, nonce))
	}
	listed, err := c.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, ids, listed)

	require.NoError(t, c.Delete(ids[1]))
	require.NoError(t, c.Delete(common.Hash{0x99}))
	_, err = c.Get(ids[1])
	require.ErrorIs(t, err, ErrNotFound)
	listed, err = c.IDs()
	require.NoError(t, err)
	assert.ElementsMatch(t, []common.Hash{ids[0], ids[2]}, listed)
}

func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	id := common.Hash{0x42}
	key, nonce := testMaterial(3)

	c, err := New(WithDataDir(dir))
	require.NoError(t, err)
	require.NoError(t, c.Put(id, key, nonce))
	require.NoError(t, c.Close())

	c, err = New(WithDataDir(dir))
	require.NoError(t, err)
	defer c.Close()
	got, err := c.Get(id)
	require.NoError(t, err)
	assert.Equal(t, key, got.Key)
	assert.Equal(t, nonce, got.Nonce)
}

func TestCorruptRecord(t *testing.T) {
	c := newTestCache(t)
	id := common.Hash{0x05}
	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(id), []byte(`{"encryptionKey":"AAEC","nonce":"AAEC"}`))
	}))
	_, err := c.Get(id)
	require.ErrorIs(t, err, ErrCorrupt)

	require.NoError(t, c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(id), []byte(`not json`))
	}))
	_, err = c.Get(id)
	require.ErrorIs(t, err, ErrCorrupt)
}

func TestStoreKeyPrefix(t *testing.T) {
	id := common.HexToHash("0xabcdef")
	assert.Equal(t, KeyPrefix+id.Hex(), string(storeKey(id)))
}
