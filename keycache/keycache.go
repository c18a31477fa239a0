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

// Package keycache stores seal keys and nonces of the local user's own
// submissions. The cache is a convenience: the ledger stays authoritative
// and anything read from here is verified against the on-chain commitment
// before use.
package keycache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/blinklabs-io/privabuild/seal"
	badger "github.com/dgraph-io/badger/v4"
	"github.com/ethereum/go-ethereum/common"
)

// KeyPrefix is prepended to the submission id to form the store key
const KeyPrefix = "privabuild_enc_"

const gcInterval = 10 * time.Minute

var (
	// ErrNotFound is returned when nothing is cached for an id
	ErrNotFound = errors.New("keycache: not found")
	// ErrCorrupt is returned when a cached record cannot be decoded
	ErrCorrupt = errors.New("keycache: corrupt record")
)

// Entry is the key material of one submission
type Entry struct {
	Key      seal.Key
	Nonce    seal.Nonce
	CachedAt time.Time
}

type record struct {
	EncryptionKey []byte    `json:"encryptionKey"`
	Nonce         []byte    `json:"nonce"`
	CachedAt      time.Time `json:"cachedAt"`
}

// Cache is a badger-backed key cache
type Cache struct {
	db       *badger.DB
	dataDir  string
	logger   *slog.Logger
	now      func() time.Time
	gcTicker *time.Ticker
	gcStopCh chan struct{}
	gcWg     sync.WaitGroup
}

// Option configures a Cache
type Option func(*Cache)

// WithDataDir persists the cache under dir. Without it the cache is
// in memory only.
func WithDataDir(dir string) Option {
	return func(c *Cache) {
		c.dataDir = dir
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithClock sets the time source for CachedAt
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// New opens the cache
func New(opts ...Option) (*Cache, error) {
	c := &Cache{
		logger: slog.New(slog.NewJSONHandler(io.Discard, nil)),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "keycache")
	var badgerOpts badger.Options
	if c.dataDir == "" {
		badgerOpts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if _, err := os.Stat(c.dataDir); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("read cache dir: %w", err)
			}
			if err := os.MkdirAll(c.dataDir, 0o700); err != nil {
				return nil, fmt.Errorf("create cache dir: %w", err)
			}
		}
		badgerOpts = badger.DefaultOptions(c.dataDir)
	}
	badgerOpts = badgerOpts.
		WithLogger(newBadgerLogger(c.logger)).
		WithLoggingLevel(badger.WARNING)
	db, err := badger.Open(badgerOpts)
	if err != nil {
		return nil, fmt.Errorf("open key cache: %w", err)
	}
	c.db = db
	if c.dataDir != "" {
		c.gcTicker = time.NewTicker(gcInterval)
		c.gcStopCh = make(chan struct{})
		c.gcWg.Add(1)
		go c.valueLogGC()
	}
	return c, nil
}

func (c *Cache) valueLogGC() {
	defer c.gcWg.Done()
	for {
		select {
		case <-c.gcTicker.C:
			for {
				err := c.db.RunValueLogGC(0.5)
				if err == nil {
					continue
				}
				if !errors.Is(err, badger.ErrNoRewrite) {
					c.logger.Warn("value log GC failed", "error", err)
				}
				break
			}
		case <-c.gcStopCh:
			return
		}
	}
}

func storeKey(id common.Hash) []byte {
	return []byte(KeyPrefix + id.Hex())
}

// Put caches key material for id, replacing any previous entry
func (c *Cache) Put(id common.Hash, key seal.Key, nonce seal.Nonce) error {
	data, err := json.Marshal(record{
		EncryptionKey: key[:],
		Nonce:         nonce[:],
		CachedAt:      c.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode cache record: %w", err)
	}
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set(storeKey(id), data)
	}); err != nil {
		return fmt.Errorf("write cache record: %w", err)
	}
	c.logger.Debug("cached key material", "id", id.Hex())
	return nil
}

// Get returns the cached key material for id
func (c *Cache) Get(id common.Hash) (*Entry, error) {
	var data []byte
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(storeKey(id))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id.Hex())
		}
		return nil, fmt.Errorf("read cache record: %w", err)
	}
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorrupt, err)
	}
	if len(rec.EncryptionKey) != seal.KeySize || len(rec.Nonce) != seal.NonceSize {
		return nil, fmt.Errorf("%w: bad key or nonce length", ErrCorrupt)
	}
	return &Entry{
		Key:      seal.Key(rec.EncryptionKey),
		Nonce:    seal.Nonce(rec.Nonce),
		CachedAt: rec.CachedAt,
	}, nil
}

// Delete removes the entry for id. Deleting a missing entry is not an error.
func (c *Cache) Delete(id common.Hash) error {
	if err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(storeKey(id))
	}); err != nil {
		return fmt.Errorf("delete cache record: %w", err)
	}
	return nil
}

// IDs lists every cached submission id
func (c *Cache) IDs() ([]common.Hash, error) {
	var ret []common.Hash
	prefix := []byte(KeyPrefix)
	err := c.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := string(it.Item().Key()[len(prefix):])
			ret = append(ret, common.HexToHash(key))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list cache records: %w", err)
	}
	return ret, nil
}

// Close stops background GC and closes the store
func (c *Cache) Close() error {
	if c.gcTicker != nil {
		c.gcTicker.Stop()
		close(c.gcStopCh)
		c.gcWg.Wait()
		c.gcTicker = nil
	}
	return c.db.Close()
}
