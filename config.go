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

package privabuild

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/blinklabs-io/privabuild/disclosure"
	"github.com/blinklabs-io/privabuild/event"
	"github.com/blinklabs-io/privabuild/fhe"
	"github.com/blinklabs-io/privabuild/keycache"
	"github.com/blinklabs-io/privabuild/ledger"
	"github.com/blinklabs-io/privabuild/seal"
	"github.com/blinklabs-io/privabuild/storage"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
)

// BlobStore is the content-addressed storage boundary. *storage.Client
// implements it.
type BlobStore interface {
	Upload(ctx context.Context, blob []byte, metadata map[string]string) (*storage.UploadResult, error)
	Download(ctx context.Context, cid string) ([]byte, error)
}

// FHEProvider hands out the memoized encryption capability. *fhe.Provider
// implements it.
type FHEProvider interface {
	Instance(ctx context.Context) (*fhe.Instance, error)
}

// KeyCache stores seal keys locally after a successful submission.
// *keycache.Cache implements it.
type KeyCache interface {
	Put(id common.Hash, key seal.Key, nonce seal.Nonce) error
	Get(id common.Hash) (*keycache.Entry, error)
}

type Config struct {
	promRegistry      prometheus.Registerer
	logger            *slog.Logger
	ledger            ledger.Ledger
	storage           BlobStore
	fhe               FHEProvider
	signer            disclosure.Signer
	keyCache          KeyCache
	eventBus          *event.Bus
	decryptionTimeout time.Duration
	validityDays      int64
	now               func() time.Time
}

// ConfigOptionFunc is a functional option for NewConfig
type ConfigOptionFunc func(*Config)

// NewConfig creates a new privabuild config with the specified options
func NewConfig(opts ...ConfigOptionFunc) Config {
	c := Config{
		// Default logger will throw away logs
		// We do this so we don't have to add guards around every log operation
		logger:            slog.New(slog.NewJSONHandler(io.Discard, nil)),
		decryptionTimeout: disclosure.DefaultTimeout,
		validityDays:      disclosure.DefaultValidityDays,
		now:               time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func (c *Config) validate() error {
	if c.ledger == nil {
		return errors.New("no ledger configured")
	}
	if c.storage == nil {
		return errors.New("no storage client configured")
	}
	if c.fhe == nil {
		return errors.New("no encryption provider configured")
	}
	if c.signer == nil {
		return errors.New("no signer configured")
	}
	return nil
}

// WithLogger specifies the logger to use. This defaults to discarding log output
func WithLogger(logger *slog.Logger) ConfigOptionFunc {
	return func(c *Config) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPrometheusRegistry specifies a prometheus.Registerer instance to add metrics to. Metrics are disabled when unset
func WithPrometheusRegistry(registry prometheus.Registerer) ConfigOptionFunc {
	return func(c *Config) {
		c.promRegistry = registry
	}
}

// WithLedger specifies the registry contract the pipelines read and write
func WithLedger(l ledger.Ledger) ConfigOptionFunc {
	return func(c *Config) {
		c.ledger = l
	}
}

// WithStorage specifies the pinning service and gateway client
func WithStorage(s BlobStore) ConfigOptionFunc {
	return func(c *Config) {
		c.storage = s
	}
}

// WithFHEProvider specifies the encryption capability provider
func WithFHEProvider(p FHEProvider) ConfigOptionFunc {
	return func(c *Config) {
		c.fhe = p
	}
}

// WithSigner specifies the wallet that submits and authorizes decryption.
// Its address is the submitter of every sealed submission.
func WithSigner(s disclosure.Signer) ConfigOptionFunc {
	return func(c *Config) {
		c.signer = s
	}
}

// WithKeyCache enables the local key cache
func WithKeyCache(kc KeyCache) ConfigOptionFunc {
	return func(c *Config) {
		c.keyCache = kc
	}
}

// WithEventBus publishes pipeline events on bus
func WithEventBus(bus *event.Bus) ConfigOptionFunc {
	return func(c *Config) {
		c.eventBus = bus
	}
}

// WithDecryptionTimeout overrides the 30 second decryption ceiling
func WithDecryptionTimeout(timeout time.Duration) ConfigOptionFunc {
	return func(c *Config) {
		if timeout > 0 {
			c.decryptionTimeout = timeout
		}
	}
}

// WithValidityDays overrides the length of the decryption authorization window
func WithValidityDays(days int64) ConfigOptionFunc {
	return func(c *Config) {
		if days > 0 {
			c.validityDays = days
		}
	}
}

// WithClock overrides the time source used for upload metadata and authorizations
func WithClock(now func() time.Time) ConfigOptionFunc {
	return func(c *Config) {
		if now != nil {
			c.now = now
		}
	}
}
